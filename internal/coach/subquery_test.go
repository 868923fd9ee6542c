package coach

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPlanParsesAndCleans(t *testing.T) {
	provider := &stubProvider{replies: []string{`{
		"queries": [
			{"id": "Q1", "text": "proposal rubric for RQ quality", "type": "policy", "weight": 0.9},
			{"id": "", "text": "  similar theses on warehouse UX  ", "type": "nonsense", "weight": 7},
			{"id": "Q3", "text": "", "type": "mixed", "weight": 0.5},
			{"id": "Q4", "text": "pitfalls in diary studies", "type": "precedent", "weight": 0.1}
		]
	}`}}
	p := NewLLMPlanner(provider, "m", 6, discardLogger())

	queries, err := p.Plan(context.Background(), "warehouse robot UX thesis", Alignment{Stage: StageProposal})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) != 3 {
		t.Fatalf("expected 3 queries after dropping the empty one, got %d", len(queries))
	}
	if queries[0].Type != SubQueryPolicy || queries[0].Weight != 0.9 {
		t.Fatalf("first query mangled: %+v", queries[0])
	}
	if queries[1].ID == "" {
		t.Fatalf("missing id should be defaulted")
	}
	if queries[1].Type != SubQueryMixed {
		t.Fatalf("unknown type should default to mixed, got %s", queries[1].Type)
	}
	if queries[1].Weight != 1.0 {
		t.Fatalf("weight should clamp to 1.0, got %v", queries[1].Weight)
	}
	if queries[1].Text != "similar theses on warehouse UX" {
		t.Fatalf("text should be trimmed, got %q", queries[1].Text)
	}
	if queries[2].Weight != 0.3 {
		t.Fatalf("weight should clamp to 0.3, got %v", queries[2].Weight)
	}
}

func TestPlanPadsShortLists(t *testing.T) {
	provider := &stubProvider{replies: []string{`{"queries": [{"id": "Q1", "text": "one query only", "type": "policy", "weight": 0.8}]}`}}
	p := NewLLMPlanner(provider, "m", 6, discardLogger())

	queries, err := p.Plan(context.Background(), "line one\nrobot warehouse study", Alignment{Stage: StageProposal})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) != 3 {
		t.Fatalf("expected padding to 3, got %d", len(queries))
	}
	for _, q := range queries[1:] {
		if !strings.Contains(q.Text, "robot warehouse study") {
			t.Fatalf("padding should reuse the last context line, got %q", q.Text)
		}
		if q.Type != SubQueryMixed {
			t.Fatalf("padded query type = %s, want mixed", q.Type)
		}
	}
}

func TestPlanTemplatedFallbackOnProviderError(t *testing.T) {
	provider := &stubProvider{err: errors.New("timeout")}
	p := NewLLMPlanner(provider, "m", 6, discardLogger())

	queries, err := p.Plan(context.Background(), "robot warehouse study", Alignment{Stage: StageMidterm})
	if err != nil {
		t.Fatalf("provider failures must not propagate: %v", err)
	}
	if len(queries) != 3 {
		t.Fatalf("expected templated trio, got %d", len(queries))
	}
	if queries[0].Type != SubQueryPolicy || queries[1].Type != SubQueryPrecedent {
		t.Fatalf("unexpected templated types: %+v", queries)
	}
	if !strings.Contains(queries[0].Text, "midterm") {
		t.Fatalf("templated queries should mention the stage, got %q", queries[0].Text)
	}
}

func TestPlanTemplatedFallbackOnGarbage(t *testing.T) {
	provider := &stubProvider{replies: []string{"here are some ideas for queries..."}}
	p := NewLLMPlanner(provider, "m", 6, discardLogger())

	queries, err := p.Plan(context.Background(), "robot warehouse study", Alignment{Stage: StageProposal})
	if err != nil {
		t.Fatalf("parse failures must not propagate: %v", err)
	}
	if len(queries) != 3 {
		t.Fatalf("expected templated trio, got %d", len(queries))
	}
}

func TestPlanTruncatesToMax(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`{"queries": [`)
	for i := 0; i < 10; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"text": "query variant", "type": "mixed", "weight": 0.5}`)
	}
	sb.WriteString(`]}`)
	provider := &stubProvider{replies: []string{sb.String()}}
	p := NewLLMPlanner(provider, "m", 4, discardLogger())

	queries, _ := p.Plan(context.Background(), "ctx", Alignment{})
	if len(queries) != 4 {
		t.Fatalf("expected truncation to 4, got %d", len(queries))
	}
}

func TestLastContextLine(t *testing.T) {
	t.Parallel()
	if got := lastContextLine("a\nb\nfinal line"); got != "final line" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("x", 200)
	if got := lastContextLine(long); len(got) != 120 {
		t.Fatalf("expected 120-char cap, got %d", len(got))
	}
	if got := lastContextLine("   "); got != "graduation project support" {
		t.Fatalf("blank context should use the generic fallback, got %q", got)
	}
	// A cap landing inside a 3-byte rune must back up to the boundary.
	multibyte := "x" + strings.Repeat("日", 50)
	got := lastContextLine(multibyte)
	if !utf8.ValidString(got) {
		t.Fatalf("cap split a rune: %q", got)
	}
	if len(got) > 120 {
		t.Fatalf("expected cap at 120 bytes, got %d", len(got))
	}
}

func TestTailRunes(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("日", 100)
	got := tailRunes(s, 10)
	if !utf8.ValidString(got) {
		t.Fatalf("window starts mid-rune: %q", got)
	}
	if got != strings.Repeat("日", 3) {
		t.Fatalf("got %q, want the last 3 runes", got)
	}
	if got := tailRunes("short", 10); got != "short" {
		t.Fatalf("short input must pass through, got %q", got)
	}
}
