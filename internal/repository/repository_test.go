package repository

import (
	"context"
	"testing"

	"github.com/ebcs/coach/config"
	"github.com/ebcs/coach/internal/coach"
)

type fakeBackend struct {
	hits       []Hit
	collection string
}

func (f *fakeBackend) Search(_ context.Context, collection string, _ []float32, _ string, _ int) ([]Hit, error) {
	f.collection = collection
	return f.hits, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		PolicyCollection: "policy_docs",
		ThesisCollection: "thesis_segments",
		PolicyFetchLimit: 60,
		ThesisFetchLimit: 80,
		PolicyTopK:       10,
		ThesisTopK:       12,
		Bonuses: config.BonusConfig{
			PolicyStageItem: 0.10,
			PolicyStageDoc:  0.05,
			PolicyModeItem:  0.10,
			PolicyModeDoc:   0.05,
			PolicyGap:       0.05,
			ThesisStage:     0.08,
			ThesisMode:      0.08,
			ThesisModeClass: 0.12,
			ThesisGap:       0.10,
			ThesisRole:      0.02,
		},
	}
}

func TestPolicySearchAppliesStageAndModeBonuses(t *testing.T) {
	backend := &fakeBackend{hits: []Hit{
		{ID: "p1", Score: 0.5, Payload: map[string]string{
			"label": "RQ quality", "item_stage": "proposal", "item_mode": "checklist",
		}},
		{ID: "p2", Score: 0.5, Payload: map[string]string{
			"label": "doc-level match", "doc_stage": "proposal", "doc_mode": "checklist",
		}},
		{ID: "p3", Score: 0.5, Payload: map[string]string{
			"label": "no match", "item_stage": "defense", "item_mode": "critique",
		}},
	}}
	repo := NewPolicyRepository(backend, fakeEmbedder{}, testRetrievalConfig())

	align := coach.Alignment{Stage: coach.StageProposal, Mode: coach.ModeChecklist, Gap: coach.GapProcess}
	cands, err := repo.Search(context.Background(), coach.SubQuery{Text: "rubric"}, align)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.collection != "policy_docs" {
		t.Fatalf("searched collection %q", backend.collection)
	}
	scores := map[string]float64{}
	for _, c := range cands {
		scores[c.Key] = c.Score
	}
	// item-level stage+mode (0.10+0.10) plus gap bonus (process x checklist).
	if got, want := scores["policy:p1"], 0.5+0.10+0.10+0.05; !approx(got, want) {
		t.Fatalf("p1 score = %v, want %v", got, want)
	}
	// doc-level fallback (0.05+0.05) plus gap bonus.
	if got, want := scores["policy:p2"], 0.5+0.05+0.05+0.05; !approx(got, want) {
		t.Fatalf("p2 score = %v, want %v", got, want)
	}
	// mismatched stage/mode still earns the gap bonus.
	if got, want := scores["policy:p3"], 0.5+0.05; !approx(got, want) {
		t.Fatalf("p3 score = %v, want %v", got, want)
	}
	if cands[0].Key != "policy:p1" {
		t.Fatalf("expected the double-bonused item first, got %s", cands[0].Key)
	}
}

func TestThesisSearchAppliesPrecedentBonuses(t *testing.T) {
	backend := &fakeBackend{hits: []Hit{
		{ID: "t1", Score: 0.5, Payload: map[string]string{
			"label": "diary study", "stage": "midterm", "mode": "precedents", "role": "technical_precedent",
		}},
		{ID: "t2", Score: 0.5, Payload: map[string]string{
			"label": "background", "stage": "final", "mode": "diagnose", "role": "context",
		}},
	}}
	repo := NewThesisRepository(backend, fakeEmbedder{}, testRetrievalConfig())

	align := coach.Alignment{Stage: coach.StageMidterm, Mode: coach.ModePrecedents, Gap: coach.GapPrecedent}
	cands, err := repo.Search(context.Background(), coach.SubQuery{Text: "methods"}, align)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.collection != "thesis_segments" {
		t.Fatalf("searched collection %q", backend.collection)
	}
	scores := map[string]float64{}
	for _, c := range cands {
		scores[c.Key] = c.Score
	}
	// stage + mode + mode-class + gap + role bonuses all stack.
	if got, want := scores["thesis:t1"], 0.5+0.08+0.08+0.12+0.10+0.02; !approx(got, want) {
		t.Fatalf("t1 score = %v, want %v", got, want)
	}
	// only the mode-class and gap bonuses apply.
	if got, want := scores["thesis:t2"], 0.5+0.12+0.10; !approx(got, want) {
		t.Fatalf("t2 score = %v, want %v", got, want)
	}
}

func TestSearchTruncatesToTopK(t *testing.T) {
	cfg := testRetrievalConfig()
	cfg.PolicyTopK = 2
	var hits []Hit
	for i := 0; i < 5; i++ {
		hits = append(hits, Hit{ID: string(rune('a' + i)), Score: float64(i) / 10})
	}
	repo := NewPolicyRepository(&fakeBackend{hits: hits}, fakeEmbedder{}, cfg)

	cands, err := repo.Search(context.Background(), coach.SubQuery{Text: "q"}, coach.Alignment{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].Score < cands[1].Score {
		t.Fatalf("candidates not in descending order")
	}
}

func TestPolicyItemFromPayloadFallsBackToDocFields(t *testing.T) {
	t.Parallel()
	item := PolicyItemFromPayload("p1", map[string]string{
		"doc_stage": "greenlight",
		"doc_mode":  "checklist",
	})
	if item.ItemStage != "greenlight" || item.ItemMode != "checklist" {
		t.Fatalf("doc-level fallback missing: %+v", item)
	}
}

func TestThesisSegmentFromPayloadDefaults(t *testing.T) {
	t.Parallel()
	seg := ThesisSegmentFromPayload("t1", map[string]string{
		"description":     "a summary",
		"source_chunk_md": "chunk text",
	})
	if seg.Summary != "a summary" {
		t.Fatalf("summary fallback missing: %+v", seg)
	}
	if seg.Stage != "other" || seg.Mode != "precedents" {
		t.Fatalf("stage/mode defaults missing: %+v", seg)
	}
	if seg.Field != "unknown" || seg.Role != "technical_precedent" {
		t.Fatalf("field/role defaults missing: %+v", seg)
	}
	if seg.Excerpt != "chunk text" {
		t.Fatalf("excerpt fallback missing: %+v", seg)
	}
}

func TestTitleFallbacks(t *testing.T) {
	t.Parallel()
	if got := policyTitle(PolicyItem{ID: "9"}); got != "policy item 9" {
		t.Fatalf("got %q", got)
	}
	if got := policyTitle(PolicyItem{ID: "9", DocTitle: "Handbook"}); got != "Handbook" {
		t.Fatalf("got %q", got)
	}
	if got := thesisTitle(ThesisSegment{ID: "3", Label: "Methods"}); got != "Methods" {
		t.Fatalf("got %q", got)
	}
	if got := thesisExcerpt(ThesisSegment{Summary: "fallback"}); got != "fallback" {
		t.Fatalf("got %q", got)
	}
}

func approx(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
