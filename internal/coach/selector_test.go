package coach

import (
	"testing"

	"github.com/ebcs/coach/config"
)

func testSelector() *Selector {
	return NewSelector(config.SelectionConfig{
		TotalK:          4,
		MinPolicy:       1,
		MinThesis:       2,
		DiversityLambda: 0.4,
		SimilarityGate:  0.85,
	})
}

func fc(key string, repo SourceRepo, base float64, vec []float32) *FusedCandidate {
	return &FusedCandidate{
		Candidate:   Candidate{Key: key, Repo: repo, Vector: vec},
		BaseScore:   base,
		Helpfulness: 0.5,
	}
}

func TestSelectBoundsOutputAndAssignsDisplayIDs(t *testing.T) {
	t.Parallel()
	var cands []*FusedCandidate
	for i := 0; i < 10; i++ {
		repo := RepoPolicy
		if i%2 == 1 {
			repo = RepoThesis
		}
		key := string(repo) + ":" + string(rune('a'+i))
		cands = append(cands, fc(key, repo, 1.0-float64(i)*0.05, nil))
	}
	cards := testSelector().Select(cands)
	if len(cards) != 4 {
		t.Fatalf("expected 4 cards, got %d", len(cards))
	}
	policyN, thesisN := 0, 0
	for _, c := range cards {
		if c.Repo == RepoPolicy {
			policyN++
			want := "P" + string(rune('0'+policyN))
			if c.DisplayID != want {
				t.Fatalf("policy display id = %s, want %s", c.DisplayID, want)
			}
		} else {
			thesisN++
			want := "T" + string(rune('0'+thesisN))
			if c.DisplayID != want {
				t.Fatalf("thesis display id = %s, want %s", c.DisplayID, want)
			}
		}
	}
}

func TestSelectMeetsRepositoryQuotas(t *testing.T) {
	t.Parallel()
	// Policy dominates the top of the ranking; the thesis quota must be met
	// by backfilling lower-ranked thesis candidates.
	cands := []*FusedCandidate{
		fc("policy:a", RepoPolicy, 1.0, nil),
		fc("policy:b", RepoPolicy, 0.95, nil),
		fc("policy:c", RepoPolicy, 0.9, nil),
		fc("policy:d", RepoPolicy, 0.85, nil),
		fc("thesis:x", RepoThesis, 0.2, nil),
		fc("thesis:y", RepoThesis, 0.1, nil),
	}
	cards := testSelector().Select(cands)
	if len(cards) != 4 {
		t.Fatalf("expected 4 cards, got %d", len(cards))
	}
	thesisN := 0
	for _, c := range cards {
		if c.Repo == RepoThesis {
			thesisN++
		}
	}
	if thesisN < 2 {
		t.Fatalf("thesis quota unmet: got %d, want >= 2", thesisN)
	}
}

func TestSelectPenalizesNearDuplicates(t *testing.T) {
	t.Parallel()
	vec := []float32{1, 0, 0}
	other := []float32{0, 1, 0}
	sel := NewSelector(config.SelectionConfig{
		TotalK:          2,
		DiversityLambda: 0.9,
		SimilarityGate:  0.85,
	})
	cands := []*FusedCandidate{
		fc("policy:a", RepoPolicy, 1.0, vec),
		// Identical vector and a score too low to clear the penalty.
		fc("policy:dup", RepoPolicy, 0.3, vec),
		fc("thesis:b", RepoThesis, 0.2, other),
	}
	cards := sel.Select(cands)
	for _, c := range cards {
		if c.Key == "policy:dup" {
			t.Fatalf("near-duplicate should have been suppressed")
		}
	}
	if len(cards) != 2 {
		t.Fatalf("expected the orthogonal candidate to fill the slot, got %d cards", len(cards))
	}
}

func TestSelectEscapeHatchAdmitsDistinctLowScores(t *testing.T) {
	t.Parallel()
	// maxSim below the gate admits a candidate even when the penalized
	// score would be negative.
	sel := NewSelector(config.SelectionConfig{
		TotalK:          3,
		DiversityLambda: 10,
		SimilarityGate:  0.85,
	})
	cands := []*FusedCandidate{
		fc("policy:a", RepoPolicy, 1.0, []float32{1, 0}),
		fc("thesis:b", RepoThesis, 0.05, []float32{0, 1}),
	}
	cards := sel.Select(cands)
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards via the escape hatch, got %d", len(cards))
	}
}

func TestSelectDeterministicOnTies(t *testing.T) {
	t.Parallel()
	cands := []*FusedCandidate{
		fc("policy:b", RepoPolicy, 0.5, nil),
		fc("policy:a", RepoPolicy, 0.5, nil),
	}
	first := testSelector().Select(cands)
	for i := 0; i < 5; i++ {
		again := testSelector().Select([]*FusedCandidate{cands[1], cands[0]})
		if len(again) != len(first) {
			t.Fatalf("run %d: length changed", i)
		}
		for j := range again {
			if again[j].Key != first[j].Key {
				t.Fatalf("run %d: order changed at %d: %s vs %s", i, j, again[j].Key, first[j].Key)
			}
		}
	}
	if first[0].Key != "policy:a" {
		t.Fatalf("tie should break on key, got %s first", first[0].Key)
	}
}

func TestSelectCardMetaCarriesCompositeAndHits(t *testing.T) {
	t.Parallel()
	c := fc("policy:a", RepoPolicy, 1.0, nil)
	c.Hits = 3
	c.Meta = map[string]string{"stage": "proposal"}
	cards := testSelector().Select([]*FusedCandidate{c})
	if len(cards) != 1 {
		t.Fatalf("expected 1 card, got %d", len(cards))
	}
	meta := cards[0].Meta
	if meta["stage"] != "proposal" {
		t.Fatalf("source meta lost: %v", meta)
	}
	if meta["hits"] != "3" {
		t.Fatalf("hits meta = %q", meta["hits"])
	}
	if meta["composite"] == "" {
		t.Fatalf("composite meta missing")
	}
}

func TestSelectEmptyInput(t *testing.T) {
	t.Parallel()
	if cards := testSelector().Select(nil); cards != nil {
		t.Fatalf("expected nil for empty input, got %v", cards)
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()
	if got := cosine([]float32{1, 0}, []float32{1, 0}); !approx(got, 1.0) {
		t.Fatalf("identical vectors cosine = %v", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); !approx(got, 0.0) {
		t.Fatalf("orthogonal vectors cosine = %v", got)
	}
	if got := cosine(nil, []float32{1}); got != 0 {
		t.Fatalf("nil vector cosine = %v", got)
	}
}
