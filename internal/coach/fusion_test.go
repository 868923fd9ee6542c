package coach

import (
	"math"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFuseResultsAccumulatesAcrossSubQueries(t *testing.T) {
	t.Parallel()
	doc := Candidate{Key: "policy:rubric-1", Repo: RepoPolicy, Score: 0.8}
	results := []SearchResult{
		{
			Query:      SubQuery{ID: "Q1", Type: SubQueryPolicy, Weight: 1.0},
			Repo:       RepoPolicy,
			Candidates: []Candidate{doc},
		},
		{
			Query:      SubQuery{ID: "Q2", Type: SubQueryMixed, Weight: 0.5},
			Repo:       RepoPolicy,
			Candidates: []Candidate{{Key: "policy:rubric-1", Repo: RepoPolicy, Score: 0.6}},
		},
	}

	fused := FuseResults(results)
	if len(fused) != 1 {
		t.Fatalf("expected 1 fused candidate, got %d", len(fused))
	}
	f := fused["policy:rubric-1"]
	if f.Hits != 2 {
		t.Fatalf("expected 2 hits, got %d", f.Hits)
	}
	// Q1: policy type, policy repo weight 1.0, rank 0 -> 1.0*1.0/61
	// Q2: mixed type, policy repo weight 0.9, rank 0 -> 0.5*0.9/61
	want := 1.0/61.0 + 0.45/61.0
	if !approx(f.RRFScore, want) {
		t.Fatalf("rrf score = %v, want %v", f.RRFScore, want)
	}
	if f.BaseScore != 0.8 {
		t.Fatalf("base score should keep the max appearance, got %v", f.BaseScore)
	}
}

func TestFuseResultsKeepsBestAppearancePayload(t *testing.T) {
	t.Parallel()
	results := []SearchResult{
		{
			Query: SubQuery{ID: "Q1", Type: SubQueryMixed, Weight: 1.0},
			Repo:  RepoThesis,
			Candidates: []Candidate{
				{Key: "thesis:t-9", Repo: RepoThesis, Score: 0.4, Title: "weak match"},
			},
		},
		{
			Query: SubQuery{ID: "Q2", Type: SubQueryPrecedent, Weight: 1.0},
			Repo:  RepoThesis,
			Candidates: []Candidate{
				{Key: "thesis:t-9", Repo: RepoThesis, Score: 0.9, Title: "strong match"},
			},
		},
	}
	fused := FuseResults(results)
	f := fused["thesis:t-9"]
	if f.Title != "strong match" {
		t.Fatalf("expected payload of the best-scoring appearance, got %q", f.Title)
	}
	if f.BaseScore != 0.9 {
		t.Fatalf("base score = %v, want 0.9", f.BaseScore)
	}
}

func TestRepoWeightsBySubQueryType(t *testing.T) {
	t.Parallel()
	cases := []struct {
		typ            SubQueryType
		policy, thesis float64
	}{
		{SubQueryPolicy, 1.0, 0.5},
		{SubQueryPrecedent, 0.6, 1.0},
		{SubQueryMixed, 0.9, 0.9},
		{SubQueryType("bogus"), 0.9, 0.9},
	}
	for _, c := range cases {
		p, th := c.typ.RepoWeights()
		if p != c.policy || th != c.thesis {
			t.Fatalf("%s weights = (%v,%v), want (%v,%v)", c.typ, p, th, c.policy, c.thesis)
		}
	}
}

func TestRankFusedOrdersByCompositeWithKeyTiebreak(t *testing.T) {
	t.Parallel()
	fused := map[string]*FusedCandidate{
		"policy:b": {Candidate: Candidate{Key: "policy:b"}, BaseScore: 0.5, RRFScore: 0.01},
		"policy:a": {Candidate: Candidate{Key: "policy:a"}, BaseScore: 0.5, RRFScore: 0.01},
		"thesis:c": {Candidate: Candidate{Key: "thesis:c"}, BaseScore: 0.9, RRFScore: 0.02},
	}
	ranked := RankFused(fused)
	if ranked[0].Key != "thesis:c" {
		t.Fatalf("expected thesis:c first, got %s", ranked[0].Key)
	}
	if ranked[1].Key != "policy:a" || ranked[2].Key != "policy:b" {
		t.Fatalf("expected key tiebreak a before b, got %s then %s", ranked[1].Key, ranked[2].Key)
	}
}

func TestCompositeAndFinalScores(t *testing.T) {
	t.Parallel()
	f := &FusedCandidate{BaseScore: 0.5, RRFScore: 0.1}
	if !approx(f.Composite(), 0.6*0.5+1.2*0.1) {
		t.Fatalf("composite = %v", f.Composite())
	}
	// Helpfulness zero still keeps half the fused signal.
	if !approx(f.Final(), f.Composite()*0.5) {
		t.Fatalf("final with zero helpfulness = %v, want %v", f.Final(), f.Composite()*0.5)
	}
	f.Helpfulness = 1.0
	if !approx(f.Final(), f.Composite()*1.3) {
		t.Fatalf("final with full helpfulness = %v, want %v", f.Final(), f.Composite()*1.3)
	}
}
