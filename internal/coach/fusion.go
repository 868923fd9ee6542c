package coach

import "sort"

const rrfK = 60

// SearchResult is one repository's ordered hit list for one sub-query.
type SearchResult struct {
	Query      SubQuery
	Repo       SourceRepo
	Candidates []Candidate
}

// FuseResults merges the per-sub-query, per-repository hit lists into one
// de-duplicated candidate map using reciprocal-rank fusion. Each hit
// contributes 1/(rrfK+rank+1) scaled by its sub-query weight and the
// repository weight for the sub-query's type. The same document key seen
// from several sub-queries accumulates rrf_score additively and keeps the
// maximum observed base similarity, so documents consistently relevant
// across reformulations rise.
func FuseResults(results []SearchResult) map[string]*FusedCandidate {
	fused := make(map[string]*FusedCandidate)

	for _, res := range results {
		policyW, thesisW := res.Query.Type.RepoWeights()
		repoW := policyW
		if res.Repo == RepoThesis {
			repoW = thesisW
		}
		for rank, cand := range res.Candidates {
			contribution := res.Query.Weight * repoW / float64(rrfK+rank+1)

			entry, ok := fused[cand.Key]
			if !ok {
				entry = &FusedCandidate{Candidate: cand}
				fused[cand.Key] = entry
			}
			entry.RRFScore += contribution
			entry.Hits++
			if cand.Score > entry.BaseScore {
				entry.BaseScore = cand.Score
				// Prefer the payload of the best-scoring appearance.
				entry.Candidate = cand
			}
		}
	}
	return fused
}

// RankFused flattens a fused candidate map into a slice ordered by
// composite score descending, with the key as a deterministic tiebreaker.
func RankFused(fused map[string]*FusedCandidate) []*FusedCandidate {
	out := make([]*FusedCandidate, 0, len(fused))
	for _, c := range fused {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Composite(), out[j].Composite()
		if si != sj {
			return si > sj
		}
		return out[i].Key < out[j].Key
	})
	return out
}
