package coach

import (
	"fmt"
	"math"
	"sort"

	"github.com/ebcs/coach/config"
)

// Selector performs quota-constrained, similarity-penalized selection over
// the rescored candidate set and builds the final evidence cards.
type Selector struct {
	totalK         int
	minPolicy      int
	minThesis      int
	lambda         float64
	similarityGate float64
}

func NewSelector(cfg config.SelectionConfig) *Selector {
	return &Selector{
		totalK:         cfg.TotalK,
		minPolicy:      cfg.MinPolicy,
		minThesis:      cfg.MinThesis,
		lambda:         cfg.DiversityLambda,
		similarityGate: cfg.SimilarityGate,
	}
}

// Select picks up to totalK cards maximizing relevance while penalizing
// redundancy, then backfills per-repository quotas when the main loop left
// them unmet. Output is ordered by final score descending with display ids
// assigned sequentially per repository.
func (s *Selector) Select(candidates []*FusedCandidate) []EvidenceCard {
	if len(candidates) == 0 {
		return nil
	}

	sorted := make([]*FusedCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].Final(), sorted[j].Final()
		if si != sj {
			return si > sj
		}
		return sorted[i].Key < sorted[j].Key
	})

	selected := make([]*FusedCandidate, 0, s.totalK)
	taken := make(map[string]bool)

	for _, cand := range sorted {
		if len(selected) >= s.totalK {
			break
		}
		if len(selected) == 0 {
			selected = append(selected, cand)
			taken[cand.Key] = true
			continue
		}
		maxSim := 0.0
		for _, picked := range selected {
			if cand.Vector == nil || picked.Vector == nil {
				continue
			}
			if sim := cosine(cand.Vector, picked.Vector); sim > maxSim {
				maxSim = sim
			}
		}
		// MMR acceptance with an escape hatch: clearly distinct items are
		// never blocked purely by the diversity penalty.
		if cand.Final()-s.lambda*maxSim > 0 || maxSim < s.similarityGate {
			selected = append(selected, cand)
			taken[cand.Key] = true
		}
	}

	selected = s.backfill(selected, sorted, taken, RepoPolicy, s.minPolicy)
	selected = s.backfill(selected, sorted, taken, RepoThesis, s.minThesis)

	sort.SliceStable(selected, func(i, j int) bool {
		si, sj := selected[i].Final(), selected[j].Final()
		if si != sj {
			return si > sj
		}
		return selected[i].Key < selected[j].Key
	})
	if len(selected) > s.totalK {
		selected = s.trimToQuota(selected)
	}

	return buildCards(selected)
}

// backfill appends the highest-scoring unselected candidates of one
// repository until its quota is met or the pool runs out. This may push the
// intermediate set past totalK; the caller re-sorts and truncates.
func (s *Selector) backfill(selected, sorted []*FusedCandidate, taken map[string]bool, repo SourceRepo, quota int) []*FusedCandidate {
	count := 0
	for _, c := range selected {
		if c.Repo == repo {
			count++
		}
	}
	for _, cand := range sorted {
		if count >= quota {
			break
		}
		if taken[cand.Key] || cand.Repo != repo {
			continue
		}
		selected = append(selected, cand)
		taken[cand.Key] = true
		count++
	}
	return selected
}

// trimToQuota cuts an over-full selection back to totalK without dropping
// below either repository quota: the lowest-scoring candidates of repos
// with slack are removed first. Config validation guarantees the quotas
// themselves fit inside totalK.
func (s *Selector) trimToQuota(selected []*FusedCandidate) []*FusedCandidate {
	counts := map[SourceRepo]int{}
	for _, c := range selected {
		counts[c.Repo]++
	}
	quotas := map[SourceRepo]int{RepoPolicy: s.minPolicy, RepoThesis: s.minThesis}
	for i := len(selected) - 1; i >= 0 && len(selected) > s.totalK; i-- {
		repo := selected[i].Repo
		if counts[repo] <= quotas[repo] {
			continue
		}
		counts[repo]--
		selected = append(selected[:i], selected[i+1:]...)
	}
	if len(selected) > s.totalK {
		selected = selected[:s.totalK]
	}
	return selected
}

func buildCards(selected []*FusedCandidate) []EvidenceCard {
	cards := make([]EvidenceCard, 0, len(selected))
	policyN, thesisN := 0, 0
	for _, c := range selected {
		var displayID string
		if c.Repo == RepoPolicy {
			policyN++
			displayID = fmt.Sprintf("P%d", policyN)
		} else {
			thesisN++
			displayID = fmt.Sprintf("T%d", thesisN)
		}
		meta := make(map[string]string, len(c.Meta)+2)
		for k, v := range c.Meta {
			meta[k] = v
		}
		meta["composite"] = fmt.Sprintf("%.4f", c.Composite())
		meta["hits"] = fmt.Sprintf("%d", c.Hits)

		cards = append(cards, EvidenceCard{
			DisplayID: displayID,
			Repo:      c.Repo,
			Key:       c.Key,
			Title:     c.Title,
			Excerpt:   c.Excerpt,
			Score:     c.Final(),
			Helpful:   c.Helpfulness,
			Role:      c.Role,
			GapTags:   c.GapTags,
			Meta:      meta,
		})
	}
	return cards
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
