// Package repository adapts the vector-search backends into the scored,
// bonus-weighted evidence sources the retrieval engine consumes.
package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ebcs/coach/config"
	"github.com/ebcs/coach/internal/coach"
)

// Hit is one raw similarity-search result from a backend. Score is the
// backend's similarity, treated as opaque and already normalized enough;
// no renormalization happens here. Payload carries the stored document
// fields; list-valued tags are comma-joined.
type Hit struct {
	ID      string
	Score   float64
	Vector  []float32
	Payload map[string]string
}

// Searcher is the similarity-search contract both backends satisfy.
type Searcher interface {
	Search(ctx context.Context, collection string, queryVector []float32, queryText string, limit int) ([]Hit, error)
}

// Embedder turns sub-query text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// PolicyItem is the typed view of a policy-corpus payload. Item-level
// stage/mode fall back to the document-level fields when absent.
type PolicyItem struct {
	ID          string
	Label       string
	Description string
	RiskLevel   string
	DocTitle    string
	DocStage    string
	DocMode     string
	ItemStage   string
	ItemMode    string
	SourcePath  string
	Excerpt     string
}

func PolicyItemFromPayload(id string, p map[string]string) PolicyItem {
	item := PolicyItem{
		ID:          id,
		Label:       p["label"],
		Description: p["description"],
		RiskLevel:   p["risk_level"],
		DocTitle:    p["doc_title"],
		DocStage:    p["doc_stage"],
		DocMode:     p["doc_mode"],
		ItemStage:   p["item_stage"],
		ItemMode:    p["item_mode"],
		SourcePath:  p["source_path"],
		Excerpt:     p["source_chunk_md"],
	}
	if item.ItemStage == "" {
		item.ItemStage = item.DocStage
	}
	if item.ItemMode == "" {
		item.ItemMode = item.DocMode
	}
	return item
}

// ThesisSegment is the typed view of a thesis-corpus payload.
type ThesisSegment struct {
	ID         string
	Label      string
	Summary    string
	Stage      string
	Mode       string
	Field      string
	Role       string
	DocTitle   string
	SourcePath string
	DomainTags string
	MetricTags string
	Excerpt    string
}

func ThesisSegmentFromPayload(id string, p map[string]string) ThesisSegment {
	seg := ThesisSegment{
		ID:         id,
		Label:      p["label"],
		Summary:    p["summary"],
		Stage:      p["stage"],
		Mode:       p["mode"],
		Field:      p["field"],
		Role:       p["role"],
		DocTitle:   p["doc_title"],
		SourcePath: p["source_path"],
		DomainTags: p["domain_tags"],
		MetricTags: p["metric_tags"],
		Excerpt:    p["raw_excerpt_md"],
	}
	if seg.Summary == "" {
		seg.Summary = p["description"]
	}
	if seg.Stage == "" {
		seg.Stage = p["item_stage"]
	}
	if seg.Stage == "" {
		seg.Stage = "other"
	}
	if seg.Mode == "" {
		seg.Mode = p["item_mode"]
	}
	if seg.Mode == "" {
		seg.Mode = "precedents"
	}
	if seg.Field == "" {
		seg.Field = "unknown"
	}
	if seg.Role == "" {
		seg.Role = "technical_precedent"
	}
	if seg.Excerpt == "" {
		seg.Excerpt = p["source_chunk_md"]
	}
	return seg
}

// PolicyRepository searches the policy corpus and layers deterministic
// stage/mode/gap bonuses over raw similarity. It holds no mutable state
// and is safe to call concurrently.
type PolicyRepository struct {
	backend    Searcher
	embedder   Embedder
	collection string
	fetchLimit int
	topK       int
	bonuses    config.BonusConfig
}

func NewPolicyRepository(backend Searcher, embedder Embedder, cfg config.RetrievalConfig) *PolicyRepository {
	return &PolicyRepository{
		backend:    backend,
		embedder:   embedder,
		collection: cfg.PolicyCollection,
		fetchLimit: cfg.PolicyFetchLimit,
		topK:       cfg.PolicyTopK,
		bonuses:    cfg.Bonuses,
	}
}

func (r *PolicyRepository) Name() coach.SourceRepo { return coach.RepoPolicy }

func (r *PolicyRepository) Search(ctx context.Context, query coach.SubQuery, align coach.Alignment) ([]coach.Candidate, error) {
	hits, err := embedAndSearch(ctx, r.backend, r.embedder, r.collection, query.Text, r.fetchLimit)
	if err != nil {
		return nil, err
	}

	stage, mode, gap := string(align.Stage), string(align.Mode), string(align.Gap)
	candidates := make([]coach.Candidate, 0, len(hits))
	for _, h := range hits {
		item := PolicyItemFromPayload(h.ID, h.Payload)

		bonus := 0.0
		if item.ItemStage == stage {
			bonus += r.bonuses.PolicyStageItem
		} else if item.DocStage == stage {
			bonus += r.bonuses.PolicyStageDoc
		}
		if item.ItemMode == mode {
			bonus += r.bonuses.PolicyModeItem
		} else if item.DocMode == mode {
			bonus += r.bonuses.PolicyModeDoc
		}
		if (gap == "process" || gap == "content") &&
			(mode == "checklist" || mode == "diagnose" || mode == "ethics") {
			bonus += r.bonuses.PolicyGap
		}

		candidates = append(candidates, coach.Candidate{
			Key:     fmt.Sprintf("policy:%s", item.ID),
			Repo:    coach.RepoPolicy,
			Title:   policyTitle(item),
			Excerpt: item.Excerpt,
			Score:   h.Score + bonus,
			Vector:  h.Vector,
			Meta: map[string]string{
				"label":       item.Label,
				"doc_title":   item.DocTitle,
				"stage":       item.ItemStage,
				"mode":        item.ItemMode,
				"risk_level":  item.RiskLevel,
				"source_path": item.SourcePath,
			},
		})
	}
	return sortTruncate(candidates, r.topK), nil
}

// ThesisRepository searches the precedent corpus. Exploration and
// precedent-seeking modes bias toward thesis segments via the mode-class
// bonus.
type ThesisRepository struct {
	backend    Searcher
	embedder   Embedder
	collection string
	fetchLimit int
	topK       int
	bonuses    config.BonusConfig
}

func NewThesisRepository(backend Searcher, embedder Embedder, cfg config.RetrievalConfig) *ThesisRepository {
	return &ThesisRepository{
		backend:    backend,
		embedder:   embedder,
		collection: cfg.ThesisCollection,
		fetchLimit: cfg.ThesisFetchLimit,
		topK:       cfg.ThesisTopK,
		bonuses:    cfg.Bonuses,
	}
}

func (r *ThesisRepository) Name() coach.SourceRepo { return coach.RepoThesis }

func (r *ThesisRepository) Search(ctx context.Context, query coach.SubQuery, align coach.Alignment) ([]coach.Candidate, error) {
	hits, err := embedAndSearch(ctx, r.backend, r.embedder, r.collection, query.Text, r.fetchLimit)
	if err != nil {
		return nil, err
	}

	stage, mode, gap := string(align.Stage), string(align.Mode), string(align.Gap)
	candidates := make([]coach.Candidate, 0, len(hits))
	for _, h := range hits {
		seg := ThesisSegmentFromPayload(h.ID, h.Payload)

		bonus := 0.0
		if seg.Stage == stage {
			bonus += r.bonuses.ThesisStage
		}
		if seg.Mode == mode {
			bonus += r.bonuses.ThesisMode
		}
		if mode == "precedents" || mode == "exploration" {
			bonus += r.bonuses.ThesisModeClass
		}
		if gap == "precedent" {
			bonus += r.bonuses.ThesisGap
		}
		if seg.Role == "technical_precedent" {
			bonus += r.bonuses.ThesisRole
		}

		candidates = append(candidates, coach.Candidate{
			Key:     fmt.Sprintf("thesis:%s", seg.ID),
			Repo:    coach.RepoThesis,
			Title:   thesisTitle(seg),
			Excerpt: thesisExcerpt(seg),
			Score:   h.Score + bonus,
			Vector:  h.Vector,
			Meta: map[string]string{
				"label":       seg.Label,
				"doc_title":   seg.DocTitle,
				"stage":       seg.Stage,
				"mode":        seg.Mode,
				"field":       seg.Field,
				"role":        seg.Role,
				"domain_tags": seg.DomainTags,
				"metric_tags": seg.MetricTags,
				"source_path": seg.SourcePath,
			},
		})
	}
	return sortTruncate(candidates, r.topK), nil
}

func embedAndSearch(ctx context.Context, backend Searcher, embedder Embedder, collection, text string, limit int) ([]Hit, error) {
	vecs, err := embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, nil
	}
	return backend.Search(ctx, collection, vecs[0], text, limit)
}

func sortTruncate(candidates []coach.Candidate, topK int) []coach.Candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Key < candidates[j].Key
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}

func policyTitle(item PolicyItem) string {
	if item.Label != "" {
		return item.Label
	}
	if item.DocTitle != "" {
		return item.DocTitle
	}
	return "policy item " + item.ID
}

func thesisTitle(seg ThesisSegment) string {
	if seg.Label != "" {
		return seg.Label
	}
	if seg.DocTitle != "" {
		return seg.DocTitle
	}
	return "thesis segment " + seg.ID
}

func thesisExcerpt(seg ThesisSegment) string {
	if strings.TrimSpace(seg.Excerpt) != "" {
		return seg.Excerpt
	}
	return seg.Summary
}
