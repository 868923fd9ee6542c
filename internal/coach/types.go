package coach

import (
	"context"
	"errors"
	"time"
)

// Stage is the thesis-lifecycle phase a participant is in.
type Stage string

const (
	StageProposal   Stage = "proposal"
	StageGreenlight Stage = "greenlight"
	StageMidterm    Stage = "midterm"
	StageFinal      Stage = "final"
	StageDefense    Stage = "defense"
	StageOther      Stage = "other"
)

// Mode is the conversational intent category.
type Mode string

const (
	ModeExploration   Mode = "exploration"
	ModePrecedents    Mode = "precedents"
	ModeDiagnose      Mode = "diagnose"
	ModeChecklist     Mode = "checklist"
	ModePlanSynthesis Mode = "plan_synthesis"
	ModeCritique      Mode = "critique"
	ModeEthics        Mode = "ethics"
	ModeDefenseDrill  Mode = "defense_drill"
	ModeOther         Mode = "other"
)

// Gap names the category of missing support the participant needs.
type Gap string

const (
	GapContent   Gap = "content"
	GapProcess   Gap = "process"
	GapKnowledge Gap = "knowledge"
	GapPrecedent Gap = "precedent"
	GapMixed     Gap = "mixed"
	GapUnknown   Gap = "unknown"
)

// Alignment is the routed conversational state. EnoughInfo gates retrieval:
// the pipeline only runs once the router declares the request specific
// enough, or once the clarification budget is exhausted.
type Alignment struct {
	Stage      Stage    `json:"stage"`
	Mode       Mode     `json:"mode"`
	Gap        Gap      `json:"gap"`
	EnoughInfo bool     `json:"enough_info"`
	Missing    []string `json:"missing,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Followup   string   `json:"followup_question,omitempty"`
	// Assumed marks alignments forced ready after the clarification budget
	// ran out; the consuming layer discloses reduced confidence when set.
	Assumed bool `json:"assumed,omitempty"`
}

// DefaultAlignment is the conservative state used when classification
// output cannot be parsed.
func DefaultAlignment() Alignment {
	return Alignment{
		Stage:      StageProposal,
		Mode:       ModeExploration,
		Gap:        GapUnknown,
		EnoughInfo: false,
		Missing:    []string{"domain", "users", "metrics"},
	}
}

// SubQueryType selects how the two repositories are weighted when fusing
// this sub-query's hits.
type SubQueryType string

const (
	SubQueryPolicy    SubQueryType = "policy"
	SubQueryPrecedent SubQueryType = "precedent"
	SubQueryMixed     SubQueryType = "mixed"
)

// RepoWeights returns the (policy, thesis) fusion weights for the type.
func (t SubQueryType) RepoWeights() (policy, thesis float64) {
	switch t {
	case SubQueryPolicy:
		return 1.0, 0.5
	case SubQueryPrecedent:
		return 0.6, 1.0
	default:
		return 0.9, 0.9
	}
}

// SubQuery is one planned retrieval probe, created per turn and consumed
// immediately by retrieval.
type SubQuery struct {
	ID     string       `json:"id"`
	Text   string       `json:"q"`
	Type   SubQueryType `json:"type"`
	Weight float64      `json:"weight"`
}

// SourceRepo identifies which repository a candidate came from.
type SourceRepo string

const (
	RepoPolicy SourceRepo = "policy"
	RepoThesis SourceRepo = "thesis"
)

// Candidate is one scored hit from a repository for a single sub-query.
// Key is "<repo>:<item id>" and is the de-duplication identity across
// sub-queries. Vector is the stored item embedding, used later for the
// diversity penalty; it may be nil when the backend does not return it.
type Candidate struct {
	Key     string
	Repo    SourceRepo
	Title   string
	Excerpt string
	Score   float64
	Vector  []float32
	Meta    map[string]string
}

// FusedCandidate accumulates one document's evidence across sub-queries.
// RRFScore sums the contribution of every (sub-query, rank) appearance;
// BaseScore keeps the maximum single-appearance similarity.
type FusedCandidate struct {
	Candidate
	RRFScore    float64
	BaseScore   float64
	Hits        int
	Helpfulness float64
	Role        string
	GapTags     []string
}

// Composite is the ordering score prior to reranking. The weighting favors
// cross-query consensus over a single high-similarity hit.
func (f *FusedCandidate) Composite() float64 {
	return 0.6*f.BaseScore + 1.2*f.RRFScore
}

// Final is the post-rerank ordering score. Helpfulness modulates but never
// zeroes the fused signal: the floor multiplier is 0.5, so one noisy
// judgment cannot fully discard a structurally well-ranked document.
func (f *FusedCandidate) Final() float64 {
	return f.Composite() * (0.5 + 0.8*f.Helpfulness)
}

// RerankJudgment is one verdict from the judgment model.
type RerankJudgment struct {
	Key         string   `json:"id"`
	Helpfulness float64  `json:"helpfulness"`
	Role        string   `json:"role"`
	GapTags     []string `json:"gap_tags"`
}

// Reranker roles.
const (
	RoleRubric    = "rubric"
	RolePrecedent = "precedent"
	RoleOther     = "other"
)

// EvidenceCard is one selected evidence item as handed to the plan
// generator and the participant.
type EvidenceCard struct {
	DisplayID string            `json:"id"` // P1..Pn / T1..Tn in final order
	Repo      SourceRepo        `json:"source_type"`
	Key       string            `json:"-"`
	Title     string            `json:"title"`
	Excerpt   string            `json:"snippet"`
	Score     float64           `json:"score"`
	Helpful   float64           `json:"helpful"`
	Role      string            `json:"role,omitempty"`
	GapTags   []string          `json:"gap_tags,omitempty"`
	Meta      map[string]string `json:"metadata,omitempty"`
}

// RetrievalResult is the full outcome of one orchestrated retrieval round.
type RetrievalResult struct {
	Alignment  Alignment      `json:"alignment"`
	SubQueries []SubQuery     `json:"subqueries"`
	Evidence   []EvidenceCard `json:"evidence"`
	Elapsed    time.Duration  `json:"-"`
}

// Repository is a searchable evidence corpus. Search embeds and matches the
// sub-query text against its collection and returns candidates with the
// metadata bonuses already applied, sorted by score descending.
// Implementations must be safe to call concurrently for different
// sub-queries.
type Repository interface {
	Name() SourceRepo
	Search(ctx context.Context, query SubQuery, align Alignment) ([]Candidate, error)
}

// ErrNoEvidence is returned when both repositories came back empty for
// every sub-query. An empty corpus on one side only degrades the result; a
// fully empty fused set is surfaced explicitly so the caller can tell it
// apart from "not yet retrieved".
var ErrNoEvidence = errors.New("no evidence found for the request")
