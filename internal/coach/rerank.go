package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/ebcs/coach/internal/llm"
)

// Reranker judges how helpful each fused candidate is for the student's
// actual request. Verdicts are keyed by candidate key; candidates without a
// verdict keep helpfulness 0.
type Reranker interface {
	Rerank(ctx context.Context, queryText string, candidates []*FusedCandidate) (map[string]RerankJudgment, error)
}

// LLMReranker is the production Reranker backed by a judgment model.
type LLMReranker struct {
	provider llm.Provider
	model    string
	logger   *log.Logger
}

func NewLLMReranker(provider llm.Provider, model string, logger *log.Logger) *LLMReranker {
	return &LLMReranker{provider: provider, model: model, logger: logger}
}

// snippetTruncLen bounds per-candidate judgment-model input.
const snippetTruncLen = 420

const rerankPromptTemplate = `You are a passage selector for an evidence-bound thesis coaching system.
The system uses TWO repositories:
- 'policy': official graduation rubrics, handbooks, stage checklists, templates.
- 'thesis': segments from past MSc theses used as precedents.

Given the student's query and several snippets, estimate how helpful each snippet is for giving actionable, rubric-aligned supervision.

Interpretation of roles:
- 'rubric': assessment criteria, checklists, required elements, templates, risk rules.
- 'precedent': concrete thesis examples (methods, metrics, research questions, pitfalls).
- 'other': background, meta advice, or content not directly usable for actions.

For each candidate, output:
- 'id': same as input id;
- 'helpfulness': float in [0,1] (1 = extremely helpful and specific, 0 = useless/off-topic);
- 'role': one of ['rubric','precedent','other'];
- 'gap_tags': a small list chosen from ['content','process','knowledge','precedent'].

Return ONLY a JSON array, like:
[
  {"id": "policy:12", "helpfulness": 0.93, "role": "rubric", "gap_tags": ["process","content"]},
  {"id": "thesis:7", "helpfulness": 0.81, "role": "precedent", "gap_tags": ["precedent"]}
]

Student query:
%s

Candidates:
%s`

type candidateBrief struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	SourceType string `json:"source_type"`
	Snippet    string `json:"snippet"`
}

// Rerank implements Reranker. Any call or parse failure returns an empty
// verdict map, degrading selection to pure rank-fusion ordering.
func (r *LLMReranker) Rerank(ctx context.Context, queryText string, candidates []*FusedCandidate) (map[string]RerankJudgment, error) {
	if len(candidates) == 0 {
		return map[string]RerankJudgment{}, nil
	}

	briefs := make([]candidateBrief, 0, len(candidates))
	for _, c := range candidates {
		briefs = append(briefs, candidateBrief{
			ID:         c.Key,
			Title:      c.Title,
			SourceType: string(c.Repo),
			Snippet:    truncSnippet(c.Excerpt, snippetTruncLen),
		})
	}
	briefJSON, err := json.Marshal(briefs)
	if err != nil {
		return map[string]RerankJudgment{}, nil
	}

	prompt := fmt.Sprintf(rerankPromptTemplate, queryText, string(briefJSON))
	raw, _, err := r.provider.Generate(ctx, prompt, r.model)
	if err != nil {
		r.logger.Printf("rerank call failed, keeping fusion order: %v", err)
		return map[string]RerankJudgment{}, nil
	}

	verdicts, err := parseJudgments(raw)
	if err != nil {
		r.logger.Printf("rerank output unparseable, keeping fusion order: %v", err)
		return map[string]RerankJudgment{}, nil
	}
	return verdicts, nil
}

func parseJudgments(raw string) (map[string]RerankJudgment, error) {
	blob, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var arr []struct {
		ID          string          `json:"id"`
		Helpfulness json.RawMessage `json:"helpfulness"`
		Role        string          `json:"role"`
		GapTags     json.RawMessage `json:"gap_tags"`
	}
	if err := json.Unmarshal([]byte(blob), &arr); err != nil {
		return nil, err
	}

	verdicts := make(map[string]RerankJudgment, len(arr))
	for _, obj := range arr {
		if obj.ID == "" {
			continue
		}
		h := 0.0
		if len(obj.Helpfulness) > 0 {
			var f float64
			if err := json.Unmarshal(obj.Helpfulness, &f); err == nil {
				h = f
			}
		}
		if h < 0 {
			h = 0
		}
		if h > 1 {
			h = 1
		}
		role := strings.ToLower(strings.TrimSpace(obj.Role))
		switch role {
		case RoleRubric, RolePrecedent:
		default:
			role = RoleOther
		}
		verdicts[obj.ID] = RerankJudgment{
			Key:         obj.ID,
			Helpfulness: h,
			Role:        role,
			GapTags:     parseGapTags(obj.GapTags),
		}
	}
	return verdicts, nil
}

// parseGapTags accepts either a JSON array of strings or a bare string.
func parseGapTags(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(raw, &tags); err == nil {
		return tags
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

// ApplyJudgments copies verdicts onto the candidates by key. Candidates
// without a verdict keep helpfulness 0 and role other.
func ApplyJudgments(candidates []*FusedCandidate, verdicts map[string]RerankJudgment) {
	for _, c := range candidates {
		if v, ok := verdicts[c.Key]; ok {
			c.Helpfulness = v.Helpfulness
			c.Role = v.Role
			c.GapTags = v.GapTags
		}
	}
}

func truncSnippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		return headRunes(s, max-3) + "..."
	}
	return s
}
