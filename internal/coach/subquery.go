package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/ebcs/coach/internal/llm"
)

// Planner decomposes accumulated task context into typed, weighted
// sub-queries. Implementations must always return at least 3 queries.
type Planner interface {
	Plan(ctx context.Context, taskContext string, align Alignment) ([]SubQuery, error)
}

// LLMPlanner is the production Planner backed by a judgment model.
type LLMPlanner struct {
	provider   llm.Provider
	model      string
	maxQueries int
	logger     *log.Logger
}

func NewLLMPlanner(provider llm.Provider, model string, maxQueries int, logger *log.Logger) *LLMPlanner {
	if maxQueries < 3 {
		maxQueries = 3
	}
	return &LLMPlanner{provider: provider, model: model, maxQueries: maxQueries, logger: logger}
}

const plannerPromptTemplate = `You are the sub-query planner for a dual-repository retrieval system coaching MSc graduation projects.
Repositories:
- 'policy': official rubrics, graduation handbook pages, stage checklists, templates.
- 'thesis': segments from past MSc theses (methods, metrics, research questions, pitfalls, examples).

Given the student's notes plus the routing (stage/mode/gap), propose 3-%d short English sub-queries for retrieval.
Each sub-query must target one of: 'policy', 'precedent', or 'mixed'.

Guidance:
- Use 'policy' for queries about requirements, assessment criteria, checklists, deadlines, mandatory elements of each stage.
- Use 'precedent' for queries about similar theses, methods, metrics, research questions, data collection, analysis, or typical pitfalls.
- Use 'mixed' when rubrics and precedents are equally important.
- Each query must be narrower than the raw notes: decompose the task, do not restate it.
- Tailor queries to the given stage and mode.

Return ONLY a JSON object like:
{
  "queries": [
     {"id": "Q1", "text": "proposal rubric for research plan and RQ quality", "type": "policy", "weight": 0.9},
     {"id": "Q2", "text": "similar theses about warehouse collaboration and UX metrics", "type": "precedent", "weight": 0.85}
  ]
}

Constraints:
- total queries between 3 and %d;
- 'text' at most 25 words;
- 'type' in ['policy','precedent','mixed'];
- 'weight' is a float in [0.3,1.0] representing importance.
Do NOT include markdown. Output pure JSON.

Routing: stage=%s mode=%s gap=%s
Student notes:
%s`

// Plan implements Planner. Generation or parse failures degrade to a
// deterministic templated set; the fusion stage never sees fewer than 3
// sub-queries.
func (p *LLMPlanner) Plan(ctx context.Context, taskContext string, align Alignment) ([]SubQuery, error) {
	notes := tailRunes(taskContext, 3500)
	prompt := fmt.Sprintf(plannerPromptTemplate,
		p.maxQueries, p.maxQueries, align.Stage, align.Mode, align.Gap, notes)

	var queries []SubQuery
	raw, _, err := p.provider.Generate(ctx, prompt, p.model)
	if err != nil {
		p.logger.Printf("sub-query generation failed, using templated queries: %v", err)
		queries = templatedQueries(taskContext, align.Stage)
	} else {
		queries, err = parseSubQueries(raw)
		if err != nil {
			p.logger.Printf("sub-query output unparseable, using templated queries: %v", err)
			queries = templatedQueries(taskContext, align.Stage)
		}
	}

	cleaned := cleanSubQueries(queries)
	cleaned = padSubQueries(cleaned, taskContext)
	if len(cleaned) > p.maxQueries {
		cleaned = cleaned[:p.maxQueries]
	}
	return cleaned, nil
}

func parseSubQueries(raw string) ([]SubQuery, error) {
	blob, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var out struct {
		Queries []struct {
			ID     string          `json:"id"`
			Text   string          `json:"text"`
			Type   string          `json:"type"`
			Weight json.RawMessage `json:"weight"`
		} `json:"queries"`
	}
	if err := json.Unmarshal([]byte(blob), &out); err != nil {
		return nil, err
	}

	queries := make([]SubQuery, 0, len(out.Queries))
	for _, q := range out.Queries {
		w := 0.7
		if len(q.Weight) > 0 {
			var f float64
			if err := json.Unmarshal(q.Weight, &f); err == nil {
				w = f
			}
		}
		queries = append(queries, SubQuery{
			ID:     q.ID,
			Text:   q.Text,
			Type:   SubQueryType(q.Type),
			Weight: w,
		})
	}
	return queries, nil
}

// cleanSubQueries drops empty texts, defaults unknown types to mixed and
// clamps weights into [0.3, 1.0].
func cleanSubQueries(queries []SubQuery) []SubQuery {
	cleaned := make([]SubQuery, 0, len(queries))
	for i, q := range queries {
		text := strings.TrimSpace(q.Text)
		if text == "" {
			continue
		}
		switch q.Type {
		case SubQueryPolicy, SubQueryPrecedent, SubQueryMixed:
		default:
			q.Type = SubQueryMixed
		}
		if q.Weight < 0.3 {
			q.Weight = 0.3
		}
		if q.Weight > 1.0 {
			q.Weight = 1.0
		}
		if q.ID == "" {
			q.ID = fmt.Sprintf("Q%d", i+1)
		}
		q.Text = text
		cleaned = append(cleaned, q)
	}
	return cleaned
}

// padSubQueries tops a short list up to 3 entries with the last context
// line so fusion always has something to probe with.
func padSubQueries(queries []SubQuery, taskContext string) []SubQuery {
	for len(queries) < 3 {
		queries = append(queries, SubQuery{
			ID:     fmt.Sprintf("Q%d", len(queries)+1),
			Text:   lastContextLine(taskContext),
			Type:   SubQueryMixed,
			Weight: 0.6,
		})
	}
	return queries
}

// templatedQueries is the deterministic fallback probe set tied to the
// current stage.
func templatedQueries(taskContext string, stage Stage) []SubQuery {
	base := lastContextLine(taskContext)
	return []SubQuery{
		{ID: "Q1", Text: fmt.Sprintf("graduation assessment criteria for stage %s", stage), Type: SubQueryPolicy, Weight: 0.9},
		{ID: "Q2", Text: fmt.Sprintf("similar MSc theses and methods about: %s", base), Type: SubQueryPrecedent, Weight: 0.8},
		{ID: "Q3", Text: fmt.Sprintf("process checklist and required deliverables for stage %s", stage), Type: SubQueryPolicy, Weight: 0.7},
	}
}

func lastContextLine(taskContext string) string {
	lines := strings.Split(strings.TrimSpace(taskContext), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	last = headRunes(last, 120)
	if last == "" {
		last = "graduation project support"
	}
	return last
}

// headRunes caps s at max bytes, backing up so a multi-byte rune is
// never split at the cut.
func headRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// tailRunes keeps the last max bytes of s, moving the window start
// forward to the next rune boundary.
func tailRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	start := len(s) - max
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
