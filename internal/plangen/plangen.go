// Package plangen turns a selected evidence set into a structured coaching
// plan. It consumes the retrieval engine's output and has no influence on
// ranking.
package plangen

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/ebcs/coach/internal/coach"
	"github.com/ebcs/coach/internal/llm"
)

// Recommendation is one evidence-bound piece of advice.
type Recommendation struct {
	Title       string   `json:"title"`
	EvidenceIDs []string `json:"evidence_ids"`
	Reason      string   `json:"reason"`
	Action      string   `json:"action"`
}

// Plan is the structured coaching answer for one turn.
type Plan struct {
	Overview        string           `json:"overview"`
	Recommendations []Recommendation `json:"recommendations"`
	FollowUp        string           `json:"follow_up,omitempty"`
	// Assumed is propagated from the alignment so the caller can disclose
	// that the plan rests on unverified assumptions.
	Assumed bool `json:"assumed,omitempty"`
}

// Generator produces plans from evidence.
type Generator struct {
	provider llm.Provider
	model    string
	logger   *log.Logger
}

func NewGenerator(provider llm.Provider, model string, logger *log.Logger) *Generator {
	return &Generator{provider: provider, model: model, logger: logger}
}

const planPromptTemplate = `You are an evidence-bound, rubric-aligned graduation project coach for MSc students.
You ALWAYS:
  - respect official graduation rubrics, handbooks, and stage checklists;
  - ground your advice in the provided evidence snippets (rubrics + thesis precedents);
  - bind each recommendation to explicit evidence IDs.

Routing for this turn:
- stage = %s
- mode  = %s
- gap   = %s

Produce a coaching plan as a JSON object:
{
  "overview": "2-4 sentences summarizing where the student is, what is stuck, and the main priority",
  "recommendations": [
    {
      "title": "one coherent issue",
      "evidence_ids": ["P1", "T2"],
      "reason": "2-4 sentences on how the cited rubrics and precedents justify this",
      "action": "concrete next steps doable in 30-90 minutes, imperative language"
    }
  ],
  "follow_up": "optional: one focused topic or artefact for the next turn"
}

Guidelines:
- 2-5 recommendations; prefer fewer, deeper recommendations over many superficial tips.
- Stay within the constraints of the evidence; if evidence is thin, say so in the reason.
- Do NOT include markdown. Output pure JSON.

Student's overall description / notes:
%s

New message:
%s

Retrieved evidence snippets with IDs:
%s`

// Generate builds a plan grounded in the evidence cards. A failed call or
// unparseable reply degrades to a minimal plan listing the evidence, never
// an error.
func (g *Generator) Generate(ctx context.Context, userInput, taskContext string, align coach.Alignment, cards []coach.EvidenceCard) Plan {
	prompt := fmt.Sprintf(planPromptTemplate,
		align.Stage, align.Mode, align.Gap,
		taskContext, userInput, evidenceText(cards))

	raw, _, err := g.provider.Generate(ctx, prompt, g.model)
	if err != nil {
		g.logger.Printf("plan generation failed, returning minimal plan: %v", err)
		return fallbackPlan(align, cards)
	}
	plan, err := parsePlan(raw)
	if err != nil {
		g.logger.Printf("plan output unparseable, returning minimal plan: %v", err)
		return fallbackPlan(align, cards)
	}
	plan.Assumed = align.Assumed
	return plan
}

func parsePlan(raw string) (Plan, error) {
	blob, err := coach.ExtractJSON(raw)
	if err != nil {
		return Plan{}, err
	}
	var plan Plan
	if err := json.Unmarshal([]byte(blob), &plan); err != nil {
		return Plan{}, err
	}
	if strings.TrimSpace(plan.Overview) == "" && len(plan.Recommendations) == 0 {
		return Plan{}, fmt.Errorf("empty plan")
	}
	return plan, nil
}

func evidenceText(cards []coach.EvidenceCard) string {
	if len(cards) == 0 {
		return "(no evidence found)"
	}
	var b strings.Builder
	for _, c := range cards {
		fmt.Fprintf(&b, "[%s] %s\n%s\n", c.DisplayID, c.Title, c.Excerpt)
	}
	return b.String()
}

func fallbackPlan(align coach.Alignment, cards []coach.EvidenceCard) Plan {
	ids := make([]string, 0, len(cards))
	for _, c := range cards {
		ids = append(ids, c.DisplayID)
	}
	rec := Recommendation{
		Title:       "Review the retrieved evidence",
		EvidenceIDs: ids,
		Reason:      "The coaching model was unavailable, so the evidence is presented without synthesis.",
		Action:      "Read each snippet and note which rubric slots or precedents apply to your project.",
	}
	return Plan{
		Overview:        fmt.Sprintf("Evidence was retrieved for your %s-stage request, but plan synthesis is temporarily unavailable.", align.Stage),
		Recommendations: []Recommendation{rec},
		Assumed:         align.Assumed,
	}
}
