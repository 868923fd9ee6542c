package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/ebcs/coach/internal/llm"
)

// Router classifies accumulated conversation context into an Alignment and,
// when the context is still too thin, produces one clarification question.
type Router interface {
	Route(ctx context.Context, conversation string) (Alignment, error)
}

// LLMRouter is the production Router backed by a judgment model.
type LLMRouter struct {
	provider llm.Provider
	model    string
	logger   *log.Logger
}

func NewLLMRouter(provider llm.Provider, model string, logger *log.Logger) *LLMRouter {
	return &LLMRouter{provider: provider, model: model, logger: logger}
}

const routerPromptTemplate = `You are the intake router for a thesis coaching system for MSc graduation projects.
The system retrieves from two corpora:
- 'policy': official graduation rubrics, handbooks and checklists;
- 'thesis': past graduation theses used as precedents.

Your job, given the full conversation so far:
1) Infer the student's current thesis stage from: proposal, greenlight, midterm, final, defense, other.
2) Infer the dominant conversation mode from: exploration, precedents, diagnose, checklist, plan_synthesis, critique, ethics, defense_drill, other.
3) Infer the primary gap from: content, process, knowledge, precedent, mixed, unknown.
4) Decide if there is ENOUGH information to retrieve rubrics and precedents.
   There is enough info only if you know AT LEAST:
   - the project domain / context,
   - the main users or stakeholders,
   - and 1-2 key evaluation dimensions or metrics.
   For a 'content' gap you also need to know whether a draft already exists.
   For a 'precedent' gap you also need at least a rough method or topic focus.

If there is NOT enough information, ask EXACTLY ONE concrete follow-up question:
short (1-2 sentences), aimed at the most important missing pieces, answerable in 1-3 sentences.
Label what is missing using values from: ["domain", "users", "metrics", "draft_status", "method", "other"].

Return ONLY a JSON object with this schema:
{
  "stage": "proposal|greenlight|midterm|final|defense|other",
  "mode": "exploration|precedents|diagnose|checklist|plan_synthesis|critique|ethics|defense_drill|other",
  "gap": "content|process|knowledge|precedent|mixed|unknown",
  "enough_info": true,
  "missing": ["domain", "users"],
  "reason": "short explanation of your routing",
  "followup_question": "one concrete follow-up question"
}
Do NOT include any markdown. Output pure JSON.

Conversation:
%s`

// Route implements Router. Parse failures never propagate: the router falls
// back to a conservative default alignment with a generic clarification
// question so the session can always continue.
func (r *LLMRouter) Route(ctx context.Context, conversation string) (Alignment, error) {
	prompt := fmt.Sprintf(routerPromptTemplate, conversation)

	raw, _, err := r.provider.Generate(ctx, prompt, r.model)
	if err != nil {
		r.logger.Printf("routing call failed, using fallback alignment: %v", err)
		return fallbackAlignment(), nil
	}

	align, err := parseAlignment(raw)
	if err != nil {
		r.logger.Printf("routing output unparseable, using fallback alignment: %v", err)
		return fallbackAlignment(), nil
	}
	return align, nil
}

func parseAlignment(raw string) (Alignment, error) {
	blob, err := ExtractJSON(raw)
	if err != nil {
		return Alignment{}, err
	}
	var out struct {
		Stage      string   `json:"stage"`
		Mode       string   `json:"mode"`
		Gap        string   `json:"gap"`
		EnoughInfo bool     `json:"enough_info"`
		Missing    []string `json:"missing"`
		Reason     string   `json:"reason"`
		Followup   string   `json:"followup_question"`
	}
	if err := json.Unmarshal([]byte(blob), &out); err != nil {
		return Alignment{}, err
	}

	align := Alignment{
		Stage:      normalizeStage(out.Stage),
		Mode:       normalizeMode(out.Mode),
		Gap:        normalizeGap(out.Gap),
		EnoughInfo: out.EnoughInfo,
		Missing:    out.Missing,
		Reason:     strings.TrimSpace(out.Reason),
		Followup:   strings.TrimSpace(out.Followup),
	}
	if !align.EnoughInfo && align.Followup == "" {
		align.Followup = genericFollowup
	}
	return align, nil
}

const genericFollowup = "To continue I need a bit more detail: who is your project for, and in what context will it be used? Also, which 1-2 metrics do you most want to evaluate?"

func fallbackAlignment() Alignment {
	align := DefaultAlignment()
	align.Reason = "fallback routing engaged after parse failure"
	align.Followup = genericFollowup
	return align
}

func normalizeStage(s string) Stage {
	switch Stage(strings.ToLower(strings.TrimSpace(s))) {
	case StageProposal, StageGreenlight, StageMidterm, StageFinal, StageDefense:
		return Stage(strings.ToLower(strings.TrimSpace(s)))
	default:
		return StageOther
	}
}

func normalizeMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeExploration, ModePrecedents, ModeDiagnose, ModeChecklist,
		ModePlanSynthesis, ModeCritique, ModeEthics, ModeDefenseDrill:
		return Mode(strings.ToLower(strings.TrimSpace(s)))
	default:
		return ModeOther
	}
}

func normalizeGap(s string) Gap {
	switch Gap(strings.ToLower(strings.TrimSpace(s))) {
	case GapContent, GapProcess, GapKnowledge, GapPrecedent, GapMixed:
		return Gap(strings.ToLower(strings.TrimSpace(s)))
	default:
		return GapUnknown
	}
}
