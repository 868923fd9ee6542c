package llm

import (
	"context"

	"github.com/ebcs/coach/config"
)

// Usage reports token consumption for a single generation call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider abstracts the language-model backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Generate sends a prompt to the named model and returns the raw
	// completion text.
	Generate(ctx context.Context, prompt string, model string) (string, Usage, error)
	// Embed returns one embedding vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Cost computes the dollar cost of a call given the configured model table.
// Unknown models cost zero.
func Cost(models map[string]config.LLMModel, model string, u Usage) float64 {
	m, ok := models[model]
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)/1000*m.CostPer1KInput +
		float64(u.CompletionTokens)/1000*m.CostPer1KOutput
}
