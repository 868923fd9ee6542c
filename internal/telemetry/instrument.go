package telemetry

import (
	"context"

	"github.com/ebcs/coach/config"
	"github.com/ebcs/coach/internal/llm"
)

// instrumentedProvider decorates a Provider so every call lands in the
// metrics and the cost tracker.
type instrumentedProvider struct {
	inner  llm.Provider
	models map[string]config.LLMModel
	tele   *Telemetry
}

// InstrumentProvider wraps a Provider with call and spend accounting.
func InstrumentProvider(inner llm.Provider, models map[string]config.LLMModel, t *Telemetry) llm.Provider {
	return &instrumentedProvider{inner: inner, models: models, tele: t}
}

func (p *instrumentedProvider) Generate(ctx context.Context, prompt string, model string) (string, llm.Usage, error) {
	raw, usage, err := p.inner.Generate(ctx, prompt, model)
	result := "ok"
	if err != nil {
		result = "error"
	}
	tokens := int64(usage.PromptTokens + usage.CompletionTokens)
	p.tele.RecordLLMCall("generate", model, result, tokens, llm.Cost(p.models, model, usage))
	return raw, usage, err
}

func (p *instrumentedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.inner.Embed(ctx, texts)
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.tele.RecordLLMCall("embed", "embedding", result, 0, 0)
	return vecs, err
}
