// Package telemetry tracks retrieval metrics and LLM spend.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ebcs/coach/config"
)

// Telemetry provides monitoring and cost tracking for the engine.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	costTracker *CostTracker

	retrievalTotal    *prometheus.CounterVec
	retrievalDuration prometheus.Histogram
	clarifications    prometheus.Counter
	llmCalls          *prometheus.CounterVec
	evidenceSelected  *prometheus.HistogramVec
}

// CostTracker accumulates LLM spend per model and per task.
type CostTracker struct {
	mu          sync.RWMutex
	ModelCosts  map[string]float64
	TaskCosts   map[string]float64
	TotalCost   float64
	TotalTokens int64
}

func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		costTracker: &CostTracker{
			ModelCosts: make(map[string]float64),
			TaskCosts:  make(map[string]float64),
		},
		retrievalTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_retrievals_total",
			Help: "Retrieval rounds by outcome (ready, no_evidence).",
		}, []string{"outcome"}),
		retrievalDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coach_retrieval_duration_seconds",
			Help:    "End-to-end retrieval pipeline latency.",
			Buckets: prometheus.DefBuckets,
		}),
		clarifications: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coach_clarifications_total",
			Help: "Clarification questions emitted by the router gate.",
		}),
		llmCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_llm_calls_total",
			Help: "LLM calls by task and result.",
		}, []string{"task", "result"}),
		evidenceSelected: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coach_evidence_selected",
			Help:    "Evidence cards selected per round, by repository.",
			Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 10, 12},
		}, []string{"repo"}),
	}
	return t
}

// RecordRetrieval notes one completed retrieval round.
func (t *Telemetry) RecordRetrieval(outcome string, elapsed time.Duration, policyCards, thesisCards int) {
	if !t.config.Enabled {
		return
	}
	t.retrievalTotal.WithLabelValues(outcome).Inc()
	t.retrievalDuration.Observe(elapsed.Seconds())
	t.evidenceSelected.WithLabelValues("policy").Observe(float64(policyCards))
	t.evidenceSelected.WithLabelValues("thesis").Observe(float64(thesisCards))
}

// RecordClarification notes one clarification turn.
func (t *Telemetry) RecordClarification() {
	if !t.config.Enabled {
		return
	}
	t.clarifications.Inc()
}

// RecordLLMCall notes one judgment-model call and its cost.
func (t *Telemetry) RecordLLMCall(task, model, result string, tokens int64, cost float64) {
	if !t.config.Enabled {
		return
	}
	t.llmCalls.WithLabelValues(task, result).Inc()
	if t.config.CostTracking {
		t.costTracker.add(task, model, tokens, cost)
	}
}

// Costs returns a snapshot of accumulated spend.
func (t *Telemetry) Costs() (total float64, tokens int64, byModel map[string]float64) {
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()
	byModel = make(map[string]float64, len(t.costTracker.ModelCosts))
	for k, v := range t.costTracker.ModelCosts {
		byModel[k] = v
	}
	return t.costTracker.TotalCost, t.costTracker.TotalTokens, byModel
}

func (c *CostTracker) add(task, model string, tokens int64, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ModelCosts[model] += cost
	c.TaskCosts[task] += cost
	c.TotalCost += cost
	c.TotalTokens += tokens
}
