package coach

import (
	"context"
	"log"
	"sync"
	"time"
)

// TurnStatus tells the caller what the engine produced for a turn.
type TurnStatus string

const (
	// StatusClarify means the router needs one more answer before retrieval.
	StatusClarify TurnStatus = "clarify"
	// StatusReady means retrieval ran and evidence is attached.
	StatusReady TurnStatus = "ready"
	// StatusNoEvidence means retrieval ran but both repositories came back
	// empty for every sub-query.
	StatusNoEvidence TurnStatus = "no_evidence"
)

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	Status    TurnStatus       `json:"status"`
	Alignment Alignment        `json:"alignment"`
	Followup  string           `json:"followup_question,omitempty"`
	Retrieval *RetrievalResult `json:"retrieval,omitempty"`
}

// Engine coordinates the full pipeline: routing gate, sub-query planning,
// dual-repository search, rank fusion, reranking and diversity selection.
type Engine struct {
	router   Router
	planner  Planner
	reranker Reranker
	selector *Selector

	policy Repository
	thesis Repository

	maxFollowups    int
	rerouteEachTurn bool
	rerankDepth     int

	logger *log.Logger
}

// EngineOptions bundles the engine's collaborators and tunables.
type EngineOptions struct {
	Router          Router
	Planner         Planner
	Reranker        Reranker
	Selector        *Selector
	Policy          Repository
	Thesis          Repository
	MaxFollowups    int
	RerouteEachTurn bool
	RerankDepth     int
	Logger          *log.Logger
}

func NewEngine(opts EngineOptions) *Engine {
	if opts.RerankDepth <= 0 {
		opts.RerankDepth = 24
	}
	return &Engine{
		router:          opts.Router,
		planner:         opts.Planner,
		reranker:        opts.Reranker,
		selector:        opts.Selector,
		policy:          opts.Policy,
		thesis:          opts.Thesis,
		maxFollowups:    opts.MaxFollowups,
		rerouteEachTurn: opts.RerouteEachTurn,
		rerankDepth:     opts.RerankDepth,
		logger:          opts.Logger,
	}
}

// HandleTurn appends the new utterance, runs the routing gate and, once the
// context is sufficient, the full retrieval pipeline. The session is
// mutated in place; the caller persists it.
//
// Only ErrNoEvidence-adjacent emptiness is special-cased: upstream call or
// parse failures inside the collaborators are recovered with deterministic
// fallbacks and never surface here as errors.
func (e *Engine) HandleTurn(ctx context.Context, sess *Session, utterance string) (*TurnResult, error) {
	sess.Append(utterance)

	align, status := e.route(ctx, sess)
	if status == StatusClarify {
		return &TurnResult{Status: StatusClarify, Alignment: align, Followup: align.Followup}, nil
	}

	retrieval, err := e.Retrieve(ctx, sess.TaskContext(), align)
	if err == ErrNoEvidence {
		return &TurnResult{Status: StatusNoEvidence, Alignment: align}, nil
	}
	if err != nil {
		return nil, err
	}

	sess.LastEvidence = retrieval.Evidence
	return &TurnResult{Status: StatusReady, Alignment: align, Retrieval: retrieval}, nil
}

// route runs the clarification gate. Once an alignment is ready it is held
// fixed for later turns unless re-routing on every turn is enabled.
func (e *Engine) route(ctx context.Context, sess *Session) (Alignment, TurnStatus) {
	if sess.Ready() && !e.rerouteEachTurn {
		return *sess.Alignment, StatusReady
	}

	align, _ := e.router.Route(ctx, sess.TaskContext())

	if !align.EnoughInfo {
		if sess.FollowupCount >= e.maxFollowups {
			// Clarification budget exhausted: force the transition and flag
			// the round as assumption-based instead of looping.
			align.EnoughInfo = true
			align.Assumed = true
			align.Followup = ""
			e.logger.Printf("session %s: clarification budget exhausted after %d rounds, proceeding on assumptions", sess.ID, sess.FollowupCount)
		} else {
			sess.FollowupCount++
			sess.Alignment = &align
			return align, StatusClarify
		}
	}

	sess.Alignment = &align
	return align, StatusReady
}

// Retrieve runs plan -> search -> fuse -> rerank -> select for an already
// sufficient alignment.
func (e *Engine) Retrieve(ctx context.Context, taskContext string, align Alignment) (*RetrievalResult, error) {
	started := time.Now()

	queries, err := e.planner.Plan(ctx, taskContext, align)
	if err != nil {
		return nil, err
	}

	results := e.searchAll(ctx, queries, align)
	fused := FuseResults(results)
	if len(fused) == 0 {
		return nil, ErrNoEvidence
	}

	ranked := RankFused(fused)
	depth := e.rerankDepth
	if depth > len(ranked) {
		depth = len(ranked)
	}
	verdicts, err := e.reranker.Rerank(ctx, taskContext, ranked[:depth])
	if err == nil {
		ApplyJudgments(ranked, verdicts)
	}

	cards := e.selector.Select(ranked)

	return &RetrievalResult{
		Alignment:  align,
		SubQueries: queries,
		Evidence:   cards,
		Elapsed:    time.Since(started),
	}, nil
}

// searchAll fans every sub-query out to both repositories in parallel.
// Sub-queries are independent and commutative under fusion accumulation,
// so result order does not matter, but all searches are joined before
// scoring. Individual search failures only drop that contribution.
func (e *Engine) searchAll(ctx context.Context, queries []SubQuery, align Alignment) []SearchResult {
	repos := []Repository{e.policy, e.thesis}

	var wg sync.WaitGroup
	resCh := make(chan SearchResult, len(queries)*len(repos))

	for _, q := range queries {
		for _, repo := range repos {
			wg.Add(1)
			go func(q SubQuery, repo Repository) {
				defer wg.Done()
				hits, err := repo.Search(ctx, q, align)
				if err != nil {
					e.logger.Printf("search %s %q failed: %v", repo.Name(), q.Text, err)
					return
				}
				if len(hits) == 0 {
					return
				}
				resCh <- SearchResult{Query: q, Repo: repo.Name(), Candidates: hits}
			}(q, repo)
		}
	}
	wg.Wait()
	close(resCh)

	results := make([]SearchResult, 0, len(queries)*len(repos))
	for r := range resCh {
		results = append(results, r)
	}
	return results
}
