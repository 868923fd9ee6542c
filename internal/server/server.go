package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ebcs/coach/config"
	"github.com/ebcs/coach/internal/coach"
	"github.com/ebcs/coach/internal/corpus"
	"github.com/ebcs/coach/internal/llm"
	"github.com/ebcs/coach/internal/plangen"
	"github.com/ebcs/coach/internal/repository"
	"github.com/ebcs/coach/internal/session"
	"github.com/ebcs/coach/internal/store"
	"github.com/ebcs/coach/internal/telemetry"
)

// Run wires the full coaching pipeline and serves it until the process exits.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	provider := telemetry.InstrumentProvider(llm.NewOpenAIClient(cfg.LLM), cfg.LLM.Models, tele)

	var st *store.Store
	var backend repository.Searcher
	if postgresConfigured(cfg.Storage.Postgres) {
		dsn := cfg.Storage.Postgres.DSN()
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		var err error
		st, err = store.NewWithDSN(ctx, dsn)
		if err != nil {
			return err
		}
		backend = st
	} else {
		if cfg.Retrieval.SeedFile == "" {
			return fmt.Errorf("no postgres configured and retrieval.seed_file not set")
		}
		ix := corpus.NewIndex()
		n, err := ix.LoadSeedFile(cfg.Retrieval.SeedFile)
		if err != nil {
			return fmt.Errorf("load seed corpus: %w", err)
		}
		baseLogger.Printf("loaded %d seed documents from %s", n, cfg.Retrieval.SeedFile)
		backend = ix
	}

	engineLogger := log.New(log.Writer(), "[COACH] ", log.LstdFlags)
	engine := coach.NewEngine(coach.EngineOptions{
		Router:          coach.NewLLMRouter(provider, cfg.LLM.Routing.Model("routing"), engineLogger),
		Planner:         coach.NewLLMPlanner(provider, cfg.LLM.Routing.Model("subquery"), cfg.Retrieval.MaxSubqueries, engineLogger),
		Reranker:        coach.NewLLMReranker(provider, cfg.LLM.Routing.Model("rerank"), engineLogger),
		Selector:        coach.NewSelector(cfg.Selection),
		Policy:          repository.NewPolicyRepository(backend, provider, cfg.Retrieval),
		Thesis:          repository.NewThesisRepository(backend, provider, cfg.Retrieval),
		MaxFollowups:    cfg.Session.MaxFollowups,
		RerouteEachTurn: cfg.Retrieval.RerouteEachTurn,
		Logger:          engineLogger,
	})

	sessions, err := session.NewStore(cfg.Session, cfg.Storage.Redis)
	if err != nil {
		return err
	}
	if mem, ok := sessions.(*session.InMemoryStore); ok {
		sw := &Sweeper{
			Store:    mem,
			CronSpec: cfg.Session.CleanupCron,
			Stop:     make(chan struct{}),
			Logger:   log.New(log.Writer(), "[SWEEP] ", log.LstdFlags),
		}
		sw.Start()
	}

	plans := plangen.NewGenerator(provider, cfg.LLM.Routing.Model("plan"), engineLogger)

	api := e.Group("/api")
	if cfg.Server.AuthEnabled {
		if st == nil {
			return fmt.Errorf("auth requires postgres (storage.postgres)")
		}
		secret := strings.TrimSpace(cfg.Server.JWTSecret)
		if secret == "" {
			return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
		}
		auth := &AuthHandler{Store: st, Secret: []byte(secret)}
		auth.Register(api.Group("/auth"))
		api.Use(AuthMiddleware(auth.Secret))
	}

	sh := &SessionHandler{
		Engine:   engine,
		Sessions: sessions,
		Plans:    plans,
		Tele:     tele,
		Logger:   engineLogger,
	}
	sh.Register(api)

	api.GET("/ops/costs", func(c echo.Context) error {
		total, tokens, byModel := tele.Costs()
		return c.JSON(http.StatusOK, map[string]interface{}{
			"total_cost":   total,
			"total_tokens": tokens,
			"by_model":     byModel,
		})
	})

	return e.Start(cfg.Server.Address)
}

func postgresConfigured(p config.PostgresConfig) bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}
