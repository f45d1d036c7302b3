package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	core "github.com/mohammad-safakhou/coach/internal/agent/core"
	"github.com/mohammad-safakhou/coach/internal/agent/telemetry"
	"github.com/mohammad-safakhou/coach/internal/agent/tools"
	"github.com/mohammad-safakhou/coach/internal/capability"
	"github.com/mohammad-safakhou/coach/internal/planner"
	"github.com/mohammad-safakhou/coach/internal/rag"
	"github.com/mohammad-safakhou/coach/internal/runtime"
	"github.com/mohammad-safakhou/coach/internal/store"
)

// Run wires the full service and blocks on the HTTP listener.
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
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	st, err := store.New(ctx, cfg)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s:%d): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
	}

	contentIndex, err := rag.OpenIndex(cfg.Ingest.IndexPath)
	if err != nil {
		return fmt.Errorf("opening content index: %w", err)
	}
	insightsIndex, err := rag.OpenIndex(InsightsIndexPath(cfg.Ingest.IndexPath))
	if err != nil {
		return fmt.Errorf("opening insights index: %w", err)
	}

	llm, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}
	tele := telemetry.NewTelemetry(cfg.Telemetry)

	retriever := rag.NewRetriever(cfg, contentIndex, nil)
	synth := rag.NewSynthesizer(cfg, llm, nil)
	metrics := rag.NewLLMMetrics(llm, cfg.LLM.Model, nil)
	evaluator := rag.NewEvaluator(metrics, cfg.QualityGate.MinScore, nil)
	gate := rag.NewQualityGate(cfg, evaluator, tele, nil)
	digestStore := NewDigestPersister(st, insightsIndex)
	digests := rag.NewDigestGenerator(cfg, retriever, synth, gate, st, digestStore, rdb, nil)

	research := planner.NewResearchPlanner(cfg, retriever, llm, nil)

	registry := capability.NewRegistry(nil)
	deps := tools.Deps{
		Store:    st,
		Content:  retriever,
		Insights: insightsIndex,
		Digests:  digests,
		Coverage: research,
	}
	if tavily := tools.NewTavilyClient(cfg); tavily.Configured() {
		deps.Web = tavily
	}
	if err := tools.RegisterAll(registry, deps); err != nil {
		return err
	}

	controller, err := core.NewAgentController(cfg, nil, tele, registry, llm, core.NewSessionLog(nil))
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))
	NewSessionsHandler(st, controller).Register(api.Group("/sessions"), secret)
	NewDigestsHandler(st, digests).Register(api.Group("/digests"), secret)

	sched := &Scheduler{Store: st, Rdb: rdb, Controller: controller, Stop: make(chan struct{})}
	sched.Start()

	addr := cfg.General.Listen
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// InsightsIndexPath places the past-insights index next to the content
// index. Empty means memory-only, matching the content index.
func InsightsIndexPath(contentPath string) string {
	if contentPath == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(contentPath), "insights.bleve")
}

// indexingDigestStore persists digests to Postgres and indexes each
// insight so search-past-insights can find it later.
type indexingDigestStore struct {
	store *store.Store
	index *rag.Index
}

// NewDigestPersister returns a digest store that writes to Postgres and
// keeps the past-insights index in step.
func NewDigestPersister(st *store.Store, index *rag.Index) rag.DigestStore {
	return &indexingDigestStore{store: st, index: index}
}

func (s *indexingDigestStore) SaveDigest(ctx context.Context, userID string, digest map[string]interface{}) error {
	if err := s.store.SaveDigest(ctx, userID, digest); err != nil {
		return err
	}
	date, _ := digest["date"].(string)
	insights, _ := digest["insights"].([]map[string]interface{})
	for i, insight := range insights {
		doc := map[string]interface{}{
			"title":       insight["title"],
			"explanation": insight["explanation"],
			"date":        date,
			"user_id":     userID,
		}
		id := fmt.Sprintf("%s:%s:%d", userID, date, i)
		if err := s.index.IndexDoc(id, doc); err != nil {
			return err
		}
	}
	return nil
}
