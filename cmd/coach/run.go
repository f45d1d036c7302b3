package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	core "github.com/mohammad-safakhou/coach/internal/agent/core"
	"github.com/mohammad-safakhou/coach/internal/agent/telemetry"
	"github.com/mohammad-safakhou/coach/internal/agent/tools"
	"github.com/mohammad-safakhou/coach/internal/capability"
	"github.com/mohammad-safakhou/coach/internal/planner"
	"github.com/mohammad-safakhou/coach/internal/rag"
	"github.com/mohammad-safakhou/coach/internal/server"
	"github.com/mohammad-safakhou/coach/internal/store"
)

// runCMD executes a single agent session from the terminal and prints
// the phase log plus the final output.
func runCMD() *cobra.Command {
	var userID string
	var approve bool
	var timeout time.Duration

	var run = &cobra.Command{
		Use:   "run [goal]",
		Short: "Run one agent session for a goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			goal := strings.Join(args, " ")

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			controller, sessions, err := buildController(ctx, cfg)
			if err != nil {
				return err
			}

			session := controller.Run(ctx, goal, userID, approve)

			fmt.Println(sessions.ExportText(session.ID, false))
			fmt.Printf("\nstatus: %s\n", session.Status)
			if session.Output != nil {
				body, err := json.MarshalIndent(session.Output, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(body))
			}
			return nil
		},
	}
	run.Flags().StringVar(&userID, "user", "cli", "user ID to run the session as")
	run.Flags().BoolVar(&approve, "approve-web-search", false, "pre-approve web search for this run")
	run.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "session deadline")

	return run
}

// buildController wires the same tool stack the server uses, minus the
// HTTP surface and scheduler.
func buildController(ctx context.Context, cfg *config.Config) (*core.AgentController, *core.SessionLog, error) {
	st, err := store.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	contentIndex, err := rag.OpenIndex(cfg.Ingest.IndexPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening content index: %w", err)
	}
	insightsIndex, err := rag.OpenIndex(server.InsightsIndexPath(cfg.Ingest.IndexPath))
	if err != nil {
		return nil, nil, fmt.Errorf("opening insights index: %w", err)
	}
	digestStore := server.NewDigestPersister(st, insightsIndex)

	llm, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return nil, nil, err
	}
	tele := telemetry.NewTelemetry(cfg.Telemetry)

	retriever := rag.NewRetriever(cfg, contentIndex, nil)
	synth := rag.NewSynthesizer(cfg, llm, nil)
	metrics := rag.NewLLMMetrics(llm, cfg.LLM.Model, nil)
	evaluator := rag.NewEvaluator(metrics, cfg.QualityGate.MinScore, nil)
	gate := rag.NewQualityGate(cfg, evaluator, tele, nil)
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
		return nil, nil, err
	}

	sessions := core.NewSessionLog(nil)
	controller, err := core.NewAgentController(cfg, nil, tele, registry, llm, sessions)
	if err != nil {
		return nil, nil, err
	}
	return controller, sessions, nil
}
