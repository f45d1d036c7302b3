package rag

import (
	"context"
	"log"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	"github.com/mohammad-safakhou/coach/internal/agent/telemetry"
	"github.com/mohammad-safakhou/coach/internal/budget"
)

// Resynthesizer regenerates insights in stricter mode when a gate
// attempt fails. *Synthesizer satisfies it.
type Resynthesizer interface {
	SynthesizeInsights(ctx context.Context, chunks []map[string]interface{}, learningContext map[string]interface{}, query string, numInsights int, stricter bool) map[string]interface{}
}

// QualityGate evaluates synthesized insights and retries synthesis in
// stricter mode until they pass, retries run out, or the wall clock
// expires. Quality failure is a result, never a Go error.
type QualityGate struct {
	evaluator  *Evaluator
	maxRetries int
	timeoutSec int64
	telemetry  *telemetry.Telemetry
	logger     *log.Logger

	// replaceable for tests that need an expired clock
	newMonitor func() *budget.Monitor
}

func NewQualityGate(cfg *config.Config, evaluator *Evaluator, tel *telemetry.Telemetry, logger *log.Logger) *QualityGate {
	if logger == nil {
		logger = log.New(log.Writer(), "[GATE] ", log.LstdFlags)
	}
	maxRetries := cfg.QualityGate.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	timeoutMinutes := cfg.QualityGate.TimeoutMinutes
	if timeoutMinutes <= 0 {
		timeoutMinutes = 15
	}
	g := &QualityGate{
		evaluator:  evaluator,
		maxRetries: maxRetries,
		timeoutSec: int64(timeoutMinutes) * 60,
		telemetry:  tel,
		logger:     logger,
	}
	g.newMonitor = func() *budget.Monitor {
		return budget.NewMonitor(budget.Config{MaxTimeSeconds: &g.timeoutSec})
	}
	return g
}

// ApplyGate returns the final insights, their scores, and whether they
// passed. On wall-clock timeout the current insights are delivered
// with zero scores and passed=false.
func (g *QualityGate) ApplyGate(ctx context.Context, query string, insights, chunks []map[string]interface{}, learningContext map[string]interface{}, synth Resynthesizer) ([]map[string]interface{}, map[string]float64, bool) {
	monitor := g.newMonitor()
	scores := zeroScores()

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if err := monitor.CheckTime(); err != nil {
			_, _, elapsed := monitor.Usage()
			g.logger.Printf("quality gate timeout after %.1f minutes, delivering current insights with warning", elapsed.Minutes())
			return insights, zeroScores(), false
		}

		g.telemetry.RecordGateAttempt()
		scores, _ = g.evaluator.EvaluateDigest(ctx, query, insights, chunks)

		if g.evaluator.PassesGate(scores) {
			g.logger.Printf("quality gate passed on attempt %d/%d", attempt+1, g.maxRetries+1)
			return insights, scores, true
		}

		if attempt == g.maxRetries {
			break
		}

		g.logger.Printf("quality gate failed (attempt %d/%d), retrying with stricter synthesis", attempt+1, g.maxRetries+1)
		g.logger.Printf("current scores: faithfulness=%.3f precision=%.3f recall=%.3f",
			scores["faithfulness"], scores["context_precision"], scores["context_recall"])

		retry := synth.SynthesizeInsights(ctx, chunks, learningContext, query, len(insights), true)
		if regenerated, ok := retry["insights"].([]map[string]interface{}); ok && len(regenerated) > 0 {
			insights = regenerated
		}
	}

	g.logger.Printf("quality gate failed after %d retries, delivering anyway", g.maxRetries)
	return insights, scores, false
}
