package rag

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	"github.com/mohammad-safakhou/coach/internal/budget"
)

// scriptedMetrics returns one score triple per evaluation round. The
// three metrics of a round run concurrently, so reads are counted
// under a lock.
type scriptedMetrics struct {
	mu     sync.Mutex
	rounds [][3]float64
	reads  int
}

func (m *scriptedMetrics) score(i int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	round := m.reads / 3
	if round >= len(m.rounds) {
		round = len(m.rounds) - 1
	}
	m.reads++
	return m.rounds[round][i]
}

func (m *scriptedMetrics) evaluations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads / 3
}

func (m *scriptedMetrics) Faithfulness(ctx context.Context, q, r string, c []string) (float64, error) {
	return m.score(0), nil
}

func (m *scriptedMetrics) ContextPrecision(ctx context.Context, q, r string, c []string) (float64, error) {
	return m.score(1), nil
}

func (m *scriptedMetrics) ContextRecall(ctx context.Context, q, r string, c []string) (float64, error) {
	return m.score(2), nil
}

type recordingSynth struct {
	insights    []map[string]interface{}
	numRequests []int
	stricter    []bool
}

func (s *recordingSynth) SynthesizeInsights(ctx context.Context, chunks []map[string]interface{}, learningContext map[string]interface{}, query string, numInsights int, stricter bool) map[string]interface{} {
	s.numRequests = append(s.numRequests, numInsights)
	s.stricter = append(s.stricter, stricter)
	return map[string]interface{}{"insights": s.insights, "metadata": map[string]interface{}{}}
}

func gateConfig() *config.Config {
	cfg := &config.Config{}
	cfg.QualityGate.MinScore = 0.70
	cfg.QualityGate.MaxRetries = 2
	cfg.QualityGate.TimeoutMinutes = 15
	return cfg
}

func testInsights(n int) []map[string]interface{} {
	insights := make([]map[string]interface{}, n)
	for i := range insights {
		insights[i] = map[string]interface{}{
			"title":       fmt.Sprintf("Insight %d", i),
			"explanation": "grounded explanation",
		}
	}
	return insights
}

func testChunks() []map[string]interface{} {
	return []map[string]interface{}{
		{"chunk_text": "source text", "content_title": "Source A", "similarity": 0.9},
	}
}

func TestGatePassesFirstTry(t *testing.T) {
	metrics := &scriptedMetrics{rounds: [][3]float64{{0.9, 0.85, 0.8}}}
	gate := NewQualityGate(gateConfig(), NewEvaluator(metrics, 0.70, nil), nil, nil)
	synth := &recordingSynth{}

	insights, scores, passed := gate.ApplyGate(context.Background(), "q", testInsights(3), testChunks(), map[string]interface{}{}, synth)
	if !passed {
		t.Fatalf("expected pass, scores: %v", scores)
	}
	if len(insights) != 3 {
		t.Fatalf("insights should be untouched, got %d", len(insights))
	}
	if len(synth.stricter) != 0 {
		t.Fatalf("no resynthesis expected on first-try pass")
	}
}

func TestGateFailThenPass(t *testing.T) {
	metrics := &scriptedMetrics{rounds: [][3]float64{
		{0.5, 0.9, 0.9},
		{0.9, 0.9, 0.9},
	}}
	gate := NewQualityGate(gateConfig(), NewEvaluator(metrics, 0.70, nil), nil, nil)
	synth := &recordingSynth{insights: testInsights(4)}

	_, scores, passed := gate.ApplyGate(context.Background(), "q", testInsights(4), testChunks(), map[string]interface{}{}, synth)
	if !passed {
		t.Fatalf("expected pass on retry, scores: %v", scores)
	}
	if len(synth.stricter) != 1 || !synth.stricter[0] {
		t.Fatalf("retry must use stricter synthesis: %v", synth.stricter)
	}
	if synth.numRequests[0] != 4 {
		t.Fatalf("retry should request len(current insights) insights, got %d", synth.numRequests[0])
	}
}

func TestGateOneMetricBelowFails(t *testing.T) {
	metrics := &scriptedMetrics{rounds: [][3]float64{{0.95, 0.65, 0.95}}}
	gate := NewQualityGate(gateConfig(), NewEvaluator(metrics, 0.70, nil), nil, nil)
	synth := &recordingSynth{insights: testInsights(2)}

	_, _, passed := gate.ApplyGate(context.Background(), "q", testInsights(2), testChunks(), map[string]interface{}{}, synth)
	if passed {
		t.Fatalf("one weak metric must fail the gate even with a high average")
	}
}

func TestGateExhaustedRetries(t *testing.T) {
	metrics := &scriptedMetrics{rounds: [][3]float64{{0.5, 0.5, 0.5}}}
	gate := NewQualityGate(gateConfig(), NewEvaluator(metrics, 0.70, nil), nil, nil)
	retry := testInsights(2)
	retry[0]["title"] = "Regenerated"
	synth := &recordingSynth{insights: retry}

	insights, scores, passed := gate.ApplyGate(context.Background(), "q", testInsights(2), testChunks(), map[string]interface{}{}, synth)
	if passed {
		t.Fatalf("exhausted retries must not pass")
	}
	if len(synth.stricter) != 2 {
		t.Fatalf("expected 2 retries, got %d", len(synth.stricter))
	}
	if insights[0]["title"] != "Regenerated" {
		t.Fatalf("last insights should be delivered: %v", insights[0])
	}
	if scores["faithfulness"] != 0.5 {
		t.Fatalf("last scores should be delivered: %v", scores)
	}
}

func TestGateTimeout(t *testing.T) {
	metrics := &scriptedMetrics{rounds: [][3]float64{{0.9, 0.9, 0.9}}}
	gate := NewQualityGate(gateConfig(), NewEvaluator(metrics, 0.70, nil), nil, nil)
	limit := int64(60)
	gate.newMonitor = func() *budget.Monitor {
		return budget.NewMonitorAt(budget.Config{MaxTimeSeconds: &limit}, time.Now().Add(-2*time.Minute))
	}

	insights, scores, passed := gate.ApplyGate(context.Background(), "q", testInsights(2), testChunks(), map[string]interface{}{}, &recordingSynth{})
	if passed {
		t.Fatalf("timeout must not pass")
	}
	if scores["faithfulness"] != 0 || scores["average"] != 0 {
		t.Fatalf("timeout must deliver zero scores: %v", scores)
	}
	if len(insights) != 2 {
		t.Fatalf("timeout should deliver current insights")
	}
	if metrics.evaluations() != 0 {
		t.Fatalf("no evaluation should run after the clock expires")
	}
}
