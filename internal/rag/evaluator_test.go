package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

type flakyMetrics struct {
	faithfulness float64
	failRecall   bool
}

func (m *flakyMetrics) Faithfulness(ctx context.Context, q, r string, c []string) (float64, error) {
	return m.faithfulness, nil
}

func (m *flakyMetrics) ContextPrecision(ctx context.Context, q, r string, c []string) (float64, error) {
	return 0.9, nil
}

func (m *flakyMetrics) ContextRecall(ctx context.Context, q, r string, c []string) (float64, error) {
	if m.failRecall {
		return 0, fmt.Errorf("judge unavailable")
	}
	return 0.9, nil
}

func TestEvaluateDigestEmptyInputs(t *testing.T) {
	eval := NewEvaluator(&flakyMetrics{}, 0.70, nil)

	scores, err := eval.EvaluateDigest(context.Background(), "q", nil, testChunks())
	if err == nil {
		t.Fatalf("empty insights must error")
	}
	if scores["average"] != 0 || scores["faithfulness"] != 0 {
		t.Fatalf("empty insights must zero-score: %v", scores)
	}

	scores, err = eval.EvaluateDigest(context.Background(), "q", testInsights(1), nil)
	if err == nil {
		t.Fatalf("empty chunks must error")
	}
	if scores["average"] != 0 {
		t.Fatalf("empty chunks must zero-score: %v", scores)
	}
}

func TestEvaluateDigestMetricFallback(t *testing.T) {
	eval := NewEvaluator(&flakyMetrics{faithfulness: 0.9, failRecall: true}, 0.70, nil)

	scores, err := eval.EvaluateDigest(context.Background(), "q", testInsights(2), testChunks())
	if err != nil {
		t.Fatalf("metric failure must not fail evaluation: %v", err)
	}
	if scores["context_recall"] != metricFallback {
		t.Fatalf("failed metric should fall back to %.2f, got %v", metricFallback, scores["context_recall"])
	}
	want := (0.9 + 0.9 + metricFallback) / 3
	if scores["average"] != want {
		t.Fatalf("average: got %v, want %v", scores["average"], want)
	}
}

func TestPassesGateAllMetrics(t *testing.T) {
	eval := NewEvaluator(&flakyMetrics{}, 0.70, nil)

	if !eval.PassesGate(map[string]float64{"faithfulness": 0.70, "context_precision": 0.70, "context_recall": 0.70}) {
		t.Fatalf("threshold is inclusive")
	}
	if eval.PassesGate(map[string]float64{"faithfulness": 0.95, "context_precision": 0.69, "context_recall": 0.95}) {
		t.Fatalf("one metric below the floor must fail")
	}
	if eval.PassesGate(map[string]float64{}) {
		t.Fatalf("missing metrics count as zero")
	}
}

func TestFormatInsights(t *testing.T) {
	out := FormatInsights([]map[string]interface{}{
		{"title": "First", "explanation": "one"},
		{"title": "Second", "explanation": "two"},
	})
	if out != "First\n\none\n\n---\n\nSecond\n\ntwo" {
		t.Fatalf("unexpected format: %q", out)
	}
}

func TestExtractContexts(t *testing.T) {
	contexts := ExtractContexts([]map[string]interface{}{
		{"chunk_text": "a"},
		{"content": "b"},
		{"text": "c"},
		{"irrelevant": "d"},
	})
	if strings.Join(contexts, ",") != "a,b,c" {
		t.Fatalf("contexts: %v", contexts)
	}
}

func TestBadgeThresholds(t *testing.T) {
	cases := []struct {
		avg  float64
		want string
	}{
		{0.95, "🟢 Excellent"},
		{0.90, "🟢 Excellent"},
		{0.85, "🟢 Good"},
		{0.80, "🟢 Good"},
		{0.75, "🟡 Acceptable"},
		{0.70, "🟡 Acceptable"},
		{0.65, "🟡 Needs Improvement"},
		{0.60, "🟡 Needs Improvement"},
		{0.30, "🔴 Poor"},
		{0, "🔴 Poor"},
	}
	for _, tc := range cases {
		if got := Badge(map[string]float64{"average": tc.avg}); got != tc.want {
			t.Errorf("Badge(%.2f) = %q, want %q", tc.avg, got, tc.want)
		}
	}
}

func TestDetailedAnalysis(t *testing.T) {
	analysis := DetailedAnalysis(map[string]float64{
		"faithfulness": 0.92,
		"average":      0.8,
	})
	if analysis["faithfulness"] != "Excellent (0.92)" {
		t.Fatalf("analysis: %v", analysis)
	}
	if _, ok := analysis["average"]; ok {
		t.Fatalf("average must be excluded")
	}
}
