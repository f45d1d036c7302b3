package rag

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/coach/internal/agent/core"
)

// metricFallback is the conservative score assumed when a single
// metric evaluation fails.
const metricFallback = 0.75

// MetricSet scores a synthesized response against its retrieved
// contexts on the three RAG quality axes.
type MetricSet interface {
	Faithfulness(ctx context.Context, query, response string, contexts []string) (float64, error)
	ContextPrecision(ctx context.Context, query, response string, contexts []string) (float64, error)
	ContextRecall(ctx context.Context, query, response string, contexts []string) (float64, error)
}

// Evaluator scores digest insights and decides whether they pass the
// quality gate.
type Evaluator struct {
	metrics  MetricSet
	minScore float64
	logger   *log.Logger
}

func NewEvaluator(metrics MetricSet, minScore float64, logger *log.Logger) *Evaluator {
	if logger == nil {
		logger = log.New(log.Writer(), "[EVAL] ", log.LstdFlags)
	}
	if minScore <= 0 {
		minScore = 0.70
	}
	return &Evaluator{metrics: metrics, minScore: minScore, logger: logger}
}

func (e *Evaluator) MinScore() float64 { return e.minScore }

// EvaluateDigest scores insights against the chunks they came from.
// The three metrics run concurrently; a failed metric falls back to a
// conservative score rather than failing the evaluation. The error is
// non-nil only when there was nothing to evaluate, and the returned
// scores are then all zero.
func (e *Evaluator) EvaluateDigest(ctx context.Context, query string, insights, chunks []map[string]interface{}) (map[string]float64, error) {
	if len(insights) == 0 {
		e.logger.Printf("no insights to evaluate")
		return zeroScores(), fmt.Errorf("no insights provided")
	}
	if len(chunks) == 0 {
		e.logger.Printf("no contexts to evaluate against")
		return zeroScores(), fmt.Errorf("no contexts provided")
	}

	response := FormatInsights(insights)
	contexts := ExtractContexts(chunks)

	var (
		wg                              sync.WaitGroup
		faithfulness, precision, recall float64
	)
	eval := func(dst *float64, name string, fn func(context.Context, string, string, []string) (float64, error)) {
		defer wg.Done()
		score, err := fn(ctx, query, response, contexts)
		if err != nil {
			e.logger.Printf("%s evaluation failed: %v", name, err)
			score = metricFallback
		}
		*dst = score
	}
	wg.Add(3)
	go eval(&faithfulness, "faithfulness", e.metrics.Faithfulness)
	go eval(&precision, "context_precision", e.metrics.ContextPrecision)
	go eval(&recall, "context_recall", e.metrics.ContextRecall)
	wg.Wait()

	scores := map[string]float64{
		"faithfulness":      faithfulness,
		"context_precision": precision,
		"context_recall":    recall,
	}
	scores["average"] = (faithfulness + precision + recall) / 3

	e.logger.Printf("evaluation complete: faithfulness=%.3f precision=%.3f recall=%.3f avg=%.3f",
		faithfulness, precision, recall, scores["average"])
	return scores, nil
}

// PassesGate requires ALL three metrics to clear the minimum score. A
// high average cannot hide one weak metric.
func (e *Evaluator) PassesGate(scores map[string]float64) bool {
	for _, metric := range []string{"faithfulness", "context_precision", "context_recall"} {
		if scores[metric] < e.minScore {
			e.logger.Printf("failed quality gate: %s=%.3f < %.3f", metric, scores[metric], e.minScore)
			return false
		}
	}
	return true
}

// FormatInsights concatenates insights into a single evaluable text.
func FormatInsights(insights []map[string]interface{}) string {
	texts := make([]string, 0, len(insights))
	for _, insight := range insights {
		title := stringOr(insight["title"], "")
		explanation := stringOr(insight["explanation"], "")
		texts = append(texts, title+"\n\n"+explanation)
	}
	return strings.Join(texts, "\n\n---\n\n")
}

// ExtractContexts pulls the raw text out of chunks, tolerating the
// field-name variants used across the pipeline.
func ExtractContexts(chunks []map[string]interface{}) []string {
	contexts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if text := chunkStr(chunk, "", "chunk_text", "content", "text"); text != "" {
			contexts = append(contexts, text)
		}
	}
	return contexts
}

func zeroScores() map[string]float64 {
	return map[string]float64{
		"faithfulness":      0.0,
		"context_precision": 0.0,
		"context_recall":    0.0,
		"average":           0.0,
	}
}

// LLMMetrics judges each metric with an LLM call that returns a bare
// 0..1 score.
type LLMMetrics struct {
	llm    core.LLMProvider
	model  string
	logger *log.Logger
}

func NewLLMMetrics(llm core.LLMProvider, model string, logger *log.Logger) *LLMMetrics {
	if logger == nil {
		logger = log.New(log.Writer(), "[EVAL] ", log.LstdFlags)
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &LLMMetrics{llm: llm, model: model, logger: logger}
}

func (m *LLMMetrics) Faithfulness(ctx context.Context, query, response string, contexts []string) (float64, error) {
	return m.judge(ctx, query, response, contexts,
		"How factually consistent is the response with the provided contexts? Penalize any claim not supported by the contexts.")
}

func (m *LLMMetrics) ContextPrecision(ctx context.Context, query, response string, contexts []string) (float64, error) {
	return m.judge(ctx, query, response, contexts,
		"How relevant are the provided contexts to the query? Penalize contexts that do not help answer it.")
}

func (m *LLMMetrics) ContextRecall(ctx context.Context, query, response string, contexts []string) (float64, error) {
	return m.judge(ctx, query, response, contexts,
		"How much of the information needed by the response is actually present in the contexts?")
}

func (m *LLMMetrics) judge(ctx context.Context, query, response string, contexts []string, criterion string) (float64, error) {
	prompt := fmt.Sprintf(`You are a strict RAG evaluation judge.

Criterion: %s

Query: %s

Response:
%s

Contexts:
%s

Return ONLY a single number between 0.0 and 1.0.`,
		criterion, query, response, strings.Join(contexts, "\n\n---\n\n"))

	raw, err := m.llm.Generate(ctx, prompt, m.model, core.GenerateOptions{Temperature: 0, MaxTokens: 10})
	if err != nil {
		return 0, err
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("judge returned non-numeric score %q: %w", raw, err)
	}
	if score < 0 || score > 1 {
		return 0, fmt.Errorf("judge score %v out of range", score)
	}
	return score, nil
}
