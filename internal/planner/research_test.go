package planner

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	"github.com/mohammad-safakhou/coach/internal/agent/core"
)

type fakeSearcher struct {
	results []map[string]interface{}
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, k int) ([]map[string]interface{}, error) {
	return f.results, f.err
}

type cannedLLM struct {
	response string
	err      error
	calls    int
}

func (c *cannedLLM) Generate(ctx context.Context, prompt, model string, opts core.GenerateOptions) (string, error) {
	c.calls++
	return c.response, c.err
}

func (c *cannedLLM) GenerateWithTokens(ctx context.Context, prompt, model string, opts core.GenerateOptions) (string, int64, int64, error) {
	text, err := c.Generate(ctx, prompt, model, opts)
	return text, 0, 0, err
}

func (c *cannedLLM) CalculateCost(model string, in, out int64) float64 { return 0 }

func testPlanner(searcher Searcher, llm core.LLMProvider) *ResearchPlanner {
	cfg := &config.Config{}
	cfg.Agent.SearchThreshold = 3
	cfg.LLM.Model = "gpt-4o-mini"
	return NewResearchPlanner(cfg, searcher, llm, nil)
}

func nResults(n int) []map[string]interface{} {
	results := make([]map[string]interface{}, n)
	for i := range results {
		results[i] = map[string]interface{}{
			"title":  fmt.Sprintf("Understanding Transformers Part %d", i),
			"url":    fmt.Sprintf("https://example.com/%d", i),
			"author": "Jay",
		}
	}
	return results
}

func TestConfidenceScoreBoundaries(t *testing.T) {
	cases := []struct {
		count int
		gaps  int
		want  float64
	}{
		{0, 0, 0.0},
		{1, 0, 0.4},
		{2, 0, 0.4},
		{3, 0, 0.6},
		{4, 0, 0.6},
		{5, 0, 0.8},
		{9, 0, 0.8},
		{10, 0, 1.0},
		{10, 2, 0.7},
		{1, 3, 0.0}, // floored at zero
		{5, 1, 0.65},
	}
	for _, tc := range cases {
		if got := confidenceScore(tc.count, tc.gaps); got != tc.want {
			t.Errorf("confidenceScore(%d, %d) = %v, want %v", tc.count, tc.gaps, got, tc.want)
		}
	}
}

func TestAnalyzeCoverageNoResults(t *testing.T) {
	p := testPlanner(&fakeSearcher{}, &cannedLLM{})
	analysis := p.AnalyzeCoverage(context.Background(), "quantum computing", "")

	if analysis.DBResultsCount != 0 {
		t.Fatalf("count: %d", analysis.DBResultsCount)
	}
	if len(analysis.CoverageGaps) != 1 {
		t.Fatalf("expected single gap, got %d", len(analysis.CoverageGaps))
	}
	gap := analysis.CoverageGaps[0]
	if gap.Priority != "high" || gap.Topic != "quantum computing" || gap.Reason != "No content found in database" {
		t.Fatalf("unexpected gap: %+v", gap)
	}
	if !analysis.NeedsWebSearch {
		t.Fatalf("zero results must need web search")
	}
	if analysis.ConfidenceScore != 0.0 {
		t.Fatalf("confidence: %v", analysis.ConfidenceScore)
	}
}

func TestAnalyzeCoverageEnoughResultsSkipsLLM(t *testing.T) {
	llm := &cannedLLM{response: `[{"topic": "x", "reason": "r", "priority": "low", "suggested_query": "q"}]`}
	p := testPlanner(&fakeSearcher{results: nResults(6)}, llm)
	analysis := p.AnalyzeCoverage(context.Background(), "transformers", "")

	if len(analysis.CoverageGaps) != 0 {
		t.Fatalf("five or more results should produce no gaps: %+v", analysis.CoverageGaps)
	}
	if llm.calls != 0 {
		t.Fatalf("gap LLM must not be consulted with good coverage")
	}
	if analysis.NeedsWebSearch {
		t.Fatalf("6 gap-free results should not need web search")
	}
}

func TestAnalyzeCoverageFewResultsAsksLLM(t *testing.T) {
	llm := &cannedLLM{response: "```json\n[{\"topic\": \"positional encoding\", \"reason\": \"not covered\", \"priority\": \"high\", \"suggested_query\": \"positional encoding explained\"}]\n```"}
	p := testPlanner(&fakeSearcher{results: nResults(2)}, llm)
	analysis := p.AnalyzeCoverage(context.Background(), "transformers", "intermediate")

	if llm.calls != 1 {
		t.Fatalf("expected one gap analysis call, got %d", llm.calls)
	}
	if len(analysis.CoverageGaps) != 1 || analysis.CoverageGaps[0].Topic != "positional encoding" {
		t.Fatalf("unexpected gaps: %+v", analysis.CoverageGaps)
	}
	if !analysis.NeedsWebSearch {
		t.Fatalf("2 results are below the threshold")
	}
}

func TestAnalyzeCoverageLLMFailureFallsBack(t *testing.T) {
	llm := &cannedLLM{response: "I cannot produce JSON today."}
	p := testPlanner(&fakeSearcher{results: nResults(2)}, llm)
	analysis := p.AnalyzeCoverage(context.Background(), "transformers", "")

	if len(analysis.CoverageGaps) != 1 {
		t.Fatalf("fallback should yield one gap: %+v", analysis.CoverageGaps)
	}
	gap := analysis.CoverageGaps[0]
	if gap.Priority != "medium" || gap.Reason != "Limited database coverage" {
		t.Fatalf("unexpected fallback gap: %+v", gap)
	}
}

func TestAnalyzeCoverageSearchErrorDegrades(t *testing.T) {
	p := testPlanner(&fakeSearcher{err: fmt.Errorf("index closed")}, &cannedLLM{})
	analysis := p.AnalyzeCoverage(context.Background(), "transformers", "")

	if analysis.ConfidenceScore != 0.0 || !analysis.NeedsWebSearch {
		t.Fatalf("search error must degrade to zero confidence: %+v", analysis)
	}
	if len(analysis.CoverageGaps) != 1 || analysis.CoverageGaps[0].Reason != "Database query failed" {
		t.Fatalf("unexpected gaps: %+v", analysis.CoverageGaps)
	}
}

func TestCreatePlanQuerySuffixes(t *testing.T) {
	p := testPlanner(&fakeSearcher{}, &cannedLLM{})
	analysis := ContentAnalysis{
		Query: "transformers",
		CoverageGaps: []ContentGap{
			{Topic: "attention", Reason: "missing", Priority: "high", SuggestedQuery: "attention mechanism"},
		},
		NeedsWebSearch: true,
	}

	beginner := p.CreatePlan(analysis, "beginner")
	if got := beginner.SearchQueries[0].Query; got != "attention mechanism tutorial for beginners" {
		t.Fatalf("beginner suffix: %q", got)
	}

	advanced := p.CreatePlan(analysis, "Advanced")
	if got := advanced.SearchQueries[0].Query; got != "attention mechanism advanced guide" {
		t.Fatalf("advanced suffix: %q", got)
	}

	plain := p.CreatePlan(analysis, "intermediate")
	if got := plain.SearchQueries[0].Query; got != "attention mechanism" {
		t.Fatalf("intermediate should leave the query alone: %q", got)
	}
}

func TestCreatePlanGeneralFallbackQuery(t *testing.T) {
	p := testPlanner(&fakeSearcher{}, &cannedLLM{})
	analysis := ContentAnalysis{
		Query:          "rust lifetimes",
		DBResultsCount: 2,
		NeedsWebSearch: true,
	}

	plan := p.CreatePlan(analysis, "")
	if len(plan.SearchQueries) != 1 {
		t.Fatalf("expected one general query, got %d", len(plan.SearchQueries))
	}
	q := plan.SearchQueries[0]
	if q.Query != "rust lifetimes" || q.Rationale != "Insufficient database coverage" || q.Priority != "medium" {
		t.Fatalf("unexpected general query: %+v", q)
	}
	if plan.EstimatedAPICredits != 1 || plan.EstimatedTotalSearches != 1 {
		t.Fatalf("credit accounting: %+v", plan)
	}
}

func TestCreatePlanNoSearchNeeded(t *testing.T) {
	p := testPlanner(&fakeSearcher{}, &cannedLLM{})
	plan := p.CreatePlan(ContentAnalysis{Query: "transformers", DBResultsCount: 8}, "")
	if len(plan.SearchQueries) != 0 {
		t.Fatalf("good coverage should propose no searches: %+v", plan.SearchQueries)
	}
}

func TestPlanRationale(t *testing.T) {
	p := testPlanner(&fakeSearcher{}, &cannedLLM{})

	empty := p.CreatePlan(ContentAnalysis{Query: "x", DBResultsCount: 0, NeedsWebSearch: true}, "")
	if !strings.Contains(empty.Rationale, "No relevant content found in your database.") {
		t.Fatalf("rationale: %s", empty.Rationale)
	}

	thin := p.CreatePlan(ContentAnalysis{Query: "x", DBResultsCount: 2, NeedsWebSearch: true}, "")
	if !strings.Contains(thin.Rationale, "Only 2 results found in database (threshold: 3).") {
		t.Fatalf("rationale: %s", thin.Rationale)
	}

	gappy := p.CreatePlan(ContentAnalysis{
		Query:          "x",
		DBResultsCount: 4,
		CoverageGaps:   []ContentGap{{Topic: "embeddings", SuggestedQuery: "embeddings"}},
		NeedsWebSearch: true,
	}, "")
	if !strings.Contains(gappy.Rationale, "coverage gaps identified") ||
		!strings.Contains(gappy.Rationale, "Missing coverage on: embeddings.") {
		t.Fatalf("rationale: %s", gappy.Rationale)
	}
}

func TestExtractTopics(t *testing.T) {
	results := []map[string]interface{}{
		{
			"title":    "Understanding Attention Mechanisms in Neural Networks",
			"metadata": map[string]interface{}{"tags": []interface{}{"deep-learning"}},
		},
		{"title": "A Short Post"},
	}
	topics := extractTopics(results)
	want := map[string]bool{"understanding": true, "attention": true, "mechanisms": true, "deep-learning": true, "short": true}
	if len(topics) != len(want) {
		t.Fatalf("topics: %v", topics)
	}
	for _, topic := range topics {
		if !want[topic] {
			t.Fatalf("unexpected topic %q in %v", topic, topics)
		}
	}
}
