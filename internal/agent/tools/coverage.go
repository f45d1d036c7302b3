package tools

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/coach/internal/capability"
	"github.com/mohammad-safakhou/coach/internal/planner"
)

// CoverageAnalyzer is the planner surface the coverage tool wraps.
type CoverageAnalyzer interface {
	AnalyzeCoverage(ctx context.Context, query, level string) planner.ContentAnalysis
	CreatePlan(analysis planner.ContentAnalysis, level string) planner.ResearchPlan
}

// CoverageTool reports what the local database covers for a query and
// proposes a research plan for the gaps.
type CoverageTool struct {
	analyzer CoverageAnalyzer
}

func (t *CoverageTool) Name() string { return "analyze-content-coverage" }

func (t *CoverageTool) Schema() capability.ToolSchema {
	return capability.ToolSchema{
		Name:        t.Name(),
		Description: "Analyze existing database content to identify what we have and what's missing for a given query. Determines if web search is needed and proposes a research plan",
		Parameters: map[string]capability.ParamSpec{
			"query":   {Type: "string", Description: "user's learning query", Required: true},
			"user_id": {Type: "string", Description: "user UUID", Default: defaultUserID},
			"level":   {Type: "string", Description: "user difficulty level", Default: "intermediate"},
		},
	}
}

func (t *CoverageTool) ValidateInput(args map[string]interface{}) error {
	if argString(args, "query", "") == "" {
		return fmt.Errorf("query cannot be empty")
	}
	return nil
}

func (t *CoverageTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	query := argString(args, "query", "")
	level := argString(args, "level", "intermediate")

	analysis := t.analyzer.AnalyzeCoverage(ctx, query, level)
	plan := t.analyzer.CreatePlan(analysis, level)

	out := analysis.ToMap()
	out["research_plan"] = plan.ToMap()
	out["message"] = fmt.Sprintf("Analyzed coverage: %d DB results, %d gaps identified",
		analysis.DBResultsCount, len(analysis.CoverageGaps))
	return out, nil
}
