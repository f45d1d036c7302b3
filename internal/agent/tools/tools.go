// Package tools holds the capabilities registered with the agent:
// user context, content search, digest generation, past insights,
// progress sync, coverage analysis and gated web search.
package tools

import (
	"context"
	"log"
	"time"

	"github.com/mohammad-safakhou/coach/internal/capability"
)

// defaultUserID keeps single-user deployments working without auth.
const defaultUserID = "00000000-0000-0000-0000-000000000001"

// ProgressStore is the slice of the store the context tools need.
type ProgressStore interface {
	UserProgress(ctx context.Context, userID string) (map[string]interface{}, error)
	UpsertProgress(ctx context.Context, userID string, week int, topics []string) error
}

// Searcher is a k-bounded search over an index of chunk maps.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]map[string]interface{}, error)
}

// DigestService runs the digest pipeline.
type DigestService interface {
	Generate(ctx context.Context, userID string, date time.Time, maxInsights int, forceRefresh bool, explicitQuery string) map[string]interface{}
}

// Deps bundles everything the tool set needs.
type Deps struct {
	Store    ProgressStore
	Content  Searcher
	Insights Searcher
	Digests  DigestService
	Coverage CoverageAnalyzer
	Web      WebSearcher
	Logger   *log.Logger
}

// RegisterAll wires the full tool set into a registry.
func RegisterAll(registry *capability.Registry, deps Deps) error {
	all := []capability.Tool{
		&UserContextTool{store: deps.Store},
		&SyncProgressTool{store: deps.Store},
		&SearchContentTool{content: deps.Content},
		&PastInsightsTool{insights: deps.Insights},
		&GenerateDigestTool{digests: deps.Digests},
		&CoverageTool{analyzer: deps.Coverage},
	}
	if deps.Web != nil {
		all = append(all, &WebSearchTool{web: deps.Web})
	}
	for _, tool := range all {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func argString(args map[string]interface{}, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func argInt(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func argBool(args map[string]interface{}, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func argStrings(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
