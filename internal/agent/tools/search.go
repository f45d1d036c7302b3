package tools

import (
	"context"

	"github.com/mohammad-safakhou/coach/internal/capability"
)

const snippetLen = 200

// SearchContentTool searches ingested content.
type SearchContentTool struct {
	content Searcher
}

func (t *SearchContentTool) Name() string { return "search-content" }

func (t *SearchContentTool) Schema() capability.ToolSchema {
	return capability.ToolSchema{
		Name:        t.Name(),
		Description: "Search for relevant learning content in the local database. Returns articles, tutorials and resources matching the query",
		Parameters: map[string]capability.ParamSpec{
			"query": {Type: "string", Description: "search query", Required: true},
			"k":     {Type: "integer", Description: "number of results", Default: 5},
		},
	}
}

func (t *SearchContentTool) ValidateInput(args map[string]interface{}) error { return nil }

func (t *SearchContentTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	query := argString(args, "query", "")
	if query == "" {
		return map[string]interface{}{"results": []interface{}{}, "error": "Query cannot be empty"}, nil
	}
	k := argInt(args, "k", 5)

	hits, err := t.content.Search(ctx, query, k)
	if err != nil {
		return map[string]interface{}{"results": []interface{}{}, "count": 0, "error": err.Error()}, nil
	}

	results := make([]interface{}, 0, len(hits))
	for _, hit := range hits {
		results = append(results, map[string]interface{}{
			"title":        hitString(hit, "Untitled", "content_title", "title"),
			"snippet":      truncate(hitString(hit, "", "chunk_text", "content"), snippetLen),
			"url":          hitString(hit, "", "content_url", "url"),
			"author":       hitString(hit, "Unknown", "content_author", "author"),
			"published_at": hitString(hit, "", "published_at"),
			"similarity":   hit["similarity"],
		})
	}
	return map[string]interface{}{"results": results, "count": len(results)}, nil
}

// PastInsightsTool searches previously delivered digest insights, so
// the agent can find related material and avoid repetition.
type PastInsightsTool struct {
	insights Searcher
}

func (t *PastInsightsTool) Name() string { return "search-past-insights" }

func (t *PastInsightsTool) Schema() capability.ToolSchema {
	return capability.ToolSchema{
		Name:        t.Name(),
		Description: "Search through previously delivered insights and digests to find related content or avoid repetition",
		Parameters: map[string]capability.ParamSpec{
			"query": {Type: "string", Description: "search query", Required: true},
		},
	}
}

func (t *PastInsightsTool) ValidateInput(args map[string]interface{}) error { return nil }

func (t *PastInsightsTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	query := argString(args, "query", "")
	if query == "" {
		return map[string]interface{}{"results": []interface{}{}, "count": 0, "error": "Query cannot be empty"}, nil
	}

	hits, err := t.insights.Search(ctx, query, 5)
	if err != nil {
		return map[string]interface{}{"results": []interface{}{}, "count": 0, "error": err.Error()}, nil
	}

	results := make([]interface{}, 0, len(hits))
	for _, hit := range hits {
		results = append(results, map[string]interface{}{
			"title":   hitString(hit, "", "title"),
			"content": hitString(hit, "", "explanation", "content"),
			"date":    hitString(hit, "", "date"),
		})
	}
	return map[string]interface{}{"results": results, "count": len(results)}, nil
}

func hitString(hit map[string]interface{}, fallback string, keys ...string) string {
	for _, key := range keys {
		if v, ok := hit[key].(string); ok && v != "" {
			return v
		}
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
