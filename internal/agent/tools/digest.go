package tools

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/coach/internal/capability"
)

// GenerateDigestTool runs the full digest pipeline. Success means
// insights were produced; an empty digest comes back as an error map.
type GenerateDigestTool struct {
	digests DigestService
}

func (t *GenerateDigestTool) Name() string { return "generate-digest" }

func (t *GenerateDigestTool) Schema() capability.ToolSchema {
	return capability.ToolSchema{
		Name:        t.Name(),
		Description: "Generate a personalized learning digest: retrieve relevant content, synthesize insights and validate their quality. Use for daily digests (7 insights) or answering learning questions (3 insights with explicit_query)",
		Parameters: map[string]capability.ParamSpec{
			"date":           {Type: "string", Description: "ISO date or 'today'", Default: "today"},
			"max_insights":   {Type: "integer", Description: "2-10 insights", Default: 7},
			"force_refresh":  {Type: "boolean", Description: "skip the cache", Default: true},
			"user_context":   {Type: "object", Description: "learning context from get-user-context, including user_id"},
			"explicit_query": {Type: "string", Description: "optional question for Q&A mode"},
		},
	}
}

func (t *GenerateDigestTool) ValidateInput(args map[string]interface{}) error { return nil }

func (t *GenerateDigestTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	date := time.Now()
	if raw := argString(args, "date", "today"); raw != "today" {
		if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			date = parsed
		}
	}
	maxInsights := argInt(args, "max_insights", 7)
	forceRefresh := argBool(args, "force_refresh", true)
	explicitQuery := argString(args, "explicit_query", "")

	userID := defaultUserID
	if userContext, ok := args["user_context"].(map[string]interface{}); ok {
		userID = argString(userContext, "user_id", defaultUserID)
	}

	digest := t.digests.Generate(ctx, userID, date, maxInsights, forceRefresh, explicitQuery)

	insights := insightMaps(digest["insights"])
	if len(insights) == 0 {
		reason := "No insights generated"
		if meta, ok := digest["metadata"].(map[string]interface{}); ok {
			if v, ok := meta["error"].(string); ok && v != "" {
				reason = v
			}
		}
		return map[string]interface{}{
			"success":        false,
			"insights":       []interface{}{},
			"error":          reason,
			"quality_scores": map[string]float64{},
			"num_insights":   0,
		}, nil
	}

	return map[string]interface{}{
		"success":        true,
		"insights":       insights,
		"quality_scores": digest["quality_scores"],
		"quality_badge":  digest["quality_badge"],
		"metadata":       digest["metadata"],
		"num_insights":   len(insights),
	}, nil
}

// insightMaps reads an insight list in either shape: the
// []map[string]interface{} Generate builds, or the []interface{} a
// cached digest decodes to after its JSON round trip.
func insightMaps(raw interface{}) []map[string]interface{} {
	switch list := raw.(type) {
	case []map[string]interface{}:
		return list
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
