package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/coach/internal/capability"
)

// UserContextTool returns the user's learning context: week, topics,
// difficulty, goals and preferences.
type UserContextTool struct {
	store ProgressStore
}

func (t *UserContextTool) Name() string { return "get-user-context" }

func (t *UserContextTool) Schema() capability.ToolSchema {
	return capability.ToolSchema{
		Name:        t.Name(),
		Description: "Get complete user learning context including current week, topics, difficulty level, goals and preferences",
		Parameters: map[string]capability.ParamSpec{
			"user_id": {Type: "string", Description: "user UUID", Default: defaultUserID},
		},
	}
}

func (t *UserContextTool) ValidateInput(args map[string]interface{}) error { return nil }

func (t *UserContextTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	userID := argString(args, "user_id", defaultUserID)

	progress, err := t.store.UserProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user progress: %w", err)
	}
	if progress == nil {
		return map[string]interface{}{
			"week":            nil,
			"topics":          []interface{}{},
			"difficulty":      "intermediate",
			"preferences":     map[string]interface{}{},
			"recent_feedback": []interface{}{},
		}, nil
	}

	out := map[string]interface{}{
		"week":            progress["current_week"],
		"topics":          progress["current_topics"],
		"difficulty":      "intermediate",
		"learning_goals":  progress["learning_goals"],
		"preferences":     map[string]interface{}{},
		"recent_feedback": []interface{}{},
	}
	if v, ok := progress["difficulty_level"].(string); ok && v != "" {
		out["difficulty"] = v
	}
	if v, ok := progress["metadata"].(map[string]interface{}); ok {
		out["preferences"] = v
	}
	if out["topics"] == nil {
		out["topics"] = []interface{}{}
	}
	return out, nil
}

// SyncProgressTool refreshes or updates the user's learning progress.
// With week/topics arguments it upserts; without, it reports the
// current state.
type SyncProgressTool struct {
	store ProgressStore
}

func (t *SyncProgressTool) Name() string { return "sync-progress" }

func (t *SyncProgressTool) Schema() capability.ToolSchema {
	return capability.ToolSchema{
		Name:        t.Name(),
		Description: "Sync learning progress to get the latest week and topics, or update them when week/topics are provided",
		Parameters: map[string]capability.ParamSpec{
			"user_id": {Type: "string", Description: "user UUID", Default: defaultUserID},
			"week":    {Type: "integer", Description: "current program week to record"},
			"topics":  {Type: "array", Description: "current topics to record"},
		},
	}
}

func (t *SyncProgressTool) ValidateInput(args map[string]interface{}) error { return nil }

func (t *SyncProgressTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	userID := argString(args, "user_id", defaultUserID)

	if week := argInt(args, "week", 0); week > 0 {
		topics := argStrings(args, "topics")
		if err := t.store.UpsertProgress(ctx, userID, week, topics); err != nil {
			return nil, fmt.Errorf("updating progress: %w", err)
		}
	}

	progress, err := t.store.UserProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user progress: %w", err)
	}
	if progress == nil {
		return map[string]interface{}{
			"current_week":   nil,
			"current_topics": []interface{}{},
			"message":        "No progress found for user",
		}, nil
	}

	topics := make([]string, 0)
	if raw, ok := progress["current_topics"].([]interface{}); ok {
		for _, topic := range raw {
			topics = append(topics, fmt.Sprint(topic))
		}
	} else if raw, ok := progress["current_topics"].([]string); ok {
		topics = raw
	}

	return map[string]interface{}{
		"current_week":   progress["current_week"],
		"current_topics": progress["current_topics"],
		"message":        fmt.Sprintf("✓ Synced: Week %v, Topics: %s", progress["current_week"], strings.Join(topics, ", ")),
	}, nil
}
