package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSONBlock pulls the first JSON object out of an LLM response.
// Markdown code fences are stripped first, then a balanced-brace scan
// finds the object; models love to wrap JSON in prose.
func ExtractJSONBlock(s string) string {
	if idx := strings.Index(s, "```json"); idx != -1 {
		rest := s[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			s = rest[:end]
		} else {
			s = rest
		}
	} else if idx := strings.Index(s, "```"); idx != -1 {
		rest := s[idx+3:]
		if end := strings.Index(rest, "```"); end != -1 {
			s = rest[:end]
		} else {
			s = rest
		}
	}
	return firstJSONObject(strings.TrimSpace(s))
}

// firstJSONObject scans for the first balanced {...} block, honoring
// strings and escapes.
func firstJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}

// ParseJSONResponse decodes the first JSON object in an LLM response.
func ParseJSONResponse(response string) (map[string]interface{}, error) {
	block := ExtractJSONBlock(response)
	if block == "" {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(block), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON response from LLM: %w", err)
	}
	return out, nil
}

// ParsePlan turns a raw planning response into an AgentPlan. It never
// fails: an unparseable or unrecognized response degrades to a
// synthetic complete whose message carries the problem, so the loop
// always terminates cleanly.
func ParsePlan(response string) AgentPlan {
	raw, err := ParseJSONResponse(response)
	if err != nil {
		return degradedPlan(fmt.Sprintf("could not parse planning response: %v", err), response)
	}

	action := ActionType(strings.ToLower(strings.TrimSpace(str(raw["action"]))))
	plan := AgentPlan{
		Action:    action,
		Tool:      str(raw["tool"]),
		Reasoning: str(raw["reasoning"]),
		Message:   str(raw["message"]),
	}
	if args, ok := raw["args"].(map[string]interface{}); ok {
		plan.Args = args
	}
	if p, ok := raw["plan"].(map[string]interface{}); ok {
		plan.Plan = p
	}

	switch action {
	case ActionToolCall:
		if plan.Tool == "" {
			return degradedPlan("planning response chose tool_call without a tool", response)
		}
	case ActionComplete, ActionClarify, ActionPlanApproval:
	default:
		return degradedPlan(fmt.Sprintf("unknown action %q in planning response", action), response)
	}
	return plan
}

func degradedPlan(reason, response string) AgentPlan {
	snippet := strings.TrimSpace(response)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return AgentPlan{
		Action:  ActionComplete,
		Message: fmt.Sprintf("%s (raw: %s)", reason, snippet),
		Plan:    map[string]interface{}{"parse_error": reason},
	}
}

// SummarizeResult shrinks a tool result for logging and prompts. Full
// results can be megabytes of search payload; history carries only the
// shape of what happened.
func SummarizeResult(result map[string]interface{}) map[string]interface{} {
	summary := map[string]interface{}{}

	if errMsg, ok := result["error"]; ok {
		summary["error"] = errMsg
	}
	if results, ok := result["results"].([]interface{}); ok {
		summary["results_count"] = len(results)
		if len(results) > 2 {
			summary["results_preview"] = results[:2]
		} else {
			summary["results_preview"] = results
		}
	}
	if insights, ok := result["insights"].([]interface{}); ok {
		summary["insights_count"] = len(insights)
		preview := []map[string]interface{}{}
		for i, in := range insights {
			if i >= 2 {
				break
			}
			title := ""
			if m, ok := in.(map[string]interface{}); ok {
				title = str(m["title"])
			}
			preview = append(preview, map[string]interface{}{"title": title})
		}
		summary["insights_preview"] = preview
	}
	if scores, ok := result["quality_scores"]; ok {
		summary["quality_scores"] = scores
	}
	if week, ok := result["week"]; ok {
		summary["week"] = week
	}
	if topics, ok := result["topics"]; ok {
		summary["topics"] = topics
	}

	if len(summary) == 0 {
		preview := fmt.Sprintf("%v", result)
		if len(preview) > 500 {
			preview = preview[:500]
		}
		summary["preview"] = preview
	}
	return summary
}

// FormatHistory renders the iteration history for prompt inclusion.
func FormatHistory(history []IterationRecord) string {
	if len(history) == 0 {
		return "No previous iterations"
	}
	lines := make([]string, 0, len(history))
	for _, h := range history {
		action := h.Action
		if h.Tool != "" {
			action = fmt.Sprintf("%s(%s)", h.Action, h.Tool)
		}
		lines = append(lines, fmt.Sprintf("Iteration %d: %s - %s", h.Iteration, action, h.Reflection))
	}
	return strings.Join(lines, "\n")
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
