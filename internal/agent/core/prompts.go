package core

import (
	"encoding/json"
	"fmt"
)

const systemPrompt = `You are an autonomous learning coach agent. You help users reach
their learning goals by planning and executing tool calls. Always
return ONLY strict JSON with no surrounding prose.`

func buildPlanningPrompt(goal string, userContext map[string]interface{}, toolSchemas string, history []IterationRecord) string {
	ctxJSON, _ := json.MarshalIndent(userContext, "", "  ")
	return fmt.Sprintf(`Decide the single next action toward the user's learning goal.

Goal: %s

User Context:
%s

Previous Iterations:
%s

Available Tools:
%s

Rules:
- Prefer local content (search-content) before proposing web searches.
- Tools marked "Requires approval" must be proposed via plan_approval
  or a tool_call; they only run once the user has granted approval.
- When the goal is satisfied, choose complete and include the final
  output for the user.
- When the goal is ambiguous, choose clarify with a concrete question.

Return ONLY strict JSON:
{
  "action": "tool_call" | "complete" | "clarify" | "plan_approval",
  "tool": "<tool name, for tool_call>",
  "args": { ... },
  "reasoning": "<why this action>",
  "message": "<final answer for complete, question for clarify>",
  "plan": { "queries": ["..."], "rationale": "..." }
}`, goal, string(ctxJSON), FormatHistory(history), toolSchemas)
}

func buildReflectionPrompt(goal string, userContext map[string]interface{}, plan AgentPlan, summary map[string]interface{}) string {
	ctxJSON, _ := json.MarshalIndent(userContext, "", "  ")
	argsJSON, _ := json.MarshalIndent(plan.Args, "", "  ")
	summaryJSON, _ := json.MarshalIndent(summary, "", "  ")
	return fmt.Sprintf(`Evaluate the progress toward the user's learning goal.

Goal: %s

User Context:
%s

Action Taken: %s
Args:
%s
Reasoning: %s

Result Summary:
%s

In two or three sentences: did this move us toward the goal, what is
still missing, and what should happen next?`, goal, string(ctxJSON), plan.Tool, string(argsJSON), plan.Reasoning, string(summaryJSON))
}

func buildPartialResultPrompt(goal string, userContext map[string]interface{}, iterations int, searchIterations []int, lastReflection string, sources []map[string]interface{}) string {
	ctxJSON, _ := json.MarshalIndent(userContext, "", "  ")
	sourcesJSON := "No sources found"
	if len(sources) > 0 {
		encoded, _ := json.MarshalIndent(sources, "", "  ")
		sourcesJSON = string(encoded)
	}
	return fmt.Sprintf(`You are helping create a learning digest, but the agent reached
maximum iterations before completing.

Goal: %s

User Context:
%s

Iterations Completed: %d

Search Attempts: %v

Last Reflection: %s

Sources Found (%d items):
%s

TASK: Generate a partial learning digest with:
1. A warning message explaining what happened
2. Any insights you can provide based on the goal, context, and sources
3. Recommendations for what the user should search for manually
4. Acknowledgment of what was missing or assumed

Return ONLY strict JSON:
{
  "warning": "...",
  "insights": ["..."],
  "sources_summary": "...",
  "recommendations": ["..."],
  "missing": ["..."],
  "assumptions": ["..."],
  "status": "partial"
}`, goal, string(ctxJSON), iterations, searchIterations, lastReflection, len(sources), sourcesJSON)
}
