package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
	"github.com/mohammad-safakhou/coach/internal/agent/telemetry"
	"github.com/mohammad-safakhou/coach/internal/budget"
	"github.com/mohammad-safakhou/coach/internal/capability"
)

// AgentController drives the SENSE -> PLAN -> ACT -> OBSERVE -> REFLECT
// loop for one goal at a time. Run always finishes the session with
// exactly one terminal status; no error or panic escapes it.
type AgentController struct {
	config    *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry
	registry  *capability.Registry
	llm       LLMProvider
	sessions  *SessionLog
}

// NewAgentController wires the controller with its collaborators.
func NewAgentController(cfg *config.Config, logger *log.Logger, tele *telemetry.Telemetry, registry *capability.Registry, llm LLMProvider, sessions *SessionLog) (*AgentController, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	}
	if sessions == nil {
		sessions = NewSessionLog(nil)
	}
	return &AgentController{
		config:    cfg,
		logger:    logger,
		telemetry: tele,
		registry:  registry,
		llm:       llm,
		sessions:  sessions,
	}, nil
}

// Sessions exposes the session log store for the HTTP layer.
func (c *AgentController) Sessions() *SessionLog { return c.sessions }

// Run executes the control loop for a goal. approvalGranted is the
// explicit human grant for side-effecting tools; without it the run
// stops at needs_approval instead of executing them.
func (c *AgentController) Run(ctx context.Context, goal, userID string, approvalGranted bool) *Session {
	return c.RunSession(ctx, uuid.New().String(), goal, userID, approvalGranted)
}

// RunSession is Run with a caller-assigned session ID, for callers that
// must hand the ID back before the run finishes.
func (c *AgentController) RunSession(ctx context.Context, id, goal, userID string, approvalGranted bool) (session *Session) {
	session = &Session{
		ID:        id,
		UserID:    userID,
		Goal:      goal,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	c.sessions.Start(session)

	ctx, span := c.telemetry.Tracer().Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("session.id", session.ID),
			attribute.String("user.id", userID),
		))
	defer span.End()

	var (
		history        []IterationRecord
		searchResults  []map[string]interface{}
		lastReflection string
		lastIteration  int
	)

	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Printf("agent run %s panicked: %v", session.ID, rec)
			c.sessions.Log(session.ID, PhaseError, 0, map[string]interface{}{"error": fmt.Sprintf("%v", rec)})
			c.finish(session, StatusFailed, map[string]interface{}{"error": fmt.Sprintf("agent execution failed: %v", rec)}, lastIteration)
		}
	}()

	userContext := c.sense(ctx, session, userID)

	maxIterations := c.config.Agent.MaxIterations
	for iteration := 1; iteration <= maxIterations; iteration++ {
		lastIteration = iteration
		c.telemetry.RecordIteration()
		span.AddEvent("iteration", trace.WithAttributes(attribute.Int("iteration", iteration)))

		plan := c.plan(ctx, session, goal, userContext, history, iteration)

		switch plan.Action {
		case ActionComplete:
			output := map[string]interface{}{"message": plan.Message, "reasoning": plan.Reasoning}
			if plan.Plan != nil {
				output["details"] = plan.Plan
			}
			c.sessions.Log(session.ID, PhaseComplete, iteration, map[string]interface{}{
				"output":    output,
				"reasoning": plan.Reasoning,
			})
			c.finish(session, StatusCompleted, output, iteration)
			return session

		case ActionClarify:
			question := plan.Message
			if question == "" {
				question = "Need more information"
			}
			c.sessions.Log(session.ID, PhaseClarify, iteration, map[string]interface{}{
				"question":  question,
				"reasoning": plan.Reasoning,
			})
			c.finish(session, StatusNeedsClarification, map[string]interface{}{
				"question": question,
				"type":     "clarification_needed",
			}, iteration)
			return session

		case ActionPlanApproval:
			queries := proposedQueries(plan.Plan)
			if len(queries) == 0 {
				// An empty research plan gives the human nothing to
				// approve; ask the model to spell out what it wants.
				question := "The proposed research plan contained no searches. What should be searched for?"
				c.sessions.Log(session.ID, PhaseClarify, iteration, map[string]interface{}{
					"question": question,
					"note":     "plan_approval with empty plan converted to clarification",
				})
				c.finish(session, StatusNeedsClarification, map[string]interface{}{
					"question": question,
					"type":     "clarification_needed",
				}, iteration)
				return session
			}
			if err := authorize("web-search", approvalGranted); err != nil {
				var approvalErr budget.ErrApprovalRequired
				if errors.As(err, &approvalErr) {
					c.sessions.Log(session.ID, PhaseApproval, iteration, map[string]interface{}{
						"proposed_plan": plan.Plan,
						"reasoning":     plan.Reasoning,
					})
					c.finish(session, StatusNeedsApproval, map[string]interface{}{
						"type":          "approval_needed",
						"tool":          approvalErr.Tool,
						"proposed_plan": plan.Plan,
						"message":       "Web search requires your approval. Re-run the session with approval granted to proceed.",
					}, iteration)
					return session
				}
			}
			result := c.executeApprovedPlan(ctx, session, queries, iteration)
			summary := c.observe(session, plan, result, iteration)
			searchResults = accumulateSearchResults(searchResults, result)
			lastReflection = c.reflect(ctx, session, goal, userContext, plan, summary, iteration)
			history = append(history, IterationRecord{Iteration: iteration, Action: string(plan.Action), Tool: "web-search", Reflection: lastReflection})
			continue

		case ActionToolCall:
			if c.registry.RequiresApproval(plan.Tool) {
				if err := authorize(plan.Tool, approvalGranted); err != nil {
					var approvalErr budget.ErrApprovalRequired
					if errors.As(err, &approvalErr) {
						c.sessions.Log(session.ID, PhaseApproval, iteration, map[string]interface{}{
							"tool": plan.Tool,
							"args": plan.Args,
						})
						c.finish(session, StatusNeedsApproval, map[string]interface{}{
							"type":    "approval_needed",
							"tool":    plan.Tool,
							"args":    plan.Args,
							"message": fmt.Sprintf("Tool %q requires your approval. Re-run the session with approval granted to proceed.", plan.Tool),
						}, iteration)
						return session
					}
				}
			}
			result := c.act(ctx, session, plan, iteration)
			summary := c.observe(session, plan, result, iteration)
			if plan.Tool == "search-content" {
				searchResults = accumulateSearchResults(searchResults, result)
			}
			lastReflection = c.reflect(ctx, session, goal, userContext, plan, summary, iteration)
			history = append(history, IterationRecord{Iteration: iteration, Action: string(plan.Action), Tool: plan.Tool, Reflection: lastReflection})
		}
	}

	// Iterations exhausted: best-effort partial result from whatever
	// sources were accumulated.
	c.logger.Printf("max iterations (%d) reached for session %s", maxIterations, session.ID)
	partial := c.generatePartialResult(ctx, goal, userContext, history, searchResults, lastReflection)
	c.sessions.Log(session.ID, PhaseComplete, 0, map[string]interface{}{
		"status":         "timeout",
		"message":        fmt.Sprintf("Max iterations (%d) reached", maxIterations),
		"partial_output": partial,
	})
	c.finish(session, StatusTimeout, partial, maxIterations)
	return session
}

// finish records the terminal transition. All session mutation goes
// through the session log's mutex; HTTP readers may be serializing the
// session while the run goroutine is still inside the loop.
func (c *AgentController) finish(session *Session, status SessionStatus, output map[string]interface{}, iterations int) {
	if c.sessions.Complete(session.ID, status, output, iterations) {
		c.telemetry.RecordTerminal(string(status))
	}
}

// sense gathers the user's learning context. A failed sense is logged
// and the loop continues with an empty context.
func (c *AgentController) sense(ctx context.Context, session *Session, userID string) map[string]interface{} {
	result := c.registry.Execute(ctx, "get-user-context", map[string]interface{}{"user_id": userID})
	if errMsg, ok := result["error"]; ok {
		c.sessions.Log(session.ID, PhaseSense, 1, map[string]interface{}{"error": errMsg, "status": "failed"})
		return map[string]interface{}{}
	}
	c.sessions.Log(session.ID, PhaseSense, 1, map[string]interface{}{
		"user_context": result,
		"message":      "Successfully gathered user learning context",
	})
	return result
}

// plan asks the LLM for the next action. Failures never abort the run:
// an LLM error becomes a synthetic complete carrying the problem.
func (c *AgentController) plan(ctx context.Context, session *Session, goal string, userContext map[string]interface{}, history []IterationRecord, iteration int) AgentPlan {
	prompt := buildPlanningPrompt(goal, userContext, c.registry.SchemasForPrompt(), history)
	response, inTok, outTok, err := c.llm.GenerateWithTokens(ctx, systemPrompt+"\n\n"+prompt, c.config.LLM.Model, GenerateOptions{
		Temperature: c.config.LLM.Temperature,
		MaxTokens:   500,
	})
	if err != nil {
		c.logger.Printf("planning failed for session %s: %v", session.ID, err)
		c.sessions.Log(session.ID, PhasePlan, iteration, map[string]interface{}{"error": err.Error(), "status": "failed"})
		return AgentPlan{
			Action:    ActionComplete,
			Message:   fmt.Sprintf("Planning failed: %v", err),
			Reasoning: "Error in planning phase",
			Plan:      map[string]interface{}{"error": err.Error()},
		}
	}
	c.telemetry.RecordLLMUsage(c.config.LLM.Model, inTok, outTok, c.llm.CalculateCost(c.config.LLM.Model, inTok, outTok))

	plan := ParsePlan(response)
	c.sessions.Log(session.ID, PhasePlan, iteration, map[string]interface{}{
		"plan":         plan,
		"llm_response": response,
	})
	return plan
}

// act executes the planned tool call through the registry boundary.
func (c *AgentController) act(ctx context.Context, session *Session, plan AgentPlan, iteration int) map[string]interface{} {
	result := c.registry.Execute(ctx, plan.Tool, plan.Args)
	_, failed := result["error"]
	c.telemetry.RecordToolExecution(plan.Tool, !failed)

	preview := fmt.Sprintf("%v", result)
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	c.sessions.Log(session.ID, PhaseAct, iteration, map[string]interface{}{
		"tool":           plan.Tool,
		"args":           plan.Args,
		"result_preview": preview,
	})
	return result
}

// executeApprovedPlan runs each approved research query through the
// web-search tool and merges the results.
func (c *AgentController) executeApprovedPlan(ctx context.Context, session *Session, queries []string, iteration int) map[string]interface{} {
	merged := []interface{}{}
	errs := []interface{}{}
	for _, q := range queries {
		result := c.registry.Execute(ctx, "web-search", map[string]interface{}{"query": q})
		_, failed := result["error"]
		c.telemetry.RecordToolExecution("web-search", !failed)
		if failed {
			errs = append(errs, result["error"])
			continue
		}
		if results, ok := result["results"].([]interface{}); ok {
			merged = append(merged, results...)
		}
	}
	c.sessions.Log(session.ID, PhaseAct, iteration, map[string]interface{}{
		"tool":    "web-search",
		"queries": queries,
		"count":   len(merged),
	})
	out := map[string]interface{}{"results": merged, "count": len(merged)}
	if len(errs) > 0 && len(merged) == 0 {
		out["error"] = fmt.Sprintf("all %d approved searches failed: %v", len(queries), errs)
	}
	return out
}

// observe summarizes and logs the tool result.
func (c *AgentController) observe(session *Session, plan AgentPlan, result map[string]interface{}, iteration int) map[string]interface{} {
	summary := SummarizeResult(result)
	obs := Observation{Tool: plan.Tool, Status: "success", Summary: summary}
	if errMsg, ok := result["error"].(string); ok {
		obs.Status = "failed"
		obs.Error = errMsg
	}
	c.sessions.Log(session.ID, PhaseObserve, iteration, map[string]interface{}{
		"tool":           obs.Tool,
		"status":         obs.Status,
		"result_summary": obs.Summary,
		"error":          obs.Error,
	})
	return summary
}

// reflect evaluates progress after an acted iteration.
func (c *AgentController) reflect(ctx context.Context, session *Session, goal string, userContext map[string]interface{}, plan AgentPlan, summary map[string]interface{}, iteration int) string {
	prompt := buildReflectionPrompt(goal, userContext, plan, summary)
	reflection, inTok, outTok, err := c.llm.GenerateWithTokens(ctx, systemPrompt+"\n\n"+prompt, c.config.LLM.Model, GenerateOptions{
		Temperature: c.config.LLM.Temperature,
		MaxTokens:   300,
	})
	if err != nil {
		fallback := fmt.Sprintf("Error in reflection: %v", err)
		c.sessions.Log(session.ID, PhaseReflect, iteration, map[string]interface{}{"error": err.Error(), "fallback": fallback})
		return fallback
	}
	c.telemetry.RecordLLMUsage(c.config.LLM.Model, inTok, outTok, c.llm.CalculateCost(c.config.LLM.Model, inTok, outTok))
	c.sessions.Log(session.ID, PhaseReflect, iteration, map[string]interface{}{"reflection": reflection})
	return reflection
}

// generatePartialResult builds a best-effort digest from accumulated
// sources when the loop runs out of iterations. The LLM synthesis has
// a deterministic template fallback so a timeout always produces
// usable output.
func (c *AgentController) generatePartialResult(ctx context.Context, goal string, userContext map[string]interface{}, history []IterationRecord, searchResults []map[string]interface{}, lastReflection string) map[string]interface{} {
	maxSources := c.config.Agent.MaxPartialSrcs
	if maxSources <= 0 {
		maxSources = 10
	}

	sources := []map[string]interface{}{}
	for _, r := range searchResults {
		if len(sources) >= maxSources {
			break
		}
		snippet := str(r["snippet"])
		if len(snippet) > 150 {
			snippet = snippet[:150]
		}
		title := str(r["title"])
		if title == "" {
			title = "Untitled"
		}
		sources = append(sources, map[string]interface{}{
			"title":        title,
			"url":          str(r["url"]),
			"snippet":      snippet,
			"published_at": str(r["published_at"]),
		})
	}

	searchIterations := []int{}
	for _, h := range history {
		if h.Tool == "search-content" {
			searchIterations = append(searchIterations, h.Iteration)
		}
	}
	if lastReflection == "" {
		lastReflection = "None"
	}

	base := map[string]interface{}{
		"iterations_used": len(history),
		"max_iterations":  c.config.Agent.MaxIterations,
		"goal":            goal,
		"sources":         sources,
		"status":          "partial",
	}

	prompt := buildPartialResultPrompt(goal, userContext, len(history), searchIterations, lastReflection, sources)
	response, err := c.llm.Generate(ctx, systemPrompt+"\n\n"+prompt, c.config.LLM.Model, GenerateOptions{
		Temperature: c.config.LLM.Temperature,
		MaxTokens:   800,
	})
	if err == nil {
		if parsed, perr := ParseJSONResponse(response); perr == nil {
			for k, v := range base {
				parsed[k] = v
			}
			return parsed
		}
	}
	c.logger.Printf("partial result synthesis failed, using template fallback")

	// Deterministic fallback: template digest from goal + context.
	topics := ""
	week := interface{}("N/A")
	if userContext != nil {
		if w, ok := userContext["week"]; ok {
			week = w
		}
		if ts, ok := userContext["topics"].([]interface{}); ok {
			for i, t := range ts {
				if i > 0 {
					topics += ", "
				}
				topics += str(t)
			}
		}
	}
	fallback := map[string]interface{}{
		"warning": fmt.Sprintf("Agent reached maximum iterations (%d) without fully completing your goal.", c.config.Agent.MaxIterations),
		"insights": []interface{}{
			fmt.Sprintf("Your learning goal was: %s", goal),
			fmt.Sprintf("You are currently on Week %v", week),
			fmt.Sprintf("Topics: %s", topics),
		},
		"sources_summary": fmt.Sprintf("Found %d potential sources, but could not synthesize them into a complete digest.", len(sources)),
		"recommendations": []interface{}{
			"Try breaking down your goal into smaller, more specific requests",
			"Search directly for specific topics you want to learn about",
			"Use the search-content tool with more specific queries",
		},
		"missing": []interface{}{
			"Could not find sufficient relevant content within iteration limit",
			"May need to refine search criteria or add more content sources",
		},
		"assumptions": []interface{}{
			"Assumed intermediate difficulty level based on user profile",
			"Could not verify content quality due to iteration limit",
		},
	}
	for k, v := range base {
		fallback[k] = v
	}
	return fallback
}

// authorize returns ErrApprovalRequired when a gated tool lacks the
// explicit human grant.
func authorize(tool string, approvalGranted bool) error {
	if approvalGranted {
		return nil
	}
	return budget.ErrApprovalRequired{Tool: tool}
}

func proposedQueries(plan map[string]interface{}) []string {
	if plan == nil {
		return nil
	}
	raw, ok := plan["queries"].([]interface{})
	if !ok {
		raw, ok = plan["searches"].([]interface{})
	}
	if !ok {
		return nil
	}
	queries := make([]string, 0, len(raw))
	for _, q := range raw {
		if s := str(q); s != "" {
			queries = append(queries, s)
		}
	}
	return queries
}

func accumulateSearchResults(acc []map[string]interface{}, result map[string]interface{}) []map[string]interface{} {
	results, ok := result["results"].([]interface{})
	if !ok {
		return acc
	}
	for _, r := range results {
		if m, ok := r.(map[string]interface{}); ok {
			acc = append(acc, m)
		}
	}
	return acc
}
