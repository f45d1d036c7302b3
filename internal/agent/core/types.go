package core

import (
	"context"
	"time"
)

// SessionStatus is the lifecycle state of an agent session. A run ends
// in exactly one of the terminal statuses.
type SessionStatus string

const (
	StatusRunning            SessionStatus = "running"
	StatusCompleted          SessionStatus = "completed"
	StatusNeedsClarification SessionStatus = "needs_clarification"
	StatusNeedsApproval      SessionStatus = "needs_approval"
	StatusTimeout            SessionStatus = "timeout"
	StatusFailed             SessionStatus = "failed"
)

// IsTerminal reports whether the status ends a session.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusNeedsClarification, StatusNeedsApproval, StatusTimeout, StatusFailed:
		return true
	}
	return false
}

// Phase names the control loop stages used in session logs.
type Phase string

const (
	PhaseSense    Phase = "SENSE"
	PhasePlan     Phase = "PLAN"
	PhaseAct      Phase = "ACT"
	PhaseObserve  Phase = "OBSERVE"
	PhaseReflect  Phase = "REFLECT"
	PhaseComplete Phase = "COMPLETE"
	PhaseClarify  Phase = "CLARIFY"
	PhaseApproval Phase = "PLAN_APPROVAL"
	PhaseError    Phase = "ERROR"
)

// LogEntry records one phase execution inside a session.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Phase     Phase                  `json:"phase"`
	Iteration int                    `json:"iteration,omitempty"`
	Content   map[string]interface{} `json:"content"`
}

// Session is one agent run from goal to terminal status.
type Session struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id"`
	Goal           string                 `json:"goal"`
	Status         SessionStatus          `json:"status"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	IterationCount int                    `json:"iteration_count"`
	Logs           []LogEntry             `json:"logs"`
	Output         map[string]interface{} `json:"output,omitempty"`
}

// ActionType is what the planning LLM decided to do next.
type ActionType string

const (
	ActionToolCall     ActionType = "tool_call"
	ActionComplete     ActionType = "complete"
	ActionClarify      ActionType = "clarify"
	ActionPlanApproval ActionType = "plan_approval"
)

// AgentPlan is one parsed planning decision. A response that cannot be
// parsed degrades to a synthetic complete carrying the parse error.
type AgentPlan struct {
	Action    ActionType             `json:"action"`
	Tool      string                 `json:"tool,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Reasoning string                 `json:"reasoning,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Plan      map[string]interface{} `json:"plan,omitempty"`
}

// Observation is the summarized outcome of one acted iteration.
type Observation struct {
	Tool    string                 `json:"tool,omitempty"`
	Status  string                 `json:"status"`
	Summary map[string]interface{} `json:"result_summary"`
	Error   string                 `json:"error,omitempty"`
}

// IterationRecord is the append-only history the planner sees.
type IterationRecord struct {
	Iteration  int    `json:"iteration"`
	Action     string `json:"action"`
	Tool       string `json:"tool,omitempty"`
	Reflection string `json:"reflection"`
}

// SearchResult is one accumulated source; partial results on timeout
// are synthesized from these.
type SearchResult struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Snippet     string  `json:"snippet"`
	Score       float64 `json:"score,omitempty"`
	PublishedAt string  `json:"published_at,omitempty"`
}

// GenerateOptions tunes a single LLM call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// LLMProvider abstracts the chat model used for planning, reflection,
// synthesis and evaluation.
type LLMProvider interface {
	Generate(ctx context.Context, prompt string, model string, opts GenerateOptions) (string, error)
	GenerateWithTokens(ctx context.Context, prompt string, model string, opts GenerateOptions) (text string, inputTokens int64, outputTokens int64, err error)
	CalculateCost(model string, inputTokens, outputTokens int64) float64
}
