package telemetry

import (
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
)

// Telemetry provides monitoring and cost tracking for agent runs.
// Prometheus metrics are served by the HTTP server's /metrics endpoint;
// traces go through the global OTel tracer provider.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger
	tracer trace.Tracer

	iterations     prometheus.Counter
	toolExecutions *prometheus.CounterVec
	terminals      *prometheus.CounterVec
	gateAttempts   prometheus.Counter
	llmTokens      *prometheus.CounterVec

	mu        sync.Mutex
	totalCost float64
}

var (
	registerOnce sync.Once

	iterationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coach_agent_iterations_total",
		Help: "Control loop iterations executed across all sessions.",
	})
	toolExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_tool_executions_total",
		Help: "Tool executions by tool name and outcome.",
	}, []string{"tool", "outcome"})
	terminalStatusTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_session_terminal_total",
		Help: "Sessions finished by terminal status.",
	}, []string{"status"})
	gateAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coach_quality_gate_attempts_total",
		Help: "Quality gate synthesis attempts including retries.",
	})
	llmTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coach_llm_tokens_total",
		Help: "LLM tokens consumed by direction.",
	}, []string{"model", "direction"})
)

// NewTelemetry creates a telemetry instance. Metric registration is
// process-wide; constructing multiple instances is safe.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	registerOnce.Do(func() {
		prometheus.MustRegister(iterationsTotal, toolExecutionsTotal, terminalStatusTotal, gateAttemptsTotal, llmTokensTotal)
	})
	return &Telemetry{
		config:         cfg,
		logger:         log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		tracer:         otel.Tracer("coach/agent"),
		iterations:     iterationsTotal,
		toolExecutions: toolExecutionsTotal,
		terminals:      terminalStatusTotal,
		gateAttempts:   gateAttemptsTotal,
		llmTokens:      llmTokensTotal,
	}
}

// Tracer exposes the OTel tracer used for run spans.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil {
		return otel.Tracer("coach/agent")
	}
	return t.tracer
}

// RecordIteration counts one control loop iteration.
func (t *Telemetry) RecordIteration() {
	if t == nil || !t.config.Enabled {
		return
	}
	t.iterations.Inc()
}

// RecordToolExecution counts a tool execution and its outcome.
func (t *Telemetry) RecordToolExecution(tool string, success bool) {
	if t == nil || !t.config.Enabled {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	t.toolExecutions.WithLabelValues(tool, outcome).Inc()
}

// RecordTerminal counts a finished session by terminal status.
func (t *Telemetry) RecordTerminal(status string) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.terminals.WithLabelValues(status).Inc()
}

// RecordGateAttempt counts one quality gate synthesis attempt.
func (t *Telemetry) RecordGateAttempt() {
	if t == nil || !t.config.Enabled {
		return
	}
	t.gateAttempts.Inc()
}

// RecordLLMUsage tracks token throughput and accumulated spend.
func (t *Telemetry) RecordLLMUsage(model string, inputTokens, outputTokens int64, cost float64) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	t.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	if t.config.CostTracking {
		t.mu.Lock()
		t.totalCost += cost
		t.mu.Unlock()
	}
}

// TotalCost reports accumulated LLM spend since process start.
func (t *Telemetry) TotalCost() float64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalCost
}
