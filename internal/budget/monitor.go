package budget

import (
	"fmt"
	"sync"
	"time"
)

// Monitor tracks actual usage against configured limits during execution.
type Monitor struct {
	config   Config
	attempts int
	costUsed float64
	start    time.Time
	mu       sync.Mutex
}

// NewMonitor clones the provided config and starts the clock.
func NewMonitor(cfg Config) *Monitor {
	return NewMonitorAt(cfg, time.Now())
}

// NewMonitorAt is like NewMonitor with an explicit start time, for
// callers resuming tracking of an operation that began earlier.
func NewMonitorAt(cfg Config, start time.Time) *Monitor {
	return &Monitor{
		config: cfg.Clone(),
		start:  start,
	}
}

// AddAttempt records one attempt, returning an error once the limit is breached.
func (m *Monitor) AddAttempt() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.config.MaxAttempts != nil && m.attempts > *m.config.MaxAttempts {
		return ErrExceeded{
			Kind:  "attempts",
			Usage: fmt.Sprintf("%d attempts", m.attempts),
			Limit: fmt.Sprintf("%d attempts", *m.config.MaxAttempts),
		}
	}
	return nil
}

// AddCost records incremental LLM spend against the cost limit.
func (m *Monitor) AddCost(cost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costUsed += cost
	if m.config.MaxCost != nil && m.costUsed > *m.config.MaxCost {
		return ErrExceeded{
			Kind:  "cost",
			Usage: fmt.Sprintf("$%.4f", m.costUsed),
			Limit: fmt.Sprintf("$%.4f", *m.config.MaxCost),
		}
	}
	return nil
}

// CheckTime verifies elapsed wall-clock time against the configured limit.
func (m *Monitor) CheckTime() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.MaxTimeSeconds == nil || *m.config.MaxTimeSeconds <= 0 {
		return nil
	}
	elapsed := time.Since(m.start)
	limit := time.Duration(*m.config.MaxTimeSeconds) * time.Second
	if elapsed > limit {
		return ErrExceeded{
			Kind:  "time",
			Usage: elapsed.String(),
			Limit: limit.String(),
		}
	}
	return nil
}

// Usage returns the accumulated metrics.
func (m *Monitor) Usage() (attempts int, cost float64, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts, m.costUsed, time.Since(m.start)
}

// Config returns a clone of the underlying budget config.
func (m *Monitor) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.Clone()
}
