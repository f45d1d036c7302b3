package core

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// SessionLog stores agent sessions and their phase logs in memory.
// The HTTP layer exports them for UI display; persistence of the final
// session state is the store's job.
type SessionLog struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *log.Logger
}

// NewSessionLog builds an empty session log store.
func NewSessionLog(logger *log.Logger) *SessionLog {
	if logger == nil {
		logger = log.New(log.Writer(), "[SESSION] ", log.LstdFlags)
	}
	return &SessionLog{sessions: make(map[string]*Session), logger: logger}
}

// Start registers a new running session.
func (l *SessionLog) Start(session *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[session.ID] = session
	l.logger.Printf("started session %s for user %s", session.ID, session.UserID)
}

// Log appends a phase entry to a session.
func (l *SessionLog) Log(sessionID string, phase Phase, iteration int, content map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sess, ok := l.sessions[sessionID]
	if !ok {
		l.logger.Printf("session %s not found", sessionID)
		return
	}
	sess.Logs = append(sess.Logs, LogEntry{
		Timestamp: time.Now(),
		Phase:     phase,
		Iteration: iteration,
		Content:   content,
	})
}

// Complete marks a session finished with its terminal status, output
// and iteration count. It is the only way a session becomes terminal;
// a second call on an already-terminal session is a no-op and returns
// false.
func (l *SessionLog) Complete(sessionID string, status SessionStatus, output map[string]interface{}, iterations int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	sess, ok := l.sessions[sessionID]
	if !ok {
		l.logger.Printf("session %s not found", sessionID)
		return false
	}
	if sess.Status.IsTerminal() {
		return false
	}
	now := time.Now()
	sess.CompletedAt = &now
	sess.Status = status
	sess.IterationCount = iterations
	if output != nil {
		sess.Output = output
	}
	l.logger.Printf("completed session %s with status: %s", sessionID, status)
	return true
}

// snapshot copies a session so callers can read it while the run
// goroutine is still appending logs. Caller must hold l.mu.
func snapshot(sess *Session) *Session {
	cp := *sess
	cp.Logs = make([]LogEntry, len(sess.Logs))
	copy(cp.Logs, sess.Logs)
	return &cp
}

// Get returns a point-in-time copy of the session by ID.
func (l *SessionLog) Get(sessionID string) (*Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sess, ok := l.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return snapshot(sess), true
}

// Logs returns the log entries for a session, or nil when unknown.
func (l *SessionLog) Logs(sessionID string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	sess, ok := l.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]LogEntry, len(sess.Logs))
	copy(out, sess.Logs)
	return out
}

// Clear removes one session from memory.
func (l *SessionLog) Clear(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}

// ClearAll drops every stored session.
func (l *SessionLog) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = make(map[string]*Session)
}

// ExportText renders a session's logs as formatted text for UI display.
func (l *SessionLog) ExportText(sessionID string, includeTimestamps bool) string {
	sess, ok := l.Get(sessionID)
	if !ok {
		return fmt.Sprintf("Session %s not found", sessionID)
	}

	divider := strings.Repeat("=", 60)
	var b strings.Builder
	b.WriteString(divider + "\n")
	fmt.Fprintf(&b, "Agent Session: %s\n", sess.ID)
	fmt.Fprintf(&b, "Goal: %s\n", sess.Goal)
	fmt.Fprintf(&b, "Status: %s\n", sess.Status)
	fmt.Fprintf(&b, "Started: %s\n", sess.StartedAt.Format(time.RFC3339))
	if sess.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", sess.CompletedAt.Format(time.RFC3339))
	}
	b.WriteString(divider + "\n\n")

	for _, entry := range sess.Logs {
		header := fmt.Sprintf("[%s]", entry.Phase)
		if entry.Iteration > 0 {
			header = fmt.Sprintf("[%s] Iteration %d", entry.Phase, entry.Iteration)
		}
		if includeTimestamps {
			header = fmt.Sprintf("[%s] %s", entry.Timestamp.Format("15:04:05"), header)
		}
		b.WriteString(header + "\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")

		keys := make([]string, 0, len(entry.Content))
		for k := range entry.Content {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := entry.Content[k]
			switch v.(type) {
			case map[string]interface{}, []interface{}:
				encoded, err := json.MarshalIndent(v, "    ", "  ")
				if err != nil {
					fmt.Fprintf(&b, "  %s: %v\n", k, v)
					continue
				}
				fmt.Fprintf(&b, "  %s:\n    %s\n", k, string(encoded))
			default:
				fmt.Fprintf(&b, "  %s: %v\n", k, v)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ExportJSON renders the full session as JSON.
func (l *SessionLog) ExportJSON(sessionID string) string {
	sess, ok := l.Get(sessionID)
	if !ok {
		encoded, _ := json.Marshal(map[string]string{"error": fmt.Sprintf("session %s not found", sessionID)})
		return string(encoded)
	}
	encoded, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(encoded)
}
