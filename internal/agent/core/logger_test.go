package core

import (
	"strings"
	"testing"
	"time"
)

func newTestSession() *Session {
	return &Session{
		ID:        "sess-1",
		UserID:    "user-1",
		Goal:      "learn transformers",
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
}

func TestSessionLogLifecycle(t *testing.T) {
	store := NewSessionLog(nil)
	sess := newTestSession()
	store.Start(sess)

	store.Log(sess.ID, PhaseSense, 1, map[string]interface{}{"message": "context gathered"})
	store.Log(sess.ID, PhasePlan, 1, map[string]interface{}{"plan": map[string]interface{}{"action": "complete"}})

	if logs := store.Logs(sess.ID); len(logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs))
	}

	if !store.Complete(sess.ID, StatusCompleted, map[string]interface{}{"message": "done"}, 2) {
		t.Fatalf("first completion should apply")
	}
	got, ok := store.Get(sess.ID)
	if !ok {
		t.Fatalf("session missing")
	}
	if got.Status != StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("completion not recorded: %+v", got)
	}
	if got.IterationCount != 2 {
		t.Fatalf("iteration count not recorded: %d", got.IterationCount)
	}
	if got.Output["message"] != "done" {
		t.Fatalf("output not stored")
	}

	// Terminal sessions stay terminal.
	if store.Complete(sess.ID, StatusFailed, nil, 9) {
		t.Fatalf("second completion must be a no-op")
	}
	got, _ = store.Get(sess.ID)
	if got.Status != StatusCompleted || got.IterationCount != 2 {
		t.Fatalf("terminal state mutated: %+v", got)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	store := NewSessionLog(nil)
	sess := newTestSession()
	store.Start(sess)
	store.Log(sess.ID, PhaseSense, 1, map[string]interface{}{"message": "context gathered"})

	snap, ok := store.Get(sess.ID)
	if !ok {
		t.Fatalf("session missing")
	}
	store.Log(sess.ID, PhasePlan, 1, map[string]interface{}{"plan": "next"})
	store.Complete(sess.ID, StatusCompleted, nil, 1)

	if len(snap.Logs) != 1 || snap.Status != StatusRunning {
		t.Fatalf("snapshot must not track later writes: %+v", snap)
	}
	current, _ := store.Get(sess.ID)
	if len(current.Logs) != 2 || current.Status != StatusCompleted {
		t.Fatalf("stored session should have both entries: %+v", current)
	}
}

func TestSessionLogUnknownSession(t *testing.T) {
	store := NewSessionLog(nil)
	store.Log("missing", PhasePlan, 1, nil) // must not panic
	if logs := store.Logs("missing"); logs != nil {
		t.Fatalf("expected nil logs for unknown session")
	}
}

func TestExportText(t *testing.T) {
	store := NewSessionLog(nil)
	sess := newTestSession()
	store.Start(sess)
	store.Log(sess.ID, PhaseObserve, 2, map[string]interface{}{
		"status": "success",
		"result_summary": map[string]interface{}{
			"results_count": 3,
		},
	})

	text := store.ExportText(sess.ID, false)
	for _, want := range []string{"Agent Session: sess-1", "Goal: learn transformers", "[OBSERVE] Iteration 2", "status: success", "results_count"} {
		if !strings.Contains(text, want) {
			t.Fatalf("export missing %q:\n%s", want, text)
		}
	}

	if out := store.ExportText("missing", true); !strings.Contains(out, "not found") {
		t.Fatalf("unknown session export: %s", out)
	}
}

func TestExportJSON(t *testing.T) {
	store := NewSessionLog(nil)
	sess := newTestSession()
	store.Start(sess)
	out := store.ExportJSON(sess.ID)
	if !strings.Contains(out, `"goal": "learn transformers"`) {
		t.Fatalf("json export missing goal: %s", out)
	}
	if out := store.ExportJSON("missing"); !strings.Contains(out, "not found") {
		t.Fatalf("unknown session export: %s", out)
	}
}

func TestClear(t *testing.T) {
	store := NewSessionLog(nil)
	sess := newTestSession()
	store.Start(sess)
	store.Clear(sess.ID)
	if _, ok := store.Get(sess.ID); ok {
		t.Fatalf("session should be cleared")
	}
}
