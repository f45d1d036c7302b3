package budget

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	neg := -1
	cfg := Config{MaxAttempts: &neg}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}

	attempts := 3
	secs := int64(900)
	cfg = Config{MaxAttempts: &attempts, MaxTimeSeconds: &secs}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMergeClone(t *testing.T) {
	attempts := 3
	base := Config{MaxAttempts: &attempts, Metadata: map[string]interface{}{"phase": "gate"}}
	override := Config{Metadata: map[string]interface{}{"phase": "loop"}}
	merged := Merge(base, override)
	if merged.Metadata["phase"].(string) != "loop" {
		t.Fatalf("expected metadata override")
	}
	if merged.MaxAttempts == nil || *merged.MaxAttempts != attempts {
		t.Fatalf("expected max attempts to persist")
	}
	// ensure clone
	merged.Metadata["phase"] = "changed"
	if base.Metadata["phase"].(string) != "gate" {
		t.Fatalf("metadata should be isolated from base")
	}
}

func TestMonitorAttempts(t *testing.T) {
	max := 2
	mon := NewMonitor(Config{MaxAttempts: &max})
	if err := mon.AddAttempt(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mon.AddAttempt(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := mon.AddAttempt()
	if err == nil {
		t.Fatalf("expected attempts budget breach")
	}
	var exceeded ErrExceeded
	if !errors.As(err, &exceeded) || exceeded.Kind != "attempts" {
		t.Fatalf("expected attempts ErrExceeded, got %v", err)
	}
}

func TestMonitorCheckTime(t *testing.T) {
	secs := int64(0)
	mon := NewMonitor(Config{MaxTimeSeconds: &secs})
	if err := mon.CheckTime(); err != nil {
		t.Fatalf("zero limit should disable time checks: %v", err)
	}

	one := int64(1)
	mon = NewMonitor(Config{MaxTimeSeconds: &one})
	mon.start = time.Now().Add(-2 * time.Second)
	err := mon.CheckTime()
	var exceeded ErrExceeded
	if !errors.As(err, &exceeded) || exceeded.Kind != "time" {
		t.Fatalf("expected time ErrExceeded, got %v", err)
	}
}
