package capability

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

type stubTool struct {
	name     string
	approval bool
	validate func(map[string]interface{}) error
	execute  func(context.Context, map[string]interface{}) (map[string]interface{}, error)
}

func (s stubTool) Name() string { return s.name }
func (s stubTool) Schema() ToolSchema {
	return ToolSchema{Name: s.name, Description: "stub", RequiresApproval: s.approval}
}
func (s stubTool) ValidateInput(args map[string]interface{}) error {
	if s.validate != nil {
		return s.validate(args)
	}
	return nil
}
func (s stubTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	if s.execute != nil {
		return s.execute(ctx, args)
	}
	return map[string]interface{}{"ok": true}, nil
}

func TestRegisterAndExecute(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(stubTool{name: "echo"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	out := r.Execute(context.Background(), "echo", nil)
	if out["ok"] != true {
		t.Fatalf("expected success result, got %v", out)
	}
}

func TestUnknownToolListsAvailable(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(stubTool{name: "alpha"})
	_ = r.Register(stubTool{name: "beta"})

	out := r.Execute(context.Background(), "gamma", nil)
	msg, _ := out["error"].(string)
	if msg == "" {
		t.Fatalf("expected error result, got %v", out)
	}
	if !strings.Contains(msg, "alpha") || !strings.Contains(msg, "beta") {
		t.Fatalf("error should list available tools: %s", msg)
	}
	if out["tool"] != "gamma" {
		t.Fatalf("error result should name the tool: %v", out)
	}
}

func TestExecutionErrorBecomesData(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(stubTool{
		name: "boom",
		execute: func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return nil, fmt.Errorf("upstream down")
		},
	})
	out := r.Execute(context.Background(), "boom", nil)
	if out["error"] != "upstream down" || out["tool"] != "boom" {
		t.Fatalf("expected error map, got %v", out)
	}
}

func TestValidationErrorBecomesData(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(stubTool{
		name: "strict",
		validate: func(args map[string]interface{}) error {
			return fmt.Errorf("query is required")
		},
	})
	out := r.Execute(context.Background(), "strict", nil)
	msg, _ := out["error"].(string)
	if !strings.Contains(msg, "validation failed") {
		t.Fatalf("expected validation error map, got %v", out)
	}
}

func TestPanicBecomesData(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(stubTool{
		name: "panicky",
		execute: func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			panic("nil deref")
		},
	})
	out := r.Execute(context.Background(), "panicky", nil)
	msg, _ := out["error"].(string)
	if !strings.Contains(msg, "panicked") {
		t.Fatalf("expected panic converted to data, got %v", out)
	}
}

func TestDuplicateRegisterOverwrites(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(stubTool{name: "dup"})
	_ = r.Register(stubTool{
		name: "dup",
		execute: func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"version": 2}, nil
		},
	})
	out := r.Execute(context.Background(), "dup", nil)
	if out["version"] != 2 {
		t.Fatalf("expected overwritten tool to run, got %v", out)
	}
	if len(r.Names()) != 1 {
		t.Fatalf("expected single registration, got %v", r.Names())
	}
}

func TestRequiresApproval(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(stubTool{name: "web-search", approval: true})
	_ = r.Register(stubTool{name: "search-content"})
	if !r.RequiresApproval("web-search") {
		t.Fatalf("expected approval flag")
	}
	if r.RequiresApproval("search-content") || r.RequiresApproval("missing") {
		t.Fatalf("unexpected approval flag")
	}
}

func TestSchemasForPrompt(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(stubTool{name: "web-search", approval: true})
	prompt := r.SchemasForPrompt()
	if !strings.Contains(prompt, "### web-search") {
		t.Fatalf("missing tool header: %s", prompt)
	}
	if !strings.Contains(prompt, "**Requires approval**: yes") {
		t.Fatalf("missing approval marker: %s", prompt)
	}
}
