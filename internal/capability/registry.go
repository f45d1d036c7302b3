package capability

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
)

// ParamSpec describes a single tool parameter.
type ParamSpec struct {
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolSchema describes a tool to the planning LLM and to humans.
type ToolSchema struct {
	Name             string               `json:"name"`
	Description      string               `json:"description"`
	Parameters       map[string]ParamSpec `json:"parameters"`
	RequiresApproval bool                 `json:"requires_approval"`
	Examples         []string             `json:"examples,omitempty"`
}

// Tool is the contract every registered capability satisfies.
// Execute may return an error; the registry converts it to data so the
// control loop only ever sees result maps.
type Tool interface {
	Name() string
	Schema() ToolSchema
	ValidateInput(args map[string]interface{}) error
	Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// Registry keeps the runnable tools, keyed by name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *log.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(log.Writer(), "[TOOLS] ", log.LstdFlags)
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool. A duplicate name logs a warning and overwrites
// the previous registration.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	name := tool.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("cannot register tool with empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		r.logger.Printf("WARNING: tool %q already registered, overwriting", name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns the named tool. The error for an unknown tool lists what
// is available so the planning LLM can self-correct.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q not found. Available: [%s]", name, strings.Join(r.namesLocked(), ", "))
	}
	return tool, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiresApproval reports whether the named tool is gated on a human
// grant. Unknown tools do not require approval; they fail at Execute.
func (r *Registry) RequiresApproval(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return false
	}
	return tool.Schema().RequiresApproval
}

// Execute runs the named tool. This is the error boundary of the data
// plane: lookup failures, validation failures, execution errors and
// panics all come back as {"error": ..., "tool": ...} maps, never as
// Go errors.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (result map[string]interface{}) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("tool %q panicked: %v", name, rec)
			result = errResult(name, fmt.Sprintf("tool panicked: %v", rec))
		}
	}()

	tool, err := r.Get(name)
	if err != nil {
		return errResult(name, err.Error())
	}
	if err := tool.ValidateInput(args); err != nil {
		return errResult(name, fmt.Sprintf("validation failed: %v", err))
	}
	out, err := tool.Execute(ctx, args)
	if err != nil {
		r.logger.Printf("tool %q failed: %v", name, err)
		return errResult(name, err.Error())
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out
}

func errResult(tool, msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg, "tool": tool}
}

// SchemasForPrompt renders all tool schemas as a markdown block for
// inclusion in the planning prompt.
func (r *Registry) SchemasForPrompt() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range r.namesLocked() {
		schema := r.tools[name].Schema()
		fmt.Fprintf(&b, "### %s\n", schema.Name)
		fmt.Fprintf(&b, "**Description**: %s\n", schema.Description)
		if len(schema.Parameters) > 0 {
			b.WriteString("**Parameters**:\n")
			params := make([]string, 0, len(schema.Parameters))
			for p := range schema.Parameters {
				params = append(params, p)
			}
			sort.Strings(params)
			for _, p := range params {
				spec := schema.Parameters[p]
				required := "optional"
				if spec.Required {
					required = "required"
				}
				fmt.Fprintf(&b, "- %s (%s, %s): %s\n", p, spec.Type, required, spec.Description)
			}
		}
		if schema.RequiresApproval {
			b.WriteString("**Requires approval**: yes\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}
