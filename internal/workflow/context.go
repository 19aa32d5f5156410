package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/widip/mcp-gateway/internal/secrets"
)

// ToolCall is one audited tool invocation within a run.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration_ms"`
}

// Context carries per-run state: run id, trigger payload, tool-call audit
// and a mutable state bag shared between execute and the hooks.
type Context struct {
	WorkflowID string
	Workflow   string
	Trigger    map[string]any
	StartedAt  time.Time

	ToolsCalled []ToolCall
	State       map[string]any
}

// NewContext builds a run context with a fresh id.
func NewContext(workflow string, trigger map[string]any) *Context {
	return &Context{
		WorkflowID: uuid.NewString(),
		Workflow:   workflow,
		Trigger:    trigger,
		StartedAt:  time.Now(),
		State:      make(map[string]any),
	}
}

// RecordToolCall appends an audit entry with redacted arguments.
func (c *Context) RecordToolCall(tool string, args map[string]any, success bool, callErr error, duration time.Duration) {
	entry := ToolCall{
		Tool:      tool,
		Arguments: secrets.Redact(args),
		Success:   success,
		Duration:  duration,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	c.ToolsCalled = append(c.ToolsCalled, entry)
}

// ElapsedMS returns milliseconds since the run started.
func (c *Context) ElapsedMS() int64 {
	return time.Since(c.StartedAt).Milliseconds()
}
