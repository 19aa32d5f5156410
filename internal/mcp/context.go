package mcp

import (
	"time"

	"github.com/google/uuid"

	"github.com/widip/mcp-gateway/internal/secrets"
)

// AuditEntry records one tool invocation within an execution context.
// Arguments are stored redacted.
type AuditEntry struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration_ms"`
}

// CallContext is the per-request execution context: identity, audit trail
// and a mutable state bag. It lives from dispatch entry to response
// emission and then only in logs.
type CallContext struct {
	RequestID  string
	Tool       string
	CallerAddr string
	Principal  string
	StartedAt  time.Time

	Audit  []AuditEntry
	State  map[string]any
	Errors []string
}

// NewCallContext creates a context for one dispatch.
func NewCallContext(tool, callerAddr string) *CallContext {
	return &CallContext{
		RequestID:  uuid.NewString(),
		Tool:       tool,
		CallerAddr: callerAddr,
		StartedAt:  time.Now(),
		State:      make(map[string]any),
	}
}

// RecordCall appends an audit entry with the arguments redacted.
func (c *CallContext) RecordCall(tool string, args map[string]any, success bool, callErr error, duration time.Duration) {
	entry := AuditEntry{
		Tool:      tool,
		Arguments: secrets.Redact(args),
		Success:   success,
		Duration:  duration,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	c.Audit = append(c.Audit, entry)
}

// RecordError appends to the context error list.
func (c *CallContext) RecordError(err error) {
	if err != nil {
		c.Errors = append(c.Errors, err.Error())
	}
}

// Elapsed returns the time since dispatch entry.
func (c *CallContext) Elapsed() time.Duration {
	return time.Since(c.StartedAt)
}
