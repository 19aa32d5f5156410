// Package workflow implements the runner side of the gateway: the workflow
// execution contract, the scheduler (interval, cron, webhook triggers), the
// typed MCP client with bounded retries, and the health-check loop that
// gates downstream workflows on upstream liveness.
package workflow

import (
	"fmt"
	"time"
)

// Error is the base workflow failure with structured details.
type Error struct {
	Workflow string
	Message  string
	Details  map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("workflow %s: %s", e.Workflow, e.Message)
}

// TimeoutError reports a run that exceeded its configured timeout.
type TimeoutError struct {
	Workflow string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("workflow %s timed out after %s", e.Workflow, e.Timeout)
}

// MCPCallError reports a tool call that failed at the dispatcher, carrying
// the stable numeric code.
type MCPCallError struct {
	Tool    string
	Code    int
	Message string
}

func (e *MCPCallError) Error() string {
	return fmt.Sprintf("tool %s failed (%d): %s", e.Tool, e.Code, e.Message)
}

// SafeguardBlockedError is a terminal gate refusal. It is never retried;
// the caller may open an approval using the hint.
type SafeguardBlockedError struct {
	Tool         string
	Level        string
	Message      string
	ApprovalHint string
	PendingID    string
}

func (e *SafeguardBlockedError) Error() string {
	return fmt.Sprintf("tool %s blocked by SAFEGUARD (%s): %s", e.Tool, e.Level, e.Message)
}

// ValidationError reports a failed pre-run validation.
type ValidationError struct {
	Workflow string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %s validation failed: %s", e.Workflow, e.Reason)
}
