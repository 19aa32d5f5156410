package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/widip/mcp-gateway/internal/metrics"
)

// Workflow is the execution contract. Implementations supply identity and
// timing; Validate, OnSuccess and OnError have sensible no-op defaults via
// Base.
type Workflow interface {
	Name() string
	Description() string
	Timeout() time.Duration
	// SafeguardLevel is documentation only; enforcement happens at the
	// gateway when the workflow calls tools.
	SafeguardLevel() string

	Validate(ctx context.Context, wc *Context) error
	Execute(ctx context.Context, wc *Context) (map[string]any, error)
	OnSuccess(ctx context.Context, wc *Context, result map[string]any)
	OnError(ctx context.Context, wc *Context, err error)
}

// Base provides default hook implementations for embedding.
type Base struct{}

func (Base) Validate(context.Context, *Context) error            { return nil }
func (Base) OnSuccess(context.Context, *Context, map[string]any) {}
func (Base) OnError(context.Context, *Context, error)            {}

// ResultError is the error member of the run envelope.
type ResultError struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Result is the uniform run envelope every trigger path produces.
type Result struct {
	Success     bool           `json:"success"`
	WorkflowID  string         `json:"workflow_id"`
	Workflow    string         `json:"workflow"`
	Data        map[string]any `json:"result,omitempty"`
	Error       *ResultError   `json:"error,omitempty"`
	ElapsedMS   int64          `json:"elapsed_ms"`
	ToolsCalled int            `json:"tools_called_count"`
}

// Run executes one workflow with the full lifecycle: validate, execute
// under the workflow's timeout, then exactly one of OnSuccess or OnError.
// Every outcome funnels into the envelope; nothing escapes.
func Run(ctx context.Context, wf Workflow, trigger map[string]any) Result {
	wc := NewContext(wf.Name(), trigger)
	logger := slog.With("workflow", wf.Name(), "workflow_id", wc.WorkflowID)

	envelope := func(success bool, data map[string]any, resErr *ResultError) Result {
		return Result{
			Success:     success,
			WorkflowID:  wc.WorkflowID,
			Workflow:    wf.Name(),
			Data:        data,
			Error:       resErr,
			ElapsedMS:   wc.ElapsedMS(),
			ToolsCalled: len(wc.ToolsCalled),
		}
	}

	if err := wf.Validate(ctx, wc); err != nil {
		metrics.WorkflowRuns.WithLabelValues(wf.Name(), "invalid").Inc()
		logger.Warn("workflow validation failed", "error", err)
		wf.OnError(ctx, wc, err)
		return envelope(false, nil, &ResultError{Kind: "validation", Message: err.Error()})
	}

	timeout := wf.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := execute(runCtx, wf, wc)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		tErr := &TimeoutError{Workflow: wf.Name(), Timeout: timeout}
		metrics.WorkflowRuns.WithLabelValues(wf.Name(), "timeout").Inc()
		logger.Error("workflow timed out", "timeout", timeout, "elapsed_ms", wc.ElapsedMS())
		wf.OnError(ctx, wc, tErr)
		return envelope(false, nil, &ResultError{Kind: "timeout", Message: tErr.Error()})

	case err != nil:
		metrics.WorkflowRuns.WithLabelValues(wf.Name(), "error").Inc()
		logger.Error("workflow failed", "error", err, "elapsed_ms", wc.ElapsedMS())
		wf.OnError(ctx, wc, err)
		return envelope(false, nil, classifyRunError(err))

	default:
		metrics.WorkflowRuns.WithLabelValues(wf.Name(), "ok").Inc()
		logger.Info("workflow completed", "elapsed_ms", wc.ElapsedMS(), "tools_called", len(wc.ToolsCalled))
		wf.OnSuccess(ctx, wc, result)
		return envelope(true, result, nil)
	}
}

// execute runs Execute in its own goroutine so the deadline fires even when
// the workflow does not poll the context. A panic becomes a generic error.
func execute(ctx context.Context, wf Workflow, wc *Context) (map[string]any, error) {
	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("workflow panic: %v", r)}
			}
		}()
		res, err := wf.Execute(ctx, wc)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func classifyRunError(err error) *ResultError {
	var wErr *Error
	if errors.As(err, &wErr) {
		return &ResultError{Kind: "workflow", Message: wErr.Message, Details: wErr.Details}
	}
	var blocked *SafeguardBlockedError
	if errors.As(err, &blocked) {
		return &ResultError{
			Kind:    "safeguard_blocked",
			Message: blocked.Message,
			Details: map[string]any{"tool": blocked.Tool, "level": blocked.Level, "approval_hint": blocked.ApprovalHint},
		}
	}
	var callErr *MCPCallError
	if errors.As(err, &callErr) {
		return &ResultError{
			Kind:    "mcp_call",
			Message: callErr.Message,
			Details: map[string]any{"tool": callErr.Tool, "code": callErr.Code},
		}
	}
	return &ResultError{Kind: "internal", Message: err.Error()}
}
