package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubWorkflow lets each test shape the lifecycle.
type stubWorkflow struct {
	Base
	name    string
	timeout time.Duration

	validateErr error
	executeFn   func(ctx context.Context, wc *Context) (map[string]any, error)

	successCalls int
	errorCalls   int
	lastErr      error
}

func (s *stubWorkflow) Name() string           { return s.name }
func (s *stubWorkflow) Description() string    { return "stub" }
func (s *stubWorkflow) Timeout() time.Duration { return s.timeout }
func (s *stubWorkflow) SafeguardLevel() string { return "L0" }

func (s *stubWorkflow) Validate(_ context.Context, _ *Context) error { return s.validateErr }

func (s *stubWorkflow) Execute(ctx context.Context, wc *Context) (map[string]any, error) {
	return s.executeFn(ctx, wc)
}

func (s *stubWorkflow) OnSuccess(_ context.Context, _ *Context, _ map[string]any) {
	s.successCalls++
}

func (s *stubWorkflow) OnError(_ context.Context, _ *Context, err error) {
	s.errorCalls++
	s.lastErr = err
}

func TestRunSuccessEnvelope(t *testing.T) {
	wf := &stubWorkflow{
		name:    "ok_flow",
		timeout: time.Second,
		executeFn: func(_ context.Context, _ *Context) (map[string]any, error) {
			return map[string]any{"handled": 3}, nil
		},
	}

	result := Run(context.Background(), wf, nil)

	assert.True(t, result.Success)
	assert.NotEmpty(t, result.WorkflowID)
	assert.Equal(t, map[string]any{"handled": 3}, result.Data)
	assert.Nil(t, result.Error)
	assert.Equal(t, 1, wf.successCalls)
	assert.Equal(t, 0, wf.errorCalls)
}

func TestRunTimeout(t *testing.T) {
	wf := &stubWorkflow{
		name:    "slow_flow",
		timeout: 50 * time.Millisecond,
		executeFn: func(_ context.Context, _ *Context) (map[string]any, error) {
			// Deliberately ignores the context; the runner must still
			// enforce the deadline.
			time.Sleep(2 * time.Second)
			return map[string]any{}, nil
		},
	}

	start := time.Now()
	result := Run(context.Background(), wf, nil)
	elapsed := time.Since(start)

	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, "timeout", result.Error.Kind)
	assert.Less(t, elapsed, time.Second)
	assert.GreaterOrEqual(t, result.ElapsedMS, int64(50))

	assert.Equal(t, 1, wf.errorCalls)
	var tErr *TimeoutError
	assert.True(t, errors.As(wf.lastErr, &tErr))
}

func TestRunValidationFailure(t *testing.T) {
	wf := &stubWorkflow{
		name:        "invalid_flow",
		timeout:     time.Second,
		validateErr: &ValidationError{Workflow: "invalid_flow", Reason: "upstream down"},
		executeFn: func(_ context.Context, _ *Context) (map[string]any, error) {
			t.Fatal("execute must not run after failed validation")
			return nil, nil
		},
	}

	result := Run(context.Background(), wf, nil)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, "validation", result.Error.Kind)
	assert.Equal(t, 1, wf.errorCalls)
}

func TestRunWorkflowError(t *testing.T) {
	wf := &stubWorkflow{
		name:    "failing_flow",
		timeout: time.Second,
		executeFn: func(_ context.Context, _ *Context) (map[string]any, error) {
			return nil, &Error{Workflow: "failing_flow", Message: "ticket gone", Details: map[string]any{"ticket_id": 42}}
		},
	}

	result := Run(context.Background(), wf, nil)
	require.NotNil(t, result.Error)
	assert.Equal(t, "workflow", result.Error.Kind)
	assert.Equal(t, "ticket gone", result.Error.Message)
	assert.Equal(t, 42, result.Error.Details["ticket_id"])
}

func TestRunSafeguardBlock(t *testing.T) {
	wf := &stubWorkflow{
		name:    "blocked_flow",
		timeout: time.Second,
		executeFn: func(_ context.Context, _ *Context) (map[string]any, error) {
			return nil, &SafeguardBlockedError{Tool: "ad_reset_password", Level: "L3", Message: "approval required"}
		},
	}

	result := Run(context.Background(), wf, nil)
	require.NotNil(t, result.Error)
	assert.Equal(t, "safeguard_blocked", result.Error.Kind)
	assert.Equal(t, "L3", result.Error.Details["level"])
}

func TestRunPanicBecomesEnvelope(t *testing.T) {
	wf := &stubWorkflow{
		name:    "panicky_flow",
		timeout: time.Second,
		executeFn: func(_ context.Context, _ *Context) (map[string]any, error) {
			panic("boom")
		},
	}

	result := Run(context.Background(), wf, nil)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Message, "boom")
}

func TestRunCountsToolCalls(t *testing.T) {
	wf := &stubWorkflow{
		name:    "tooly_flow",
		timeout: time.Second,
		executeFn: func(_ context.Context, wc *Context) (map[string]any, error) {
			wc.RecordToolCall("glpi_get_ticket", map[string]any{"ticket_id": 1}, true, nil, time.Millisecond)
			wc.RecordToolCall("notify_slack", nil, true, nil, time.Millisecond)
			return map[string]any{}, nil
		},
	}

	result := Run(context.Background(), wf, nil)
	assert.Equal(t, 2, result.ToolsCalled)
}
