package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, tools ...*Tool) *Dispatcher {
	t.Helper()
	r := NewRegistry()
	for _, tool := range tools {
		require.NoError(t, r.Register(tool))
	}
	return NewDispatcher(r, 200*time.Millisecond)
}

func echoTool() *Tool {
	return &Tool{
		Name: "echo",
		Parameters: []Parameter{
			StringParam("message", "", true),
			{Name: "count", Type: TypeInteger, Default: float64(1)},
			EnumParam("mode", "", false, "plain", "loud"),
		},
		Handler: func(_ context.Context, _ *CallContext, args map[string]any) (any, error) {
			return args, nil
		},
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newTestDispatcher(t)
	cc := NewCallContext("nope", "test")

	_, errObj := d.Dispatch(context.Background(), "nope", nil, cc)
	require.NotNil(t, errObj)
	assert.Equal(t, CodeToolNotFound, errObj.Code)
}

func TestDispatchValidation(t *testing.T) {
	d := newTestDispatcher(t, echoTool())

	cases := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{}},
		{"wrong type", map[string]any{"message": 42}},
		{"fractional integer", map[string]any{"message": "hi", "count": 1.5}},
		{"enum violation", map[string]any{"message": "hi", "mode": "whisper"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cc := NewCallContext("echo", "test")
			_, errObj := d.Dispatch(context.Background(), "echo", tc.args, cc)
			require.NotNil(t, errObj)
			assert.Equal(t, CodeValidation, errObj.Code)
		})
	}
}

func TestDispatchAppliesDefaults(t *testing.T) {
	d := newTestDispatcher(t, echoTool())
	cc := NewCallContext("echo", "test")

	result, errObj := d.Dispatch(context.Background(), "echo", map[string]any{"message": "hi"}, cc)
	require.Nil(t, errObj)
	assert.Equal(t, float64(1), result.(map[string]any)["count"])
}

func TestDispatchTimeout(t *testing.T) {
	slow := &Tool{
		Name: "slow",
		Handler: func(ctx context.Context, _ *CallContext, _ map[string]any) (any, error) {
			select {
			case <-time.After(5 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	d := newTestDispatcher(t, slow)
	cc := NewCallContext("slow", "test")

	start := time.Now()
	_, errObj := d.Dispatch(context.Background(), "slow", nil, cc)
	require.NotNil(t, errObj)
	assert.Equal(t, CodeTimeout, errObj.Code)
	assert.Less(t, time.Since(start), time.Second, "deadline must interrupt the wait")
}

func TestDispatchPanicRecovery(t *testing.T) {
	angry := &Tool{
		Name: "angry",
		Handler: func(_ context.Context, _ *CallContext, _ map[string]any) (any, error) {
			panic("boom")
		},
	}
	d := newTestDispatcher(t, angry)
	cc := NewCallContext("angry", "test")

	_, errObj := d.Dispatch(context.Background(), "angry", nil, cc)
	require.NotNil(t, errObj)
	assert.Equal(t, CodeToolExecution, errObj.Code)
	assert.Contains(t, errObj.Message, "boom")
	assert.NotEmpty(t, errObj.Data["error_type"])
}

func TestDispatchErrorObjPassthrough(t *testing.T) {
	failing := &Tool{
		Name: "failing",
		Handler: func(_ context.Context, _ *CallContext, _ map[string]any) (any, error) {
			return nil, &ErrorObj{Code: CodeExternalAPI, Message: "upstream said no"}
		},
	}
	d := newTestDispatcher(t, failing)
	cc := NewCallContext("failing", "test")

	_, errObj := d.Dispatch(context.Background(), "failing", nil, cc)
	require.NotNil(t, errObj)
	assert.Equal(t, CodeExternalAPI, errObj.Code)
}

func TestDispatchGenericError(t *testing.T) {
	failing := &Tool{
		Name: "failing",
		Handler: func(_ context.Context, _ *CallContext, _ map[string]any) (any, error) {
			return nil, errors.New("plain failure")
		},
	}
	d := newTestDispatcher(t, failing)
	cc := NewCallContext("failing", "test")

	_, errObj := d.Dispatch(context.Background(), "failing", nil, cc)
	require.NotNil(t, errObj)
	assert.Equal(t, CodeToolExecution, errObj.Code)
}

func TestDispatchAuditsWithRedaction(t *testing.T) {
	d := newTestDispatcher(t, &Tool{
		Name: "reset",
		Parameters: []Parameter{
			StringParam("username", "", true),
			StringParam("new_password", "", true),
		},
		Handler: func(_ context.Context, _ *CallContext, _ map[string]any) (any, error) {
			return "ok", nil
		},
	})
	cc := NewCallContext("reset", "test")

	_, errObj := d.Dispatch(context.Background(), "reset",
		map[string]any{"username": "jdoe", "new_password": "S3cret!"}, cc)
	require.Nil(t, errObj)

	require.Len(t, cc.Audit, 1)
	assert.Equal(t, "[REDACTED]", cc.Audit[0].Arguments["new_password"])
	assert.Equal(t, "jdoe", cc.Audit[0].Arguments["username"])
	assert.True(t, cc.Audit[0].Success)
}
