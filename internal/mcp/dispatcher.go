package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/widip/mcp-gateway/internal/metrics"
)

// Dispatcher validates arguments against the registered schema and runs the
// handler under a per-call deadline. Handler panics and errors never escape;
// every failure maps to one of the stable error codes.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
}

// NewDispatcher builds a dispatcher. timeout bounds every handler call;
// zero means 30 seconds.
func NewDispatcher(registry *Registry, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{registry: registry, timeout: timeout}
}

// Dispatch resolves the tool, validates arguments, runs the handler and
// returns either the handler result or a structured error.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any, cc *CallContext) (any, *ErrorObj) {
	tool, ok := d.registry.Lookup(name)
	if !ok {
		metrics.ToolCalls.WithLabelValues(name, "not_found").Inc()
		return nil, &ErrorObj{Code: CodeToolNotFound, Message: fmt.Sprintf("tool not found: %s", name)}
	}

	if args == nil {
		args = make(map[string]any)
	}
	if errObj := validateArguments(tool, args); errObj != nil {
		metrics.ToolCalls.WithLabelValues(name, "invalid").Inc()
		return nil, errObj
	}

	start := time.Now()
	result, err := d.invoke(ctx, tool, args, cc)
	duration := time.Since(start)
	metrics.ToolCallDuration.WithLabelValues(name).Observe(duration.Seconds())

	if err != nil {
		cc.RecordCall(name, args, false, err, duration)
		cc.RecordError(err)
		errObj := classifyError(err)
		metrics.ToolCalls.WithLabelValues(name, "error").Inc()
		slog.Error("tool call failed",
			"tool", name,
			"request_id", cc.RequestID,
			"code", errObj.Code,
			"error", errObj.Message,
			"duration_ms", duration.Milliseconds())
		return nil, errObj
	}

	cc.RecordCall(name, args, true, nil, duration)
	metrics.ToolCalls.WithLabelValues(name, "ok").Inc()
	slog.Info("tool call ok",
		"tool", name,
		"request_id", cc.RequestID,
		"duration_ms", duration.Milliseconds())
	return result, nil
}

// invoke runs the handler in its own goroutine so a deadline can interrupt
// the wait and a panic can be converted into an error.
func (d *Dispatcher) invoke(ctx context.Context, tool *Tool, args map[string]any, cc *CallContext) (result any, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &panicError{tool: tool.Name, value: r}}
			}
		}()
		res, handlerErr := tool.Handler(ctx, cc, args)
		done <- outcome{result: res, err: handlerErr}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type panicError struct {
	tool  string
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic in %s: %v", e.tool, e.value)
}

// classifyError maps a handler error onto the stable code set. Handlers may
// return *ErrorObj directly to choose their own code.
func classifyError(err error) *ErrorObj {
	var errObj *ErrorObj
	if errors.As(err, &errObj) {
		return errObj
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ErrorObj{Code: CodeTimeout, Message: "tool execution timed out"}
	}
	if errors.Is(err, context.Canceled) {
		return &ErrorObj{Code: CodeTimeout, Message: "tool execution canceled"}
	}
	var pe *panicError
	if errors.As(err, &pe) {
		return &ErrorObj{
			Code:    CodeToolExecution,
			Message: pe.Error(),
			Data:    map[string]any{"error_type": fmt.Sprintf("%T", pe.value)},
		}
	}
	return &ErrorObj{
		Code:    CodeToolExecution,
		Message: err.Error(),
		Data:    map[string]any{"error_type": fmt.Sprintf("%T", err)},
	}
}

// =============================================================================
// Argument validation
// =============================================================================

// validateArguments applies defaults, then checks required fields, types and
// enum membership. Unknown arguments pass through; handlers ignore them.
func validateArguments(tool *Tool, args map[string]any) *ErrorObj {
	for _, p := range tool.Parameters {
		if _, present := args[p.Name]; !present && p.Default != nil {
			args[p.Name] = p.Default
		}
	}

	for _, p := range tool.Parameters {
		value, present := args[p.Name]
		if !present {
			if p.Required {
				return &ErrorObj{
					Code:    CodeValidation,
					Message: fmt.Sprintf("missing required parameter: %s", p.Name),
				}
			}
			continue
		}
		if value == nil {
			continue
		}
		if !matchesType(value, p.Type) {
			return &ErrorObj{
				Code:    CodeValidation,
				Message: fmt.Sprintf("parameter %s: expected %s, got %T", p.Name, p.Type, value),
			}
		}
		if len(p.Enum) > 0 && !enumContains(p.Enum, value) {
			return &ErrorObj{
				Code:    CodeValidation,
				Message: fmt.Sprintf("parameter %s: value not in %v", p.Name, p.Enum),
			}
		}
	}
	return nil
}

// matchesType checks a JSON-decoded value against a parameter kind. JSON
// numbers decode as float64, so integer accepts a float64 with no
// fractional part.
func matchesType(value any, kind ParamType) bool {
	switch kind {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeInteger:
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case TypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case TypeArray:
		_, ok := value.([]any)
		return ok
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	}
	return false
}

func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if candidate == value {
			return true
		}
	}
	return false
}
