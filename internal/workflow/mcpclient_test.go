package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/widip/mcp-gateway/internal/mcp"
)

func rpcResult(w http.ResponseWriter, result any) {
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": "1", "result": result})
}

func rpcError(w http.ResponseWriter, httpStatus, code int, message string, data map[string]any) {
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0", "id": "1",
		"error": map[string]any{"code": code, "message": message, "data": data},
	})
}

func TestClientCallSuccess(t *testing.T) {
	var gotKey atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("X-API-Key"))

		var req mcp.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "glpi_get_ticket", req.Method)
		require.NotNil(t, req.Params.Confidence)
		assert.Equal(t, float64(90), *req.Params.Confidence)

		rpcResult(w, map[string]any{"id": float64(42)})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key-123", 5*time.Second, 3)
	result, err := client.Call(context.Background(), "glpi_get_ticket", map[string]any{"ticket_id": 42}, 90)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": float64(42)}, result)
	assert.Equal(t, "key-123", gotKey.Load())
}

func TestClientOmitsConfidenceWhenNegative(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		params := raw["params"].(map[string]any)
		_, present := params["confidence"]
		assert.False(t, present, "negative confidence must not be sent")
		rpcResult(w, "ok")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 5*time.Second, 1)
	_, err := client.Call(context.Background(), "glpi_get_ticket", nil, -1)
	require.NoError(t, err)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		rpcResult(w, "recovered")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 5*time.Second, 3)
	result, err := client.Call(context.Background(), "observium_device_status", nil, -1)
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 5*time.Second, 2)
	_, err := client.Call(context.Background(), "observium_device_status", nil, -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientSafeguardBlockNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		rpcError(w, http.StatusForbidden, mcp.CodeRateLimited, "blocked pending approval", map[string]any{
			"level":         "L3",
			"approval_hint": "POST /safeguard/request",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 5*time.Second, 3)
	_, err := client.Call(context.Background(), "ad_reset_password", map[string]any{"username": "jdoe"}, -1)
	require.Error(t, err)

	var blocked *SafeguardBlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, "ad_reset_password", blocked.Tool)
	assert.Equal(t, "L3", blocked.Level)
	assert.Equal(t, "POST /safeguard/request", blocked.ApprovalHint)
	assert.Equal(t, int32(1), calls.Load(), "a block is terminal, never retried")
}

func TestClientToolErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		rpcError(w, http.StatusBadRequest, mcp.CodeValidation, "missing ticket_id", nil)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 5*time.Second, 3)
	_, err := client.Call(context.Background(), "glpi_get_ticket", nil, -1)
	require.Error(t, err)

	var callErr *MCPCallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, mcp.CodeValidation, callErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCallToolRecordsAudit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		rpcResult(w, "ok")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", 5*time.Second, 1)
	wc := NewContext("triage", nil)

	_, err := client.CallTool(context.Background(), wc, "ad_reset_password",
		map[string]any{"username": "jdoe", "new_password": "S3cret!"}, -1)
	require.NoError(t, err)

	require.Len(t, wc.ToolsCalled, 1)
	assert.Equal(t, "ad_reset_password", wc.ToolsCalled[0].Tool)
	assert.Equal(t, "[REDACTED]", wc.ToolsCalled[0].Arguments["new_password"])
	assert.True(t, wc.ToolsCalled[0].Success)
}
