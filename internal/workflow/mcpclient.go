package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/widip/mcp-gateway/internal/mcp"
)

// Client is the workflow-side MCP client. Transport failures and 5xx are
// retried with capped exponential backoff; validation errors, auth failures
// and SAFEGUARD blocks are terminal for the call.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

// NewClient builds a client for the gateway at baseURL. maxRetries <= 0
// means 3.
func NewClient(baseURL, apiKey string, timeout time.Duration, maxRetries int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

// backoffCap bounds the retry sleep.
const backoffCap = 10 * time.Second

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// Call invokes one tool through the gateway. confidence < 0 omits the field
// (the gateway defaults it to 100).
func (c *Client) Call(ctx context.Context, tool string, args map[string]any, confidence float64) (any, error) {
	params := mcp.RequestParams{Name: tool, Arguments: args}
	if confidence >= 0 {
		params.Confidence = &confidence
	}
	idJSON, _ := json.Marshal(uuid.NewString())
	payload, err := json.Marshal(mcp.Request{
		JSONRPC: "2.0",
		ID:      idJSON,
		Method:  tool,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request for %s: %w", tool, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt - 1)
			slog.Debug("retrying tool call", "tool", tool, "attempt", attempt+1, "backoff", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, retryable, err := c.post(ctx, tool, payload)
		if err == nil {
			return result, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("tool %s failed after %d attempts: %w", tool, c.maxRetries, lastErr)
}

// post performs one HTTP round trip. The second return reports whether the
// failure is retryable.
func (c *Client) post(ctx context.Context, tool string, payload []byte) (any, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp/call", bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("server error: HTTP %d", resp.StatusCode)
	}

	var rpcResp mcp.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, true, fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error == nil {
		return rpcResp.Result, false, nil
	}

	rpcErr := rpcResp.Error
	if rpcErr.Code == mcp.CodeRateLimited {
		blocked := &SafeguardBlockedError{Tool: tool, Message: rpcErr.Message}
		if rpcErr.Data != nil {
			blocked.Level, _ = rpcErr.Data["level"].(string)
			blocked.ApprovalHint, _ = rpcErr.Data["approval_hint"].(string)
			blocked.PendingID, _ = rpcErr.Data["pending_approval_id"].(string)
		}
		return nil, false, blocked
	}
	return nil, false, &MCPCallError{Tool: tool, Code: rpcErr.Code, Message: rpcErr.Message}
}

// CallTool wraps Call with the run context's audit trail.
func (c *Client) CallTool(ctx context.Context, wc *Context, tool string, args map[string]any, confidence float64) (any, error) {
	start := time.Now()
	result, err := c.Call(ctx, tool, args, confidence)
	wc.RecordToolCall(tool, args, err == nil, err, time.Since(start))
	return result, err
}
