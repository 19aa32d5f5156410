package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/widip/mcp-gateway/internal/safeguard"
	"github.com/widip/mcp-gateway/internal/state"
)

// Prober checks one upstream and classifies it as ok, degraded or down.
type Prober interface {
	Probe(ctx context.Context) (status string, detail string)
}

// probeDeadline bounds each probe attempt.
const probeDeadline = 5 * time.Second

// SessionProber probes an upstream that issues session tokens. A 2xx
// response carrying a session token is healthy; 401/403 means the service
// answers but refuses us; anything else is down.
type SessionProber struct {
	URL     string
	Headers map[string]string

	client *http.Client
}

// NewSessionProber builds a prober for the given session-init URL.
func NewSessionProber(url string, headers map[string]string) *SessionProber {
	return &SessionProber{
		URL:     url,
		Headers: headers,
		client:  &http.Client{Timeout: probeDeadline},
	}
}

func (p *SessionProber) Probe(ctx context.Context) (string, string) {
	ctx, cancel := context.WithTimeout(ctx, probeDeadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return state.HealthDown, err.Error()
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return state.HealthDown, err.Error()
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var body struct {
			SessionToken string `json:"session_token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.SessionToken == "" {
			return state.HealthDegraded, "2xx without session token"
		}
		return state.HealthOK, ""
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return state.HealthDegraded, fmt.Sprintf("HTTP %d", resp.StatusCode)
	default:
		return state.HealthDown, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
}

// HealthCheck is the circuit-breaker workflow: every tick it probes the
// critical upstream, records the status with a short TTL, and emits
// one-shot down/recovery notifications with anti-spam suppression.
//
// The status TTL is the fail-open fuse: if this loop stops running, readers
// see unknown and apply their own policy.
type HealthCheck struct {
	Base

	Service  string
	Prober   Prober
	Store    state.Store
	Notifier safeguard.Notifier
}

// HealthCheckInterval is the tick period for the monitor loop.
const HealthCheckInterval = 30 * time.Second

func (h *HealthCheck) Name() string        { return "health_check_" + h.Service }
func (h *HealthCheck) Description() string { return "Liveness monitor for " + h.Service }
func (h *HealthCheck) Timeout() time.Duration {
	return 25 * time.Second
}
func (h *HealthCheck) SafeguardLevel() string { return safeguard.L0.String() }

func (h *HealthCheck) alertEvent() string { return h.Service + "_down" }

func (h *HealthCheck) Execute(ctx context.Context, wc *Context) (map[string]any, error) {
	current, detail := h.Prober.Probe(ctx)

	previous, err := h.Store.HealthStatus(ctx, h.Service)
	if err != nil {
		return nil, fmt.Errorf("read previous health status: %w", err)
	}
	if err := h.Store.SetHealthStatus(ctx, h.Service, current); err != nil {
		return nil, fmt.Errorf("write health status: %w", err)
	}

	notified := false
	switch {
	case current == state.HealthDown:
		sent, err := h.Store.IsAlertSent(ctx, h.alertEvent())
		if err != nil {
			return nil, fmt.Errorf("read alert flag: %w", err)
		}
		if !sent {
			if h.Notifier != nil {
				h.Notifier.Notify(
					fmt.Sprintf("%s is DOWN", h.Service),
					fmt.Sprintf("Probe failed: %s. Dependent workflows are suspended.", detail))
			}
			if err := h.Store.MarkAlertSent(ctx, h.alertEvent()); err != nil {
				return nil, fmt.Errorf("mark alert sent: %w", err)
			}
			notified = true
		}

	case previous == state.HealthDown && current == state.HealthOK:
		if h.Notifier != nil {
			h.Notifier.Notify(
				fmt.Sprintf("%s recovered", h.Service),
				"Upstream is answering again; dependent workflows resume.")
		}
		if err := h.Store.ClearAlertSent(ctx, h.alertEvent()); err != nil {
			return nil, fmt.Errorf("clear alert flag: %w", err)
		}
		notified = true
	}

	return map[string]any{
		"service":  h.Service,
		"status":   current,
		"previous": previous,
		"detail":   detail,
		"notified": notified,
	}, nil
}
