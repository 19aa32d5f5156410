package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/widip/mcp-gateway/internal/state"
)

type fakeProber struct {
	status string
	detail string
}

func (f *fakeProber) Probe(_ context.Context) (string, string) { return f.status, f.detail }

type recordingNotifier struct {
	titles []string
}

func (n *recordingNotifier) Notify(title, _ string) { n.titles = append(n.titles, title) }

func newHealthCheck(prober *fakeProber, notifier *recordingNotifier) (*HealthCheck, state.Store) {
	store := state.NewMemoryStore()
	hc := &HealthCheck{
		Service:  "glpi",
		Prober:   prober,
		Store:    store,
		Notifier: notifier,
	}
	return hc, store
}

func tick(t *testing.T, hc *HealthCheck) map[string]any {
	t.Helper()
	result := Run(context.Background(), hc, nil)
	require.True(t, result.Success, "health check tick failed: %+v", result.Error)
	return result.Data
}

func TestHealthCheckDownNotifiesOnce(t *testing.T) {
	prober := &fakeProber{status: state.HealthDown, detail: "HTTP 502"}
	notifier := &recordingNotifier{}
	hc, store := newHealthCheck(prober, notifier)

	data := tick(t, hc)
	assert.Equal(t, state.HealthDown, data["status"])
	assert.Equal(t, true, data["notified"])
	require.Len(t, notifier.titles, 1)
	assert.Contains(t, notifier.titles[0], "DOWN")

	// Still down on the next ticks: the alert flag suppresses repeats.
	data = tick(t, hc)
	assert.Equal(t, false, data["notified"])
	tick(t, hc)
	assert.Len(t, notifier.titles, 1)

	status, err := store.HealthStatus(context.Background(), "glpi")
	require.NoError(t, err)
	assert.Equal(t, state.HealthDown, status)
}

func TestHealthCheckRecovery(t *testing.T) {
	prober := &fakeProber{status: state.HealthDown, detail: "timeout"}
	notifier := &recordingNotifier{}
	hc, _ := newHealthCheck(prober, notifier)

	tick(t, hc)
	require.Len(t, notifier.titles, 1)

	prober.status = state.HealthOK
	data := tick(t, hc)
	assert.Equal(t, state.HealthOK, data["status"])
	assert.Equal(t, state.HealthDown, data["previous"])
	assert.Equal(t, true, data["notified"])
	require.Len(t, notifier.titles, 2)
	assert.Contains(t, notifier.titles[1], "recovered")

	// Steady ok must stay quiet, and the next outage alerts again.
	tick(t, hc)
	assert.Len(t, notifier.titles, 2)

	prober.status = state.HealthDown
	tick(t, hc)
	assert.Len(t, notifier.titles, 3)
}

func TestHealthCheckDegradedStaysQuiet(t *testing.T) {
	prober := &fakeProber{status: state.HealthDegraded, detail: "HTTP 401"}
	notifier := &recordingNotifier{}
	hc, store := newHealthCheck(prober, notifier)

	data := tick(t, hc)
	assert.Equal(t, state.HealthDegraded, data["status"])
	assert.Equal(t, false, data["notified"])
	assert.Empty(t, notifier.titles)

	status, err := store.HealthStatus(context.Background(), "glpi")
	require.NoError(t, err)
	assert.Equal(t, state.HealthDegraded, status)
}

func TestSessionProberClassification(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		body       any
		want       string
	}{
		{"ok with token", http.StatusOK, map[string]string{"session_token": "abc"}, state.HealthOK},
		{"ok without token", http.StatusOK, map[string]string{}, state.HealthDegraded},
		{"unauthorized", http.StatusUnauthorized, nil, state.HealthDegraded},
		{"forbidden", http.StatusForbidden, nil, state.HealthDegraded},
		{"server error", http.StatusBadGateway, nil, state.HealthDown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.statusCode)
				if tc.body != nil {
					json.NewEncoder(w).Encode(tc.body)
				}
			}))
			defer srv.Close()

			prober := NewSessionProber(srv.URL, map[string]string{"App-Token": "t"})
			status, _ := prober.Probe(context.Background())
			assert.Equal(t, tc.want, status)
		})
	}
}

func TestSessionProberUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	prober := NewSessionProber(srv.URL, nil)
	status, detail := prober.Probe(context.Background())
	assert.Equal(t, state.HealthDown, status)
	assert.NotEmpty(t, detail)
}
