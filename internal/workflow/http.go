package workflow

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/widip/mcp-gateway/internal/state"
)

// NewHTTPHandler builds the runner's HTTP surface: workflow listing, manual
// triggers, pause/resume, webhook dispatch and a liveness probe.
func NewHTTPHandler(scheduler *Scheduler, store state.Store) http.Handler {
	r := mux.NewRouter()

	writeJSON := func(w http.ResponseWriter, status int, payload any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if err := store.Ping(req.Context()); err != nil {
			status = "degraded"
		}
		writeJSON(w, code, map[string]any{
			"status":    status,
			"workflows": len(scheduler.Workflows()),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/workflows", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"workflows": scheduler.Workflows()})
	}).Methods(http.MethodGet)

	r.HandleFunc("/workflows/{name}/trigger", func(w http.ResponseWriter, req *http.Request) {
		name := mux.Vars(req)["name"]
		var payload map[string]any
		_ = json.NewDecoder(req.Body).Decode(&payload)

		result, err := scheduler.Trigger(req.Context(), name, map[string]any{"trigger": "manual", "payload": payload})
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}).Methods(http.MethodPost)

	r.HandleFunc("/workflows/{name}/pause", func(w http.ResponseWriter, req *http.Request) {
		if err := scheduler.Pause(mux.Vars(req)["name"]); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"paused": true})
	}).Methods(http.MethodPost)

	r.HandleFunc("/workflows/{name}/resume", func(w http.ResponseWriter, req *http.Request) {
		if err := scheduler.Resume(mux.Vars(req)["name"]); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"paused": false})
	}).Methods(http.MethodPost)

	r.HandleFunc("/webhook/{path}", func(w http.ResponseWriter, req *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(req.Body).Decode(&payload)

		result, err := scheduler.TriggerWebhook(req.Context(), mux.Vars(req)["path"], payload)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}).Methods(http.MethodPost)

	return r
}
