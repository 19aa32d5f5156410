package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// heartbeatInterval paces the SSE keep-alive events.
const heartbeatInterval = 30 * time.Second

// handleSSE serves the discovery stream: one tools event carrying every
// registered schema with its SAFEGUARD level, then heartbeats until the
// client goes away.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if err := writeSSEEvent(w, "tools", s.annotatedSchemas()); err != nil {
		slog.Debug("sse initial event failed", "error", err)
		return
	}
	flusher.Flush()
	slog.Info("sse client connected", "remote", r.RemoteAddr, "tools", s.registry.Len())

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Info("sse client disconnected", "remote", r.RemoteAddr)
			return
		case <-ticker.C:
			payload := map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)}
			if err := writeSSEEvent(w, "heartbeat", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
