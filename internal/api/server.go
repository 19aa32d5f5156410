// Package api is the gateway's HTTP surface: the JSON-RPC call endpoint,
// SSE tool discovery, direct tool calls, the approval endpoints and the
// aggregated health probe.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/widip/mcp-gateway/internal/config"
	"github.com/widip/mcp-gateway/internal/mcp"
	"github.com/widip/mcp-gateway/internal/safeguard"
	"github.com/widip/mcp-gateway/internal/state"
)

// HealthProbe checks one collaborator. Critical probes make the whole
// service unhealthy when they fail; non-critical ones only degrade it.
type HealthProbe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Server wires the governance core behind the HTTP surface.
type Server struct {
	settings   *config.Settings
	registry   *mcp.Registry
	dispatcher *mcp.Dispatcher
	gate       *safeguard.Gate
	queue      *safeguard.Queue
	store      state.Store
	probes     []HealthProbe
	router     *mux.Router
}

// NewServer assembles the router.
func NewServer(settings *config.Settings, registry *mcp.Registry, dispatcher *mcp.Dispatcher, gate *safeguard.Gate, queue *safeguard.Queue, store state.Store, probes []HealthProbe) *Server {
	s := &Server{
		settings:   settings,
		registry:   registry,
		dispatcher: dispatcher,
		gate:       gate,
		queue:      queue,
		store:      store,
		probes:     probes,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/mcp/sse", s.handleSSE).Methods(http.MethodGet)
	r.HandleFunc("/mcp/call", s.handleCall).Methods(http.MethodPost)
	r.HandleFunc("/mcp/tools", s.handleListTools).Methods(http.MethodGet)
	r.HandleFunc("/tools/{name}", s.handleDirectCall).Methods(http.MethodPost)

	r.HandleFunc("/safeguard/request", s.handleApprovalRequest).Methods(http.MethodPost)
	r.HandleFunc("/safeguard/pending", s.handleApprovalPending).Methods(http.MethodGet)
	r.HandleFunc("/safeguard/status/{id}", s.handleApprovalStatus).Methods(http.MethodGet)
	r.HandleFunc("/safeguard/approve/{id}", s.handleApprove).Methods(http.MethodPost)
	r.HandleFunc("/safeguard/reject/{id}", s.handleReject).Methods(http.MethodPost)
	r.HandleFunc("/safeguard/execute/{id}", s.handleExecute).Methods(http.MethodPost)

	r.Use(corsMiddleware(settings.AllowedOrigins))
	r.Use(authMiddleware(settings.APIKey, settings.RequireAuth))

	s.router = r
	return s
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// PostgresProbe builds the critical relational-store probe.
func PostgresProbe(db *sql.DB) HealthProbe {
	return HealthProbe{
		Name:     "postgres",
		Critical: true,
		Check:    db.PingContext,
	}
}

// RedisProbe builds the state-store probe.
func RedisProbe(store state.Store) HealthProbe {
	return HealthProbe{
		Name:  "redis",
		Check: store.Ping,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// =============================================================================
// Health
// =============================================================================

const healthProbeDeadline = 5 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeDeadline)
	defer cancel()

	type probeResult struct {
		name     string
		critical bool
		err      error
	}
	results := make([]probeResult, len(s.probes))

	var wg sync.WaitGroup
	for i, probe := range s.probes {
		wg.Add(1)
		go func(i int, probe HealthProbe) {
			defer wg.Done()
			results[i] = probeResult{name: probe.Name, critical: probe.Critical, err: probe.Check(ctx)}
		}(i, probe)
	}
	wg.Wait()

	status := "healthy"
	services := make(map[string]string, len(results))
	for _, res := range results {
		if res.err == nil {
			services[res.name] = "ok"
			continue
		}
		services[res.name] = res.err.Error()
		if res.critical {
			status = "unhealthy"
		} else if status == "healthy" {
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"services":  services,
		"safeguard": s.gate.Enabled(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// Tool calls
// =============================================================================

// httpStatusFor mirrors the error class onto the HTTP status.
func httpStatusFor(code int) int {
	switch code {
	case mcp.CodeParseError, mcp.CodeInvalidRequest, mcp.CodeInvalidParams, mcp.CodeValidation:
		return http.StatusBadRequest
	case mcp.CodeMethodNotFound, mcp.CodeToolNotFound:
		return http.StatusNotFound
	case mcp.CodeAuthentication:
		return http.StatusForbidden
	case mcp.CodeRateLimited:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func blockData(decision safeguard.Decision) map[string]any {
	data := map[string]any{
		"allowed":        false,
		"level":          decision.LevelName,
		"message":        decision.Message,
		"requires_human": decision.RequiresHuman,
	}
	if decision.ApprovalHint != "" {
		data["approval_hint"] = decision.ApprovalHint
	}
	return data
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req mcp.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			mcp.NewErrorResponse(nil, mcp.CodeParseError, "malformed JSON", nil))
		return
	}
	if req.JSONRPC != "2.0" {
		writeJSON(w, http.StatusBadRequest,
			mcp.NewErrorResponse(req.ID, mcp.CodeInvalidRequest, "jsonrpc must be \"2.0\"", nil))
		return
	}

	tool := req.Params.Name
	if tool == "" {
		tool = req.Method
	}
	if tool == "" {
		writeJSON(w, http.StatusBadRequest,
			mcp.NewErrorResponse(req.ID, mcp.CodeInvalidRequest, "missing tool name", nil))
		return
	}

	confidence := 100.0
	if req.Params.Confidence != nil {
		confidence = *req.Params.Confidence
	}

	decision := s.gate.Check(tool, confidence)
	if !decision.Allowed {
		slog.Warn("call blocked",
			"tool", tool,
			"level", decision.LevelName,
			"confidence", confidence,
			"remote", r.RemoteAddr)
		writeJSON(w, http.StatusForbidden,
			mcp.NewErrorResponse(req.ID, mcp.CodeRateLimited, decision.Message, blockData(decision)))
		return
	}

	cc := mcp.NewCallContext(tool, r.RemoteAddr)
	result, errObj := s.dispatcher.Dispatch(r.Context(), tool, req.Params.Arguments, cc)
	if errObj != nil {
		writeJSON(w, httpStatusFor(errObj.Code),
			mcp.NewErrorResponse(req.ID, errObj.Code, errObj.Message, errObj.Data))
		return
	}
	writeJSON(w, http.StatusOK, mcp.NewResponse(req.ID, result))
}

// handleDirectCall is the shortcut without JSON-RPC framing. _confidence
// rides inside the argument object and is stripped before validation.
func (s *Server) handleDirectCall(w http.ResponseWriter, r *http.Request) {
	tool := mux.Vars(r)["name"]

	args := map[string]any{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil && err.Error() != "EOF" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed JSON body"})
			return
		}
	}

	confidence := 100.0
	if raw, ok := args["_confidence"]; ok {
		if c, ok := raw.(float64); ok {
			confidence = c
		}
		delete(args, "_confidence")
	}

	decision := s.gate.Check(tool, confidence)
	if !decision.Allowed {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"error":   decision.Message,
			"data":    blockData(decision),
		})
		return
	}

	cc := mcp.NewCallContext(tool, r.RemoteAddr)
	result, errObj := s.dispatcher.Dispatch(r.Context(), tool, args, cc)
	if errObj != nil {
		writeJSON(w, httpStatusFor(errObj.Code), map[string]any{
			"success": false,
			"error":   errObj.Message,
			"code":    errObj.Code,
			"data":    errObj.Data,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (s *Server) annotatedSchemas() []mcp.ToolSchema {
	schemas := s.registry.Schemas()
	for i := range schemas {
		schemas[i].SecurityLevel = s.gate.LevelOf(schemas[i].Name).String()
	}
	return schemas
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	levels := make(map[string]string, 5)
	for l := safeguard.L0; l <= safeguard.L4; l++ {
		levels[l.String()] = l.Description()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools":           s.annotatedSchemas(),
		"security_levels": levels,
	})
}

// =============================================================================
// Approvals
// =============================================================================

func (s *Server) handleApprovalRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ToolName   string         `json:"tool_name"`
		Arguments  map[string]any `json:"arguments"`
		Context    string         `json:"context"`
		TTLMinutes int            `json:"ttl_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed JSON body"})
		return
	}
	if body.ToolName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "tool_name is required"})
		return
	}
	if body.TTLMinutes <= 0 {
		body.TTLMinutes = 60
	}

	level := s.gate.LevelOf(body.ToolName)
	approval, err := s.queue.Create(r.Context(), body.ToolName, body.Arguments, level,
		r.RemoteAddr, body.Context, time.Duration(body.TTLMinutes)*time.Minute)
	if err == safeguard.ErrNotSensitiveLevel {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": fmt.Sprintf("tool %s is %s; only L3 operations enter the approval queue", body.ToolName, level),
		})
		return
	}
	if err != nil {
		slog.Error("approval creation failed", "tool", body.ToolName, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not create approval"})
		return
	}
	writeJSON(w, http.StatusCreated, approval)
}

func (s *Server) handleApprovalPending(w http.ResponseWriter, r *http.Request) {
	approvals, err := s.queue.PendingApprovals(r.Context(), 50)
	if err != nil {
		slog.Error("pending list failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not list approvals"})
		return
	}
	if approvals == nil {
		approvals = []*safeguard.Approval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(approvals), "approvals": approvals})
}

func (s *Server) handleApprovalStatus(w http.ResponseWriter, r *http.Request) {
	approval, err := s.queue.Status(r.Context(), mux.Vars(r)["id"])
	if err == safeguard.ErrApprovalNotFound {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "approval not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not read approval"})
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.resolveApproval(w, r, s.queue.Approve)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.resolveApproval(w, r, s.queue.Reject)
}

func (s *Server) resolveApproval(w http.ResponseWriter, r *http.Request, transition func(context.Context, string, string, string) (*safeguard.Approval, error)) {
	id := mux.Vars(r)["id"]
	var body struct {
		Approver string `json:"approver"`
		Comment  string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Approver == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "approver is required"})
		return
	}

	approval, err := transition(r.Context(), id, body.Approver, body.Comment)
	switch {
	case err == safeguard.ErrApprovalNotFound:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "approval not found"})
	case isTransitionError(err):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case err != nil:
		slog.Error("approval transition failed", "approval_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "transition failed"})
	default:
		writeJSON(w, http.StatusOK, approval)
	}
}

// executeLockTTL bounds how long an execute attempt may hold its lock.
const executeLockTTL = 2 * time.Minute

// handleExecute re-dispatches an approved operation with the secrets
// merged back in, then records the terminal state and drops the envelope.
// The state-store lock keeps concurrent attempts on the same approval to a
// single dispatch; losers see a conflict instead of a second execution.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	held, err := s.store.AcquireLock(r.Context(), "approval_execute:"+id, executeLockTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not serialize execution"})
		return
	}
	if !held {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "execution already in progress"})
		return
	}
	defer func() {
		_ = s.store.ReleaseLock(r.Context(), "approval_execute:"+id)
	}()

	approval, err := s.queue.Status(r.Context(), id)
	if err == safeguard.ErrApprovalNotFound {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "approval not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not read approval"})
		return
	}

	args, err := s.queue.FullArguments(r.Context(), id)
	switch {
	case err == safeguard.ErrSecretsLost:
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "secret envelope expired; recreate the approval request",
		})
		return
	case isTransitionError(err):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "could not reconstruct arguments"})
		return
	}

	cc := mcp.NewCallContext(approval.ToolName, r.RemoteAddr)
	result, errObj := s.dispatcher.Dispatch(r.Context(), approval.ToolName, args, cc)

	if errObj != nil {
		if markErr := s.queue.MarkExecuted(r.Context(), id, nil, errObj.Message); markErr != nil {
			slog.Error("failed to record execution failure", "approval_id", id, "error", markErr)
		}
		_ = s.queue.CleanupSecrets(r.Context(), id)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success":     false,
			"approval_id": id,
			"error":       errObj.Message,
			"code":        errObj.Code,
		})
		return
	}

	resultMap, _ := result.(map[string]any)
	if resultMap == nil {
		resultMap = map[string]any{"result": result}
	}
	if err := s.queue.MarkExecuted(r.Context(), id, resultMap, ""); err != nil {
		slog.Error("failed to record execution", "approval_id", id, "error", err)
	}
	_ = s.queue.CleanupSecrets(r.Context(), id)

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"approval_id": id,
		"result":      result,
	})
}

func isTransitionError(err error) bool {
	var tErr *safeguard.TransitionError
	return errors.As(err, &tErr)
}
