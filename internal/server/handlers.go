package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Krigsexe/Yggdrasil/internal/auth"
	"github.com/Krigsexe/Yggdrasil/internal/ledger"
	"github.com/Krigsexe/Yggdrasil/internal/model"
	"github.com/Krigsexe/Yggdrasil/internal/pipeline"
	"github.com/Krigsexe/Yggdrasil/internal/watcher"
)

// Handlers carries the dependencies of all HTTP handlers.
type Handlers struct {
	pipeline *pipeline.Pipeline
	ledger   *ledger.Ledger
	watcher  *watcher.Watcher // nil when the daemon is disabled
	jwtMgr   *auth.JWTManager
	logger   *slog.Logger

	apiKey              string
	version             string
	startedAt           time.Time
	maxRequestBodyBytes int64
}

// HandlersDeps bundles the handler dependencies.
type HandlersDeps struct {
	Pipeline            *pipeline.Pipeline
	Ledger              *ledger.Ledger
	Watcher             *watcher.Watcher
	JWTMgr              *auth.JWTManager
	Logger              *slog.Logger
	APIKey              string
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		pipeline:            deps.Pipeline,
		ledger:              deps.Ledger,
		watcher:             deps.Watcher,
		jwtMgr:              deps.JWTMgr,
		logger:              deps.Logger,
		apiKey:              deps.APIKey,
		version:             deps.Version,
		startedAt:           time.Now(),
		maxRequestBodyBytes: deps.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token: exchanges a userId and the shared
// API key for a bearer token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.apiKey == "" {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "token issuance not configured")
		return
	}

	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "userId is required")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(h.apiKey)) != 1 {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.UserID)
	if err != nil {
		h.logger.Error("issue token", "user_id", req.UserID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "token issuance failed")
		return
	}

	writeJSON(w, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// decodeQuery decodes and validates a query request, filling UserID from the
// token claims when absent.
func (h *Handlers) decodeQuery(w http.ResponseWriter, r *http.Request) (model.QueryRequest, bool) {
	var req model.QueryRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return req, false
	}
	if claims := ClaimsFromContext(r.Context()); claims != nil && req.UserID == "" {
		req.UserID = claims.UserID
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query is required")
		return req, false
	}
	return req, true
}

// HandleQuery handles POST /yggdrasil/query. Refusals are domain outcomes
// and return 200 with the refusal reason set.
func (h *Handlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.pipeline.Process(r.Context(), req))
}

// thinkingResponse is the body of POST /yggdrasil/query/thinking.
type thinkingResponse struct {
	Response model.YggdrasilResponse `json:"response"`
	Thinking []model.ThinkingStep    `json:"thinking"`
}

// HandleQueryThinking handles POST /yggdrasil/query/thinking.
func (h *Handlers) HandleQueryThinking(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}
	resp, steps := h.pipeline.ProcessWithThinking(r.Context(), req)
	if steps == nil {
		steps = []model.ThinkingStep{}
	}
	writeJSON(w, http.StatusOK, thinkingResponse{Response: resp, Thinking: steps})
}

// HandleQueryStream handles POST /yggdrasil/query/stream (SSE). Thinking
// events stream as they happen; the sequence terminates with a response event.
func (h *Handlers) HandleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// A deliberation can outlive the server's WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	for event := range h.pipeline.ProcessWithStreaming(r.Context(), req) {
		payload, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("marshal stream event", "error", err)
			errEvent, _ := json.Marshal(model.StreamEvent{Type: model.StreamError, Error: "internal error"})
			_, _ = w.Write([]byte("event: error\ndata: " + string(errEvent) + "\n\n"))
			flusher.Flush()
			return
		}
		if _, err := w.Write([]byte("event: " + string(event.Type) + "\ndata: ")); err != nil {
			return
		}
		if _, err := w.Write(payload); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

// HandleAlerts handles GET /yggdrasil/alerts.
func (h *Handlers) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be in [1,1000]")
			return
		}
		limit = n
	}

	alerts, err := h.ledger.Store().RecentAlerts(r.Context(), limit)
	if err != nil {
		h.writeStoreError(w, r, "fetch alerts", err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// statsResponse is the body of GET /yggdrasil/stats.
type statsResponse struct {
	Ledger  ledger.Stats   `json:"ledger"`
	Watcher *watcher.Stats `json:"watcher,omitempty"`
}

// HandleStats handles GET /yggdrasil/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Store().Stats(r.Context())
	if err != nil {
		h.writeStoreError(w, r, "fetch stats", err)
		return
	}

	resp := statsResponse{Ledger: stats}
	if h.watcher != nil {
		ws := h.watcher.Stats()
		resp.Watcher = &ws
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCreateCheckpoint handles POST /yggdrasil/checkpoints.
func (h *Handlers) HandleCreateCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req model.CreateCheckpointRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Label == "" || len(req.NodeIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "label and nodeIds are required")
		return
	}

	userID := "system"
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		userID = claims.UserID
	}

	cp, err := h.ledger.CreateCheckpoint(r.Context(), userID, req.Label, req.Description, req.NodeIDs)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown node in member set")
			return
		}
		h.writeStoreError(w, r, "create checkpoint", err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

// HandleRollback handles POST /yggdrasil/checkpoints/{id}/rollback.
func (h *Handlers) HandleRollback(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid checkpoint id")
		return
	}

	userID := "system"
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		userID = claims.UserID
	}

	result, err := h.ledger.Rollback(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "checkpoint not found")
			return
		}
		h.writeStoreError(w, r, "rollback checkpoint", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeStoreError maps a store failure onto the boundary taxonomy: an expired
// deadline is 408, everything else is logged as a 500.
func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, action string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, r, http.StatusRequestTimeout, model.ErrCodeTimeout, "deadline exceeded")
		return
	}
	h.logger.Error(action, "error", err)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, action+" failed")
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	components := h.pipeline.ComponentHealth(r.Context())

	// Munin is the ledger plus its store.
	components["munin"] = model.ComponentOK
	if _, err := h.ledger.Store().Stats(r.Context()); err != nil {
		components["munin"] = model.ComponentDown
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, state := range components {
		switch state {
		case model.ComponentDown:
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		case model.ComponentDegraded:
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	writeJSON(w, httpStatus, model.HealthResponse{Status: status, Components: components})
}
