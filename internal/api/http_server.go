package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"roomqueue/internal/config"
	"roomqueue/internal/metrics"
	"roomqueue/internal/models"
	"roomqueue/internal/queue"
	"roomqueue/internal/repository"
	syncengine "roomqueue/internal/sync"
)

// Backend bundles the injected callbacks the sync endpoint hands to the
// engine. Nil when no backend is configured; the sync endpoint then returns
// 503 instead of running a cycle with nothing to call.
type Backend struct {
	Submit        syncengine.SubmitFunc
	CheckConflict syncengine.ConflictCheckFunc
}

// HTTPServer exposes the queue engine over a lightweight HTTP API.
type HTTPServer struct {
	cfg     config.APIConfig
	engine  *queue.Engine
	backend *Backend
	exports string
	server  *http.Server
	auth    *HTTPAuth
	log     zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, engine *queue.Engine, backend *Backend, exportsDir string, logger *zerolog.Logger) *HTTPServer {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "api").Logger()
	}

	srv := &HTTPServer{cfg: cfg, engine: engine, backend: backend, exports: exportsDir, log: log}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/queue/sync", srv.handleSync)
	mux.HandleFunc("/api/v1/queue/stats", srv.handleStats)
	mux.HandleFunc("/api/v1/queue/synced", srv.handleClearSynced)
	mux.HandleFunc("/api/v1/queue/export", srv.handleExport)
	mux.HandleFunc("/api/v1/queue/", srv.handleEntry)
	mux.HandleFunc("/api/v1/queue", srv.handleQueue)
	mux.HandleFunc("/api/v1/conflicts/check", srv.handleConflictCheck)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the configured root handler, for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// handleQueue serves POST (enqueue) and GET (list) on the collection.
func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleEnqueue(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var booking models.BookingData
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&booking); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// The local check is advisory; the entry is queued either way and the
	// caller decides what to do with the flag.
	localConflict, err := s.engine.CheckLocalConflicts(r.Context(), booking, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.engine.QueueBooking(r.Context(), booking)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics.IncOp("api_enqueue")
	writeJSON(w, http.StatusCreated, map[string]any{
		"entry":          entry,
		"local_conflict": localConflict,
	})
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	statusFilter := strings.TrimSpace(r.URL.Query().Get("status"))
	entries, err := s.engine.GetQueuedRequests(r.Context(), statusFilter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if entries == nil {
		entries = []models.QueuedRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleEntry serves GET, PATCH, DELETE on one entry plus POST .../resubmit.
func (s *HTTPServer) handleEntry(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/queue/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)

	if id, ok := strings.CutSuffix(rest, "/resubmit"); ok {
		s.handleResubmit(w, r, id)
		return
	}
	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		entry, err := s.engine.GetQueuedRequest(r.Context(), rest)
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "queue entry not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, entry)

	case http.MethodPatch:
		s.handlePatch(w, r, rest)

	case http.MethodDelete:
		if err := s.engine.RemoveQueuedRequest(r.Context(), rest); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// patchRequest is the external-intervention subset of a queue patch: a
// status override and explicit clears. Lifecycle fields (attempts, retry
// schedule) stay under orchestrator control.
type patchRequest struct {
	Status        *string `json:"status"`
	ClearError    bool    `json:"clear_error"`
	ClearConflict bool    `json:"clear_conflict"`
}

func (s *HTTPServer) handlePatch(w http.ResponseWriter, r *http.Request, queueID string) {
	var body patchRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	patch := models.QueuePatch{
		Status:        body.Status,
		ClearError:    body.ClearError,
		ClearConflict: body.ClearConflict,
	}
	if patch.IsZero() {
		writeError(w, http.StatusBadRequest, "empty patch")
		return
	}

	err := s.engine.UpdateQueuedRequest(r.Context(), queueID, patch)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "queue entry not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleResubmit(w http.ResponseWriter, r *http.Request, queueID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entry, err := s.engine.Resubmit(r.Context(), queueID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "queue entry not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "no booking backend configured")
		return
	}

	results, err := s.engine.SyncQueue(r.Context(), s.backend.Submit, s.backend.CheckConflict)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := s.engine.GetQueueStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *HTTPServer) handleClearSynced(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	removed, err := s.engine.ClearSynced(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path, err := s.engine.ExportQueue(r.Context(), s.exports)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path})
}

type conflictCheckRequest struct {
	Booking        models.BookingData `json:"booking"`
	ExcludeQueueID string             `json:"exclude_queue_id"`
}

func (s *HTTPServer) handleConflictCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body conflictCheckRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conflicted, err := s.engine.CheckLocalConflicts(r.Context(), body.Booking, body.ExcludeQueueID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflict": conflicted})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("dur", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
