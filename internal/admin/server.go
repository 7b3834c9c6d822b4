package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/emperorhan/signal-controller/internal/controller"
	"github.com/emperorhan/signal-controller/internal/domain/model"
	"github.com/emperorhan/signal-controller/internal/health"
	"github.com/emperorhan/signal-controller/internal/settings"
	"github.com/emperorhan/signal-controller/internal/store/postgres"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// Controller is the slice of controller.Service the admin API drives.
type Controller interface {
	SetMode(ctx context.Context, m model.Mode) error
	Rearm(ctx context.Context, p model.Phase) error
	StreamError(ctx context.Context) error
	Status(ctx context.Context) (controller.Status, error)
	ApplySettings(s settings.Settings)
}

// HealthProvider exposes the detection backend health.
type HealthProvider interface {
	Snapshot() health.Snapshot
}

// JournalReader serves the persisted render events.
type JournalReader interface {
	Recent(ctx context.Context, q postgres.RecentQuery) ([]postgres.Record, error)
}

// Backend describes the configured AI backend for the settings view.
type Backend struct {
	Mode      model.BackendMode
	ModelName string
}

// Server provides the HTTP API for operators and the browser renderer.
type Server struct {
	ctrl     Controller
	provider settings.Provider
	backend  Backend
	health   HealthProvider
	journal  JournalReader
	events   http.Handler
	logger   *slog.Logger
}

func NewServer(ctrl Controller, provider settings.Provider, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		ctrl:     ctrl,
		provider: provider,
		backend:  Backend{Mode: model.BackendNone},
		logger:   logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

func WithBackend(b Backend) ServerOption {
	return func(s *Server) { s.backend = b }
}

func WithHealthProvider(hp HealthProvider) ServerOption {
	return func(s *Server) { s.health = hp }
}

func WithJournal(j JournalReader) ServerOption {
	return func(s *Server) { s.journal = j }
}

// WithEventStream mounts h (normally the SSE broker) at GET /api/events.
func WithEventStream(h http.Handler) ServerOption {
	return func(s *Server) { s.events = h }
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handlePostSettings)
	mux.HandleFunc("POST /api/mode", s.handleSetMode)
	mux.HandleFunc("POST /api/stream-error", s.handleStreamError)
	mux.HandleFunc("GET /admin/v1/status", s.handleGetStatus)
	mux.HandleFunc("POST /admin/v1/rearm", s.handleRearm)
	mux.HandleFunc("GET /admin/v1/events", s.handleJournal)
	if s.events != nil {
		mux.Handle("GET /api/events", s.events)
	}
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

type settingsView struct {
	settings.Settings
	IsCameraRunning bool              `json:"isCameraRunning"`
	AIBackendMode   model.BackendMode `json:"aiBackendMode"`
	AIModelName     string            `json:"aiModelName"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	stored, err := s.provider.Load(r.Context())
	if err != nil {
		s.logger.Error("load settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	view := settingsView{
		Settings:      stored,
		AIBackendMode: s.backend.Mode,
		AIModelName:   s.backend.ModelName,
	}
	if st, err := s.ctrl.Status(r.Context()); err == nil {
		view.IsCameraRunning = st.CameraRunning
	} else {
		s.logger.Warn("controller status unavailable", "error", err)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var upd settings.Update
	if !decodeJSONBody(w, r, &upd) {
		return
	}
	if err := upd.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings data: "+err.Error())
		return
	}

	next := upd.Apply()
	if err := s.provider.Save(r.Context(), next); err != nil {
		s.logger.Error("save settings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	s.ctrl.ApplySettings(next)

	s.logger.Info("settings updated",
		"mode", next.CaptureMode,
		"api_calls_per_minute", next.APICallsPerMinute,
		"green_ms", next.GreenLightDurationMs,
		"yellow_ms", next.YellowLightDurationMs,
		"max_smart_a_ms", next.MaxTimeSmartAMs,
	)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Settings saved", "settings": next})
}

type setModeRequest struct {
	Smart *bool `json:"smart"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Smart == nil {
		writeError(w, http.StatusBadRequest, "smart is required")
		return
	}

	mode := model.ModeTimer
	if *req.Smart {
		mode = model.ModeSmart
	}
	if err := s.ctrl.SetMode(r.Context(), mode); err != nil {
		s.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"mode": string(mode)})
}

func (s *Server) handleStreamError(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StreamError(r.Context()); err != nil {
		s.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type statusResponse struct {
	controller.Status
	Health *health.Snapshot `json:"health,omitempty"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Status(r.Context())
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	resp := statusResponse{Status: st}
	if s.health != nil {
		snap := s.health.Snapshot()
		resp.Health = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

type rearmRequest struct {
	Phase model.Phase `json:"phase"`
}

func (s *Server) handleRearm(w http.ResponseWriter, r *http.Request) {
	var req rearmRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Phase == "" {
		req.Phase = model.PhaseAGreen
	}
	if err := s.ctrl.Rearm(r.Context(), req.Phase); err != nil {
		s.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"phase": string(req.Phase)})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "event journal not configured")
		return
	}

	q := postgres.RecentQuery{Type: r.URL.Query().Get("type")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = n
	}

	records, err := s.journal.Recent(r.Context(), q)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, controller.ErrInvalidPhase), errors.Is(err, controller.ErrInvalidMode):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, controller.ErrSmartUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, controller.ErrLoopStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "controller unavailable")
	default:
		s.logger.Error("controller call failed", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("controller error: %v", err))
	}
}
