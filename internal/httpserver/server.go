// Package httpserver exposes snapshots, settings and overlay commands to the
// rendering surface over HTTP and WebSocket.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/skobkin/statbar/internal/api"
	"github.com/skobkin/statbar/internal/config"
	"github.com/skobkin/statbar/internal/metrics"
	"github.com/skobkin/statbar/internal/overlay"
	"github.com/skobkin/statbar/internal/sampler"
	"github.com/skobkin/statbar/internal/settings"
	"github.com/skobkin/statbar/internal/version"
)

const (
	readHeaderTimeout = 5 * time.Second
	maxBodyBytes      = 64 << 10
)

// Sampler is the read side of the metrics pipeline.
type Sampler interface {
	Latest() (metrics.Snapshot, bool)
	Subscribe() (<-chan metrics.Snapshot, func())
	Subscribers() int
	Status() []sampler.KindStatus
	Intervals() map[metrics.Kind]time.Duration
	Ready() bool
}

// SettingsSource provides the active overlay settings.
type SettingsSource interface {
	Current() settings.Settings
	Subscribe() (<-chan settings.Settings, func())
}

// Overlay reports the enforcer state.
type Overlay interface {
	Status() overlay.Status
}

// Commander executes client commands in receipt order.
type Commander interface {
	Execute(ctx context.Context, cmd api.Command) api.Result
}

// Deps are the collaborators served by the HTTP layer. Overlay may be nil when
// the enforcer is disabled.
type Deps struct {
	Sampler         Sampler
	Settings        SettingsSource
	Overlay         Overlay
	Commands        Commander
	EnforceInterval time.Duration
}

// Server wraps the HTTP surface area of the application.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	deps       Deps

	maxWSClients int64
	wsActive     atomic.Int64
	wsTotal      atomic.Uint64
	wsRejected   atomic.Uint64
	wsSent       atomic.Uint64
	wsDropped    atomic.Uint64
	wsConnIDs    atomic.Uint64
	requestIDs   atomic.Uint64
}

// New assembles a Server with its handlers.
func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "http"),
		deps:   deps,
	}

	if cfg.WS.MaxClients > 0 {
		s.maxWSClients = int64(cfg.WS.MaxClients)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/display", s.handleDisplay)
	mux.HandleFunc("/api/commands", s.handleCommands)
	mux.HandleFunc("/ws", s.handleWS)

	if cfg.EnablePrometheus {
		s.registerPrometheus(mux)
	}
	if cfg.EnablePprof {
		registerPprof(mux)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.withRequestLogging(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Handler returns the root handler including request logging.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// WSClients returns the number of connected WebSocket clients.
func (s *Server) WSClients() int64 {
	return s.wsActive.Load()
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, method := range methods {
		if r.Method == method {
			return true
		}
	}
	allow := methods[0]
	for _, method := range methods[1:] {
		allow += ", " + method
	}
	w.Header().Set("Allow", allow)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.loggerFromContext(r.Context()).Warn("failed to encode response", "err", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	info := s.readiness()
	statusCode := http.StatusOK
	if info.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, statusCode, info)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, r, http.StatusOK, version.Current())
}

// handleSnapshot returns the latest snapshot filtered to the selected metrics,
// or every kind with ?all=1.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if s.deps.Sampler == nil {
		http.Error(w, "metrics sampler unavailable", http.StatusServiceUnavailable)
		return
	}

	snap, ok := s.deps.Sampler.Latest()
	if !ok {
		http.Error(w, "no snapshot available", http.StatusServiceUnavailable)
		return
	}
	if r.URL.Query().Get("all") != "1" && s.deps.Settings != nil {
		snap = snap.Select(s.deps.Settings.Current().Kinds())
	}
	s.writeJSON(w, r, http.StatusOK, snap)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if s.deps.Settings == nil {
		http.Error(w, "settings unavailable", http.StatusServiceUnavailable)
		return
	}

	if r.Method == http.MethodGet {
		s.writeJSON(w, r, http.StatusOK, s.deps.Settings.Current())
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, api.NewErrorMessage("failed to read body", ""))
		return
	}
	// Fields missing from the body keep their current values.
	next := s.deps.Settings.Current()
	if err := json.Unmarshal(data, &next); err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, api.NewErrorMessage("invalid settings payload", ""))
		return
	}
	s.execute(w, r, api.Command{Type: api.CommandUpdateConfig, Settings: &next})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	resp := api.StatusResponse{
		WSClients: s.wsActive.Load(),
		Version:   version.Current(),
	}
	if s.deps.Sampler != nil {
		resp.Sources = s.deps.Sampler.Status()
	}
	if s.deps.Overlay != nil {
		status := s.deps.Overlay.Status()
		resp.Overlay = &status
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	if s.deps.Overlay == nil {
		http.Error(w, "overlay disabled", http.StatusServiceUnavailable)
		return
	}
	status := s.deps.Overlay.Status()
	if status.LastPass.IsZero() {
		http.Error(w, "display not queried yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, status.Display)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}

	var cmd api.Command
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&cmd); err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, api.NewErrorMessage("invalid command payload", ""))
		return
	}
	if cmd.Type == api.CommandPing {
		s.writeJSON(w, r, http.StatusOK, api.PongMessage{Type: api.TypePong})
		return
	}
	s.execute(w, r, cmd)
}

// execute validates and runs cmd, mapping a rejected command to 422.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd api.Command) {
	if err := cmd.Validate(); err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, api.NewErrorMessage(err.Error(), ""))
		return
	}
	if s.deps.Commands == nil {
		http.Error(w, "commands unavailable", http.StatusServiceUnavailable)
		return
	}

	result := s.deps.Commands.Execute(r.Context(), cmd)
	result.Type = api.TypeResult
	status := http.StatusOK
	if !result.OK {
		status = http.StatusUnprocessableEntity
		s.loggerFromContext(r.Context()).Info("command rejected", "command", cmd.Type, "err", result.Error)
	}
	s.writeJSON(w, r, status, result)
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func (s *Server) readiness() readyResponse {
	if s.deps.Sampler == nil {
		return readyResponse{Status: "degraded", Reason: "sampler_not_configured"}
	}

	resp := readyResponse{}
	for _, status := range s.deps.Sampler.Status() {
		if status.State == sampler.StateEnabled {
			resp.Sources++
		}
	}

	if s.deps.Sampler.Ready() {
		resp.Status = "ok"
		return resp
	}

	resp.Status = "initializing"
	resp.Reason = "waiting_for_samples"
	return resp
}

type readyResponse struct {
	Status  string `json:"status"`
	Sources int    `json:"enabled_sources"`
	Reason  string `json:"reason,omitempty"`
}
