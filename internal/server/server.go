// Package server runs the sftphook admin HTTP endpoint: health, the loaded
// plugin set, stored audit events and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/sftphook/internal/registry"
	"github.com/HerbHall/sftphook/internal/store"
	"github.com/HerbHall/sftphook/internal/version"
)

// PluginSource is the part of the registry the server reads.
type PluginSource interface {
	Initialized() bool
	Plugins() []*registry.Plugin
	Backend() string
}

// EventSource lists stored audit events.
type EventSource interface {
	ListEvents(ctx context.Context, f store.EventFilter) ([]store.Event, error)
}

// Options wires optional data sources. Nil fields disable their routes'
// content; the routes answer 503.
type Options struct {
	Plugins  PluginSource
	Events   EventSource
	Gatherer prometheus.Gatherer
}

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
	opts       Options
	logger     *zap.Logger
	mux        *http.ServeMux
}

// New creates a Server listening on addr.
func New(addr string, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		opts:   opts,
		logger: logger.Named("server"),
		mux:    mux,
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/plugins", s.handlePlugins)
	s.mux.HandleFunc("GET /api/v1/plugins/{name}", s.handlePlugin)
	s.mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	gatherer := s.opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting admin server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server error: %w", err)
	}
	return nil
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting admin server", zap.String("addr", l.Addr().String()))
	if err := s.httpServer.Serve(l); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down admin server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Sftphook-Version", version.Short())
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	plugins := 0
	if p := s.opts.Plugins; p != nil {
		if !p.Initialized() {
			status = "not_initialized"
		}
		plugins = len(p.Plugins())
	}
	s.writeJSON(w, map[string]any{
		"status":  status,
		"service": "sftphook",
		"plugins": plugins,
		"version": version.Map(),
	})
}

type pluginResponse struct {
	Name       string   `json:"name"`
	Sequence   string   `json:"sequence"`
	Path       string   `json:"path,omitempty"`
	Enabled    bool     `json:"enabled"`
	Error      string   `json:"error,omitempty"`
	Operations []string `json:"operations"`
}

func newPluginResponse(p *registry.Plugin) pluginResponse {
	resp := pluginResponse{
		Name:       p.Name,
		Sequence:   p.Sequence.String(),
		Path:       p.Path,
		Enabled:    p.Enabled(),
		Operations: []string{},
	}
	if p.LoadError != nil {
		resp.Error = p.LoadError.Error()
	}
	if p.Callbacks != nil {
		for _, op := range p.Callbacks.Ops() {
			resp.Operations = append(resp.Operations, op.String())
		}
	}
	return resp
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if s.opts.Plugins == nil {
		Unavailable(w, "no plugin registry attached", r.URL.Path)
		return
	}
	plugins := s.opts.Plugins.Plugins()
	info := make([]pluginResponse, 0, len(plugins))
	for _, p := range plugins {
		info = append(info, newPluginResponse(p))
	}
	s.writeJSON(w, map[string]any{
		"backend": s.opts.Plugins.Backend(),
		"plugins": info,
	})
}

func (s *Server) handlePlugin(w http.ResponseWriter, r *http.Request) {
	if s.opts.Plugins == nil {
		Unavailable(w, "no plugin registry attached", r.URL.Path)
		return
	}
	name := r.PathValue("name")
	for _, p := range s.opts.Plugins.Plugins() {
		if p.Name == name {
			s.writeJSON(w, newPluginResponse(p))
			return
		}
	}
	NotFound(w, fmt.Sprintf("plugin %s not found", name), r.URL.Path)
}

const maxEventLimit = 1000

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Events == nil {
		Unavailable(w, "no audit store attached", r.URL.Path)
		return
	}
	q := r.URL.Query()
	f := store.EventFilter{
		Source: q.Get("source"),
		Kind:   q.Get("kind"),
		Op:     q.Get("op"),
		Path:   q.Get("path"),
		Limit:  100,
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			BadRequest(w, "limit must be a positive integer", r.URL.Path)
			return
		}
		f.Limit = min(n, maxEventLimit)
	}

	events, err := s.opts.Events.ListEvents(r.Context(), f)
	if err != nil {
		s.logger.Error("list events", zap.Error(err))
		InternalError(w, "failed to list events", r.URL.Path)
		return
	}
	type eventResponse struct {
		ID         int64     `json:"id"`
		Source     string    `json:"source,omitempty"`
		RequestID  uint32    `json:"request_id"`
		Kind       string    `json:"kind"`
		Op         string    `json:"op"`
		Path       string    `json:"path,omitempty"`
		Line       string    `json:"line"`
		RecordedAt time.Time `json:"recorded_at"`
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse(e))
	}
	s.writeJSON(w, out)
}
