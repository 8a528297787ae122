package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eleven-am/crosslink/internal/domain"
	"github.com/eleven-am/crosslink/internal/helpers/netutil"
	"github.com/eleven-am/crosslink/internal/ports"
	"github.com/eleven-am/crosslink/internal/xjson"
)

const maxSettingsBody = 1 << 20

type Server struct {
	config    domain.ObservabilityConfig
	logger    *slog.Logger
	remote    ports.RemoteIntrospector
	gatherer  prometheus.Gatherer
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Uptime     string            `json:"uptime"`
	Components map[string]string `json:"components,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type RuntimeMetrics struct {
	GoVersion    string `json:"go_version"`
	GOOS         string `json:"goos"`
	GOARCH       string `json:"goarch"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
	HeapAlloc    uint64 `json:"heap_alloc_bytes"`
	NumGC        uint32 `json:"gc_cycles"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Type   string `json:"type"`
	Status int    `json:"status"`
}

// NewServer builds the HTTP introspection server. A nil gatherer serves
// the default prometheus registry.
func NewServer(config domain.ObservabilityConfig, remote ports.RemoteIntrospector, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		config:    config,
		logger:    logger.With("component", "observability"),
		remote:    remote,
		gatherer:  gatherer,
		startTime: time.Now(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /debug/vars", s.handleDebugVars)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}))
	mux.HandleFunc("GET /_remote/info", s.handleRemoteInfo)
	mux.HandleFunc("GET /_cluster/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /_cluster/settings", s.handlePutSettings)

	return s.withLogging(mux)
}

// Start listens on the configured port and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, _, err := netutil.ListenTCP("", s.config.Port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		listener.Close()
		return domain.NewConflictError("observability", "server already started")
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.listener = listener
	server := s.server
	s.mu.Unlock()

	s.logger.Info("starting observability server", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error("observability server error", "error", err)
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down observability server")
	return server.Shutdown(shutdownCtx)
}

func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
	}
	status := http.StatusOK

	if s.remote != nil {
		health := s.remote.GetHealth()
		if !health.Healthy {
			response.Status = "unhealthy"
			response.Error = health.Error
			status = http.StatusServiceUnavailable
		}
		if health.Details != nil {
			response.Components = make(map[string]string, len(health.Details))
			for k, v := range health.Details {
				response.Components[k] = fmt.Sprintf("%v", v)
			}
		}
	}

	s.writeJSON(w, status, response)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.remote != nil && !s.remote.GetHealth().Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("live"))
}

func (s *Server) handleDebugVars(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now(),
		"runtime": RuntimeMetrics{
			GoVersion:    runtime.Version(),
			GOOS:         runtime.GOOS,
			GOARCH:       runtime.GOARCH,
			NumCPU:       runtime.NumCPU(),
			NumGoroutine: runtime.NumGoroutine(),
			HeapAlloc:    m.HeapAlloc,
			NumGC:        m.NumGC,
		},
	})
}

func (s *Server) handleRemoteInfo(w http.ResponseWriter, r *http.Request) {
	if s.remote == nil {
		s.writeError(w, domain.Error{Type: domain.ErrorTypeUnavailable, Message: "remote clusters not configured"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.remote.RemoteInfo())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.remote == nil {
		s.writeError(w, domain.Error{Type: domain.ErrorTypeUnavailable, Message: "remote clusters not configured"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"persistent": s.remote.ClusterSettings(),
	})
}

// handlePutSettings accepts either a bare settings document or one wrapped
// in "persistent". Null values reset a key to its default.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	if s.remote == nil {
		s.writeError(w, domain.Error{Type: domain.ErrorTypeUnavailable, Message: "remote clusters not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSettingsBody))
	if err != nil {
		s.writeError(w, domain.NewConfigurationError("request", "failed to read body", err.Error()))
		return
	}

	var doc map[string]interface{}
	if err := xjson.Unmarshal(body, &doc); err != nil {
		s.writeError(w, domain.NewConfigurationError("request", "body is not a JSON object", "send a settings document"))
		return
	}
	if inner, ok := doc["persistent"].(map[string]interface{}); ok && len(doc) == 1 {
		doc = inner
	}

	update, err := s.remote.UpdateClusterSettings(r.Context(), doc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, update)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := xjson.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	switch {
	case domain.IsValidation(err):
		status, kind = http.StatusBadRequest, "validation"
	case domain.IsNotFound(err):
		status, kind = http.StatusNotFound, "not_found"
	case domain.IsUnavailable(err), domain.IsClosed(err):
		status, kind = http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, domain.ErrNotStarted):
		status, kind = http.StatusServiceUnavailable, "not_started"
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Type: kind, Status: status})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
