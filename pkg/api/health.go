package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/multiplexing"
)

// HealthServer provides the HTTP health, readiness, stats and metrics
// endpoints
type HealthServer struct {
	engine *multiplexing.Engine
	mux    *http.ServeMux
	server *http.Server
}

// NewHealthServer creates a new health check HTTP server
func NewHealthServer(engine *multiplexing.Engine) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		engine: engine,
		mux:    mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/live", getOnly(metrics.LivenessHandler()))
	mux.HandleFunc("/stats", hs.statsHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start listens on addr and serves until Shutdown
func (hs *HealthServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return hs.Serve(ln)
}

// Serve serves on an existing listener until Shutdown
func (hs *HealthServer) Serve(ln net.Listener) error {
	hs.server = &http.Server{
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metrics.RegisterComponent("api", true, "listening on "+ln.Addr().String())
	err := hs.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	metrics.UpdateComponent("api", false, "shutting down")
	return hs.server.Shutdown(ctx)
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// StatsResponse is the body of /stats
type StatsResponse struct {
	Engine string                    `json:"engine"`
	Muxers []multiplexing.MuxerStats `json:"muxers"`
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// healthHandler implements /health from the component registry
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	getOnly(metrics.HealthHandler())(w, r)
}

// readyHandler implements /ready: the engine must be running and every
// critical component healthy
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	readiness := metrics.GetReadiness()
	checks := readiness.Components
	if checks == nil {
		checks = make(map[string]string)
	}
	ready := readiness.Status == metrics.StatusReady
	message := readiness.Message

	switch {
	case hs.engine == nil:
		checks["engine"] = "not initialized"
		ready = false
		message = "Engine not initialized"
	case !hs.engine.Running():
		checks["engine"] = hs.engine.State().String()
		ready = false
		message = "Engine not running"
	default:
		checks["engine"] = "running"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

// statsHandler implements /stats with a snapshot of every muxer
func (hs *HealthServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.engine == nil {
		http.Error(w, "Engine not initialized", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Engine: hs.engine.State().String(),
		Muxers: hs.engine.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
