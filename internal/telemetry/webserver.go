package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rjboer/GoGNSS/internal/logging"
)

const indexPage = `<!doctype html>
<title>gnssfifo</title>
<h1>gnssfifo</h1>
<ul>
<li><a href="/api/status">/api/status</a></li>
<li><a href="/api/history">/api/history</a></li>
<li><a href="/api/live">/api/live</a></li>
<li><a href="/api/spectrum">/api/spectrum</a></li>
<li><a href="/api/config">/api/config</a></li>
<li><a href="/metrics">/metrics</a></li>
</ul>
`

// WebServer exposes queue status, history, live updates and metrics over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
}

// NewWebServer builds an HTTP server for the hub. registry may be nil, in
// which case /metrics is not served.
func NewWebServer(addr string, hub *Hub, registry *prometheus.Registry, logger logging.Logger) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebServer{
		hub:    hub,
		logger: logger.With(logging.F("subsystem", "web")),
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(hub, registry),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// NewHandler returns the routing table used by WebServer.
func NewHandler(hub *Hub, registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", hub.handleStatus)
	mux.HandleFunc("/api/history", hub.handleHistory)
	mux.HandleFunc("/api/live", hub.handleLive)
	mux.HandleFunc("/api/spectrum", hub.handleSpectrum)
	mux.HandleFunc("/api/gain", hub.handleGain)
	mux.HandleFunc("/api/config", hub.handleConfig)
	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			ErrorHandling: promhttp.HTTPErrorOnError,
		}))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(indexPage))
	})
	return mux
}

// Start listens on the configured address and serves until ctx is canceled.
func (w *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.srv.Addr)
	if err != nil {
		return err
	}
	return w.Serve(ctx, ln)
}

// Serve serves on ln and shuts down gracefully when ctx is canceled.
func (w *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	w.logger.Info("web telemetry listening", logging.F("addr", ln.Addr().String()))
	w.srv.RegisterOnShutdown(w.hub.closeSubscribers)

	errCh := make(chan error, 1)
	go func() { errCh <- w.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.srv.Shutdown(shutdownCtx); err != nil {
		w.logger.Warn("web telemetry shutdown", logging.F("error", err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	w.logger.Info("web telemetry stopped")
	return nil
}
