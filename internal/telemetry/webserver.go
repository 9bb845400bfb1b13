package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/rjboer/rtltcpd/internal/logging"
)

// WebServer exposes the Hub's diagnostics over HTTP. It is disabled
// entirely unless cmd/rtltcpd is given a non-empty listen address; the
// sample and control paths are unaffected either way.
type WebServer struct {
	srv *http.Server
	log logging.Logger
}

// NewWebServer builds an HTTP server serving /api/diagnostics,
// /api/sessions and /api/live (SSE) from hub.
func NewWebServer(addr string, hub *Hub, log logging.Logger) *WebServer {
	if log == nil {
		log = logging.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/diagnostics", hub.handleDiagnostics)
	mux.HandleFunc("/api/sessions", hub.handleSessions)
	mux.HandleFunc("/api/live", hub.handleLive)

	return &WebServer{
		srv: &http.Server{Addr: addr, Handler: mux},
		log: logging.Named(log, "telemetry-http"),
	}
}

// Start begins listening and blocks until ctx is cancelled, at which
// point it shuts the HTTP server down with a bounded grace period. A
// listen failure is logged; it never takes down the TCP server.
func (w *WebServer) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.log.Warn("diagnostics server shutdown", logging.Field{Key: "err", Value: err})
		}
	}()

	w.log.Info("diagnostics listening", logging.Field{Key: "addr", Value: w.srv.Addr})
	if err := w.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		w.log.Error("diagnostics server error", logging.Field{Key: "err", Value: err})
	}
}
