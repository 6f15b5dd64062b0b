package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// DiagnosticsOptions configures the diagnostics HTTP server.
type DiagnosticsOptions struct {
	// Addr is the listen address, e.g. ":9090" or "127.0.0.1:0".
	Addr string

	// Metrics serves /metrics. Nil leaves the route unregistered.
	Metrics http.Handler

	// Ready holds the checks behind /readyz.
	Ready []ReadyCheck

	// Tracer wraps every route in HTTPMiddleware when non-nil.
	Tracer trace.Tracer

	Logger       *slog.Logger
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DiagnosticsServer exposes health, readiness, and Prometheus metrics
// endpoints over HTTP for operational monitoring.
type DiagnosticsServer struct {
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewDiagnosticsServer starts an HTTP server with /healthz, /readyz and,
// when a metrics handler is given, /metrics.
func NewDiagnosticsServer(ctx context.Context, opts DiagnosticsOptions) (*DiagnosticsServer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.Handle("GET /healthz", HealthHandler())
	mux.Handle("GET /readyz", ReadyHandler(opts.Ready...))

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	var handler http.Handler = mux
	if opts.Tracer != nil {
		handler = HTTPMiddleware(opts.Tracer, mux)
	}

	var lc net.ListenConfig

	listener, err := lc.Listen(ctx, "tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", opts.Addr, err)
	}

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}

	ds := &DiagnosticsServer{server: srv, listener: listener, done: make(chan struct{})}

	go func() {
		defer close(ds.done)

		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("diagnostics server stopped", "error", serveErr)
		}
	}()

	logger.Info("diagnostics server listening", "addr", ds.Addr())

	return ds, nil
}

// Addr returns the address the server is listening on.
func (d *DiagnosticsServer) Addr() string {
	return d.listener.Addr().String()
}

// Close gracefully shuts down the diagnostics server.
func (d *DiagnosticsServer) Close(ctx context.Context) error {
	err := d.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown diagnostics server: %w", err)
	}

	<-d.done

	return nil
}
