// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"net/http"
	"time"

	"flowplane/internal/controller/handlers"
	"flowplane/internal/controller/middleware"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Options configures the controller server.
type Options struct {
	Addr           string
	InternalSecret string
	// InternalRate limits internal requests per second per client; 0 disables it.
	InternalRate  float64
	InternalBurst int
	Metrics       http.Handler // optional
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server.
func New(opts Options, deps handlers.Deps, log *zap.SugaredLogger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      NewHandler(opts, deps, log),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// NewHandler builds the routed handler of the controller.
func NewHandler(opts Options, deps handlers.Deps, log *zap.SugaredLogger) http.Handler {
	h := handlers.New(deps)
	internal := chain(
		middleware.NewRateLimiter(opts.InternalRate, opts.InternalBurst).Middleware(),
		middleware.RequireInternalAuth(opts.InternalSecret),
	)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	// Operator endpoints, guarded by the internal secret.
	mux.Handle("GET /internal/jobs/{id}", internal(http.HandlerFunc(h.GetJob)))
	mux.Handle("POST /internal/jobs/{id}/fail", internal(http.HandlerFunc(h.FailJob)))
	mux.Handle("POST /internal/schedules/{workspace}/enable", internal(http.HandlerFunc(h.EnableSchedule)))

	return middleware.RequestLog(log)(mux)
}

// chain applies mws so that the first one runs outermost.
func chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return errors.Wrap(err, "controller server")
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
