package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultRequestTimeout bounds API requests when no timeout is configured.
const DefaultRequestTimeout = 120 * time.Second

type Option func(*Server)

// WithRequestTimeout sets the deadline applied to routes registered through API.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithServiceName names the otelhttp server spans.
func WithServiceName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.serviceName = name
		}
	}
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger

	requestTimeout time.Duration
	serviceName    string
	httpServer     *http.Server
}

func New(port int, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		Router:         chi.NewRouter(),
		Port:           port,
		logger:         logger,
		requestTimeout: DefaultRequestTimeout,
		serviceName:    "twin-gateway",
	}
	for _, opt := range opts {
		opt(s)
	}

	// Apply middleware in order
	s.Router.Use(RequestIDMiddleware)
	s.Router.Use(LoggingMiddleware(logger))
	s.Router.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	s.Router.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, s.serviceName)
	})

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// RequestTimeout returns the deadline applied to API routes.
func (s *Server) RequestTimeout() time.Duration {
	return s.requestTimeout
}

// API registers routes that run under the request timeout. Long-lived
// connections such as WebSocket subscriptions belong on Router directly.
// The deadline only cancels the request context; nothing is written when it
// expires.
func (s *Server) API(fn func(r chi.Router)) {
	s.Router.Group(func(r chi.Router) {
		r.Use(s.deadline)
		fn(r)
	})
}

func (s *Server) deadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}
