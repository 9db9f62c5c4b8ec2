package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"iothook/internal/audit"
	"iothook/internal/config"
	"iothook/internal/events"
	"iothook/internal/security"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware
	RequestTimeout = 30 * time.Second
)

// Server represents the HTTP server
type Server struct {
	Config   *config.Config
	Store    *events.Store
	Verifier *security.Verifier
	Audit    *audit.Log // nil when the delivery log is disabled
	Logger   *slog.Logger
	TestMode bool

	metrics    *metrics
	httpServer *http.Server
}

// NewServer creates a new server instance. auditLog may be nil.
func NewServer(cfg *config.Config, store *events.Store, auditLog *audit.Log, logger *slog.Logger) *Server {
	s := &Server{
		Config:   cfg,
		Store:    store,
		Verifier: security.NewVerifier(cfg.Secret),
		Audit:    auditLog,
		Logger:   logger,
		TestMode: cfg.TestMode,
		metrics:  newMetrics(),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	return s
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	// Logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				s.Logger.Info("http_request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"request_id", middleware.GetReqID(r.Context()),
					"duration_ms", time.Since(start).Milliseconds())
			}()

			next.ServeHTTP(ww, r)
		})
	})

	// Rate limiting middleware (only if not in test mode)
	if !s.TestMode {
		r.Use(NewRateLimitMiddleware("global", s.Config.RateLimit, s.Logger, s.countRateLimited))
	}

	// Routes
	r.Get("/", s.HandleIndex)
	r.Get("/health", s.HandleHealth)
	r.Get("/events", s.HandleEvents)
	r.Get("/stats", s.HandleStats)
	r.Post("/clear", s.HandleClear)
	r.Get("/deliveries", s.HandleDeliveries)
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())

	// Webhook route with stricter rate limit
	if !s.TestMode {
		r.With(NewRateLimitMiddleware("webhook", s.Config.WebhookRateLimit, s.Logger, s.countRateLimited)).Post("/webhook", s.HandleWebhook)
	} else {
		r.Post("/webhook", s.HandleWebhook)
	}

	return r
}

func (s *Server) countRateLimited(scope string) {
	s.metrics.rateLimited.WithLabelValues(scope).Inc()
}

// Start starts the HTTP server and blocks until it stops. After Shutdown it
// returns nil.
func (s *Server) Start() error {
	s.Logger.Info("Starting server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	// Close audit database connection
	if s.Audit != nil {
		if err := s.Audit.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
