// Package server exposes assessments and the request orchestrator over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provenance-cli/internal/config"
	"github.com/sells-group/provenance-cli/internal/model"
	"github.com/sells-group/provenance-cli/internal/monitoring"
	"github.com/sells-group/provenance-cli/internal/pipeline"
	"github.com/sells-group/provenance-cli/internal/store"
	"github.com/sells-group/provenance-cli/internal/verification"
)

// Assessor produces a product assessment.
type Assessor interface {
	AssessProduct(ctx context.Context, productID string) (*pipeline.Result, error)
}

// Requests is the orchestrator surface the API drives.
type Requests interface {
	Open(ctx context.Context, p verification.OpenParams) (*model.VerificationRequest, error)
	SubmitVote(ctx context.Context, requestID, voterID string, approve bool) (model.RequestState, error)
	ResolveExpired(ctx context.Context, requestID string) (model.RequestState, error)
	Get(ctx context.Context, requestID string) (*model.VerificationRequest, error)
	List(ctx context.Context, filter store.RequestFilter) ([]*model.VerificationRequest, error)
}

// Metrics reports request backlog health.
type Metrics interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// Server holds the router and its dependencies.
type Server struct {
	cfg      config.ServerConfig
	assessor Assessor
	requests Requests
	metrics  Metrics
	lookback int
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts GET /v1/metrics backed by m. lookbackHours is the
// default window when the caller does not pass ?hours=.
func WithMetrics(m Metrics, lookbackHours int) Option {
	return func(s *Server) {
		s.metrics = m
		s.lookback = lookbackHours
	}
}

// New builds the router.
func New(cfg config.ServerConfig, assessor Assessor, requests Requests, opts ...Option) *Server {
	s := &Server{cfg: cfg, assessor: assessor, requests: requests}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", healthHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/products/{id}/assessment", assessmentHandler(s.assessor))

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", listRequestsHandler(s.requests))
			r.Post("/", openRequestHandler(s.requests))
			r.Get("/{id}", getRequestHandler(s.requests))
			r.Post("/{id}/votes", voteHandler(s.requests))
			r.Post("/{id}/expire", expireHandler(s.requests))
		})

		if s.metrics != nil {
			r.Get("/metrics", metricsHandler(s.metrics, s.lookback))
		}
	})

	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("server: starting", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
