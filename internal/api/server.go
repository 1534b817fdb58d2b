package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/terra-clan/challenge-engine/internal/challenge"
	"github.com/terra-clan/challenge-engine/internal/config"
	"github.com/terra-clan/challenge-engine/internal/models"
)

// Game is the challenge engine as seen by the API
type Game interface {
	RunForBuild(ctx context.Context, build models.Build) (models.RunSummary, error)
	Join(ctx context.Context, project, userID, team string) (*challenge.Participation, error)
	Leave(ctx context.Context, project, userID string) error
	RejectChallenge(ctx context.Context, project, userID, challengeID, reason string) (challenge.Challenge, error)
	Challenges(ctx context.Context, project, userID string) (*models.ParticipationView, error)
	Leaderboard(ctx context.Context, project string) (*models.Leaderboard, error)
}

// Statistics exports the statistics document of a project
type Statistics interface {
	XML(ctx context.Context, project string) (string, error)
}

// Subscriber streams challenge events of a project
type Subscriber interface {
	Subscribe(ctx context.Context, project string) (<-chan models.Event, error)
}

// HealthChecker reports whether the backing services are usable
type HealthChecker interface {
	Ready(ctx context.Context) error
}

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	game           Game
	stats          Statistics
	events         Subscriber
	health         HealthChecker
	authMiddleware *AuthMiddleware
	validate       *validator.Validate
	logger         *zap.SugaredLogger
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	game Game,
	stats Statistics,
	events Subscriber,
	health HealthChecker,
	clients ClientStore,
	logger *zap.SugaredLogger,
) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &Server{
		config:         cfg,
		game:           game,
		stats:          stats,
		events:         events,
		health:         health,
		authMiddleware: NewAuthMiddleware(clients, logger),
		validate:       validator.New(),
		logger:         logger,
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/projects/{project}", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)
		r.Use(s.authMiddleware.RequireProject)

		// The event stream outlives any request timeout
		r.With(s.authMiddleware.RequirePermission(models.PermGameRead)).Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))

			r.With(s.authMiddleware.RequirePermission(models.PermBuildsWrite)).Post("/builds", s.handleReportBuild)
			r.With(s.authMiddleware.RequirePermission(models.PermGameRead)).Get("/leaderboard", s.handleLeaderboard)
			r.With(s.authMiddleware.RequirePermission(models.PermGameRead)).Get("/statistics", s.handleStatistics)

			r.Route("/users/{user}", func(r chi.Router) {
				r.With(s.authMiddleware.RequirePermission(models.PermGameRead)).Get("/challenges", s.handleChallenges)
				r.With(s.authMiddleware.RequirePermission(models.PermGameWrite)).Post("/participation", s.handleJoin)
				r.With(s.authMiddleware.RequirePermission(models.PermGameWrite)).Delete("/participation", s.handleLeave)
				r.With(s.authMiddleware.RequirePermission(models.PermGameWrite)).Post("/challenges/{id}/reject", s.handleReject)
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Infow("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
