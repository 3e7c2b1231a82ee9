package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/claude/rehabai/internal/config"
	"github.com/claude/rehabai/internal/ingest"
	"github.com/claude/rehabai/internal/models"
	"github.com/claude/rehabai/internal/session"
	"github.com/claude/rehabai/internal/storage"
	"github.com/claude/rehabai/internal/ws"
)

// Store is the persistence used by the HTTP handlers. *storage.DB satisfies it.
type Store interface {
	GetOrCreateUser(ctx context.Context, login, displayName string, role models.Role) (models.User, error)
	GetUser(ctx context.Context, id int) (models.User, error)
	ListPatients(ctx context.Context) ([]models.User, error)
	QueryExerciseLogs(ctx context.Context, userID int, f storage.LogFilter) ([]models.ExerciseLog, error)
	GetPatientReport(ctx context.Context, userID int) ([]models.ReportRow, error)
	GetProgressTrend(ctx context.Context, userID int, start, end time.Time, bucket string) ([]storage.TrendPoint, error)
	QueryAchievements(ctx context.Context, userID int) ([]models.Achievement, error)
	InsertImportLog(ctx context.Context, log storage.ImportLog) (int64, error)
	QueryImportLogs(ctx context.Context, userID, limit int) ([]storage.ImportLog, error)
}

var _ Store = (*storage.DB)(nil)

// Ingester stores exercise logs and awards achievements.
type Ingester interface {
	Ingest(ctx context.Context, userID int, source string, logs []models.ExerciseLogInput) (*ingest.Result, error)
}

var _ Ingester = (*ingest.Provider)(nil)

// Options holds server settings taken from the config file.
type Options struct {
	Auth config.AuthConfig
	// Keepalive is how often the live stream re-sends running sessions.
	Keepalive time.Duration
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	db       Store
	ingester Ingester
	sessions *session.Manager
	hub      *ws.Hub
	auth     config.AuthConfig
	log      *slog.Logger
	router   chi.Router
	whois    WhoIser
	mcp      http.Handler
}

// New creates a new Server with all routes configured.
func New(db Store, ingester Ingester, sessions *session.Manager, opts Options, log *slog.Logger) *Server {
	if opts.Keepalive <= 0 {
		opts.Keepalive = 5 * time.Second
	}
	s := &Server{
		db:       db,
		ingester: ingester,
		sessions: sessions,
		hub:      ws.New(sessions, opts.Keepalive, log),
		auth:     opts.Auth,
		log:      log,
		router:   chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run drives the live session stream until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// SetTailscale switches identity resolution from the dev login to tailnet
// WhoIs lookups.
func (s *Server) SetTailscale(w WhoIser) {
	s.whois = w
}

// SetMCP mounts the streamable-HTTP MCP handler at /mcp.
func (s *Server) SetMCP(h http.Handler) {
	s.mcp = h
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	s.router.Get("/metrics", s.handleMetrics)

	// Batch ingest from the replay uploader (API key required)
	s.router.Route("/api/v1/ingest", func(r chi.Router) {
		r.Use(APIKeyAuth(s.auth.APIKey))
		r.Post("/logs", s.handleIngestLogs)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(s.Identity)

		r.Get("/api/v1/me", s.handleMe)
		r.Get("/api/v1/exercise-types", s.handleExerciseTypes)
		r.Post("/api/v1/exercises/log", s.handleLogExercise)
		r.Get("/api/v1/exercises/{userID}", s.handleListExercises)
		r.Get("/api/v1/exercises/{userID}/trend", s.handleProgressTrend)
		r.Get("/api/v1/achievements", s.handleAchievements)
		r.Get("/api/v1/import-logs", s.handleImportLogs)

		r.Post("/api/v1/sessions", s.handleStartSession)
		r.With(requireClinician).Get("/api/v1/sessions", s.handleActiveSessions)
		r.Get("/api/v1/sessions/current", s.handleCurrentSession)
		r.Delete("/api/v1/sessions/current", s.handleStopSession)
		r.Post("/api/v1/sessions/current/poses", s.handlePushPoses)
		r.Post("/api/v1/sessions/current/frame", s.handlePushFrame)
		r.Get("/ws/session", s.handleSessionStream)

		r.Route("/api/v1/clinician", func(r chi.Router) {
			r.Use(requireClinician)
			r.Get("/patients", s.handleListPatients)
			r.Get("/patients/{userID}", s.handleGetPatient)
			r.Get("/patients/{userID}/report", s.handlePatientReport)
		})

		r.Handle("/mcp", http.HandlerFunc(s.serveMCP))
	})
}

func (s *Server) serveMCP(w http.ResponseWriter, r *http.Request) {
	if s.mcp == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "mcp not enabled"})
		return
	}
	s.mcp.ServeHTTP(w, r)
}
