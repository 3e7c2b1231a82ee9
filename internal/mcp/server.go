package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/claude/rehabai/internal/achievements"
	"github.com/claude/rehabai/internal/repcount"
)

type contextKey int

const callerKey contextKey = iota

// Caller identifies who is invoking a tool over an authenticated transport.
type Caller struct {
	UserID    int
	Clinician bool
}

// WithCaller returns a context carrying the calling user.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext returns the caller injected by the transport layer. ok is
// false over stdio, where access control is left to the data source.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

var errNotAuthorized = errors.New("not authorized")

// authorize allows clinicians everything and patients their own data.
func authorize(ctx context.Context, userID int) error {
	c, ok := CallerFromContext(ctx)
	if !ok || c.Clinician || c.UserID == userID {
		return nil
	}
	return errNotAuthorized
}

func requireClinician(ctx context.Context) error {
	c, ok := CallerFromContext(ctx)
	if !ok || c.Clinician {
		return nil
	}
	return errNotAuthorized
}

// Options supplies the catalogs exposed as resources.
type Options struct {
	Exercises func() []repcount.Exercise
	Badges    *achievements.Engine
}

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, opts Options, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("RehabAI", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("RehabAI tele-rehabilitation server. Query patients' exercise session logs, per-exercise reports, progress trends and earned badges. Patients may only read their own data."),
	)

	h := &handlers{ds: ds, opts: opts, log: log}

	s.AddTools(
		server.ServerTool{Tool: toolGetExerciseHistory, Handler: h.getExerciseHistory},
		server.ServerTool{Tool: toolListPatients, Handler: h.listPatients},
		server.ServerTool{Tool: toolGetPatientReport, Handler: h.getPatientReport},
		server.ServerTool{Tool: toolGetProgressTrend, Handler: h.getProgressTrend},
		server.ServerTool{Tool: toolGetAchievements, Handler: h.getAchievements},
	)

	s.AddResources(
		server.ServerResource{Resource: resExerciseCatalog, Handler: h.exerciseCatalog},
		server.ServerResource{Resource: resBadgeCatalog, Handler: h.badgeCatalog},
	)

	return s
}

// NewHTTPHandler serves s over streamable HTTP. identify resolves the caller
// of each request, typically from identity middleware.
func NewHTTPHandler(s *server.MCPServer, identify func(*http.Request) (Caller, bool)) http.Handler {
	return server.NewStreamableHTTPServer(s,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			c, ok := identify(r)
			if !ok {
				// Unidentified HTTP callers get no access rather than the
				// unrestricted stdio behaviour.
				c = Caller{}
			}
			return WithCaller(ctx, c)
		}),
	)
}

type handlers struct {
	ds   DataSource
	opts Options
	log  *slog.Logger
}

// --- Resource definitions ---

var resExerciseCatalog = mcp.NewResource(
	"rehabai://exercise_catalog",
	"Exercise Catalog",
	mcp.WithResourceDescription("Exercises the rep counter can track, with their joint keypoints and angle thresholds"),
	mcp.WithMIMEType("application/json"),
)

var resBadgeCatalog = mcp.NewResource(
	"rehabai://badge_catalog",
	"Badge Catalog",
	mcp.WithResourceDescription("Achievement badges patients can earn and what each requires"),
	mcp.WithMIMEType("application/json"),
)
