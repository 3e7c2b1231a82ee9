package mcp

import (
	"context"
	"time"

	"github.com/claude/rehabai/internal/models"
	"github.com/claude/rehabai/internal/storage"
)

// DataSource abstracts the data layer for MCP tools. Both *storage.DB (local)
// and HTTPClient (remote via REST API) satisfy this interface.
type DataSource interface {
	GetUser(ctx context.Context, id int) (models.User, error)
	ListPatients(ctx context.Context) ([]models.User, error)
	QueryExerciseLogs(ctx context.Context, userID int, f storage.LogFilter) ([]models.ExerciseLog, error)
	GetPatientReport(ctx context.Context, userID int) ([]models.ReportRow, error)
	GetProgressTrend(ctx context.Context, userID int, start, end time.Time, bucket string) ([]storage.TrendPoint, error)
	QueryAchievements(ctx context.Context, userID int) ([]models.Achievement, error)
}

// Compile-time check: *storage.DB satisfies DataSource.
var _ DataSource = (*storage.DB)(nil)
