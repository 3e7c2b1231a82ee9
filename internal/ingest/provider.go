// Package ingest stores finished exercise sessions and awards the badges
// they unlock.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/claude/rehabai/internal/achievements"
	"github.com/claude/rehabai/internal/models"
)

// Result holds the outcome of an ingest operation.
type Result struct {
	LogsReceived int                  `json:"logs_received"`
	LogsInserted int64                `json:"logs_inserted"`
	LogsSkipped  int64                `json:"logs_skipped"`
	Logs         []models.ExerciseLog `json:"logs,omitempty"`
	Achievements []models.Achievement `json:"achievements,omitempty"`
}

// Store is the persistence the provider needs. *storage.DB satisfies it.
type Store interface {
	InsertExerciseLogs(ctx context.Context, rows []models.ExerciseLog) ([]models.ExerciseLog, error)
	ExerciseLogsBySession(ctx context.Context, userID int, sessionIDs []uuid.UUID) ([]models.ExerciseLog, error)
	GetUserStats(ctx context.Context, userID int) (models.UserStats, error)
	QueryAchievements(ctx context.Context, userID int) ([]models.Achievement, error)
	InsertAchievements(ctx context.Context, userID int, badges []string) ([]models.Achievement, error)
}

// Provider turns validated exercise log payloads into stored rows.
type Provider struct {
	store  Store
	engine *achievements.Engine
	log    *slog.Logger
	now    func() time.Time
}

// NewProvider creates a new exercise log ingest provider.
func NewProvider(store Store, engine *achievements.Engine, log *slog.Logger) *Provider {
	return &Provider{store: store, engine: engine, log: log, now: time.Now}
}

// Ingest stores logs for userID and evaluates achievements. A failed
// achievement evaluation is logged but does not fail the ingest.
//
// Result.Logs holds stored rows only, in input order. A log skipped because
// its session_id is already stored is reported as the existing row.
func (p *Provider) Ingest(ctx context.Context, userID int, source string, logs []models.ExerciseLogInput) (*Result, error) {
	result := &Result{LogsReceived: len(logs)}
	if len(logs) == 0 {
		return result, nil
	}

	now := p.now().UTC()
	rows := make([]models.ExerciseLog, 0, len(logs))
	for _, in := range logs {
		rows = append(rows, in.Row(userID, source, now))
	}

	inserted, err := p.store.InsertExerciseLogs(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("inserting logs: %w", err)
	}
	result.LogsInserted = int64(len(inserted))
	result.LogsSkipped = int64(len(rows) - len(inserted))
	result.Logs = p.storedLogs(ctx, userID, rows, inserted)

	if len(inserted) > 0 && p.engine != nil {
		awarded, err := p.award(ctx, userID)
		if err != nil {
			p.log.Warn("achievement evaluation failed", "user_id", userID, "error", err)
		}
		result.Achievements = awarded
	}
	return result, nil
}

// storedLogs maps each input row to its stored counterpart, looking up the
// existing rows of skipped sessions.
func (p *Provider) storedLogs(ctx context.Context, userID int, rows, inserted []models.ExerciseLog) []models.ExerciseLog {
	byID := make(map[uuid.UUID]models.ExerciseLog, len(inserted))
	for _, l := range inserted {
		byID[l.ID] = l
	}

	var missing []uuid.UUID
	for _, r := range rows {
		if _, ok := byID[r.ID]; !ok && r.SessionID != nil {
			missing = append(missing, *r.SessionID)
		}
	}
	bySession := make(map[uuid.UUID]models.ExerciseLog)
	if len(missing) > 0 {
		existing, err := p.store.ExerciseLogsBySession(ctx, userID, missing)
		if err != nil {
			p.log.Warn("loading existing session logs", "user_id", userID, "error", err)
		}
		for _, l := range existing {
			bySession[*l.SessionID] = l
		}
	}

	out := make([]models.ExerciseLog, 0, len(rows))
	for _, r := range rows {
		if l, ok := byID[r.ID]; ok {
			out = append(out, l)
			continue
		}
		if r.SessionID == nil {
			continue
		}
		if l, ok := bySession[*r.SessionID]; ok {
			out = append(out, l)
		}
	}
	return out
}

func (p *Provider) award(ctx context.Context, userID int) ([]models.Achievement, error) {
	stats, err := p.store.GetUserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading stats: %w", err)
	}
	current, err := p.store.QueryAchievements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading achievements: %w", err)
	}
	held := make([]string, 0, len(current))
	for _, a := range current {
		held = append(held, a.BadgeName)
	}

	earned := p.engine.Evaluate(stats, held)
	if len(earned) == 0 {
		return nil, nil
	}
	awarded, err := p.store.InsertAchievements(ctx, userID, earned)
	if err != nil {
		return nil, fmt.Errorf("storing achievements: %w", err)
	}
	for _, a := range awarded {
		p.log.Info("achievement earned", "user_id", userID, "badge", a.BadgeName)
	}
	return awarded, nil
}
