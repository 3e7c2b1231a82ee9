package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/claude/rehabai/internal/models"
)

const exerciseLogColumns = `id, user_id, date, exercise_type, reps, quality_score, pain_detected, session_id, source`

// InsertExerciseLogs batch-inserts exercise logs and returns the rows that
// were stored. Rows whose session_id already exists are skipped.
func (db *DB) InsertExerciseLogs(ctx context.Context, rows []models.ExerciseLog) ([]models.ExerciseLog, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	query := `INSERT INTO exercise_logs (` + exerciseLogColumns + `) VALUES `
	args := make([]any, 0, len(rows)*9)
	valueStrings := make([]string, 0, len(rows))

	for i, r := range rows {
		base := i * 9
		valueStrings = append(valueStrings, fmt.Sprintf(
			"($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args, r.ID, r.UserID, r.Date, r.ExerciseType, r.Reps,
			r.QualityScore, r.PainDetected, r.SessionID, r.Source)
	}

	query += strings.Join(valueStrings, ",") + " ON CONFLICT DO NOTHING RETURNING " + exerciseLogColumns

	result, err := db.queryExerciseLogs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("inserting exercise logs: %w", err)
	}
	return result, nil
}

// ExerciseLogsBySession returns a user's stored logs for the given session IDs.
func (db *DB) ExerciseLogsBySession(ctx context.Context, userID int, sessionIDs []uuid.UUID) ([]models.ExerciseLog, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(sessionIDs))
	for i, id := range sessionIDs {
		ids[i] = id.String()
	}
	result, err := db.queryExerciseLogs(ctx,
		`SELECT `+exerciseLogColumns+` FROM exercise_logs
		 WHERE user_id = $1 AND session_id = ANY($2::uuid[])`,
		userID, ids)
	if err != nil {
		return nil, fmt.Errorf("querying exercise logs by session: %w", err)
	}
	return result, nil
}

// LogFilter narrows QueryExerciseLogs. Zero values mean no restriction.
type LogFilter struct {
	Start        time.Time
	End          time.Time
	ExerciseType string
	Limit        int
}

// QueryExerciseLogs returns a user's exercise logs, newest first.
func (db *DB) QueryExerciseLogs(ctx context.Context, userID int, f LogFilter) ([]models.ExerciseLog, error) {
	query := `SELECT ` + exerciseLogColumns + ` FROM exercise_logs WHERE user_id = $1`
	args := []any{userID}

	if !f.Start.IsZero() {
		args = append(args, f.Start)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if !f.End.IsZero() {
		args = append(args, f.End)
		query += fmt.Sprintf(" AND date < $%d", len(args))
	}
	if f.ExerciseType != "" {
		args = append(args, f.ExerciseType)
		query += fmt.Sprintf(" AND exercise_type = $%d", len(args))
	}
	query += " ORDER BY date DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	result, err := db.queryExerciseLogs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying exercise logs: %w", err)
	}
	return result, nil
}

func (db *DB) queryExerciseLogs(ctx context.Context, query string, args ...any) ([]models.ExerciseLog, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.ExerciseLog{}
	for rows.Next() {
		var l models.ExerciseLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Date, &l.ExerciseType, &l.Reps,
			&l.QualityScore, &l.PainDetected, &l.SessionID, &l.Source); err != nil {
			return nil, fmt.Errorf("scanning exercise log: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}
