package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/claude/rehabai/internal/models"
)

// GetUserStats returns aggregate statistics over a user's exercise logs.
func (db *DB) GetUserStats(ctx context.Context, userID int) (models.UserStats, error) {
	var stats models.UserStats

	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(reps), 0)::bigint,
		        COALESCE(MAX(reps), 0),
		        COALESCE(AVG(quality_score), 0),
		        COALESCE(MAX(quality_score), 0),
		        COUNT(DISTINCT exercise_type)::int,
		        MIN(date),
		        MAX(date)
		 FROM exercise_logs
		 WHERE user_id = $1`, userID,
	).Scan(&stats.TotalSessions, &stats.TotalReps, &stats.BestSessionReps,
		&stats.AvgQuality, &stats.BestQuality, &stats.DistinctExercises,
		&stats.EarliestLog, &stats.LatestLog)
	if err != nil {
		return stats, fmt.Errorf("aggregating exercise logs: %w", err)
	}

	// Sessions since the most recent painful one
	err = db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exercise_logs
		 WHERE user_id = $1
		   AND date > COALESCE(
		       (SELECT MAX(date) FROM exercise_logs WHERE user_id = $1 AND pain_detected),
		       '-infinity'::timestamptz)`, userID,
	).Scan(&stats.PainFreeStreak)
	if err != nil {
		return stats, fmt.Errorf("counting pain-free streak: %w", err)
	}

	rows, err := db.Pool.Query(ctx,
		`SELECT DISTINCT date::date AS day
		 FROM exercise_logs
		 WHERE user_id = $1
		 ORDER BY day DESC
		 LIMIT 366`, userID)
	if err != nil {
		return stats, fmt.Errorf("querying active days: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return stats, fmt.Errorf("scanning active day: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	stats.DayStreak = dayStreak(days)

	return stats, nil
}

// dayStreak counts consecutive calendar days starting at the most recent one.
// days must be distinct and sorted newest first.
func dayStreak(days []time.Time) int {
	if len(days) == 0 {
		return 0
	}
	streak := 1
	for i := 1; i < len(days); i++ {
		prev := days[i-1]
		want := time.Date(prev.Year(), prev.Month(), prev.Day()-1, 0, 0, 0, 0, prev.Location())
		d := days[i]
		if d.Year() != want.Year() || d.YearDay() != want.YearDay() {
			break
		}
		streak++
	}
	return streak
}
