package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/claude/rehabai/internal/models"
)

// GetPatientReport aggregates a user's exercise logs per exercise type.
func (db *DB) GetPatientReport(ctx context.Context, userID int) ([]models.ReportRow, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT exercise_type,
		        COALESCE(SUM(reps), 0)::bigint,
		        COALESCE(AVG(quality_score), 0),
		        COUNT(*),
		        COUNT(*) FILTER (WHERE pain_detected)
		 FROM exercise_logs
		 WHERE user_id = $1
		 GROUP BY exercise_type
		 ORDER BY exercise_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying patient report: %w", err)
	}
	defer rows.Close()

	result := []models.ReportRow{}
	for rows.Next() {
		var r models.ReportRow
		if err := rows.Scan(&r.ExerciseType, &r.TotalReps, &r.AvgQuality, &r.TotalSessions, &r.PainDetected); err != nil {
			return nil, fmt.Errorf("scanning report row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// TrendPoint is one period of a patient's progress for one exercise type.
type TrendPoint struct {
	Period       string  `json:"period"`
	ExerciseType string  `json:"exercise_type"`
	Sessions     int     `json:"sessions"`
	TotalReps    int64   `json:"total_reps"`
	AvgQuality   float64 `json:"avg_quality"`
	PainSessions int     `json:"pain_sessions"`
}

// GetProgressTrend buckets a user's logs by period ("day", "week", "month").
func (db *DB) GetProgressTrend(ctx context.Context, userID int, start, end time.Time, bucket string) ([]TrendPoint, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT date_trunc($1, date)::date AS period,
		        exercise_type,
		        COUNT(*)::int,
		        COALESCE(SUM(reps), 0)::bigint,
		        COALESCE(AVG(quality_score), 0),
		        COUNT(*) FILTER (WHERE pain_detected)::int
		 FROM exercise_logs
		 WHERE user_id = $2 AND date >= $3 AND date < $4
		 GROUP BY period, exercise_type
		 ORDER BY period DESC, exercise_type`,
		trendInterval(bucket), userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying progress trend: %w", err)
	}
	defer rows.Close()

	result := []TrendPoint{}
	for rows.Next() {
		var periodTime time.Time
		var p TrendPoint
		if err := rows.Scan(&periodTime, &p.ExerciseType, &p.Sessions, &p.TotalReps, &p.AvgQuality, &p.PainSessions); err != nil {
			return nil, fmt.Errorf("scanning trend point: %w", err)
		}
		p.Period = periodTime.Format("2006-01-02")
		result = append(result, p)
	}
	return result, rows.Err()
}

// trendInterval maps a bucket name to a date_trunc field. Unknown buckets
// fall back to weeks.
func trendInterval(bucket string) string {
	switch bucket {
	case "day", "daily", "1 day":
		return "day"
	case "month", "monthly", "1 month":
		return "month"
	default:
		return "week"
	}
}
