package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a user's access level.
type Role string

const (
	RolePatient   Role = "patient"
	RoleClinician Role = "clinician"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleClinician
}

// User is a row of the users table.
type User struct {
	ID          int       `json:"id"`
	Login       string    `json:"login"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// ExerciseLogInput is the payload a client submits for one finished session.
type ExerciseLogInput struct {
	ExerciseType string     `json:"exercise_type"`
	Reps         int        `json:"reps"`
	QualityScore float64    `json:"quality_score"`
	PainDetected bool       `json:"pain_detected"`
	Date         *time.Time `json:"date,omitempty"`
	SessionID    *uuid.UUID `json:"session_id,omitempty"`
}

// ExerciseLog is a row of the exercise_logs table.
type ExerciseLog struct {
	ID           uuid.UUID  `json:"id"`
	UserID       int        `json:"user_id"`
	Date         time.Time  `json:"date"`
	ExerciseType string     `json:"exercise_type"`
	Reps         int        `json:"reps"`
	QualityScore float64    `json:"quality_score"`
	PainDetected bool       `json:"pain_detected"`
	SessionID    *uuid.UUID `json:"session_id,omitempty"`
	Source       string     `json:"source"`
}

// Row builds the row stored for in. The date defaults to now and the
// exercise type is normalized.
func (in ExerciseLogInput) Row(userID int, source string, now time.Time) ExerciseLog {
	date := now
	if in.Date != nil && !in.Date.IsZero() {
		date = *in.Date
	}
	exerciseType, _ := NormalizeExerciseType(in.ExerciseType)
	return ExerciseLog{
		ID:           uuid.New(),
		UserID:       userID,
		Date:         date,
		ExerciseType: exerciseType,
		Reps:         in.Reps,
		QualityScore: in.QualityScore,
		PainDetected: in.PainDetected,
		SessionID:    in.SessionID,
		Source:       source,
	}
}

// ReportRow is one exercise type's aggregate in a patient report.
type ReportRow struct {
	ExerciseType  string  `json:"exercise_type"`
	TotalReps     int64   `json:"total_reps"`
	AvgQuality    float64 `json:"avg_quality"`
	TotalSessions int64   `json:"total_sessions"`
	PainDetected  int64   `json:"pain_detected"`
}

// Achievement is a badge earned by a user.
type Achievement struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	BadgeName string    `json:"badge_name"`
	EarnedAt  time.Time `json:"earned_at"`
}

// UserStats aggregates a user's exercise history. Achievement conditions are
// evaluated against it.
type UserStats struct {
	TotalSessions     int64      `json:"total_sessions"`
	TotalReps         int64      `json:"total_reps"`
	BestSessionReps   int        `json:"best_session_reps"`
	AvgQuality        float64    `json:"avg_quality"`
	BestQuality       float64    `json:"best_quality"`
	PainFreeStreak    int64      `json:"pain_free_streak"`
	DistinctExercises int        `json:"distinct_exercises"`
	DayStreak         int        `json:"day_streak"`
	EarliestLog       *time.Time `json:"earliest_log"`
	LatestLog         *time.Time `json:"latest_log"`
}
