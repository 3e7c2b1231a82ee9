package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/claude/rehabai/internal/models"
)

// InsertAchievements awards badges to a user. Badges the user already holds
// are skipped. Returns the newly stored achievements.
func (db *DB) InsertAchievements(ctx context.Context, userID int, badges []string) ([]models.Achievement, error) {
	if len(badges) == 0 {
		return nil, nil
	}

	query := `INSERT INTO achievements (user_id, badge_name) VALUES `
	args := make([]any, 0, len(badges)*2)
	valueStrings := make([]string, 0, len(badges))
	for i, b := range badges {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d,$%d)", i*2+1, i*2+2))
		args = append(args, userID, b)
	}
	query += strings.Join(valueStrings, ",") +
		` ON CONFLICT (user_id, badge_name) DO NOTHING
		 RETURNING id, user_id, badge_name, earned_at`

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("inserting achievements: %w", err)
	}
	defer rows.Close()

	var result []models.Achievement
	for rows.Next() {
		var a models.Achievement
		if err := rows.Scan(&a.ID, &a.UserID, &a.BadgeName, &a.EarnedAt); err != nil {
			return nil, fmt.Errorf("scanning achievement: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// QueryAchievements returns a user's badges in the order they were earned.
func (db *DB) QueryAchievements(ctx context.Context, userID int) ([]models.Achievement, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, badge_name, earned_at
		 FROM achievements
		 WHERE user_id = $1
		 ORDER BY earned_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying achievements: %w", err)
	}
	defer rows.Close()

	result := []models.Achievement{}
	for rows.Next() {
		var a models.Achievement
		if err := rows.Scan(&a.ID, &a.UserID, &a.BadgeName, &a.EarnedAt); err != nil {
			return nil, fmt.Errorf("scanning achievement: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
