package storage

import (
	"context"
	"fmt"

	"github.com/claude/rehabai/internal/models"
)

const userColumns = `id, login, display_name, role, created_at, last_seen`

// GetOrCreateUser finds or creates a user by login name and returns it.
// Updates last_seen and display_name on each call. The role is refreshed
// as well because it is derived from configuration.
func (db *DB) GetOrCreateUser(ctx context.Context, login, displayName string, role models.Role) (models.User, error) {
	var u models.User
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO users (login, display_name, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (login) DO UPDATE
			SET last_seen = NOW(),
			    display_name = COALESCE(NULLIF($2, ''), users.display_name),
			    role = $3
		RETURNING `+userColumns,
		login, displayName, string(role),
	).Scan(&u.ID, &u.Login, &u.DisplayName, &u.Role, &u.CreatedAt, &u.LastSeen)
	if err != nil {
		return u, fmt.Errorf("upserting user %q: %w", login, err)
	}
	return u, nil
}

// GetUser returns a user by ID, or ErrNotFound.
func (db *DB) GetUser(ctx context.Context, id int) (models.User, error) {
	var u models.User
	err := db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Login, &u.DisplayName, &u.Role, &u.CreatedAt, &u.LastSeen)
	if err != nil {
		return u, notFound(err, fmt.Sprintf("getting user %d", id))
	}
	return u, nil
}

// ListUsersByRole returns all users with the given role ordered by display name.
func (db *DB) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+userColumns+`
		 FROM users
		 WHERE role = $1
		 ORDER BY display_name, login`, string(role))
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	result := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Login, &u.DisplayName, &u.Role, &u.CreatedAt, &u.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

// ListPatients returns every user with the patient role.
func (db *DB) ListPatients(ctx context.Context) ([]models.User, error) {
	return db.ListUsersByRole(ctx, models.RolePatient)
}
