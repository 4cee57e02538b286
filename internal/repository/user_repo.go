package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"coachly/internal/model"
)

type UserRepository struct {
	db DB
}

func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns the user with the latest coaching session time.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	query := `
        SELECT u.id, u.email, u.name, MAX(s.started_at)
        FROM users u
        LEFT JOIN coaching_sessions s ON s.user_id = u.id
        WHERE u.id = $1
        GROUP BY u.id, u.email, u.name
    `
	var u model.User
	err := r.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Email, &u.Name, &u.LastSessionAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

// FindUsersActiveSince returns distinct users with an email address and at
// least one coaching session started at or after cutoff.
func (r *UserRepository) FindUsersActiveSince(ctx context.Context, cutoff time.Time) ([]model.User, error) {
	query := `
        SELECT u.id, u.email, u.name, MAX(s.started_at)
        FROM users u
        JOIN coaching_sessions s ON s.user_id = u.id
        WHERE s.started_at >= $1
          AND u.email <> ''
        GROUP BY u.id, u.email, u.name
        ORDER BY u.id
    `
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	return collectUsers(rows)
}

// FindUsersWithOverdueCommitments returns distinct owners of at least one open
// commitment whose deadline is before now.
func (r *UserRepository) FindUsersWithOverdueCommitments(ctx context.Context, now time.Time) ([]model.User, error) {
	query := `
        SELECT u.id, u.email, u.name,
               (SELECT MAX(s.started_at) FROM coaching_sessions s WHERE s.user_id = u.id)
        FROM users u
        WHERE u.email <> ''
          AND EXISTS (
              SELECT 1 FROM commitments c
              WHERE c.user_id = u.id
                AND c.status = ANY($1)
                AND c.deadline IS NOT NULL
                AND c.deadline < $2
          )
        ORDER BY u.id
    `
	rows, err := r.db.Query(ctx, query, model.OpenStatusStrings(), now)
	if err != nil {
		return nil, fmt.Errorf("query users with overdue commitments: %w", err)
	}
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]model.User, error) {
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.LastSessionAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}
