package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"coachly/internal/model"
)

const preferencesColumns = `user_id, enabled, follow_up_emails, weekly_check_ins, overdue_alerts,
               unsubscribe_token, created_at, updated_at`

type PreferencesRepository struct {
	db     DB
	logger *zap.Logger
}

func NewPreferencesRepository(db DB, logger *zap.Logger) *PreferencesRepository {
	return &PreferencesRepository{db: db, logger: logger}
}

func scanPreferences(row pgx.Row) (model.NotificationPreferences, error) {
	var p model.NotificationPreferences
	err := row.Scan(
		&p.UserID,
		&p.Enabled,
		&p.FollowUpEmails,
		&p.WeeklyCheckIns,
		&p.OverdueAlerts,
		&p.UnsubscribeToken,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func (r *PreferencesRepository) Get(ctx context.Context, userID int64) (*model.NotificationPreferences, error) {
	query := `SELECT ` + preferencesColumns + ` FROM notification_preferences WHERE user_id = $1`
	p, err := scanPreferences(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("preferences for user %d: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("get preferences for user %d: %w", userID, err)
	}
	return &p, nil
}

// GetOrCreate inserts all-enabled defaults when the user has no row yet and
// returns the stored row. A concurrent insert keeps the first token.
func (r *PreferencesRepository) GetOrCreate(ctx context.Context, userID int64, token string) (*model.NotificationPreferences, error) {
	defaults := model.DefaultPreferences(userID, token)
	insert := `
        INSERT INTO notification_preferences
            (user_id, enabled, follow_up_emails, weekly_check_ins, overdue_alerts, unsubscribe_token)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (user_id) DO NOTHING
    `
	tag, err := r.db.Exec(ctx, insert,
		defaults.UserID,
		defaults.Enabled,
		defaults.FollowUpEmails,
		defaults.WeeklyCheckIns,
		defaults.OverdueAlerts,
		defaults.UnsubscribeToken,
	)
	if err != nil {
		return nil, fmt.Errorf("insert default preferences for user %d: %w", userID, err)
	}
	if tag.RowsAffected() > 0 {
		r.logger.Info("Default notification preferences created", zap.Int64("user_id", userID))
	}
	return r.Get(ctx, userID)
}

func (r *PreferencesRepository) GetByToken(ctx context.Context, token string) (*model.NotificationPreferences, error) {
	query := `SELECT ` + preferencesColumns + ` FROM notification_preferences WHERE unsubscribe_token = $1`
	p, err := scanPreferences(r.db.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("preferences for token: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get preferences by token: %w", err)
	}
	return &p, nil
}

// Update writes the flags of p. The token is never changed.
func (r *PreferencesRepository) Update(ctx context.Context, p *model.NotificationPreferences, at time.Time) error {
	query := `
        UPDATE notification_preferences
        SET enabled = $2, follow_up_emails = $3, weekly_check_ins = $4, overdue_alerts = $5, updated_at = $6
        WHERE user_id = $1
    `
	tag, err := r.db.Exec(ctx, query,
		p.UserID,
		p.Enabled,
		p.FollowUpEmails,
		p.WeeklyCheckIns,
		p.OverdueAlerts,
		at,
	)
	if err != nil {
		return fmt.Errorf("update preferences for user %d: %w", p.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("preferences for user %d: %w", p.UserID, ErrNotFound)
	}
	p.UpdatedAt = at
	return nil
}

// UnsubscribeByToken turns the master flag off and returns the owning user id.
func (r *PreferencesRepository) UnsubscribeByToken(ctx context.Context, token string, at time.Time) (int64, error) {
	query := `
        UPDATE notification_preferences
        SET enabled = FALSE, updated_at = $2
        WHERE unsubscribe_token = $1
        RETURNING user_id
    `
	var userID int64
	if err := r.db.QueryRow(ctx, query, token, at).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("unsubscribe: %w", ErrNotFound)
		}
		return 0, fmt.Errorf("unsubscribe: %w", err)
	}

	r.logger.Info("User unsubscribed from notifications", zap.Int64("user_id", userID))
	return userID, nil
}
