package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	mqcontracts "coachly/contracts/mq"
	"coachly/internal/model"
	"coachly/pkg/outbox"
	"coachly/pkg/trace"
)

const commitmentColumns = `id, user_id, action, status, deadline, progress,
               created_at, updated_at, completed_at, follow_up_count, last_follow_up_at`

type CommitmentRepository struct {
	db     DB
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewCommitmentRepository(db DB, outboxRepo *outbox.Repository, logger *zap.Logger) *CommitmentRepository {
	return &CommitmentRepository{
		db:     db,
		outbox: outboxRepo,
		logger: logger,
	}
}

func scanCommitment(row pgx.Row) (model.Commitment, error) {
	var c model.Commitment
	var status string
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Action,
		&status,
		&c.Deadline,
		&c.Progress,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.CompletedAt,
		&c.FollowUpCount,
		&c.LastFollowUpAt,
	)
	c.Status = model.Status(status)
	return c, err
}

func collectCommitments(rows pgx.Rows) ([]model.Commitment, error) {
	defer rows.Close()

	commitments := []model.Commitment{}
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		commitments = append(commitments, c)
	}
	return commitments, rows.Err()
}

// FindOpenCommitmentsOlderThan returns never-followed-up open commitments
// created at or before cutoff.
func (r *CommitmentRepository) FindOpenCommitmentsOlderThan(ctx context.Context, cutoff time.Time) ([]model.Commitment, error) {
	query := `
        SELECT ` + commitmentColumns + `
        FROM commitments
        WHERE status = ANY($1)
          AND created_at <= $2
          AND follow_up_count = 0
        ORDER BY created_at ASC
    `
	rows, err := r.db.Query(ctx, query, model.OpenStatusStrings(), cutoff)
	if err != nil {
		return nil, fmt.Errorf("query follow-up candidates: %w", err)
	}
	commitments, err := collectCommitments(rows)
	if err != nil {
		return nil, fmt.Errorf("scan follow-up candidates: %w", err)
	}

	r.logger.Debug("Follow-up candidates loaded",
		zap.Time("cutoff", cutoff),
		zap.Int("count", len(commitments)),
	)
	return commitments, nil
}

func (r *CommitmentRepository) FindOpenCommitmentsForUser(ctx context.Context, userID int64) ([]model.Commitment, error) {
	query := `
        SELECT ` + commitmentColumns + `
        FROM commitments
        WHERE user_id = $1
          AND status = ANY($2)
        ORDER BY created_at ASC
    `
	rows, err := r.db.Query(ctx, query, userID, model.OpenStatusStrings())
	if err != nil {
		return nil, fmt.Errorf("query open commitments for user %d: %w", userID, err)
	}
	commitments, err := collectCommitments(rows)
	if err != nil {
		return nil, fmt.Errorf("scan open commitments for user %d: %w", userID, err)
	}
	return commitments, nil
}

func (r *CommitmentRepository) FindOverdueCommitmentsForUser(ctx context.Context, userID int64, now time.Time) ([]model.Commitment, error) {
	query := `
        SELECT ` + commitmentColumns + `
        FROM commitments
        WHERE user_id = $1
          AND status = ANY($2)
          AND deadline IS NOT NULL
          AND deadline < $3
        ORDER BY deadline ASC
    `
	rows, err := r.db.Query(ctx, query, userID, model.OpenStatusStrings(), now)
	if err != nil {
		return nil, fmt.Errorf("query overdue commitments for user %d: %w", userID, err)
	}
	commitments, err := collectCommitments(rows)
	if err != nil {
		return nil, fmt.Errorf("scan overdue commitments for user %d: %w", userID, err)
	}
	return commitments, nil
}

// RecordFollowUpSent increments the follow-up counter and writes the
// commitment.follow_up.sent outbox event in one transaction. It returns
// ErrNotFound when the commitment no longer exists or has left the open family.
func (r *CommitmentRepository) RecordFollowUpSent(ctx context.Context, commitmentID int64, at time.Time) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin follow-up tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := `
        UPDATE commitments
        SET follow_up_count = follow_up_count + 1,
            last_follow_up_at = $2,
            updated_at = $2
        WHERE id = $1
          AND status = ANY($3)
        RETURNING user_id, follow_up_count
    `
	var userID int64
	var count int
	if err = tx.QueryRow(ctx, query, commitmentID, at, model.OpenStatusStrings()).Scan(&userID, &count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("commitment %d: %w", commitmentID, ErrNotFound)
		}
		return fmt.Errorf("increment follow-up count for commitment %d: %w", commitmentID, err)
	}

	payload := mqcontracts.FollowUpSentPayload{
		CommitmentID:  commitmentID,
		UserID:        userID,
		FollowUpCount: count,
		SentAt:        at,
		RunID:         trace.FromContext(ctx),
	}
	if err = outbox.Enqueue(ctx, tx, r.outbox, "commitment", &commitmentID, mqcontracts.RoutingFollowUpSent, payload); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit follow-up tx: %w", err)
	}

	r.logger.Info("Follow-up recorded",
		zap.Int64("commitment_id", commitmentID),
		zap.Int64("user_id", userID),
		zap.Int("follow_up_count", count),
	)
	return nil
}

// Create inserts a new commitment. Status defaults to open.
func (r *CommitmentRepository) Create(ctx context.Context, c *model.Commitment) error {
	if c.Status == "" {
		c.Status = model.StatusOpen
	}
	if _, err := model.ParseStatus(string(c.Status)); err != nil {
		return err
	}
	if c.Progress != nil {
		if err := model.ValidateProgress(*c.Progress); err != nil {
			return err
		}
	}
	var completedAt *time.Time
	if c.Status == model.StatusCompleted {
		now := time.Now()
		completedAt = &now
	}

	query := `
        INSERT INTO commitments (user_id, action, status, deadline, progress, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at, updated_at, completed_at
    `
	err := r.db.QueryRow(ctx, query,
		c.UserID,
		c.Action,
		string(c.Status),
		c.Deadline,
		c.Progress,
		completedAt,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &c.CompletedAt)
	if err != nil {
		r.logger.Error("Failed to insert commitment",
			zap.Int64("user_id", c.UserID),
			zap.Error(err),
		)
		return fmt.Errorf("insert commitment: %w", err)
	}

	r.logger.Info("Commitment created",
		zap.Int64("commitment_id", c.ID),
		zap.Int64("user_id", c.UserID),
	)
	return nil
}

func (r *CommitmentRepository) GetByID(ctx context.Context, id int64) (*model.Commitment, error) {
	query := `SELECT ` + commitmentColumns + ` FROM commitments WHERE id = $1`
	c, err := scanCommitment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("commitment %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get commitment %d: %w", id, err)
	}
	return &c, nil
}

// UpdateStatus moves a commitment to status, keeping completed_at set only
// for completed commitments.
func (r *CommitmentRepository) UpdateStatus(ctx context.Context, id int64, status model.Status, at time.Time) error {
	updated, err := model.Commitment{}.WithStatus(status, at)
	if err != nil {
		return err
	}

	query := `
        UPDATE commitments
        SET status = $2, updated_at = $3, completed_at = $4
        WHERE id = $1
    `
	tag, err := r.db.Exec(ctx, query, id, string(status), at, updated.CompletedAt)
	if err != nil {
		return fmt.Errorf("update status of commitment %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("commitment %d: %w", id, ErrNotFound)
	}

	r.logger.Info("Commitment status updated",
		zap.Int64("commitment_id", id),
		zap.String("status", string(status)),
	)
	return nil
}

func (r *CommitmentRepository) UpdateProgress(ctx context.Context, id int64, progress int, at time.Time) error {
	if err := model.ValidateProgress(progress); err != nil {
		return err
	}

	query := `UPDATE commitments SET progress = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, progress, at)
	if err != nil {
		return fmt.Errorf("update progress of commitment %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("commitment %d: %w", id, ErrNotFound)
	}
	return nil
}
