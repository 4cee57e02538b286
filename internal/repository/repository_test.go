package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coachly/internal/model"
	"coachly/pkg/outbox"
	"coachly/pkg/trace"
)

var testNow = time.Date(2026, 10, 12, 7, 0, 0, 0, time.UTC)

func commitmentRows(mock pgxmock.PgxPoolIface) *pgxmock.Rows {
	return mock.NewRows([]string{
		"id", "user_id", "action", "status", "deadline", "progress",
		"created_at", "updated_at", "completed_at", "follow_up_count", "last_follow_up_at",
	})
}

func newCommitmentRepo(t *testing.T) (*CommitmentRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewCommitmentRepository(mock, outbox.NewRepository(mock), zap.NewNop()), mock
}

func TestErrNotFoundWrapsNoRows(t *testing.T) {
	assert.True(t, errors.Is(ErrNotFound, pgx.ErrNoRows))
}

func TestFindOpenCommitmentsOlderThan(t *testing.T) {
	repo, mock := newCommitmentRepo(t)
	cutoff := testNow.Add(-72 * time.Hour)
	created := testNow.Add(-96 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("AND follow_up_count = 0")).
		WithArgs(model.OpenStatusStrings(), cutoff).
		WillReturnRows(commitmentRows(mock).AddRow(
			int64(1), int64(7), "Run three times a week", "open", (*time.Time)(nil), (*int)(nil),
			created, created, (*time.Time)(nil), 0, (*time.Time)(nil),
		))

	got, err := repo.FindOpenCommitmentsOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.StatusOpen, got[0].Status)
	assert.Equal(t, int64(7), got[0].UserID)
	assert.Nil(t, got[0].Deadline)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOverdueCommitmentsForUser(t *testing.T) {
	repo, mock := newCommitmentRepo(t)
	deadline := testNow.Add(-5 * 24 * time.Hour)
	progress := 40

	mock.ExpectQuery(regexp.QuoteMeta("AND deadline < $3")).
		WithArgs(int64(7), model.OpenStatusStrings(), testNow).
		WillReturnRows(commitmentRows(mock).AddRow(
			int64(2), int64(7), "Ship the report", "in_progress", &deadline, &progress,
			testNow, testNow, (*time.Time)(nil), 1, &testNow,
		))

	got, err := repo.FindOverdueCommitmentsForUser(context.Background(), 7, testNow)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Deadline)
	assert.Equal(t, deadline, *got[0].Deadline)
	assert.Equal(t, 40, *got[0].Progress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOpenCommitmentsForUserQueryError(t *testing.T) {
	repo, mock := newCommitmentRepo(t)
	mock.ExpectQuery("FROM commitments").
		WithArgs(int64(7), model.OpenStatusStrings()).
		WillReturnError(errors.New("connection refused"))

	_, err := repo.FindOpenCommitmentsForUser(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user 7")
}

func TestRecordFollowUpSentWritesOutboxInSameTx(t *testing.T) {
	repo, mock := newCommitmentRepo(t)
	ctx := trace.WithContext(context.Background(), "run-1")
	id := int64(1)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SET follow_up_count = follow_up_count + 1")).
		WithArgs(id, testNow, model.OpenStatusStrings()).
		WillReturnRows(mock.NewRows([]string{"user_id", "follow_up_count"}).AddRow(int64(7), 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WithArgs("commitment", &id, "commitment.follow_up.sent", pgxmock.AnyArg(), outbox.StatusPending).
		WillReturnRows(mock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(10), testNow, testNow))
	mock.ExpectCommit()

	require.NoError(t, repo.RecordFollowUpSent(ctx, id, testNow))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFollowUpSentNotOpenRollsBack(t *testing.T) {
	repo, mock := newCommitmentRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE commitments")).
		WithArgs(int64(3), testNow, model.OpenStatusStrings()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := repo.RecordFollowUpSent(context.Background(), 3, testNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFollowUpSentOutboxFailureRollsBack(t *testing.T) {
	repo, mock := newCommitmentRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE commitments")).
		WithArgs(int64(1), testNow, model.OpenStatusStrings()).
		WillReturnRows(mock.NewRows([]string{"user_id", "follow_up_count"}).AddRow(int64(7), 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO outbox_events")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.RecordFollowUpSent(context.Background(), 1, testNow)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsBadProgress(t *testing.T) {
	repo, mock := newCommitmentRepo(t)
	progress := 120

	err := repo.Create(context.Background(), &model.Commitment{UserID: 7, Action: "x", Progress: &progress})
	assert.ErrorIs(t, err, model.ErrInvalidProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDefaultsToOpen(t *testing.T) {
	repo, mock := newCommitmentRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO commitments")).
		WithArgs(int64(7), "Call mom", "open", (*time.Time)(nil), (*int)(nil), (*time.Time)(nil)).
		WillReturnRows(mock.NewRows([]string{"id", "created_at", "updated_at", "completed_at"}).
			AddRow(int64(11), testNow, testNow, (*time.Time)(nil)))

	c := &model.Commitment{UserID: 7, Action: "Call mom"}
	require.NoError(t, repo.Create(context.Background(), c))
	assert.Equal(t, int64(11), c.ID)
	assert.Equal(t, model.StatusOpen, c.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusMaintainsCompletedAt(t *testing.T) {
	repo, mock := newCommitmentRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("SET status = $2")).
		WithArgs(int64(1), "completed", testNow, &testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("SET status = $2")).
		WithArgs(int64(1), "missed", testNow, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.UpdateStatus(context.Background(), 1, model.StatusCompleted, testNow))
	err := repo.UpdateStatus(context.Background(), 1, model.StatusMissed, testNow)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.UpdateStatus(context.Background(), 1, "archived", testNow), model.ErrInvalidStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newCommitmentRepo(t)
	mock.ExpectQuery("FROM commitments WHERE id").
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepositoryFindUsersActiveSince(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cutoff := testNow.Add(-7 * 24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("s.started_at >= $1")).
		WithArgs(cutoff).
		WillReturnRows(mock.NewRows([]string{"id", "email", "name", "max"}).
			AddRow(int64(7), "ana@example.com", "Ana", &testNow).
			AddRow(int64(8), "ben@example.com", "Ben", &testNow))

	users, err := NewUserRepository(mock).FindUsersActiveSince(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "ben@example.com", users[1].Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM users u").WithArgs(int64(5)).WillReturnError(pgx.ErrNoRows)

	_, err = NewUserRepository(mock).GetByID(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func preferencesRows(mock pgxmock.PgxPoolIface) *pgxmock.Rows {
	return mock.NewRows([]string{
		"user_id", "enabled", "follow_up_emails", "weekly_check_ins", "overdue_alerts",
		"unsubscribe_token", "created_at", "updated_at",
	})
}

func TestPreferencesGetOrCreateKeepsExistingRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id) DO NOTHING")).
		WithArgs(int64(7), true, true, true, true, "new-token").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM notification_preferences WHERE user_id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(preferencesRows(mock).AddRow(int64(7), false, true, true, true, "old-token", testNow, testNow))

	p, err := NewPreferencesRepository(mock, zap.NewNop()).GetOrCreate(context.Background(), 7, "new-token")
	require.NoError(t, err)
	assert.Equal(t, "old-token", p.UnsubscribeToken)
	assert.False(t, p.Enabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreferencesUnsubscribeByToken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SET enabled = FALSE")).
		WithArgs("tok", testNow).
		WillReturnRows(mock.NewRows([]string{"user_id"}).AddRow(int64(7)))
	mock.ExpectQuery(regexp.QuoteMeta("SET enabled = FALSE")).
		WithArgs("missing", testNow).
		WillReturnError(pgx.ErrNoRows)

	repo := NewPreferencesRepository(mock, zap.NewNop())
	userID, err := repo.UnsubscribeByToken(context.Background(), "tok", testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)

	_, err = repo.UnsubscribeByToken(context.Background(), "missing", testNow)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
