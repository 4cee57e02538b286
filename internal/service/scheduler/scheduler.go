package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"coachly/internal/model"
)

const (
	FollowUpAfter = 72 * time.Hour
	ActiveWindow  = 7 * 24 * time.Hour
)

// Cadence controls when the overdue pass runs.
type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
	CadenceOff    Cadence = "off"
)

func ParseCadence(s string) (Cadence, error) {
	switch c := Cadence(s); c {
	case CadenceDaily, CadenceWeekly, CadenceOff:
		return c, nil
	case "":
		return CadenceWeekly, nil
	default:
		return "", fmt.Errorf("unknown overdue cadence %q (want daily, weekly or off)", s)
	}
}

type CommitmentStore interface {
	FindOpenCommitmentsOlderThan(ctx context.Context, cutoff time.Time) ([]model.Commitment, error)
	FindOpenCommitmentsForUser(ctx context.Context, userID int64) ([]model.Commitment, error)
	FindOverdueCommitmentsForUser(ctx context.Context, userID int64, now time.Time) ([]model.Commitment, error)
}

type UserStore interface {
	FindUsersActiveSince(ctx context.Context, cutoff time.Time) ([]model.User, error)
	FindUsersWithOverdueCommitments(ctx context.Context, now time.Time) ([]model.User, error)
}

// IsFirstFollowUpEligible: open, created at or before now-72h, never followed up.
func IsFirstFollowUpEligible(c model.Commitment, now time.Time) bool {
	return c.Status.IsOpen() && !c.CreatedAt.After(now.Add(-FollowUpAfter)) && c.FollowUpCount == 0
}

// DaysOverdue is the whole number of days since the deadline, 0 without one.
func DaysOverdue(c model.Commitment, now time.Time) int {
	if c.Deadline == nil {
		return 0
	}
	return model.WholeDaysBetween(*c.Deadline, now)
}

// WeeklyDayFunc decides whether a tick takes the weekly branch.
type WeeklyDayFunc func(t time.Time) bool

// MondayIn returns a WeeklyDayFunc that is true on Mondays in loc.
func MondayIn(loc *time.Location) WeeklyDayFunc {
	if loc == nil {
		loc = time.UTC
	}
	return func(t time.Time) bool {
		return t.In(loc).Weekday() == time.Monday
	}
}

// IsWeeklyDispatchDay reports whether t falls on a Monday in UTC.
func IsWeeklyDispatchDay(t time.Time) bool {
	return MondayIn(time.UTC)(t)
}

type Config struct {
	OverdueCadence Cadence
	// WeeklyDay defaults to MondayIn(time.UTC).
	WeeklyDay WeeklyDayFunc
}

// Scheduler selects who gets which notification on a tick.
type Scheduler struct {
	commitments CommitmentStore
	users       UserStore
	cadence     Cadence
	weeklyDay   WeeklyDayFunc
	logger      *zap.Logger
}

func New(commitments CommitmentStore, users UserStore, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.OverdueCadence == "" {
		cfg.OverdueCadence = CadenceWeekly
	}
	if cfg.WeeklyDay == nil {
		cfg.WeeklyDay = IsWeeklyDispatchDay
	}
	return &Scheduler{
		commitments: commitments,
		users:       users,
		cadence:     cfg.OverdueCadence,
		weeklyDay:   cfg.WeeklyDay,
		logger:      logger,
	}
}

func (s *Scheduler) IsWeeklyDispatchDay(now time.Time) bool {
	return s.weeklyDay(now)
}

// ShouldRunOverdue applies the configured overdue cadence to now.
func (s *Scheduler) ShouldRunOverdue(now time.Time) bool {
	switch s.cadence {
	case CadenceDaily:
		return true
	case CadenceWeekly:
		return s.weeklyDay(now)
	default:
		return false
	}
}

// FollowUpCandidates returns commitments due their first follow-up. Rows the
// store returns that do not satisfy the predicate are dropped.
func (s *Scheduler) FollowUpCandidates(ctx context.Context, now time.Time) ([]model.Commitment, error) {
	rows, err := s.commitments.FindOpenCommitmentsOlderThan(ctx, now.Add(-FollowUpAfter))
	if err != nil {
		return nil, err
	}
	candidates := rows[:0]
	for _, c := range rows {
		if IsFirstFollowUpEligible(c, now) {
			candidates = append(candidates, c)
		}
	}
	if dropped := len(rows) - len(candidates); dropped > 0 {
		s.logger.Warn("Store returned ineligible follow-up rows", zap.Int("dropped", dropped))
	}
	return candidates, nil
}

// WeeklyAudience is every user with a coaching session in the last 7 days.
func (s *Scheduler) WeeklyAudience(ctx context.Context, now time.Time) ([]model.User, error) {
	return s.users.FindUsersActiveSince(ctx, now.Add(-ActiveWindow))
}

// WeeklyContent is every currently open commitment of userID.
func (s *Scheduler) WeeklyContent(ctx context.Context, userID int64) ([]model.Commitment, error) {
	rows, err := s.commitments.FindOpenCommitmentsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	open := rows[:0]
	for _, c := range rows {
		if c.Status.IsOpen() {
			open = append(open, c)
		}
	}
	return open, nil
}

func (s *Scheduler) OverdueAudience(ctx context.Context, now time.Time) ([]model.User, error) {
	return s.users.FindUsersWithOverdueCommitments(ctx, now)
}

func (s *Scheduler) OverdueContent(ctx context.Context, userID int64, now time.Time) ([]model.Commitment, error) {
	rows, err := s.commitments.FindOverdueCommitmentsForUser(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	overdue := rows[:0]
	for _, c := range rows {
		if c.IsOverdue(now) {
			overdue = append(overdue, c)
		}
	}
	return overdue, nil
}
