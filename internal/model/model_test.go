package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)

func TestStatusFamilies(t *testing.T) {
	for _, s := range OpenStatuses {
		assert.True(t, s.IsOpen(), s)
		assert.False(t, s.IsTerminal(), s)
	}
	for _, s := range []Status{StatusCompleted, StatusMissed, StatusAbandoned} {
		assert.False(t, s.IsOpen(), s)
		assert.True(t, s.IsTerminal(), s)
	}
	assert.Equal(t, []string{"open", "pending", "in_progress"}, OpenStatusStrings())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("in_progress")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, s)

	_, err = ParseStatus("done")
	assert.True(t, errors.Is(err, ErrInvalidStatus))
}

func TestWithStatus_CompletedAtOnlyWhenCompleted(t *testing.T) {
	c := Commitment{ID: 1, Status: StatusOpen}

	done, err := c.WithStatus(StatusCompleted, t0)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, t0, *done.CompletedAt)
	assert.Equal(t, t0, done.UpdatedAt)

	reopened, err := done.WithStatus(StatusInProgress, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, reopened.CompletedAt)

	_, err = c.WithStatus("shipped", t0)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestWithFollowUp(t *testing.T) {
	c := Commitment{Status: StatusPending}.WithFollowUp(t0)
	assert.Equal(t, 1, c.FollowUpCount)
	require.NotNil(t, c.LastFollowUpAt)
	assert.Equal(t, t0, *c.LastFollowUpAt)

	c = c.WithFollowUp(t0.Add(time.Hour))
	assert.Equal(t, 2, c.FollowUpCount)

	missed := Commitment{Status: StatusMissed}.WithFollowUp(t0)
	assert.Equal(t, 0, missed.FollowUpCount)
	assert.Nil(t, missed.LastFollowUpAt)
}

func TestValidateProgress(t *testing.T) {
	assert.NoError(t, ValidateProgress(0))
	assert.NoError(t, ValidateProgress(100))
	assert.ErrorIs(t, ValidateProgress(101), ErrInvalidProgress)
	assert.ErrorIs(t, ValidateProgress(-1), ErrInvalidProgress)
}

func TestIsOverdue(t *testing.T) {
	past := t0.Add(-time.Minute)
	future := t0.Add(time.Minute)

	assert.True(t, Commitment{Status: StatusOpen, Deadline: &past}.IsOverdue(t0))
	assert.False(t, Commitment{Status: StatusOpen, Deadline: &future}.IsOverdue(t0))
	assert.False(t, Commitment{Status: StatusOpen}.IsOverdue(t0))
	assert.False(t, Commitment{Status: StatusCompleted, Deadline: &past}.IsOverdue(t0))
	assert.False(t, Commitment{Status: StatusOpen, Deadline: &t0}.IsOverdue(t0))
}

func TestWholeDaysBetween(t *testing.T) {
	assert.Equal(t, 5, WholeDaysBetween(t0.Add(-5*24*time.Hour), t0))
	assert.Equal(t, 2, WholeDaysBetween(t0.Add(-71*time.Hour), t0))
	assert.Equal(t, 0, WholeDaysBetween(t0, t0.Add(-time.Hour)))
}

func TestPreferencesAllows(t *testing.T) {
	p := DefaultPreferences(7, "tok")
	for _, c := range []Category{CategoryFollowUp, CategoryWeekly, CategoryOverdue} {
		assert.True(t, p.Allows(c), c)
	}

	p.WeeklyCheckIns = false
	assert.False(t, p.Allows(CategoryWeekly))
	assert.True(t, p.Allows(CategoryFollowUp))

	p = DefaultPreferences(7, "tok")
	p.Enabled = false
	for _, c := range []Category{CategoryFollowUp, CategoryWeekly, CategoryOverdue} {
		assert.False(t, p.Allows(c), c)
	}
	assert.False(t, DefaultPreferences(7, "tok").Allows("sms"))
}

func TestReport(t *testing.T) {
	r := NewReport("run", t0)
	r.StartPass(PassFollowUp, 3)
	r.Add(Attempt{Pass: PassFollowUp, Outcome: OutcomeSent})
	r.Add(Attempt{Pass: PassFollowUp, Outcome: OutcomeSkipped})
	r.Add(Attempt{Pass: PassFollowUp, Outcome: OutcomeFailed})
	r.FailPass(PassWeekly, errors.New("db down"))

	fu := r.Summary(PassFollowUp)
	assert.Equal(t, PassSummary{Candidates: 3, Sent: 1, Skipped: 1, Failed: 1, Ran: true}, fu)
	assert.True(t, r.Summary(PassWeekly).Ran)
	assert.False(t, r.Summary(PassOverdue).Ran)
	assert.Equal(t, "db down", r.PassErrors[PassWeekly])
	assert.Equal(t, 3, r.Totals().Candidates)

	assert.True(t, Attempt{Outcome: OutcomeSkipped}.Success())
	assert.True(t, Attempt{Outcome: OutcomeSkipped}.Skipped())
	assert.False(t, Attempt{Outcome: OutcomeFailed}.Success())
}

func TestPassCategory(t *testing.T) {
	assert.Equal(t, CategoryFollowUp, PassFollowUp.Category())
	assert.Equal(t, CategoryWeekly, PassWeekly.Category())
	assert.Equal(t, CategoryOverdue, PassOverdue.Category())
}
