package template

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachly/internal/model"
)

var now = time.Date(2026, 10, 12, 7, 0, 0, 0, time.UTC)

const token = "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiI3In0.sig-_x"

func ptr[T any](v T) *T { return &v }

func newRenderer() *Renderer {
	return NewRenderer("https://app.example.com/", time.UTC)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "Run every morning", Excerpt("  Run every morning "))

	exact := strings.Repeat("a", 50)
	assert.Equal(t, exact, Excerpt(exact))

	long := strings.Repeat("b", 80)
	got := Excerpt(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 50)

	unicode := strings.Repeat("é", 60)
	assert.LessOrEqual(t, utf8.RuneCountInString(Excerpt(unicode)), 50)
}

func TestDeadlineTextIsDeterministic(t *testing.T) {
	d := time.Date(2026, 11, 3, 23, 30, 0, 0, time.UTC)
	first := DeadlineText(&d, time.UTC)
	assert.Equal(t, "Due November 3, 2026", first)
	assert.Equal(t, first, DeadlineText(&d, time.UTC))
	assert.Equal(t, "No deadline", DeadlineText(nil, time.UTC))

	tokyo := time.FixedZone("JST", 9*60*60)
	assert.Equal(t, "Due November 4, 2026", DeadlineText(&d, tokyo))
}

func TestFirstFollowUp(t *testing.T) {
	r := newRenderer()
	data := FollowUpData{
		Name: "Ana",
		Commitment: model.Commitment{
			Action:    "Write the first chapter of my novel before the end of the month",
			CreatedAt: now.Add(-4 * 24 * time.Hour),
		},
		Token: token,
		Now:   now,
	}

	email, err := r.FirstFollowUp(data)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(email.Subject, `Checking in on your commitment: "Write the first`))
	assert.True(t, strings.HasSuffix(email.Subject, `..."`))
	assert.Contains(t, email.Body, "Hi Ana,")
	assert.Contains(t, email.Body, "No deadline")
	assert.Contains(t, email.Body, "Added 4 days ago")

	again, err := r.FirstFollowUp(data)
	require.NoError(t, err)
	assert.Equal(t, email, again)
}

func TestWeeklyCheckInSubjectCountsCommitments(t *testing.T) {
	r := newRenderer()
	deadline := time.Date(2026, 10, 20, 12, 0, 0, 0, time.UTC)
	commitments := []model.Commitment{
		{Action: "Run", CreatedAt: now.Add(-24 * time.Hour)},
		{Action: "Read", CreatedAt: now.Add(-10 * 24 * time.Hour), Deadline: &deadline, Progress: ptr(30)},
		{Action: "Call", CreatedAt: now},
	}

	email, err := r.WeeklyCheckIn(WeeklyData{Name: "Ana", Commitments: commitments, Token: token, Now: now})
	require.NoError(t, err)
	assert.Equal(t, "Your Weekly Check-in: 3 Active Commitments", email.Subject)
	assert.Contains(t, email.Body, "Added 1 day ago")
	assert.Contains(t, email.Body, "Added 10 days ago")
	assert.Contains(t, email.Body, "Added today")
	assert.Contains(t, email.Body, "Due October 20, 2026")
	assert.Contains(t, email.Body, "30% done")

	one, err := r.WeeklyCheckIn(WeeklyData{Commitments: commitments[:1], Token: token, Now: now})
	require.NoError(t, err)
	assert.Equal(t, "Your Weekly Check-in: 1 Active Commitment", one.Subject)
	assert.Contains(t, one.Body, "Hi there,")
}

func TestOverdueAlertPluralization(t *testing.T) {
	r := newRenderer()
	fiveDays := now.Add(-5 * 24 * time.Hour)
	oneDay := now.Add(-30 * time.Hour)

	single, err := r.OverdueAlert(OverdueData{
		Commitments: []model.Commitment{{Action: "Ship", Deadline: &oneDay}},
		Token:       token,
		Now:         now,
	})
	require.NoError(t, err)
	assert.Equal(t, "1 Commitment Needs Attention", single.Subject)
	assert.Contains(t, single.Body, "1 day overdue")
	assert.NotContains(t, single.Body, "1 days overdue")

	many, err := r.OverdueAlert(OverdueData{
		Commitments: []model.Commitment{
			{Action: "Ship", Deadline: &oneDay},
			{Action: "Plan", Deadline: &fiveDays},
		},
		Token: token,
		Now:   now,
	})
	require.NoError(t, err)
	assert.Equal(t, "2 Commitments Need Attention", many.Subject)
	assert.Contains(t, many.Body, "5 days overdue")
}

func TestTokenPropagatesIntoLinks(t *testing.T) {
	r := newRenderer()
	prefsLink := "https://app.example.com/email-preferences?token=" + token
	unsubLink := "https://app.example.com/unsubscribe?token=" + token
	deadline := now.Add(-48 * time.Hour)
	c := model.Commitment{Action: "Run", CreatedAt: now.Add(-96 * time.Hour), Deadline: &deadline}

	followUp, err := r.FirstFollowUp(FollowUpData{Commitment: c, Token: token, Now: now})
	require.NoError(t, err)
	weekly, err := r.WeeklyCheckIn(WeeklyData{Commitments: []model.Commitment{c}, Token: token, Now: now})
	require.NoError(t, err)
	overdue, err := r.OverdueAlert(OverdueData{Commitments: []model.Commitment{c}, Token: token, Now: now})
	require.NoError(t, err)

	for _, email := range []Email{followUp, weekly, overdue} {
		assert.Contains(t, email.Body, `href="`+prefsLink+`"`)
		assert.Contains(t, email.Body, `href="`+unsubLink+`"`)
	}
}

func TestActionIsHTMLEscaped(t *testing.T) {
	email, err := newRenderer().FirstFollowUp(FollowUpData{
		Commitment: model.Commitment{Action: "<script>alert(1)</script>", CreatedAt: now},
		Token:      token,
		Now:        now,
	})
	require.NoError(t, err)
	assert.NotContains(t, email.Body, "<script>")
	assert.Contains(t, email.Body, "&lt;script&gt;")
}
