package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"coachly/internal/mailer"
	"coachly/internal/model"
	"coachly/internal/repository"
	"coachly/internal/template"
	"coachly/pkg/logger"
)

const (
	markerWeekly  = "weekly_check_in"
	markerOverdue = "overdue_alert"
)

func (r *Runner) followUpPass(ctx context.Context, now time.Time, report *model.Report) error {
	candidates, err := r.Scheduler.FollowUpCandidates(ctx, now)
	if err != nil {
		return fmt.Errorf("select follow-up candidates: %w", err)
	}
	report.StartPass(model.PassFollowUp, len(candidates))

	for _, c := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.record(ctx, report, r.followUpOne(ctx, now, c))
	}
	return nil
}

func (r *Runner) followUpOne(ctx context.Context, now time.Time, c model.Commitment) model.Attempt {
	a := model.Attempt{Pass: model.PassFollowUp, UserID: c.UserID, CommitmentIDs: []int64{c.ID}}

	user, err := r.Users.GetByID(ctx, c.UserID)
	if err != nil {
		return failed(a, "load user", err)
	}
	if user.Email == "" {
		return skipped(a, "no_email")
	}

	decision, err := r.Gate.Check(ctx, c.UserID, model.CategoryFollowUp)
	if err != nil {
		return failed(a, "resolve preferences", err)
	}
	if !decision.Allowed {
		return skipped(a, decision.Reason)
	}

	email, err := r.Renderer.FirstFollowUp(template.FollowUpData{
		Name:       user.Name,
		Commitment: c,
		Token:      decision.Preferences.UnsubscribeToken,
		Now:        now,
	})
	if err != nil {
		return failed(a, "render", err)
	}

	if err := r.Sender.Send(ctx, mailer.Message{To: user.Email, Subject: email.Subject, HTMLBody: email.Body}); err != nil {
		return failed(a, "send", err)
	}
	if r.dryRun {
		return sent(a, true)
	}

	if err := r.Commitments.RecordFollowUpSent(ctx, c.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Closed between selection and send; nothing left to advance.
			logger.WithTrace(ctx, r.Logger).Warn("Commitment left the open family during dispatch",
				zap.Int64("commitment_id", c.ID),
			)
			return sent(a, false)
		}
		return failed(a, "record follow-up", err)
	}
	return sent(a, false)
}

func (r *Runner) weeklyPass(ctx context.Context, now time.Time, report *model.Report) error {
	audience, err := r.Scheduler.WeeklyAudience(ctx, now)
	if err != nil {
		return fmt.Errorf("select weekly audience: %w", err)
	}
	report.StartPass(model.PassWeekly, len(audience))

	bucket := weekBucket(now, r.location)
	for _, u := range audience {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.record(ctx, report, r.weeklyOne(ctx, now, u, bucket))
	}
	return nil
}

func (r *Runner) weeklyOne(ctx context.Context, now time.Time, u model.User, bucket string) model.Attempt {
	a := model.Attempt{Pass: model.PassWeekly, UserID: u.ID}
	if u.Email == "" {
		return skipped(a, "no_email")
	}
	if r.Markers != nil && r.Markers.Seen(ctx, markerWeekly, u.ID, bucket) {
		return skipped(a, "already_sent")
	}

	commitments, err := r.Scheduler.WeeklyContent(ctx, u.ID)
	if err != nil {
		return failed(a, "load open commitments", err)
	}
	a.CommitmentIDs = ids(commitments)
	if len(commitments) == 0 {
		return skipped(a, "no_open_commitments")
	}

	decision, err := r.Gate.Check(ctx, u.ID, model.CategoryWeekly)
	if err != nil {
		return failed(a, "resolve preferences", err)
	}
	if !decision.Allowed {
		return skipped(a, decision.Reason)
	}

	email, err := r.Renderer.WeeklyCheckIn(template.WeeklyData{
		Name:        u.Name,
		Commitments: commitments,
		Token:       decision.Preferences.UnsubscribeToken,
		Now:         now,
	})
	if err != nil {
		return failed(a, "render", err)
	}
	if err := r.Sender.Send(ctx, mailer.Message{To: u.Email, Subject: email.Subject, HTMLBody: email.Body}); err != nil {
		return failed(a, "send", err)
	}

	if !r.dryRun {
		r.mark(ctx, markerWeekly, u.ID, bucket)
	}
	return sent(a, r.dryRun)
}

func (r *Runner) overduePass(ctx context.Context, now time.Time, report *model.Report) error {
	audience, err := r.Scheduler.OverdueAudience(ctx, now)
	if err != nil {
		return fmt.Errorf("select overdue audience: %w", err)
	}
	report.StartPass(model.PassOverdue, len(audience))

	bucket := dayBucket(now, r.location)
	for _, u := range audience {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.record(ctx, report, r.overdueOne(ctx, now, u, bucket))
	}
	return nil
}

func (r *Runner) overdueOne(ctx context.Context, now time.Time, u model.User, bucket string) model.Attempt {
	a := model.Attempt{Pass: model.PassOverdue, UserID: u.ID}
	if u.Email == "" {
		return skipped(a, "no_email")
	}
	if r.Markers != nil && r.Markers.Seen(ctx, markerOverdue, u.ID, bucket) {
		return skipped(a, "already_sent")
	}

	commitments, err := r.Scheduler.OverdueContent(ctx, u.ID, now)
	if err != nil {
		return failed(a, "load overdue commitments", err)
	}
	a.CommitmentIDs = ids(commitments)
	if len(commitments) == 0 {
		return skipped(a, "no_overdue_commitments")
	}

	decision, err := r.Gate.Check(ctx, u.ID, model.CategoryOverdue)
	if err != nil {
		return failed(a, "resolve preferences", err)
	}
	if !decision.Allowed {
		return skipped(a, decision.Reason)
	}

	email, err := r.Renderer.OverdueAlert(template.OverdueData{
		Name:        u.Name,
		Commitments: commitments,
		Token:       decision.Preferences.UnsubscribeToken,
		Now:         now,
	})
	if err != nil {
		return failed(a, "render", err)
	}
	if err := r.Sender.Send(ctx, mailer.Message{To: u.Email, Subject: email.Subject, HTMLBody: email.Body}); err != nil {
		return failed(a, "send", err)
	}

	if !r.dryRun {
		r.mark(ctx, markerOverdue, u.ID, bucket)
	}
	return sent(a, r.dryRun)
}

// mark failures are logged only; the email already went out.
func (r *Runner) mark(ctx context.Context, kind string, userID int64, bucket string) {
	if r.Markers == nil {
		return
	}
	if err := r.Markers.Mark(ctx, kind, userID, bucket); err != nil {
		logger.WithTrace(ctx, r.Logger).Warn("Failed to write send marker",
			zap.String("kind", kind),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}
}

func ids(commitments []model.Commitment) []int64 {
	out := make([]int64, 0, len(commitments))
	for _, c := range commitments {
		out = append(out, c.ID)
	}
	return out
}

// weekBucket is the ISO week of t in loc, e.g. "2026-W42".
func weekBucket(t time.Time, loc *time.Location) string {
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func dayBucket(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
