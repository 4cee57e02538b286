package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "coachly/contracts/mq"
	"coachly/internal/mailer"
	"coachly/internal/model"
	"coachly/internal/service/preference"
	"coachly/internal/service/scheduler"
	"coachly/internal/template"
	"coachly/pkg/logger"
	"coachly/pkg/metrics"
	"coachly/pkg/trace"
	"coachly/pkg/util"
)

type FollowUpRecorder interface {
	RecordFollowUpSent(ctx context.Context, commitmentID int64, at time.Time) error
}

type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

type Gate interface {
	Check(ctx context.Context, userID int64, category model.Category) (preference.Decision, error)
}

// Markers remembers per-user weekly and overdue sends. *util.Deduper
// satisfies it, including a nil one.
type Markers interface {
	Seen(ctx context.Context, kind string, userID int64, bucket string) bool
	Mark(ctx context.Context, kind string, userID int64, bucket string) error
}

// EventSink enqueues an integration event for later publishing.
type EventSink interface {
	Enqueue(ctx context.Context, routingKey string, payload any) error
}

type Deps struct {
	Scheduler   *scheduler.Scheduler
	Commitments FollowUpRecorder
	Users       UserLookup
	Gate        Gate
	Renderer    *template.Renderer
	Sender      mailer.Sender
	Markers     Markers
	Events      EventSink
	Logger      *zap.Logger
}

type Options struct {
	DryRun bool
	// Location buckets weekly and overdue markers. Defaults to UTC.
	Location *time.Location
	// Now stamps FinishedAt. Defaults to time.Now.
	Now func() time.Time
}

// Runner executes one dispatch tick: follow-up pass always, weekly pass on
// the weekly day, overdue pass per the configured cadence.
type Runner struct {
	Deps
	dryRun   bool
	location *time.Location
	now      func() time.Time
}

func NewRunner(deps Deps, opts Options) *Runner {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Runner{
		Deps:     deps,
		dryRun:   opts.DryRun,
		location: opts.Location,
		now:      opts.Now,
	}
}

// Run processes every pass due at now. Per-item failures are recorded in the
// report only. A pass whose candidate selection fails is recorded, the
// remaining passes still run, and the joined error is returned.
func (r *Runner) Run(ctx context.Context, now time.Time) (*model.Report, error) {
	runID := trace.FromContext(ctx)
	if runID == "" {
		runID = trace.NewRunID()
		ctx = trace.WithContext(ctx, runID)
	}
	log := logger.WithTrace(ctx, r.Logger)
	started := r.now()

	report := model.NewReport(runID, now)
	report.DryRun = r.dryRun

	weekly := r.Scheduler.IsWeeklyDispatchDay(now)
	overdue := r.Scheduler.ShouldRunOverdue(now)
	log.Info("Dispatch run started",
		zap.Time("tick", now),
		zap.Bool("weekly_branch", weekly),
		zap.Bool("overdue_pass", overdue),
		zap.Bool("dry_run", r.dryRun),
	)

	var errs []error
	runPass := func(p model.Pass, fn func(context.Context, time.Time, *model.Report) error) {
		if err := fn(ctx, now, report); err != nil {
			report.FailPass(p, err)
			log.Error("Dispatch pass failed", zap.String("pass", string(p)), zap.Error(err))
			errs = append(errs, fmt.Errorf("%w: %s: %w", model.ErrPassFailed, p, err))
		}
	}

	runPass(model.PassFollowUp, r.followUpPass)
	if weekly {
		runPass(model.PassWeekly, r.weeklyPass)
	}
	if overdue {
		runPass(model.PassOverdue, r.overduePass)
	}

	report.FinishedAt = r.now()
	runErr := errors.Join(errs...)
	metrics.RecordDispatchRun(report.FinishedAt.Sub(started), report.FinishedAt, runErr == nil)

	if !r.dryRun {
		r.enqueueCompleted(ctx, report)
	}

	totals := report.Totals()
	log.Info("Dispatch run finished",
		zap.Int("candidates", totals.Candidates),
		zap.Int("sent", totals.Sent),
		zap.Int("skipped", totals.Skipped),
		zap.Int("failed", totals.Failed),
		zap.Int("pass_errors", len(report.PassErrors)),
		zap.Duration("duration", report.FinishedAt.Sub(started)),
	)
	return report, runErr
}

// record adds a to the report, counts it and logs non-success outcomes.
func (r *Runner) record(ctx context.Context, report *model.Report, a model.Attempt) {
	report.Add(a)
	metrics.RecordNotification(string(a.Pass), string(a.Outcome))

	log := logger.WithTrace(ctx, r.Logger).With(
		zap.String("pass", string(a.Pass)),
		zap.Int64("user_id", a.UserID),
		zap.Int64s("commitment_ids", a.CommitmentIDs),
	)
	switch a.Outcome {
	case model.OutcomeFailed:
		metrics.RecordNotificationFailure(string(a.Pass), a.ErrorClass)
		log.Warn("Notification failed",
			zap.String("reason", a.Reason),
			zap.String("error_class", a.ErrorClass),
		)
	case model.OutcomeSkipped:
		log.Info("Notification skipped", zap.String("reason", a.Reason))
	default:
		log.Info("Notification sent")
	}
}

func failed(a model.Attempt, stage string, err error) model.Attempt {
	_, class := util.ClassifyError(err)
	a.Outcome = model.OutcomeFailed
	a.Reason = stage + ": " + err.Error()
	a.ErrorClass = class
	return a
}

func skipped(a model.Attempt, reason string) model.Attempt {
	a.Outcome = model.OutcomeSkipped
	a.Reason = reason
	return a
}

// sent marks a delivered attempt. A dry run delivers nothing, so its
// attempts are skipped with reason dry_run.
func sent(a model.Attempt, dryRun bool) model.Attempt {
	if dryRun {
		a.Outcome = model.OutcomeSkipped
		a.Reason = "dry_run"
		return a
	}
	a.Outcome = model.OutcomeSent
	return a
}

func (r *Runner) enqueueCompleted(ctx context.Context, report *model.Report) {
	if r.Events == nil {
		return
	}
	payload := mqcontracts.DispatchCompletedPayload{
		RunID:      report.RunID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Passes:     map[string]mqcontracts.PassCounts{},
	}
	for p, s := range report.Passes {
		payload.Passes[string(p)] = mqcontracts.PassCounts{
			Candidates: s.Candidates,
			Sent:       s.Sent,
			Skipped:    s.Skipped,
			Failed:     s.Failed,
		}
	}
	if len(report.PassErrors) > 0 {
		payload.PassErrors = map[string]string{}
		for p, e := range report.PassErrors {
			payload.PassErrors[string(p)] = e
		}
	}

	if err := r.Events.Enqueue(ctx, mqcontracts.RoutingDispatchCompleted, payload); err != nil {
		logger.WithTrace(ctx, r.Logger).Warn("Failed to enqueue dispatch.completed event", zap.Error(err))
	}
}
