package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"coachly/internal/config"
	"coachly/internal/mailer"
	"coachly/internal/repository"
	"coachly/internal/service/dispatch"
	"coachly/internal/service/preference"
	"coachly/internal/service/scheduler"
	"coachly/internal/template"
	tokens "coachly/internal/util"
	"coachly/pkg/circuitbreaker"
	"coachly/pkg/db"
	"coachly/pkg/logger"
	"coachly/pkg/metrics"
	"coachly/pkg/mq"
	"coachly/pkg/outbox"
	"coachly/pkg/redis"
	"coachly/pkg/trace"
	"coachly/pkg/util"
)

type RunCmd struct {
	DryRun bool `help:"Render and log emails without sending or persisting anything." env:"DISPATCH_DRY_RUN"`
}

// Run exits 0 when the tick completed, even with per-item failures, and when
// another runner holds the lock.
func (c *RunCmd) Run(app *App) error {
	cfg := app.Config
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = trace.WithContext(ctx, trace.NewRunID())
	log := logger.WithTrace(ctx, app.Logger)

	pool, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Warn("Redis unavailable, running without lock and send markers", zap.Error(err))
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()

		release, acquired := acquireLock(ctx, rdb, cfg, log)
		if !acquired {
			return nil
		}
		defer release()
	}

	outboxRepo := outbox.NewRepository(pool)
	runner := newRunner(pool, rdb, outboxRepo, cfg, log)

	_, runErr := runner.Run(ctx, time.Now())
	if !cfg.Dispatch.DryRun {
		drainOutbox(ctx, cfg, outboxRepo, log)
	}
	pushMetrics(cfg, log)
	return runErr
}

func newRunner(pool *pgxpool.Pool, rdb *goredis.Client, outboxRepo *outbox.Repository, cfg *config.Config, log *zap.Logger) *dispatch.Runner {
	loc := cfg.TimeLocation()
	dryRun := cfg.Dispatch.DryRun

	commitments := repository.NewCommitmentRepository(pool, outboxRepo, log)
	users := repository.NewUserRepository(pool)

	var prefs preference.Store = repository.NewPreferencesRepository(pool, log)
	if dryRun {
		prefs = preference.ReadOnly(prefs)
	}

	var sender mailer.Sender
	if dryRun {
		sender = mailer.NewLogSender(log)
	} else {
		sender = mailer.NewSMTPSender(cfg.SMTP, circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()), log)
	}

	deps := dispatch.Deps{
		Scheduler: scheduler.New(commitments, users, scheduler.Config{
			OverdueCadence: cfg.OverdueCadence(),
			WeeklyDay:      scheduler.MondayIn(loc),
		}, log),
		Commitments: commitments,
		Users:       users,
		Gate:        preference.NewGate(prefs, tokens.NewTokenMinter(cfg.Token.Secret), log),
		Renderer:    template.NewRenderer(cfg.App.BaseURL, loc),
		Sender:      sender,
		Events:      dispatch.NewOutboxSink(pool, outboxRepo),
		Logger:      log,
	}
	if rdb != nil {
		deps.Markers = util.NewDeduper(rdb, cfg.MarkerTTL(), log)
	}

	return dispatch.NewRunner(deps, dispatch.Options{DryRun: dryRun, Location: loc})
}

// acquireLock returns false only when another runner holds the lock. A Redis
// error lets the run proceed unlocked.
func acquireLock(ctx context.Context, rdb *goredis.Client, cfg *config.Config, log *zap.Logger) (func(), bool) {
	lock := util.NewRunLock(rdb, cfg.Dispatch.LockKey, cfg.LockTTL())
	ok, err := lock.Acquire(ctx)
	if err != nil {
		log.Warn("Failed to acquire run lock, proceeding without it", zap.Error(err))
		return func() {}, true
	}
	if !ok {
		log.Info("Another dispatch run holds the lock, exiting", zap.String("lock_key", cfg.Dispatch.LockKey))
		return nil, false
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if released, err := lock.Release(releaseCtx); err != nil || !released {
			log.Warn("Run lock was not released", zap.Bool("released", released), zap.Error(err))
		}
	}, true
}

// drainOutbox publishes pending events. Unpublished events stay pending for
// the next run.
func drainOutbox(ctx context.Context, cfg *config.Config, repo *outbox.Repository, log *zap.Logger) {
	if cfg.MQ.URL == "" {
		log.Debug("MQ not configured, outbox events left pending")
		return
	}
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Warn("Failed to connect MQ publisher, outbox events left pending", zap.Error(err))
		return
	}
	defer publisher.Close()

	drainCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := outbox.NewDispatcher(repo, publisher, log).Drain(drainCtx)
	if err != nil {
		log.Warn("Outbox drain stopped early", zap.Int("published", n), zap.Error(err))
		return
	}
	log.Info("Outbox drained", zap.Int("published", n))
}

func pushMetrics(cfg *config.Config, log *zap.Logger) {
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metrics.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		log.Warn("Failed to push metrics", zap.Error(err))
	}
}
