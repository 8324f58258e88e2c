package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/fotostudio/bookingsync/internal/model"
)

const (
	otelScope      = "bookingsync/sync"
	spanReconcile  = "sync.reconcile"
	metricAdded    = "bookingsync.sync.events.added"
	metricUpdated  = "bookingsync.sync.events.updated"
	metricDeleted  = "bookingsync.sync.events.deleted"
	metricErrors   = "bookingsync.sync.errors"
	metricDuration = "bookingsync.sync.duration"

	// DefaultSchedule is the cron spec used when none is configured.
	DefaultSchedule = "@every 15m"
)

// Engine owns the run lifecycle: at most one reconciliation per user at a
// time, telemetry around every run, and the periodic schedule. Create one
// with [NewEngine].
type Engine struct {
	reconciler *Reconciler
	users      UserLister
	fixedUsers []string
	schedule   string
	log        *slog.Logger

	mu    sync.Mutex
	slots map[string]*runSlot

	// OTel instruments, no-op when telemetry is disabled.
	tracer      trace.Tracer
	cntAdded    metric.Int64Counter
	cntUpdated  metric.Int64Counter
	cntDeleted  metric.Int64Counter
	cntErrors   metric.Int64Counter
	histRunTime metric.Float64Histogram
}

// NewEngine creates an Engine. fixedUsers, if non-empty, restricts scheduled
// runs to those users; otherwise every user returned by users is synced.
func NewEngine(reconciler *Reconciler, users UserLister, fixedUsers []string, schedule string, logger *slog.Logger) *Engine {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}
	hist, err := meter.Float64Histogram(metricDuration,
		metric.WithDescription("Duration of one reconciliation run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Error("creating OTel histogram", "name", metricDuration, "error", err)
		hist = noop.Float64Histogram{}
	}

	return &Engine{
		reconciler: reconciler,
		users:      users,
		fixedUsers: fixedUsers,
		schedule:   schedule,
		log:        logger,
		slots:      make(map[string]*runSlot),

		tracer:      otel.Tracer(otelScope),
		cntAdded:    mustCounter(metricAdded, "Number of calendar events created"),
		cntUpdated:  mustCounter(metricUpdated, "Number of calendar events updated"),
		cntDeleted:  mustCounter(metricDeleted, "Number of orphaned calendar events deleted"),
		cntErrors:   mustCounter(metricErrors, "Number of failed reconciliation runs"),
		histRunTime: hist,
	}
}

// runSlot serializes runs for one user. refs counts the holder plus waiters;
// the slot is dropped from the map when it reaches zero.
type runSlot struct {
	ch   chan struct{}
	refs int
}

// acquire blocks until no other run for userID is in progress or ctx is
// done. The returned function releases the slot.
func (e *Engine) acquire(ctx context.Context, userID string) (func(), error) {
	e.mu.Lock()
	slot, ok := e.slots[userID]
	if !ok {
		slot = &runSlot{ch: make(chan struct{}, 1)}
		e.slots[userID] = slot
	}
	slot.refs++
	e.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return func() {
			<-slot.ch
			e.unref(userID, slot)
		}, nil
	case <-ctx.Done():
		e.unref(userID, slot)
		return nil, fmt.Errorf("waiting for running sync of user %q: %w", userID, ctx.Err())
	}
}

func (e *Engine) unref(userID string, slot *runSlot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(e.slots, userID)
	}
}

// RunOnce performs one reconciliation for userID, waiting for any run already
// in progress for the same user.
func (e *Engine) RunOnce(ctx context.Context, userID string) (*model.DetailedSyncResult, error) {
	release, err := e.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := e.tracer.Start(ctx, spanReconcile, trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	start := time.Now()
	result, err := e.reconciler.Sync(ctx, userID)
	e.histRunTime.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		e.cntErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return nil, err
	}

	counts := result.Counts()
	if counts.Added > 0 {
		e.cntAdded.Add(ctx, int64(counts.Added))
	}
	if counts.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(counts.Updated))
	}
	if counts.Deleted > 0 {
		e.cntDeleted.Add(ctx, int64(counts.Deleted))
	}
	span.SetAttributes(
		attribute.Int("sync.added", counts.Added),
		attribute.Int("sync.updated", counts.Updated),
		attribute.Int("sync.deleted", counts.Deleted),
		attribute.Int("sync.total", counts.Total),
	)
	return result, nil
}

// RunAll syncs every scheduled user in turn. A failing user does not stop
// the others; all failures are returned joined.
func (e *Engine) RunAll(ctx context.Context) error {
	users, err := e.scheduledUsers(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, userID := range users {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		result, err := e.RunOnce(ctx, userID)
		if err != nil {
			e.log.Error("sync failed", "user_id", userID, "error", err)
			errs = append(errs, fmt.Errorf("user %q: %w", userID, err))
			continue
		}
		e.log.Info("sync finished", "user_id", userID, "summary", result.Summary())
	}
	return errors.Join(errs...)
}

func (e *Engine) scheduledUsers(ctx context.Context) ([]string, error) {
	if len(e.fixedUsers) > 0 {
		return e.fixedUsers, nil
	}
	users, err := e.users.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users to sync: %w", err)
	}
	return users, nil
}

// Run syncs all users immediately and then on the configured cron schedule.
// It blocks until ctx is cancelled. A tick that fires while the previous one
// is still running is skipped.
func (e *Engine) Run(ctx context.Context) error {
	cronLog := cron.PrintfLogger(slog.NewLogLogger(e.log.Handler(), slog.LevelDebug))
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLog)), cron.WithLogger(cronLog))

	_, err := c.AddFunc(e.schedule, func() {
		if err := e.RunAll(ctx); err != nil {
			e.log.Error("scheduled sync had failures", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("parsing sync schedule %q: %w", e.schedule, err)
	}

	// Run an immediate first pass.
	if err := e.RunAll(ctx); err != nil {
		e.log.Error("initial sync had failures", "error", err)
	}

	c.Start()
	e.log.Info("sync scheduler started", "schedule", e.schedule)

	<-ctx.Done()
	e.log.Info("sync scheduler shutting down")
	<-c.Stop().Done()
	return ctx.Err()
}
