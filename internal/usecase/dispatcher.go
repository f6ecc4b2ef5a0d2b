package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"CitySense/internal/domain"
	"CitySense/internal/metrics"
	"CitySense/internal/ports"
)

// ReportAnalyser runs the per-report analysis stage.
type ReportAnalyser interface {
	Analyse(ctx context.Context, reportID string) error
}

// DayAggregator runs the daily escalation stage.
type DayAggregator interface {
	RunDailyAggregation(ctx context.Context, date domain.Date) error
	HasArtifact(ctx context.Context, date domain.Date) (bool, error)
}

// DispatcherDeps sizes the worker pool and wires the stages it feeds.
type DispatcherDeps struct {
	Analyser   ReportAnalyser
	Aggregator DayAggregator
	Repository ports.ReportRepository
	Alerter    ports.Alerter
	Workers    int
	QueueSize  int
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type task struct {
	kind string
	key  string
	run  func(ctx context.Context) error
}

// Dispatcher turns trigger events into queued tasks. It keeps the set of queued or running task
// keys so that redelivered events are absorbed instead of running a task twice.
type Dispatcher struct {
	analyser   ReportAnalyser
	aggregator DayAggregator
	repository ports.ReportRepository
	alerter    ports.Alerter
	workers    int
	queue      chan task
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}

	flights singleflight.Group
}

// NewDispatcher constructs a dispatcher; call Run to start its workers.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	workers := deps.Workers
	if workers < 1 {
		workers = 1
	}
	size := deps.QueueSize
	if size < 1 {
		size = 1
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		analyser:   deps.Analyser,
		aggregator: deps.Aggregator,
		repository: deps.Repository,
		alerter:    deps.Alerter,
		workers:    workers,
		queue:      make(chan task, size),
		metrics:    deps.Metrics,
		logger:     logger,
		inFlight:   make(map[string]struct{}),
	}
}

func analysisKey(reportID string) string { return analysisTask + ":" + reportID }

func aggregationKey(date domain.Date) string { return aggregationTask + ":" + date.String() }

// OnReportCreated queues one analysis for reportID. It returns false without error when the
// report is already queued, running or no longer PENDING, and domain.ErrQueueFull when the
// event should be redelivered later.
func (d *Dispatcher) OnReportCreated(ctx context.Context, reportID string) (bool, error) {
	key := analysisKey(reportID)
	if !d.claim(key) {
		return false, nil
	}

	report, err := d.repository.GetReport(ctx, reportID)
	if err != nil {
		d.release(key)
		return false, fmt.Errorf("load report %s: %w", reportID, err)
	}
	if report.Status != domain.StatusPending {
		d.release(key)
		return false, nil
	}

	return d.enqueue(task{
		kind: analysisTask,
		key:  key,
		run:  func(ctx context.Context) error { return d.Analyse(ctx, reportID) },
	})
}

// OnDailyTimer queues one aggregation for date. It returns false without error when the day is
// already escalated or its aggregation is queued or running.
func (d *Dispatcher) OnDailyTimer(ctx context.Context, date domain.Date) (bool, error) {
	key := aggregationKey(date)
	if !d.claim(key) {
		return false, nil
	}

	exists, err := d.aggregator.HasArtifact(ctx, date)
	if err != nil {
		d.release(key)
		return false, fmt.Errorf("check artifact %s: %w", date, err)
	}
	if exists {
		d.release(key)
		return false, nil
	}

	return d.enqueue(task{
		kind: aggregationTask,
		key:  key,
		run:  func(ctx context.Context) error { return d.Aggregate(ctx, date) },
	})
}

// Analyse runs the analysis inline, sharing the result with any concurrent call for the same report.
func (d *Dispatcher) Analyse(ctx context.Context, reportID string) error {
	_, err, _ := d.flights.Do(analysisKey(reportID), func() (any, error) {
		return nil, d.analyser.Analyse(ctx, reportID)
	})
	return err
}

// Aggregate runs the aggregation inline, sharing the result with any concurrent call for the same day.
func (d *Dispatcher) Aggregate(ctx context.Context, date domain.Date) error {
	_, err, _ := d.flights.Do(aggregationKey(date), func() (any, error) {
		return nil, d.aggregator.RunDailyAggregation(ctx, date)
	})
	return err
}

// Run starts the workers and blocks until ctx is cancelled. Tasks already picked up by a worker
// are allowed to finish; tasks still queued are dropped and must be redelivered.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gCtx.Done():
					return nil
				case t := <-d.queue:
					d.metrics.QueueDepth(len(d.queue))
					d.execute(context.WithoutCancel(gCtx), t)
				}
			}
		})
	}
	d.logger.Info("dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
	return g.Wait()
}

// Pending returns the number of queued or running tasks.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

func (d *Dispatcher) enqueue(t task) (bool, error) {
	select {
	case d.queue <- t:
		d.metrics.QueueDepth(len(d.queue))
		d.logger.Debug("task queued", "task", t.kind, "key", t.key)
		return true, nil
	default:
		d.release(t.key)
		d.metrics.Rejected(t.kind)
		return false, domain.ErrQueueFull
	}
}

func (d *Dispatcher) execute(ctx context.Context, t task) {
	defer d.release(t.key)
	defer func() {
		if r := recover(); r != nil {
			failure := &domain.TaskFailure{Task: t.kind, Key: t.key, Err: fmt.Errorf("panic: %v", r)}
			d.logger.Error("task panicked", "task", t.kind, "key", t.key, "panic", r, "stack", string(debug.Stack()))
			notify(ctx, d.alerter, d.logger, failure)
		}
	}()

	if err := t.run(ctx); err != nil {
		var failure *domain.TaskFailure
		if !errors.As(err, &failure) {
			d.logger.Error("task failed", "task", t.kind, "key", t.key, "error", err)
		}
	}
}

func (d *Dispatcher) claim(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[key]; busy {
		return false
	}
	d.inFlight[key] = struct{}{}
	return true
}

func (d *Dispatcher) release(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, key)
}
