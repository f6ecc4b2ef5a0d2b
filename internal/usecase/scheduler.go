package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"CitySense/internal/domain"
	"CitySense/internal/ports"
)

// TimerTarget receives daily timer fires.
type TimerTarget interface {
	OnDailyTimer(ctx context.Context, date domain.Date) (bool, error)
}

// Scheduler wires the cron driver with the dispatcher.
type Scheduler struct {
	driver   ports.Scheduler
	target   TimerTarget
	location *time.Location
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop the daily timer.
func NewScheduler(driver ports.Scheduler, target TimerTarget, location *time.Location, logger *slog.Logger) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, target: target, location: location, logger: logger}
}

// ClosedDay returns the last full calendar day before trigger in loc.
func ClosedDay(trigger time.Time, loc *time.Location) domain.Date {
	return domain.DateOf(trigger, loc).Previous()
}

// Fire dispatches the aggregation for the day that closed before trigger.
func (s *Scheduler) Fire(ctx context.Context, trigger time.Time) {
	date := ClosedDay(trigger, s.location)
	queued, err := s.target.OnDailyTimer(ctx, date)
	switch {
	case errors.Is(err, domain.ErrQueueFull):
		s.logger.Warn("daily timer dropped, queue full", "date", date.String())
	case err != nil:
		s.logger.Error("daily timer failed", "date", date.String(), "error", err)
	case queued:
		s.logger.Info("daily aggregation queued", "date", date.String())
	default:
		s.logger.Info("daily aggregation already done or running", "date", date.String())
	}
}

// Start registers the daily job with the driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.target == nil {
		return nil
	}

	return s.driver.Start(ctx, func(trigger time.Time) {
		s.Fire(ctx, trigger)
	})
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
