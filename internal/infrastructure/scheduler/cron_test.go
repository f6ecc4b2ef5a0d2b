package scheduler

import (
	"context"
	"testing"
	"time"

	"CitySense/internal/logging"
)

func TestNextUsesConfiguredTimezone(t *testing.T) {
	t.Parallel()

	ist := time.FixedZone("IST", 5*3600+1800)
	s := NewCronScheduler("15 0 * * *", ist, logging.Discard())

	// 20:00 UTC on the 14th is 01:30 IST on the 15th, so the next run is 00:15 IST on the 16th.
	next, err := s.Next(time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := time.Date(2025, 3, 16, 0, 15, 0, 0, ist)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestStartRejectsBadExpression(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler("not a cron", time.UTC, logging.Discard())
	if err := s.Start(context.Background(), func(time.Time) {}); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewCronScheduler("@every 1h", time.UTC, logging.Discard())
	if err := s.Start(ctx, func(time.Time) {}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx, func(time.Time) {}); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
