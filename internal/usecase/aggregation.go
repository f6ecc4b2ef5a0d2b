package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"CitySense/internal/domain"
	"CitySense/internal/metrics"
	"CitySense/internal/ports"
	"CitySense/internal/retry"
	"CitySense/internal/scoring"
)

const (
	aggregationTask = "aggregation"
	maxLoggedRanks  = 5
)

// AggregatorDeps wires the adapters used by the daily escalation run.
type AggregatorDeps struct {
	Repository ports.ReportRepository
	Generator  ports.ContentGenerator
	Alerter    ports.Alerter
	Location   *time.Location
	Retry      retry.Policy
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
	NewID      func() string
}

// Aggregator selects the most critical report of a day and stores its escalation text.
type Aggregator struct {
	repository ports.ReportRepository
	generator  ports.ContentGenerator
	alerter    ports.Alerter
	location   *time.Location
	retry      retry.Policy
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewAggregator constructs the daily escalation stage.
func NewAggregator(deps AggregatorDeps) *Aggregator {
	agg := &Aggregator{
		repository: deps.Repository,
		generator:  deps.Generator,
		alerter:    deps.Alerter,
		location:   deps.Location,
		retry:      deps.Retry,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        deps.Now,
		newID:      deps.NewID,
	}
	if agg.location == nil {
		agg.location = time.UTC
	}
	if agg.logger == nil {
		agg.logger = slog.Default()
	}
	if agg.now == nil {
		agg.now = time.Now
	}
	if agg.newID == nil {
		agg.newID = func() string { return uuid.NewString() }
	}
	return agg
}

// Location is the timezone that defines a calendar day.
func (g *Aggregator) Location() *time.Location {
	return g.location
}

// HasArtifact reports whether the day has already been escalated.
func (g *Aggregator) HasArtifact(ctx context.Context, date domain.Date) (bool, error) {
	_, err := g.repository.GetEscalationArtifact(ctx, date)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// RunDailyAggregation ranks the day's scored reports and persists one escalation artifact for the
// winner. Re-running a day that already has an artifact is a no-op, and a day without scored
// reports records a no_candidates outcome and returns nil.
func (g *Aggregator) RunDailyAggregation(ctx context.Context, date domain.Date) error {
	logger := g.logger.With("date", date.String())

	exists, err := g.HasArtifact(ctx, date)
	if err != nil {
		return g.fail(ctx, logger, date, fmt.Errorf("check artifact: %w", err))
	}
	if exists {
		logger.Debug("day already escalated")
		g.metrics.Aggregation(metrics.AggregationSkipped)
		return nil
	}

	start, end, err := date.Bounds(g.location)
	if err != nil {
		return g.fail(ctx, logger, date, err)
	}

	candidates, err := g.repository.ListReportsByDateAndStatus(ctx, start, end, domain.ScoredStatuses)
	if err != nil {
		return g.fail(ctx, logger, date, fmt.Errorf("list candidates: %w", err))
	}

	candidates = scored(candidates, logger)
	if len(candidates) == 0 {
		logger.Info("no scored reports, nothing to escalate")
		if err := g.record(ctx, domain.AggregationOutcome{Date: date, Kind: domain.OutcomeNoCandidates}); err != nil {
			return g.fail(ctx, logger, date, err)
		}
		g.metrics.Aggregation(metrics.AggregationNoCandidates)
		return nil
	}

	ranked := scoring.Rank(candidates)
	logger.Debug("candidates ranked", "order", rankedIDs(ranked, maxLoggedRanks))
	top := ranked[0]
	logger = logger.With("report_id", top.ID)

	var content string
	err = retry.Do(ctx, g.retry, func(ctx context.Context) error {
		var err error
		content, err = g.generator.GenerateEscalation(ctx, ports.EscalationBrief{Date: date, Report: top})
		return err
	}, func(attempt int, err error, wait time.Duration) {
		g.metrics.Retry("generate_escalation")
		logger.Warn("retrying service call", "operation", "generate_escalation", "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		return g.fail(ctx, logger, date, fmt.Errorf("generate escalation: %w", err))
	}

	artifact := domain.EscalationArtifact{
		ID:             g.newID(),
		ReportID:       top.ID,
		Date:           date,
		Content:        content,
		CompositeScore: *top.CompositeScore,
		CreatedAt:      g.now().UTC(),
	}

	err = g.repository.CreateEscalationArtifactIfAbsent(ctx, artifact)
	if errors.Is(err, domain.ErrArtifactExists) {
		logger.Info("another run escalated this day first, discarding generated text")
		g.metrics.Aggregation(metrics.AggregationConflict)
		return nil
	}
	if err != nil {
		return g.fail(ctx, logger, date, fmt.Errorf("store artifact: %w", err))
	}

	if err := g.record(ctx, domain.AggregationOutcome{
		Date:       date,
		Kind:       domain.OutcomeEscalated,
		Candidates: len(candidates),
		ReportID:   top.ID,
	}); err != nil {
		logger.Warn("artifact stored but outcome not recorded", "error", err)
	}

	logger.Info("day escalated", "candidates", len(candidates), "composite", artifact.CompositeScore, "artifact_id", artifact.ID)
	g.metrics.Aggregation(metrics.AggregationEscalated)
	return nil
}

// scored drops reports without a composite score. Those were moved past PENDING by an external
// actor before the pipeline could score them and cannot be ranked.
func scored(reports []domain.Report, logger *slog.Logger) []domain.Report {
	out := make([]domain.Report, 0, len(reports))
	for _, r := range reports {
		if r.CompositeScore == nil {
			logger.Warn("skipping report without composite score", "report_id", r.ID, "status", r.Status)
			continue
		}
		out = append(out, r)
	}
	return out
}

func rankedIDs(reports []domain.Report, limit int) []string {
	ids := make([]string, 0, min(len(reports), limit))
	for _, r := range reports[:min(len(reports), limit)] {
		ids = append(ids, r.ID)
	}
	return ids
}

func (g *Aggregator) record(ctx context.Context, outcome domain.AggregationOutcome) error {
	outcome.RecordedAt = g.now().UTC()
	if err := g.repository.RecordAggregationOutcome(ctx, outcome); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

func (g *Aggregator) fail(ctx context.Context, logger *slog.Logger, date domain.Date, err error) error {
	g.metrics.Aggregation(metrics.AggregationFailed)
	if ctx.Err() != nil {
		logger.Warn("aggregation abandoned", "error", err)
		return err
	}

	failure := &domain.TaskFailure{Task: aggregationTask, Key: date.String(), Err: err}
	logger.Error("aggregation failed", "error", err)
	notify(ctx, g.alerter, logger, failure)
	return failure
}
