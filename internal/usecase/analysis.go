package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"CitySense/internal/domain"
	"CitySense/internal/metrics"
	"CitySense/internal/ports"
	"CitySense/internal/retry"
	"CitySense/internal/scoring"
)

const analysisTask = "analysis"

// AnalyserDeps wires the driven adapters used to score one report.
type AnalyserDeps struct {
	Repository ports.ReportRepository
	Images     ports.ObjectStore
	Classifier ports.Classifier
	Extractor  ports.Extractor
	Alerter    ports.Alerter
	// ValidateImage rejects bytes that are not a decodable image. Nil skips the check.
	ValidateImage func([]byte) error
	Scoring       scoring.Policy
	Retry         retry.Policy
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Now           func() time.Time
}

// Analyser drives a single report from PENDING to ANALYSED.
type Analyser struct {
	repository    ports.ReportRepository
	images        ports.ObjectStore
	classifier    ports.Classifier
	extractor     ports.Extractor
	alerter       ports.Alerter
	validateImage func([]byte) error
	scoring       scoring.Policy
	retry         retry.Policy
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

// NewAnalyser constructs the per-report analysis stage.
func NewAnalyser(deps AnalyserDeps) *Analyser {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Analyser{
		repository:    deps.Repository,
		images:        deps.Images,
		classifier:    deps.Classifier,
		extractor:     deps.Extractor,
		alerter:       deps.Alerter,
		validateImage: deps.ValidateImage,
		scoring:       deps.Scoring,
		retry:         deps.Retry,
		metrics:       deps.Metrics,
		logger:        logger,
		now:           now,
	}
}

// Analyse classifies and scores the report if it is still PENDING. Reports in any other state are
// left untouched and nil is returned. A permanent failure leaves the report PENDING, alerts the
// operator and returns a *domain.TaskFailure.
func (a *Analyser) Analyse(ctx context.Context, reportID string) error {
	logger := a.logger.With("report_id", reportID)

	report, err := a.repository.GetReport(ctx, reportID)
	if err != nil {
		return a.fail(ctx, logger, reportID, fmt.Errorf("load report: %w", err))
	}
	if report.Status != domain.StatusPending {
		logger.Debug("report already analysed", "status", report.Status)
		a.metrics.Analysis(metrics.AnalysisSkipped)
		return nil
	}

	var image []byte
	err = a.call(ctx, logger, "get_image", func(ctx context.Context) error {
		var err error
		image, err = a.images.GetObject(ctx, report.ImageRef)
		return err
	})
	if err != nil {
		return a.fail(ctx, logger, reportID, fmt.Errorf("fetch image %s: %w", report.ImageRef, err))
	}

	if a.validateImage != nil {
		if err := a.validateImage(image); err != nil {
			return a.fail(ctx, logger, reportID, fmt.Errorf("invalid image %s: %w", report.ImageRef, err))
		}
	}

	var result domain.AnalysisResult
	err = a.call(ctx, logger, "classify", func(ctx context.Context) error {
		var err error
		result.Classification, err = a.classifier.Classify(ctx, image, report.Description)
		return err
	})
	if err != nil {
		return a.fail(ctx, logger, reportID, fmt.Errorf("classify: %w", err))
	}

	if a.extractor != nil {
		err = a.call(ctx, logger, "extract", func(ctx context.Context) error {
			var err error
			result.Extraction, err = a.extractor.Extract(ctx, result.Classification, report.Description)
			return err
		})
		if err != nil {
			return a.fail(ctx, logger, reportID, fmt.Errorf("extract: %w", err))
		}
	}

	c := result.Classification
	scores := domain.Scores{
		Category:     result.Category(),
		Severity:     c.Severity,
		Authenticity: c.Authenticity,
		Composite:    a.scoring.Composite(c.Severity, c.Authenticity, report.Votes),
		AnalysedAt:   a.now().UTC(),
	}

	err = a.repository.UpdateReportIfStatus(ctx, reportID, domain.StatusPending, domain.StatusAnalysed, scores)
	if errors.Is(err, domain.ErrPreconditionFailed) {
		logger.Info("report changed during analysis, keeping stored result")
		a.metrics.Analysis(metrics.AnalysisConflict)
		return nil
	}
	if err != nil {
		return a.fail(ctx, logger, reportID, fmt.Errorf("persist scores: %w", err))
	}

	logger.Info("report analysed",
		"category", scores.Category,
		"severity", scores.Severity,
		"authenticity", scores.Authenticity,
		"composite", scores.Composite,
	)
	a.metrics.Analysis(metrics.AnalysisScored)
	return nil
}

func (a *Analyser) call(ctx context.Context, logger *slog.Logger, operation string, op func(context.Context) error) error {
	return retry.Do(ctx, a.retry, op, func(attempt int, err error, wait time.Duration) {
		a.metrics.Retry(operation)
		logger.Warn("retrying service call", "operation", operation, "attempt", attempt, "wait", wait, "error", err)
	})
}

func (a *Analyser) fail(ctx context.Context, logger *slog.Logger, reportID string, err error) error {
	a.metrics.Analysis(metrics.AnalysisFailed)
	if ctx.Err() != nil {
		logger.Warn("analysis abandoned", "error", err)
		return err
	}

	failure := &domain.TaskFailure{Task: analysisTask, Key: reportID, Err: err}
	logger.Error("analysis failed", "error", err)
	notify(ctx, a.alerter, logger, failure)
	return failure
}

// notify forwards a permanent failure to the operator channel; alert delivery problems are logged only.
func notify(ctx context.Context, alerter ports.Alerter, logger *slog.Logger, failure *domain.TaskFailure) {
	if alerter == nil {
		return
	}
	alert := ports.Alert{Task: failure.Task, Key: failure.Key, Reason: failure.Err.Error()}
	if err := alerter.Alert(ctx, alert); err != nil {
		logger.Warn("alert delivery failed", "error", err)
	}
}
