package ports

import (
	"context"
	"time"

	"CitySense/internal/domain"
)

// ReportRepository is the relational store shared by analysis and aggregation. All writes are
// conditional so that duplicate or concurrent tasks cannot overwrite each other.
type ReportRepository interface {
	GetReport(ctx context.Context, id string) (domain.Report, error)
	// UpdateReportIfStatus writes scores and moves the report to next only while it is in expected.
	// Returns domain.ErrPreconditionFailed when the guard does not hold and
	// domain.ErrTransitionNotAllowed when the pipeline may not perform expected -> next.
	UpdateReportIfStatus(ctx context.Context, id string, expected, next domain.Status, scores domain.Scores) error
	ListReportsByDateAndStatus(ctx context.Context, start, end time.Time, statuses []domain.Status) ([]domain.Report, error)
	GetEscalationArtifact(ctx context.Context, date domain.Date) (domain.EscalationArtifact, error)
	// CreateEscalationArtifactIfAbsent returns domain.ErrArtifactExists when the date is taken.
	CreateEscalationArtifactIfAbsent(ctx context.Context, artifact domain.EscalationArtifact) error
	RecordAggregationOutcome(ctx context.Context, outcome domain.AggregationOutcome) error
}

// ObjectStore serves uploaded report images.
type ObjectStore interface {
	GetObject(ctx context.Context, ref string) ([]byte, error)
}

// Classifier sends image and text to the multimodal classification model.
type Classifier interface {
	Classify(ctx context.Context, image []byte, description string) (domain.Classification, error)
}

// Extractor normalizes classification output into a structured payload.
type Extractor interface {
	Extract(ctx context.Context, classification domain.Classification, description string) (map[string]any, error)
}

// EscalationBrief is the input for escalation text generation.
type EscalationBrief struct {
	Date   domain.Date
	Report domain.Report
}

// ContentGenerator writes the public escalation message for the day's top report.
type ContentGenerator interface {
	GenerateEscalation(ctx context.Context, brief EscalationBrief) (string, error)
}

// Alert is an operator-visible failure notice.
type Alert struct {
	Task   string
	Key    string
	Reason string
}

// Alerter surfaces permanent task failures for manual re-trigger.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// Scheduler controls when the daily job fires.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
