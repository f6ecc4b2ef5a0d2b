package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"CitySense/internal/domain"
	"CitySense/internal/ports"
)

const uniqueViolation = "23505"

// Repository persists reports and escalation artifacts. Every write is a single conditional
// statement, which is what makes duplicate and concurrent pipeline runs safe.
type Repository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.ReportRepository = (*Repository)(nil)

// NewRepository wires a sql.DB with the dialect's placeholder format.
func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	return &Repository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(dialect.Placeholder),
	}
}

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Reports are the feed's posts; votes reference them by post_id.
const postsTable = "posts"

// voteTally aggregates the feed's per-user votes (1 or -1) into counts per post.
const voteTally = `(SELECT post_id,
		SUM(CASE WHEN vote = 1 THEN 1 ELSE 0 END) AS upvotes,
		SUM(CASE WHEN vote = -1 THEN 1 ELSE 0 END) AS downvotes
	FROM votes GROUP BY post_id) v ON v.post_id = r.id`

func (r *Repository) selectReports() sq.SelectBuilder {
	return r.sb.Select(
		"r.id", "r.description", "r.image_url", "r.lat", "r.lng", "r.category", "r.status",
		"r.severity_score", "r.authenticity_score", "r.composite_score", "r.created_at", "r.analysed_at",
		"COALESCE(v.upvotes, 0)", "COALESCE(v.downvotes, 0)",
	).From(postsTable + " r").LeftJoin(voteTally)
}

// GetReport loads a report with its current vote tally.
func (r *Repository) GetReport(ctx context.Context, id string) (domain.Report, error) {
	query, args, err := r.selectReports().Where(sq.Eq{"r.id": id}).ToSql()
	if err != nil {
		return domain.Report{}, fmt.Errorf("build get report: %w", err)
	}

	report, err := scanReport(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Report{}, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Report{}, fmt.Errorf("get report %s: %w", id, err)
	}
	return report, nil
}

// UpdateReportIfStatus is a compare-and-set on status. Only transitions the pipeline is allowed to
// perform are written; anything else fails with domain.ErrTransitionNotAllowed before touching the row.
func (r *Repository) UpdateReportIfStatus(ctx context.Context, id string, expected, next domain.Status, scores domain.Scores) error {
	if !expected.CanTransition(domain.ActorPipeline, next) {
		return fmt.Errorf("report %s %s -> %s: %w", id, expected, next, domain.ErrTransitionNotAllowed)
	}

	query, args, err := r.sb.Update(postsTable).
		Set("status", string(next)).
		Set("category", scores.Category).
		Set("severity_score", scores.Severity).
		Set("authenticity_score", scores.Authenticity).
		Set("composite_score", scores.Composite).
		Set("analysed_at", scores.AnalysedAt.UTC()).
		Where(sq.Eq{"id": id, "status": string(expected)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update report: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update report %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update report %s rows affected: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("report %s not %s: %w", id, expected, domain.ErrPreconditionFailed)
	}
	return nil
}

// ListReportsByDateAndStatus returns reports created in [start, end) whose status is in statuses.
func (r *Repository) ListReportsByDateAndStatus(ctx context.Context, start, end time.Time, statuses []domain.Status) ([]domain.Report, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	query, args, err := r.selectReports().
		Where(sq.Eq{"r.status": values}).
		Where(sq.GtOrEq{"r.created_at": start.UTC()}).
		Where(sq.Lt{"r.created_at": end.UTC()}).
		OrderBy("r.created_at ASC", "r.id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list reports: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}

	var reports []domain.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, report)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return reports, nil
}

// GetEscalationArtifact returns the artifact stored for date.
func (r *Repository) GetEscalationArtifact(ctx context.Context, date domain.Date) (domain.EscalationArtifact, error) {
	query, args, err := r.sb.Select("id", "report_id", "escalation_date", "content", "composite_score", "created_at").
		From("escalation_artifacts").
		Where(sq.Eq{"escalation_date": date.String()}).
		ToSql()
	if err != nil {
		return domain.EscalationArtifact{}, fmt.Errorf("build get artifact: %w", err)
	}

	var (
		a       domain.EscalationArtifact
		dateStr string
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&a.ID, &a.ReportID, &dateStr, &a.Content, &a.CompositeScore, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EscalationArtifact{}, fmt.Errorf("artifact for %s: %w", date, domain.ErrNotFound)
	}
	if err != nil {
		return domain.EscalationArtifact{}, fmt.Errorf("get artifact for %s: %w", date, err)
	}
	a.Date = domain.Date(dateStr)
	return a, nil
}

// CreateEscalationArtifactIfAbsent inserts the artifact unless one exists for its date.
func (r *Repository) CreateEscalationArtifactIfAbsent(ctx context.Context, a domain.EscalationArtifact) error {
	query, args, err := r.sb.Insert("escalation_artifacts").
		Columns("id", "escalation_date", "report_id", "content", "composite_score", "created_at").
		Values(a.ID, a.Date.String(), a.ReportID, a.Content, a.CompositeScore, a.CreatedAt.UTC()).
		Suffix("ON CONFLICT (escalation_date) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert artifact: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("artifact for %s: %w", a.Date, domain.ErrArtifactExists)
		}
		return fmt.Errorf("insert artifact for %s: %w", a.Date, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert artifact rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("artifact for %s: %w", a.Date, domain.ErrArtifactExists)
	}
	return nil
}

// RecordAggregationOutcome upserts the outcome of a daily run.
func (r *Repository) RecordAggregationOutcome(ctx context.Context, o domain.AggregationOutcome) error {
	var reportID sql.NullString
	if o.ReportID != "" {
		reportID = sql.NullString{String: o.ReportID, Valid: true}
	}

	query, args, err := r.sb.Insert("aggregation_outcomes").
		Columns("escalation_date", "outcome", "candidates", "report_id", "recorded_at").
		Values(o.Date.String(), string(o.Kind), o.Candidates, reportID, o.RecordedAt.UTC()).
		Suffix(`ON CONFLICT (escalation_date) DO UPDATE SET
			outcome = excluded.outcome,
			candidates = excluded.candidates,
			report_id = excluded.report_id,
			recorded_at = excluded.recorded_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build record outcome: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record outcome for %s: %w", o.Date, err)
	}
	return nil
}

// GetAggregationOutcome returns the last recorded outcome for date.
func (r *Repository) GetAggregationOutcome(ctx context.Context, date domain.Date) (domain.AggregationOutcome, error) {
	query, args, err := r.sb.Select("outcome", "candidates", "report_id", "recorded_at").
		From("aggregation_outcomes").
		Where(sq.Eq{"escalation_date": date.String()}).
		ToSql()
	if err != nil {
		return domain.AggregationOutcome{}, fmt.Errorf("build get outcome: %w", err)
	}

	var (
		o        = domain.AggregationOutcome{Date: date}
		kind     string
		reportID sql.NullString
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&kind, &o.Candidates, &reportID, &o.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AggregationOutcome{}, fmt.Errorf("outcome for %s: %w", date, domain.ErrNotFound)
	}
	if err != nil {
		return domain.AggregationOutcome{}, fmt.Errorf("get outcome for %s: %w", date, err)
	}
	o.Kind = domain.AggregationOutcomeKind(kind)
	o.ReportID = reportID.String
	return o, nil
}

// InsertReport registers a new PENDING report. Intake normally happens in the feed service;
// this exists for imports and tests.
func (r *Repository) InsertReport(ctx context.Context, report domain.Report) error {
	var lat, lng sql.NullFloat64
	if report.Location != nil {
		lat = sql.NullFloat64{Float64: report.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: report.Location.Longitude, Valid: true}
	}

	status := report.Status
	if status == "" {
		status = domain.StatusPending
	}

	query, args, err := r.sb.Insert(postsTable).
		Columns("id", "description", "image_url", "lat", "lng", "status", "created_at").
		Values(report.ID, report.Description, report.ImageRef, lat, lng, string(status), report.CreatedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert report: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert report %s: %w", report.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (domain.Report, error) {
	var (
		report                           domain.Report
		status                           string
		lat, lng                         sql.NullFloat64
		category                         sql.NullString
		severity, authenticity, composite sql.NullFloat64
		analysedAt                       sql.NullTime
		upvotes, downvotes               int64
	)

	err := row.Scan(
		&report.ID, &report.Description, &report.ImageRef, &lat, &lng, &category, &status,
		&severity, &authenticity, &composite, &report.CreatedAt, &analysedAt,
		&upvotes, &downvotes,
	)
	if err != nil {
		return domain.Report{}, err
	}

	report.Status, err = domain.ParseStatus(status)
	if err != nil {
		return domain.Report{}, err
	}
	if lat.Valid && lng.Valid {
		report.Location = &domain.GeoPoint{Latitude: lat.Float64, Longitude: lng.Float64}
	}
	report.Category = category.String
	report.SeverityScore = floatPtr(severity)
	report.AuthenticityScore = floatPtr(authenticity)
	report.CompositeScore = floatPtr(composite)
	if analysedAt.Valid {
		t := analysedAt.Time
		report.AnalysedAt = &t
	}
	report.Votes = domain.VoteTally{Upvotes: int(upvotes), Downvotes: int(downvotes)}
	return report, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
