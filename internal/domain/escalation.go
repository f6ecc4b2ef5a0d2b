package domain

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day in the reference timezone, formatted YYYY-MM-DD.
type Date string

// ParseDate validates a YYYY-MM-DD string.
func ParseDate(v string) (Date, error) {
	if _, err := time.Parse(dateLayout, v); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", v, err)
	}
	return Date(v), nil
}

// DateOf returns the calendar day containing t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	return Date(t.In(loc).Format(dateLayout))
}

// Bounds returns the half-open interval [start, end) covering the day in loc.
func (d Date) Bounds(loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(dateLayout, string(d), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", d, err)
	}
	return start, start.AddDate(0, 0, 1), nil
}

// Previous returns the day before d.
func (d Date) Previous() Date {
	t, err := time.Parse(dateLayout, string(d))
	if err != nil {
		return d
	}
	return Date(t.AddDate(0, 0, -1).Format(dateLayout))
}

func (d Date) String() string {
	return string(d)
}

// EscalationArtifact identifies the day's top-ranked report with ready-to-post text.
type EscalationArtifact struct {
	ID             string
	ReportID       string
	Date           Date
	Content        string
	CompositeScore float64
	CreatedAt      time.Time
}

// AggregationOutcomeKind enumerates how a daily run ended.
type AggregationOutcomeKind string

const (
	OutcomeEscalated    AggregationOutcomeKind = "escalated"
	OutcomeNoCandidates AggregationOutcomeKind = "no_candidates"
)

// AggregationOutcome records the result of a daily run.
type AggregationOutcome struct {
	Date       Date
	Kind       AggregationOutcomeKind
	Candidates int
	ReportID   string
	RecordedAt time.Time
}
