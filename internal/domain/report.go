package domain

import (
	"fmt"
	"time"
)

// Status is the processing state of a Report.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAnalysed Status = "ANALYSED"
	StatusWorking  Status = "WORKING"
	StatusComplete Status = "COMPLETE"
)

// Actor identifies who drives a status transition.
type Actor string

const (
	// ActorPipeline is this service.
	ActorPipeline Actor = "pipeline"
	// ActorExternal covers moderators and field crews acting through other systems.
	ActorExternal Actor = "external"
)

// ScoredStatuses lists the states in which a report carries scores and is eligible for ranking.
var ScoredStatuses = []Status{StatusAnalysed, StatusWorking, StatusComplete}

// ParseStatus validates a persisted status value.
func ParseStatus(v string) (Status, error) {
	switch s := Status(v); s {
	case StatusPending, StatusAnalysed, StatusWorking, StatusComplete:
		return s, nil
	default:
		return "", fmt.Errorf("unknown report status %q", v)
	}
}

// Scored reports whether reports in this state must carry a composite score.
func (s Status) Scored() bool {
	for _, st := range ScoredStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// CanTransition applies the authorization rules for status changes: the pipeline may only move
// PENDING to ANALYSED, external actors drive ANALYSED -> WORKING -> COMPLETE.
func (s Status) CanTransition(actor Actor, to Status) bool {
	switch actor {
	case ActorPipeline:
		return s == StatusPending && to == StatusAnalysed
	case ActorExternal:
		return (s == StatusAnalysed && to == StatusWorking) || (s == StatusWorking && to == StatusComplete)
	default:
		return false
	}
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// VoteTally is a read-only snapshot of community votes.
type VoteTally struct {
	Upvotes   int
	Downvotes int
}

// Net returns upvotes minus downvotes.
func (v VoteTally) Net() int {
	return v.Upvotes - v.Downvotes
}

// Report is a single citizen-submitted civic issue.
type Report struct {
	ID                string
	Description       string
	ImageRef          string
	Location          *GeoPoint
	CreatedAt         time.Time
	Status            Status
	Category          string
	SeverityScore     *float64
	AuthenticityScore *float64
	CompositeScore    *float64
	AnalysedAt        *time.Time
	Votes             VoteTally
}

// Scores groups the fields written by the PENDING -> ANALYSED transition.
type Scores struct {
	Category     string
	Severity     float64
	Authenticity float64
	Composite    float64
	AnalysedAt   time.Time
}

// Classification is the raw output of the multimodal classification service.
type Classification struct {
	Category     string  `json:"category"`
	Severity     float64 `json:"severity"`
	Authenticity float64 `json:"authenticity"`
}

// AnalysisResult is produced once per report and discarded after the scores are persisted.
type AnalysisResult struct {
	Classification Classification
	Extraction     map[string]any
}

// Category returns the normalized category if the extraction provided one.
func (r AnalysisResult) Category() string {
	if v, ok := r.Extraction["category"].(string); ok && v != "" {
		return v
	}
	return r.Classification.Category
}
