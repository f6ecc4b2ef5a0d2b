package usecase

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"CitySense/internal/domain"
	"CitySense/internal/ports"
	"CitySense/internal/retry"
)

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		AttemptTimeout:  time.Second,
	}
}

// memRepository is an in-memory ports.ReportRepository with the same conditional-write semantics as
// the SQL store.
type memRepository struct {
	mu        sync.Mutex
	reports   map[string]domain.Report
	artifacts map[domain.Date]domain.EscalationArtifact
	outcomes  map[domain.Date]domain.AggregationOutcome
	updates   int
}

var _ ports.ReportRepository = (*memRepository)(nil)

func newMemRepository(reports ...domain.Report) *memRepository {
	r := &memRepository{
		reports:   map[string]domain.Report{},
		artifacts: map[domain.Date]domain.EscalationArtifact{},
		outcomes:  map[domain.Date]domain.AggregationOutcome{},
	}
	for _, rep := range reports {
		r.reports[rep.ID] = rep
	}
	return r
}

func (m *memRepository) GetReport(_ context.Context, id string) (domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[id]
	if !ok {
		return domain.Report{}, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
	}
	return rep, nil
}

func (m *memRepository) UpdateReportIfStatus(_ context.Context, id string, expected, next domain.Status, s domain.Scores) error {
	if !expected.CanTransition(domain.ActorPipeline, next) {
		return domain.ErrTransitionNotAllowed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reports[id]
	if !ok || rep.Status != expected {
		return domain.ErrPreconditionFailed
	}
	rep.Status = next
	rep.Category = s.Category
	rep.SeverityScore = &s.Severity
	rep.AuthenticityScore = &s.Authenticity
	rep.CompositeScore = &s.Composite
	at := s.AnalysedAt
	rep.AnalysedAt = &at
	m.reports[id] = rep
	m.updates++
	return nil
}

func (m *memRepository) ListReportsByDateAndStatus(_ context.Context, start, end time.Time, statuses []domain.Status) ([]domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Report
	for _, rep := range m.reports {
		if rep.CreatedAt.Before(start) || !rep.CreatedAt.Before(end) {
			continue
		}
		if slices.Contains(statuses, rep.Status) {
			out = append(out, rep)
		}
	}
	return out, nil
}

func (m *memRepository) GetEscalationArtifact(_ context.Context, date domain.Date) (domain.EscalationArtifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[date]
	if !ok {
		return domain.EscalationArtifact{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *memRepository) CreateEscalationArtifactIfAbsent(_ context.Context, a domain.EscalationArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[a.Date]; ok {
		return domain.ErrArtifactExists
	}
	m.artifacts[a.Date] = a
	return nil
}

func (m *memRepository) RecordAggregationOutcome(_ context.Context, o domain.AggregationOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[o.Date] = o
	return nil
}

func (m *memRepository) report(id string) domain.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[id]
}

func (m *memRepository) setStatus(id string, status domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep := m.reports[id]
	rep.Status = status
	m.reports[id] = rep
}

type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   int
}

func (s *memObjectStore) GetObject(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	data, ok := s.objects[ref]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", ref, domain.ErrNotFound)
	}
	return data, nil
}

// scriptedClassifier returns the queued errors first, then result.
type scriptedClassifier struct {
	mu     sync.Mutex
	errs   []error
	result domain.Classification
	calls  int
	block  chan struct{}
}

func (c *scriptedClassifier) Classify(ctx context.Context, _ []byte, _ string) (domain.Classification, error) {
	c.mu.Lock()
	c.calls++
	var err error
	if len(c.errs) > 0 {
		err, c.errs = c.errs[0], c.errs[1:]
	}
	block := c.block
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.Classification{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.Classification{}, err
	}
	return c.result, nil
}

func (c *scriptedClassifier) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type stubExtractor struct {
	mu      sync.Mutex
	payload map[string]any
	err     error
	calls   int
}

func (e *stubExtractor) Extract(context.Context, domain.Classification, string) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.payload, e.err
}

type stubGenerator struct {
	mu    sync.Mutex
	errs  []error
	text  string
	calls int
	seen  []ports.EscalationBrief
}

func (g *stubGenerator) GenerateEscalation(_ context.Context, brief ports.EscalationBrief) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.seen = append(g.seen, brief)
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		return "", err
	}
	return g.text, nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []ports.Alert
}

func (a *recordingAlerter) Alert(_ context.Context, alert ports.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *recordingAlerter) all() []ports.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.alerts)
}

func ptr(v float64) *float64 { return &v }
