package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"CitySense/internal/domain"
	"CitySense/internal/logging"
	"CitySense/internal/scoring"
)

var analysedAt = time.Date(2025, 3, 14, 5, 0, 0, 0, time.UTC)

type analysisFixture struct {
	repo       *memRepository
	images     *memObjectStore
	classifier *scriptedClassifier
	extractor  *stubExtractor
	alerter    *recordingAlerter
	analyser   *Analyser
}

func newAnalysisFixture(report domain.Report) *analysisFixture {
	f := &analysisFixture{
		repo:   newMemRepository(report),
		images: &memObjectStore{objects: map[string][]byte{report.ImageRef: []byte("jpeg")}},
		classifier: &scriptedClassifier{
			result: domain.Classification{Category: "road_damage", Severity: 9, Authenticity: 0.95},
		},
		extractor: &stubExtractor{payload: map[string]any{"category": "pothole"}},
		alerter:   &recordingAlerter{},
	}
	f.analyser = NewAnalyser(AnalyserDeps{
		Repository: f.repo,
		Images:     f.images,
		Classifier: f.classifier,
		Extractor:  f.extractor,
		Alerter:    f.alerter,
		Scoring:    scoring.DefaultPolicy(),
		Retry:      fastRetry(),
		Logger:     logging.Discard(),
		Now:        func() time.Time { return analysedAt },
	})
	return f
}

func pendingReport(id string) domain.Report {
	return domain.Report{
		ID:          id,
		Description: "deep pothole, Andheri",
		ImageRef:    "reports/" + id + ".jpg",
		Location:    &domain.GeoPoint{Latitude: 19.1197, Longitude: 72.8468},
		CreatedAt:   time.Date(2025, 3, 14, 3, 30, 0, 0, time.UTC),
		Status:      domain.StatusPending,
	}
}

func TestAnalyseScoresPendingReport(t *testing.T) {
	t.Parallel()

	f := newAnalysisFixture(pendingReport("r1"))
	if err := f.analyser.Analyse(context.Background(), "r1"); err != nil {
		t.Fatalf("analyse: %v", err)
	}

	got := f.repo.report("r1")
	if got.Status != domain.StatusAnalysed {
		t.Fatalf("expected ANALYSED, got %s", got.Status)
	}
	if got.Category != "pothole" {
		t.Fatalf("expected extracted category to win, got %q", got.Category)
	}
	if got.CompositeScore == nil || math.Abs(*got.CompositeScore-8.55) > 1e-9 {
		t.Fatalf("expected composite 8.55, got %v", got.CompositeScore)
	}
	if got.AnalysedAt == nil || !got.AnalysedAt.Equal(analysedAt) {
		t.Fatalf("unexpected analysed_at %v", got.AnalysedAt)
	}
}

func TestAnalyseIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newAnalysisFixture(pendingReport("r1"))
	ctx := context.Background()
	if err := f.analyser.Analyse(ctx, "r1"); err != nil {
		t.Fatalf("first analyse: %v", err)
	}
	first := f.repo.report("r1")

	if err := f.analyser.Analyse(ctx, "r1"); err != nil {
		t.Fatalf("second analyse: %v", err)
	}

	if f.classifier.callCount() != 1 || f.images.calls != 1 || f.extractor.calls != 1 {
		t.Fatalf("second run made external calls: classify=%d images=%d extract=%d",
			f.classifier.callCount(), f.images.calls, f.extractor.calls)
	}
	if f.repo.updates != 1 {
		t.Fatalf("expected a single write, got %d", f.repo.updates)
	}
	if second := f.repo.report("r1"); *second.CompositeScore != *first.CompositeScore {
		t.Fatal("stored scores changed on the second run")
	}
}

func TestAnalyseLeavesExternallyMovedReportsAlone(t *testing.T) {
	t.Parallel()

	for _, status := range []domain.Status{domain.StatusAnalysed, domain.StatusWorking, domain.StatusComplete} {
		report := pendingReport("r1")
		report.Status = status
		report.CompositeScore = ptr(3)
		f := newAnalysisFixture(report)

		if err := f.analyser.Analyse(context.Background(), "r1"); err != nil {
			t.Fatalf("%s: analyse: %v", status, err)
		}
		if f.classifier.callCount() != 0 {
			t.Fatalf("%s: classifier called", status)
		}
		if got := f.repo.report("r1"); got.Status != status || *got.CompositeScore != 3 {
			t.Fatalf("%s: report modified: %+v", status, got)
		}
	}
}

func TestAnalyseRecoversFromTransientFailure(t *testing.T) {
	t.Parallel()

	f := newAnalysisFixture(pendingReport("r1"))
	f.classifier.errs = []error{domain.Transient("classifier", errors.New("503 service unavailable"))}

	if err := f.analyser.Analyse(context.Background(), "r1"); err != nil {
		t.Fatalf("analyse: %v", err)
	}
	if f.classifier.callCount() != 2 {
		t.Fatalf("expected 2 classify attempts, got %d", f.classifier.callCount())
	}
	if got := f.repo.report("r1"); got.Status != domain.StatusAnalysed {
		t.Fatalf("expected ANALYSED after recovery, got %s", got.Status)
	}
	if alerts := f.alerter.all(); len(alerts) != 0 {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}
}

func TestAnalysePermanentFailuresKeepReportPending(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(f *analysisFixture)
	}{
		{
			name:  "image missing",
			setup: func(f *analysisFixture) { f.images.objects = map[string][]byte{} },
		},
		{
			name: "classifier rejects input",
			setup: func(f *analysisFixture) {
				f.classifier.errs = []error{domain.Permanent("classifier", errors.New("400 bad request"))}
			},
		},
		{
			name: "retries exhausted",
			setup: func(f *analysisFixture) {
				transient := domain.Transient("classifier", errors.New("timeout"))
				f.classifier.errs = []error{transient, transient, transient, transient}
			},
		},
		{
			name: "extraction malformed",
			setup: func(f *analysisFixture) {
				f.extractor.err = domain.Permanent("llm", errors.New("no json object found"))
			},
		},
		{
			name: "image undecodable",
			setup: func(f *analysisFixture) {
				f.analyser.validateImage = func([]byte) error { return errors.New("unknown format") }
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newAnalysisFixture(pendingReport("r1"))
			tt.setup(f)

			err := f.analyser.Analyse(context.Background(), "r1")
			var failure *domain.TaskFailure
			if !errors.As(err, &failure) {
				t.Fatalf("expected TaskFailure, got %v", err)
			}
			if failure.Task != "analysis" || failure.Key != "r1" {
				t.Fatalf("unexpected failure %+v", failure)
			}

			got := f.repo.report("r1")
			if got.Status != domain.StatusPending || got.CompositeScore != nil {
				t.Fatalf("report must stay PENDING without scores, got %+v", got)
			}
			if alerts := f.alerter.all(); len(alerts) != 1 || alerts[0].Key != "r1" {
				t.Fatalf("expected one alert for r1, got %+v", alerts)
			}
		})
	}
}

func TestAnalyseRetryExhaustionCapsAttempts(t *testing.T) {
	t.Parallel()

	f := newAnalysisFixture(pendingReport("r1"))
	transient := domain.Transient("classifier", errors.New("timeout"))
	f.classifier.errs = []error{transient, transient, transient, transient, transient}

	if err := f.analyser.Analyse(context.Background(), "r1"); err == nil {
		t.Fatal("expected failure")
	}
	if got := f.classifier.callCount(); got != fastRetry().MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", fastRetry().MaxAttempts, got)
	}

	// Re-triggering after the outage succeeds.
	if err := f.analyser.Analyse(context.Background(), "r1"); err != nil {
		t.Fatalf("re-trigger: %v", err)
	}
	if f.repo.report("r1").Status != domain.StatusAnalysed {
		t.Fatal("expected ANALYSED after re-trigger")
	}
}

func TestAnalyseConcurrentExternalChangeIsSuccess(t *testing.T) {
	t.Parallel()

	f := newAnalysisFixture(pendingReport("r1"))
	f.classifier.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.analyser.Analyse(context.Background(), "r1") }()

	for f.classifier.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	// A moderator moves the report on while the classifier is still working.
	f.repo.setStatus("r1", domain.StatusWorking)
	close(f.classifier.block)

	if err := <-done; err != nil {
		t.Fatalf("precondition failure must not be an error, got %v", err)
	}
	if got := f.repo.report("r1"); got.Status != domain.StatusWorking || got.CompositeScore != nil {
		t.Fatalf("stale analysis overwrote report: %+v", got)
	}
}
