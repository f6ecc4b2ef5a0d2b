package scoring

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"CitySense/internal/domain"
)

func ptr(v float64) *float64 { return &v }

func TestCompositeMonotonicInAuthenticity(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	high := p.Composite(8, 0.9, domain.VoteTally{})
	low := p.Composite(8, 0.3, domain.VoteTally{})
	if high < low {
		t.Fatalf("expected composite(8, 0.9)=%v >= composite(8, 0.3)=%v", high, low)
	}
}

func TestCompositeMonotonicGrid(t *testing.T) {
	t.Parallel()

	policies := map[string]Policy{
		"default": DefaultPolicy(),
		"floored": {MaxSeverity: 10, AuthenticityFloor: 0.2, AuthenticityExponent: 2, VoteWeight: 0.3, VoteSaturation: 5},
		"sqrt":    {MaxSeverity: 10, AuthenticityFloor: 0, AuthenticityExponent: 0.5, VoteWeight: 0.9, VoteSaturation: 1},
	}

	for name, p := range policies {
		p := p
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if err := p.Validate(); err != nil {
				t.Fatalf("policy invalid: %v", err)
			}
			for _, votes := range []domain.VoteTally{{}, {Upvotes: 12}, {Downvotes: 7}} {
				for s := 0.0; s <= 10; s += 0.5 {
					for a := 0.0; a < 1; a += 0.05 {
						if p.Composite(s, a+0.05, votes) < p.Composite(s, a, votes) {
							t.Fatalf("not monotonic in authenticity at s=%v a=%v", s, a)
						}
						if p.Composite(s+0.5, a, votes) < p.Composite(s, a, votes) {
							t.Fatalf("not monotonic in severity at s=%v a=%v", s, a)
						}
					}
				}
			}
		})
	}
}

func TestCompositePenalizesDubiousReports(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	spam := p.Composite(9, 0.2, domain.VoteTally{})
	credible := p.Composite(5, 0.9, domain.VoteTally{})
	if spam >= credible {
		t.Fatalf("expected severe-but-dubious %v < moderate-but-credible %v", spam, credible)
	}
}

func TestCompositeClampsInputs(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	if got := p.Composite(42, 3, domain.VoteTally{}); got != 10 {
		t.Fatalf("expected clamped composite 10, got %v", got)
	}
	if got := p.Composite(-1, 0.5, domain.VoteTally{}); got != 0 {
		t.Fatalf("expected clamped composite 0, got %v", got)
	}
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr bool
	}{
		{name: "default", mutate: func(*Policy) {}},
		{name: "floor above one", mutate: func(p *Policy) { p.AuthenticityFloor = 1.5 }, wantErr: true},
		{name: "zero exponent", mutate: func(p *Policy) { p.AuthenticityExponent = 0 }, wantErr: true},
		{name: "vote weight one", mutate: func(p *Policy) { p.VoteWeight = 1 }, wantErr: true},
		{name: "zero saturation", mutate: func(p *Policy) { p.VoteSaturation = 0 }, wantErr: true},
		{name: "zero max severity", mutate: func(p *Policy) { p.MaxSeverity = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRankBreaksTiesByNetVotes(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, time.November, 8, 0, 0, 0, 0, time.UTC)
	a := domain.Report{ID: "A", CompositeScore: ptr(7), Votes: domain.VoteTally{Upvotes: 6, Downvotes: 1}, CreatedAt: day.Add(9 * time.Hour)}
	b := domain.Report{ID: "B", CompositeScore: ptr(7), Votes: domain.VoteTally{Upvotes: 2}, CreatedAt: day.Add(8 * time.Hour)}

	ranked := Rank([]domain.Report{b, a})
	if len(ranked) != 2 || ranked[0].ID != "A" {
		t.Fatalf("expected A on top, got %+v", ranked)
	}
}

func TestRankIsDeterministic(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, time.November, 8, 0, 0, 0, 0, time.UTC)
	reports := []domain.Report{
		{ID: "r1", CompositeScore: ptr(5), CreatedAt: day.Add(time.Hour)},
		{ID: "r2", CompositeScore: ptr(9), CreatedAt: day.Add(2 * time.Hour)},
		{ID: "r3", CompositeScore: ptr(9), Votes: domain.VoteTally{Upvotes: 3}, CreatedAt: day.Add(3 * time.Hour)},
		{ID: "r4", CompositeScore: ptr(9), Votes: domain.VoteTally{Upvotes: 3}, CreatedAt: day.Add(time.Hour)},
		{ID: "r5", CompositeScore: ptr(9), Votes: domain.VoteTally{Upvotes: 3}, CreatedAt: day.Add(time.Hour)},
		{ID: "r6", CompositeScore: nil, CreatedAt: day},
	}
	want := []string{"r4", "r5", "r3", "r2", "r1", "r6"}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]domain.Report(nil), reports...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		var got []string
		for _, r := range Rank(shuffled) {
			got = append(got, r.ID)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("rank mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestRankDoesNotModifyInput(t *testing.T) {
	t.Parallel()

	reports := []domain.Report{
		{ID: "low", CompositeScore: ptr(1)},
		{ID: "high", CompositeScore: ptr(9)},
	}
	ranked := Rank(reports)
	if ranked[0].ID != "high" || reports[0].ID != "low" {
		t.Fatalf("unexpected order: ranked %s first, input %s first", ranked[0].ID, reports[0].ID)
	}
	if len(Rank(nil)) != 0 {
		t.Fatal("expected empty ranking for empty input")
	}
}
