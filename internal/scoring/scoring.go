// Package scoring turns model outputs and community votes into comparable numbers.
//
// Everything here is pure: no I/O, no clocks. The composite weighting is configuration; the only
// contract is monotonicity in severity and in authenticity.
package scoring

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"CitySense/internal/domain"
)

// Policy parameterizes the composite score:
//
//	composite = severity * (floor + (1-floor) * authenticity^exponent) * (1 + voteWeight * n/(|n|+saturation))
//
// where n is the net vote count. Authenticity acts as a confidence multiplier, so a severe but
// dubious report scores below a moderate, credible one.
type Policy struct {
	MaxSeverity          float64 `yaml:"maxSeverity"`
	AuthenticityFloor    float64 `yaml:"authenticityFloor"`
	AuthenticityExponent float64 `yaml:"authenticityExponent"`
	VoteWeight           float64 `yaml:"voteWeight"`
	VoteSaturation       float64 `yaml:"voteSaturation"`
}

// DefaultPolicy is severity scaled linearly by authenticity, votes ignored.
func DefaultPolicy() Policy {
	return Policy{
		MaxSeverity:          10,
		AuthenticityFloor:    0,
		AuthenticityExponent: 1,
		VoteWeight:           0,
		VoteSaturation:       10,
	}
}

// Validate rejects parameter combinations that would break monotonicity or produce negative scores.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxSeverity <= 0 {
		errs = append(errs, fmt.Errorf("maxSeverity must be positive, got %v", p.MaxSeverity))
	}
	if p.AuthenticityFloor < 0 || p.AuthenticityFloor > 1 {
		errs = append(errs, fmt.Errorf("authenticityFloor must be within [0,1], got %v", p.AuthenticityFloor))
	}
	if p.AuthenticityExponent <= 0 {
		errs = append(errs, fmt.Errorf("authenticityExponent must be positive, got %v", p.AuthenticityExponent))
	}
	if p.VoteWeight < 0 || p.VoteWeight >= 1 {
		errs = append(errs, fmt.Errorf("voteWeight must be within [0,1), got %v", p.VoteWeight))
	}
	if p.VoteSaturation <= 0 {
		errs = append(errs, fmt.Errorf("voteSaturation must be positive, got %v", p.VoteSaturation))
	}
	return errors.Join(errs...)
}

// Composite combines severity, authenticity and a vote snapshot into one ranking value.
func (p Policy) Composite(severity, authenticity float64, votes domain.VoteTally) float64 {
	severity = clamp(severity, 0, p.MaxSeverity)
	authenticity = clamp(authenticity, 0, 1)

	confidence := p.AuthenticityFloor + (1-p.AuthenticityFloor)*math.Pow(authenticity, p.AuthenticityExponent)
	return severity * confidence * p.community(votes.Net())
}

func (p Policy) community(net int) float64 {
	if p.VoteWeight == 0 {
		return 1
	}
	n := float64(net)
	return 1 + p.VoteWeight*n/(math.Abs(n)+p.VoteSaturation)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// Compare orders reports for escalation: higher composite first, then higher net votes, then the
// earlier report, then the lexically smaller id so that the order is total.
func Compare(a, b domain.Report) int {
	if c := cmp.Compare(compositeOf(b), compositeOf(a)); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Votes.Net(), a.Votes.Net()); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Rank returns a sorted copy of reports. The input slice is not modified.
func Rank(reports []domain.Report) []domain.Report {
	ranked := slices.Clone(reports)
	slices.SortStableFunc(ranked, Compare)
	return ranked
}

func compositeOf(r domain.Report) float64 {
	if r.CompositeScore == nil {
		return math.Inf(-1)
	}
	return *r.CompositeScore
}
