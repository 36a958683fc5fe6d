// Package detect classifies a new measurement against its historical
// series. Evaluate is a pure function of its inputs: identical inputs
// always yield identical verdicts, which keeps CI results reproducible.
package detect

import (
	"math"

	"github.com/driftwatch/driftwatch/pkg/measurement"
)

// Status is the per-metric classification outcome.
type Status string

const (
	// StatusPass means the value is within all thresholds.
	StatusPass Status = "pass"

	// StatusRegression means the value crossed a threshold in the
	// unfavorable direction.
	StatusRegression Status = "regression"

	// StatusImprovement means the value crossed a threshold in the
	// favorable direction.
	StatusImprovement Status = "improvement"

	// StatusNoBaseline means the series has no usable history to
	// compare against. For gating purposes it counts as a pass.
	StatusNoBaseline Status = "no_baseline"
)

// Default policy values.
const (
	DefaultWindow           = 20
	DefaultMinSamples       = 1
	DefaultMaxPercentChange = 10.0
	DefaultSigmaMultiplier  = 2.0
)

// Policy configures one detection call. It is passed explicitly into
// every Evaluate call, never held as ambient state.
type Policy struct {
	// Window is the number of most recent historical entries the
	// baseline is computed over.
	Window int

	// MinSamples is the minimum number of historical entries required
	// before a baseline is considered usable.
	MinSamples int

	// MaxPercentChange is the fixed percent-change threshold; crossing
	// it in the unfavorable direction is a regression regardless of
	// series noise.
	MaxPercentChange float64

	// SigmaMultiplier is the statistical threshold: a value more than
	// this many standard deviations from the baseline mean trips it.
	SigmaMultiplier float64

	// Direction is the measure's declared favorability.
	Direction measurement.Direction
}

// DefaultPolicy returns a policy with the default thresholds and
// lower-is-better direction.
func DefaultPolicy() Policy {
	return Policy{
		Window:           DefaultWindow,
		MinSamples:       DefaultMinSamples,
		MaxPercentChange: DefaultMaxPercentChange,
		SigmaMultiplier:  DefaultSigmaMultiplier,
		Direction:        measurement.LowerIsBetter,
	}
}

// normalized fills zero-valued fields with defaults so callers can
// specify only the knobs they care about.
func (p Policy) normalized() Policy {
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}

	if p.MinSamples <= 0 {
		p.MinSamples = DefaultMinSamples
	}

	if p.MaxPercentChange <= 0 {
		p.MaxPercentChange = DefaultMaxPercentChange
	}

	if p.SigmaMultiplier <= 0 {
		p.SigmaMultiplier = DefaultSigmaMultiplier
	}

	if p.Direction == "" {
		p.Direction = measurement.LowerIsBetter
	}

	return p
}

// Verdict is the outcome of one detection call.
type Verdict struct {
	Status Status `json:"status"`

	// BaselineMean and BaselineStddev describe the baseline the value
	// was compared against. Stddev is zero when fewer than two entries
	// were in the window.
	BaselineMean   float64 `json:"baseline_mean"`
	BaselineStddev float64 `json:"baseline_stddev"`

	// Samples is the number of historical entries in the window.
	Samples int `json:"samples"`

	// PercentChange is the signed percent change from the baseline
	// mean, positive when the value increased. Zero when the baseline
	// mean is zero.
	PercentChange float64 `json:"percent_change"`

	// Threshold is the percent threshold that was applied.
	Threshold float64 `json:"threshold"`
}

// Evaluate classifies value against the series history. history is
// ordered oldest-first and must not include the value under test; the
// baseline is computed over the most recent policy.Window entries.
//
// Both thresholds are evaluated and either one tripping is sufficient:
// the fixed percent threshold guards short, stable series and the sigma
// threshold guards long, noisy ones. A deviation exactly at a threshold
// counts as crossing it.
func Evaluate(value float64, history []float64, policy Policy) Verdict {
	policy = policy.normalized()

	if len(history) < policy.MinSamples || len(history) == 0 {
		return Verdict{
			Status:    StatusNoBaseline,
			Threshold: policy.MaxPercentChange,
		}
	}

	window := history
	if len(window) > policy.Window {
		window = window[len(window)-policy.Window:]
	}

	mean, stddev := meanStddev(window)

	verdict := Verdict{
		BaselineMean:   mean,
		BaselineStddev: stddev,
		Samples:        len(window),
		Threshold:      policy.MaxPercentChange,
	}

	// Unfavorable delta: positive when the value moved in the bad
	// direction for this measure.
	delta := value - mean
	if policy.Direction == measurement.HigherIsBetter {
		delta = -delta
	}

	var (
		percentTripped bool
		percentFavors  bool
	)

	if mean != 0 {
		verdict.PercentChange = (value - mean) / math.Abs(mean) * 100

		unfavorablePct := delta / math.Abs(mean) * 100
		percentTripped = unfavorablePct >= policy.MaxPercentChange
		percentFavors = -unfavorablePct >= policy.MaxPercentChange
	}

	var (
		sigmaTripped bool
		sigmaFavors  bool
	)

	if stddev > 0 {
		sigmaTripped = delta >= policy.SigmaMultiplier*stddev
		sigmaFavors = -delta >= policy.SigmaMultiplier*stddev
	}

	// A zero mean makes percent change undefined; with no usable sigma
	// either, there is nothing to compare against.
	if mean == 0 && stddev == 0 {
		verdict.Status = StatusNoBaseline

		return verdict
	}

	switch {
	case percentTripped || sigmaTripped:
		verdict.Status = StatusRegression
	case percentFavors || sigmaFavors:
		verdict.Status = StatusImprovement
	default:
		verdict.Status = StatusPass
	}

	return verdict
}

// meanStddev computes the mean and sample standard deviation of the
// window. Stddev is zero for windows of fewer than two entries.
func meanStddev(window []float64) (float64, float64) {
	var sum float64
	for _, v := range window {
		sum += v
	}

	mean := sum / float64(len(window))

	if len(window) < 2 {
		return mean, 0
	}

	var sqDiff float64
	for _, v := range window {
		d := v - mean
		sqDiff += d * d
	}

	return mean, math.Sqrt(sqDiff / float64(len(window)-1))
}
