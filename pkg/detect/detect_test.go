package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/pkg/measurement"
)

func TestEvaluateNoHistory(t *testing.T) {
	verdict := Evaluate(100, nil, DefaultPolicy())

	assert.Equal(t, StatusNoBaseline, verdict.Status)
	assert.Equal(t, 0, verdict.Samples)
}

func TestEvaluateRegression(t *testing.T) {
	history := []float64{100, 102, 98, 101}

	policy := DefaultPolicy()
	policy.Window = 4
	policy.MaxPercentChange = 10.0

	verdict := Evaluate(130, history, policy)

	assert.Equal(t, StatusRegression, verdict.Status)
	assert.InDelta(t, 100.25, verdict.BaselineMean, 0.001)
	assert.InDelta(t, 29.68, verdict.PercentChange, 0.01)
	assert.Equal(t, 4, verdict.Samples)
}

func TestEvaluateBetterValueIsNotRegression(t *testing.T) {
	history := []float64{100, 102, 98, 101}

	policy := DefaultPolicy()
	policy.Window = 4
	policy.MaxPercentChange = 10.0

	verdict := Evaluate(95, history, policy)

	// 95 is faster than every baseline entry; depending on series
	// noise it is a pass or an improvement, never a regression.
	assert.NotEqual(t, StatusRegression, verdict.Status)
	assert.Negative(t, verdict.PercentChange)
}

func TestEvaluateInclusiveBoundary(t *testing.T) {
	// A single-entry baseline has zero stddev, so only the percent
	// threshold applies; exactly at the threshold counts as crossing.
	policy := DefaultPolicy()
	policy.MaxPercentChange = 10.0

	verdict := Evaluate(110, []float64{100}, policy)
	assert.Equal(t, StatusRegression, verdict.Status)

	verdict = Evaluate(109.99, []float64{100}, policy)
	assert.Equal(t, StatusPass, verdict.Status)

	verdict = Evaluate(90, []float64{100}, policy)
	assert.Equal(t, StatusImprovement, verdict.Status)
}

func TestEvaluateZeroBaseline(t *testing.T) {
	// Zero mean and zero stddev leave nothing to compare against.
	verdict := Evaluate(5, []float64{0, 0, 0}, DefaultPolicy())

	assert.Equal(t, StatusNoBaseline, verdict.Status)
}

func TestEvaluateHigherIsBetter(t *testing.T) {
	history := []float64{850, 848, 852, 851}

	policy := DefaultPolicy()
	policy.Direction = measurement.HigherIsBetter
	policy.MaxPercentChange = 10.0

	// Throughput dropping is a regression.
	verdict := Evaluate(700, history, policy)
	assert.Equal(t, StatusRegression, verdict.Status)

	// Throughput climbing is an improvement.
	verdict = Evaluate(1000, history, policy)
	assert.Equal(t, StatusImprovement, verdict.Status)
}

func TestEvaluateWindow(t *testing.T) {
	// The stale outlier falls outside the window and must not drag
	// the baseline.
	history := []float64{1000, 100, 100, 100}

	policy := DefaultPolicy()
	policy.Window = 3

	verdict := Evaluate(100, history, policy)

	assert.Equal(t, StatusPass, verdict.Status)
	assert.InDelta(t, 100.0, verdict.BaselineMean, 0.001)
	assert.Equal(t, 3, verdict.Samples)
}

func TestEvaluateMinSamples(t *testing.T) {
	policy := DefaultPolicy()
	policy.MinSamples = 3

	verdict := Evaluate(100, []float64{100, 100}, policy)
	assert.Equal(t, StatusNoBaseline, verdict.Status)

	verdict = Evaluate(100, []float64{100, 100, 100}, policy)
	assert.Equal(t, StatusPass, verdict.Status)
}

func TestEvaluateSigmaThreshold(t *testing.T) {
	// Tight series: a deviation well under the percent threshold can
	// still trip the sigma threshold.
	history := []float64{100, 100.5, 99.5, 100, 100.2, 99.8}

	policy := DefaultPolicy()
	policy.MaxPercentChange = 10.0
	policy.SigmaMultiplier = 2.0

	verdict := Evaluate(103, history, policy)

	assert.Equal(t, StatusRegression, verdict.Status)
	assert.Less(t, verdict.PercentChange, policy.MaxPercentChange)
}

func TestEvaluateDeterministic(t *testing.T) {
	history := []float64{100, 105, 95, 102, 99}

	first := Evaluate(112, history, DefaultPolicy())
	second := Evaluate(112, history, DefaultPolicy())

	assert.Equal(t, first, second)
}

func TestEvaluateMonotonicity(t *testing.T) {
	history := []float64{100, 101, 99, 100}
	policy := DefaultPolicy()

	severity := func(s Status) int {
		switch s {
		case StatusRegression:
			return 2
		case StatusPass, StatusNoBaseline:
			return 1
		default: // improvement
			return 0
		}
	}

	prev := -1

	for _, value := range []float64{90, 95, 100, 105, 110, 120, 150} {
		verdict := Evaluate(value, history, policy)

		current := severity(verdict.Status)
		require.GreaterOrEqual(t, current, prev,
			"severity must not decrease as the value worsens (value=%v)",
			value)

		prev = current
	}
}

func TestPolicyNormalized(t *testing.T) {
	p := Policy{}.normalized()

	assert.Equal(t, DefaultWindow, p.Window)
	assert.Equal(t, DefaultMinSamples, p.MinSamples)
	assert.InDelta(t, DefaultMaxPercentChange, p.MaxPercentChange, 0.001)
	assert.InDelta(t, DefaultSigmaMultiplier, p.SigmaMultiplier, 0.001)
	assert.Equal(t, measurement.LowerIsBetter, p.Direction)
}
