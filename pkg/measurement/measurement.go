// Package measurement defines the canonical measurement model shared by
// the adapter layer, the store, and the regression detector.
package measurement

import (
	"fmt"
	"time"
)

// Direction declares whether lower or higher values are better for a
// measure. It is a declared property of the measure, never inferred
// from the data.
type Direction string

const (
	// LowerIsBetter marks measures like latency where an increase is a
	// regression.
	LowerIsBetter Direction = "lower"

	// HigherIsBetter marks measures like throughput where a decrease is
	// a regression.
	HigherIsBetter Direction = "higher"
)

// ParseDirection validates a direction string. The empty string maps to
// LowerIsBetter, the common case for benchmark timings.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", string(LowerIsBetter):
		return LowerIsBetter, nil
	case string(HigherIsBetter):
		return HigherIsBetter, nil
	default:
		return "", fmt.Errorf("invalid direction %q (want %q or %q)",
			s, LowerIsBetter, HigherIsBetter)
	}
}

// Measurement is one observed value for one measure of one benchmark,
// as produced by an adapter. Repeated samples for the same
// (benchmark, measure) pair are folded into a single Measurement by the
// adapter, carrying the aggregate statistics.
type Measurement struct {
	// Benchmark is the benchmark identifier, unique within a project.
	Benchmark string

	// Measure names the metric, e.g. "latency" or "throughput".
	Measure string

	// Unit is the measure's unit, e.g. "ns". Fixed per measure once
	// established for a project.
	Unit string

	// Direction is the declared favorability of the measure.
	Direction Direction

	// Value is the observed (or folded mean) value.
	Value float64

	// LowerValue and UpperValue bound the observation when the source
	// tool reports an interval (e.g. Criterion's confidence bounds).
	LowerValue *float64
	UpperValue *float64

	// Stddev is the sample standard deviation across folded samples,
	// when more than one sample was observed.
	Stddev *float64

	// Samples is the number of raw samples folded into this measurement.
	Samples int
}

// Key returns the (benchmark, measure) pair that locates this
// measurement's series within a (project, branch, testbed) context.
func (m Measurement) Key() string {
	return m.Benchmark + "/" + m.Measure
}

// RunIdentity carries the identity context of one submission.
type RunIdentity struct {
	ProjectSlug string
	Branch      string
	Testbed     string
	RunID       string
	GitHash     string
	PRNumber    *int
	SubmittedAt time.Time
}
