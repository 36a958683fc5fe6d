// Package adapter converts raw benchmark-tool output into canonical
// measurements. Each adapter handles one tool's output format and is a
// pure function: no side effects, no network or storage access.
package adapter

import (
	"fmt"
	"math"

	"github.com/driftwatch/driftwatch/pkg/measurement"
)

// Adapter parses one benchmark tool's raw output.
type Adapter interface {
	// Format returns the format identifier callers use to select this
	// adapter, e.g. "criterion".
	Format() string

	// Parse converts raw tool output into canonical measurements,
	// folding repeated samples for the same (benchmark, measure) pair
	// into one Measurement. It returns a *FormatError when the input
	// does not match the format's grammar.
	Parse(raw []byte) ([]measurement.Measurement, error)
}

// FormatError reports malformed or unrecognized benchmark-tool output.
// It names the first offending line so the caller can fix the input
// without inspecting internals.
type FormatError struct {
	Format string
	Line   int
	Record string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: line %d: %s (%q)",
			e.Format, e.Line, e.Reason, e.Record)
	}

	return fmt.Sprintf("%s: %s", e.Format, e.Reason)
}

// Set is the collection of available adapters, keyed by format
// identifier. It is constructed explicitly and handed to the run
// coordinator; there is no global registry.
type Set map[string]Adapter

// NewSet builds a Set from the given adapters.
func NewSet(adapters ...Adapter) Set {
	s := make(Set, len(adapters))
	for _, a := range adapters {
		s[a.Format()] = a
	}

	return s
}

// DefaultSet returns a Set with all built-in adapters.
func DefaultSet() Set {
	return NewSet(
		NewCriterion(),
		NewGoBench(),
		NewJSONLines(),
	)
}

// Get looks up an adapter by format identifier.
func (s Set) Get(format string) (Adapter, bool) {
	a, ok := s[format]

	return a, ok
}

// Formats returns the format identifiers in the set.
func (s Set) Formats() []string {
	formats := make([]string, 0, len(s))
	for f := range s {
		formats = append(formats, f)
	}

	return formats
}

// sample is one raw observation prior to folding.
type sample struct {
	value float64
	lower *float64
	upper *float64
}

// seriesAccumulator folds repeated samples for the same
// (benchmark, measure) pair into one Measurement, preserving
// first-seen order so that parsing is deterministic.
type seriesAccumulator struct {
	order   []string
	pending map[string]*pendingMeasurement
}

type pendingMeasurement struct {
	m       measurement.Measurement
	samples []sample
}

func newSeriesAccumulator() *seriesAccumulator {
	return &seriesAccumulator{
		pending: make(map[string]*pendingMeasurement),
	}
}

// add records one sample. The unit of the first sample wins; a
// conflicting unit for the same pair is reported by the caller via
// unitOf before adding.
func (acc *seriesAccumulator) add(m measurement.Measurement, s sample) {
	key := m.Key()

	p, ok := acc.pending[key]
	if !ok {
		p = &pendingMeasurement{m: m}
		acc.pending[key] = p
		acc.order = append(acc.order, key)
	}

	p.samples = append(p.samples, s)
}

// unitOf returns the unit already recorded for a pair, if any.
func (acc *seriesAccumulator) unitOf(m measurement.Measurement) (string, bool) {
	p, ok := acc.pending[m.Key()]
	if !ok {
		return "", false
	}

	return p.m.Unit, true
}

// fold produces the final measurements in first-seen order. Single
// samples pass through unchanged; repeated samples become mean plus
// sample standard deviation, with the interval bounds widened to cover
// all observations.
func (acc *seriesAccumulator) fold() []measurement.Measurement {
	out := make([]measurement.Measurement, 0, len(acc.order))

	for _, key := range acc.order {
		p := acc.pending[key]
		m := p.m
		m.Samples = len(p.samples)

		if len(p.samples) == 1 {
			s := p.samples[0]
			m.Value = s.value
			m.LowerValue = s.lower
			m.UpperValue = s.upper
			out = append(out, m)

			continue
		}

		var sum float64
		for _, s := range p.samples {
			sum += s.value
		}

		mean := sum / float64(len(p.samples))

		var sqDiff float64
		for _, s := range p.samples {
			d := s.value - mean
			sqDiff += d * d
		}

		stddev := math.Sqrt(sqDiff / float64(len(p.samples)-1))

		lo, hi := p.samples[0].value, p.samples[0].value
		for _, s := range p.samples {
			lo = math.Min(lo, boundOr(s.lower, s.value))
			hi = math.Max(hi, boundOr(s.upper, s.value))
		}

		m.Value = mean
		m.Stddev = &stddev
		m.LowerValue = &lo
		m.UpperValue = &hi
		out = append(out, m)
	}

	return out
}

func boundOr(b *float64, fallback float64) float64 {
	if b != nil {
		return *b
	}

	return fallback
}

func ptr(v float64) *float64 {
	return &v
}
