package adapter

import (
	"regexp"
	"strconv"

	"github.com/driftwatch/driftwatch/pkg/measurement"
)

// FormatCriterion identifies Rust Criterion text output.
const FormatCriterion = "criterion"

// MeasureLatency is the measure emitted by timing-oriented adapters.
// Values are normalized to nanoseconds.
const MeasureLatency = "latency"

// criterionRe matches both single-line and multi-line Criterion output:
//
//	Single line: `benchmark_name            time:   [lo unit mid unit hi unit]`
//	Multi-line:  `benchmark_name\n          time:   [...]`
var criterionRe = regexp.MustCompile(
	`(?m)^(\S+)\s*\n?\s*time:\s+\[([0-9.]+)\s+(ns|µs|us|ms|s)\s+` +
		`([0-9.]+)\s+(ns|µs|us|ms|s)\s+([0-9.]+)\s+(ns|µs|us|ms|s)\]`,
)

// Criterion parses the console output of Rust's Criterion benchmark
// harness. Lines that are not benchmark timing reports (progress
// output, change estimates) are ignored, so zero-benchmark output is
// legitimately empty rather than an error.
type Criterion struct{}

// NewCriterion creates the Criterion adapter.
func NewCriterion() *Criterion {
	return &Criterion{}
}

// Format returns the adapter's format identifier.
func (c *Criterion) Format() string {
	return FormatCriterion
}

// Parse extracts one latency measurement per benchmark, converting the
// reported [lower mid upper] interval to nanoseconds. Repeated reports
// for the same benchmark fold into a single measurement.
func (c *Criterion) Parse(raw []byte) ([]measurement.Measurement, error) {
	acc := newSeriesAccumulator()

	for _, match := range criterionRe.FindAllSubmatch(raw, -1) {
		name := string(match[1])

		lower, ok := criterionTime(string(match[2]), string(match[3]))
		if !ok {
			continue
		}

		mean, ok := criterionTime(string(match[4]), string(match[5]))
		if !ok {
			continue
		}

		upper, ok := criterionTime(string(match[6]), string(match[7]))
		if !ok {
			continue
		}

		acc.add(measurement.Measurement{
			Benchmark: name,
			Measure:   MeasureLatency,
			Unit:      "ns",
			Direction: measurement.LowerIsBetter,
		}, sample{
			value: mean,
			lower: ptr(lower),
			upper: ptr(upper),
		})
	}

	return acc.fold(), nil
}

// criterionTime converts a value in the given unit to nanoseconds.
func criterionTime(value, unit string) (float64, bool) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}

	switch unit {
	case "ns":
		return v, true
	case "µs", "us":
		return v * 1e3, true
	case "ms":
		return v * 1e6, true
	case "s":
		return v * 1e9, true
	default:
		return 0, false
	}
}
