package adapter

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/driftwatch/driftwatch/pkg/measurement"
)

// FormatGoBench identifies `go test -bench` text output.
const FormatGoBench = "gobench"

// goBenchMeasure maps a benchmark output unit to its canonical measure
// name and declared direction.
type goBenchMeasure struct {
	measure   string
	direction measurement.Direction
}

var goBenchMeasures = map[string]goBenchMeasure{
	"ns/op":     {MeasureLatency, measurement.LowerIsBetter},
	"B/op":      {"allocated_bytes", measurement.LowerIsBetter},
	"allocs/op": {"allocations", measurement.LowerIsBetter},
	"MB/s":      {"throughput", measurement.HigherIsBetter},
}

// GoBench parses the output of `go test -bench`. Result lines look like
//
//	BenchmarkName-8   1000   1234 ns/op   456 B/op   7 allocs/op
//
// Non-benchmark lines (PASS, ok, goos/goarch headers) are ignored.
// Repeated lines for the same benchmark (`-count=N`) fold into one
// measurement per measure carrying mean and standard deviation.
type GoBench struct{}

// NewGoBench creates the GoBench adapter.
func NewGoBench() *GoBench {
	return &GoBench{}
}

// Format returns the adapter's format identifier.
func (g *GoBench) Format() string {
	return FormatGoBench
}

// Parse extracts measurements from benchmark result lines. A line that
// starts with "Benchmark" but does not follow the result grammar is a
// FormatError naming the line; that distinguishes truncated output from
// ordinary test chatter.
func (g *GoBench) Parse(raw []byte) ([]measurement.Measurement, error) {
	acc := newSeriesAccumulator()

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if !strings.HasPrefix(line, "Benchmark") {
			continue
		}

		fields := strings.Fields(line)

		// A result line needs at least name, iterations, and one
		// value/unit pair; an odd remainder means a dangling value.
		if len(fields) < 4 || (len(fields)-2)%2 != 0 {
			return nil, &FormatError{
				Format: FormatGoBench,
				Line:   lineNo,
				Record: line,
				Reason: "malformed benchmark result line",
			}
		}

		name := fields[0]

		if _, err := strconv.ParseInt(fields[1], 10, 64); err != nil {
			return nil, &FormatError{
				Format: FormatGoBench,
				Line:   lineNo,
				Record: line,
				Reason: "iteration count is not an integer",
			}
		}

		for i := 2; i < len(fields); i += 2 {
			value, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, &FormatError{
					Format: FormatGoBench,
					Line:   lineNo,
					Record: line,
					Reason: "value " + strconv.Quote(fields[i]) +
						" is not a number",
				}
			}

			unit := fields[i+1]

			gm, known := goBenchMeasures[unit]
			if !known {
				// Custom units from b.ReportMetric: keep the unit as
				// the measure name, lower-is-better by convention.
				gm = goBenchMeasure{unit, measurement.LowerIsBetter}
			}

			acc.add(measurement.Measurement{
				Benchmark: name,
				Measure:   gm.measure,
				Unit:      unit,
				Direction: gm.direction,
			}, sample{value: value})
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, &FormatError{
			Format: FormatGoBench,
			Reason: err.Error(),
		}
	}

	return acc.fold(), nil
}
