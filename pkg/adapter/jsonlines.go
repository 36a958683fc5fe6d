package adapter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/driftwatch/driftwatch/pkg/measurement"
)

// FormatJSONLines identifies the generic JSON-lines format, the escape
// hatch for tools without a dedicated adapter.
const FormatJSONLines = "jsonlines"

// jsonRecord is one JSON-lines record.
type jsonRecord struct {
	Benchmark string   `json:"benchmark"`
	Measure   string   `json:"measure"`
	Value     *float64 `json:"value"`
	Unit      string   `json:"unit"`
	Direction string   `json:"direction"`
}

// JSONLines parses newline-delimited JSON records of the form
//
//	{"benchmark":"parse/large","measure":"latency","value":123.4,
//	 "unit":"ns","direction":"lower"}
//
// Blank lines are tolerated; malformed or incomplete records are not —
// this format does not declare partial-record tolerance, so one bad
// record fails the whole parse.
type JSONLines struct{}

// NewJSONLines creates the JSONLines adapter.
func NewJSONLines() *JSONLines {
	return &JSONLines{}
}

// Format returns the adapter's format identifier.
func (j *JSONLines) Format() string {
	return FormatJSONLines
}

// Parse decodes every non-blank line as one record. Repeated records
// for the same (benchmark, measure) pair fold into one measurement;
// their units must agree.
func (j *JSONLines) Parse(raw []byte) ([]measurement.Measurement, error) {
	acc := newSeriesAccumulator()

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		var rec jsonRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, &FormatError{
				Format: FormatJSONLines,
				Line:   lineNo,
				Record: line,
				Reason: "invalid JSON: " + err.Error(),
			}
		}

		if rec.Benchmark == "" {
			return nil, &FormatError{
				Format: FormatJSONLines,
				Line:   lineNo,
				Record: line,
				Reason: "missing required field \"benchmark\"",
			}
		}

		if rec.Measure == "" {
			return nil, &FormatError{
				Format: FormatJSONLines,
				Line:   lineNo,
				Record: line,
				Reason: "missing required field \"measure\"",
			}
		}

		if rec.Value == nil {
			return nil, &FormatError{
				Format: FormatJSONLines,
				Line:   lineNo,
				Record: line,
				Reason: "missing required field \"value\"",
			}
		}

		direction, err := measurement.ParseDirection(rec.Direction)
		if err != nil {
			return nil, &FormatError{
				Format: FormatJSONLines,
				Line:   lineNo,
				Record: line,
				Reason: err.Error(),
			}
		}

		m := measurement.Measurement{
			Benchmark: rec.Benchmark,
			Measure:   rec.Measure,
			Unit:      rec.Unit,
			Direction: direction,
		}

		if prev, ok := acc.unitOf(m); ok && prev != rec.Unit {
			return nil, &FormatError{
				Format: FormatJSONLines,
				Line:   lineNo,
				Record: line,
				Reason: "unit " + strconv.Quote(rec.Unit) +
					" conflicts with earlier " + strconv.Quote(prev) +
					" for the same benchmark and measure",
			}
		}

		acc.add(m, sample{value: *rec.Value})
	}

	if err := scanner.Err(); err != nil {
		return nil, &FormatError{
			Format: FormatJSONLines,
			Reason: err.Error(),
		}
	}

	return acc.fold(), nil
}
