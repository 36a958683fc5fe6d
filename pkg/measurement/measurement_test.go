package measurement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	tests := []struct {
		input    string
		expected Direction
		wantErr  bool
	}{
		{input: "", expected: LowerIsBetter},
		{input: "lower", expected: LowerIsBetter},
		{input: "higher", expected: HigherIsBetter},
		{input: "sideways", wantErr: true},
		{input: "LOWER", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			direction, err := ParseDirection(tt.input)

			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, direction)
		})
	}
}

func TestMeasurementKey(t *testing.T) {
	m := Measurement{Benchmark: "parse/large", Measure: "latency"}

	assert.Equal(t, "parse/large/latency", m.Key())
}
