package sysinfo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTestbedName(t *testing.T) {
	tests := []struct {
		name     string
		summary  Summary
		expected string
	}{
		{
			name: "full",
			summary: Summary{
				Hostname:   "Build Box 01",
				OS:         "linux",
				KernelArch: "x86_64",
			},
			expected: "linux-x86-64-build-box-01",
		},
		{
			name:     "hostname only",
			summary:  Summary{Hostname: "runner"},
			expected: "runner",
		},
		{
			name:     "empty",
			summary:  Summary{},
			expected: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.summary.TestbedName())
		})
	}
}

func TestCollectDoesNotFail(t *testing.T) {
	// Probes may individually fail on exotic platforms; the summary
	// must still produce a usable testbed name.
	s := Collect(context.Background())

	assert.NotEmpty(t, s.TestbedName())
}
