// Package sysinfo describes the machine a benchmark ran on, used to
// derive a default testbed name when none is given.
package sysinfo

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Summary describes the local machine.
type Summary struct {
	Hostname   string `json:"hostname"`
	OS         string `json:"os"`
	KernelArch string `json:"kernel_arch"`
	CPUModel   string `json:"cpu_model"`
	CPUCores   int    `json:"cpu_cores"`
	MemoryMB   uint64 `json:"memory_mb"`
}

// Collect gathers a machine summary. Individual probes failing leave
// their fields empty rather than failing the whole collection.
func Collect(ctx context.Context) Summary {
	var s Summary

	if info, err := host.InfoWithContext(ctx); err == nil {
		s.Hostname = info.Hostname
		s.OS = info.OS
		s.KernelArch = info.KernelArch
	}

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		s.CPUModel = strings.TrimSpace(infos[0].ModelName)
	}

	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		s.CPUCores = count
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryMB = vm.Total / 1024 / 1024
	}

	return s
}

// TestbedName derives a stable testbed identifier from the machine,
// e.g. "linux-arm64-buildbox".
func (s Summary) TestbedName() string {
	parts := make([]string, 0, 3)

	if s.OS != "" {
		parts = append(parts, s.OS)
	}

	if s.KernelArch != "" {
		parts = append(parts, s.KernelArch)
	}

	if s.Hostname != "" {
		parts = append(parts, s.Hostname)
	}

	if len(parts) == 0 {
		return "unknown"
	}

	return sanitize(strings.Join(parts, "-"))
}

// String renders a one-line human summary.
func (s Summary) String() string {
	memory := units.BytesSize(float64(s.MemoryMB) * 1024 * 1024)

	return fmt.Sprintf("%s (%s, %d cores, %s)",
		s.TestbedName(), s.CPUModel, s.CPUCores, memory)
}

func sanitize(name string) string {
	var b strings.Builder

	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == ' ':
			b.WriteRune('-')
		}
	}

	return strings.Trim(b.String(), "-")
}
