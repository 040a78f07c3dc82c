// Package memprobe reports host free/total memory for AutoscaledPool's
// scale-up and scale-down decisions.
package memprobe

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// Sample is one memory reading.
type Sample struct {
	FreeBytes  uint64
	TotalBytes uint64
}

// Probe reports current host memory. Get may fail transiently; callers
// must treat failure as a skip-this-tick condition, never a fatal one.
type Probe interface {
	Get() (Sample, error)
}

// GopsutilProbe is the production Probe, backed by gopsutil/v4/mem, the
// same library the reference pool-sizing formula uses.
type GopsutilProbe struct{}

// NewGopsutilProbe returns a Probe backed by the host's real memory stats.
func NewGopsutilProbe() GopsutilProbe { return GopsutilProbe{} }

// Get reads current virtual memory stats from the OS.
func (GopsutilProbe) Get() (Sample, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return Sample{}, fmt.Errorf("memprobe: read virtual memory: %w", err)
	}
	return Sample{FreeBytes: v.Available, TotalBytes: v.Total}, nil
}
