package autoscaledpool

import (
	"fmt"
	"time"
)

// Tuning constants from the reference design. Unlike Config's fields,
// these are not meant to be overridden per deployment.
const (
	memCheckInterval     = 200 * time.Millisecond
	scaleUpInterval      = 50 // ticks; every 10s at memCheckInterval
	scaleUpMaxStep       = 10
	scaleDownInterval    = 5 // ticks; every 1s at memCheckInterval
	logInfoInterval      = 6 * scaleUpInterval // every 300 ticks
	minFreeMemoryRatioHard = 0.1
)

// Config holds AutoscaledPool's tunables.
type Config struct {
	// MaxConcurrency is the hard cap on in-flight tasks.
	MaxConcurrency int
	// MinConcurrency is the floor and the initial concurrency.
	MinConcurrency int
	// MaxMemoryMbytes, if non-zero, caps the totalBytes reported by
	// MemoryProbe before any scaling math runs.
	MaxMemoryMbytes int
	// MinFreeMemoryRatio is the scale-down threshold for the average
	// free/total ratio.
	MinFreeMemoryRatio float64
	// MaybeRunInterval is the safety-net tick period for the
	// task-launch driver.
	MaybeRunInterval time.Duration

	RunTaskFunction     RunTaskFunction
	IsFinishedFunction  IsFinishedFunction
	IsTaskReadyFunction IsTaskReadyFunction
}

// DefaultConfig returns AutoscaledPool's defaults. RunTaskFunction must
// still be set by the caller.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:     1000,
		MinConcurrency:     1,
		MinFreeMemoryRatio: 0.2,
		MaybeRunInterval:   500 * time.Millisecond,
	}
}

// Validate checks the configuration for obviously invalid values and
// clamps MinConcurrency to MaxConcurrency per the reference design.
func (c *Config) Validate() error {
	if c.RunTaskFunction == nil {
		return fmt.Errorf("autoscaledpool: RunTaskFunction is required")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("autoscaledpool: MaxConcurrency must be positive")
	}
	if c.MinConcurrency <= 0 {
		return fmt.Errorf("autoscaledpool: MinConcurrency must be positive")
	}
	if c.MinConcurrency > c.MaxConcurrency {
		c.MinConcurrency = c.MaxConcurrency
	}
	if c.MinFreeMemoryRatio <= 0 || c.MinFreeMemoryRatio >= 1 {
		return fmt.Errorf("autoscaledpool: MinFreeMemoryRatio must be in (0,1)")
	}
	if c.MaybeRunInterval <= 0 {
		return fmt.Errorf("autoscaledpool: MaybeRunInterval must be positive")
	}
	return nil
}
