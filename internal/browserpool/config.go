package browserpool

import (
	"fmt"
	"time"
)

// processKillTimeout is PROCESS_KILL_TIMEOUT_MILLIS: how long a killed,
// closing browser gets before killInstanceLocked's timer forces a
// SIGKILL.
const processKillTimeout = 5 * time.Second

// reaperProbeTimeout bounds how long the reaper waits for a retired
// instance's pages() probe before treating it as failed.
const reaperProbeTimeout = 5 * time.Second

// LaunchConfig is the set of options BrowserLauncher implementations
// recognize when starting a new browser process.
type LaunchConfig struct {
	Dumpio             bool
	SlowMo             time.Duration
	Args               []string
	ProxyURL           string
	IgnoreHTTPSErrors  bool
	DisableWebSecurity bool
}

// Config holds BrowserPool's tunables.
type Config struct {
	// MaxOpenPagesPerInstance is the hard cap of concurrent tabs per
	// browser; exceeding it launches a new browser.
	MaxOpenPagesPerInstance int
	// AbortInstanceAfterRequestCount retires a browser after this many
	// cumulative tabs.
	AbortInstanceAfterRequestCount int
	// InstanceKillerInterval is the reaper sweep period.
	InstanceKillerInterval time.Duration
	// KillInstanceAfter is the max idle time after the last tab grant
	// before a retired browser is force-closed regardless of open tabs.
	KillInstanceAfter time.Duration
	// Launch is passed to BrowserLauncher.Launch for every instance.
	Launch LaunchConfig
}

// DefaultConfig returns BrowserPool's defaults.
func DefaultConfig() Config {
	return Config{
		MaxOpenPagesPerInstance:        100,
		AbortInstanceAfterRequestCount: 150,
		InstanceKillerInterval:         60 * time.Second,
		KillInstanceAfter:              300 * time.Second,
	}
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	if c.MaxOpenPagesPerInstance <= 0 {
		return fmt.Errorf("browserpool: max open pages per instance must be positive")
	}
	if c.AbortInstanceAfterRequestCount <= 0 {
		return fmt.Errorf("browserpool: abort instance after request count must be positive")
	}
	if c.InstanceKillerInterval <= 0 {
		return fmt.Errorf("browserpool: instance killer interval must be positive")
	}
	if c.KillInstanceAfter <= 0 {
		return fmt.Errorf("browserpool: kill instance after must be positive")
	}
	return nil
}
