// Package configtypes holds the plain data shapes shared by the YAML
// configuration loader and the runtime packages that consume it.
package configtypes

import (
	"fmt"
	"time"
)

// Log level constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// LogConfig configures the structured logger.
type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

// ConsoleLogConfig configures the console log sink.
type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

// FileLogConfig configures the rotating file log sink.
type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig configures lumberjack-style file rotation.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// BrowserPoolConfig is the YAML shape for browserpool.Config.
type BrowserPoolConfig struct {
	MaxOpenPagesPerInstance        int      `yaml:"max_open_pages_per_instance"`
	AbortInstanceAfterRequestCount int      `yaml:"abort_instance_after_request_count"`
	InstanceKillerInterval         Duration `yaml:"instance_killer_interval"`
	KillInstanceAfter              Duration `yaml:"kill_instance_after"`
	Launch                         LaunchConfig `yaml:"launch"`
}

// LaunchConfig is the YAML shape for browserpool.LaunchConfig.
type LaunchConfig struct {
	Dumpio             bool     `yaml:"dumpio"`
	SlowMo             Duration `yaml:"slow_mo"`
	Args               []string `yaml:"args"`
	ProxyURL           string   `yaml:"proxy_url"`
	IgnoreHTTPSErrors  bool     `yaml:"ignore_https_errors"`
	DisableWebSecurity bool     `yaml:"disable_web_security"`
}

// AutoscaledPoolConfig is the YAML shape for autoscaledpool.Config.
type AutoscaledPoolConfig struct {
	MaxConcurrency     int      `yaml:"max_concurrency"`
	MinConcurrency     int      `yaml:"min_concurrency"`
	MaxMemoryMbytes    int      `yaml:"max_memory_mbytes"`
	MinFreeMemoryRatio float64  `yaml:"min_free_memory_ratio"`
	MaybeRunInterval   Duration `yaml:"maybe_run_interval"`
}

// AppConfig is the top-level YAML configuration for cmd/pool-runner.
type AppConfig struct {
	Server struct {
		ID string `yaml:"id"`
	} `yaml:"server"`
	BrowserPool    BrowserPoolConfig    `yaml:"browser_pool"`
	AutoscaledPool AutoscaledPoolConfig `yaml:"autoscaled_pool"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Log            LogConfig            `yaml:"log"`
}

// Duration wraps time.Duration with YAML (de)serialization support, since
// yaml.v3 has no native duration type.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ToDuration converts to a time.Duration.
func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}
