// Package config loads cmd/pool-runner's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hivecrawl/poolcore/internal/common/configtypes"
)

// GetConfigPath resolves path to an absolute path, leaving absolute
// paths untouched and resolving relative ones against the working
// directory.
func GetConfigPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("config: resolve working directory: %w", err)
	}
	return filepath.Join(wd, path), nil
}

// Load reads and parses the YAML file at path into an AppConfig,
// applying defaults for anything the file leaves zero-valued.
func Load(path string) (configtypes.AppConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return configtypes.AppConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return configtypes.AppConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration cmd/pool-runner starts from before
// the YAML file is applied on top of it.
func Default() configtypes.AppConfig {
	var cfg configtypes.AppConfig
	cfg.Server.ID = "pool-runner-1"

	cfg.BrowserPool = configtypes.BrowserPoolConfig{
		MaxOpenPagesPerInstance:        100,
		AbortInstanceAfterRequestCount: 150,
		InstanceKillerInterval:         configtypes.Duration(secondsToNanos(60)),
		KillInstanceAfter:              configtypes.Duration(secondsToNanos(300)),
	}
	cfg.AutoscaledPool = configtypes.AutoscaledPoolConfig{
		MaxConcurrency:     1000,
		MinConcurrency:     1,
		MinFreeMemoryRatio: 0.2,
		MaybeRunInterval:   configtypes.Duration(500 * 1e6), // 500ms
	}
	cfg.Metrics = configtypes.MetricsConfig{
		Enabled:   true,
		Listen:    ":9090",
		Path:      "/metrics",
		Namespace: "poolcore",
	}
	cfg.Log = configtypes.LogConfig{
		Level: configtypes.LogLevelInfo,
		Console: configtypes.ConsoleLogConfig{
			Enabled: true,
			Format:  configtypes.LogFormatConsole,
		},
	}
	return cfg
}

func secondsToNanos(s int64) int64 { return s * 1e9 }
