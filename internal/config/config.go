// Package config provides configuration loading and defaults for the warden
// daemon.
//
// Configuration is loaded from a TOML file in the user's data directory and
// covers the worker command, spool matching, lock placement, signal policy,
// logging, lifecycle notifications, and the control socket. Validation is
// strict: unresolvable signal names, bad globs, and out-of-range intervals
// fail at load time rather than surfacing mid-run.
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"warden/internal/atomicfile"
	"warden/internal/paths"
	"warden/internal/signals"
)

// CurrentVersion is the config schema version this build reads and writes.
const CurrentVersion = 1

// workerNameRegex validates worker names: lowercase alphanumeric with hyphens.
var workerNameRegex = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// ValidateWorkerName reports whether name is a valid worker identifier.
func ValidateWorkerName(name string) bool {
	return len(name) <= 32 && workerNameRegex.MatchString(name)
}

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version.
	Version int `toml:"version"`
	// Worker holds the job command and spool matching settings.
	Worker WorkerConfig `toml:"worker"`
	// Lock holds instance lock placement settings.
	Lock LockConfig `toml:"lock"`
	// Signals holds the signal policy: shutdown set, stats, and rotate.
	Signals SignalsConfig `toml:"signals"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
	// Notify holds lifecycle webhook settings.
	Notify NotifyConfig `toml:"notify"`
	// Control holds control socket settings.
	Control ControlConfig `toml:"control"`
}

// WorkerConfig holds the job command and spool matching settings.
type WorkerConfig struct {
	// Name optionally identifies this worker; it scopes the default lock
	// file so differently named workers can share a data directory.
	Name string `toml:"name,omitempty"`
	// Command is the argv run for each claimed job, with the job file path
	// appended as the final argument. Empty disables job execution: the
	// daemon still guards the lock and serves signals and control requests.
	Command []string `toml:"command"`
	// PollIntervalSeconds is the fallback spool rescan interval.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	// JobTimeoutSeconds kills a job command running longer than this.
	// 0 means no timeout.
	JobTimeoutSeconds int `toml:"job_timeout_seconds"`
	// Include lists glob patterns a spool file name must match to be
	// claimed.
	Include []string `toml:"include"`
	// Ignore lists glob patterns excluded from claiming even when included.
	Ignore []string `toml:"ignore"`
}

// LockConfig holds instance lock placement settings.
type LockConfig struct {
	// Path overrides the lock file location. Empty uses the data directory
	// default (scoped by worker name when one is set).
	Path string `toml:"path,omitempty"`
}

// SignalsConfig holds the daemon's signal policy. All names resolve through
// the signal table, so "term", "TERM", and "SIGTERM" are equivalent.
type SignalsConfig struct {
	// Shutdown lists the signals that request graceful stop. Empty uses
	// the platform default set.
	Shutdown []string `toml:"shutdown"`
	// Stats names the signal that logs runtime counters. Empty disables.
	Stats string `toml:"stats,omitempty"`
	// Rotate names the signal that forces log rotation. Empty disables.
	Rotate string `toml:"rotate,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// NotifyConfig holds lifecycle webhook settings.
type NotifyConfig struct {
	// URL receives a JSON POST for daemon lifecycle events. Empty disables.
	URL string `toml:"url,omitempty"`
	// TimeoutSeconds bounds each webhook attempt.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// RetryMax is the number of retries after a failed attempt.
	RetryMax int `toml:"retry_max"`
}

// ControlConfig holds control socket settings.
type ControlConfig struct {
	// Enabled serves status/stop requests on the local control socket.
	Enabled bool `toml:"enabled"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Worker: WorkerConfig{
			Command:             []string{},
			PollIntervalSeconds: 5,
			JobTimeoutSeconds:   0,
			Include:             []string{"*" + paths.JobExt},
			Ignore:              []string{".*", "*.tmp.*"},
		},
		Signals: SignalsConfig{
			Shutdown: []string{"SIGTERM", "SIGINT", "SIGHUP", "SIGQUIT"},
			Stats:    "SIGUSR1",
			Rotate:   "SIGUSR2",
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
		Notify: NotifyConfig{
			TimeoutSeconds: 5,
			RetryMax:       3,
		},
		Control: ControlConfig{
			Enabled: true,
		},
	}
}

// ///////////////////////////////////////////////
// Example Configuration
// ///////////////////////////////////////////////

// ExampleConfig returns a Config suitable for generating config.default.toml.
// For this project all defaults are good examples.
func ExampleConfig() *Config {
	return DefaultConfig()
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses the configuration file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if v := PeekVersion(data); v > CurrentVersion {
		return nil, fmt.Errorf("config version %d is newer than this build supports (%d)", v, CurrentVersion)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Worker.Name != "" && !ValidateWorkerName(c.Worker.Name) {
		return fmt.Errorf("invalid worker.name %q: must be lowercase alphanumeric with hyphens, at most 32 chars", c.Worker.Name)
	}

	if len(c.Worker.Command) > 0 && strings.TrimSpace(c.Worker.Command[0]) == "" {
		return fmt.Errorf("worker.command has an empty program name")
	}

	if c.Worker.PollIntervalSeconds <= 0 {
		return fmt.Errorf("worker.poll_interval_seconds must be > 0, got %d", c.Worker.PollIntervalSeconds)
	}

	if c.Worker.JobTimeoutSeconds < 0 {
		return fmt.Errorf("worker.job_timeout_seconds must be >= 0, got %d", c.Worker.JobTimeoutSeconds)
	}

	if len(c.Worker.Include) == 0 {
		return fmt.Errorf("worker.include must list at least one pattern")
	}
	for _, pattern := range append(append([]string{}, c.Worker.Include...), c.Worker.Ignore...) {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid glob pattern %q", pattern)
		}
	}

	if err := c.validateSignals(); err != nil {
		return err
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}

	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}

	if c.Notify.URL != "" {
		u, err := url.Parse(c.Notify.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid notify.url %q: must be an absolute http(s) URL", c.Notify.URL)
		}
	}
	if c.Notify.TimeoutSeconds <= 0 {
		return fmt.Errorf("notify.timeout_seconds must be > 0, got %d", c.Notify.TimeoutSeconds)
	}
	if c.Notify.RetryMax < 0 {
		return fmt.Errorf("notify.retry_max must be >= 0, got %d", c.Notify.RetryMax)
	}

	return nil
}

// validateSignals resolves every configured signal name against the signal
// table and rejects overlaps, so a signal never has two meanings.
func (c *Config) validateSignals() error {
	shutdown := make(map[int]string, len(c.Signals.Shutdown))
	for _, name := range c.Signals.Shutdown {
		num, err := signals.Number(name)
		if err != nil {
			return fmt.Errorf("signals.shutdown: %w", err)
		}
		if !signals.IsTrappable(num) {
			return fmt.Errorf("signals.shutdown: %q cannot be trapped", name)
		}
		if prev, dup := shutdown[num]; dup {
			return fmt.Errorf("signals.shutdown: %q duplicates %q", name, prev)
		}
		shutdown[num] = name
	}

	single := func(field, name string) (int, error) {
		if name == "" {
			return 0, nil
		}
		num, err := signals.Number(name)
		if err != nil {
			return 0, fmt.Errorf("signals.%s: %w", field, err)
		}
		if !signals.IsTrappable(num) {
			return 0, fmt.Errorf("signals.%s: %q cannot be trapped", field, name)
		}
		if prev, ok := shutdown[num]; ok {
			return 0, fmt.Errorf("signals.%s: %q already in shutdown set as %q", field, name, prev)
		}
		return num, nil
	}

	stats, err := single("stats", c.Signals.Stats)
	if err != nil {
		return err
	}
	rotate, err := single("rotate", c.Signals.Rotate)
	if err != nil {
		return err
	}
	if stats != 0 && stats == rotate {
		return fmt.Errorf("signals.stats and signals.rotate are both %q", c.Signals.Stats)
	}
	return nil
}

// ///////////////////////////////////////////////
// Resolvers
// ///////////////////////////////////////////////

// PollInterval returns the spool rescan interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalSeconds) * time.Second
}

// JobTimeout returns the per-job execution timeout, or zero for none.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Worker.JobTimeoutSeconds) * time.Second
}

// LockPath resolves where the instance lock lives: the explicit override if
// set, otherwise the data-dir default scoped by worker name.
func (c *Config) LockPath(d paths.DataDir) string {
	if c.Lock.Path != "" {
		return c.Lock.Path
	}
	if c.Worker.Name != "" {
		return d.LockForWorker(c.Worker.Name)
	}
	return d.Lock()
}

// ShutdownNumbers resolves the configured shutdown signal names to table
// numbers, in config order.
func (c *Config) ShutdownNumbers() ([]int, error) {
	nums := make([]int, 0, len(c.Signals.Shutdown))
	for _, name := range c.Signals.Shutdown {
		num, err := signals.Number(name)
		if err != nil {
			return nil, err
		}
		nums = append(nums, num)
	}
	return nums, nil
}

// ///////////////////////////////////////////////
// Spool Matching
// ///////////////////////////////////////////////

// ShouldClaim reports whether a spool file name matches the worker's
// include patterns without matching any ignore pattern.
func (c *Config) ShouldClaim(name string) bool {
	for _, pattern := range c.Worker.Ignore {
		matched, err := doublestar.Match(pattern, name)
		if err != nil {
			slog.Warn("invalid glob pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return false
		}
	}
	for _, pattern := range c.Worker.Include {
		matched, err := doublestar.Match(pattern, name)
		if err != nil {
			slog.Warn("invalid glob pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
