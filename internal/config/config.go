// Package config loads and validates vscsync configuration.
//
// Configuration comes from three layers, in increasing precedence:
//  1. Built-in defaults (Default)
//  2. A config file (vscsync.yaml), located explicitly or via search paths
//  3. VSCSYNC_* environment variables
//
// The base directory is always injected configuration. No default in this
// package may reference a specific user's home directory.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Format identifies the output serialization for a source.
type Format string

const (
	// FormatJSON writes a single JSON document mapping table names to
	// lists of row records.
	FormatJSON Format = "json"
	// FormatJSONL writes one JSON object per row, one per line.
	FormatJSONL Format = "jsonl"
)

// Valid reports whether f is a recognized output format.
func (f Format) Valid() bool {
	return f == FormatJSON || f == FormatJSONL
}

// IncrementalConfig selects append-style export driven by a monotonically
// increasing key column instead of whole-table re-export.
type IncrementalConfig struct {
	// Table is the table the cursor tracks.
	Table string `mapstructure:"table" yaml:"table"`
	// Key is the integer column compared against the stored cursor.
	Key string `mapstructure:"key" yaml:"key"`
	// BatchSize caps rows fetched per sync run. Zero means DefaultBatchSize.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size,omitempty"`
}

// SourceConfig describes one database tracked for export.
type SourceConfig struct {
	// Name is a short identifier used in output filenames and logs.
	Name string `mapstructure:"name" yaml:"name"`
	// Path is the database file location. Relative paths resolve
	// against BaseDir.
	Path string `mapstructure:"path" yaml:"path"`
	// Format selects json or jsonl output. Defaults to json.
	Format Format `mapstructure:"format" yaml:"format,omitempty"`
	// Tables restricts the export to a subset of tables. Empty means all.
	Tables []string `mapstructure:"tables" yaml:"tables,omitempty"`
	// Incremental, when set, switches the source to cursor-based
	// append export. Only meaningful with the jsonl format.
	Incremental *IncrementalConfig `mapstructure:"incremental" yaml:"incremental,omitempty"`
}

// DiscoverRule expands to sources found by globbing at sync time.
// This covers layouts like workspaceStorage/<hash>/state.vscdb where
// the set of databases changes as the IDE creates workspaces.
type DiscoverRule struct {
	// Dir is the directory to search under, relative to BaseDir
	// unless absolute.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Pattern is a filepath.Glob pattern relative to Dir.
	Pattern string `mapstructure:"pattern" yaml:"pattern"`
	// Format selects the output format for discovered sources.
	Format Format `mapstructure:"format" yaml:"format,omitempty"`
}

// SchedulerConfig is the timing policy for continuous mode.
// It replaces the crontab/systemd wiring of earlier script-based setups:
// the policy is data here, owned and validated by this package.
type SchedulerConfig struct {
	// Interval is the period between full sync passes.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Jitter is the maximum random delay added to each tick so that
	// several machines on the same schedule do not sync in lockstep.
	Jitter time.Duration `mapstructure:"jitter" yaml:"jitter"`
	// Debounce is how long a watch event must be quiet before the
	// affected source is synced.
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// EventsConfig controls the optional WebSocket event server.
type EventsConfig struct {
	// Enabled starts the event server in watch mode.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Port is the listen port for /ws, /health and /trigger.
	Port int `mapstructure:"port" yaml:"port"`
}

// PublishConfig controls pushing changed exports to a git dataset repo.
type PublishConfig struct {
	// Remote is the git remote name. Empty disables publishing.
	Remote string `mapstructure:"remote" yaml:"remote"`
	// Branch is the branch to push. Defaults to main.
	Branch string `mapstructure:"branch" yaml:"branch"`
	// RepoDir is the working copy containing the output files.
	// Defaults to OutputDir.
	RepoDir string `mapstructure:"repo_dir" yaml:"repo_dir,omitempty"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	// File is the log file path. Empty logs to stderr only.
	File string `mapstructure:"file" yaml:"file,omitempty"`
	// MaxSizeMB is the size at which the log rotates.
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is how many rotated files to keep.
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// Config is the root configuration for vscsync.
type Config struct {
	// BaseDir anchors all relative paths in the config.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// StateDir holds the marker store and lock file.
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`
	// OutputDir receives exported JSON/JSONL files.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`

	Sources  []SourceConfig `mapstructure:"sources" yaml:"sources"`
	Discover []DiscoverRule `mapstructure:"discover" yaml:"discover,omitempty"`

	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
	Publish   PublishConfig   `mapstructure:"publish" yaml:"publish"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// DefaultBatchSize is the incremental fetch cap when a source does not
// set one.
const DefaultBatchSize = 10000

// Default returns the built-in configuration. BaseDir defaults to the
// process working directory; callers override it via config or flags.
func Default() *Config {
	return &Config{
		BaseDir:   ".",
		StateDir:  ".vscsync",
		OutputDir: "exports",
		Scheduler: SchedulerConfig{
			Interval: 5 * time.Minute,
			Jitter:   30 * time.Second,
			Debounce: 5 * time.Second,
		},
		Events: EventsConfig{
			Enabled: false,
			Port:    8080,
		},
		Publish: PublishConfig{
			Branch: "main",
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads configuration from the given file path. If path is empty,
// it searches for vscsync.yaml in the working directory and in
// $XDG_CONFIG_HOME/vscsync. Environment variables with the VSCSYNC_
// prefix override file values (nested keys use underscores, e.g.
// VSCSYNC_SCHEDULER_INTERVAL).
func Load(path string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("base_dir", def.BaseDir)
	v.SetDefault("state_dir", def.StateDir)
	v.SetDefault("output_dir", def.OutputDir)
	v.SetDefault("scheduler.interval", def.Scheduler.Interval)
	v.SetDefault("scheduler.jitter", def.Scheduler.Jitter)
	v.SetDefault("scheduler.debounce", def.Scheduler.Debounce)
	v.SetDefault("events.enabled", def.Events.Enabled)
	v.SetDefault("events.port", def.Events.Port)
	v.SetDefault("publish.branch", def.Publish.Branch)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)

	v.SetEnvPrefix("VSCSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("vscsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("$XDG_CONFIG_HOME", "vscsync"))
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine when no explicit path was
		// given; defaults plus env are a complete configuration.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structural invariants and fills per-source defaults.
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive (got %v)", c.Scheduler.Interval)
	}
	if c.Scheduler.Jitter < 0 {
		return fmt.Errorf("scheduler.jitter must not be negative (got %v)", c.Scheduler.Jitter)
	}
	if c.Scheduler.Debounce < 0 {
		return fmt.Errorf("scheduler.debounce must not be negative (got %v)", c.Scheduler.Debounce)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Path == "" {
			return fmt.Errorf("sources[%d]: path is required", i)
		}
		if src.Name == "" {
			src.Name = baseName(src.Path)
		}
		if seen[src.Name] {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, src.Name)
		}
		seen[src.Name] = true
		if src.Format == "" {
			src.Format = FormatJSON
		}
		if !src.Format.Valid() {
			return fmt.Errorf("sources[%d]: unknown format %q", i, src.Format)
		}
		if src.Incremental != nil {
			if src.Incremental.Table == "" || src.Incremental.Key == "" {
				return fmt.Errorf("sources[%d]: incremental requires table and key", i)
			}
			if src.Format != FormatJSONL {
				return fmt.Errorf("sources[%d]: incremental export requires the jsonl format", i)
			}
			if src.Incremental.BatchSize == 0 {
				src.Incremental.BatchSize = DefaultBatchSize
			}
			if src.Incremental.BatchSize < 0 {
				return fmt.Errorf("sources[%d]: batch_size must not be negative", i)
			}
		}
	}

	for i := range c.Discover {
		rule := &c.Discover[i]
		if rule.Dir == "" || rule.Pattern == "" {
			return fmt.Errorf("discover[%d]: dir and pattern are required", i)
		}
		if rule.Format == "" {
			rule.Format = FormatJSON
		}
		if !rule.Format.Valid() {
			return fmt.Errorf("discover[%d]: unknown format %q", i, rule.Format)
		}
	}

	if c.Events.Enabled && (c.Events.Port <= 0 || c.Events.Port > 65535) {
		return fmt.Errorf("events.port must be in 1..65535 (got %d)", c.Events.Port)
	}

	return nil
}

// Resolve returns path anchored at BaseDir unless it is already absolute.
func (c *Config) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.BaseDir, path)
}

// StatePath returns a file path inside the state directory.
func (c *Config) StatePath(name string) string {
	return filepath.Join(c.Resolve(c.StateDir), name)
}

// baseName strips the directory and extension from a path, producing a
// usable default source name ("state.vscdb" -> "state").
func baseName(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}
