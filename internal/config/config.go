package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Node contains the coordination node's HTTP settings.
type Node struct {
	Bind               string   `toml:"bind"`
	URL                string   `toml:"url"`
	AllowedHosts       []string `toml:"allowed_hosts"`
	RequestTimeoutMS   int      `toml:"request_timeout_ms"`
	PerformanceLogging bool     `toml:"performance_logging"`
}

// Store contains document store persistence settings.
type Store struct {
	DataDir            string `toml:"data_dir"`
	MaxDocumentBytes   int    `toml:"max_document_bytes"`
	TailPollIntervalMS int    `toml:"tail_poll_interval_ms"`
	TailPollAttempts   int    `toml:"tail_poll_attempts"`
}

// Archive contains the bounds applied to the audit log when the pipeline
// status record is first prepared. Zero or negative disables a bound.
type Archive struct {
	MaxEntries        int   `toml:"max_entries"`
	MaxBytes          int64 `toml:"max_bytes"`
	DiscardOldEntries bool  `toml:"discard_old_entries"`
}

// Status contains the status aggregator settings.
type Status struct {
	FlushIntervalMS int `toml:"flush_interval_ms"`
}

// Worker contains stage runtime defaults. Individual stages may override the
// timing values through their property tables.
type Worker struct {
	HoldIntervalMS       int `toml:"hold_interval_ms"`
	ShutdownTimeoutMS    int `toml:"shutdown_timeout_ms"`
	RecurringIntervalMS  int `toml:"recurring_interval_ms"`
	MaxConsecutiveErrors int `toml:"max_consecutive_errors"`
	ErrorBackoffMS       int `toml:"error_backoff_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// StageProperties is the raw property table for one stage. The node serves it
// verbatim from getProperties; workers turn it into a typed stage config.
type StageProperties map[string]any

// Config encapsulates all configuration values for conveyor.
//
// Configuration sections by subsystem:
//   - Node: HTTP bind address, public URL, host allow-list
//   - Store: data directory and document size limit
//   - Archive: audit log bounds
//   - Status: counter flush cadence
//   - Worker: stage runtime timing defaults
//   - Logging: log format, level, and optional file
//   - Stages: per-stage property tables keyed by stage name
type Config struct {
	Node    Node                       `toml:"node"`
	Store   Store                      `toml:"store"`
	Archive Archive                    `toml:"archive"`
	Status  Status                     `toml:"status"`
	Worker  Worker                     `toml:"worker"`
	Logging Logging                    `toml:"logging"`
	Stages  map[string]StageProperties `toml:"stages"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/conveyor/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg, err := parse(resolvedPath, exists)
	if err != nil {
		return nil, "", false, err
	}
	return cfg, resolvedPath, exists, nil
}

func parse(path string, exists bool) (*Config, error) {
	cfg := Default()
	if exists {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("conveyor.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data directory (and the log file's parent when set).
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Store.DataDir}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file backing the document store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Store.DataDir, "conveyor.db")
}

// LockPath returns the file used to keep a single node per data directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Store.DataDir, "conveyord.lock")
}

// StageNames returns the configured stage names.
func (c *Config) StageNames() []string {
	names := make([]string, 0, len(c.Stages))
	for name := range c.Stages {
		names = append(names, name)
	}
	return names
}

// StageProperties returns a copy of the property table for stage, or false
// when the stage is not configured.
func (c *Config) StageProperties(stage string) (StageProperties, bool) {
	props, ok := c.Stages[stage]
	if !ok {
		return nil, false
	}
	out := make(StageProperties, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out, true
}

// RequestTimeout returns the HTTP client/server request deadline.
func (c *Config) RequestTimeout() time.Duration {
	return millis(c.Node.RequestTimeoutMS)
}

// StatusFlushInterval returns the aggregator flush cadence.
func (c *Config) StatusFlushInterval() time.Duration {
	return millis(c.Status.FlushIntervalMS)
}

// TailPollInterval returns the sleep between empty audit log polls.
func (c *Config) TailPollInterval() time.Duration {
	return millis(c.Store.TailPollIntervalMS)
}

func millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes the starter configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
