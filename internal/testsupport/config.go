package testsupport

import (
	"path/filepath"
	"testing"

	"conveyor/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with a unique temp data directory per
// test, fast polling intervals and no archive bounds.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Store.DataDir = filepath.Join(base, "data")
	cfg.Store.TailPollIntervalMS = 10
	cfg.Store.TailPollAttempts = 5
	cfg.Node.Bind = "127.0.0.1:0"
	cfg.Status.FlushIntervalMS = 50
	cfg.Worker.HoldIntervalMS = 20
	cfg.Worker.ShutdownTimeoutMS = 500
	cfg.Worker.ErrorBackoffMS = 10

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMaxDocumentBytes overrides the document size limit.
func WithMaxDocumentBytes(n int) ConfigOption {
	return func(c *config.Config) {
		c.Store.MaxDocumentBytes = n
	}
}

// WithStage adds a stage property table.
func WithStage(name string, props config.StageProperties) ConfigOption {
	return func(c *config.Config) {
		c.Stages[name] = props
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Store.DataDir)
}
