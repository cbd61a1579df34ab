package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"conveyor/internal/config"
	"conveyor/internal/daemon"
	"conveyor/internal/logging"
	"conveyor/internal/preflight"
	"conveyor/internal/store"
)

// Options configures node process runtime behavior.
type Options struct {
	// ConfigPath is watched for stage and allow-list changes when set.
	ConfigPath  string
	LogLevel    string
	Development bool
	// Logger replaces the logger built from the config.
	Logger *slog.Logger
	// OnReady is called with the listen address once the node serves.
	OnReady func(addr string)
}

// Run starts the coordination node and blocks until ctx ends or the process
// receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := processLogger(cfg, opts.Logger, opts.LogLevel, opts.Development)
	if err != nil {
		return err
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	if check := preflight.CheckDirectoryAccess("data directory", cfg.Store.DataDir); !check.Passed {
		return fmt.Errorf("%s: %s", check.Name, check.Detail)
	}

	st, err := store.Open(cfg, logger)
	if err != nil {
		logger.Error("open document store", logging.Error(err))
		return err
	}

	policy := store.ArchivePolicy{
		MaxEntries:        cfg.Archive.MaxEntries,
		MaxBytes:          cfg.Archive.MaxBytes,
		DiscardOldEntries: cfg.Archive.DiscardOldEntries,
	}
	prepared, err := st.Prepare(signalCtx, policy)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("prepare pipeline status: %w", err)
	}
	logger.Info("pipeline status ready",
		logging.Bool("prepared_now", prepared),
		logging.Int("archive_max_entries", policy.MaxEntries),
		logging.Int64("archive_max_bytes", policy.MaxBytes),
		logging.Event("status_prepared"),
	)

	d, err := daemon.New(cfg, st, logger)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create node: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("node start failed",
			logging.Error(err),
			logging.Event("node_start_failed"),
			logging.String(logging.FieldErrorHint, "check node.bind and that no other node owns the data directory"),
		)
		return err
	}
	if opts.OnReady != nil {
		opts.OnReady(d.Addr())
	}

	if opts.ConfigPath != "" {
		go func() {
			if err := d.WatchConfig(signalCtx, opts.ConfigPath); err != nil {
				logging.WarnWithContext(logger, "config watch unavailable", "config_watch_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "restart the node to apply config changes"),
				)
			}
		}()
	}

	<-signalCtx.Done()
	logger.Info("conveyor node shutting down", logging.Event("node_shutdown"))
	return nil
}

func processLogger(cfg *config.Config, logger *slog.Logger, level string, development bool) (*slog.Logger, error) {
	if logger != nil {
		return logger, nil
	}
	if level == "" && !development {
		l, err := logging.NewFromConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		return l, nil
	}
	if level == "" {
		level = cfg.Logging.Level
	}
	outputs := []string{"stderr"}
	if cfg.Logging.File != "" {
		outputs = append(outputs, cfg.Logging.File)
	}
	l, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
		Development: development,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return l, nil
}
