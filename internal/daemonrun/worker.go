package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"conveyor/internal/config"
	"conveyor/internal/document"
	"conveyor/internal/logging"
	"conveyor/internal/remote"
	"conveyor/internal/services"
	"conveyor/internal/stage"
	"conveyor/internal/stages"
	"conveyor/internal/workflow"
)

// WorkerOptions configures a stage worker process.
type WorkerOptions struct {
	Stage string
	// NodeURL overrides node.url from the config.
	NodeURL     string
	LogLevel    string
	Development bool
	Logger      *slog.Logger
}

// RunWorker fetches the stage's properties from the node, builds the stage
// and runs its workers until ctx ends or a worker fails unrecoverably.
func RunWorker(cmdCtx context.Context, cfg *config.Config, opts WorkerOptions) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	name := strings.TrimSpace(opts.Stage)
	if err := document.ValidateName(name); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := processLogger(cfg, opts.Logger, opts.LogLevel, opts.Development)
	if err != nil {
		return err
	}

	nodeURL := opts.NodeURL
	if nodeURL == "" {
		nodeURL = cfg.Node.URL
	}
	client, err := remote.NewClient(nodeURL, cfg.RequestTimeout())
	if err != nil {
		return err
	}
	instance, err := client.Ping(signalCtx)
	if err != nil {
		return fmt.Errorf("node %s unreachable: %w", client.URL(), err)
	}

	props, err := client.Properties(signalCtx, name)
	if err != nil {
		return fmt.Errorf("fetch stage properties: %w", err)
	}
	if len(props) == 0 {
		return services.Wrap(services.ErrConfiguration, name, "properties",
			fmt.Sprintf("stage %q is not configured on node %s", name, client.URL()), nil)
	}
	sc, err := stage.ParseConfig(name, props, cfg.Worker)
	if err != nil {
		return err
	}
	s, err := stages.NewRegistry().Build(sc, logger)
	if err != nil {
		return err
	}

	logger.Info("stage worker connected",
		logging.Stage(name),
		logging.String("node", client.URL()),
		logging.String("node_instance", instance),
		logging.String("stage_type", sc.Type),
		logging.Event("worker_connected"),
	)
	mgr := workflow.NewManager(sc, s, client.Pipeline(name), cfg.Worker, logger)
	return mgr.Run(signalCtx)
}
