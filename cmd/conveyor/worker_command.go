package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/daemonrun"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var stageName string
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the workers of one stage against the node",
		Long: "Fetches the stage's properties from the node, builds the stage and runs\n" +
			"its worker threads until interrupted. Exits non-zero when the node keeps\n" +
			"refusing fetches or the stage is misconfigured.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(stageName) == "" {
				return errors.New("--stage is required")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.RunWorker(cmd.Context(), cfg, daemonrun.WorkerOptions{
				Stage:       stageName,
				NodeURL:     ctx.nodeURL(),
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}

	cmd.Flags().StringVarP(&stageName, "stage", "s", "", "Stage name as configured on the node")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "dev", false, "Enable development logging")
	return cmd
}
