package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/config"
	"conveyor/internal/daemonrun"
)

func newRootCommand() *cobra.Command {
	var (
		configFlag  string
		logLevel    string
		development bool
		bind        string
	)

	cmd := &cobra.Command{
		Use:           "conveyord",
		Short:         "Run the conveyor coordination node",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(strings.TrimSpace(configFlag))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if bind = strings.TrimSpace(bind); bind != "" {
				cfg.Node.Bind = bind
			}
			opts := daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			}
			if exists {
				opts.ConfigPath = path
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&development, "dev", false, "Enable development logging (source locations)")
	cmd.Flags().StringVar(&bind, "bind", "", "Override node.bind")
	return cmd
}
