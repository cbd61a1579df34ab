package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/config"
	"conveyor/internal/stage"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the node configuration",
	}
	configCmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a starter configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				switch _, err := os.Stat(target); {
				case err == nil:
					return fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
				case !errors.Is(err, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("write starter config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Describe each stage under [stages.<name>], then start conveyord.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Where to write the file (default: the user config path)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func initTarget(flagValue string) (string, error) {
	if path := strings.TrimSpace(flagValue); path != "" {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return "", fmt.Errorf("resolve config path: %w", err)
		}
		return expanded, nil
	}
	path, err := config.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("determine default config path: %w", err)
	}
	return path, nil
}

// newConfigValidateCommand loads the file and parses every stage table, so a
// bad stage shows up here rather than when its worker starts.
func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and its stage tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			source := ctx.configPath
			if _, err := os.Stat(source); err != nil {
				source += " (missing; defaults in use)"
			}
			fmt.Fprintf(out, "Config path: %s\n", source)

			names := cfg.StageNames()
			rows := make([][]string, 0, len(names))
			var invalid int
			for _, name := range names {
				props, _ := cfg.StageProperties(name)
				sc, err := stage.ParseConfig(name, props, cfg.Worker)
				if err != nil {
					invalid++
					rows = append(rows, []string{name, "-", "-", err.Error()})
					continue
				}
				rows = append(rows, []string{name, sc.Type, strconv.Itoa(sc.Threads), "ok"})
			}
			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable([]string{"Stage", "Type", "Threads", "Status"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
			} else {
				fmt.Fprintln(out, "No stages configured")
			}
			if invalid > 0 {
				return fmt.Errorf("%d stage table(s) invalid", invalid)
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
