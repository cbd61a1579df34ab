package main

import (
	"errors"

	"github.com/spf13/cobra"

	"conveyor/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the data directory, node and stage configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			checked := *cfg
			checked.Node.URL = ctx.nodeURL()

			results := preflight.RunAll(cmd.Context(), &checked)
			out := cmd.OutOrStdout()
			writeLines(out, checkLines(results, shouldColorize(out)))
			if preflight.Failed(results) {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}
}
