package main

import (
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"conveyor/internal/api"
	"conveyor/internal/remote"
)

func newArchiveCommand(ctx *commandContext) *cobra.Command {
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect the archive of finished documents",
	}
	archiveCmd.AddCommand(newArchiveTailCommand(ctx))
	return archiveCmd
}

func newArchiveTailCommand(ctx *commandContext) *cobra.Command {
	var after int64
	var limit int
	var follow bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "List archived documents in archive order",
		Long: "Lists archive entries after the given sequence number. With --follow the\n" +
			"command keeps waiting for new entries until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				limit = 100
			}
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return ctx.withClient(func(client *remote.Client) error {
				out := cmd.OutOrStdout()
				var collected []api.ArchiveEntry
				cursor := after
				for {
					page, err := client.Archive(runCtx, cursor, limit, follow)
					if err != nil {
						if follow && runCtx.Err() != nil {
							return nil
						}
						return err
					}
					cursor = page.Next
					if follow {
						if err := printArchiveEntries(cmd, out, page.Entries, jsonOutput); err != nil {
							return err
						}
						continue
					}
					collected = append(collected, page.Entries...)
					if len(page.Entries) < limit {
						break
					}
				}

				if jsonOutput {
					return writeJSON(cmd, api.ArchiveResponse{Entries: collected, Next: cursor})
				}
				if len(collected) == 0 {
					fmt.Fprintln(out, "Archive is empty")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Seq", "Archived", "Status", "Document"},
					archiveRows(collected),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&after, "after", 0, "Only list entries after this sequence number")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Entries per request")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Wait for new entries")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func printArchiveEntries(cmd *cobra.Command, out io.Writer, entries []api.ArchiveEntry, jsonOutput bool) error {
	for _, entry := range entries {
		if jsonOutput {
			if err := writeJSON(cmd, entry); err != nil {
				return err
			}
			continue
		}
		row := archiveRows([]api.ArchiveEntry{entry})[0]
		fmt.Fprintf(out, "%8s  %s  %-9s  %s\n", row[0], row[1], row[2], row[3])
	}
	return nil
}

func archiveRows(entries []api.ArchiveEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		id := ""
		if entry.Document != nil {
			id = entry.Document.ID
		}
		rows = append(rows, []string{
			strconv.FormatInt(entry.Seq, 10),
			entry.ArchivedAt,
			entry.Status,
			id,
		})
	}
	return rows
}
