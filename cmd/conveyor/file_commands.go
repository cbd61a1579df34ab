package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/remote"
	"conveyor/internal/store"
)

func newFileCommand(ctx *commandContext) *cobra.Command {
	var stageName string

	fileCmd := &cobra.Command{
		Use:   "file",
		Short: "Manage files attached to active documents",
	}
	fileCmd.PersistentFlags().StringVar(&stageName, "stage", defaultCLIStage, "Stage name recorded on the request")

	fileCmd.AddCommand(newFileListCommand(ctx, &stageName))
	fileCmd.AddCommand(newFileGetCommand(ctx, &stageName))
	fileCmd.AddCommand(newFilePutCommand(ctx, &stageName))
	fileCmd.AddCommand(newFileRemoveCommand(ctx, &stageName))
	return fileCmd
}

func newFileListCommand(ctx *commandContext, stageName *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list <doc-id>",
		Short: "List a document's files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *remote.Client) error {
				names, err := client.FileNames(cmd.Context(), *stageName, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(names) == 0 {
					fmt.Fprintln(out, "No files")
					return nil
				}
				for _, name := range names {
					fmt.Fprintln(out, name)
				}
				return nil
			})
		},
	}
}

func newFileGetCommand(ctx *commandContext, stageName *string) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <doc-id> <name>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *remote.Client) error {
				a, err := client.File(cmd.Context(), *stageName, args[0], args[1])
				if err != nil {
					return err
				}
				if a == nil {
					return fmt.Errorf("no file named %s on document %s", args[1], args[0])
				}
				if output == "" || output == "-" {
					_, err := cmd.OutOrStdout().Write(a.Data)
					return err
				}
				if err := os.WriteFile(output, a.Data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%s, saved by %s)\n", output, formatBytes(int64(len(a.Data))), a.SavedByStage)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this path instead of stdout")
	return cmd
}

func newFilePutCommand(ctx *commandContext, stageName *string) *cobra.Command {
	var name string
	var mimeType string

	cmd := &cobra.Command{
		Use:   "put <doc-id> <path>",
		Short: "Attach a file to an active document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[1], err)
			}
			if strings.TrimSpace(name) == "" {
				name = filepath.Base(args[1])
			}
			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(args[1]))
			}
			a := &store.Attachment{
				DocumentID: args[0],
				FileName:   name,
				MimeType:   mimeType,
				Data:       data,
			}
			return ctx.withClient(func(client *remote.Client) error {
				if err := client.SaveFile(cmd.Context(), *stageName, a); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s on document %s\n", name, args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "File name (defaults to the base name of path)")
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "MIME type (guessed from the extension by default)")
	return cmd
}

func newFileRemoveCommand(ctx *commandContext, stageName *string) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <doc-id> <name>",
		Aliases: []string{"remove"},
		Short:   "Delete a file",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *remote.Client) error {
				ok, err := client.DeleteFile(cmd.Context(), *stageName, args[0], args[1])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no file named %s on document %s", args[1], args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[1])
				return nil
			})
		},
	}
}
