package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/document"
	"conveyor/internal/remote"
	"conveyor/internal/stage"
)

const defaultCLIStage = "cli"

func newDocCommand(ctx *commandContext) *cobra.Command {
	docCmd := &cobra.Command{
		Use:   "doc",
		Short: "Inspect and add documents",
	}
	docCmd.AddCommand(newDocShowCommand(ctx))
	docCmd.AddCommand(newDocAddCommand(ctx))
	return docCmd
}

func newDocShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an active or archived document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *remote.Client) error {
				resp, err := client.Document(cmd.Context(), id)
				if err != nil {
					return err
				}
				if resp == nil || resp.Document == nil {
					return fmt.Errorf("document %s not found", id)
				}
				if jsonOutput {
					return writeJSON(cmd, resp)
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				lines := renderSectionHeader("Document "+id, colorize)
				kind := statusInfo
				switch document.Status(resp.Status) {
				case document.StatusProcessed:
					kind = statusOK
				case document.StatusFailed:
					kind = statusError
				}
				lines = append(lines,
					renderStatusLine("Status", kind, resp.Status, colorize),
					renderStatusLine("Archived", statusInfo, yesNo(resp.Archived), colorize),
				)
				if resp.ArchivedAt != "" {
					lines = append(lines, renderStatusLine("Archived at", statusInfo, resp.ArchivedAt, colorize))
				}
				if len(resp.Files) > 0 {
					lines = append(lines, renderStatusLine("Files", statusInfo, strings.Join(resp.Files, ", "), colorize))
				}
				for stageName, message := range resp.Document.Errors() {
					lines = append(lines, renderStatusLine("Error "+stageName, statusError, message, colorize))
				}
				writeLines(out, lines)

				body, err := json.MarshalIndent(resp.Document, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, string(body))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newDocAddCommand(ctx *commandContext) *cobra.Command {
	var stageName string
	var idField string

	cmd := &cobra.Command{
		Use:   "add <file|->",
		Short: "Insert documents from a JSON object or array of objects",
		Long: "Reads one JSON object, or an array of them, and inserts each as a new\n" +
			"document touched by --stage. With --id-field, active documents carrying\n" +
			"the same value in that field are discarded first.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			contents, err := parseContents(data)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *remote.Client) error {
				p := client.Pipeline(stageName)
				out := cmd.OutOrStdout()
				for _, content := range contents {
					doc := document.NewWithContent(content)
					if idField != "" {
						discarded, err := stage.DiscardOld(cmd.Context(), p, idField, doc)
						if err != nil {
							return err
						}
						if discarded > 0 {
							fmt.Fprintf(out, "Discarded %d older document(s)\n", discarded)
						}
					}
					ok, err := p.Write(cmd.Context(), doc, false, true)
					if err != nil {
						return err
					}
					if !ok {
						return errors.New("node did not accept the document")
					}
					fmt.Fprintf(out, "Added document %s\n", doc.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", defaultCLIStage, "Stage name recorded as the writer")
	cmd.Flags().StringVar(&idField, "id-field", "", "Discard active documents with the same value in this field")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func parseContents(data []byte) ([]map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("input is empty")
	}
	if data[0] == '[' {
		var list []map[string]any
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parse document list: %w", err)
		}
		for i, item := range list {
			if item == nil {
				return nil, fmt.Errorf("document %d is not an object", i)
			}
		}
		return list, nil
	}
	var single map[string]any
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if single == nil {
		return nil, errors.New("document is not an object")
	}
	return []map[string]any{single}, nil
}
