package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"conveyor/internal/document"
	"conveyor/internal/logging"
	"conveyor/internal/stage"
)

// newLog is an output stage that writes each document to the log and
// archives it as processed. "fields" limits the logged content.
func newLog(cfg stage.Config, logger *slog.Logger) (stage.Stage, error) {
	fields, err := cfg.Params.Strings("fields")
	if err != nil {
		return nil, err
	}
	return stage.Output(func(_ context.Context, doc *document.Document) error {
		content := doc.Content
		if len(fields) > 0 {
			content = make(map[string]any, len(fields))
			for _, f := range fields {
				if v, ok := doc.Get(f); ok {
					content[f] = v
				}
			}
		}
		encoded, err := json.Marshal(content)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		logger.Info("document delivered",
			logging.Event("document_output"),
			logging.DocumentID(doc.ID),
			logging.String("content", string(encoded)),
		)
		return nil
	}), nil
}
