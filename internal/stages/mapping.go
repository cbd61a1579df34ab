package stages

import (
	"context"
	"log/slog"

	"conveyor/internal/document"
	"conveyor/internal/logging"
	"conveyor/internal/stage"
)

// mappingStage applies fn to every present from-field of its mapping.
type mappingStage struct {
	mapping stage.Mapping
	fn      func(doc *document.Document, from, to string) error
}

func (s *mappingStage) Process(_ context.Context, doc *document.Document) (stage.Outcome, error) {
	if err := s.mapping.Apply(doc, s.fn); err != nil {
		return stage.Continue, err
	}
	return stage.Continue, nil
}

func parseMapping(cfg stage.Config) (stage.Mapping, error) {
	raw, err := cfg.Params.StringMap("mapping")
	if err != nil {
		return nil, err
	}
	return stage.NewMapping(raw)
}

// newCopy copies each from-field's value into its to-field.
func newCopy(cfg stage.Config, logger *slog.Logger) (stage.Stage, error) {
	m, err := parseMapping(cfg)
	if err != nil {
		return nil, err
	}
	return &mappingStage{mapping: m, fn: func(doc *document.Document, from, to string) error {
		v, _ := doc.Get(from)
		doc.Put(to, cloneJSON(v))
		logger.Debug("copied field", logging.String("from", from), logging.String("to", to))
		return nil
	}}, nil
}

// newRename moves each from-field's value into its to-field.
func newRename(cfg stage.Config, logger *slog.Logger) (stage.Stage, error) {
	m, err := parseMapping(cfg)
	if err != nil {
		return nil, err
	}
	return &mappingStage{mapping: m, fn: func(doc *document.Document, from, to string) error {
		if from == to {
			return nil
		}
		v, _ := doc.Get(from)
		doc.Put(to, v)
		doc.Remove(from)
		logger.Debug("renamed field", logging.String("from", from), logging.String("to", to))
		return nil
	}}, nil
}

func cloneJSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return document.NewWithContent(val).Clone().Content
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneJSON(item)
		}
		return out
	default:
		return val
	}
}
