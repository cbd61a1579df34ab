package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"conveyor/internal/document"
	"conveyor/internal/stage"
)

type caseStage struct {
	fields []string
	target string
	// Casers are stateful, so each call gets its own.
	caser func() cases.Caser
}

// newCase rewrites string fields in upper, lower or title case using the
// rules of the configured "language" (BCP 47, default und). A single
// "field" may be written to a different "target".
func newCase(cfg stage.Config, _ *slog.Logger) (stage.Stage, error) {
	fields, err := cfg.Params.Strings("fields")
	if err != nil {
		return nil, err
	}
	if single, err := cfg.Params.String("field", ""); err != nil {
		return nil, err
	} else if single != "" {
		fields = append(fields, single)
	}
	if len(fields) == 0 {
		return nil, errors.New("required parameter 'field' or 'fields' is missing")
	}
	target, err := cfg.Params.String("target", "")
	if err != nil {
		return nil, err
	}
	if target != "" && len(fields) != 1 {
		return nil, errors.New("'target' requires exactly one source field")
	}

	lang, err := cfg.Params.String("language", "und")
	if err != nil {
		return nil, err
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return nil, fmt.Errorf("language: %w", err)
	}
	mode, err := cfg.Params.String("mode", "lower")
	if err != nil {
		return nil, err
	}
	var caser func() cases.Caser
	switch mode {
	case "upper":
		caser = func() cases.Caser { return cases.Upper(tag) }
	case "lower":
		caser = func() cases.Caser { return cases.Lower(tag) }
	case "title":
		caser = func() cases.Caser { return cases.Title(tag) }
	default:
		return nil, fmt.Errorf("mode: unknown case mode %q", mode)
	}
	return &caseStage{fields: fields, target: target, caser: caser}, nil
}

func (s *caseStage) Process(_ context.Context, doc *document.Document) (stage.Outcome, error) {
	caser := s.caser()
	for _, field := range s.fields {
		v, ok := doc.Get(field)
		if !ok {
			continue
		}
		out := field
		if s.target != "" {
			out = s.target
		}
		switch val := v.(type) {
		case string:
			doc.Put(out, caser.String(val))
		case []any:
			converted := make([]any, len(val))
			for i, item := range val {
				if str, ok := item.(string); ok {
					converted[i] = caser.String(str)
				} else {
					converted[i] = item
				}
			}
			doc.Put(out, converted)
		}
	}
	return stage.Continue, nil
}
