package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"conveyor/internal/document"
	"conveyor/internal/logging"
	"conveyor/internal/stage"
)

type removeStage struct {
	patterns []*regexp.Regexp
	logger   *slog.Logger
}

// newRemove deletes every content field whose whole name matches one of the
// "fields" regular expressions.
func newRemove(cfg stage.Config, logger *slog.Logger) (stage.Stage, error) {
	exprs, err := cfg.Params.Strings("fields")
	if err != nil {
		return nil, err
	}
	if len(exprs) == 0 {
		return nil, errors.New("required parameter 'fields' is missing")
	}
	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(`^(?:` + expr + `)$`)
		if err != nil {
			return nil, fmt.Errorf("fields: %w", err)
		}
		patterns = append(patterns, re)
	}
	return &removeStage{patterns: patterns, logger: logger}, nil
}

func (s *removeStage) Process(_ context.Context, doc *document.Document) (stage.Outcome, error) {
	for _, field := range doc.ContentFields() {
		for _, re := range s.patterns {
			if re.MatchString(field) {
				doc.Remove(field)
				s.logger.Debug("removed field", logging.String("field", field), logging.String("pattern", re.String()))
				break
			}
		}
	}
	return stage.Continue, nil
}
