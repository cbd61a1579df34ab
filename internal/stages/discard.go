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

type discardRule struct {
	field string
	re    *regexp.Regexp
}

type discardStage struct {
	rules  []discardRule
	logger *slog.Logger
}

// newDiscard drops documents whose field value (or any string element of a
// list value) fully matches a rule's regular expression. Rules come from
// the "rules" list of {field, regex} tables. Without rules every document
// the stage claims is discarded, so the stage query alone does the
// selection.
func newDiscard(cfg stage.Config, logger *slog.Logger) (stage.Stage, error) {
	raw, ok := cfg.Params["rules"]
	s := &discardStage{logger: logger}
	if !ok || raw == nil {
		return s, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("rules: expected a list, got %T", raw)
	}
	for i, item := range list {
		table, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rules[%d]: expected a table, got %T", i, item)
		}
		p := stage.Params(table)
		field, err := p.RequiredString("field")
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		expr, err := p.RequiredString("regex")
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		re, err := regexp.Compile(`(?s)^(?:` + expr + `)$`)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		s.rules = append(s.rules, discardRule{field: field, re: re})
	}
	if len(s.rules) == 0 {
		return nil, errors.New("rules: list is empty")
	}
	return s, nil
}

func (s *discardStage) Process(_ context.Context, doc *document.Document) (stage.Outcome, error) {
	if len(s.rules) == 0 {
		return stage.Discarded, nil
	}
	for _, rule := range s.rules {
		if rule.matches(doc) {
			s.logger.Debug("discarding document",
				logging.DocumentID(doc.ID),
				logging.String("field", rule.field),
			)
			return stage.Discarded, nil
		}
	}
	return stage.Continue, nil
}

func (r discardRule) matches(doc *document.Document) bool {
	v, ok := doc.Get(r.field)
	if !ok {
		return false
	}
	switch val := v.(type) {
	case string:
		return r.re.MatchString(val)
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok && r.re.MatchString(s) {
				return true
			}
		}
	}
	return false
}
