package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"conveyor/internal/document"
	"conveyor/internal/stage"
)

// Overwrite policies for the set stage.
const (
	policyAppend    = "append"
	policyOverwrite = "overwrite"
	policySkip      = "skip"
	policyFail      = "fail"
)

type setStage struct {
	fields map[string]any
	names  []string
	policy string
}

// newSet writes static values from the "fields" table. The "overwrite"
// parameter decides what happens when a field already has a value: append
// (default) turns it into a list, overwrite replaces it, skip leaves it and
// fail reports a processing error.
func newSet(cfg stage.Config, _ *slog.Logger) (stage.Stage, error) {
	fields, err := cfg.Params.Table("fields")
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errors.New("required parameter 'fields' is missing")
	}
	policy, err := cfg.Params.String("overwrite", policyAppend)
	if err != nil {
		return nil, err
	}
	switch policy {
	case policyAppend, policyOverwrite, policySkip, policyFail:
	default:
		return nil, fmt.Errorf("overwrite: unknown policy %q", policy)
	}
	names := stage.Params(fields).Keys()
	for _, name := range names {
		if err := document.ValidateName(name); err != nil {
			return nil, fmt.Errorf("fields: %w", err)
		}
	}
	return &setStage{fields: fields, names: names, policy: policy}, nil
}

func (s *setStage) Process(_ context.Context, doc *document.Document) (stage.Outcome, error) {
	for _, name := range s.names {
		value := s.fields[name]
		existing, has := doc.Get(name)
		if !has {
			doc.Put(name, value)
			continue
		}
		switch s.policy {
		case policyOverwrite:
			doc.Put(name, value)
		case policySkip:
		case policyFail:
			return stage.Continue, fmt.Errorf("field %s already has a value", name)
		case policyAppend:
			doc.Put(name, appendValue(existing, value))
		}
	}
	return stage.Continue, nil
}

func appendValue(existing, value any) any {
	list, ok := existing.([]any)
	if !ok {
		list = []any{existing}
	} else {
		list = append([]any(nil), list...)
	}
	if more, ok := value.([]any); ok {
		return append(list, more...)
	}
	return append(list, value)
}
