package stage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"conveyor/internal/document"
	"conveyor/internal/services"
)

// DiscardOld archives as discarded every active document whose idField
// equals the value on doc. Input stages call it before writing a fresh copy
// of a source record so only the newest version flows downstream. It returns
// how many documents were discarded.
func DiscardOld(ctx context.Context, p Pipeline, idField string, doc *document.Document) (int, error) {
	if idField == "" {
		return 0, services.Wrap(services.ErrConfiguration, p.Stage(), "discard old",
			"input stage is set to discard old documents but no id field is configured", nil)
	}
	value, ok := doc.Get(idField)
	if !ok {
		return 0, services.Wrap(services.ErrValidation, p.Stage(), "discard old",
			fmt.Sprintf("document has no %q field", idField), nil)
	}
	q := document.NewQuery().Equals(idField, value)

	discarded := 0
	for {
		if err := ctx.Err(); err != nil {
			return discarded, err
		}
		old, err := p.Claim(ctx, q, false)
		if err != nil {
			return discarded, fmt.Errorf("claim old document: %w", err)
		}
		if old == nil {
			return discarded, nil
		}
		ok, err := p.MarkDiscarded(ctx, old)
		if err != nil {
			return discarded, fmt.Errorf("discard old document %s: %w", old.ID, err)
		}
		if ok {
			discarded++
		}
	}
}

// Output adapts a delivery function into an output stage: documents are
// archived as processed when write succeeds and rejected (failed) with the
// returned reason otherwise.
func Output(write func(ctx context.Context, doc *document.Document) error) Stage {
	return Func(func(ctx context.Context, doc *document.Document) (Outcome, error) {
		if err := write(ctx, doc); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Continue, err
			}
			return Rejected, err
		}
		return Processed, nil
	})
}

// Mapping is a from-field to to-field table for stages that act on pairs of
// fields.
type Mapping map[string]string

// NewMapping validates a mapping table. An empty table is a configuration
// error.
func NewMapping(raw map[string]string) (Mapping, error) {
	if len(raw) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "", "field mapping",
			"required parameter 'mapping' is missing or empty", nil)
	}
	for from, to := range raw {
		if err := document.ValidateName(from); err != nil {
			return nil, fmt.Errorf("mapping: %w", err)
		}
		if err := document.ValidateName(to); err != nil {
			return nil, fmt.Errorf("mapping.%s: %w", from, err)
		}
	}
	out := make(Mapping, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out, nil
}

// Apply calls fn for every mapped pair whose from-field is present on doc,
// in from-field order.
func (m Mapping) Apply(doc *document.Document, fn func(doc *document.Document, from, to string) error) error {
	froms := make([]string, 0, len(m))
	for from := range m {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		if !doc.Has(from) {
			continue
		}
		if err := fn(doc, from, m[from]); err != nil {
			return err
		}
	}
	return nil
}
