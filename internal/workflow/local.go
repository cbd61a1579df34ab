package workflow

import (
	"context"
	"errors"
	"maps"
	"time"

	"conveyor/internal/document"
	"conveyor/internal/store"
)

// LocalPipeline is a stage.Pipeline backed directly by an open store.
type LocalPipeline struct {
	store             *store.Store
	stage             string
	props             map[string]any
	recurringInterval time.Duration
}

// NewLocalPipeline binds st to stageName. props is served from Properties and
// recurringInterval applies to recurring claims.
func NewLocalPipeline(st *store.Store, stageName string, props map[string]any, recurringInterval time.Duration) *LocalPipeline {
	return &LocalPipeline{
		store:             st,
		stage:             stageName,
		props:             maps.Clone(props),
		recurringInterval: recurringInterval,
	}
}

func (p *LocalPipeline) Stage() string { return p.stage }

func (p *LocalPipeline) Claim(ctx context.Context, q document.Query, recurring bool) (*document.Document, error) {
	if recurring {
		return p.store.ClaimRecurring(ctx, q, p.recurringInterval, p.stage)
	}
	return p.store.Claim(ctx, q, p.stage)
}

func (p *LocalPipeline) Write(ctx context.Context, doc *document.Document, partial, release bool) (bool, error) {
	if doc == nil {
		return false, errors.New("document is nil")
	}
	if doc.ID == "" {
		stored, err := p.store.Insert(ctx, doc)
		if err != nil {
			return false, err
		}
		doc.ID = stored.ID
	} else {
		ok, err := p.store.Update(ctx, doc, partial)
		if err != nil || !ok {
			return ok, err
		}
	}
	if !release {
		return true, nil
	}
	return p.store.Touch(ctx, doc.ID, p.stage)
}

func (p *LocalPipeline) Release(ctx context.Context, doc *document.Document) (bool, error) {
	if doc == nil {
		return false, store.ErrMissingID
	}
	return p.store.Touch(ctx, doc.ID, p.stage)
}

func (p *LocalPipeline) MarkProcessed(ctx context.Context, doc *document.Document) (bool, error) {
	return p.store.MarkProcessed(ctx, doc, p.stage)
}

func (p *LocalPipeline) MarkDiscarded(ctx context.Context, doc *document.Document) (bool, error) {
	return p.store.MarkDiscarded(ctx, doc, p.stage)
}

func (p *LocalPipeline) MarkFailed(ctx context.Context, doc *document.Document) (bool, error) {
	return p.store.MarkFailed(ctx, doc, p.stage)
}

func (p *LocalPipeline) MarkPending(ctx context.Context, doc *document.Document) (bool, error) {
	return p.store.MarkPending(ctx, doc, p.stage)
}

func (p *LocalPipeline) Properties(context.Context) (map[string]any, error) {
	return maps.Clone(p.props), nil
}
