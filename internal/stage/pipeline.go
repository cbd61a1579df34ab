package stage

import (
	"context"

	"conveyor/internal/document"
)

// Pipeline is a stage's view of the document store. Every call acts on behalf
// of the stage the pipeline was created for: claims tag with its name,
// releases stamp touched by it and transitions record it.
//
// Methods returning bool report false when the document is no longer active.
type Pipeline interface {
	// Stage returns the name requests are made for.
	Stage() string
	// Claim returns the next matching document not yet fetched by this
	// stage, or nil when none is available.
	Claim(ctx context.Context, q document.Query, recurring bool) (*document.Document, error)
	// Write inserts doc when it has no id (assigning one) and updates it
	// otherwise. With partial set only the supplied content fields change.
	// With release set the document is also marked touched by this stage.
	Write(ctx context.Context, doc *document.Document, partial, release bool) (bool, error)
	Release(ctx context.Context, doc *document.Document) (bool, error)
	MarkProcessed(ctx context.Context, doc *document.Document) (bool, error)
	MarkDiscarded(ctx context.Context, doc *document.Document) (bool, error)
	MarkFailed(ctx context.Context, doc *document.Document) (bool, error)
	MarkPending(ctx context.Context, doc *document.Document) (bool, error)
	// Properties returns the stage's configured property table.
	Properties(ctx context.Context) (map[string]any, error)
}
