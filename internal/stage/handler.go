package stage

import (
	"context"

	"conveyor/internal/document"
)

// Outcome tells the runtime how to persist a document after Process returns.
type Outcome int

const (
	// Continue writes the changes back to the active set and releases the
	// document for downstream stages.
	Continue Outcome = iota
	// Processed archives the document as successfully delivered.
	Processed
	// Discarded archives the document as intentionally dropped.
	Discarded
	// Rejected archives the document as failed; the returned error is the reason.
	Rejected
	// Pending writes the changes and flags the document as about to complete.
	Pending
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Processed:
		return "processed"
	case Discarded:
		return "discarded"
	case Rejected:
		return "rejected"
	case Pending:
		return "pending"
	default:
		return "unknown"
	}
}

// Stage is the single capability every stage implements. Process owns doc
// for the duration of the call and may mutate it freely.
type Stage interface {
	Process(ctx context.Context, doc *document.Document) (Outcome, error)
}

// Func adapts a function to the Stage interface.
type Func func(ctx context.Context, doc *document.Document) (Outcome, error)

// Process calls f.
func (f Func) Process(ctx context.Context, doc *document.Document) (Outcome, error) {
	return f(ctx, doc)
}

// HealthChecker is implemented by stages that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// Closer is implemented by stages holding resources released on shutdown.
type Closer interface {
	Close() error
}
