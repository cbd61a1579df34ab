package logging

import (
	"context"
	"log/slog"

	"conveyor/internal/services"
)

const (
	FieldComponent  = "component"
	FieldDocumentID = "doc_id"
	FieldStage      = "stage"
	// FieldWorker is the worker slot within a stage process.
	FieldWorker = "worker"
	// FieldCorrelationID carries the node's X-Request-ID.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies WARN/ERROR lines for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to look at next.
	FieldErrorHint = "error_hint"
	// FieldImpact says what happens to the pipeline because of a warning.
	FieldImpact = "impact"
)

// ContextFields returns the scope attributes carried by ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	scope := services.ScopeFrom(ctx)
	var fields []slog.Attr
	if scope.DocumentID != "" {
		fields = append(fields, DocumentID(scope.DocumentID))
	}
	if scope.Stage != "" {
		fields = append(fields, Stage(scope.Stage))
	}
	if scope.HasWorker {
		fields = append(fields, slog.Int(FieldWorker, scope.Worker))
	}
	if scope.RequestID != "" {
		fields = append(fields, slog.String(FieldCorrelationID, scope.RequestID))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
