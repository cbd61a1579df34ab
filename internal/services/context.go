package services

import "context"

// Scope is what a request or stage worker is currently acting on. It rides
// the context as a single value so each With* call copies one small struct.
type Scope struct {
	DocumentID string
	Stage      string
	Worker     int
	HasWorker  bool
	RequestID  string
}

type scopeKey struct{}

// ScopeFrom returns the scope carried by ctx, or the zero Scope.
func ScopeFrom(ctx context.Context) Scope {
	if ctx == nil {
		return Scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

func withScope(ctx context.Context, edit func(*Scope)) context.Context {
	s := ScopeFrom(ctx)
	edit(&s)
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithDocumentID records the document being handled. Empty ids are ignored.
func WithDocumentID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return withScope(ctx, func(s *Scope) { s.DocumentID = id })
}

func DocumentIDFromContext(ctx context.Context) (string, bool) {
	id := ScopeFrom(ctx).DocumentID
	return id, id != ""
}

// WithStage records the stage name. Empty names are ignored.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return withScope(ctx, func(s *Scope) { s.Stage = stage })
}

func StageFromContext(ctx context.Context) (string, bool) {
	stage := ScopeFrom(ctx).Stage
	return stage, stage != ""
}

// WithWorker records the worker slot within a stage process.
func WithWorker(ctx context.Context, worker int) context.Context {
	return withScope(ctx, func(s *Scope) { s.Worker, s.HasWorker = worker, true })
}

func WorkerFromContext(ctx context.Context) (int, bool) {
	s := ScopeFrom(ctx)
	return s.Worker, s.HasWorker
}

// WithRequestID records the HTTP request correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return withScope(ctx, func(s *Scope) { s.RequestID = id })
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	id := ScopeFrom(ctx).RequestID
	return id, id != ""
}
