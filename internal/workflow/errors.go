package workflow

import "errors"

var (
	// ErrProcessingTimeout reports a stage that overran its processing
	// timeout. The document has been failed and the worker escalates.
	ErrProcessingTimeout = errors.New("processing timeout")
	// ErrStoreUnavailable reports a worker that could not fetch documents
	// after the configured number of consecutive attempts.
	ErrStoreUnavailable = errors.New("document store unavailable")

	errAbandoned = errors.New("document abandoned at shutdown")
)
