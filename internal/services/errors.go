package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Markers classify failures across the node, the remote client and stage
// workers. Wrap attaches one; errors.Is recovers it.
var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrUnavailable   = errors.New("unavailable")
)

type marker struct {
	err    error
	kind   string
	status int
}

// markers is ordered: the first match wins when an error carries several.
var markers = []marker{
	{ErrValidation, "validation", http.StatusBadRequest},
	{ErrConfiguration, "configuration", http.StatusInternalServerError},
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrTimeout, "timeout", http.StatusInternalServerError},
	{ErrTransient, "transient", http.StatusInternalServerError},
	{ErrUnavailable, "unavailable", http.StatusInternalServerError},
}

func lookup(err error) (marker, bool) {
	if err == nil {
		return marker{}, false
	}
	for _, m := range markers {
		if errors.Is(err, m.err) {
			return m, true
		}
	}
	return marker{}, false
}

// Wrap tags err with mark and prefixes it with "where: operation: message".
// A nil mark is treated as ErrTransient.
func Wrap(mark error, where, operation, message string, err error) error {
	if mark == nil {
		mark = ErrTransient
	}
	detail := joinNonEmpty(where, operation, message)
	if detail == "" {
		detail = "service failure"
	}
	if err == nil {
		return fmt.Errorf("%w: %s", mark, detail)
	}
	return fmt.Errorf("%w: %s: %w", mark, detail, err)
}

// HTTPStatus maps a marked error onto the node's response codes.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if m, ok := lookup(err); ok {
		return m.status
	}
	return http.StatusInternalServerError
}

// Kind names the marker err carries, or returns "" when it carries none.
func Kind(err error) string {
	m, _ := lookup(err)
	return m.kind
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ": ")
}
