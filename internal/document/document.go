package document

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Action is an opaque hint carried for downstream consumers.
type Action string

const (
	ActionAdd    Action = "ADD"
	ActionDelete Action = "DELETE"
	ActionUpdate Action = "UPDATE"
)

// ParseAction validates a wire action. The empty string means no action.
func ParseAction(value string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(value))) {
	case "":
		return "", nil
	case ActionAdd:
		return ActionAdd, nil
	case ActionDelete:
		return ActionDelete, nil
	case ActionUpdate:
		return ActionUpdate, nil
	default:
		return "", fmt.Errorf("unknown action %q", value)
	}
}

// Status is derived from metadata in priority order: failed, discarded,
// pending, processed, processing.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusPending    Status = "PENDING"
	StatusDiscarded  Status = "DISCARDED"
	StatusFailed     Status = "FAILED"
)

// Metadata keys owned by the engine.
const (
	KeyFetched   = "fetched"
	KeyTouched   = "touched"
	KeyErrors    = "error"
	KeyPending   = "pending"
	KeyProcessed = "processed"
	KeyDiscarded = "discarded"
	KeyFailed    = "failed"
	KeyStage     = "stage"
	KeyDate      = "date"
)

// RemovedMarker replaces a content field dropped to fit the archive size limit.
const RemovedMarker = "<Removed>"

// Document is a content map plus engine metadata. The zero value is not
// usable; call New.
type Document struct {
	ID       string
	Action   Action
	Content  map[string]any
	Metadata map[string]any
}

// New returns an empty document without an identity.
func New() *Document {
	return &Document{Content: map[string]any{}, Metadata: map[string]any{}}
}

// NewWithContent returns a document seeded with a copy of content. Nil values
// are dropped.
func NewWithContent(content map[string]any) *Document {
	doc := New()
	for k, v := range content {
		doc.Put(k, v)
	}
	return doc
}

func (d *Document) ensure() {
	if d.Content == nil {
		d.Content = map[string]any{}
	}
	if d.Metadata == nil {
		d.Metadata = map[string]any{}
	}
}

// Get returns a content field.
func (d *Document) Get(field string) (any, bool) {
	v, ok := d.Content[field]
	return v, ok
}

// GetString returns a content field formatted as text.
func (d *Document) GetString(field string) (string, bool) {
	v, ok := d.Content[field]
	if !ok {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Has reports whether a content field is present.
func (d *Document) Has(field string) bool {
	_, ok := d.Content[field]
	return ok
}

// Put sets a content field; nil deletes it.
func (d *Document) Put(field string, value any) {
	d.ensure()
	if value == nil {
		delete(d.Content, field)
		return
	}
	d.Content[field] = value
}

// Remove deletes a content field.
func (d *Document) Remove(field string) {
	delete(d.Content, field)
}

// ContentFields returns the content field names in sorted order.
func (d *Document) ContentFields() []string {
	names := make([]string, 0, len(d.Content))
	for k := range d.Content {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// PutMetadata sets a metadata field; nil deletes it.
func (d *Document) PutMetadata(field string, value any) {
	d.ensure()
	if value == nil {
		delete(d.Metadata, field)
		return
	}
	d.Metadata[field] = value
}

// HasMetadata reports whether a metadata field is present.
func (d *Document) HasMetadata(field string) bool {
	_, ok := d.Metadata[field]
	return ok
}

// Status derives the lifecycle status from metadata.
func (d *Document) Status() Status {
	switch {
	case d.HasMetadata(KeyFailed):
		return StatusFailed
	case d.HasMetadata(KeyDiscarded):
		return StatusDiscarded
	case d.HasMetadata(KeyPending):
		return StatusPending
	case d.HasMetadata(KeyProcessed):
		return StatusProcessed
	default:
		return StatusProcessing
	}
}

// FetchedBy returns stage name to claim time.
func (d *Document) FetchedBy() map[string]time.Time {
	return d.stamps(KeyFetched)
}

// TouchedBy returns stage name to hand-off time.
func (d *Document) TouchedBy() map[string]time.Time {
	return d.stamps(KeyTouched)
}

// Fetched reports whether stage has claimed the document.
func (d *Document) Fetched(stage string) (time.Time, bool) {
	t, ok := d.FetchedBy()[stage]
	return t, ok
}

// Touched reports whether stage has handed the document on.
func (d *Document) Touched(stage string) (time.Time, bool) {
	t, ok := d.TouchedBy()[stage]
	return t, ok
}

// SetFetched stamps a claim for stage.
func (d *Document) SetFetched(stage string, at time.Time) {
	d.setStamp(KeyFetched, stage, at)
}

// SetTouched stamps a hand-off for stage.
func (d *Document) SetTouched(stage string, at time.Time) {
	d.setStamp(KeyTouched, stage, at)
}

func (d *Document) stamps(key string) map[string]time.Time {
	out := map[string]time.Time{}
	raw, ok := d.Metadata[key].(map[string]any)
	if !ok {
		return out
	}
	for stage, v := range raw {
		if ms, ok := Millis(v); ok {
			out[stage] = time.UnixMilli(ms)
		}
	}
	return out
}

func (d *Document) setStamp(key, stage string, at time.Time) {
	d.ensure()
	raw, ok := d.Metadata[key].(map[string]any)
	if !ok {
		raw = map[string]any{}
		d.Metadata[key] = raw
	}
	raw[stage] = at.UnixMilli()
}

// Errors returns stage name to error text.
func (d *Document) Errors() map[string]string {
	out := map[string]string{}
	raw, ok := d.Metadata[KeyErrors].(map[string]any)
	if !ok {
		return out
	}
	for stage, v := range raw {
		out[stage] = fmt.Sprint(v)
	}
	return out
}

// AddError records message as stage's error, replacing any previous one.
func (d *Document) AddError(stage, message string) {
	d.ensure()
	raw, ok := d.Metadata[KeyErrors].(map[string]any)
	if !ok {
		raw = map[string]any{}
		d.Metadata[KeyErrors] = raw
	}
	raw[stage] = message
}

// Marker is the {stage, date} stamp written under a terminal or pending key.
type Marker struct {
	Stage string
	Date  time.Time
}

// NewMarker builds the metadata value for a terminal or pending stamp.
func NewMarker(stage string, at time.Time) map[string]any {
	return map[string]any{KeyStage: stage, KeyDate: at.UnixMilli()}
}

// MarkerFor returns the stamp stored under key, if any.
func (d *Document) MarkerFor(key string) (Marker, bool) {
	raw, ok := d.Metadata[key].(map[string]any)
	if !ok {
		return Marker{}, false
	}
	var m Marker
	m.Stage, _ = raw[KeyStage].(string)
	if ms, ok := Millis(raw[KeyDate]); ok {
		m.Date = time.UnixMilli(ms)
	}
	return m, true
}

// Millis converts a decoded timestamp value into unix milliseconds.
func Millis(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case interface{ Int64() (int64, error) }:
		ms, err := n.Int64()
		return ms, err == nil
	default:
		return 0, false
	}
}
