package document

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type wireDocument struct {
	ID       string         `json:"_id,omitempty"`
	Action   Action         `json:"_action,omitempty"`
	Contents map[string]any `json:"contents"`
	Metadata map[string]any `json:"metadata"`
}

// MarshalJSON encodes the node wire format.
func (d Document) MarshalJSON() ([]byte, error) {
	w := wireDocument{ID: d.ID, Action: d.Action, Contents: d.Content, Metadata: d.Metadata}
	if w.Contents == nil {
		w.Contents = map[string]any{}
	}
	if w.Metadata == nil {
		w.Metadata = map[string]any{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the node wire format. Null fields are dropped.
func (d *Document) UnmarshalJSON(data []byte) error {
	return d.decode(data, false)
}

func (d *Document) decode(data []byte, keepNulls bool) error {
	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	action, err := ParseAction(string(w.Action))
	if err != nil {
		return err
	}
	*d = Document{ID: w.ID, Action: action, Content: w.Contents, Metadata: w.Metadata}
	d.ensure()
	if !keepNulls {
		StripNulls(d.Content)
		StripNulls(d.Metadata)
	}
	return nil
}

// Decode parses a wire document, rejecting empty bodies.
func Decode(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty document body")
	}
	doc := New()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// DecodePatch parses a wire document for a partial write. Null content
// fields survive so the store can delete them.
func DecodePatch(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty document body")
	}
	doc := New()
	if err := doc.decode(data, true); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// DecodeFields parses a stored JSON object column.
func DecodeFields(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
