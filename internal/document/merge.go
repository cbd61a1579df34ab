package document

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{ID: d.ID, Action: d.Action}
	out.Content, _ = cloneValue(d.Content).(map[string]any)
	out.Metadata, _ = cloneValue(d.Metadata).(map[string]any)
	out.ensure()
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return map[string]any{}
		}
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return val
	}
}

// Merge applies other's fields on top of d. Content is replaced field by
// field; metadata is merged recursively so per-stage maps (errors, stamps)
// accumulate. Nil values delete. Identity is never changed by a merge.
func (d *Document) Merge(other *Document) {
	if other == nil {
		return
	}
	d.ensure()
	for k, v := range other.Content {
		d.Put(k, cloneValue(v))
	}
	MergePatch(d.Metadata, other.Metadata)
	if other.Action != "" {
		d.Action = other.Action
	}
}

// MergePatch applies patch to target following JSON merge-patch rules: nested
// objects merge, nil deletes, anything else replaces.
func MergePatch(target, patch map[string]any) {
	for k, v := range patch {
		if v == nil {
			delete(target, k)
			continue
		}
		child, isObject := v.(map[string]any)
		if !isObject {
			target[k] = cloneValue(v)
			continue
		}
		existing, ok := target[k].(map[string]any)
		if !ok {
			existing = map[string]any{}
			target[k] = existing
		}
		MergePatch(existing, child)
	}
}

// StripNulls removes nil values recursively from maps.
func StripNulls(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			delete(m, k)
		case map[string]any:
			StripNulls(val)
		}
	}
}

// Size returns the encoded size of content plus metadata in bytes.
func (d *Document) Size() int {
	content, _ := json.Marshal(d.Content)
	metadata, _ := json.Marshal(d.Metadata)
	return len(content) + len(metadata)
}

// LargestField returns the content field with the biggest encoded value.
// Ties break on field name so the choice is stable.
func (d *Document) LargestField() (string, int) {
	names := make([]string, 0, len(d.Content))
	for k := range d.Content {
		names = append(names, k)
	}
	sort.Strings(names)

	var (
		largest string
		size    = -1
	)
	for _, name := range names {
		encoded, err := json.Marshal(d.Content[name])
		if err != nil {
			continue
		}
		if len(encoded) > size {
			largest, size = name, len(encoded)
		}
	}
	return largest, size
}

// RemoveLargestField replaces the largest content value with RemovedMarker
// and returns the field name.
func (d *Document) RemoveLargestField() (string, bool) {
	name, size := d.LargestField()
	if size < 0 {
		return "", false
	}
	d.Content[name] = RemovedMarker
	return name, true
}

// ValuesEqual compares two decoded values by their JSON encoding, so 1 and
// 1.0 are equal and map key order is irrelevant.
func ValuesEqual(a, b any) bool {
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

// ContentEqual reports whether two documents carry the same content.
func ContentEqual(a, b *Document) bool {
	return ValuesEqual(a.Content, b.Content)
}

// Changes returns a partial document holding what after changed relative to
// before: new or modified content fields, nil for removed ones, and the
// metadata keys that differ. Identity and action are copied from after.
func Changes(before, after *Document) *Document {
	out := &Document{ID: after.ID, Action: after.Action, Content: map[string]any{}, Metadata: map[string]any{}}
	for k, v := range after.Content {
		if old, ok := before.Content[k]; !ok || !ValuesEqual(old, v) {
			out.Content[k] = cloneValue(v)
		}
	}
	for k := range before.Content {
		if _, ok := after.Content[k]; !ok {
			out.Content[k] = nil
		}
	}
	for k, v := range after.Metadata {
		if old, ok := before.Metadata[k]; !ok || !ValuesEqual(old, v) {
			out.Metadata[k] = cloneValue(v)
		}
	}
	return out
}
