package document_test

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"conveyor/internal/document"
)

func TestStatusPriority(t *testing.T) {
	doc := document.New()
	if got := doc.Status(); got != document.StatusProcessing {
		t.Fatalf("fresh document status = %s", got)
	}

	now := time.Now()
	steps := []struct {
		key  string
		want document.Status
	}{
		{document.KeyProcessed, document.StatusProcessed},
		{document.KeyPending, document.StatusPending},
		{document.KeyDiscarded, document.StatusDiscarded},
		{document.KeyFailed, document.StatusFailed},
	}
	for _, step := range steps {
		doc.PutMetadata(step.key, document.NewMarker("s", now))
		if got := doc.Status(); got != step.want {
			t.Fatalf("after %s: status = %s, want %s", step.key, got, step.want)
		}
	}
}

func TestPutNilDeletes(t *testing.T) {
	doc := document.NewWithContent(map[string]any{"a": 1, "b": nil})
	if !doc.Has("a") || doc.Has("b") {
		t.Fatalf("expected nil field stripped on construction, got %v", doc.Content)
	}

	doc.Put("a", nil)
	if doc.Has("a") {
		t.Fatal("expected Put(nil) to delete the field")
	}

	doc.PutMetadata("x", "y")
	doc.PutMetadata("x", nil)
	if doc.HasMetadata("x") {
		t.Fatal("expected PutMetadata(nil) to delete the key")
	}
}

func TestStampsAndErrors(t *testing.T) {
	doc := document.New()
	at := time.UnixMilli(1_700_000_000_123)
	doc.SetFetched("s1", at)
	doc.SetTouched("s1", at.Add(time.Second))
	doc.AddError("s2", "boom")

	fetched, ok := doc.Fetched("s1")
	if !ok || fetched.UnixMilli() != at.UnixMilli() {
		t.Fatalf("Fetched(s1) = %v, %v", fetched, ok)
	}
	if _, ok := doc.Fetched("s2"); ok {
		t.Fatal("expected no fetched stamp for s2")
	}
	touched, ok := doc.Touched("s1")
	if !ok || touched.UnixMilli() != at.Add(time.Second).UnixMilli() {
		t.Fatalf("Touched(s1) = %v, %v", touched, ok)
	}
	if got := doc.Errors(); !reflect.DeepEqual(got, map[string]string{"s2": "boom"}) {
		t.Fatalf("Errors() = %v", got)
	}
}

func TestStampsSurviveWireRoundTrip(t *testing.T) {
	doc := document.New()
	doc.ID = "abc"
	doc.Action = document.ActionUpdate
	at := time.UnixMilli(1_700_000_000_000)
	doc.SetFetched("s1", at)
	doc.PutMetadata(document.KeyProcessed, document.NewMarker("out", at))

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, want := range []string{`"_id":"abc"`, `"_action":"UPDATE"`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("expected %s in %s", want, data)
		}
	}

	decoded, err := document.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.ID != "abc" || decoded.Action != document.ActionUpdate {
		t.Fatalf("identity lost: id=%q action=%q", decoded.ID, decoded.Action)
	}
	if decoded.Status() != document.StatusProcessed {
		t.Fatalf("status = %s", decoded.Status())
	}
	fetched, ok := decoded.Fetched("s1")
	if !ok || fetched.UnixMilli() != at.UnixMilli() {
		t.Fatalf("Fetched(s1) after decode = %v, %v", fetched, ok)
	}
	marker, ok := decoded.MarkerFor(document.KeyProcessed)
	if !ok || marker.Stage != "out" || marker.Date.UnixMilli() != at.UnixMilli() {
		t.Fatalf("processed marker = %+v, %v", marker, ok)
	}
}

func TestDecodeDropsNullsAndRejectsBadInput(t *testing.T) {
	doc, err := document.Decode([]byte(`{"contents":{"a":null,"b":{"c":null,"d":1}},"metadata":{"x":null}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if doc.Has("a") {
		t.Fatal("expected null field dropped")
	}
	if got := doc.Content["b"]; !reflect.DeepEqual(got, map[string]any{"d": float64(1)}) {
		t.Fatalf("nested nulls not dropped: %v", got)
	}
	if len(doc.Metadata) != 0 {
		t.Fatalf("expected empty metadata, got %v", doc.Metadata)
	}

	for _, bad := range []string{"", "{not json", `{"_action":"UPSERT"}`} {
		if _, err := document.Decode([]byte(bad)); err == nil {
			t.Fatalf("expected Decode(%q) to fail", bad)
		}
	}
}

func TestMergeSemantics(t *testing.T) {
	base := document.NewWithContent(map[string]any{"keep": "k", "replace": map[string]any{"x": 1}, "drop": true})
	base.ID = "id-1"
	base.AddError("s1", "first")
	base.SetFetched("s1", time.UnixMilli(1))

	patch := document.New()
	patch.ID = "other"
	patch.Content = map[string]any{"replace": map[string]any{"y": 2}, "drop": nil, "new": "n"}
	patch.AddError("s2", "second")

	base.Merge(patch)

	if base.ID != "id-1" {
		t.Fatalf("merge must not change identity, got %q", base.ID)
	}
	if base.Content["keep"] != "k" || base.Content["new"] != "n" || base.Has("drop") {
		t.Fatalf("unexpected content after merge: %v", base.Content)
	}
	if got := base.Content["replace"]; !reflect.DeepEqual(got, map[string]any{"y": 2}) {
		t.Fatalf("content fields replace whole, got %v", got)
	}
	if got := base.Errors(); !reflect.DeepEqual(got, map[string]string{"s1": "first", "s2": "second"}) {
		t.Fatalf("metadata should merge deeply, got %v", got)
	}
	if _, ok := base.Fetched("s1"); !ok {
		t.Fatal("expected fetched stamp kept")
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc := document.NewWithContent(map[string]any{"nested": map[string]any{"a": []any{1, 2}}})
	clone := doc.Clone()
	clone.Content["nested"].(map[string]any)["a"] = "changed"
	if got := doc.Content["nested"].(map[string]any)["a"]; !reflect.DeepEqual(got, []any{1, 2}) {
		t.Fatalf("original changed through clone: %v", got)
	}
}

func TestRemoveLargestField(t *testing.T) {
	doc := document.NewWithContent(map[string]any{
		"small": "x",
		"big":   strings.Repeat("y", 1000),
		"mid":   strings.Repeat("z", 100),
	})
	name, ok := doc.RemoveLargestField()
	if !ok || name != "big" {
		t.Fatalf("RemoveLargestField = %q, %v", name, ok)
	}
	if doc.Content["big"] != document.RemovedMarker {
		t.Fatalf("expected marker, got %v", doc.Content["big"])
	}

	// The marker is small, so the next removal picks another field.
	if name, ok = doc.RemoveLargestField(); !ok || name != "mid" {
		t.Fatalf("second RemoveLargestField = %q, %v", name, ok)
	}
	if _, ok := document.New().RemoveLargestField(); ok {
		t.Fatal("expected false on an empty document")
	}
}

func TestValuesEqualIgnoresNumericRepresentation(t *testing.T) {
	if !document.ValuesEqual(1, float64(1)) {
		t.Fatal("1 and 1.0 should compare equal")
	}
	if !document.ValuesEqual(map[string]any{"a": 1, "b": "x"}, map[string]any{"b": "x", "a": 1.0}) {
		t.Fatal("maps differing only in number types should compare equal")
	}
	if document.ValuesEqual("1", 1) {
		t.Fatal("string and number must differ")
	}
}

func TestParseAction(t *testing.T) {
	cases := map[string]document.Action{" add ": document.ActionAdd, "": ""}
	for in, want := range cases {
		got, err := document.ParseAction(in)
		if err != nil || got != want {
			t.Fatalf("ParseAction(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := document.ParseAction("merge"); err == nil {
		t.Fatal("expected unknown action to fail")
	}
}

func TestDecodePatchKeepsNulls(t *testing.T) {
	doc, err := document.DecodePatch([]byte(`{"_id":"x","contents":{"gone":null,"kept":1},"metadata":{}}`))
	if err != nil {
		t.Fatalf("DecodePatch failed: %v", err)
	}
	if v, ok := doc.Content["gone"]; !ok || v != nil {
		t.Fatalf("expected explicit null kept, got %v, %v", v, ok)
	}
	if _, err := document.DecodePatch([]byte("  ")); err == nil {
		t.Fatal("expected blank patch to fail")
	}
}

func TestChanges(t *testing.T) {
	before := document.NewWithContent(map[string]any{"same": "a", "edited": 1, "dropped": true})
	before.ID = "doc-1"
	before.SetFetched("s1", time.UnixMilli(1000))

	after := before.Clone()
	after.Put("edited", 2)
	after.Put("added", "new")
	after.Remove("dropped")
	after.AddError("s1", "soft")

	changes := document.Changes(before, after)
	if changes.ID != "doc-1" {
		t.Fatalf("changes id = %q", changes.ID)
	}
	want := map[string]any{"edited": 2, "added": "new", "dropped": nil}
	if !reflect.DeepEqual(changes.Content, want) {
		t.Fatalf("changes content = %v, want %v", changes.Content, want)
	}
	if _, ok := changes.Metadata[document.KeyErrors]; !ok {
		t.Fatalf("expected errors in changed metadata, got %v", changes.Metadata)
	}
	if _, ok := changes.Metadata[document.KeyFetched]; ok {
		t.Fatalf("unchanged fetched stamps must not be sent, got %v", changes.Metadata)
	}
}
