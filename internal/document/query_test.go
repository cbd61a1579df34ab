package document_test

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"conveyor/internal/document"
)

func TestQueryIsImmutable(t *testing.T) {
	base := document.NewQuery().Exists("a")
	left := base.Equals("b", 1)
	right := base.NotTouched("s1")

	if n := len(base.Predicates()); n != 1 {
		t.Fatalf("base query changed by derived queries: %d predicates", n)
	}
	if len(left.Predicates()) != 2 || len(right.Predicates()) != 2 {
		t.Fatalf("derived queries = %d and %d predicates", len(left.Predicates()), len(right.Predicates()))
	}
	if left.Predicates()[1].Kind != document.ContentEquals || right.Predicates()[1].Kind != document.NotTouchedBy {
		t.Fatalf("unexpected predicate kinds: %v, %v", left.Predicates()[1].Kind, right.Predicates()[1].Kind)
	}
}

func TestQueryMatches(t *testing.T) {
	doc := document.NewWithContent(map[string]any{"name": "test", "n": 3})
	doc.ID = "d1"
	doc.Action = document.ActionAdd
	doc.SetTouched("in", time.Now())
	doc.AddError("in", "warn")

	cases := []struct {
		name  string
		query document.Query
		want  bool
	}{
		{"empty", document.NewQuery(), true},
		{"exists", document.NewQuery().Exists("name"), true},
		{"not exists", document.NewQuery().NotExists("missing"), true},
		{"equals string", document.NewQuery().Equals("name", "test"), true},
		{"equals number", document.NewQuery().Equals("n", 3.0), true},
		{"equals mismatch", document.NewQuery().Equals("name", "other"), false},
		{"not equals missing field", document.NewQuery().NotEquals("missing", "x"), true},
		{"not equals same", document.NewQuery().NotEquals("name", "test"), false},
		{"metadata exists", document.NewQuery().MetadataExists(document.KeyErrors), true},
		{"touched", document.NewQuery().Touched("in"), true},
		{"not touched", document.NewQuery().NotTouched("in"), false},
		{"not fetched", document.NewQuery().NotFetched("in"), true},
		{"fetched", document.NewQuery().Fetched("in"), false},
		{"action", document.NewQuery().WithAction(document.ActionAdd), true},
		{"action mismatch", document.NewQuery().WithAction(document.ActionDelete), false},
		{"id", document.NewQuery().WithID("d1"), true},
		{"conjunction fails", document.NewQuery().Exists("name").Exists("missing"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.query.Matches(doc); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestQueryWireRoundTrip(t *testing.T) {
	q := document.NewQuery().
		Equals("lang", "en").
		NotEquals("kind", "draft").
		Exists("title").
		NotExists("body").
		MetadataExists(document.KeyErrors).
		Touched("fetch").
		NotTouched("enrich").
		NotFetched("enrich").
		WithAction(document.ActionUpdate)

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(wire["exists"], map[string]any{"title": true, "body": false}) {
		t.Fatalf("exists on the wire = %v", wire["exists"])
	}
	if !reflect.DeepEqual(wire["touched"], map[string]any{"fetch": true, "enrich": false}) {
		t.Fatalf("touched on the wire = %v", wire["touched"])
	}
	if wire["action"] != "UPDATE" {
		t.Fatalf("action on the wire = %v", wire["action"])
	}

	decoded, err := document.ParseQuery(data)
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}
	if len(decoded.Predicates()) != len(q.Predicates()) {
		t.Fatalf("decoded %d predicates, want %d", len(decoded.Predicates()), len(q.Predicates()))
	}

	doc := document.NewWithContent(map[string]any{"lang": "en", "title": "t"})
	doc.Action = document.ActionUpdate
	doc.SetTouched("fetch", time.Now())
	doc.AddError("fetch", "x")
	if !q.Matches(doc) || !decoded.Matches(doc) {
		t.Fatal("expected both queries to match")
	}
}

func TestParseQueryEdgeCases(t *testing.T) {
	q, err := document.ParseQuery(nil)
	if err != nil || !q.IsEmpty() {
		t.Fatalf("ParseQuery(nil) = %v, %v", q.Predicates(), err)
	}
	for _, bad := range []string{`{"exists":{"a\"b":true}}`, `{"action":"BOGUS"}`, `[1,2]`} {
		if _, err := document.ParseQuery([]byte(bad)); err == nil {
			t.Fatalf("expected ParseQuery(%s) to fail", bad)
		}
	}
}

func TestQueryFromMap(t *testing.T) {
	q, err := document.QueryFromMap(map[string]any{
		"exists":  map[string]any{"url": true},
		"touched": map[string]any{"crawl": true},
	})
	if err != nil || len(q.Predicates()) != 2 {
		t.Fatalf("QueryFromMap = %v, %v", q.Predicates(), err)
	}
	empty, err := document.QueryFromMap(nil)
	if err != nil || !empty.IsEmpty() {
		t.Fatalf("QueryFromMap(nil) = %v, %v", empty.Predicates(), err)
	}
}
