package document

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// PredicateKind names one leaf of a Query.
type PredicateKind int

const (
	ContentExists PredicateKind = iota
	ContentNotExists
	ContentEquals
	ContentNotEquals
	MetadataExists
	MetadataNotExists
	TouchedBy
	NotTouchedBy
	FetchedBy
	NotFetchedBy
	ActionEquals
	IDEquals
)

// Predicate is one conjunct of a Query. Field holds the content/metadata
// field, the stage name for touch/fetch predicates, or is empty.
type Predicate struct {
	Kind  PredicateKind
	Field string
	Value any
}

// Query is an immutable conjunction of predicates. Builder methods return a
// new Query and leave the receiver untouched.
type Query struct {
	preds []Predicate
}

// NewQuery returns a query that matches every document.
func NewQuery() Query { return Query{} }

func (q Query) with(p Predicate) Query {
	preds := make([]Predicate, len(q.preds), len(q.preds)+1)
	copy(preds, q.preds)
	return Query{preds: append(preds, p)}
}

func (q Query) Exists(field string) Query {
	return q.with(Predicate{Kind: ContentExists, Field: field})
}

func (q Query) NotExists(field string) Query {
	return q.with(Predicate{Kind: ContentNotExists, Field: field})
}

// Equals matches documents whose field equals value. A nil value is the same
// as NotExists.
func (q Query) Equals(field string, value any) Query {
	if value == nil {
		return q.NotExists(field)
	}
	return q.with(Predicate{Kind: ContentEquals, Field: field, Value: value})
}

// NotEquals also matches documents that lack the field.
func (q Query) NotEquals(field string, value any) Query {
	if value == nil {
		return q.Exists(field)
	}
	return q.with(Predicate{Kind: ContentNotEquals, Field: field, Value: value})
}

func (q Query) MetadataExists(field string) Query {
	return q.with(Predicate{Kind: MetadataExists, Field: field})
}

func (q Query) MetadataNotExists(field string) Query {
	return q.with(Predicate{Kind: MetadataNotExists, Field: field})
}

func (q Query) Touched(stage string) Query {
	return q.with(Predicate{Kind: TouchedBy, Field: stage})
}

func (q Query) NotTouched(stage string) Query {
	return q.with(Predicate{Kind: NotTouchedBy, Field: stage})
}

func (q Query) Fetched(stage string) Query {
	return q.with(Predicate{Kind: FetchedBy, Field: stage})
}

func (q Query) NotFetched(stage string) Query {
	return q.with(Predicate{Kind: NotFetchedBy, Field: stage})
}

func (q Query) WithAction(action Action) Query {
	return q.with(Predicate{Kind: ActionEquals, Value: action})
}

func (q Query) WithID(id string) Query {
	return q.with(Predicate{Kind: IDEquals, Value: id})
}

// Predicates returns a copy of the query's leaves.
func (q Query) Predicates() []Predicate {
	out := make([]Predicate, len(q.preds))
	copy(out, q.preds)
	return out
}

// IsEmpty reports whether the query matches everything.
func (q Query) IsEmpty() bool { return len(q.preds) == 0 }

// ValidateName rejects field and stage names that cannot be addressed as a
// single JSON path segment.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("field name must not be empty")
	}
	if strings.ContainsAny(name, "\"\x00") {
		return fmt.Errorf("field name %q must not contain quotes", name)
	}
	return nil
}

// Validate checks every predicate's field name.
func (q Query) Validate() error {
	for _, p := range q.preds {
		switch p.Kind {
		case ActionEquals, IDEquals:
			continue
		}
		if err := ValidateName(p.Field); err != nil {
			return err
		}
	}
	return nil
}

// Matches evaluates the query against an in-memory document. It mirrors the
// store's compiled form.
func (q Query) Matches(d *Document) bool {
	for _, p := range q.preds {
		if !p.matches(d) {
			return false
		}
	}
	return true
}

func (p Predicate) matches(d *Document) bool {
	switch p.Kind {
	case ContentExists:
		return d.Has(p.Field)
	case ContentNotExists:
		return !d.Has(p.Field)
	case ContentEquals:
		v, ok := d.Get(p.Field)
		return ok && ValuesEqual(v, p.Value)
	case ContentNotEquals:
		v, ok := d.Get(p.Field)
		return !ok || !ValuesEqual(v, p.Value)
	case MetadataExists:
		return d.HasMetadata(p.Field)
	case MetadataNotExists:
		return !d.HasMetadata(p.Field)
	case TouchedBy:
		_, ok := d.Touched(p.Field)
		return ok
	case NotTouchedBy:
		_, ok := d.Touched(p.Field)
		return !ok
	case FetchedBy:
		_, ok := d.Fetched(p.Field)
		return ok
	case NotFetchedBy:
		_, ok := d.Fetched(p.Field)
		return !ok
	case ActionEquals:
		return d.Action == p.Value
	case IDEquals:
		return d.ID == p.Value
	default:
		return false
	}
}

type wireQuery struct {
	Equals         map[string]any  `json:"equals,omitempty"`
	NotEquals      map[string]any  `json:"notEquals,omitempty"`
	Exists         map[string]bool `json:"exists,omitempty"`
	MetadataExists map[string]bool `json:"metadataExists,omitempty"`
	Touched        map[string]bool `json:"touched,omitempty"`
	Fetched        map[string]bool `json:"fetched,omitempty"`
	Action         Action          `json:"action,omitempty"`
	ID             string          `json:"id,omitempty"`
}

func setBool(m *map[string]bool, key string, v bool) {
	if *m == nil {
		*m = map[string]bool{}
	}
	(*m)[key] = v
}

func setAny(m *map[string]any, key string, v any) {
	if *m == nil {
		*m = map[string]any{}
	}
	(*m)[key] = v
}

// MarshalJSON encodes the node wire format.
func (q Query) MarshalJSON() ([]byte, error) {
	var w wireQuery
	for _, p := range q.preds {
		switch p.Kind {
		case ContentExists, ContentNotExists:
			setBool(&w.Exists, p.Field, p.Kind == ContentExists)
		case ContentEquals:
			setAny(&w.Equals, p.Field, p.Value)
		case ContentNotEquals:
			setAny(&w.NotEquals, p.Field, p.Value)
		case MetadataExists, MetadataNotExists:
			setBool(&w.MetadataExists, p.Field, p.Kind == MetadataExists)
		case TouchedBy, NotTouchedBy:
			setBool(&w.Touched, p.Field, p.Kind == TouchedBy)
		case FetchedBy, NotFetchedBy:
			setBool(&w.Fetched, p.Field, p.Kind == FetchedBy)
		case ActionEquals:
			w.Action, _ = p.Value.(Action)
		case IDEquals:
			w.ID, _ = p.Value.(string)
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the node wire format. Predicates are added in a
// stable order so equal wire queries compile to equal SQL.
func (q *Query) UnmarshalJSON(data []byte) error {
	var w wireQuery
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := NewQuery()
	for _, k := range sortedKeys(w.Equals) {
		out = out.Equals(k, w.Equals[k])
	}
	for _, k := range sortedKeys(w.NotEquals) {
		out = out.NotEquals(k, w.NotEquals[k])
	}
	for _, k := range sortedKeys(w.Exists) {
		if w.Exists[k] {
			out = out.Exists(k)
		} else {
			out = out.NotExists(k)
		}
	}
	for _, k := range sortedKeys(w.MetadataExists) {
		if w.MetadataExists[k] {
			out = out.MetadataExists(k)
		} else {
			out = out.MetadataNotExists(k)
		}
	}
	for _, k := range sortedKeys(w.Touched) {
		if w.Touched[k] {
			out = out.Touched(k)
		} else {
			out = out.NotTouched(k)
		}
	}
	for _, k := range sortedKeys(w.Fetched) {
		if w.Fetched[k] {
			out = out.Fetched(k)
		} else {
			out = out.NotFetched(k)
		}
	}
	if w.Action != "" {
		action, err := ParseAction(string(w.Action))
		if err != nil {
			return err
		}
		out = out.WithAction(action)
	}
	if w.ID != "" {
		out = out.WithID(w.ID)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*q = out
	return nil
}

// ParseQuery decodes a wire query. An empty body is the match-all query.
func ParseQuery(data []byte) (Query, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return NewQuery(), nil
	}
	var q Query
	if err := json.Unmarshal(data, &q); err != nil {
		return Query{}, fmt.Errorf("decode query: %w", err)
	}
	return q, nil
}

// QueryFromMap builds a query from a decoded property table (for example a
// stage's "query" table in the node config).
func QueryFromMap(raw map[string]any) (Query, error) {
	if len(raw) == 0 {
		return NewQuery(), nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Query{}, fmt.Errorf("encode query: %w", err)
	}
	return ParseQuery(data)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
