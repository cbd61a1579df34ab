package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"conveyor/internal/document"
)

// ErrInvalidField reports a field or stage name that cannot be addressed.
var ErrInvalidField = errors.New("invalid field name")

// jsonPath renders a quoted JSON path as an SQL string literal. Names are
// inlined rather than bound so per-tag expression indexes match the claim
// statements textually.
func jsonPath(segments ...string) (string, error) {
	var b strings.Builder
	b.WriteString("'$")
	for _, seg := range segments {
		if err := document.ValidateName(seg); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidField, err)
		}
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(seg, "'", "''"))
		b.WriteString(`"`)
	}
	b.WriteString("'")
	return b.String(), nil
}

func fetchedExpr(tag string) (string, error) {
	path, err := jsonPath(document.KeyFetched, tag)
	if err != nil {
		return "", err
	}
	return "json_extract(metadata, " + path + ")", nil
}

// compileQuery translates q into a WHERE fragment over the documents (or
// archive) table. An empty query compiles to "1".
func compileQuery(q document.Query) (string, []any, error) {
	preds := q.Predicates()
	if len(preds) == 0 {
		return "1", nil, nil
	}
	clauses := make([]string, 0, len(preds))
	var args []any
	for _, p := range preds {
		clause, clauseArgs, err := compilePredicate(p)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}
	return strings.Join(clauses, " AND "), args, nil
}

func compilePredicate(p document.Predicate) (string, []any, error) {
	switch p.Kind {
	case document.ActionEquals:
		return "action = ?", []any{string(p.Value.(document.Action))}, nil
	case document.IDEquals:
		return "id = ?", []any{p.Value}, nil
	}

	var (
		column = "content"
		path   string
		err    error
	)
	switch p.Kind {
	case document.MetadataExists, document.MetadataNotExists:
		column = "metadata"
		path, err = jsonPath(p.Field)
	case document.TouchedBy, document.NotTouchedBy:
		column = "metadata"
		path, err = jsonPath(document.KeyTouched, p.Field)
	case document.FetchedBy, document.NotFetchedBy:
		column = "metadata"
		path, err = jsonPath(document.KeyFetched, p.Field)
	default:
		path, err = jsonPath(p.Field)
	}
	if err != nil {
		return "", nil, err
	}

	switch p.Kind {
	case document.ContentExists, document.MetadataExists, document.TouchedBy:
		return fmt.Sprintf("json_type(%s, %s) IS NOT NULL", column, path), nil, nil
	case document.ContentNotExists, document.MetadataNotExists, document.NotTouchedBy:
		return fmt.Sprintf("json_type(%s, %s) IS NULL", column, path), nil, nil
	case document.FetchedBy:
		return fmt.Sprintf("json_extract(%s, %s) IS NOT NULL", column, path), nil, nil
	case document.NotFetchedBy:
		return fmt.Sprintf("json_extract(%s, %s) IS NULL", column, path), nil, nil
	case document.ContentEquals:
		return equalsClause(column, path, p.Value)
	case document.ContentNotEquals:
		clause, args, err := equalsClause(column, path, p.Value)
		if err != nil {
			return "", nil, err
		}
		return "NOT COALESCE((" + clause + "), 0)", args, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate kind %d", p.Kind)
	}
}

// equalsClause compares by JSON type first so "1" never equals 1 and true
// never equals 1.
func equalsClause(column, path string, value any) (string, []any, error) {
	typeExpr := fmt.Sprintf("json_type(%s, %s)", column, path)
	valueExpr := fmt.Sprintf("json_extract(%s, %s)", column, path)
	switch v := value.(type) {
	case string:
		return typeExpr + " = 'text' AND " + valueExpr + " = ?", []any{v}, nil
	case bool:
		if v {
			return typeExpr + " = 'true'", nil, nil
		}
		return typeExpr + " = 'false'", nil, nil
	case int:
		return typeExpr + " IN ('integer','real') AND " + valueExpr + " = ?", []any{int64(v)}, nil
	case int64:
		return typeExpr + " IN ('integer','real') AND " + valueExpr + " = ?", []any{v}, nil
	case float64:
		return typeExpr + " IN ('integer','real') AND " + valueExpr + " = ?", []any{v}, nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", nil, fmt.Errorf("encode comparison value: %w", err)
		}
		return typeExpr + " IN ('object','array') AND " + valueExpr + " = json(?)", []any{string(encoded)}, nil
	}
}
