package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"conveyor/internal/document"
)

var (
	// ErrDocumentTooLarge reports a document over the configured size limit.
	ErrDocumentTooLarge = errors.New("document too large")
	// ErrDuplicateID reports an insert whose id is already active.
	ErrDuplicateID = errors.New("document id already exists")
	// ErrMissingID reports an operation that needs an identity on a document without one.
	ErrMissingID = errors.New("document has no id")
)

const documentColumns = `id, action, content, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var (
		id       string
		action   sql.NullString
		content  string
		metadata string
	)
	if err := row.Scan(&id, &action, &content, &metadata); err != nil {
		return nil, err
	}
	return decodeRow(id, action.String, content, metadata)
}

func decodeRow(id, action, content, metadata string) (*document.Document, error) {
	doc := document.New()
	doc.ID = id
	doc.Action = document.Action(action)
	var err error
	if doc.Content, err = document.DecodeFields(content); err != nil {
		return nil, fmt.Errorf("decode content of %s: %w", id, err)
	}
	if doc.Metadata, err = document.DecodeFields(metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", id, err)
	}
	return doc, nil
}

func nullableAction(a document.Action) any {
	if a == "" {
		return nil
	}
	return string(a)
}

// encodeFields marshals a field map with nulls removed.
func encodeFields(fields map[string]any) (string, error) {
	clean := (&document.Document{Content: fields}).Clone().Content
	document.StripNulls(clean)
	data, err := json.Marshal(clean)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Store) checkSize(doc *document.Document) error {
	if s.maxDocumentBytes > 0 {
		if size := doc.Size(); size > s.maxDocumentBytes {
			return fmt.Errorf("%w: %d bytes exceeds %d", ErrDocumentTooLarge, size, s.maxDocumentBytes)
		}
	}
	return nil
}

// Insert adds doc to the active set and returns the stored copy. A missing
// id is assigned here.
func (s *Store) Insert(ctx context.Context, doc *document.Document) (*document.Document, error) {
	if doc == nil {
		return nil, errors.New("document is nil")
	}
	stored := doc.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	document.StripNulls(stored.Content)
	document.StripNulls(stored.Metadata)
	if err := s.checkSize(stored); err != nil {
		return nil, err
	}

	content, err := json.Marshal(stored.Content)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	metadata, err := json.Marshal(stored.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	now := nowString(time.Now())
	_, err = s.execWithRetry(ctx,
		`INSERT INTO documents (id, action, content, metadata, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		stored.ID, nullableAction(stored.Action), string(content), string(metadata), now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, stored.ID)
		}
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return stored, nil
}

// GetByID returns the active document with id, or nil when none exists.
func (s *Store) GetByID(ctx context.Context, id string) (*document.Document, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// Find returns active documents matching q in insertion order. A
// non-positive limit means no limit.
func (s *Store) Find(ctx context.Context, q document.Query, limit int) ([]*document.Document, error) {
	where, args, err := compileQuery(q)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + documentColumns + ` FROM documents WHERE ` + where + ` ORDER BY seq`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// FindOne returns the first active document matching q, or nil.
func (s *Store) FindOne(ctx context.Context, q document.Query) (*document.Document, error) {
	docs, err := s.Find(ctx, q, 1)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// ActiveCount returns the number of active documents.
func (s *Store) ActiveCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(1) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Update writes doc's fields onto the active document with the same id.
// With partial set only the supplied content fields change (nil deletes);
// otherwise content is replaced. Metadata always merges. Returns false when
// the id is not active.
func (s *Store) Update(ctx context.Context, doc *document.Document, partial bool) (bool, error) {
	if doc == nil || doc.ID == "" {
		return false, ErrMissingID
	}
	if err := s.checkSize(doc); err != nil {
		return false, err
	}
	contentExpr, contentArgs, err := contentUpdate(doc.Content, partial)
	if err != nil {
		return false, err
	}
	metaPatch, err := encodePatch(doc.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}

	query := `UPDATE documents SET content = ` + contentExpr + `,
             metadata = json_patch(metadata, ?), action = COALESCE(?, action), updated_at = ?
             WHERE id = ?
             RETURNING length(CAST(content AS BLOB)) + length(CAST(metadata AS BLOB))`
	args := append(contentArgs, metaPatch, nullableAction(doc.Action), nowString(time.Now()), doc.ID)

	// The merged row is measured inside the transaction so a partial write
	// cannot grow a document past the limit Insert enforces.
	ctx = ensureContext(ctx)
	var found bool
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		found = false
		var size int
		switch err := tx.QueryRowContext(ctx, query, args...).Scan(&size); {
		case errors.Is(err, sql.ErrNoRows):
			return nil
		case err != nil:
			return err
		}
		found = true
		if s.maxDocumentBytes > 0 && size > s.maxDocumentBytes {
			return fmt.Errorf("%w: update would grow %s to %d bytes, limit %d",
				ErrDocumentTooLarge, doc.ID, size, s.maxDocumentBytes)
		}
		return nil
	})
	if errors.Is(err, ErrDocumentTooLarge) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("update document: %w", err)
	}
	return found, nil
}

// contentUpdate builds the SQL expression producing the new content column.
func contentUpdate(fields map[string]any, partial bool) (string, []any, error) {
	if !partial {
		encoded, err := encodeFields(fields)
		if err != nil {
			return "", nil, fmt.Errorf("encode content: %w", err)
		}
		return "?", []any{encoded}, nil
	}

	var (
		sets    []string
		removes []string
		args    []any
	)
	for _, name := range sortedNames(fields) {
		path, err := jsonPath(name)
		if err != nil {
			return "", nil, err
		}
		value := fields[name]
		if value == nil {
			removes = append(removes, path)
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", nil, fmt.Errorf("encode field %s: %w", name, err)
		}
		sets = append(sets, path+", json(?)")
		args = append(args, string(encoded))
	}

	expr := "content"
	if len(sets) > 0 {
		expr = "json_set(" + expr + ", " + strings.Join(sets, ", ") + ")"
	}
	if len(removes) > 0 {
		expr = "json_remove(" + expr + ", " + strings.Join(removes, ", ") + ")"
	}
	return expr, args, nil
}

// Touch stamps touched[stage] on the active document with id. Returns false
// when the id is not active.
func (s *Store) Touch(ctx context.Context, id, stage string) (bool, error) {
	if id == "" {
		return false, ErrMissingID
	}
	if err := document.ValidateName(stage); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	now := time.Now()
	patch, _ := json.Marshal(map[string]any{
		document.KeyTouched: map[string]any{stage: now.UnixMilli()},
	})
	res, err := s.execWithRetry(ctx,
		`UPDATE documents SET metadata = json_patch(metadata, ?), updated_at = ? WHERE id = ?`,
		string(patch), nowString(now), id,
	)
	if err != nil {
		return false, fmt.Errorf("touch document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("touch document: %w", err)
	}
	return n > 0, nil
}

// encodePatch marshals a merge patch; a nil map is the empty patch.
func encodePatch(patch map[string]any) (string, error) {
	if patch == nil {
		return "{}", nil
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sortedNames(m map[string]any) []string {
	doc := document.Document{Content: m}
	return doc.ContentFields()
}
