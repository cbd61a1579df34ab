package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"conveyor/internal/document"
	"conveyor/internal/logging"
)

// Terminal identifies one of the three ways a document leaves the active set.
type Terminal string

const (
	Processed Terminal = document.KeyProcessed
	Discarded Terminal = document.KeyDiscarded
	Failed    Terminal = document.KeyFailed
)

// MarkProcessed archives doc as processed by stage. See finish.
func (s *Store) MarkProcessed(ctx context.Context, doc *document.Document, stage string) (bool, error) {
	return s.finish(ctx, doc, Processed, stage)
}

// MarkDiscarded archives doc as discarded by stage.
func (s *Store) MarkDiscarded(ctx context.Context, doc *document.Document, stage string) (bool, error) {
	return s.finish(ctx, doc, Discarded, stage)
}

// MarkFailed archives doc as failed by stage.
func (s *Store) MarkFailed(ctx context.Context, doc *document.Document, stage string) (bool, error) {
	return s.finish(ctx, doc, Failed, stage)
}

// MarkPending stamps pending on the active document and applies doc's fields
// like a partial update. Pending documents are never claimed.
func (s *Store) MarkPending(ctx context.Context, doc *document.Document, stage string) (bool, error) {
	if doc == nil || doc.ID == "" {
		return false, ErrMissingID
	}
	if err := document.ValidateName(stage); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	patch := doc.Clone()
	patch.PutMetadata(document.KeyPending, document.NewMarker(stage, time.Now()))
	return s.Update(ctx, patch, true)
}

// finish removes the active document with doc's id, merges doc's fields onto
// it, stamps the terminal marker, drops its attachments and appends it to the
// archive, all in one transaction. It returns false when the id is not
// active, so two racing callers cannot both succeed.
//
// When the archive refuses the document for size, the largest content field
// is replaced with document.RemovedMarker and the insert is retried once. If
// that still fails, a stub is archived instead: every content field replaced
// with the marker, the metadata kept and the archive failure recorded under
// errors[stage]. The stub is exempt from the size limit.
func (s *Store) finish(ctx context.Context, doc *document.Document, kind Terminal, stage string) (bool, error) {
	if doc == nil || doc.ID == "" {
		return false, ErrMissingID
	}
	if err := document.ValidateName(stage); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}

	var (
		found      bool
		archiveErr error
		dropped    string
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		found, archiveErr, dropped = false, nil, ""

		row := tx.QueryRowContext(ctx, `DELETE FROM documents WHERE id = ? RETURNING `+documentColumns, doc.ID)
		stored, err := scanDocument(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("remove active document: %w", err)
		}
		found = true

		stored.Merge(doc)
		now := time.Now()
		stored.PutMetadata(string(kind), document.NewMarker(stage, now))

		if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE doc_id = ?`, doc.ID); err != nil {
			return fmt.Errorf("delete attachments: %w", err)
		}

		err = s.insertArchive(ctx, tx, stored, now, true)
		if errors.Is(err, ErrDocumentTooLarge) {
			dropped, _ = stored.RemoveLargestField()
			err = s.insertArchive(ctx, tx, stored, now, true)
		}
		if !errors.Is(err, ErrDocumentTooLarge) {
			return err
		}
		archiveErr = err
		stub := archiveStub(stored)
		stub.AddError(stage, "archive write failed: "+err.Error())
		return s.insertArchive(ctx, tx, stub, now, false)
	})
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", kind, err)
	}
	if !found {
		return false, nil
	}

	log := s.logger.With(logging.DocumentID(doc.ID), logging.Stage(stage))
	if dropped != "" && archiveErr == nil {
		logging.WarnWithContext(log, "archived document after removing largest field", "archive_field_removed",
			logging.String("field", dropped),
			logging.String(logging.FieldImpact, "field value replaced in the audit log"),
		)
	}
	if archiveErr != nil {
		doc.AddError(stage, "archive write failed: "+archiveErr.Error())
		logging.ErrorWithContext(log, "document archived as a stub", "archive_write_failed",
			logging.Error(archiveErr),
			logging.String("terminal", string(kind)),
			logging.String(logging.FieldErrorHint, "raise store.max_document_bytes or trim documents before the output stage"),
		)
	}
	s.count(kind)
	return true, nil
}

func (s *Store) count(kind Terminal) {
	switch kind {
	case Processed:
		s.counters.AddProcessed()
	case Discarded:
		s.counters.AddDiscarded()
	case Failed:
		s.counters.AddFailed()
	}
}

// archiveStub keeps doc's identity and metadata and blanks every content
// field.
func archiveStub(doc *document.Document) *document.Document {
	stub := &document.Document{ID: doc.ID, Action: doc.Action, Content: map[string]any{}}
	for _, name := range doc.ContentFields() {
		stub.Content[name] = document.RemovedMarker
	}
	stub.Metadata = doc.Clone().Metadata
	return stub
}

func (s *Store) insertArchive(ctx context.Context, tx *sql.Tx, doc *document.Document, at time.Time, enforceLimit bool) error {
	content, err := json.Marshal(doc.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	size := len(content) + len(metadata)
	if enforceLimit && s.maxDocumentBytes > 0 && size > s.maxDocumentBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrDocumentTooLarge, size, s.maxDocumentBytes)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO archive (id, action, content, metadata, size_bytes, archived_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, nullableAction(doc.Action), string(content), string(metadata), size, nowString(at),
	); err != nil {
		return fmt.Errorf("insert archive entry: %w", err)
	}
	return nil
}
