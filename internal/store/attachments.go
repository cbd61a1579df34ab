package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"conveyor/internal/services"
)

// Attachment is a binary blob tied to an active document. Attachments are
// keyed by (DocumentID, FileName); SavedByStage records the owning stage.
type Attachment struct {
	DocumentID   string    `json:"documentId"`
	FileName     string    `json:"fileName"`
	SavedByStage string    `json:"savedByStage"`
	MimeType     string    `json:"mimetype,omitempty"`
	Encoding     string    `json:"encoding,omitempty"`
	UploadDate   time.Time `json:"uploadDate"`
	Data         []byte    `json:"stream"`
}

// SaveAttachment stores or replaces an attachment. The document must be active.
func (s *Store) SaveAttachment(ctx context.Context, a *Attachment) error {
	if a == nil || a.DocumentID == "" || a.FileName == "" {
		return services.Wrap(services.ErrValidation, "store", "save attachment", "document id and file name are required", nil)
	}
	if a.UploadDate.IsZero() {
		a.UploadDate = time.Now()
	}
	data := a.Data
	if data == nil {
		data = []byte{}
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO attachments (doc_id, filename, saved_by_stage, mimetype, encoding, data, uploaded_at)
         SELECT ?, ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM documents WHERE id = ?)
         ON CONFLICT (doc_id, filename) DO UPDATE SET
             saved_by_stage = excluded.saved_by_stage, mimetype = excluded.mimetype,
             encoding = excluded.encoding, data = excluded.data, uploaded_at = excluded.uploaded_at`,
		a.DocumentID, a.FileName, a.SavedByStage, a.MimeType, a.Encoding, data, nowString(a.UploadDate), a.DocumentID,
	)
	if err != nil {
		return fmt.Errorf("save attachment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save attachment: %w", err)
	}
	if n == 0 {
		return services.Wrap(services.ErrNotFound, "store", "save attachment", "document "+a.DocumentID+" is not active", nil)
	}
	return nil
}

// GetAttachment returns the named attachment, or nil when absent.
func (s *Store) GetAttachment(ctx context.Context, docID, fileName string) (*Attachment, error) {
	var (
		a          Attachment
		mime, enc  sql.NullString
		uploadedAt string
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT doc_id, filename, saved_by_stage, mimetype, encoding, data, uploaded_at
         FROM attachments WHERE doc_id = ? AND filename = ?`, docID, fileName,
	).Scan(&a.DocumentID, &a.FileName, &a.SavedByStage, &mime, &enc, &a.Data, &uploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	a.MimeType = mime.String
	a.Encoding = enc.String
	a.UploadDate, _ = time.Parse(time.RFC3339Nano, uploadedAt)
	return &a, nil
}

// AttachmentNames lists the file names attached to docID in name order.
func (s *Store) AttachmentNames(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT filename FROM attachments WHERE doc_id = ? ORDER BY filename`, docID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteAttachment removes the named attachment and reports whether it existed.
func (s *Store) DeleteAttachment(ctx context.Context, docID, fileName string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM attachments WHERE doc_id = ? AND filename = ?`, docID, fileName)
	if err != nil {
		return false, fmt.Errorf("delete attachment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete attachment: %w", err)
	}
	return n > 0, nil
}
