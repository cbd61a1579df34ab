package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"conveyor/internal/document"
)

const archiveColumns = `seq, id, action, content, metadata, archived_at`

// ArchivedDocument is one audit log entry.
type ArchivedDocument struct {
	Seq        int64
	ArchivedAt time.Time
	Document   *document.Document
}

func scanArchived(row rowScanner) (*ArchivedDocument, error) {
	var (
		seq        int64
		id         string
		action     sql.NullString
		content    string
		metadata   string
		archivedAt string
	)
	if err := row.Scan(&seq, &id, &action, &content, &metadata, &archivedAt); err != nil {
		return nil, err
	}
	doc, err := decodeRow(id, action.String, content, metadata)
	if err != nil {
		return nil, err
	}
	at, _ := time.Parse(time.RFC3339Nano, archivedAt)
	return &ArchivedDocument{Seq: seq, ArchivedAt: at, Document: doc}, nil
}

// ArchiveCount returns the number of archived documents.
func (s *Store) ArchiveCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(1) FROM archive`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count archive: %w", err)
	}
	return n, nil
}

// ArchiveBytes returns the total encoded size held by the archive.
func (s *Store) ArchiveBytes(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COALESCE(SUM(size_bytes), 0) FROM archive`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum archive: %w", err)
	}
	return n, nil
}

// FindArchived returns the most recent archive entry for id, or nil.
func (s *Store) FindArchived(ctx context.Context, id string) (*ArchivedDocument, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+archiveColumns+` FROM archive WHERE id = ? ORDER BY seq DESC LIMIT 1`, id)
	entry, err := scanArchived(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find archived document: %w", err)
	}
	return entry, nil
}

// ArchivedAfter returns up to limit entries with a sequence greater than
// after, in insertion order.
func (s *Store) ArchivedAfter(ctx context.Context, after int64, limit int) ([]*ArchivedDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+archiveColumns+` FROM archive WHERE seq > ? ORDER BY seq LIMIT ?`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("page archive: %w", err)
	}
	defer rows.Close()

	var out []*ArchivedDocument
	for rows.Next() {
		entry, err := scanArchived(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// RecentArchived returns up to limit of the newest archive entries, oldest first.
func (s *Store) RecentArchived(ctx context.Context, limit int) ([]*ArchivedDocument, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+archiveColumns+` FROM (SELECT * FROM archive ORDER BY seq DESC LIMIT ?) ORDER BY seq`, limit)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	defer rows.Close()

	var out []*ArchivedDocument
	for rows.Next() {
		entry, err := scanArchived(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) lastArchiveSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COALESCE(MAX(seq), 0) FROM archive`).Scan(&seq)
	return seq, err
}

// TailReader iterates the archive in insertion order and waits for new
// entries. It is not safe for concurrent HasNext/Next callers; Interrupt may
// be called from any goroutine.
type TailReader struct {
	store    *Store
	after    int64
	interval time.Duration
	attempts int

	next *ArchivedDocument
	err  error

	stopOnce sync.Once
	stop     chan struct{}
}

// TailArchive opens a reader positioned at the start of the archive, or at
// its current end when fromEnd is set.
func (s *Store) TailArchive(ctx context.Context, fromEnd bool) (*TailReader, error) {
	var after int64
	if fromEnd {
		seq, err := s.lastArchiveSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("locate archive end: %w", err)
		}
		after = seq
	}
	return s.TailArchiveAfter(after), nil
}

// TailArchiveAfter opens a reader that starts with the first entry whose
// sequence is greater than after.
func (s *Store) TailArchiveAfter(after int64) *TailReader {
	r := &TailReader{
		store:    s,
		after:    after,
		interval: s.tailInterval,
		attempts: s.tailAttempts,
		stop:     make(chan struct{}),
	}
	if r.interval <= 0 {
		r.interval = 200 * time.Millisecond
	}
	if r.attempts <= 0 {
		r.attempts = 10
	}
	return r
}

// HasNext waits until an entry is available, the reader is interrupted, ctx
// ends, or the poll budget runs out. A false result without Err means
// nothing arrived yet; callers loop.
func (r *TailReader) HasNext(ctx context.Context) bool {
	if r.interrupted() {
		return false
	}
	if r.next != nil {
		return true
	}
	ctx = ensureContext(ctx)
	for attempt := 0; attempt < r.attempts; attempt++ {
		entry, err := r.poll(ctx)
		if err != nil {
			r.err = err
			return false
		}
		if entry != nil {
			if r.interrupted() {
				return false
			}
			r.next = entry
			return true
		}
		select {
		case <-r.stop:
			return false
		case <-r.store.closed:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(r.interval):
		}
	}
	return false
}

// Next returns the next archived document, blocking until one arrives. It
// returns nil once the reader is interrupted or ctx ends.
func (r *TailReader) Next(ctx context.Context) *ArchivedDocument {
	ctx = ensureContext(ctx)
	for {
		if r.interrupted() || ctx.Err() != nil || r.err != nil {
			return nil
		}
		select {
		case <-r.store.closed:
			return nil
		default:
		}
		if r.HasNext(ctx) {
			if r.interrupted() {
				return nil
			}
			entry := r.next
			r.next = nil
			r.after = entry.Seq
			return entry
		}
	}
}

// Interrupt stops the reader. It is idempotent and wakes a blocked HasNext.
func (r *TailReader) Interrupt() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Err returns the query error that stopped the reader, if any.
func (r *TailReader) Err() error {
	return r.err
}

func (r *TailReader) interrupted() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *TailReader) poll(ctx context.Context) (*ArchivedDocument, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT `+archiveColumns+` FROM archive WHERE seq > ? ORDER BY seq LIMIT 1`, r.after)
	entry, err := scanArchived(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("tail archive: %w", err)
	}
	return entry, nil
}
