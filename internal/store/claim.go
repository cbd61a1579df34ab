package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"conveyor/internal/document"
	"conveyor/internal/logging"
)

// DefaultRecurringInterval is the re-claim age used when callers pass zero.
const DefaultRecurringInterval = 2 * time.Second

// Claim atomically picks the oldest active document matching q that none of
// tags has fetched and that is not pending, stamps fetched[tag] for every tag
// and returns the post-update document. It returns nil when nothing matches;
// losing a race is not an error.
func (s *Store) Claim(ctx context.Context, q document.Query, tags ...string) (*document.Document, error) {
	return s.claim(ctx, q, tags, 0)
}

// ClaimRecurring behaves like Claim and, when nothing is claimable, retries
// once accepting documents whose fetch stamps are all older than interval.
func (s *Store) ClaimRecurring(ctx context.Context, q document.Query, interval time.Duration, tags ...string) (*document.Document, error) {
	doc, err := s.claim(ctx, q, tags, 0)
	if err != nil || doc != nil {
		return doc, err
	}
	if interval <= 0 {
		interval = DefaultRecurringInterval
	}
	return s.claim(ctx, q, tags, interval)
}

func (s *Store) claim(ctx context.Context, q document.Query, tags []string, olderThan time.Duration) (*document.Document, error) {
	if len(tags) == 0 {
		return nil, errors.New("claim requires at least one tag")
	}
	where, args, err := compileQuery(q)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	cutoff := now.Add(-olderThan).UnixMilli()
	conditions := []string{where, "json_type(metadata, '$.\"" + document.KeyPending + "\"') IS NULL"}
	stamp := map[string]any{}
	for _, tag := range tags {
		if err := s.ensureTagIndex(ctx, tag); err != nil {
			return nil, err
		}
		expr, err := fetchedExpr(tag)
		if err != nil {
			return nil, err
		}
		if olderThan > 0 {
			conditions = append(conditions, "("+expr+" IS NULL OR "+expr+" < ?)")
			args = append(args, cutoff)
		} else {
			conditions = append(conditions, expr+" IS NULL")
		}
		stamp[tag] = now.UnixMilli()
	}
	patch, err := encodePatch(map[string]any{document.KeyFetched: stamp})
	if err != nil {
		return nil, err
	}

	query := `UPDATE documents SET metadata = json_patch(metadata, ?), updated_at = ?
        WHERE seq = (SELECT seq FROM documents WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY seq LIMIT 1)
        RETURNING ` + documentColumns
	allArgs := append([]any{patch, nowString(now)}, args...)

	var doc *document.Document
	err = retryOnBusy(ensureContext(ctx), func() error {
		row := s.db.QueryRowContext(ensureContext(ctx), query, allArgs...)
		var scanErr error
		doc, scanErr = scanDocument(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim document: %w", err)
	}
	return doc, nil
}

// ensureTagIndex creates the expression index backing claims for tag once per
// Store instance.
func (s *Store) ensureTagIndex(ctx context.Context, tag string) error {
	s.indexMu.Lock()
	_, seen := s.indexed[tag]
	s.indexMu.Unlock()
	if seen {
		return nil
	}

	expr, err := fetchedExpr(tag)
	if err != nil {
		return err
	}
	name := "idx_fetched_" + hex.EncodeToString([]byte(tag))
	if _, err := s.execWithRetry(ctx, `CREATE INDEX IF NOT EXISTS `+name+` ON documents(`+expr+`)`); err != nil {
		return fmt.Errorf("ensure claim index for %q: %w", tag, err)
	}

	s.indexMu.Lock()
	s.indexed[tag] = struct{}{}
	s.indexMu.Unlock()
	s.logger.Debug("claim index ensured", logging.String("tag", tag), logging.String("index", name))
	return nil
}

// IndexedTags reports how many tags have had their claim index ensured by
// this Store.
func (s *Store) IndexedTags() int {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return len(s.indexed)
}
