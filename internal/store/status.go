package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"conveyor/internal/logging"
	"conveyor/internal/pipelinestatus"
)

// ArchivePolicy holds the archive bounds applied at first-time setup.
type ArchivePolicy struct {
	MaxEntries        int
	MaxBytes          int64
	DiscardOldEntries bool
}

// Status reads the persisted pipeline status record. Counts still buffered in
// the aggregator are not included.
func (s *Store) Status(ctx context.Context) (pipelinestatus.Status, error) {
	var (
		st        pipelinestatus.Status
		discard   int
		prepared  int
		createdAt sql.NullString
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT processed_count, failed_count, discarded_count, max_entries_to_keep, max_archive_bytes,
                discard_old_entries, prepared, created_at
         FROM pipeline_status WHERE singleton = 1`,
	).Scan(&st.ProcessedCount, &st.FailedCount, &st.DiscardedCount, &st.MaxEntriesToKeep, &st.MaxArchiveBytes,
		&discard, &prepared, &createdAt)
	if err != nil {
		return st, fmt.Errorf("read pipeline status: %w", err)
	}
	st.DiscardOldEntries = discard != 0
	st.Prepared = prepared != 0
	if createdAt.Valid {
		st.Created, _ = time.Parse(time.RFC3339Nano, createdAt.String)
	}
	return st, nil
}

// Prepare performs first-time setup of the pipeline status record: it stores
// the archive bounds, which the archive triggers enforce from then on, and
// stamps the creation time. Later calls leave an already prepared record
// untouched and report false.
func (s *Store) Prepare(ctx context.Context, policy ArchivePolicy) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE pipeline_status
         SET max_entries_to_keep = ?, max_archive_bytes = ?, discard_old_entries = ?, prepared = 1, created_at = ?
         WHERE singleton = 1 AND prepared = 0`,
		max(policy.MaxEntries, 0), max(policy.MaxBytes, 0), boolToInt(policy.DiscardOldEntries), nowString(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("prepare pipeline status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("prepare pipeline status: %w", err)
	}
	if n > 0 {
		s.logger.Info("pipeline status prepared",
			logging.Int("max_entries", policy.MaxEntries),
			logging.Int64("max_bytes", policy.MaxBytes),
		)
	}
	return n > 0, nil
}

// FlushCounts adds a batch of counter increments to the status record.
func (s *Store) FlushCounts(ctx context.Context, counts pipelinestatus.Counts) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE pipeline_status
         SET processed_count = processed_count + ?, failed_count = failed_count + ?, discarded_count = discarded_count + ?
         WHERE singleton = 1`,
		counts.Processed, counts.Failed, counts.Discarded,
	)
	if err != nil {
		return fmt.Errorf("flush pipeline counters: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
