package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/pipelinestatus"
)

// Store manages document persistence backed by SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	maxDocumentBytes int
	tailInterval     time.Duration
	tailAttempts     int

	indexMu sync.Mutex
	indexed map[string]struct{}

	counters   *pipelinestatus.Aggregator
	stopStatus context.CancelFunc
	statusDone chan struct{}
	closeOnce  sync.Once
	closed     chan struct{}
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// withTx runs fn inside one transaction, retrying the whole unit when SQLite
// reports the database busy.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func dsn(path string) string {
	params := url.Values{}
	for _, pragma := range []string{"journal_mode(WAL)", "foreign_keys(1)", "busy_timeout(5000)", "synchronous(NORMAL)"} {
		params.Add("_pragma", pragma)
	}
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// Open initializes or connects to the document database and starts the
// status aggregator.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := newStore(db, dbPath, cfg, logger)
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	store.startStatus(cfg.StatusFlushInterval())
	return store, nil
}

func newStore(db *sql.DB, path string, cfg *config.Config, logger *slog.Logger) *Store {
	s := &Store{
		db:               db,
		path:             path,
		logger:           logging.NewComponentLogger(logger, "store"),
		maxDocumentBytes: cfg.Store.MaxDocumentBytes,
		tailInterval:     cfg.TailPollInterval(),
		tailAttempts:     cfg.Store.TailPollAttempts,
		indexed:          map[string]struct{}{},
		closed:           make(chan struct{}),
	}
	s.counters = pipelinestatus.NewAggregator(s, cfg.StatusFlushInterval(), logger)
	return s
}

func (s *Store) startStatus(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopStatus = cancel
	s.statusDone = make(chan struct{})
	go func() {
		defer close(s.statusDone)
		s.counters.Run(ctx)
	}()
	s.logger.Debug("status aggregator started", logging.Duration("flush_interval", interval))
}

// Counters exposes the status aggregator fed by terminal transitions.
func (s *Store) Counters() *pipelinestatus.Aggregator {
	return s.counters
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Closed is closed once Close has been called.
func (s *Store) Closed() <-chan struct{} {
	return s.closed
}

// Alive reports whether the store is open and the database answers.
func (s *Store) Alive(ctx context.Context) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	return s.db.PingContext(ensureContext(ctx)) == nil
}

// Close flushes pending counters and closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		if s.stopStatus != nil {
			s.stopStatus()
			<-s.statusDone
		}
		close(s.closed)
		err = s.db.Close()
	})
	return err
}

func nowString(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
