// Package pipelinestatus holds the pipeline-wide counters and archive policy,
// and the aggregator that batches counter increments between flushes.
package pipelinestatus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"conveyor/internal/logging"
)

// Status is the singleton record kept per store.
type Status struct {
	ProcessedCount    int64     `json:"processedCount"`
	FailedCount       int64     `json:"failedCount"`
	DiscardedCount    int64     `json:"discardedCount"`
	MaxEntriesToKeep  int       `json:"maxEntriesToKeep"`
	MaxArchiveBytes   int64     `json:"maxArchiveBytes"`
	DiscardOldEntries bool      `json:"discardOldEntries"`
	Prepared          bool      `json:"prepared"`
	Created           time.Time `json:"created,omitzero"`
}

// Counts is a batch of counter increments.
type Counts struct {
	Processed int64
	Failed    int64
	Discarded int64
}

// IsZero reports whether the batch carries no increments.
func (c Counts) IsZero() bool {
	return c.Processed == 0 && c.Failed == 0 && c.Discarded == 0
}

func (c Counts) add(o Counts) Counts {
	return Counts{Processed: c.Processed + o.Processed, Failed: c.Failed + o.Failed, Discarded: c.Discarded + o.Discarded}
}

// Flusher persists a batch of increments.
type Flusher interface {
	FlushCounts(ctx context.Context, counts Counts) error
}

// DefaultFlushInterval is used when the aggregator is built with a
// non-positive interval.
const DefaultFlushInterval = time.Second

// Aggregator buffers counter increments in memory and flushes them on a timer
// and once more when Run exits.
type Aggregator struct {
	mu       sync.Mutex
	pending  Counts
	flusher  Flusher
	interval time.Duration
	logger   *slog.Logger
}

// NewAggregator builds an aggregator that writes through flusher.
func NewAggregator(flusher Flusher, interval time.Duration, logger *slog.Logger) *Aggregator {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Aggregator{
		flusher:  flusher,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "status"),
	}
}

func (a *Aggregator) AddProcessed() { a.add(Counts{Processed: 1}) }

func (a *Aggregator) AddFailed() { a.add(Counts{Failed: 1}) }

func (a *Aggregator) AddDiscarded() { a.add(Counts{Discarded: 1}) }

func (a *Aggregator) add(c Counts) {
	a.mu.Lock()
	a.pending = a.pending.add(c)
	a.mu.Unlock()
}

// Pending returns the increments not yet flushed.
func (a *Aggregator) Pending() Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Flush hands the buffered increments to the flusher. The buffer is cleared
// when the flush is issued; a failed flush puts the batch back so the next
// tick retries it.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	batch := a.pending
	a.pending = Counts{}
	a.mu.Unlock()

	if batch.IsZero() {
		return nil
	}
	if err := a.flusher.FlushCounts(ctx, batch); err != nil {
		a.add(batch)
		return err
	}
	return nil
}

// Run flushes on every tick until ctx is cancelled, then flushes once more.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.Flush(final); err != nil {
				logging.ErrorWithContext(a.logger, "final status flush failed", "status_flush_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "counters for the last interval were not persisted"),
				)
			}
			cancel()
			return
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				logging.WarnWithContext(a.logger, "status flush failed", "status_flush_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "counters will be retried on the next tick"),
				)
			}
		}
	}
}
