package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conveyor/internal/document"
	"conveyor/internal/logging"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

// State is the position of a worker in its control loop.
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateProcessing  State = "processing"
	StatePersisting  State = "persisting"
	StateTerminating State = "terminating"
	StateStopped     State = "stopped"
)

type unitResult struct {
	outcome stage.Outcome
	err     error
}

// runWorker is one worker's control loop. It returns nil on shutdown,
// ErrProcessingTimeout when escalating and ErrStoreUnavailable when the
// store keeps refusing fetches.
func (m *Manager) runWorker(ctx context.Context, slot int) error {
	ctx = services.WithStage(services.WithWorker(ctx, slot), m.cfg.Name)
	logger := m.workerLogger(slot)
	failures := 0

	for {
		if ctx.Err() != nil {
			m.setState(slot, StateTerminating)
			return nil
		}
		m.setState(slot, StateIdle)
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				m.setState(slot, StateTerminating)
				return nil
			}
		}

		m.setState(slot, StateFetching)
		doc, err := m.pipeline.Claim(ctx, m.cfg.Query, m.cfg.Recurring)
		if err != nil {
			if ctx.Err() != nil {
				m.setState(slot, StateTerminating)
				return nil
			}
			failures++
			m.setLastError(err)
			logging.ErrorWithContext(logger, "document fetch failed", "fetch_failed",
				logging.Error(err),
				logging.Int("consecutive_failures", failures),
				logging.String(logging.FieldErrorHint, "check node reachability and store health"),
			)
			if failures >= m.maxFetchErrors {
				return fmt.Errorf("%w: %d consecutive fetch failures: %w", ErrStoreUnavailable, failures, err)
			}
			if !sleepCtx(ctx, m.errorBackoff) {
				m.setState(slot, StateTerminating)
				return nil
			}
			continue
		}
		failures = 0

		if doc == nil {
			m.idleLog.Do(func() {
				logger.Debug("no matching document; holding", logging.Duration("hold_interval", m.cfg.HoldInterval))
			})
			if !sleepCtx(ctx, m.cfg.HoldInterval) {
				m.setState(slot, StateTerminating)
				return nil
			}
			continue
		}

		if err := m.handleDocument(ctx, slot, logger, doc); err != nil {
			return err
		}
	}
}

// handleDocument processes one claimed document and persists the result.
func (m *Manager) handleDocument(ctx context.Context, slot int, logger *slog.Logger, doc *document.Document) error {
	ctx = services.WithDocumentID(ctx, doc.ID)
	logger = logger.With(logging.DocumentID(doc.ID))
	started := time.Now()

	m.setState(slot, StateProcessing)
	snapshot := doc.Clone()
	work := doc.Clone()
	outcome, procErr := m.execute(ctx, work)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	switch {
	case errors.Is(procErr, ErrProcessingTimeout):
		m.setState(slot, StatePersisting)
		m.failTimedOut(persistCtx, logger, snapshot, procErr)
		return procErr
	case errors.Is(procErr, errAbandoned):
		logging.WarnWithContext(logger, "document left claimed at shutdown", "document_abandoned",
			logging.Duration("shutdown_timeout", m.shutdownTimeout),
			logging.String(logging.FieldErrorHint, "stage did not finish within shutdown_timeout_ms"),
			logging.String(logging.FieldImpact, "document stays active and claimed by this stage"),
		)
		return nil
	}

	m.setState(slot, StatePersisting)
	m.settle(persistCtx, logger, snapshot, work, outcome, procErr)
	logger.Debug("document handled",
		logging.String("outcome", outcome.String()),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// execute runs the stage on its own goroutine so the control loop regains
// control at the processing deadline. work must be private to the unit: after
// a timeout or abandonment the unit may still be mutating it.
func (m *Manager) execute(ctx context.Context, work *document.Document) (stage.Outcome, error) {
	unitCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	if m.cfg.ProcessingTimeout > 0 {
		var cancelTimeout context.CancelFunc
		unitCtx, cancelTimeout = context.WithTimeout(unitCtx, m.cfg.ProcessingTimeout)
		defer cancelTimeout()
	}

	results := make(chan unitResult, 1)
	m.units.Add(1)
	m.inflight.Add(1)
	go func() {
		defer m.units.Done()
		defer m.inflight.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				results <- unitResult{outcome: stage.Continue, err: fmt.Errorf("stage panicked: %v", r)}
			}
		}()
		outcome, err := m.stage.Process(unitCtx, work)
		results <- unitResult{outcome: outcome, err: err}
	}()

	var deadline <-chan time.Time
	if m.cfg.ProcessingTimeout > 0 {
		timer := time.NewTimer(m.cfg.ProcessingTimeout)
		defer timer.Stop()
		deadline = timer.C
	}
	timedOut := func() (stage.Outcome, error) {
		m.mu.Lock()
		m.timeouts++
		m.mu.Unlock()
		return stage.Rejected, fmt.Errorf("%w after %s", ErrProcessingTimeout, m.cfg.ProcessingTimeout)
	}

	select {
	case res := <-results:
		if errors.Is(unitCtx.Err(), context.DeadlineExceeded) {
			return timedOut()
		}
		return res.outcome, res.err
	case <-deadline:
		return timedOut()
	case <-ctx.Done():
	}

	grace := m.shutdownTimeout
	if grace <= 0 {
		grace = 2 * time.Second
	}
	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()
	select {
	case res := <-results:
		if errors.Is(unitCtx.Err(), context.DeadlineExceeded) {
			return timedOut()
		}
		return res.outcome, res.err
	case <-deadline:
		return timedOut()
	case <-graceTimer.C:
		return stage.Continue, errAbandoned
	}
}
