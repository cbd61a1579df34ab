package workflow

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"conveyor/internal/logging"
	"conveyor/internal/stage"
)

// Start launches the workers in the background.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.stage == nil || m.pipeline == nil {
		m.mu.Unlock()
		return errors.New("workflow stage not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.runErr = nil
	m.done = make(chan struct{})
	m.states = make([]State, m.cfg.Threads)
	done := m.done
	m.mu.Unlock()

	go func() {
		err := m.supervise(runCtx)
		cancel()
		m.mu.Lock()
		m.running = false
		m.runErr = err
		for i := range m.states {
			m.states[i] = StateStopped
		}
		m.mu.Unlock()
		close(done)
	}()
	return nil
}

// Stop asks the workers to finish their current document and waits for them.
// It returns the error that ended the run, if any.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done == nil {
		return nil
	}
	<-done
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runErr
}

// Run starts the workers and blocks until ctx ends or a worker fails
// unrecoverably.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	<-done
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runErr
}

// supervise runs one worker per slot and restarts workers that escalate. The
// first unrecoverable worker error cancels the others.
func (m *Manager) supervise(ctx context.Context) error {
	m.logger.Info("stage starting",
		logging.Event("stage_start"),
		logging.Int("threads", m.cfg.Threads),
		logging.Bool("recurring", m.cfg.Recurring),
		logging.Duration("processing_timeout", m.cfg.ProcessingTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	for slot := 0; slot < m.cfg.Threads; slot++ {
		g.Go(func() error {
			for {
				err := m.runWorker(gctx, slot)
				if err == nil || gctx.Err() != nil {
					return nil
				}
				if !errors.Is(err, ErrProcessingTimeout) {
					return err
				}
				m.mu.Lock()
				m.restarts++
				m.mu.Unlock()
				logging.WarnWithContext(m.logger, "worker escalated; restarting", "worker_restart",
					logging.Int(logging.FieldWorker, slot),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "raise processing_timeout_ms or investigate the stage"),
					logging.String(logging.FieldImpact, "the overrunning document was failed"),
				)
			}
		})
	}
	err := g.Wait()
	m.awaitUnits()

	if err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(m.logger, "stage stopped", "stage_abort",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check node reachability and store health"),
		)
		if closer, ok := m.stage.(stage.Closer); ok {
			_ = closer.Close()
		}
		return err
	}
	if closer, ok := m.stage.(stage.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			m.logger.Warn("stage close failed",
				logging.Error(cerr),
				logging.Event("stage_close_failed"),
				logging.String(logging.FieldErrorHint, "resources held by the stage may leak"),
			)
		}
	}
	m.logger.Info("stage stopped", logging.Event("stage_stop"))
	return nil
}

// awaitUnits waits up to the shutdown timeout for execution units still
// running, then reports whatever is left.
func (m *Manager) awaitUnits() {
	finished := make(chan struct{})
	go func() {
		m.units.Wait()
		close(finished)
	}()
	timeout := m.shutdownTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		logging.WarnWithContext(m.logger, "execution units still running at shutdown", "dangling_units",
			logging.Int64("units", m.inflight.Load()),
			logging.Duration("shutdown_timeout", timeout),
			logging.String(logging.FieldErrorHint, "a stage ignores context cancellation"),
			logging.String(logging.FieldImpact, "their results are discarded"),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
