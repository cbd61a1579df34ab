package workflow

import (
	"context"

	"conveyor/internal/stage"
)

// WorkerStatus is the state of one worker slot.
type WorkerStatus struct {
	Slot  int
	State State
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Stage     string
	Running   bool
	Workers   []WorkerStatus
	Inflight  int64
	Outcomes  map[string]int64
	Restarts  int64
	Timeouts  int64
	LastError string
	// LastDocumentID is the last document this stage persisted.
	LastDocumentID string
	Health         stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Stage:          m.cfg.Name,
		Running:        m.running,
		Workers:        make([]WorkerStatus, len(m.states)),
		Outcomes:       make(map[string]int64, len(m.counts)),
		Restarts:       m.restarts,
		Timeouts:       m.timeouts,
		LastDocumentID: m.lastDoc,
	}
	for slot, state := range m.states {
		summary.Workers[slot] = WorkerStatus{Slot: slot, State: state}
	}
	for outcome, n := range m.counts {
		summary.Outcomes[outcome.String()] = n
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	summary.Inflight = m.inflight.Load()
	summary.Health = m.Health(ctx)
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
