package workflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"conveyor/internal/config"
	"conveyor/internal/document"
	"conveyor/internal/logging"
	"conveyor/internal/stage"
)

const persistTimeout = 30 * time.Second

// Manager supervises the workers of one stage.
type Manager struct {
	cfg      stage.Config
	stage    stage.Stage
	pipeline stage.Pipeline
	logger   *slog.Logger

	shutdownTimeout time.Duration
	errorBackoff    time.Duration
	maxFetchErrors  int

	limiter *rate.Limiter
	idleLog rate.Sometimes

	// units tracks execution units, including ones abandoned after a
	// timeout that have not returned yet.
	units    sync.WaitGroup
	inflight atomic.Int64

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	runErr   error
	states   []State
	lastErr  error
	lastDoc  string
	counts   map[stage.Outcome]int64
	restarts int64
	timeouts int64
}

// NewManager constructs a manager running s with the typed config cfg over
// p. Worker timing defaults come from worker.
func NewManager(cfg stage.Config, s stage.Stage, p stage.Pipeline, worker config.Worker, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:             cfg,
		stage:           s,
		pipeline:        p,
		logger:          logging.NewComponentLogger(logger, "workflow").With(logging.Stage(cfg.Name)),
		shutdownTimeout: time.Duration(worker.ShutdownTimeoutMS) * time.Millisecond,
		errorBackoff:    time.Duration(worker.ErrorBackoffMS) * time.Millisecond,
		maxFetchErrors:  worker.MaxConsecutiveErrors,
		idleLog:         rate.Sometimes{First: 1, Interval: time.Minute},
		counts:          make(map[stage.Outcome]int64),
	}
	if cfg.ClaimRate > 0 {
		burst := max(int(cfg.ClaimRate), 1)
		m.limiter = rate.NewLimiter(rate.Limit(cfg.ClaimRate), burst)
	}
	if m.maxFetchErrors <= 0 {
		m.maxFetchErrors = 10
	}
	return m
}

// Config returns the stage config the manager runs with.
func (m *Manager) Config() stage.Config {
	return m.cfg
}

func (m *Manager) setState(slot int, state State) {
	m.mu.Lock()
	if slot < len(m.states) {
		m.states[slot] = state
	}
	m.mu.Unlock()
}

func (m *Manager) recordOutcome(doc *document.Document, outcome stage.Outcome) {
	m.mu.Lock()
	m.counts[outcome]++
	if doc != nil {
		m.lastDoc = doc.ID
	}
	m.mu.Unlock()
}
