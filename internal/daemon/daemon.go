package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"conveyor/internal/api"
	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/store"
)

const shutdownGrace = 5 * time.Second

// nodeSettings is the part of the configuration that can change while the
// node runs.
type nodeSettings struct {
	stages      map[string]config.StageProperties
	hosts       hostFilter
	performance bool
}

func settingsFrom(cfg *config.Config) *nodeSettings {
	stages := make(map[string]config.StageProperties, len(cfg.Stages))
	for name := range cfg.Stages {
		props, _ := cfg.StageProperties(name)
		stages[name] = props
	}
	return &nodeSettings{
		stages:      stages,
		hosts:       newHostFilter(cfg.Node.AllowedHosts),
		performance: cfg.Node.PerformanceLogging,
	}
}

// Daemon serves one document store over HTTP and enforces single-instance
// execution per data directory.
type Daemon struct {
	cfg        *config.Config
	store      *store.Store
	logger     *slog.Logger
	instanceID string
	startedAt  time.Time

	lockPath string
	lock     *flock.Flock

	current atomic.Pointer[nodeSettings]
	metrics *metrics
	handler http.Handler

	mu       sync.Mutex
	running  atomic.Bool
	server   *http.Server
	listener net.Listener
	served   chan struct{}
}

// New constructs a daemon for st. The store must already be open.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:        cfg,
		store:      st,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		instanceID: uuid.NewString(),
		lockPath:   cfg.LockPath(),
		lock:       flock.New(cfg.LockPath()),
		metrics:    newMetrics(st),
	}
	d.current.Store(settingsFrom(cfg))
	d.handler = d.routes()
	return d, nil
}

func (d *Daemon) settings() *nodeSettings {
	return d.current.Load()
}

// InstanceID identifies this node process; ping returns it.
func (d *Daemon) InstanceID() string {
	return d.instanceID
}

// Handler returns the node's HTTP handler.
func (d *Daemon) Handler() http.Handler {
	return d.handler
}

// Start acquires the data directory lock and begins serving on node.bind.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another conveyor node is already serving %s", d.cfg.Store.DataDir)
	}

	listener, err := net.Listen("tcp", d.cfg.Node.Bind)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("node listen: %w", err)
	}

	timeout := d.cfg.RequestTimeout()
	d.listener = listener
	d.server = &http.Server{
		Handler:           d.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout + shutdownGrace,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	d.served = make(chan struct{})
	d.startedAt = time.Now()
	d.running.Store(true)

	server, served := d.server, d.served
	go func() {
		defer close(served)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(d.logger, "node server failed", "server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check node.bind and restart the node"),
			)
		}
	}()

	d.logger.Info("node listening",
		logging.String("address", listener.Addr().String()),
		logging.String("instance_id", d.instanceID),
		logging.String("lock", d.lockPath),
		logging.Event("node_start"),
	)
	return nil
}

// Addr returns the address the node listens on, or "" before Start.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Stop drains in-flight requests and releases the data directory lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("node shutdown incomplete",
			logging.Error(err),
			logging.Event("shutdown_incomplete"),
			logging.String(logging.FieldErrorHint, "long-polling clients were cut off"),
		)
		_ = d.server.Close()
	}
	<-d.served
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release node lock",
			logging.Error(err),
			logging.Event("lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no node is running"),
		)
	}
	d.server = nil
	d.listener = nil
	d.running.Store(false)
	d.logger.Info("node stopped", logging.Event("node_stop"))
}

// Close stops the node and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Running reports whether the HTTP server is up.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Reload swaps in the stage properties, host allow-list and performance
// logging switch from cfg. Other settings need a restart.
func (d *Daemon) Reload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	previous := d.settings()
	next := settingsFrom(cfg)
	d.current.Store(next)

	added, removed := diffStages(previous.stages, next.stages)
	d.logger.Info("configuration reloaded",
		logging.Int("stages", len(next.stages)),
		logging.Any("stages_added", added),
		logging.Any("stages_removed", removed),
		logging.Bool("performance_logging", next.performance),
		logging.Event("config_reload"),
	)
}

// WatchConfig reloads the node whenever the config file at path changes. It
// blocks until ctx ends.
func (d *Daemon) WatchConfig(ctx context.Context, path string) error {
	return config.Watch(ctx, path, d.Reload, func(err error) {
		logging.WarnWithContext(d.logger, "configuration reload rejected", "config_reload_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the config file; the previous settings stay in effect"),
		)
	})
}

// Status summarizes the node for operators.
func (d *Daemon) Status(ctx context.Context) (api.NodeStatus, error) {
	status := api.NodeStatus{
		InstanceID:  d.instanceID,
		StartedAt:   api.FormatTime(d.startedAt),
		Alive:       d.store.Alive(ctx),
		IndexedTags: d.store.IndexedTags(),
		Buffered:    api.FromCounts(d.store.Counters().Pending()),
		Stages:      slices.Sorted(maps.Keys(d.settings().stages)),
	}
	if !status.Alive {
		return status, nil
	}
	var err error
	if status.Active, err = d.store.ActiveCount(ctx); err != nil {
		return status, err
	}
	if status.Archived, err = d.store.ArchiveCount(ctx); err != nil {
		return status, err
	}
	if status.ArchiveBytes, err = d.store.ArchiveBytes(ctx); err != nil {
		return status, err
	}
	if status.Pipeline, err = d.store.Status(ctx); err != nil {
		return status, err
	}
	return status, nil
}

func diffStages(before, after map[string]config.StageProperties) (added, removed []string) {
	for name := range after {
		if _, ok := before[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			removed = append(removed, name)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}
