package stages

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"conveyor/internal/logging"
	"conveyor/internal/services"
	"conveyor/internal/stage"
)

// Factory builds a stage from its validated config.
type Factory func(cfg stage.Config, logger *slog.Logger) (stage.Stage, error)

// Registry maps stage type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the built-in stage kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register("copy", newCopy)
	r.Register("rename", newRename)
	r.Register("remove", newRemove)
	r.Register("set", newSet)
	r.Register("case", newCase)
	r.Register("discard", newDiscard)
	r.Register("log", newLog)
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Types lists registered stage types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Build constructs the stage named by cfg.Type.
func (r *Registry) Build(cfg stage.Config, logger *slog.Logger) (stage.Stage, error) {
	if cfg.Type == "" {
		return nil, services.Wrap(services.ErrConfiguration, cfg.Name, "build stage", "property 'type' is not set", nil)
	}
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, cfg.Name, "build stage",
			fmt.Sprintf("unknown stage type %q", cfg.Type), nil)
	}
	logger = logging.NewComponentLogger(logger, "stage").With(logging.Stage(cfg.Name))
	s, err := f(cfg, logger)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, cfg.Name, "build stage", "invalid parameters", err)
	}
	return s, nil
}
