package preflight

import (
	"context"

	"conveyor/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Store.DataDir),
		CheckNodeLock(cfg.LockPath()),
		CheckNode(ctx, cfg.Node.URL, cfg.RequestTimeout()),
	}
	return append(results, CheckStages(cfg)...)
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}
