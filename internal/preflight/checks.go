package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/remote"
	"conveyor/internal/stage"
	"conveyor/internal/stages"
)

const nodeCheckTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckNodeLock reports whether a node currently holds the data directory
// lock. Either answer passes; the detail tells the operator which it is.
func CheckNodeLock(path string) Result {
	const name = "Node lock"

	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{Name: name, Passed: true, Detail: "no node has used this data directory yet"}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if !ok {
		return Result{Name: name, Passed: true, Detail: "held by a running node"}
	}
	_ = lock.Unlock()
	return Result{Name: name, Passed: true, Detail: "free (no node running on this data directory)"}
}

// CheckNode pings the node at nodeURL.
func CheckNode(ctx context.Context, nodeURL string, timeout time.Duration) Result {
	const name = "Node"

	if timeout <= 0 || timeout > nodeCheckTimeout {
		timeout = nodeCheckTimeout
	}
	client, err := remote.NewClient(nodeURL, timeout)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id, err := client.Ping(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", client.URL(), summarizeNodeError(err))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (instance %s)", client.URL(), id)}
}

// CheckStages parses and builds every configured stage without running it.
func CheckStages(cfg *config.Config) []Result {
	names := cfg.StageNames()
	sort.Strings(names)
	registry := stages.NewRegistry()

	results := make([]Result, 0, len(names))
	for _, stageName := range names {
		label := "Stage " + stageName
		props, _ := cfg.StageProperties(stageName)
		sc, err := stage.ParseConfig(stageName, props, cfg.Worker)
		if err != nil {
			results = append(results, Result{Name: label, Detail: err.Error()})
			continue
		}
		if _, err := registry.Build(sc, logging.NewNop()); err != nil {
			results = append(results, Result{Name: label, Detail: err.Error()})
			continue
		}
		results = append(results, Result{
			Name:   label,
			Passed: true,
			Detail: fmt.Sprintf("%s, %d thread(s)", sc.Type, sc.Threads),
		})
	}
	return results
}

// summarizeNodeError produces a human-readable summary for node ping failures.
func summarizeNodeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "ping timed out (node unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ping timed out (node unreachable)"
	}
	var statusErr *remote.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("node answered %d: %s", statusErr.Status, statusErr.Body)
	}
	return err.Error()
}
