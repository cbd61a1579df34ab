package daemon_test

import (
	"context"
	"testing"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/document"
	"conveyor/internal/logging"
	"conveyor/internal/remote"
	"conveyor/internal/stage"
	"conveyor/internal/stages"
	"conveyor/internal/testsupport"
	"conveyor/internal/workflow"
)

// TestRemoteWorkerDrivesNode runs a set stage and a log output stage against
// the node over HTTP.
func TestRemoteWorkerDrivesNode(t *testing.T) {
	n := newNode(t,
		testsupport.WithStage("tagger", config.StageProperties{
			"type":             "set",
			"fields":           map[string]any{"tagged": true},
			"overwrite":        "overwrite",
			"hold_interval_ms": 10,
			"query":            map[string]any{"touched": map[string]any{"tagger": false}},
		}),
		testsupport.WithStage("sink", config.StageProperties{
			"type":             "log",
			"output":           true,
			"hold_interval_ms": 10,
			"query":            map[string]any{"touched": map[string]any{"tagger": true}},
		}),
	)
	client, err := remote.NewClient(n.server.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	for _, name := range []string{"tagger", "sink"} {
		props, err := client.Properties(ctx, name)
		if err != nil {
			t.Fatalf("Properties(%s): %v", name, err)
		}
		cfg, err := stage.ParseConfig(name, props, n.cfg.Worker)
		if err != nil {
			t.Fatalf("ParseConfig(%s): %v", name, err)
		}
		s, err := stages.NewRegistry().Build(cfg, logging.NewNop())
		if err != nil {
			t.Fatalf("Build(%s): %v", name, err)
		}
		mgr := workflow.NewManager(cfg, s, client.Pipeline(name), n.cfg.Worker, logging.NewNop())
		if err := mgr.Start(ctx); err != nil {
			t.Fatalf("Start(%s): %v", name, err)
		}
		t.Cleanup(func() { _ = mgr.Stop() })
	}

	input := client.Pipeline("input")
	var ids []string
	for i := 0; i < 5; i++ {
		doc := document.NewWithContent(map[string]any{"i": i})
		if ok, err := input.Write(ctx, doc, false, true); err != nil || !ok {
			t.Fatalf("Write = %v, %v", ok, err)
		}
		ids = append(ids, doc.ID)
	}

	waitFor(t, "all documents archived", func() bool {
		count, err := n.store.ArchiveCount(ctx)
		return err == nil && count == int64(len(ids))
	})
	for _, id := range ids {
		found, err := client.Document(ctx, id)
		if err != nil || found == nil {
			t.Fatalf("Document(%s) = %v, %v", id, found, err)
		}
		if !found.Archived || found.Status != string(document.StatusProcessed) {
			t.Fatalf("document %s: archived=%v status=%s", id, found.Archived, found.Status)
		}
		if tagged, _ := found.Document.Get("tagged"); tagged != true {
			t.Fatalf("document %s was not tagged: %v", id, found.Document.Content)
		}
	}
}
