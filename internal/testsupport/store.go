package testsupport

import (
	"context"
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/document"
	"conveyor/internal/logging"
	"conveyor/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// MustPrepare applies archive bounds to a freshly opened store.
func MustPrepare(t testing.TB, st *store.Store, policy store.ArchivePolicy) {
	t.Helper()

	if _, err := st.Prepare(context.Background(), policy); err != nil {
		t.Fatalf("store.Prepare: %v", err)
	}
}

// InsertContent inserts a document with the given content and returns it.
func InsertContent(t testing.TB, st *store.Store, content map[string]any) *document.Document {
	t.Helper()

	doc, err := st.Insert(context.Background(), document.NewWithContent(content))
	if err != nil {
		t.Fatalf("store.Insert: %v", err)
	}
	return doc
}
