package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"mediaconv/internal/config"
	"mediaconv/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewItem writes a small source file under the config base dir and enqueues it.
func NewItem(t testing.TB, store *queue.Store, cfg *config.Config, name string) *queue.Item {
	t.Helper()

	source := filepath.Join(BaseDir(cfg), "sources", name)
	WriteFile(t, source, 1024)
	item, err := store.NewItem(context.Background(), source, "", "", 1024)
	if err != nil {
		t.Fatalf("store.NewItem: %v", err)
	}
	return item
}
