package testsupport

import (
	"testing"

	"quaver/internal/config"
	"quaver/internal/queue"
)

// MustOpenStore opens the configured registry backend for tests and registers
// cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) queue.Store {
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
