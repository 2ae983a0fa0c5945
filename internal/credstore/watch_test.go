package credstore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReportsReplaceAndRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	st := NewFileStore(path, testSealer(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan bool, 16)
	done := make(chan error, 1)

	go func() {
		done <- Watch(ctx, path, func(present bool) { changes <- present }, slog.Default())
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, st.Set(ctx, Credential{AccessToken: "a", RefreshToken: "r"}))
	assert.True(t, waitFor(t, changes, true), "expected a present=true change")

	require.NoError(t, os.Remove(path))
	assert.True(t, waitFor(t, changes, false), "expected a present=false change")

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), []byte("x"), FilePerms))

	select {
	case p := <-changes:
		t.Fatalf("unexpected change for unrelated file: present=%t", p)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}

// waitFor drains changes until want is seen or a timeout elapses.
func waitFor(t *testing.T, changes <-chan bool, want bool) bool {
	t.Helper()

	deadline := time.After(5 * time.Second)

	for {
		select {
		case got := <-changes:
			if got == want {
				return true
			}
		case <-deadline:
			return false
		}
	}
}
