package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) ApplyChange(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) has(op Op, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Op == op && filepath.Base(ev.Path) == name {
			return true
		}
	}
	return false
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestWatcherReportsYAMLChanges(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w, err := New(dir, rec, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	path := filepath.Join(dir, "alice.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alias: alice\n"), 0o600))
	require.Eventually(t, func() bool { return rec.has(Created, "alice.yaml") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return rec.has(Deleted, "alice.yaml") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	for _, ev := range rec.events {
		assert.Equal(t, ".yaml", filepath.Ext(ev.Path))
	}
	assert.GreaterOrEqual(t, rec.count(), 2)
}

func TestNewFailsOnMissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), &recorder{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestTranslate(t *testing.T) {
	cases := []struct {
		in   fsnotify.Op
		want Op
		ok   bool
	}{
		{fsnotify.Create, Created, true},
		{fsnotify.Write, Modified, true},
		{fsnotify.Remove, Deleted, true},
		{fsnotify.Rename, Deleted, true},
		{fsnotify.Create | fsnotify.Write, Created, true},
		{fsnotify.Chmod, 0, false},
	}
	for _, tc := range cases {
		got, ok := translate(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in.String())
		assert.Equal(t, tc.want, got, tc.in.String())
	}
}
