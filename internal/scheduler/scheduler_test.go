package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consul-visit-booker/internal/booking"
	"github.com/hackgods/consul-visit-booker/internal/identity"
	"github.com/hackgods/consul-visit-booker/internal/metrics"
	"github.com/hackgods/consul-visit-booker/internal/queue"
	"github.com/hackgods/consul-visit-booker/internal/slots"
	"github.com/hackgods/consul-visit-booker/internal/watcher"
)

func ident(alias string) *identity.Identity {
	return &identity.Identity{
		Alias:      alias,
		Country:    "Польща",
		Consulates: []string{"Варшава"},
		Services:   []string{alias + "-service"},
	}
}

type workerFunc func(ctx context.Context, id *identity.Identity) booking.Outcome

func (f workerFunc) Work(ctx context.Context, id *identity.Identity) booking.Outcome { return f(ctx, id) }

type parserFunc func(path string) (*identity.Identity, error)

func (f parserFunc) ParseFile(path string) (*identity.Identity, error) { return f(path) }

var stemParser = parserFunc(func(path string) (*identity.Identity, error) {
	if filepath.Base(path) == "broken.yaml" {
		return nil, errors.New("decode broken.yaml")
	}
	return ident(identity.AliasFromPath(path)), nil
})

// trace records worked aliases and cancels the loop after n attempts.
type trace struct {
	mu     sync.Mutex
	order  []string
	n      int
	cancel context.CancelFunc
}

func (tr *trace) add(alias string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.order = append(tr.order, alias)
	if len(tr.order) >= tr.n {
		tr.cancel()
	}
}

func (tr *trace) aliases() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.order...)
}

func opts() Options {
	return Options{IdleInterval: 5 * time.Millisecond, PausePoll: 5 * time.Millisecond}
}

func runAsync(t *testing.T, ctx context.Context, s *Scheduler) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunPrioritisesRegistryMatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := slots.NewMemory()
	require.NoError(t, reg.Add(ctx, "Польща", "Варшава", "B-service", "30.06.2025"))
	require.NoError(t, reg.Add(ctx, "Польща", "Варшава", "D-service", "07.07.2025"))

	tr := &trace{n: 4, cancel: cancel}
	q := queue.New(ident("A"), ident("B"), ident("C"), ident("D"))
	s := New(q, reg, workerFunc(func(_ context.Context, id *identity.Identity) booking.Outcome {
		tr.add(id.Alias)
		return booking.Booked
	}), stemParser, nil, nil, opts(), zerolog.Nop())

	wait(t, runAsync(t, ctx, s))
	assert.Equal(t, []string{"B", "D", "A", "C"}, tr.aliases())
	assert.Zero(t, q.Len())
	assert.Equal(t, 4, s.Finished())
}

func TestRunRequeuesFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &trace{n: 3, cancel: cancel}
	attempts := map[string]int{}
	q := queue.New(ident("A"), ident("B"))
	s := New(q, slots.NewMemory(), workerFunc(func(_ context.Context, id *identity.Identity) booking.Outcome {
		attempts[id.Alias]++
		tr.add(id.Alias)
		if id.Alias == "A" && attempts["A"] == 1 {
			return booking.Error
		}
		return booking.Booked
	}), stemParser, nil, nil, opts(), zerolog.Nop())

	wait(t, runAsync(t, ctx, s))
	assert.Equal(t, []string{"A", "B", "A"}, tr.aliases())
	assert.Zero(t, q.Len())
}

func TestRunKeepsNotBookedInRotation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &trace{n: 4, cancel: cancel}
	q := queue.New(ident("A"), ident("B"))
	s := New(q, nil, workerFunc(func(_ context.Context, id *identity.Identity) booking.Outcome {
		tr.add(id.Alias)
		return booking.NotBooked
	}), stemParser, nil, nil, opts(), zerolog.Nop())

	wait(t, runAsync(t, ctx, s))
	assert.Equal(t, []string{"A", "B", "A", "B"}, tr.aliases())
	assert.Equal(t, []string{"A", "B"}, q.Aliases())
}

func TestRunSkipsResolvedIdentities(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := &identity.Identity{Alias: "done", Country: "Польща"}
	tr := &trace{n: 1, cancel: cancel}
	q := queue.New(done, ident("B"))
	s := New(q, nil, workerFunc(func(_ context.Context, id *identity.Identity) booking.Outcome {
		tr.add(id.Alias)
		return booking.Booked
	}), stemParser, nil, nil, opts(), zerolog.Nop())

	wait(t, runAsync(t, ctx, s))
	assert.Equal(t, []string{"B"}, tr.aliases())
	assert.False(t, q.Exists("done"))
}

func TestPauseHoldsTheLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	gate := &Gate{}
	gate.Pause()

	tr := &trace{n: 1, cancel: cancel}
	q := queue.New(ident("A"))
	s := New(q, nil, workerFunc(func(_ context.Context, id *identity.Identity) booking.Outcome {
		tr.add(id.Alias)
		return booking.Booked
	}), stemParser, gate, m, opts(), zerolog.Nop())

	done := runAsync(t, ctx, s)
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.Paused) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, tr.aliases())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueLength))

	gate.Resume()
	wait(t, done)
	assert.Equal(t, []string{"A"}, tr.aliases())
}

func TestStopWaitsForAttemptInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	var attemptCtxErr error

	q := queue.New(ident("A"), ident("B"))
	s := New(q, nil, workerFunc(func(actx context.Context, id *identity.Identity) booking.Outcome {
		close(started)
		<-release
		attemptCtxErr = actx.Err()
		return booking.NotBooked
	}), stemParser, nil, nil, opts(), zerolog.Nop())

	done := runAsync(t, ctx, s)
	<-started
	cancel()

	select {
	case <-done:
		t.Fatal("loop stopped mid-attempt")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	wait(t, done)

	assert.NoError(t, attemptCtxErr)
	assert.Equal(t, 1, s.Finished())
	assert.Equal(t, []string{"B", "A"}, q.Aliases())
}

func TestDeleteDuringAttemptIsNotRequeued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &trace{n: 2, cancel: cancel}
	q := queue.New(ident("alice"), ident("bob"))
	var s *Scheduler
	s = New(q, nil, workerFunc(func(_ context.Context, id *identity.Identity) booking.Outcome {
		if id.Alias == "alice" {
			assert.Equal(t, "alice", s.Active())
			s.ApplyChange(watcher.Event{Op: watcher.Deleted, Path: "/users/alice.yaml"})
		}
		tr.add(id.Alias)
		return booking.Error
	}), stemParser, nil, nil, opts(), zerolog.Nop())

	wait(t, runAsync(t, ctx, s))
	assert.Equal(t, []string{"alice", "bob"}, tr.aliases())
	assert.Equal(t, []string{"bob"}, q.Aliases())
}

func TestApplyChange(t *testing.T) {
	q := queue.New(ident("a"), ident("b"))
	s := New(q, nil, nil, stemParser, nil, nil, opts(), zerolog.Nop())

	s.ApplyChange(watcher.Event{Op: watcher.Created, Path: "/u/c.yaml"})
	assert.Equal(t, []string{"a", "b", "c"}, q.Aliases())

	s.ApplyChange(watcher.Event{Op: watcher.Created, Path: "/u/a.yaml"})
	s.ApplyChange(watcher.Event{Op: watcher.Modified, Path: "/u/b.yaml"})
	assert.Equal(t, []string{"a", "b", "c"}, q.Aliases())

	s.ApplyChange(watcher.Event{Op: watcher.Modified, Path: "/u/broken.yaml"})
	assert.False(t, q.Exists("broken"))

	s.ApplyChange(watcher.Event{Op: watcher.Deleted, Path: "/u/b.yaml"})
	s.ApplyChange(watcher.Event{Op: watcher.Deleted, Path: "/u/zzz.yaml"})
	assert.Equal(t, []string{"a", "c"}, q.Aliases())

	s.ApplyChange(watcher.Event{Op: watcher.Modified, Path: "/u/b.yaml"})
	assert.Equal(t, []string{"a", "c", "b"}, q.Aliases())
}

func TestHotReloadThroughWatcher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	gate := &Gate{}
	gate.Pause()

	q := queue.New(ident("bob"), ident("carol"))
	s := New(q, nil, workerFunc(func(context.Context, *identity.Identity) booking.Outcome {
		return booking.NotBooked
	}), stemParser, gate, nil, opts(), zerolog.Nop())

	w, err := watcher.New(dir, s, zerolog.Nop())
	require.NoError(t, err)
	watchDone := make(chan error, 1)
	go func() { watchDone <- w.Run(ctx) }()
	loopDone := runAsync(t, ctx, s)

	path := filepath.Join(dir, "alice.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alias: alice\n"), 0o600))
	require.Eventually(t, func() bool { return q.Exists("alice") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dave.yaml"), []byte("alias: dave\n"), 0o600))
	require.Eventually(t, func() bool { return q.Exists("dave") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return !q.Exists("alice") }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"bob", "carol", "dave"}, q.Aliases())

	cancel()
	wait(t, loopDone)
	require.NoError(t, <-watchDone)
}
