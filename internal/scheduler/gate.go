package scheduler

import (
	"context"
	"sync/atomic"
	"time"
)

// Gate is the cooperative pause switch shared by the scheduler and the
// control surfaces. The zero value is open.
type Gate struct {
	paused atomic.Bool
}

func (g *Gate) Pause()       { g.paused.Store(true) }
func (g *Gate) Resume()      { g.paused.Store(false) }
func (g *Gate) Paused() bool { return g.paused.Load() }

// sleep waits d or until ctx is done. It reports false when ctx ended.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
