package slots

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/consul-visit-booker/internal/identity"
)

// Pruner is the part of a Registry the janitor needs.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// Janitor periodically drops registry weeks that are already in the past.
type Janitor struct {
	reg      Pruner
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	onPrune  func(n int)
	log      zerolog.Logger
}

type JanitorOption func(*Janitor)

func WithJanitorClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) { j.now = now }
}

// OnPrune is called with the number of dates removed by each run.
func OnPrune(fn func(n int)) JanitorOption {
	return func(j *Janitor) { j.onPrune = fn }
}

func NewJanitor(reg Pruner, interval time.Duration, log zerolog.Logger, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		reg:      reg,
		interval: interval,
		timeout:  20 * time.Second,
		now:      time.Now,
		log:      log.With().Str("component", "slot_janitor").Logger(),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Run prunes once at startup and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	j.RunOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("shutdown signal received, stopping janitor")
			return nil
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce removes every week that has fully passed and reports how many
// went. Tokens are week starts, so a week stays until its last day is over.
func (j *Janitor) RunOnce(ctx context.Context) int {
	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	cutoff := identity.DateOf(j.now()).AddDate(0, 0, -6)
	n, err := j.reg.Prune(runCtx, cutoff)
	if err != nil {
		j.log.Error().Err(err).Msg("prune run error")
		return 0
	}
	if j.onPrune != nil {
		j.onPrune(n)
	}
	j.log.Info().Int("removed", n).Dur("took", time.Since(start)).Msg("prune run complete")
	return n
}
