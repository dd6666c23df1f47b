// Package scheduler runs identities from the work queue one at a time.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/consul-visit-booker/internal/booking"
	"github.com/hackgods/consul-visit-booker/internal/identity"
	"github.com/hackgods/consul-visit-booker/internal/metrics"
	"github.com/hackgods/consul-visit-booker/internal/queue"
	"github.com/hackgods/consul-visit-booker/internal/slots"
	"github.com/hackgods/consul-visit-booker/internal/watcher"
)

type Worker interface {
	Work(ctx context.Context, id *identity.Identity) booking.Outcome
}

type SnapshotSource interface {
	Snapshot(ctx context.Context) (slots.Snapshot, error)
}

type Parser interface {
	ParseFile(path string) (*identity.Identity, error)
}

type Options struct {
	IdleInterval time.Duration
	PausePoll    time.Duration
}

type Scheduler struct {
	queue    *queue.Queue
	registry SnapshotSource
	worker   Worker
	parser   Parser
	gate     *Gate
	metrics  *metrics.Metrics
	opts     Options
	log      zerolog.Logger

	mu       sync.Mutex
	active   string // alias of the identity being worked on
	deleted  bool   // active was removed by hot-reload mid-attempt
	finished int
}

func New(q *queue.Queue, registry SnapshotSource, w Worker, p Parser, gate *Gate, m *metrics.Metrics, opts Options, log zerolog.Logger) *Scheduler {
	if gate == nil {
		gate = &Gate{}
	}
	return &Scheduler{
		queue:    q,
		registry: registry,
		worker:   w,
		parser:   p,
		gate:     gate,
		metrics:  m,
		opts:     opts,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Run loops until ctx is done. Cancellation is observed only between
// identities: an attempt in flight runs to completion first.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Int("queued", s.queue.Len()).Msg("scheduler started")
	defer s.log.Info().Msg("scheduler stopped")

	for ctx.Err() == nil {
		s.observe()

		if s.gate.Paused() {
			sleep(ctx, s.opts.PausePoll)
			continue
		}
		if !s.step(ctx) {
			sleep(ctx, s.opts.IdleInterval)
		}
	}
	return nil
}

// step processes at most one identity. It reports false when the queue was
// empty.
func (s *Scheduler) step(ctx context.Context) bool {
	hot := s.hotFilter(ctx)
	id, ok := s.queue.PopPrioritized(hot)
	if !ok {
		return false
	}

	log := s.log.With().Str("alias", id.Alias).Logger()
	if !id.HasPending() {
		log.Info().Msg("nothing pending, skipping")
		return true
	}

	s.begin(id.Alias)
	out := s.worker.Work(context.WithoutCancel(ctx), id)
	deleted := s.end()

	switch {
	case out == booking.Booked:
		log.Info().Msg("booked, leaving the queue")
	case deleted:
		log.Info().Str("outcome", out.String()).Msg("identity deleted during attempt, not requeued")
	default:
		s.queue.Append(id)
		log.Info().Str("outcome", out.String()).Int("queued", s.queue.Len()).Msg("requeued")
	}
	return true
}

func (s *Scheduler) hotFilter(ctx context.Context) func(*identity.Identity) bool {
	if s.registry == nil {
		return nil
	}
	snap, err := s.registry.Snapshot(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("registry snapshot failed, keeping queue order")
		return nil
	}
	if len(snap) == 0 {
		return nil
	}
	return snap.Matches
}

func (s *Scheduler) begin(alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active, s.deleted = alias, false
}

func (s *Scheduler) end() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := s.deleted
	s.active, s.deleted = "", false
	s.finished++
	return deleted
}

// Finished counts completed attempts.
func (s *Scheduler) Finished() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Active is the alias currently being worked on, if any.
func (s *Scheduler) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scheduler) Queue() *queue.Queue { return s.queue }
func (s *Scheduler) Gate() *Gate         { return s.gate }

// ApplyChange applies one hot-reload event to the queue.
func (s *Scheduler) ApplyChange(ev watcher.Event) {
	log := s.log.With().Str("file", ev.Path).Str("op", ev.Op.String()).Logger()

	switch ev.Op {
	case watcher.Created, watcher.Modified:
		id, err := s.parser.ParseFile(ev.Path)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring invalid identity file")
			return
		}
		if ev.Op == watcher.Created && s.queue.Append(id) {
			log.Info().Str("alias", id.Alias).Msg("identity added")
		} else {
			s.queue.Update(id)
			log.Info().Str("alias", id.Alias).Msg("identity updated")
		}
	case watcher.Deleted:
		alias := identity.AliasFromPath(ev.Path)
		removed := s.queue.Remove(alias)

		s.mu.Lock()
		if s.active == alias {
			s.deleted = true
			removed = true
		}
		s.mu.Unlock()

		if removed {
			log.Info().Str("alias", alias).Msg("identity removed")
		}
	}
	s.observe()
}

func (s *Scheduler) observe() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetQueueLength(s.queue.Len())
	s.metrics.SetPaused(s.gate.Paused())
}
