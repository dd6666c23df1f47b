package audit

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var ErrDropped = errors.New("audit queue full, event dropped")

// LogRecorder writes events to a zerolog logger.
type LogRecorder struct {
	log zerolog.Logger
}

func NewLogRecorder(log zerolog.Logger) *LogRecorder {
	return &LogRecorder{log: log.With().Str("component", "audit").Logger()}
}

func (r *LogRecorder) Record(_ context.Context, ev Event) error {
	e := r.log.Info()
	if ev.Kind == KindError {
		e = r.log.Error()
	}
	e = e.Str("kind", string(ev.Kind)).Str("alias", ev.Slot.Alias)
	if ev.Slot.Consulate != "" {
		e = e.Str("country", ev.Slot.Country).
			Str("consulate", ev.Slot.Consulate).
			Str("service", ev.Slot.Service).
			Str("date", ev.Slot.Date).
			Str("time", ev.Slot.Time)
	}
	if ev.Screenshot != "" {
		e = e.Str("screenshot", ev.Screenshot)
	}
	e.Msg(ev.Message)
	return nil
}

// Memory keeps the most recent events in a ring.
type Memory struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{events: make([]Event, capacity)}
}

func (m *Memory) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[m.next] = ev
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Events returns up to limit events, oldest first. limit <= 0 returns all.
func (m *Memory) Events(limit int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	if m.full {
		out = append(out, m.events[m.next:]...)
	}
	out = append(out, m.events[:m.next]...)

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Recent is Events newest first, matching PgRepository.Recent.
func (m *Memory) Recent(_ context.Context, limit int) ([]Event, error) {
	out := m.Events(limit)
	slices.Reverse(out)
	return out, nil
}

// Multi records to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async hands events to a slower recorder from a bounded queue. Record never
// blocks; a full queue drops the event.
type Async struct {
	next    Recorder
	ch      chan Event
	dropped atomic.Int64
	log     zerolog.Logger
}

func NewAsync(next Recorder, size int, log zerolog.Logger) *Async {
	return &Async{
		next: next,
		ch:   make(chan Event, size),
		log:  log.With().Str("component", "audit_async").Logger(),
	}
}

func (a *Async) Record(_ context.Context, ev Event) error {
	select {
	case a.ch <- ev:
		return nil
	default:
		a.dropped.Add(1)
		return ErrDropped
	}
}

func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Run forwards queued events until ctx is done, then flushes what is left
// within drainTimeout.
func (a *Async) Run(ctx context.Context, drainTimeout time.Duration) error {
	for {
		select {
		case ev := <-a.ch:
			a.forward(ctx, ev)
		case <-ctx.Done():
			return a.drain(drainTimeout)
		}
	}
}

func (a *Async) drain(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		select {
		case ev := <-a.ch:
			a.forward(ctx, ev)
		default:
			return nil
		}
		if ctx.Err() != nil {
			a.log.Warn().Int("pending", len(a.ch)).Msg("audit drain timed out")
			return ctx.Err()
		}
	}
}

func (a *Async) forward(ctx context.Context, ev Event) {
	if err := a.next.Record(ctx, ev); err != nil {
		a.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("audit forward failed")
	}
}
