// Package audit records what the booker did: which identity it worked on,
// the slots it saw and booked, and the errors it hit.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Kind string

const (
	KindNextIdentity Kind = "next_identity"
	KindSlotFound    Kind = "slot_found"
	KindSlotBooked   Kind = "slot_booked"
	KindError        Kind = "error"
)

// Slot identifies a portal slot seen for an identity.
type Slot struct {
	Alias     string `json:"alias"`
	Country   string `json:"country"`
	Consulate string `json:"consulate"`
	Service   string `json:"service"`
	Date      string `json:"date"`           // dd.mm.yyyy
	Time      string `json:"time,omitempty"` // hh:mm
}

type Event struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	Slot       Slot      `json:"slot"`
	Message    string    `json:"message,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Sink receives the booker's audit hooks. Calls must return quickly; they
// never fail the automation.
type Sink interface {
	NextIdentity(ctx context.Context, alias string)
	SlotFound(ctx context.Context, slot Slot, screenshot string)
	SlotBooked(ctx context.Context, slot Slot, screenshot string)
	Error(ctx context.Context, alias, message, screenshot string)
}

// Recorder stores one event.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards every hook.
type Nop struct{}

func (Nop) NextIdentity(context.Context, string)          {}
func (Nop) SlotFound(context.Context, Slot, string)       {}
func (Nop) SlotBooked(context.Context, Slot, string)      {}
func (Nop) Error(context.Context, string, string, string) {}

// Hooks turns Sink calls into events for a Recorder. Record errors are logged.
type Hooks struct {
	rec Recorder
	log zerolog.Logger
	now func() time.Time
}

func NewHooks(rec Recorder, log zerolog.Logger) *Hooks {
	return &Hooks{rec: rec, log: log.With().Str("component", "audit").Logger(), now: time.Now}
}

func (h *Hooks) emit(ctx context.Context, ev Event) {
	ev.ID = uuid.New()
	ev.CreatedAt = h.now().UTC()
	if err := h.rec.Record(ctx, ev); err != nil {
		h.log.Warn().Err(err).Str("kind", string(ev.Kind)).Str("alias", ev.Slot.Alias).Msg("audit event not recorded")
	}
}

func (h *Hooks) NextIdentity(ctx context.Context, alias string) {
	h.emit(ctx, Event{Kind: KindNextIdentity, Slot: Slot{Alias: alias}})
}

func (h *Hooks) SlotFound(ctx context.Context, slot Slot, screenshot string) {
	h.emit(ctx, Event{Kind: KindSlotFound, Slot: slot, Screenshot: screenshot})
}

func (h *Hooks) SlotBooked(ctx context.Context, slot Slot, screenshot string) {
	h.emit(ctx, Event{Kind: KindSlotBooked, Slot: slot, Screenshot: screenshot})
}

func (h *Hooks) Error(ctx context.Context, alias, message, screenshot string) {
	h.emit(ctx, Event{Kind: KindError, Slot: Slot{Alias: alias}, Message: message, Screenshot: screenshot})
}
