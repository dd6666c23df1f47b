// Package calendar searches the portal's slot calendar month by month, drills
// into weeks with free slots and books the first acceptable one.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/consul-visit-booker/internal/audit"
	"github.com/hackgods/consul-visit-booker/internal/identity"
	"github.com/hackgods/consul-visit-booker/internal/perception"
	"github.com/hackgods/consul-visit-booker/internal/ports"
	redisclient "github.com/hackgods/consul-visit-booker/internal/redis"
	"github.com/hackgods/consul-visit-booker/internal/slots"
)

var (
	ErrConfirmation   = errors.New("booking not acknowledged")
	ErrUnexpectedPage = errors.New("unexpected calendar page")

	errCalendarEnd = errors.New("no further months")
)

var timeRe = regexp.MustCompile(`^([01]?\d|2[0-3])[:.]([0-5]\d)$`)

// StatusRecorder persists a booking into the identity's status file.
type StatusRecorder interface {
	RecordStatus(id *identity.Identity, rec identity.Record) error
}

type Result struct {
	Booked bool
	Slot   audit.Slot
}

type Finder struct {
	see      ports.Perception
	act      ports.Input
	registry slots.Registry
	locker   redisclient.Locker
	statuses StatusRecorder
	sink     audit.Sink
	cfg      Config
	log      zerolog.Logger

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

type Option func(*Finder)

func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(f *Finder) { f.sleep = fn }
}

func WithClock(now func() time.Time) Option {
	return func(f *Finder) { f.now = now }
}

func NewFinder(
	see ports.Perception,
	act ports.Input,
	registry slots.Registry,
	locker redisclient.Locker,
	statuses StatusRecorder,
	sink audit.Sink,
	cfg Config,
	log zerolog.Logger,
	opts ...Option,
) *Finder {
	f := &Finder{
		see:      see,
		act:      act,
		registry: registry,
		locker:   locker,
		statuses: statuses,
		sink:     sink,
		cfg:      cfg,
		log:      log.With().Str("component", "calendar").Logger(),
		sleep:    perception.Sleep,
		now:      time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// target is one search: an identity's consulate/service pair and its date floor.
type target struct {
	id        *identity.Identity
	consulate string
	service   string
	earliest  time.Time
}

func (t target) slot(date, hm string) audit.Slot {
	return audit.Slot{
		Alias:     t.id.Alias,
		Country:   t.id.Country,
		Consulate: t.consulate,
		Service:   t.service,
		Date:      date,
		Time:      hm,
	}
}

// descends reports whether a week may hold an acceptable slot.
func descends(w WeekRun, earliest time.Time) bool {
	if w.Open <= 0 {
		return false
	}
	end, err := w.EndDate()
	if err != nil {
		return false
	}
	return !end.Before(earliest)
}

// accepts reports whether day is inside week w and not before earliest.
func accepts(day time.Time, w WeekRun, earliest time.Time) bool {
	start, err := w.StartDate()
	if err != nil {
		return false
	}
	end, err := w.EndDate()
	if err != nil {
		return false
	}
	return !day.Before(start) && !day.After(end) && !day.Before(earliest)
}

// Search looks for a slot for consulate/service from the open slot page.
// A nil error with Booked false means the calendar had nothing acceptable.
func (f *Finder) Search(ctx context.Context, id *identity.Identity, consulate, service string) (Result, error) {
	t := target{id: id, consulate: consulate, service: service, earliest: id.EarliestAllowed(f.now())}
	log := f.log.With().Str("alias", id.Alias).Str("consulate", consulate).Str("service", service).Logger()

	if err := f.monthView(ctx); err != nil {
		return Result{}, err
	}

	iterations := 0
	tick := func() error {
		iterations++
		if iterations > f.cfg.MaxIterations {
			return fmt.Errorf("%w: gave up after %d views", ErrUnexpectedPage, f.cfg.MaxIterations)
		}
		return nil
	}

	for month := 0; month < f.cfg.MaxMonths; month++ {
		if month > 0 {
			err := f.nextMonth(ctx)
			if errors.Is(err, errCalendarEnd) {
				log.Info().Int("month", month).Msg("calendar ends")
				break
			}
			if err != nil {
				return Result{}, err
			}
		}
		if err := tick(); err != nil {
			return Result{}, err
		}

		weeks, err := f.readSummary(ctx)
		if errors.Is(err, ErrParseAnomaly) {
			log.Warn().Err(err).Int("month", month).Msg("month summary unreadable, treating as empty")
			continue
		}
		if err != nil {
			return Result{}, err
		}

		for _, w := range weeks {
			if !descends(w, t.earliest) {
				log.Debug().Str("week", w.Start).Int("open", w.Open).Msg("week skipped")
				continue
			}
			if err := f.registry.Add(ctx, id.Country, consulate, service, w.Start); err != nil {
				log.Warn().Err(err).Str("week", w.Start).Msg("registry add failed")
			}
			if err := tick(); err != nil {
				return Result{}, err
			}

			res, err := f.searchWeek(ctx, t, w)
			if err != nil || res.Booked {
				return res, err
			}
			if err := f.monthView(ctx); err != nil {
				return Result{}, err
			}
		}
	}
	return Result{}, nil
}

func (f *Finder) wait(ctx context.Context, d time.Duration) error { return f.sleep(ctx, d) }

func (f *Finder) templateHit(ctx context.Context, name string, scope perception.Region, probe perception.Probe) bool {
	q := perception.TemplateQuery{Name: name, Scope: scope, Confidence: f.cfg.TemplateConfidence}
	_, err := f.see.LocateTemplate(ctx, q, probe)
	return err == nil
}

// monthView switches the calendar to month granularity unless it already is.
func (f *Finder) monthView(ctx context.Context) error {
	quick := f.cfg.Probe
	quick.Attempts = 1
	tpl, scope := f.cfg.Templates, f.cfg.Layout.Toggle

	if f.templateHit(ctx, tpl.MonthView, scope, quick) {
		return nil
	}
	if !f.templateHit(ctx, tpl.WeekView, scope, quick) && !f.templateHit(ctx, tpl.DayView, scope, quick) {
		return fmt.Errorf("%w: view toggle not recognised", ErrUnexpectedPage)
	}

	m, err := f.see.LocateText(ctx, f.cfg.Labels.MonthToggle, scope, f.cfg.Probe)
	if err != nil {
		return fmt.Errorf("%w: month toggle: %w", ErrUnexpectedPage, err)
	}
	if err := f.act.Click(ctx, m.Point); err != nil {
		return err
	}
	if err := f.wait(ctx, f.cfg.Timing.Slow); err != nil {
		return err
	}
	if !f.templateHit(ctx, tpl.MonthView, scope, f.cfg.Probe) {
		return fmt.Errorf("%w: month view did not open", ErrUnexpectedPage)
	}
	return nil
}

func (f *Finder) nextMonth(ctx context.Context) error {
	q := perception.TemplateQuery{
		Name:       f.cfg.Templates.NextMonth,
		Scope:      f.cfg.Layout.NextMonth,
		Confidence: f.cfg.TemplateConfidence,
	}
	m, err := f.see.LocateTemplate(ctx, q, f.cfg.Probe)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errCalendarEnd
	}
	if err := f.act.Click(ctx, m.Point); err != nil {
		return err
	}
	return f.wait(ctx, f.cfg.Timing.PageLoad)
}

func (f *Finder) readSummary(ctx context.Context) ([]WeekRun, error) {
	words, err := f.see.ReadText(ctx, f.cfg.Layout.Summary)
	if err != nil {
		return nil, fmt.Errorf("read month summary: %w", err)
	}
	return ParseDateSlots(Words(words))
}

// searchWeek opens week w and scans its days Monday to Saturday.
func (f *Finder) searchWeek(ctx context.Context, t target, w WeekRun) (Result, error) {
	start, err := w.StartDate()
	if err != nil {
		return Result{}, fmt.Errorf("%w: week start %q", ErrUnexpectedPage, w.Start)
	}

	exact := f.cfg.Probe
	exact.Fuzzy = 1
	row, err := f.see.LocateText(ctx, w.Anchor, f.cfg.Layout.Summary, exact)
	if err != nil {
		return Result{}, fmt.Errorf("%w: week row %s: %w", ErrUnexpectedPage, w.Start, err)
	}
	if err := f.act.Click(ctx, row.Point); err != nil {
		return Result{}, err
	}
	if err := f.wait(ctx, f.cfg.Timing.PageLoad); err != nil {
		return Result{}, err
	}
	if !f.templateHit(ctx, f.cfg.Templates.WeekView, f.cfg.Layout.Toggle, f.cfg.Probe) {
		return Result{}, fmt.Errorf("%w: week %s did not open", ErrUnexpectedPage, w.Start)
	}

	for offset := 0; offset < 6; offset++ {
		day := start.AddDate(0, 0, offset)
		if !accepts(day, w, t.earliest) {
			continue
		}

		band, ok := f.dayBand(ctx, day.Weekday())
		if !ok {
			f.log.Debug().Str("day", day.Format(perception.DateLayout)).Msg("day column not found")
			continue
		}
		markers, err := f.see.FindMarkers(ctx, band, f.cfg.Marker)
		if err != nil {
			return Result{}, fmt.Errorf("scan %s: %w", day.Format(perception.DateLayout), err)
		}

		for _, m := range markers {
			res, err := f.book(ctx, t, w, day, m)
			if errors.Is(err, redisclient.ErrLockNotAcquired) {
				f.log.Info().Str("day", day.Format(perception.DateLayout)).Msg("slot held by another booker, skipping")
				continue
			}
			return res, err
		}
	}
	return Result{}, nil
}

// dayBand finds the column under the weekday label, scrolling once if the
// label is off screen.
func (f *Finder) dayBand(ctx context.Context, wd time.Weekday) (perception.Region, bool) {
	name := perception.WeekdayName(wd)
	m, err := f.see.LocateText(ctx, name, f.cfg.Layout.Week, f.cfg.Probe)
	if err != nil {
		if ctx.Err() != nil {
			return perception.Region{}, false
		}
		if err := f.act.Scroll(ctx, f.cfg.DayScroll); err != nil {
			return perception.Region{}, false
		}
		if err := f.wait(ctx, f.cfg.Timing.Fast); err != nil {
			return perception.Region{}, false
		}
		if m, err = f.see.LocateText(ctx, name, f.cfg.Layout.Week, f.cfg.Probe); err != nil {
			return perception.Region{}, false
		}
	}

	l := f.cfg.Layout
	cx := (m.Box.Min.X + m.Box.Max.X) / 2
	return perception.Region{
		X: cx - l.BandWidth/2,
		Y: m.Box.Max.Y,
		W: l.BandWidth,
		H: l.BandHeight,
	}, true
}

func (f *Finder) readTime(ctx context.Context, m perception.MatchResult) string {
	scope := perception.Region{X: m.Box.Min.X, Y: m.Box.Min.Y, W: m.Box.Dx(), H: m.Box.Dy()}
	words, err := f.see.ReadText(ctx, scope)
	if err != nil {
		return ""
	}
	for _, w := range words {
		if g := timeRe.FindStringSubmatch(strings.TrimSpace(w.Text)); g != nil {
			h := g[1]
			if len(h) == 1 {
				h = "0" + h
			}
			return h + ":" + g[2]
		}
	}
	return ""
}

func (f *Finder) screenshot(ctx context.Context) string {
	shot, err := f.see.Screenshot(ctx)
	if err != nil {
		f.log.Warn().Err(err).Msg("screenshot failed")
	}
	return shot
}

// book confirms the slot behind marker m under a per slot lock and records it.
func (f *Finder) book(ctx context.Context, t target, w WeekRun, day time.Time, m perception.MatchResult) (Result, error) {
	date := day.Format(perception.DateLayout)
	slot := t.slot(date, f.readTime(ctx, m))
	f.sink.SlotFound(ctx, slot, f.screenshot(ctx))

	key := redisclient.SlotKey{
		Country:   slot.Country,
		Consulate: slot.Consulate,
		Service:   slot.Service,
		Date:      slot.Date,
		Time:      slot.Time,
	}
	if err := f.locker.WithSlotLock(ctx, key, func(ctx context.Context) error {
		return f.confirm(ctx, m)
	}); err != nil {
		return Result{}, err
	}

	log := f.log.With().Str("alias", slot.Alias).Str("date", slot.Date).Str("time", slot.Time).Logger()
	log.Info().Msg("slot booked")

	rec := identity.Record{
		Consulate: t.consulate,
		Service:   t.service,
		Status:    identity.StatusBooked,
		Date:      slot.Date,
		Time:      slot.Time,
	}
	if err := f.statuses.RecordStatus(t.id, rec); err != nil {
		log.Error().Err(err).Msg("booking not persisted")
		f.sink.Error(ctx, slot.Alias, "booking not persisted: "+err.Error(), "")
	}
	if err := f.registry.Remove(ctx, slot.Country, slot.Consulate, slot.Service, w.Start); err != nil {
		log.Warn().Err(err).Msg("registry remove failed")
	}
	f.sink.SlotBooked(ctx, slot, f.screenshot(ctx))

	return Result{Booked: true, Slot: slot}, nil
}

// confirm walks the booking dialog: confirm, captcha, acknowledgement.
func (f *Finder) confirm(ctx context.Context, m perception.MatchResult) error {
	dialog := f.cfg.Layout.Dialog

	if err := f.act.Click(ctx, m.Point); err != nil {
		return err
	}
	if err := f.wait(ctx, f.cfg.Timing.Slow); err != nil {
		return err
	}
	btn, err := f.see.LocateText(ctx, f.cfg.Labels.Confirm, dialog, f.cfg.Probe)
	if err != nil {
		return fmt.Errorf("%w: confirm button: %w", ErrConfirmation, err)
	}

	for attempt := 0; attempt <= f.cfg.CaptchaRetries; attempt++ {
		if err := f.act.Click(ctx, btn.Point); err != nil {
			return err
		}
		if err := f.wait(ctx, f.cfg.Timing.Slow); err != nil {
			return err
		}

		if c, err := f.see.LocateText(ctx, f.cfg.Labels.Captcha, dialog, f.cfg.Probe); err == nil {
			f.log.Info().Int("attempt", attempt).Msg("captcha shown")
			if err := f.act.Click(ctx, c.Point.Add(f.cfg.Layout.CaptchaBox)); err != nil {
				return err
			}
			if err := f.wait(ctx, f.cfg.Timing.Captcha); err != nil {
				return err
			}
		}

		if _, err := f.see.LocateText(ctx, f.cfg.Labels.Processing, dialog, f.cfg.Probe); err == nil {
			f.dismiss(ctx)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn().Int("attempt", attempt).Msg("booking not acknowledged")
	}

	_ = f.act.Press(ctx, "esc")
	return ErrConfirmation
}

func (f *Finder) dismiss(ctx context.Context) {
	if m, err := f.see.LocateText(ctx, f.cfg.Labels.Dismiss, f.cfg.Layout.Dialog, f.cfg.Probe); err == nil {
		_ = f.act.Click(ctx, m.Point)
		return
	}
	_ = f.act.Press(ctx, "esc")
}
