// Package booking runs one complete attempt for an identity: browser session,
// login, wizard and calendar search for each pending consulate/service pair.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/consul-visit-booker/internal/audit"
	"github.com/hackgods/consul-visit-booker/internal/calendar"
	"github.com/hackgods/consul-visit-booker/internal/identity"
	"github.com/hackgods/consul-visit-booker/internal/metrics"
	"github.com/hackgods/consul-visit-booker/internal/wizard"
)

type Outcome int

const (
	NotBooked Outcome = iota
	Booked
	Error
)

func (o Outcome) String() string {
	switch o {
	case Booked:
		return "booked"
	case Error:
		return "error"
	default:
		return "not_booked"
	}
}

// Wizard is the navigation state machine for one session.
type Wizard interface {
	Login(ctx context.Context, id *identity.Identity) error
	OpenVisitWizard(ctx context.Context) error
	FillPersonalData(ctx context.Context, id *identity.Identity) error
	SelectConsulate(ctx context.Context, country, consulate string) error
	SelectService(ctx context.Context, service string, forMyself bool) error
	Advance(to wizard.State) error
	Restart()
}

type Searcher interface {
	Search(ctx context.Context, id *identity.Identity, consulate, service string) (calendar.Result, error)
}

// Browser opens an isolated portal session for an identity.
type Browser interface {
	Open(ctx context.Context, alias string) (Session, error)
}

type Session interface {
	Close() error
}

type StatusRecorder interface {
	RecordStatus(id *identity.Identity, rec identity.Record) error
}

type Screenshotter interface {
	Screenshot(ctx context.Context) (string, error)
}

type Service struct {
	browser   Browser
	newWizard func() Wizard
	search    Searcher
	statuses  StatusRecorder
	sink      audit.Sink
	shots     Screenshotter
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

type Deps struct {
	Browser   Browser
	NewWizard func() Wizard
	Search    Searcher
	Statuses  StatusRecorder
	Sink      audit.Sink
	Shots     Screenshotter
	Metrics   *metrics.Metrics
}

func NewService(d Deps, log zerolog.Logger) *Service {
	sink := d.Sink
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Service{
		browser:   d.Browser,
		newWizard: d.NewWizard,
		search:    d.Search,
		statuses:  d.Statuses,
		sink:      sink,
		shots:     d.Shots,
		metrics:   d.Metrics,
		log:       log.With().Str("component", "booking").Logger(),
	}
}

// Work runs one attempt for id. It never panics and never returns an error:
// failures become the Error outcome and are reported to the audit sink.
func (s *Service) Work(ctx context.Context, id *identity.Identity) (out Outcome) {
	start := time.Now()
	log := s.log.With().Str("alias", id.Alias).Logger()

	defer func() {
		if r := recover(); r != nil {
			out = s.fail(ctx, id, fmt.Errorf("panic: %v", r))
		}
		if s.metrics != nil {
			s.metrics.ObserveAttempt(out.String(), time.Since(start).Seconds())
		}
		log.Info().Str("outcome", out.String()).Dur("took", time.Since(start)).Msg("attempt finished")
	}()

	s.sink.NextIdentity(ctx, id.Alias)
	log.Info().Int("pending", len(id.PendingCombinations())).Msg("attempt started")

	sess, err := s.browser.Open(ctx, id.Alias)
	if err != nil {
		return s.fail(ctx, id, fmt.Errorf("open browser: %w", err))
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn().Err(err).Msg("close browser session")
		}
	}()

	nav := s.newWizard()
	if err := nav.Login(ctx, id); err != nil {
		return s.fail(ctx, id, err)
	}

	for _, c := range id.PendingCombinations() {
		nav.Restart()

		res, err := s.combination(ctx, nav, id, c)
		if errors.Is(err, wizard.ErrServiceUnavailable) {
			s.unavailable(id, c, err)
			continue
		}
		if err != nil {
			return s.fail(ctx, id, fmt.Errorf("%s/%s: %w", c.Consulate, c.Service, err))
		}
		if res.Booked {
			if s.metrics != nil {
				s.metrics.SlotsBooked.Inc()
			}
			return Booked
		}
		log.Info().Str("consulate", c.Consulate).Str("service", c.Service).Msg("no acceptable slot")
	}
	return NotBooked
}

func (s *Service) combination(ctx context.Context, nav Wizard, id *identity.Identity, c identity.Combination) (calendar.Result, error) {
	steps := []func() error{
		func() error { return nav.OpenVisitWizard(ctx) },
		func() error { return nav.FillPersonalData(ctx, id) },
		func() error { return nav.SelectConsulate(ctx, id.Country, c.Consulate) },
		func() error { return nav.SelectService(ctx, c.Service, id.ForMyself) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return calendar.Result{}, err
		}
	}

	res, err := s.search.Search(ctx, id, c.Consulate, c.Service)
	if err != nil || !res.Booked {
		return res, err
	}
	if err := nav.Advance(wizard.SlotFound); err != nil {
		return res, err
	}
	return res, nav.Advance(wizard.SlotConfirmed)
}

func (s *Service) unavailable(id *identity.Identity, c identity.Combination, cause error) {
	log := s.log.With().Str("alias", id.Alias).Str("consulate", c.Consulate).Str("service", c.Service).Logger()
	log.Warn().Msg("service not offered, marking unavailable")

	rec := identity.Record{
		Consulate: c.Consulate,
		Service:   c.Service,
		Status:    identity.StatusUnavailable,
		Comment:   cause.Error(),
	}
	if err := s.statuses.RecordStatus(id, rec); err != nil {
		log.Error().Err(err).Msg("record unavailable status")
		return
	}
	if s.metrics != nil {
		s.metrics.Unavailable.Inc()
	}
}

func (s *Service) fail(ctx context.Context, id *identity.Identity, err error) Outcome {
	shot := ""
	if s.shots != nil {
		if p, serr := s.shots.Screenshot(ctx); serr == nil {
			shot = p
		}
	}

	ev := s.log.Error()
	if errors.Is(err, wizard.ErrStepFailure) {
		ev = s.log.Warn()
	}
	ev.Err(err).Str("alias", id.Alias).Str("screenshot", shot).Msg("attempt failed")

	s.sink.Error(ctx, id.Alias, err.Error(), shot)
	return Error
}
