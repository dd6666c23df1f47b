// Package wizard drives one identity through the portal's booking wizard
// using only screen probes and simulated input.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/consul-visit-booker/internal/identity"
	"github.com/hackgods/consul-visit-booker/internal/perception"
	"github.com/hackgods/consul-visit-booker/internal/ports"
)

var (
	ErrStepFailure        = errors.New("wizard step failed")
	ErrLoginFailure       = fmt.Errorf("%w: login rejected", ErrStepFailure)
	ErrServiceUnavailable = errors.New("service not offered by consulate")
	ErrOutOfOrder         = errors.New("wizard step out of order")
)

type State int

const (
	NotLoggedIn State = iota
	LoggedIn
	WizardOpened
	PersonalDataFilled
	ConsulateSelected
	ServiceSelected
	SlotsSearchPage
	SlotFound
	SlotConfirmed
)

var stateNames = [...]string{
	"not_logged_in", "logged_in", "wizard_opened", "personal_data_filled",
	"consulate_selected", "service_selected", "slots_search_page", "slot_found", "slot_confirmed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// StepError names the wizard step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

func stepFailed(step string, cause error) error {
	if errors.Is(cause, ErrStepFailure) {
		return &StepError{Step: step, Err: cause}
	}
	return &StepError{Step: step, Err: fmt.Errorf("%w: %w", ErrStepFailure, cause)}
}

// Navigator is the per identity state machine. It is not safe for concurrent use.
type Navigator struct {
	see ports.Perception
	act ports.Input
	cfg Config
	log zerolog.Logger

	sleep func(context.Context, time.Duration) error
	state State
}

type Option func(*Navigator)

func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(n *Navigator) { n.sleep = fn }
}

func New(see ports.Perception, act ports.Input, cfg Config, log zerolog.Logger, opts ...Option) *Navigator {
	n := &Navigator{
		see:   see,
		act:   act,
		cfg:   cfg,
		log:   log.With().Str("component", "wizard").Logger(),
		sleep: perception.Sleep,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *Navigator) State() State { return n.state }

// Restart returns a logged in navigator to the start of the wizard so the
// next combination can be searched. Any other state resets to NotLoggedIn.
func (n *Navigator) Restart() {
	if n.state >= LoggedIn {
		n.state = LoggedIn
		return
	}
	n.state = NotLoggedIn
}

// Advance moves exactly one state forward.
func (n *Navigator) Advance(to State) error {
	if to != n.state+1 {
		return fmt.Errorf("%w: %s -> %s", ErrOutOfOrder, n.state, to)
	}
	n.log.Debug().Str("from", n.state.String()).Str("to", to.String()).Msg("wizard state")
	n.state = to
	return nil
}

func (n *Navigator) require(step string, from State) error {
	if n.state != from {
		return &StepError{Step: step, Err: fmt.Errorf("%w: in %s, want %s", ErrOutOfOrder, n.state, from)}
	}
	return nil
}

func (n *Navigator) wait(ctx context.Context, d time.Duration) error {
	return n.sleep(ctx, d)
}

func (n *Navigator) locate(ctx context.Context, query string, scope perception.Region) (perception.MatchResult, error) {
	return n.see.LocateText(ctx, query, scope, n.cfg.Probe)
}

// clickText clicks the centre of query found in scope.
func (n *Navigator) clickText(ctx context.Context, query string, scope perception.Region) (perception.MatchResult, error) {
	m, err := n.locate(ctx, query, scope)
	if err != nil {
		return m, err
	}
	return m, n.act.Click(ctx, m.Point)
}

func (n *Navigator) loggedIn(ctx context.Context) bool {
	_, _, err := n.see.LocateTextAny(ctx, n.cfg.Labels.Welcome, n.cfg.Layout.Welcome, n.cfg.Probe)
	return err == nil
}

// Login signs in with the identity's personal key. One failed submission is
// retried before giving up.
func (n *Navigator) Login(ctx context.Context, id *identity.Identity) error {
	if err := n.require("login", NotLoggedIn); err != nil {
		return err
	}
	if n.loggedIn(ctx) {
		n.log.Info().Str("alias", id.Alias).Msg("already logged in")
		return n.Advance(LoggedIn)
	}

	var last error
	for attempt := 1; attempt <= 2; attempt++ {
		if err := n.submitKey(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			last = err
			n.log.Warn().Err(err).Int("attempt", attempt).Str("alias", id.Alias).Msg("login attempt failed")
			continue
		}
		if n.loggedIn(ctx) {
			n.log.Info().Str("alias", id.Alias).Int("attempt", attempt).Msg("logged in")
			return n.Advance(LoggedIn)
		}
		last = errors.New("welcome banner not shown")
		n.log.Warn().Int("attempt", attempt).Str("alias", id.Alias).Msg("login not confirmed")
	}
	return &StepError{Step: "login", Err: fmt.Errorf("%w: %v", ErrLoginFailure, last)}
}

func (n *Navigator) submitKey(ctx context.Context, id *identity.Identity) error {
	l, t := n.cfg.Layout, n.cfg.Timing

	if _, err := n.clickText(ctx, n.cfg.Labels.PersonalKey, l.PersonalKey); err != nil {
		return fmt.Errorf("personal key tab: %w", err)
	}
	if err := n.wait(ctx, t.Slow); err != nil {
		return err
	}
	if _, err := n.clickText(ctx, n.cfg.Labels.SelectKey, l.SelectKey); err != nil {
		return fmt.Errorf("key picker: %w", err)
	}
	if err := n.wait(ctx, t.Slow); err != nil {
		return err
	}

	steps := []func() error{
		func() error { return n.act.Paste(ctx, id.KeyPath) },
		func() error { return n.act.Press(ctx, "enter") },
		func() error { return n.wait(ctx, t.Slow) },
		func() error { return n.act.Paste(ctx, id.KeyPassword) },
		func() error { return n.act.Press(ctx, "enter") },
		func() error { return n.wait(ctx, t.Settle) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (n *Navigator) reload(ctx context.Context) error {
	if err := n.act.Press(ctx, "f5"); err != nil {
		return err
	}
	return n.wait(ctx, n.cfg.Timing.PageLoad)
}

// OpenVisitWizard opens the visit booking form from the cabinet menu.
func (n *Navigator) OpenVisitWizard(ctx context.Context) error {
	if err := n.require("open_visit_wizard", LoggedIn); err != nil {
		return err
	}

	err := n.openVisit(ctx)
	if err != nil && ctx.Err() == nil {
		n.log.Warn().Err(err).Msg("visit entry not found, reloading")
		if rerr := n.reload(ctx); rerr != nil {
			return rerr
		}
		err = n.openVisit(ctx)
	}
	if err != nil {
		return stepFailed("open_visit_wizard", err)
	}
	return n.Advance(WizardOpened)
}

func (n *Navigator) openVisit(ctx context.Context) error {
	if _, err := n.clickText(ctx, n.cfg.Labels.VisitMenu, n.cfg.Layout.VisitMenu); err != nil {
		return fmt.Errorf("visit menu: %w", err)
	}
	if err := n.wait(ctx, n.cfg.Timing.PageLoad); err != nil {
		return err
	}
	if _, err := n.clickText(ctx, n.cfg.Labels.BookVisit, n.cfg.Layout.BookVisit); err != nil {
		return fmt.Errorf("book visit: %w", err)
	}
	return n.wait(ctx, n.cfg.Timing.PageLoad)
}

// FillPersonalData enters the birthdate and gender and moves on.
func (n *Navigator) FillPersonalData(ctx context.Context, id *identity.Identity) error {
	const step = "fill_personal_data"
	if err := n.require(step, WizardOpened); err != nil {
		return err
	}
	l, t := n.cfg.Layout, n.cfg.Timing

	if err := n.act.Scroll(ctx, 10); err != nil {
		return err
	}

	if _, err := n.clickText(ctx, n.cfg.Labels.Day, l.Day); err != nil {
		return stepFailed(step, fmt.Errorf("day field: %w", err))
	}
	if err := n.act.TypeText(ctx, fmt.Sprintf("%02d", id.Birthdate.Day())); err != nil {
		return err
	}

	field, err := n.clickText(ctx, n.cfg.Labels.Month, l.Month)
	if err != nil {
		return stepFailed(step, fmt.Errorf("month field: %w", err))
	}
	if err := n.wait(ctx, t.Fast); err != nil {
		return err
	}
	if err := n.pickMonth(ctx, id.Birthdate.Month(), field); err != nil {
		return stepFailed(step, err)
	}

	if _, err := n.clickText(ctx, n.cfg.Labels.Year, l.Year); err != nil {
		return stepFailed(step, fmt.Errorf("year field: %w", err))
	}
	if err := n.act.TypeText(ctx, strconv.Itoa(id.Birthdate.Year())); err != nil {
		return err
	}

	// Gender labels differ only in their endings; fuzzy matching would confuse them.
	gender := n.cfg.Labels.Male
	if id.Gender == identity.GenderFemale {
		gender = n.cfg.Labels.Female
	}
	exact := n.cfg.Probe
	exact.Fuzzy = 1
	g, err := n.see.LocateText(ctx, gender, l.Gender, exact)
	if err != nil {
		return stepFailed(step, fmt.Errorf("gender %s: %w", gender, err))
	}
	if err := n.act.Click(ctx, g.Point); err != nil {
		return err
	}

	if err := n.next(ctx); err != nil {
		return stepFailed(step, err)
	}
	return n.Advance(PersonalDataFilled)
}

// pickMonth chooses the genitive month name from the open dropdown,
// scrolling the list once when the name is below its fold.
func (n *Navigator) pickMonth(ctx context.Context, m time.Month, field perception.MatchResult) error {
	name := perception.MonthGenitive(m)
	list := n.cfg.Layout.MonthList

	if _, err := n.clickText(ctx, name, list); err == nil {
		return nil
	} else if ctx.Err() != nil {
		return ctx.Err()
	}

	hover := field.Point.Add(perception.Point{Y: field.Box.Dy() + list.H/2})
	if err := n.act.MoveTo(ctx, hover); err != nil {
		return err
	}
	if err := n.act.Scroll(ctx, n.cfg.MonthListScroll); err != nil {
		return err
	}
	if err := n.wait(ctx, n.cfg.Timing.Fast); err != nil {
		return err
	}
	if _, err := n.clickText(ctx, name, list); err != nil {
		return fmt.Errorf("month %s: %w", name, err)
	}
	return nil
}

func (n *Navigator) next(ctx context.Context) error {
	if err := n.wait(ctx, n.cfg.Timing.Slow); err != nil {
		return err
	}
	if _, err := n.clickText(ctx, n.cfg.Labels.Next, n.cfg.Layout.Next); err != nil {
		return fmt.Errorf("next button: %w", err)
	}
	return n.wait(ctx, n.cfg.Timing.Slow)
}

// combo pastes value into the combo box labelled label and confirms the
// first suggestion.
func (n *Navigator) combo(ctx context.Context, label string, scope perception.Region, value string) error {
	if _, err := n.clickText(ctx, label, scope); err != nil {
		return fmt.Errorf("%s field: %w", label, err)
	}
	actions := []func() error{
		func() error { return n.wait(ctx, n.cfg.Timing.Fast) },
		func() error { return n.act.Paste(ctx, value) },
		func() error { return n.wait(ctx, n.cfg.Timing.Fast) },
		func() error { return n.act.Press(ctx, "down") },
		func() error { return n.act.Press(ctx, "enter") },
		func() error { return n.wait(ctx, n.cfg.Timing.Fast) },
	}
	for _, a := range actions {
		if err := a(); err != nil {
			return err
		}
	}
	return nil
}

// SelectConsulate picks country and consulate and checks the service page opened.
func (n *Navigator) SelectConsulate(ctx context.Context, country, consulate string) error {
	const step = "select_consulate"
	if err := n.require(step, PersonalDataFilled); err != nil {
		return err
	}
	l := n.cfg.Layout

	if err := n.act.Scroll(ctx, 10); err != nil {
		return err
	}
	if err := n.combo(ctx, n.cfg.Labels.Country, l.Country, country); err != nil {
		return stepFailed(step, err)
	}
	if err := n.combo(ctx, n.cfg.Labels.Consulate, l.Consulate, consulate); err != nil {
		return stepFailed(step, err)
	}
	if err := n.next(ctx); err != nil {
		return stepFailed(step, err)
	}

	if _, err := n.locate(ctx, n.cfg.Labels.ServicePage, l.ServicePage); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n.log.Warn().Str("consulate", consulate).Msg("service page not shown, pressing next again")
		if nerr := n.next(ctx); nerr != nil {
			return stepFailed(step, nerr)
		}
		if _, err := n.locate(ctx, n.cfg.Labels.ServicePage, l.ServicePage); err != nil {
			return stepFailed(step, fmt.Errorf("service page: %w", err))
		}
	}
	return n.Advance(ConsulateSelected)
}

// SelectService chooses the service, sets the applicant checkbox and opens
// the slot search page.
func (n *Navigator) SelectService(ctx context.Context, service string, forMyself bool) error {
	const step = "select_service"
	if err := n.require(step, ConsulateSelected); err != nil {
		return err
	}
	l := n.cfg.Layout

	anchor, err := n.locate(ctx, n.cfg.Labels.ServiceField, l.ServiceForm)
	if err != nil {
		return stepFailed(step, fmt.Errorf("service field: %w", err))
	}
	// Suggestions open under the field. The service is typed twice before
	// its absence is taken to mean the consulate does not offer it.
	options := perception.Region{
		X: anchor.Box.Min.X,
		Y: anchor.Box.Max.Y,
		W: l.ServiceOptions.X,
		H: l.ServiceOptions.Y,
	}
	var picked bool
	for try := 0; try < 2 && !picked; try++ {
		if try > 0 {
			n.log.Debug().Str("service", service).Msg("service suggestion missed, retyping")
		}
		if err := n.typeService(ctx, anchor.Point.Add(l.ServiceInput), service); err != nil {
			return err
		}
		_, err := n.clickText(ctx, service, options)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		picked = err == nil
	}
	if !picked {
		return &StepError{Step: step, Err: fmt.Errorf("%w: %s", ErrServiceUnavailable, service)}
	}
	if err := n.Advance(ServiceSelected); err != nil {
		return err
	}

	if err := n.applicant(ctx, forMyself); err != nil {
		return stepFailed(step, err)
	}
	if err := n.next(ctx); err != nil {
		return stepFailed(step, err)
	}

	if _, err := n.locate(ctx, n.cfg.Labels.SlotsPage, l.SlotsPage); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n.log.Warn().Str("service", service).Msg("slot page not shown, reloading")
		if rerr := n.reload(ctx); rerr != nil {
			return rerr
		}
		if _, err := n.locate(ctx, n.cfg.Labels.SlotsPage, l.SlotsPage); err != nil {
			return stepFailed(step, fmt.Errorf("slot page: %w", err))
		}
	}
	return n.Advance(SlotsSearchPage)
}

// typeService replaces the service field contents with service.
func (n *Navigator) typeService(ctx context.Context, field perception.Point, service string) error {
	steps := []func() error{
		func() error { return n.act.Click(ctx, field) },
		func() error { return n.act.Hotkey(ctx, "ctrl", "a") },
		func() error { return n.act.Paste(ctx, service) },
		func() error { return n.wait(ctx, n.cfg.Timing.Slow) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// applicant ticks the "for myself" or "for another person" box unless it is
// already ticked.
func (n *Navigator) applicant(ctx context.Context, forMyself bool) error {
	label := n.cfg.Labels.ForMyself
	if !forMyself {
		label = n.cfg.Labels.ForOther
	}
	m, err := n.locate(ctx, label, n.cfg.Layout.Applicant)
	if err != nil {
		return fmt.Errorf("applicant %q: %w", label, err)
	}

	state, _, err := n.see.ClassifyCheckbox(ctx, checkboxScope(m.Box), n.cfg.Checkbox, n.cfg.CheckboxConfidence)
	if err != nil {
		return fmt.Errorf("classify checkbox: %w", err)
	}
	if state == perception.CheckChecked {
		n.log.Debug().Str("label", label).Msg("checkbox already checked")
		return nil
	}
	return n.act.Click(ctx, m.Point)
}

// checkboxScope is the square left of a checkbox label.
func checkboxScope(label image.Rectangle) perception.Region {
	side := label.Dy() + 20
	return perception.Region{X: label.Min.X - side - 8, Y: label.Min.Y - 10, W: side + 8, H: side}
}
