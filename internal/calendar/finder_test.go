package calendar

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consul-visit-booker/internal/audit"
	"github.com/hackgods/consul-visit-booker/internal/identity"
	"github.com/hackgods/consul-visit-booker/internal/perception"
	"github.com/hackgods/consul-visit-booker/internal/ports/portstest"
	redisclient "github.com/hackgods/consul-visit-booker/internal/redis"
	"github.com/hackgods/consul-visit-booker/internal/slots"
)

var week = []string{"30.06.2025", "-", "06.07.2025", "5"}

type heldLocker struct{}

func (heldLocker) WithSlotLock(context.Context, redisclient.SlotKey, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type env struct {
	t      *testing.T
	cfg    Config
	see    *portstest.Perception
	act    *portstest.Input
	reg    *slots.Memory
	events *audit.Memory
	id     *identity.Identity
	locker redisclient.Locker

	months  [][]string // month summaries, advanced by clicking the next month arrow
	month   int
	markers map[time.Weekday]bool
}

func newEnv(t *testing.T, earliest time.Time, months ...[]string) *env {
	t.Helper()
	e := &env{
		t:       t,
		cfg:     DefaultConfig(),
		see:     portstest.NewPerception(),
		act:     &portstest.Input{},
		reg:     slots.NewMemory(),
		events:  audit.NewMemory(20),
		locker:  redisclient.NewLocalLocker(),
		months:  months,
		markers: map[time.Weekday]bool{},
		id: &identity.Identity{
			Alias:      "alice",
			Country:    "Польща",
			Consulates: []string{"Варшава"},
			Services:   []string{"Паспорт"},
			MinDate:    &earliest,
		},
	}

	e.see.Templates[e.cfg.Templates.MonthView] = []bool{true}
	e.see.Templates[e.cfg.Templates.WeekView] = []bool{true}
	e.see.Texts["30.06.2025"] = []bool{true}
	e.see.Texts[e.cfg.Labels.Confirm] = []bool{true}
	e.see.Texts[e.cfg.Labels.Processing] = []bool{true}
	e.see.Texts[e.cfg.Labels.Dismiss] = []bool{true}

	next := "click " + portstest.Hit(e.cfg.Layout.NextMonth).Point.String()
	e.act.OnAction = func(a string) {
		if a == next {
			e.month++
		}
	}
	e.see.OnRead = func(scope perception.Region) []perception.Word {
		if scope == e.cfg.Layout.Summary {
			if e.month < len(e.months) {
				return portstest.Words(e.months[e.month]...)
			}
			return nil
		}
		return portstest.Words("10:30")
	}
	e.see.OnText = func(query string, _ perception.Region) (perception.MatchResult, bool) {
		for i, wd := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday} {
			if perception.WeekdayName(wd) == query {
				box := image.Rect(200+i*250, 300, 300+i*250, 330)
				return perception.MatchResult{Point: perception.Point{X: 250 + i*250, Y: 315}, Box: box, Score: 1}, true
			}
		}
		return perception.MatchResult{}, false
	}
	e.see.OnMarkers = func(scope perception.Region) []perception.MatchResult {
		for wd := range e.markers {
			i := int(wd) - 1
			if scope.X == 250+i*250-e.cfg.Layout.BandWidth/2 {
				return []perception.MatchResult{portstest.Hit(perception.Region{X: scope.X + 10, Y: scope.Y + 40, W: 60, H: 20})}
			}
		}
		return nil
	}
	return e
}

func (e *env) finder() *Finder {
	return NewFinder(e.see, e.act, e.reg, e.locker, identity.NewStatusStore(e.t.TempDir()),
		audit.NewHooks(e.events, zerolog.Nop()), e.cfg, zerolog.Nop(),
		WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		WithClock(func() time.Time { return time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC) }),
	)
}

func (e *env) kinds() []audit.Kind {
	var out []audit.Kind
	for _, ev := range e.events.Events(0) {
		out = append(out, ev.Kind)
	}
	return out
}

func (e *env) snapshot() slots.Snapshot {
	s, err := e.reg.Snapshot(context.Background())
	require.NoError(e.t, err)
	return s
}

func day(d int) time.Time { return time.Date(2025, 7, d, 0, 0, 0, 0, time.UTC) }

func TestSearchBooksTuesdayInStraddlingWeek(t *testing.T) {
	past := []string{"23.06.2025", "-", "29.06.2025", "4"}
	e := newEnv(t, day(1), append(past, week...))
	e.markers[time.Monday] = true
	e.markers[time.Tuesday] = true

	res, err := e.finder().Search(context.Background(), e.id, "Варшава", "Паспорт")
	require.NoError(t, err)
	require.True(t, res.Booked)
	assert.Equal(t, "01.07.2025", res.Slot.Date)
	assert.Equal(t, "10:30", res.Slot.Time)

	assert.Equal(t, []audit.Kind{audit.KindSlotFound, audit.KindSlotBooked}, e.kinds())
	for _, ev := range e.events.Events(0) {
		assert.Equal(t, "01.07.2025", ev.Slot.Date)
		assert.Equal(t, "alice", ev.Slot.Alias)
	}

	st := e.id.StatusOf("Варшава", "Паспорт")
	assert.Equal(t, identity.StatusBooked, st.Status)
	assert.Equal(t, []string{"01.07.2025 10:30"}, st.Booked)

	// The earlier week ends before the floor and Monday 30.06 is below it.
	assert.Zero(t, e.see.Count("text 23.06.2025"))
	assert.Zero(t, e.see.Count("text "+perception.WeekdayName(time.Monday)))
	assert.Equal(t, 1, e.see.Count("markers"))
	assert.Empty(t, e.snapshot(), "consumed week leaves the registry")
}

func TestSearchWeekEndingOnFloorIsDescended(t *testing.T) {
	// 06.07 is the Sunday closing the week: it is descended but no weekday
	// up to Saturday qualifies.
	e := newEnv(t, day(6), week)
	e.markers[time.Saturday] = true

	res, err := e.finder().Search(context.Background(), e.id, "Варшава", "Паспорт")
	require.NoError(t, err)
	assert.False(t, res.Booked)
	assert.Equal(t, 1, e.see.Count("text 30.06.2025"))
	assert.Zero(t, e.see.Count("markers"))
	assert.Equal(t, []string{"30.06.2025"}, e.snapshot()["Польща"]["Варшава"]["Паспорт"])
}

func TestSearchWeekBeforeFloorIsSkipped(t *testing.T) {
	e := newEnv(t, day(7), week)
	e.markers[time.Tuesday] = true

	res, err := e.finder().Search(context.Background(), e.id, "Варшава", "Паспорт")
	require.NoError(t, err)
	assert.False(t, res.Booked)
	assert.Zero(t, e.see.Count("text 30.06.2025"))
	assert.Empty(t, e.snapshot())
}

func TestSearchSkipsWeeksWithoutOpenSlots(t *testing.T) {
	e := newEnv(t, day(1), []string{"30.06.2025", "-", "06.07.2025", "0"})

	res, err := e.finder().Search(context.Background(), e.id, "Варшава", "Паспорт")
	require.NoError(t, err)
	assert.False(t, res.Booked)
	assert.Zero(t, e.see.Count("text 30.06.2025"))
}

func TestSearchAdvancesPastUnreadableMonth(t *testing.T) {
	e := newEnv(t, day(1), []string{"30.06.2025", "06.07.2025"}, week)
	e.see.Templates[e.cfg.Templates.NextMonth] = []bool{true}
	e.markers[time.Wednesday] = true

	res, err := e.finder().Search(context.Background(), e.id, "Варшава", "Паспорт")
	require.NoError(t, err)
	require.True(t, res.Booked)
	assert.Equal(t, "02.07.2025", res.Slot.Date)
	assert.Equal(t, 1, e.month)
}

func TestSearchStopsAtMonthCeiling(t *testing.T) {
	empty := []string{"Немає", "місць"}
	e := newEnv(t, day(1), empty, empty, empty, empty, empty)
	e.see.Templates[e.cfg.Templates.NextMonth] = []bool{true}

	res, err := e.finder().Search(context.Background(), e.id, "Варшава", "Паспорт")
	require.NoError(t, err)
	assert.False(t, res.Booked)
	assert.Equal(t, e.cfg.MaxMonths-1, e.month)
}

func TestSearchIterationCeiling(t *testing.T) {
	e := newEnv(t, day(1), week)
	e.cfg.MaxIterations = 1

	_, err := e.finder().Search(context.Background(), e.id, "Варшава", "Паспорт")
	assert.ErrorIs(t, err, ErrUnexpectedPage)
}

func TestSearchUnrecognisedView(t *testing.T) {
	e := newEnv(t, day(1), week)
	delete(e.see.Templates, e.cfg.Templates.MonthView)
	delete(e.see.Templates, e.cfg.Templates.WeekView)

	_, err := e.finder().Search(context.Background(), e.id, "Варшава", "Паспорт")
	assert.ErrorIs(t, err, ErrUnexpectedPage)
}

func TestSearchSwitchesToMonthView(t *testing.T) {
	e := newEnv(t, day(1), week)
	e.see.Templates[e.cfg.Templates.MonthView] = []bool{false, true}
	e.see.Texts[e.cfg.Labels.MonthToggle] = []bool{true}
	e.markers[time.Tuesday] = true

	res, err := e.finder().Search(context.Background(), e.id, "Варшава", "Паспорт")
	require.NoError(t, err)
	assert.True(t, res.Booked)
	assert.True(t, e.act.Has("click "+portstest.Hit(e.cfg.Layout.Toggle).Point.String()))
}

func TestConfirmationFailureKeepsRegistryEntry(t *testing.T) {
	e := newEnv(t, day(1), week)
	delete(e.see.Texts, e.cfg.Labels.Processing)
	e.markers[time.Tuesday] = true

	_, err := e.finder().Search(context.Background(), e.id, "Варшава", "Паспорт")
	assert.ErrorIs(t, err, ErrConfirmation)

	confirm := "click " + portstest.Hit(e.cfg.Layout.Dialog).Point.String()
	assert.Equal(t, 1+e.cfg.CaptchaRetries, e.act.Count(confirm))
	assert.True(t, e.act.Has("press esc"))
	assert.Equal(t, []audit.Kind{audit.KindSlotFound}, e.kinds())
	assert.Equal(t, []string{"30.06.2025"}, e.snapshot()["Польща"]["Варшава"]["Паспорт"])
	assert.Equal(t, identity.StatusPending, e.id.StatusOf("Варшава", "Паспорт").Status)
}

func TestCaptchaThenAcknowledged(t *testing.T) {
	e := newEnv(t, day(1), week)
	e.see.Texts[e.cfg.Labels.Captcha] = []bool{true}
	e.see.Texts[e.cfg.Labels.Processing] = []bool{false, true}
	e.markers[time.Tuesday] = true

	res, err := e.finder().Search(context.Background(), e.id, "Варшава", "Паспорт")
	require.NoError(t, err)
	assert.True(t, res.Booked)

	captcha := portstest.Hit(e.cfg.Layout.Dialog).Point.Add(e.cfg.Layout.CaptchaBox)
	assert.Equal(t, 2, e.act.Count("click "+captcha.String()))
}

func TestLockedSlotIsSkipped(t *testing.T) {
	e := newEnv(t, day(1), week)
	e.locker = heldLocker{}
	e.markers[time.Tuesday] = true

	res, err := e.finder().Search(context.Background(), e.id, "Варшава", "Паспорт")
	require.NoError(t, err)
	assert.False(t, res.Booked)
	assert.Zero(t, e.see.Count("text "+e.cfg.Labels.Confirm))
}

func TestDescendAndAcceptRules(t *testing.T) {
	w := WeekRun{Start: "30.06.2025", End: "06.07.2025", Open: 5}

	assert.True(t, descends(w, day(1)))
	assert.True(t, descends(w, day(6)))
	assert.False(t, descends(w, day(7)))
	assert.False(t, descends(WeekRun{Start: w.Start, End: w.End}, day(1)))
	assert.False(t, descends(WeekRun{Start: w.Start, End: "bad", Open: 1}, day(1)))

	floor := day(1)
	assert.False(t, accepts(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), w, floor))
	assert.True(t, accepts(day(1), w, floor))
	assert.True(t, accepts(day(6), w, floor))
	assert.False(t, accepts(day(7), w, floor))
}
