package wizard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consul-visit-booker/internal/identity"
	"github.com/hackgods/consul-visit-booker/internal/perception"
	"github.com/hackgods/consul-visit-booker/internal/ports/portstest"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newNav(t *testing.T, state State) (*Navigator, *portstest.Perception, *portstest.Input) {
	t.Helper()
	see := portstest.NewPerception()
	act := &portstest.Input{}
	n := New(see, act, DefaultConfig(), zerolog.Nop(), WithSleep(noSleep))
	n.state = state
	return n, see, act
}

func testIdentity() *identity.Identity {
	return &identity.Identity{
		Alias:       "alice",
		KeyPath:     "/keys/alice.jks",
		KeyPassword: "pw",
		Birthdate:   time.Date(1990, time.December, 5, 0, 0, 0, 0, time.UTC),
		Gender:      identity.GenderFemale,
		Country:     "Польща",
		Consulates:  []string{"Варшава"},
		Services:    []string{"Паспорт"},
		ForMyself:   true,
	}
}

func TestLoginShortCircuitsWhenWelcomeShown(t *testing.T) {
	n, see, act := newNav(t, NotLoggedIn)
	see.Texts["Вітаємо"] = []bool{true}

	require.NoError(t, n.Login(context.Background(), testIdentity()))
	assert.Equal(t, LoggedIn, n.State())
	assert.Empty(t, act.Actions)
}

func TestLoginSubmitsKeyAndPassword(t *testing.T) {
	n, see, act := newNav(t, NotLoggedIn)
	see.Texts["Вітаємо"] = []bool{false, true}
	see.Texts["Особистий ключ"] = []bool{true}
	see.Texts["Оберіть ключ на своєму носієві"] = []bool{true}

	require.NoError(t, n.Login(context.Background(), testIdentity()))
	assert.Equal(t, LoggedIn, n.State())
	assert.True(t, act.Has("paste /keys/alice.jks"))
	assert.True(t, act.Has("paste pw"))
	assert.Equal(t, 2, act.Count("press enter"))
}

func TestLoginFailsAfterOneRetry(t *testing.T) {
	n, see, act := newNav(t, NotLoggedIn)
	see.Texts["Особистий ключ"] = []bool{true}
	see.Texts["Оберіть ключ на своєму носієві"] = []bool{true}

	err := n.Login(context.Background(), testIdentity())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoginFailure)
	assert.ErrorIs(t, err, ErrStepFailure)

	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "login", se.Step)
	assert.Equal(t, 2, act.Count("paste pw"))
	assert.Equal(t, NotLoggedIn, n.State())
}

func TestOpenVisitWizardReloadsOnce(t *testing.T) {
	n, see, act := newNav(t, LoggedIn)
	see.Texts["Запис на візит"] = []bool{false, true}
	see.Texts["Записатись на візит"] = []bool{true}

	require.NoError(t, n.OpenVisitWizard(context.Background()))
	assert.Equal(t, WizardOpened, n.State())
	assert.Equal(t, 1, act.Count("press f5"))
}

func TestOpenVisitWizardGivesUp(t *testing.T) {
	n, _, act := newNav(t, LoggedIn)

	err := n.OpenVisitWizard(context.Background())
	assert.ErrorIs(t, err, ErrStepFailure)
	assert.ErrorIs(t, err, perception.ErrNotFound)
	assert.Equal(t, 1, act.Count("press f5"))
	assert.Equal(t, LoggedIn, n.State())
}

func TestFillPersonalDataScrollsMonthList(t *testing.T) {
	n, see, act := newNav(t, WizardOpened)
	for _, q := range []string{"день", "місяць", "рік", "Жіноча", "Далі"} {
		see.Texts[q] = []bool{true}
	}
	see.Texts["грудня"] = []bool{false, true}

	require.NoError(t, n.FillPersonalData(context.Background(), testIdentity()))
	assert.Equal(t, PersonalDataFilled, n.State())
	assert.True(t, act.Has("type 05"))
	assert.True(t, act.Has("type 1990"))
	assert.True(t, act.Has("scroll -2"))
	assert.Equal(t, 1, act.Count("move "))
	assert.Zero(t, see.Count("text Чоловіча"))
}

func TestFillPersonalDataMissingGender(t *testing.T) {
	n, see, _ := newNav(t, WizardOpened)
	for _, q := range []string{"день", "місяць", "рік", "грудня"} {
		see.Texts[q] = []bool{true}
	}

	err := n.FillPersonalData(context.Background(), testIdentity())
	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "fill_personal_data", se.Step)
	assert.Equal(t, WizardOpened, n.State())
}

func TestSelectConsulatePressesNextAgain(t *testing.T) {
	n, see, act := newNav(t, PersonalDataFilled)
	see.Texts["Країна"] = []bool{true}
	see.Texts["Консульська установа"] = []bool{true}
	see.Texts["Далі"] = []bool{true}
	see.Texts["Оберіть послугу"] = []bool{false, true}

	require.NoError(t, n.SelectConsulate(context.Background(), "Польща", "Варшава"))
	assert.Equal(t, ConsulateSelected, n.State())
	assert.True(t, act.Has("paste Польща"))
	assert.True(t, act.Has("paste Варшава"))
	assert.Equal(t, 2, act.Count("press down"))
	assert.Equal(t, 2, see.Count("text Далі"))
}

func TestSelectServiceUnavailable(t *testing.T) {
	n, see, act := newNav(t, ConsulateSelected)
	see.Texts["Послуга"] = []bool{true}

	err := n.SelectService(context.Background(), "Паспорт", true)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.NotErrorIs(t, err, ErrStepFailure)
	assert.Equal(t, ConsulateSelected, n.State())
	assert.Equal(t, 2, act.Count("paste Паспорт"))
	assert.Equal(t, 2, see.Count("text Паспорт"))
}

func TestSelectServiceRetypesAfterOneMiss(t *testing.T) {
	n, see, act := newNav(t, ConsulateSelected)
	see.Texts["Послуга"] = []bool{true}
	see.Texts["Паспорт"] = []bool{false, true}
	see.Texts["Для себе"] = []bool{true}
	see.Texts["Далі"] = []bool{true}
	see.Texts["Оберіть дату та час"] = []bool{true}

	require.NoError(t, n.SelectService(context.Background(), "Паспорт", true))
	assert.Equal(t, SlotsSearchPage, n.State())
	assert.Equal(t, 2, act.Count("paste Паспорт"))
	assert.Equal(t, 2, act.Count("hotkey ctrl+a"))
}

func TestSelectServiceChecksBoxOnlyWhenEmpty(t *testing.T) {
	applicant := portstest.Hit(DefaultLayout().Applicant).Point.String()

	cases := []struct {
		name  string
		state perception.CheckState
		click bool
	}{
		{"empty", perception.CheckEmpty, true},
		{"checked", perception.CheckChecked, false},
		{"unrecognised", perception.CheckNone, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, see, act := newNav(t, ConsulateSelected)
			see.Texts["Послуга"] = []bool{true}
			see.Texts["Паспорт"] = []bool{true}
			see.Texts["Для себе"] = []bool{true}
			see.Texts["Далі"] = []bool{true}
			see.Texts["Оберіть дату та час"] = []bool{true}
			see.OnCheckbox = func(perception.Region) perception.CheckState { return tc.state }

			require.NoError(t, n.SelectService(context.Background(), "Паспорт", true))
			assert.Equal(t, SlotsSearchPage, n.State())
			assert.Equal(t, tc.click, act.Has("click "+applicant))
			assert.True(t, act.Has("paste Паспорт"))
		})
	}
}

func TestSelectServiceReloadsForSlotPage(t *testing.T) {
	n, see, act := newNav(t, ConsulateSelected)
	see.Texts["Послуга"] = []bool{true}
	see.Texts["Паспорт"] = []bool{true}
	see.Texts["Для іншої особи"] = []bool{true}
	see.Texts["Далі"] = []bool{true}
	see.Texts["Оберіть дату та час"] = []bool{false, true}

	require.NoError(t, n.SelectService(context.Background(), "Паспорт", false))
	assert.Equal(t, SlotsSearchPage, n.State())
	assert.Equal(t, 1, act.Count("press f5"))
	assert.Zero(t, see.Count("text Для себе"))
}

func TestStepsRequireOrder(t *testing.T) {
	n, _, act := newNav(t, NotLoggedIn)

	err := n.OpenVisitWizard(context.Background())
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Empty(t, act.Actions)

	assert.ErrorIs(t, n.Advance(WizardOpened), ErrOutOfOrder)
	require.NoError(t, n.Advance(LoggedIn))
	require.NoError(t, n.Advance(WizardOpened))

	n.Restart()
	assert.Equal(t, LoggedIn, n.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "slots_search_page", SlotsSearchPage.String())
	assert.Equal(t, "slot_confirmed", SlotConfirmed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
