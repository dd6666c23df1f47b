package wizard

import (
	"time"

	"github.com/hackgods/consul-visit-booker/internal/perception"
)

// Labels are the portal texts the wizard probes for.
type Labels struct {
	Welcome     []string
	PersonalKey string
	SelectKey   string

	VisitMenu string
	BookVisit string

	Day    string
	Month  string
	Year   string
	Male   string
	Female string
	Next   string

	Country     string
	Consulate   string
	ServicePage string

	ServiceField string
	ForMyself    string
	ForOther     string
	SlotsPage    string
}

func DefaultLabels() Labels {
	return Labels{
		Welcome:      []string{"Вітаємо", "Вітаємо.", "Вітаємо,"},
		PersonalKey:  "Особистий ключ",
		SelectKey:    "Оберіть ключ на своєму носієві",
		VisitMenu:    "Запис на візит",
		BookVisit:    "Записатись на візит",
		Day:          "день",
		Month:        "місяць",
		Year:         "рік",
		Male:         "Чоловіча",
		Female:       "Жіноча",
		Next:         "Далі",
		Country:      "Країна",
		Consulate:    "Консульська установа",
		ServicePage:  "Оберіть послугу",
		ServiceField: "Послуга",
		ForMyself:    "Для себе",
		ForOther:     "Для іншої особи",
		SlotsPage:    "Оберіть дату та час",
	}
}

// Layout scopes every probe to the part of the 1920x1080 page it is expected in.
type Layout struct {
	Welcome     perception.Region
	PersonalKey perception.Region
	SelectKey   perception.Region

	VisitMenu perception.Region
	BookVisit perception.Region

	Day       perception.Region
	Month     perception.Region
	MonthList perception.Region
	Year      perception.Region
	Gender    perception.Region
	Next      perception.Region

	Country     perception.Region
	Consulate   perception.Region
	ServicePage perception.Region

	ServiceForm perception.Region
	// ServiceInput is the offset from the service label centre to its input.
	ServiceInput perception.Point
	// ServiceOptions is the size of the dropdown searched below the label.
	ServiceOptions perception.Point
	Applicant      perception.Region
	SlotsPage      perception.Region
}

func DefaultLayout() Layout {
	return Layout{
		Welcome:        perception.Span(270, 240, 540, 300),
		PersonalKey:    perception.Span(600, 420, 940, 520),
		SelectKey:      perception.Span(700, 420, 1200, 620),
		VisitMenu:      perception.Span(210, 100, 480, 160),
		BookVisit:      perception.Span(540, 300, 690, 360),
		Day:            perception.Span(170, 530, 260, 560),
		Month:          perception.Span(260, 530, 450, 560),
		MonthList:      perception.Span(260, 570, 390, 960),
		Year:           perception.Span(480, 530, 550, 560),
		Gender:         perception.Span(190, 660, 490, 710),
		Next:           perception.Span(190, 770, 360, 820),
		Country:        perception.Span(170, 640, 360, 680),
		Consulate:      perception.Span(170, 700, 560, 740),
		ServicePage:    perception.Span(170, 180, 900, 320),
		ServiceForm:    perception.Span(150, 250, 1000, 900),
		ServiceInput:   perception.Point{X: 0, Y: 40},
		ServiceOptions: perception.Point{X: 800, Y: 320},
		Applicant:      perception.Span(150, 300, 1000, 900),
		SlotsPage:      perception.Span(150, 150, 1100, 350),
	}
}

// Timing holds the fixed waits between wizard actions.
type Timing struct {
	Fast     time.Duration
	Slow     time.Duration
	Settle   time.Duration // after submitting credentials
	PageLoad time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Fast:     400 * time.Millisecond,
		Slow:     1200 * time.Millisecond,
		Settle:   8 * time.Second,
		PageLoad: 6 * time.Second,
	}
}

type Config struct {
	Labels Labels
	Layout Layout
	Timing Timing
	Probe  perception.Probe

	Checkbox           perception.CheckboxTemplates
	CheckboxConfidence float64
	MonthListScroll    int
}

func DefaultConfig() Config {
	probe := perception.DefaultProbe()
	probe.Attempts = 6
	probe.Interval = 500 * time.Millisecond

	return Config{
		Labels:             DefaultLabels(),
		Layout:             DefaultLayout(),
		Timing:             DefaultTiming(),
		Probe:              probe,
		Checkbox:           perception.CheckboxTemplates{Empty: "check_empty.png", Checked: "check_checked.png"},
		CheckboxConfidence: 0.85,
		MonthListScroll:    -2,
	}
}
