package calendar

import (
	"time"

	"github.com/hackgods/consul-visit-booker/internal/perception"
)

type Labels struct {
	MonthToggle string
	Confirm     string
	Captcha     string
	Processing  string
	Dismiss     string
}

// Templates are PNG names in the template directory.
type Templates struct {
	MonthView string
	WeekView  string
	DayView   string
	NextMonth string
}

type Layout struct {
	Toggle    perception.Region
	NextMonth perception.Region
	Summary   perception.Region
	Week      perception.Region
	Dialog    perception.Region

	// Day columns start under the weekday label.
	BandWidth  int
	BandHeight int
	// CaptchaBox is the offset from the captcha label to its checkbox.
	CaptchaBox perception.Point
}

type Timing struct {
	Fast     time.Duration
	Slow     time.Duration
	PageLoad time.Duration
	Captcha  time.Duration // time left for a human to finish the challenge
}

type Config struct {
	Labels    Labels
	Templates Templates
	Layout    Layout
	Timing    Timing
	Probe     perception.Probe
	Marker    perception.MarkerSpec

	TemplateConfidence float64
	CaptchaRetries     int
	MaxMonths          int
	MaxIterations      int
	DayScroll          int
}

func DefaultConfig() Config {
	probe := perception.DefaultProbe()
	probe.Attempts = 6
	probe.Interval = 500 * time.Millisecond

	return Config{
		Labels: Labels{
			MonthToggle: "Місяць",
			Confirm:     "Підтвердити",
			Captcha:     "Я не робот",
			Processing:  "Ми обробляємо",
			Dismiss:     "Зрозуміло",
		},
		Templates: Templates{
			MonthView: "visit_check_month.png",
			WeekView:  "visit_check_week.png",
			DayView:   "visit_check_day.png",
			NextMonth: "btn_next_month.png",
		},
		Layout: Layout{
			Toggle:     perception.Span(900, 200, 1400, 260),
			NextMonth:  perception.Span(1400, 200, 1800, 260),
			Summary:    perception.Span(150, 280, 1100, 980),
			Week:       perception.Span(150, 260, 1800, 1000),
			Dialog:     perception.Span(480, 220, 1440, 860),
			BandWidth:  240,
			BandHeight: 560,
			CaptchaBox: perception.Point{X: -40, Y: 0},
		},
		Timing: Timing{
			Fast:     400 * time.Millisecond,
			Slow:     1200 * time.Millisecond,
			PageLoad: 6 * time.Second,
			Captcha:  20 * time.Second,
		},
		Probe: probe,
		Marker: perception.MarkerSpec{
			HueMin:       90,
			HueMax:       160,
			MinSat:       0.35,
			MinVal:       0.35,
			MinWidth:     30,
			MinHeight:    14,
			MinPurity:    0.6,
			RowTolerance: 8,
		},
		TemplateConfidence: 0.8,
		CaptchaRetries:     1,
		MaxMonths:          3,
		MaxIterations:      12,
		DayScroll:          -5,
	}
}
