package perception

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the portal's dd.mm.yyyy date format.
const DateLayout = "02.01.2006"

var genitiveMonths = [...]string{
	"січня", "лютого", "березня", "квітня", "травня", "червня",
	"липня", "серпня", "вересня", "жовтня", "листопада", "грудня",
}

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "Понеділок",
	time.Tuesday:   "Вівторок",
	time.Wednesday: "Середа",
	time.Thursday:  "Четвер",
	time.Friday:    "П'ятниця",
	time.Saturday:  "Субота",
	time.Sunday:    "Неділя",
}

// MonthGenitive returns the Ukrainian genitive month name ("липня" for July).
func MonthGenitive(m time.Month) string {
	if m < time.January || m > time.December {
		return ""
	}
	return genitiveMonths[m-1]
}

func WeekdayName(d time.Weekday) string { return weekdayNames[d] }

var (
	dateLike = regexp.MustCompile(`^[0-9ЗзZzОоOo]{1,2}\.[0-9ЗзZzОоOo]{1,2}\.[0-9ЗзZzОоOo]{4}$`)
	dateRe   = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)
	digitFix = strings.NewReplacer("З", "3", "з", "3", "Z", "3", "z", "3", "О", "0", "о", "0", "O", "0", "o", "0")
)

// NormalizeDateToken repairs OCR noise in a dd.mm.yyyy token. Letters that
// look like 3 or 0 become digits, and a lone day digit is widened: "0" is the
// clipped tail of "30", anything else gets a leading zero.
func NormalizeDateToken(tok string) (string, bool) {
	tok = strings.TrimLeft(strings.TrimSpace(tok), "([«\"'")
	tok = strings.TrimRight(tok, ",;:)]»\"'")
	if len(tok) > 0 && strings.HasSuffix(tok, ".") && strings.Count(tok, ".") == 3 {
		tok = strings.TrimSuffix(tok, ".")
	}
	if !dateLike.MatchString(tok) {
		return "", false
	}

	m := dateRe.FindStringSubmatch(digitFix.Replace(tok))
	if m == nil {
		return "", false
	}
	day, month, year := m[1], m[2], m[3]
	if len(day) == 1 {
		if day == "0" {
			day = "30"
		} else {
			day = "0" + day
		}
	}
	if len(month) == 1 {
		month = "0" + month
	}
	return day + "." + month + "." + year, true
}

// ParseDate parses a possibly noisy dd.mm.yyyy token.
func ParseDate(tok string) (time.Time, bool) {
	s, ok := NormalizeDateToken(tok)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseFirstDate returns the first date found in reading order. It accepts
// dd.mm.yyyy tokens, ranges glued into one token, and "1 липня 2025".
func ParseFirstDate(words []Word) (time.Time, bool) {
	for i, w := range words {
		for _, part := range SplitRange(w.Text) {
			if t, ok := ParseDate(part); ok {
				return t, true
			}
		}
		if i+2 < len(words) {
			if t, ok := spelledDate(words[i].Text, words[i+1].Text, words[i+2].Text); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func spelledDate(day, month, year string) (time.Time, bool) {
	d, err := strconv.Atoi(trimPunct(day))
	if err != nil || d < 1 || d > 31 {
		return time.Time{}, false
	}
	y, err := strconv.Atoi(trimPunct(year))
	if err != nil || y < 2000 {
		return time.Time{}, false
	}
	name := normalizeToken(month)
	for i, g := range genitiveMonths {
		if Similarity(name, g) >= 0.8 {
			t := time.Date(y, time.Month(i+1), d, 0, 0, 0, 0, time.UTC)
			if t.Day() != d {
				return time.Time{}, false
			}
			return t, true
		}
	}
	return time.Time{}, false
}

// IsDash reports whether tok is a hyphen or one of its typographic variants.
func IsDash(tok string) bool {
	switch strings.TrimSpace(tok) {
	case "-", "–", "—", "‒", "−":
		return true
	}
	return false
}

// SplitRange splits "30.06.2025-06.07.2025" into its sides and the dash.
func SplitRange(tok string) []string {
	for _, d := range []string{"—", "–", "‒", "−", "-"} {
		if i := strings.Index(tok, d); i > 0 && i < len(tok)-len(d) {
			return []string{tok[:i], "-", tok[i+len(d):]}
		}
	}
	return []string{tok}
}
