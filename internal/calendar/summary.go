package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/consul-visit-booker/internal/perception"
)

var ErrParseAnomaly = errors.New("calendar summary does not match date-date-count")

// maxFiller is how many stray tokens may sit between a week's end date and
// its slot count ("06.07.2025 вільно 5").
const maxFiller = 2

// WeekRun is one week line of the month view: "30.06.2025 - 06.07.2025 5".
type WeekRun struct {
	Start  string // dd.mm.yyyy
	End    string
	Open   int
	Anchor string // raw OCR text of the start token, used to click the row
}

func (w WeekRun) StartDate() (time.Time, error) { return time.Parse(perception.DateLayout, w.Start) }
func (w WeekRun) EndDate() (time.Time, error)   { return time.Parse(perception.DateLayout, w.End) }

type token struct {
	text string
	raw  string
}

// split expands glued ranges so every date and dash is its own token.
func split(raw []string) []token {
	var out []token
	for _, r := range raw {
		parts := perception.SplitRange(strings.TrimSpace(r))
		for _, p := range parts {
			if p == "" {
				continue
			}
			out = append(out, token{text: p, raw: r})
		}
	}
	return out
}

func count(tok string) (int, bool) {
	tok = strings.Trim(tok, "()[]:,;. ")
	if tok == "" {
		return 0, false
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ParseDateSlots extracts week runs from month view OCR tokens. Date tokens
// are repaired first. Tokens without any date yield no runs and no error;
// dates that never form a run are ErrParseAnomaly.
func ParseDateSlots(raw []string) ([]WeekRun, error) {
	toks := split(raw)

	var (
		runs  []WeekRun
		dates int
	)
	for i := 0; i < len(toks); i++ {
		start, ok := perception.NormalizeDateToken(toks[i].text)
		if !ok {
			continue
		}
		dates++

		run, next, ok := parseRun(toks, i, start)
		if !ok {
			continue
		}
		runs = append(runs, run)
		i = next
	}

	if len(runs) == 0 && dates > 0 {
		return nil, fmt.Errorf("%w: %d date tokens in %q", ErrParseAnomaly, dates, strings.Join(raw, " "))
	}
	return runs, nil
}

// parseRun reads "- date [filler...] count" after toks[i]. It returns the
// index of the count token.
func parseRun(toks []token, i int, start string) (WeekRun, int, bool) {
	if i+2 >= len(toks) || !perception.IsDash(toks[i+1].text) {
		return WeekRun{}, 0, false
	}
	end, ok := perception.NormalizeDateToken(toks[i+2].text)
	if !ok {
		return WeekRun{}, 0, false
	}

	for j := i + 3; j < len(toks) && j <= i+3+maxFiller; j++ {
		if _, isDate := perception.NormalizeDateToken(toks[j].text); isDate {
			return WeekRun{}, 0, false
		}
		if n, ok := count(toks[j].text); ok {
			return WeekRun{Start: start, End: end, Open: n, Anchor: toks[i].raw}, j, true
		}
	}
	return WeekRun{}, 0, false
}

// Words returns the OCR texts in reading order.
func Words(words []perception.Word) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, w.Text)
	}
	return out
}
