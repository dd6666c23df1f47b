// Package portstest provides scripted Perception and Input fakes.
package portstest

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/hackgods/consul-visit-booker/internal/perception"
)

// Hit is the match a fake returns for scope: its centre, boxed by scope.
func Hit(scope perception.Region) perception.MatchResult {
	r := scope.Rect()
	return perception.MatchResult{
		Point: perception.Point{X: scope.X + scope.W/2, Y: scope.Y + scope.H/2},
		Box:   r,
		Score: 1,
	}
}

// Perception answers queries from scripts. A script is a sequence of
// hit/miss answers; its last answer repeats. Unscripted queries fall back to
// the On* hooks and otherwise miss.
type Perception struct {
	mu sync.Mutex

	Texts     map[string][]bool
	Templates map[string][]bool

	OnText     func(query string, scope perception.Region) (perception.MatchResult, bool)
	OnTemplate func(name string, scope perception.Region) (perception.MatchResult, bool)
	OnCheckbox func(scope perception.Region) perception.CheckState
	OnRead     func(scope perception.Region) []perception.Word
	OnMarkers  func(scope perception.Region) []perception.MatchResult

	Calls       []string
	Screenshots int
}

func NewPerception() *Perception {
	return &Perception{Texts: map[string][]bool{}, Templates: map[string][]bool{}}
}

func next(script map[string][]bool, key string) (hit, ok bool) {
	seq, ok := script[key]
	if !ok || len(seq) == 0 {
		return false, false
	}
	hit = seq[0]
	if len(seq) > 1 {
		script[key] = seq[1:]
	}
	return hit, true
}

func (p *Perception) record(format string, args ...any) {
	p.Calls = append(p.Calls, fmt.Sprintf(format, args...))
}

// Count returns how many recorded calls start with prefix.
func (p *Perception) Count(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (p *Perception) text(query string, scope perception.Region) (perception.MatchResult, bool) {
	if hit, ok := next(p.Texts, query); ok {
		return Hit(scope), hit
	}
	if p.OnText != nil {
		return p.OnText(query, scope)
	}
	return perception.MatchResult{}, false
}

func (p *Perception) LocateTemplate(_ context.Context, q perception.TemplateQuery, _ perception.Probe) (perception.MatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("template %s", q.Name)

	if hit, ok := next(p.Templates, q.Name); ok {
		if hit {
			return Hit(q.Scope), nil
		}
		return perception.MatchResult{}, perception.ErrNotFound
	}
	if p.OnTemplate != nil {
		if m, ok := p.OnTemplate(q.Name, q.Scope); ok {
			return m, nil
		}
	}
	return perception.MatchResult{}, perception.ErrNotFound
}

func (p *Perception) LocateText(_ context.Context, query string, scope perception.Region, _ perception.Probe) (perception.MatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("text %s", query)

	if m, ok := p.text(query, scope); ok {
		return m, nil
	}
	return perception.MatchResult{}, perception.ErrNotFound
}

func (p *Perception) LocateTextAny(_ context.Context, queries []string, scope perception.Region, _ perception.Probe) (perception.MatchResult, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("any %s", strings.Join(queries, "|"))

	for _, q := range queries {
		if m, ok := p.text(q, scope); ok {
			return m, q, nil
		}
	}
	return perception.MatchResult{}, "", perception.ErrNotFound
}

func (p *Perception) ClassifyCheckbox(_ context.Context, scope perception.Region, _ perception.CheckboxTemplates, _ float64) (perception.CheckState, perception.MatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("checkbox")

	if p.OnCheckbox == nil {
		return perception.CheckNone, perception.MatchResult{}, nil
	}
	st := p.OnCheckbox(scope)
	if st == perception.CheckNone {
		return st, perception.MatchResult{}, nil
	}
	return st, Hit(scope), nil
}

func (p *Perception) ReadText(_ context.Context, scope perception.Region) ([]perception.Word, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("read %s", scope)

	if p.OnRead == nil {
		return nil, nil
	}
	return p.OnRead(scope), nil
}

func (p *Perception) FindMarkers(_ context.Context, scope perception.Region, _ perception.MarkerSpec) ([]perception.MatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("markers %s", scope)

	if p.OnMarkers == nil {
		return nil, nil
	}
	return p.OnMarkers(scope), nil
}

func (p *Perception) Screenshot(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Screenshots++
	return fmt.Sprintf("shot-%d.png", p.Screenshots), nil
}

// Input records every action as a readable line.
type Input struct {
	mu      sync.Mutex
	Actions []string
	// OnAction runs after each recorded action.
	OnAction func(action string)
}

func (in *Input) add(format string, args ...any) error {
	in.mu.Lock()
	a := fmt.Sprintf(format, args...)
	in.Actions = append(in.Actions, a)
	hook := in.OnAction
	in.mu.Unlock()

	if hook != nil {
		hook(a)
	}
	return nil
}

func (in *Input) MoveTo(_ context.Context, p perception.Point) error { return in.add("move %s", p) }
func (in *Input) Click(_ context.Context, p perception.Point) error  { return in.add("click %s", p) }
func (in *Input) TypeText(_ context.Context, s string) error         { return in.add("type %s", s) }
func (in *Input) Paste(_ context.Context, s string) error            { return in.add("paste %s", s) }
func (in *Input) Press(_ context.Context, key string) error          { return in.add("press %s", key) }
func (in *Input) Scroll(_ context.Context, n int) error              { return in.add("scroll %d", n) }

func (in *Input) Hotkey(_ context.Context, keys ...string) error {
	return in.add("hotkey %s", strings.Join(keys, "+"))
}

// Has reports whether action was recorded.
func (in *Input) Has(action string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, a := range in.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Count returns how many actions start with prefix.
func (in *Input) Count(prefix string) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, a := range in.Actions {
		if strings.HasPrefix(a, prefix) {
			n++
		}
	}
	return n
}

// Words builds OCR words laid out left to right on one line.
func Words(texts ...string) []perception.Word {
	out := make([]perception.Word, len(texts))
	x := 0
	for i, t := range texts {
		w := 10 * max(len([]rune(t)), 1)
		out[i] = perception.Word{Text: t, Box: image.Rect(x, 0, x+w, 16), Confidence: 0.95}
		x += w + 6
	}
	return out
}
