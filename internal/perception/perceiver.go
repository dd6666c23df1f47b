package perception

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound means a bounded search ran out of attempts.
var ErrNotFound = errors.New("element not found")

// Screen captures monitor-local regions of one physical monitor.
type Screen interface {
	Capture(ctx context.Context, r Region) (image.Image, error)
	// Bounds is the monitor rectangle in global desktop coordinates.
	Bounds() Region
}

type OCR interface {
	Words(ctx context.Context, img image.Image) ([]Word, error)
}

// Probe bounds one perception call.
type Probe struct {
	Attempts      int
	Interval      time.Duration
	Fuzzy         float64
	MinConfidence float64
}

func DefaultProbe() Probe {
	return Probe{Attempts: 3, Interval: 200 * time.Millisecond, Fuzzy: 0.7, MinConfidence: 0.6}
}

func (p Probe) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// TemplateQuery selects a template search.
type TemplateQuery struct {
	Name       string
	Scope      Region
	Confidence float64
	Scales     []float64
}

type Option func(*Perceiver)

// WithSleep replaces the inter-attempt wait; tests pass a no-op.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(p *Perceiver) { p.sleep = fn }
}

// Perceiver runs bounded perception queries against a Screen.
type Perceiver struct {
	screen    Screen
	ocr       OCR
	templates *TemplateStore
	shotsDir  string
	sleep     func(context.Context, time.Duration) error
	log       zerolog.Logger
}

func NewPerceiver(screen Screen, ocr OCR, templates *TemplateStore, shotsDir string, log zerolog.Logger, opts ...Option) *Perceiver {
	p := &Perceiver{
		screen:    screen,
		ocr:       ocr,
		templates: templates,
		shotsDir:  shotsDir,
		sleep:     Sleep,
		log:       log.With().Str("component", "perception").Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Perceiver) bounds() Region {
	b := p.screen.Bounds()
	return Region{W: b.W, H: b.H}
}

// absolute maps a point local to scope into desktop coordinates.
func (p *Perceiver) absolute(scope Region, local Point) Point {
	return p.screen.Bounds().Origin().Add(scope.Origin()).Add(local)
}

// Capture grabs scope. An empty scope captures the whole monitor.
func (p *Perceiver) Capture(ctx context.Context, scope Region) (image.Image, error) {
	scope = scope.Clip(p.bounds())
	img, err := p.screen.Capture(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", scope, err)
	}
	return img, nil
}

// retry runs fn up to probe.Attempts times. fn reports a hit with ok.
// Capture and OCR errors count as misses.
func (p *Perceiver) retry(ctx context.Context, probe Probe, what string, fn func() (bool, error)) error {
	n := probe.attempts()
	for i := 0; i < n; i++ {
		ok, err := fn()
		if ok {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Debug().Err(err).Str("query", what).Int("attempt", i+1).Msg("probe error")
		}
		if i+1 < n {
			if err := p.sleep(ctx, probe.Interval); err != nil {
				return err
			}
		}
	}
	p.log.Debug().Str("query", what).Int("attempts", n).Msg("not found")
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

func (p *Perceiver) LocateTemplate(ctx context.Context, q TemplateQuery, probe Probe) (MatchResult, error) {
	scope := q.Scope.Clip(p.bounds())
	var res MatchResult
	err := p.retry(ctx, probe, q.Name, func() (bool, error) {
		img, err := p.Capture(ctx, scope)
		if err != nil {
			return false, err
		}
		m, ok, err := p.templates.LocateTemplate(img, q.Name, q.Confidence, q.Scales)
		if err != nil || !ok {
			return false, err
		}
		res = p.lift(scope, m)
		return true, nil
	})
	return res, err
}

// LocateText finds a phrase inside scope with fuzzy word matching.
func (p *Perceiver) LocateText(ctx context.Context, query string, scope Region, probe Probe) (MatchResult, error) {
	res, _, err := p.LocateTextAny(ctx, []string{query}, scope, probe)
	return res, err
}

// LocateTextAny returns the first of queries found and which one matched.
func (p *Perceiver) LocateTextAny(ctx context.Context, queries []string, scope Region, probe Probe) (MatchResult, string, error) {
	scope = scope.Clip(p.bounds())
	var (
		res     MatchResult
		matched string
	)
	err := p.retry(ctx, probe, fmt.Sprintf("%q", queries), func() (bool, error) {
		words, err := p.read(ctx, scope)
		if err != nil {
			return false, err
		}
		for _, q := range queries {
			box, conf, ok := FindPhrase(words, q, probe.Fuzzy, probe.MinConfidence)
			if !ok {
				continue
			}
			res = p.lift(scope, MatchResult{Point: center(box), Box: box, Score: conf})
			matched = q
			return true, nil
		}
		return false, nil
	})
	return res, matched, err
}

// ReadText returns the words recognised in scope, boxes in monitor-local pixels.
func (p *Perceiver) ReadText(ctx context.Context, scope Region) ([]Word, error) {
	scope = scope.Clip(p.bounds())
	words, err := p.read(ctx, scope)
	if err != nil {
		return nil, err
	}
	off := image.Pt(scope.X, scope.Y)
	for i := range words {
		words[i].Box = words[i].Box.Add(off)
	}
	return words, nil
}

func (p *Perceiver) read(ctx context.Context, scope Region) ([]Word, error) {
	img, err := p.Capture(ctx, scope)
	if err != nil {
		return nil, err
	}
	words, err := p.ocr.Words(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}
	return words, nil
}

func (p *Perceiver) ClassifyCheckbox(ctx context.Context, scope Region, tpl CheckboxTemplates, confidence float64) (CheckState, MatchResult, error) {
	scope = scope.Clip(p.bounds())
	img, err := p.Capture(ctx, scope)
	if err != nil {
		return CheckNone, MatchResult{}, err
	}
	state, m, err := p.templates.ClassifyCheckbox(img, tpl, confidence)
	if err != nil || state == CheckNone {
		return state, MatchResult{}, err
	}
	return state, p.lift(scope, m), nil
}

// FindMarkers returns marker boxes found in scope in reading order.
func (p *Perceiver) FindMarkers(ctx context.Context, scope Region, spec MarkerSpec) ([]MatchResult, error) {
	scope = scope.Clip(p.bounds())
	img, err := p.Capture(ctx, scope)
	if err != nil {
		return nil, err
	}
	boxes := FindMarkers(img, spec)
	out := make([]MatchResult, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, p.lift(scope, MatchResult{Point: center(b), Box: b, Score: 1}))
	}
	return out, nil
}

// Screenshot stores the whole monitor as a PNG and returns its path.
func (p *Perceiver) Screenshot(ctx context.Context) (string, error) {
	img, err := p.Capture(ctx, Region{})
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.shotsDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure screenshot dir: %w", err)
	}

	path := filepath.Join(p.shotsDir, uuid.NewString()+".png")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create screenshot: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("encode screenshot: %w", err)
	}
	return path, nil
}

// lift converts a match local to scope into monitor-local box and absolute point.
func (p *Perceiver) lift(scope Region, m MatchResult) MatchResult {
	off := image.Pt(scope.X, scope.Y)
	return MatchResult{
		Point: p.absolute(scope, m.Point),
		Box:   m.Box.Add(off),
		Score: m.Score,
	}
}
