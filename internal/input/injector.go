package input

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/consul-visit-booker/internal/perception"
)

// Device is the physical pointer and keyboard.
type Device interface {
	Location() (x, y int)
	Move(x, y int)
	Click(button string)
	KeyTap(key string, modifiers ...string) error
	Type(s string)
	Scroll(dy int)
}

type Clipboard interface {
	WriteAll(text string) error
}

// Range is a closed duration interval.
type Range struct {
	Min, Max time.Duration
}

func (r Range) pick(rng *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int63n(int64(r.Max-r.Min)+1))
}

type Options struct {
	Steps         int     // bezier samples per movement
	Radius        float64 // control point distance from start and end
	MoveDuration  Range
	TypeInterval  Range
	ScrollNotch   int
	ScrollDelay   time.Duration
	KeyDelay      time.Duration
	PasteModifier string
}

func DefaultOptions() Options {
	mod := "ctrl"
	if runtime.GOOS == "darwin" {
		mod = "cmd"
	}
	return Options{
		Steps:         30,
		Radius:        100,
		MoveDuration:  Range{Min: 400 * time.Millisecond, Max: 900 * time.Millisecond},
		TypeInterval:  Range{Min: 50 * time.Millisecond, Max: 120 * time.Millisecond},
		ScrollNotch:   100,
		ScrollDelay:   10 * time.Millisecond,
		KeyDelay:      150 * time.Millisecond,
		PasteModifier: mod,
	}
}

// Injector drives a Device like a person would. It owns the single physical
// input resource; the mutex only guards against accidental concurrent use.
type Injector struct {
	mu    sync.Mutex
	dev   Device
	clip  Clipboard
	opts  Options
	rng   *rand.Rand
	sleep func(context.Context, time.Duration) error
	log   zerolog.Logger
}

type Option func(*Injector)

func WithOptions(o Options) Option { return func(in *Injector) { in.opts = o } }

func WithRand(rng *rand.Rand) Option { return func(in *Injector) { in.rng = rng } }

func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(in *Injector) { in.sleep = fn }
}

func NewInjector(dev Device, clip Clipboard, log zerolog.Logger, opts ...Option) *Injector {
	in := &Injector{
		dev:   dev,
		clip:  clip,
		opts:  DefaultOptions(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: perception.Sleep,
		log:   log.With().Str("component", "input").Logger(),
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// MoveTo glides the pointer to p along a cubic bezier curve with two random
// control points, one near the start and one near the target.
func (in *Injector) MoveTo(ctx context.Context, p perception.Point) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.move(ctx, p)
}

func (in *Injector) move(ctx context.Context, p perception.Point) error {
	cx, cy := in.dev.Location()
	start := vec{float64(cx), float64(cy)}
	end := vec{float64(p.X), float64(p.Y)}
	pts := []vec{start, in.near(start), in.near(end), end}

	steps := max(in.opts.Steps, 2)
	pause := in.opts.MoveDuration.pick(in.rng) / time.Duration(steps)
	for i := 0; i < steps; i++ {
		b := bezier(pts, float64(i)/float64(steps-1))
		in.dev.Move(int(math.Round(b.x)), int(math.Round(b.y)))
		if err := in.sleep(ctx, pause); err != nil {
			return err
		}
	}
	in.dev.Move(p.X, p.Y)
	return nil
}

func (in *Injector) Click(ctx context.Context, p perception.Point) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if err := in.move(ctx, p); err != nil {
		return err
	}
	in.dev.Click("left")
	in.log.Debug().Stringer("at", p).Msg("click")
	return nil
}

// TypeText enters s one character at a time with a random cadence.
func (in *Injector) TypeText(ctx context.Context, s string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	for _, r := range s {
		in.dev.Type(string(r))
		if err := in.sleep(ctx, in.opts.TypeInterval.pick(in.rng)); err != nil {
			return err
		}
	}
	return nil
}

// Paste puts s on the clipboard and sends the paste shortcut.
func (in *Injector) Paste(ctx context.Context, s string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if err := in.clip.WriteAll(s); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	if err := in.sleep(ctx, in.opts.KeyDelay); err != nil {
		return err
	}
	return in.tap(ctx, "v", in.opts.PasteModifier)
}

func (in *Injector) Press(ctx context.Context, key string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.tap(ctx, key)
}

// Hotkey presses the last key while holding the others, e.g. Hotkey("ctrl", "r").
func (in *Injector) Hotkey(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.tap(ctx, keys[len(keys)-1], keys[:len(keys)-1]...)
}

func (in *Injector) tap(ctx context.Context, key string, mods ...string) error {
	if err := in.dev.KeyTap(key, mods...); err != nil {
		return fmt.Errorf("key %s: %w", key, err)
	}
	return in.sleep(ctx, in.opts.KeyDelay)
}

// Scroll turns the wheel by amount notches; positive scrolls up.
func (in *Injector) Scroll(ctx context.Context, amount int) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	notch := in.opts.ScrollNotch
	if amount < 0 {
		notch, amount = -notch, -amount
	}
	for i := 0; i < amount; i++ {
		in.dev.Scroll(notch)
		if err := in.sleep(ctx, in.opts.ScrollDelay); err != nil {
			return err
		}
	}
	return nil
}

type vec struct{ x, y float64 }

// near returns a random point between 0.3 and 1 radius away from v.
func (in *Injector) near(v vec) vec {
	ang := in.rng.Float64() * 2 * math.Pi
	r := in.opts.Radius * (0.3 + 0.7*in.rng.Float64())
	return vec{v.x + r*math.Cos(ang), v.y + r*math.Sin(ang)}
}

// bezier evaluates the curve through pts at t with De Casteljau's algorithm.
func bezier(pts []vec, t float64) vec {
	work := append([]vec(nil), pts...)
	for n := len(work); n > 1; n-- {
		for i := 0; i < n-1; i++ {
			work[i] = vec{
				x: (1-t)*work[i].x + t*work[i+1].x,
				y: (1-t)*work[i].y + t*work[i+1].y,
			}
		}
	}
	return work[0]
}
