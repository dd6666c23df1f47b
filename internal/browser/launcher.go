package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/hackgods/consul-visit-booker/internal/booking"
	"github.com/hackgods/consul-visit-booker/internal/perception"
)

type Options struct {
	Bin     string            // empty lets rod locate or fetch a browser
	URL     string            // page opened in the new window
	Window  perception.Region // absolute screen rectangle for the window
	Settle  time.Duration     // wait after the page loads
	Connect time.Duration
}

// Launcher starts a headful Chrome on the automation monitor. Chrome is only
// driven through the screen; rod is used to start, place and stop it.
type Launcher struct {
	opts     Options
	profiles *Profiles
	log      zerolog.Logger
}

var _ booking.Browser = (*Launcher)(nil)

func NewLauncher(opts Options, profiles *Profiles, log zerolog.Logger) *Launcher {
	if opts.Connect <= 0 {
		opts.Connect = 30 * time.Second
	}
	return &Launcher{
		opts:     opts,
		profiles: profiles,
		log:      log.With().Str("component", "browser").Logger(),
	}
}

// Session is one running browser with its profile.
type Session struct {
	alias   string
	browser *rod.Browser
	proc    *launcher.Launcher
	release func() error
	log     zerolog.Logger
}

func (l *Launcher) flags(dir string) *launcher.Launcher {
	w := l.opts.Window
	ln := launcher.New().
		Headless(false).
		Leakless(true).
		UserDataDir(dir).
		Set("new-window").
		Set("window-position", fmt.Sprintf("%d,%d", w.X, w.Y)).
		Set("window-size", fmt.Sprintf("%d,%d", w.W, w.H)).
		Set("disable-blink-features", "AutomationControlled")
	if l.opts.Bin != "" {
		ln = ln.Bin(l.opts.Bin)
	}
	return ln
}

// Open provisions the alias profile, launches Chrome and navigates to the
// portal.
func (l *Launcher) Open(ctx context.Context, alias string) (booking.Session, error) {
	dir, release, err := l.profiles.Prepare(alias)
	if err != nil {
		return nil, err
	}
	log := l.log.With().Str("alias", alias).Logger()

	proc := l.flags(dir)
	controlURL, err := proc.Context(ctx).Launch()
	if err != nil {
		_ = release()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		proc.Kill()
		_ = release()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	// Detach from the attempt context so Close still works after it ends.
	b = b.Context(context.Background())

	sess := &Session{alias: alias, browser: b, proc: proc, release: release, log: log}
	if l.opts.URL != "" {
		if err := sess.navigate(l.opts.URL, l.opts.Connect); err != nil {
			_ = sess.Close()
			return nil, err
		}
	}
	log.Info().Str("profile", dir).Str("url", l.opts.URL).Msg("browser session opened")

	if l.opts.Settle > 0 {
		if err := perception.Sleep(ctx, l.opts.Settle); err != nil {
			_ = sess.Close()
			return nil, err
		}
	}
	return sess, nil
}

func (s *Session) navigate(url string, timeout time.Duration) error {
	page, err := s.browser.Timeout(timeout).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		s.log.Warn().Err(err).Msg("portal did not finish loading")
	}
	return nil
}

// Close stops Chrome and releases the profile. It is safe to call twice.
func (s *Session) Close() error {
	if s.browser == nil {
		return nil
	}
	var errs []error
	if err := s.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	s.proc.Kill()
	if err := s.release(); err != nil {
		errs = append(errs, fmt.Errorf("release profile: %w", err))
	}
	s.browser = nil
	s.log.Info().Msg("browser session closed")
	return errors.Join(errs...)
}
