// Package browser opens one visible Chrome window per identity, each on its
// own user data directory.
package browser

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var ErrInvalidAlias = errors.New("invalid profile alias")

// Profiles provisions Chrome user data directories from a template profile.
// Persistent profiles live under Root/<alias> and are created once; otherwise
// every session gets a throwaway copy.
type Profiles struct {
	Template string
	Root     string
	Keep     bool
	log      zerolog.Logger
}

func NewProfiles(template, root string, keep bool, log zerolog.Logger) *Profiles {
	return &Profiles{
		Template: template,
		Root:     root,
		Keep:     keep,
		log:      log.With().Str("component", "profiles").Logger(),
	}
}

// Prepare returns the profile directory for alias and a release function the
// caller runs once the browser has exited.
func (p *Profiles) Prepare(alias string) (string, func() error, error) {
	if alias == "" || alias != filepath.Base(alias) || alias == "." || alias == ".." {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidAlias, alias)
	}
	if p.Keep {
		dir, err := p.persistent(alias)
		return dir, func() error { return nil }, err
	}

	dir, err := os.MkdirTemp("", "chrome_"+alias+"_")
	if err != nil {
		return "", nil, fmt.Errorf("create temp profile: %w", err)
	}
	if err := p.seed(dir); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	p.log.Debug().Str("alias", alias).Str("dir", dir).Msg("temporary profile ready")
	return dir, func() error { return os.RemoveAll(dir) }, nil
}

func (p *Profiles) persistent(alias string) (string, error) {
	dir := filepath.Join(p.Root, alias)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		p.log.Debug().Str("alias", alias).Msg("reusing persistent profile")
		return dir, nil
	}
	if err := os.MkdirAll(p.Root, 0o755); err != nil {
		return "", fmt.Errorf("create profiles root: %w", err)
	}
	if err := p.seed(dir); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	p.log.Info().Str("alias", alias).Str("dir", dir).Msg("persistent profile created")
	return dir, nil
}

// seed copies the template into dir. A missing template yields an empty
// profile so a first run can still log in by hand.
func (p *Profiles) seed(dir string) error {
	if _, err := os.Stat(p.Template); errors.Is(err, fs.ErrNotExist) {
		p.log.Warn().Str("template", p.Template).Msg("profile template missing, starting empty")
		return os.MkdirAll(dir, 0o755)
	}
	if err := os.CopyFS(dir, os.DirFS(p.Template)); err != nil {
		return fmt.Errorf("copy profile template: %w", err)
	}
	return nil
}
