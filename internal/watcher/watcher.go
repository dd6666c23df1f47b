// Package watcher turns file changes in the identity directory into queue
// changes.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

type Op int

const (
	Created Op = iota + 1
	Modified
	Deleted
)

func (o Op) String() string {
	switch o {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

type Event struct {
	Op   Op
	Path string
}

// Handler receives every relevant change. ApplyChange runs on the watcher
// goroutine and must not block for long.
type Handler interface {
	ApplyChange(Event)
}

type Watcher struct {
	dir     string
	ext     string
	fs      *fsnotify.Watcher
	handler Handler
	log     zerolog.Logger
}

// New starts watching dir for *.yaml changes. The watch is active once New
// returns, so files written afterwards are never missed.
func New(dir string, h Handler, log zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:     dir,
		ext:     ".yaml",
		fs:      fw,
		handler: h,
		log:     log.With().Str("component", "watcher").Str("dir", dir).Logger(),
	}, nil
}

// Run dispatches events until ctx is done, then releases the watch.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	w.log.Info().Msg("watching identity directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.dispatch(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("fs watcher error")
		}
	}
}

func (w *Watcher) dispatch(ev fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(ev.Name), w.ext) {
		return
	}
	op, ok := translate(ev.Op)
	if !ok {
		return
	}
	w.log.Debug().Str("file", filepath.Base(ev.Name)).Str("op", op.String()).Msg("identity file changed")
	w.handler.ApplyChange(Event{Op: op, Path: ev.Name})
}

// translate maps fsnotify bits onto the three queue operations. A rename
// away from the directory looks like a removal; chmod is ignored.
func translate(op fsnotify.Op) (Op, bool) {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return Deleted, true
	case op.Has(fsnotify.Create):
		return Created, true
	case op.Has(fsnotify.Write):
		return Modified, true
	default:
		return 0, false
	}
}
