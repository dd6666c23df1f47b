// Package control exposes pause, resume and stop to operators, over a
// line-delimited TCP channel and through the HTTP API.
package control

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Reply tokens.
const (
	Paused   = "PAUSED"
	Resumed  = "RESUMED"
	Stopping = "STOPPING"
	Running  = "RUNNING"
	Unknown  = "UNKNOWN"
)

// Gate is the pause switch the scheduler polls.
type Gate interface {
	Pause()
	Resume()
	Paused() bool
}

// Controller maps commands to gate flips and the process stop function.
type Controller struct {
	gate     Gate
	stop     func()
	stopOnce sync.Once
	log      zerolog.Logger
}

func NewController(gate Gate, stop func(), log zerolog.Logger) *Controller {
	return &Controller{
		gate: gate,
		stop: stop,
		log:  log.With().Str("component", "control").Logger(),
	}
}

// Execute runs one command and returns its reply token. Commands are
// case-insensitive and surrounding whitespace is ignored.
func (c *Controller) Execute(cmd string) string {
	switch strings.ToLower(strings.TrimSpace(cmd)) {
	case "pause":
		c.gate.Pause()
		c.log.Info().Msg("paused by operator")
		return Paused
	case "resume":
		c.gate.Resume()
		c.log.Info().Msg("resumed by operator")
		return Resumed
	case "stop":
		c.stopOnce.Do(func() {
			c.log.Info().Msg("stop requested by operator")
			if c.stop != nil {
				c.stop()
			}
		})
		return Stopping
	case "status":
		return c.Status()
	default:
		return Unknown
	}
}

func (c *Controller) Status() string {
	if c.gate.Paused() {
		return Paused
	}
	return Running
}
