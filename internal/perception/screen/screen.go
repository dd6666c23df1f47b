// Package screen captures one physical monitor through robotgo.
package screen

import (
	"context"
	"fmt"
	"image"

	"github.com/go-vgo/robotgo"
	"github.com/rs/zerolog"

	"github.com/hackgods/consul-visit-booker/internal/perception"
)

type Monitor struct {
	bounds perception.Region
}

// Open selects display index. When its size differs from the expected
// width and height a warning is logged and the real size wins.
func Open(index, width, height int, log zerolog.Logger) (*Monitor, error) {
	n := robotgo.DisplaysNum()
	if n == 0 {
		return nil, fmt.Errorf("no displays detected")
	}
	if index < 0 || index >= n {
		log.Warn().Int("monitor_index", index).Int("displays", n).Msg("monitor index out of range, using primary")
		index = 0
	}

	x, y, w, h := robotgo.GetDisplayBounds(index)
	if w != width || h != height {
		log.Warn().
			Int("want_w", width).Int("want_h", height).
			Int("got_w", w).Int("got_h", h).
			Msg("monitor size differs from layout")
	}
	log.Info().Int("index", index).Int("x", x).Int("y", y).Int("w", w).Int("h", h).Msg("using monitor")

	return &Monitor{bounds: perception.Region{X: x, Y: y, W: w, H: h}}, nil
}

func (m *Monitor) Bounds() perception.Region { return m.bounds }

// Capture grabs r, given in monitor-local pixels.
func (m *Monitor) Capture(ctx context.Context, r perception.Region) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Empty() {
		r = perception.Region{W: m.bounds.W, H: m.bounds.H}
	}

	img, err := robotgo.CaptureImg(m.bounds.X+r.X, m.bounds.Y+r.Y, r.W, r.H)
	if err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}
	return img, nil
}
