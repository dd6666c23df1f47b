package perception

import (
	"image"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
)

// MarkerSpec describes a solid coloured element, such as the badge of a free slot.
type MarkerSpec struct {
	HueMin, HueMax float64 // degrees; HueMin > HueMax wraps through 0
	MinSat, MinVal float64 // 0..1
	MinWidth       int
	MinHeight      int
	MinPurity      float64 // share of masked pixels inside the bounding box
	RowTolerance   int     // boxes whose tops differ by less are one row
}

func (s MarkerSpec) hueIn(h float64) bool {
	if s.HueMin <= s.HueMax {
		return h >= s.HueMin && h <= s.HueMax
	}
	return h >= s.HueMin || h <= s.HueMax
}

func (s MarkerSpec) mask(img image.Image) ([]bool, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	m := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c, ok := colorful.MakeColor(img.At(b.Min.X+x, b.Min.Y+y))
			if !ok {
				continue
			}
			hue, sat, val := c.Hsv()
			m[y*w+x] = sat >= s.MinSat && val >= s.MinVal && s.hueIn(hue)
		}
	}
	return m, w, h
}

// FindMarkers segments img by spec and returns the surviving component boxes
// ordered top to bottom, then left to right.
func FindMarkers(img image.Image, spec MarkerSpec) []image.Rectangle {
	m, w, h := spec.mask(img)
	seen := make([]bool, len(m))
	var boxes []image.Rectangle

	stack := make([]int, 0, 64)
	for start := range m {
		if !m[start] || seen[start] {
			continue
		}

		seen[start] = true
		stack = append(stack[:0], start)
		box := image.Rect(start%w, start/w, start%w+1, start/w+1)
		count := 0
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			count++
			x, y := i%w, i/w
			box = box.Union(image.Rect(x, y, x+1, y+1))

			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if m[j] && !seen[j] {
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}

		if box.Dx() < spec.MinWidth || box.Dy() < spec.MinHeight {
			continue
		}
		if float64(count)/float64(box.Dx()*box.Dy()) < spec.MinPurity {
			continue
		}
		boxes = append(boxes, box)
	}

	return readingOrder(boxes, spec.RowTolerance)
}

// readingOrder groups boxes into rows by their top edge, then sorts each row by x.
func readingOrder(boxes []image.Rectangle, tol int) []image.Rectangle {
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Min.Y < boxes[j].Min.Y })

	out := make([]image.Rectangle, 0, len(boxes))
	for start := 0; start < len(boxes); {
		end := start + 1
		for end < len(boxes) && boxes[end].Min.Y-boxes[start].Min.Y <= tol {
			end++
		}
		row := boxes[start:end]
		sort.SliceStable(row, func(i, j int) bool { return row[i].Min.X < row[j].Min.X })
		out = append(out, row...)
		start = end
	}
	return out
}
