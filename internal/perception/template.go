package perception

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/image/draw"
)

// gray is a luminance plane with float samples in [0,255].
type gray struct {
	w, h int
	pix  []float64
}

func (g *gray) at(x, y int) float64 { return g.pix[y*g.w+x] }

func toGray(img image.Image) *gray {
	b := img.Bounds()
	g := &gray{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			r, gg, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			g.pix[y*g.w+x] = (0.299*float64(r) + 0.587*float64(gg) + 0.114*float64(bb)) / 257
		}
	}
	return g
}

// half box-filters g down by a factor of two.
func (g *gray) half() *gray {
	out := &gray{w: g.w / 2, h: g.h / 2}
	out.pix = make([]float64, out.w*out.h)
	for y := 0; y < out.h; y++ {
		for x := 0; x < out.w; x++ {
			s := g.at(2*x, 2*y) + g.at(2*x+1, 2*y) + g.at(2*x, 2*y+1) + g.at(2*x+1, 2*y+1)
			out.pix[y*out.w+x] = s / 4
		}
	}
	return out
}

// integral holds summed-area tables of a plane and of its squares.
type integral struct {
	w     int
	sum   []float64
	sumSq []float64
}

func newIntegral(g *gray) *integral {
	w := g.w + 1
	in := &integral{w: w, sum: make([]float64, w*(g.h+1)), sumSq: make([]float64, w*(g.h+1))}
	for y := 1; y <= g.h; y++ {
		var row, rowSq float64
		for x := 1; x <= g.w; x++ {
			v := g.at(x-1, y-1)
			row += v
			rowSq += v * v
			in.sum[y*w+x] = in.sum[(y-1)*w+x] + row
			in.sumSq[y*w+x] = in.sumSq[(y-1)*w+x] + rowSq
		}
	}
	return in
}

func (in *integral) rect(t []float64, x, y, w, h int) float64 {
	return t[(y+h)*in.w+x+w] - t[y*in.w+x+w] - t[(y+h)*in.w+x] + t[y*in.w+x]
}

// tplStats caches the zero-mean template and its energy.
type tplStats struct {
	g      *gray
	zero   []float64
	energy float64
}

func newTplStats(g *gray) *tplStats {
	var mean float64
	for _, v := range g.pix {
		mean += v
	}
	mean /= float64(len(g.pix))
	st := &tplStats{g: g, zero: make([]float64, len(g.pix))}
	for i, v := range g.pix {
		d := v - mean
		st.zero[i] = d
		st.energy += d * d
	}
	return st
}

// score is TM_CCOEFF_NORMED at (x, y).
func score(img *gray, in *integral, t *tplStats, x, y int) float64 {
	n := float64(t.g.w * t.g.h)
	s := in.rect(in.sum, x, y, t.g.w, t.g.h)
	s2 := in.rect(in.sumSq, x, y, t.g.w, t.g.h)
	variance := s2 - s*s/n

	const eps = 1e-6
	if t.energy < eps {
		if variance < eps {
			return 1
		}
		return 0
	}
	if variance < eps {
		return 0
	}

	var cross float64
	for j := 0; j < t.g.h; j++ {
		row := (y+j)*img.w + x
		trow := j * t.g.w
		for i := 0; i < t.g.w; i++ {
			cross += img.pix[row+i] * t.zero[trow+i]
		}
	}
	return cross / math.Sqrt(variance*t.energy)
}

type candidate struct {
	x, y  int
	score float64
}

func exhaustive(img *gray, t *tplStats) []candidate {
	if t.g.w > img.w || t.g.h > img.h {
		return nil
	}
	in := newIntegral(img)
	out := make([]candidate, 0, (img.w-t.g.w+1)*(img.h-t.g.h+1))
	for y := 0; y <= img.h-t.g.h; y++ {
		for x := 0; x <= img.w-t.g.w; x++ {
			out = append(out, candidate{x: x, y: y, score: score(img, in, t, x, y)})
		}
	}
	return out
}

const (
	coarseMinSide = 24
	coarseKeep    = 8
	refineRadius  = 3
)

// bestMatch returns the highest scoring top-left corner of t inside img.
// Large templates are searched on a half-resolution pyramid level first and
// the strongest candidates refined at full resolution.
func bestMatch(img *gray, t *tplStats) (candidate, bool) {
	if t.g.w > img.w || t.g.h > img.h {
		return candidate{}, false
	}

	if t.g.w < coarseMinSide || t.g.h < coarseMinSide {
		return top(exhaustive(img, t))
	}

	coarse := exhaustive(img.half(), newTplStats(t.g.half()))
	sort.Slice(coarse, func(i, j int) bool { return coarse[i].score > coarse[j].score })
	if len(coarse) > coarseKeep {
		coarse = coarse[:coarseKeep]
	}

	in := newIntegral(img)
	best := candidate{score: math.Inf(-1)}
	for _, c := range coarse {
		for y := 2*c.y - refineRadius; y <= 2*c.y+refineRadius; y++ {
			for x := 2*c.x - refineRadius; x <= 2*c.x+refineRadius; x++ {
				if x < 0 || y < 0 || x > img.w-t.g.w || y > img.h-t.g.h {
					continue
				}
				if s := score(img, in, t, x, y); s > best.score {
					best = candidate{x: x, y: y, score: s}
				}
			}
		}
	}
	return best, !math.IsInf(best.score, -1)
}

func top(cs []candidate) (candidate, bool) {
	if len(cs) == 0 {
		return candidate{}, false
	}
	best := cs[0]
	for _, c := range cs[1:] {
		if c.score > best.score {
			best = c
		}
	}
	return best, true
}

type tplKey struct {
	name  string
	scale float64
}

// TemplateStore loads PNG templates from a directory and caches them per scale.
type TemplateStore struct {
	dir   string
	mu    sync.Mutex
	cache map[tplKey]*tplStats
}

func NewTemplateStore(dir string) *TemplateStore {
	return &TemplateStore{dir: dir, cache: make(map[tplKey]*tplStats)}
}

func (s *TemplateStore) load(name string, scale float64) (*tplStats, error) {
	if scale <= 0 {
		scale = 1
	}
	key := tplKey{name: name, scale: scale}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.cache[key]; ok {
		return st, nil
	}

	img, err := readPNG(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	if scale != 1 {
		img = resample(img, scale)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("template %s at scale %.2f is empty", name, scale)
	}

	st := newTplStats(toGray(img))
	s.cache[key] = st
	return st, nil
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode template %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func resample(src image.Image, scale float64) image.Image {
	b := src.Bounds()
	w := int(math.Round(float64(b.Dx()) * scale))
	h := int(math.Round(float64(b.Dy()) * scale))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// LocateTemplate scans img for the named template over every scale and keeps
// the global best. ok is false when the best score is below confidence.
func (s *TemplateStore) LocateTemplate(img image.Image, name string, confidence float64, scales []float64) (MatchResult, bool, error) {
	if len(scales) == 0 {
		scales = []float64{1}
	}

	plane := toGray(img)
	var (
		best  candidate
		size  image.Point
		found bool
	)
	for _, sc := range scales {
		t, err := s.load(name, sc)
		if err != nil {
			return MatchResult{}, false, err
		}
		c, ok := bestMatch(plane, t)
		if !ok {
			continue
		}
		if !found || c.score > best.score {
			best, size, found = c, image.Pt(t.g.w, t.g.h), true
		}
	}
	if !found || best.score < confidence {
		return MatchResult{Score: best.score}, false, nil
	}

	box := image.Rect(best.x, best.y, best.x+size.X, best.y+size.Y)
	return MatchResult{Point: center(box), Box: box, Score: best.score}, true, nil
}

// ScaleRange returns scales from lo to hi inclusive in the given step.
func ScaleRange(lo, hi, step float64) []float64 {
	if step <= 0 || hi < lo {
		return []float64{1}
	}
	var out []float64
	for s := lo; s <= hi+1e-9; s += step {
		out = append(out, math.Round(s*100)/100)
	}
	return out
}
