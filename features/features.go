// Package features converts pen strokes into the per-segment feature
// sequence consumed by the recognizer network.
//
// Strokes are normalized into a square of side Scale, fitted with cubic
// Bezier segments, bridged with synthetic pen-up segments, and each
// segment is described by Dim scalars:
//
//	0    pen state (1 down, 0 up)
//	1-2  chord x and y, divided by Scale
//	3-4  angle and relative length of the leading control arm
//	5-6  angle and relative length of the trailing control arm
//	7-9  duration and time-curve control offsets in seconds, or zero
package features

import (
	"log/slog"
	"math"

	"github.com/happyhackingspace/hzr/bezier"
	"seehuhn.de/go/geom/rect"
	"seehuhn.de/go/geom/vec"
)

// Dim is the width of one feature vector.
const Dim = 10

const (
	// DefaultScale is the side of the square strokes are normalized into.
	DefaultScale = 7.0

	// DefaultTolerance is the squared-distance tolerance of the curve fit
	// in normalized units.
	DefaultTolerance = 0.2
)

// Sample is one pen sample. T is in milliseconds since an arbitrary
// epoch; a stroke whose samples all carry T == 0 has no timing data.
type Sample struct {
	X, Y float64
	T    float64
}

// Stroke is the sequence of samples of one pen-down interval.
type Stroke []Sample

// Timed reports whether the stroke carries timestamps.
func (s Stroke) Timed() bool {
	if len(s) == 0 {
		return false
	}
	return s[0].T != 0 || s[len(s)-1].T != 0
}

// Options controls preprocessing.
type Options struct {
	Scale     float64
	Tolerance float64

	// Timing enables the time-curve features 7-9.
	Timing bool

	// Logger receives fit fallback diagnostics. Nil discards them.
	Logger *slog.Logger
}

// DefaultOptions returns the options the shipped models were trained with.
func DefaultOptions() Options {
	return Options{
		Scale:     DefaultScale,
		Tolerance: DefaultTolerance,
		Timing:    true,
	}
}

func (o Options) withDefaults() Options {
	if o.Scale <= 0 {
		o.Scale = DefaultScale
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Segment is one emitted segment in normalized coordinates.
type Segment struct {
	bezier.Segment
	PenDown bool

	// Time holds features 7-9; all zero when timing is disabled.
	Time [3]float64
}

// Preprocess returns the flattened feature matrix [n × Dim] for strokes
// and the number of segments n.
func Preprocess(strokes []Stroke, opts Options) ([]float32, int) {
	opts = opts.withDefaults()
	segs := Extract(strokes, opts)
	out := make([]float32, 0, len(segs)*Dim)
	for _, s := range segs {
		out = s.append(out, opts.Scale)
	}
	return out, len(segs)
}

// Extract normalizes strokes and returns their segments in temporal
// order, pen-up bridges included.
func Extract(strokes []Stroke, opts Options) []Segment {
	opts = opts.withDefaults()
	norm := normalize(strokes, opts.Scale)

	var out []Segment
	var (
		havePrev  bool
		prevEnd   vec.Vec2
		prevT     float64
		prevTimed bool
	)
	for si, st := range strokes {
		if len(st) < 2 {
			continue
		}
		pts := norm[si]
		timed := st.Timed()

		if havePrev {
			up := Segment{Segment: bezier.Line(prevEnd, pts[0])}
			if opts.Timing {
				var d float64
				if prevTimed && timed {
					d = (st[0].T - prevT) / 1000
				} else {
					d = up.Chord().Length() / opts.Scale
				}
				up.Time = uniformTime(d)
			}
			out = append(out, up)
		}

		fitted, err := bezier.FitStroke(pts, opts.Tolerance)
		if err != nil || len(fitted) == 0 {
			opts.Logger.Debug("curve fit failed, using a straight segment", "stroke", si, "points", len(pts), "err", err)
			s := bezier.Line(pts[0], pts[len(pts)-1])
			s.Last = len(pts) - 1
			fitted = []bezier.Segment{s}
		}
		for _, s := range fitted {
			seg := Segment{Segment: s, PenDown: true}
			if opts.Timing {
				seg.Time = strokeTime(s, st, pts, timed, opts.Scale)
			}
			out = append(out, seg)
		}

		havePrev = true
		prevEnd = pts[len(pts)-1]
		prevT = st[len(st)-1].T
		prevTimed = timed
	}
	return out
}

// normalize translates all strokes so their common bounding box starts at
// the origin and scales both axes uniformly so its longer side is scale.
func normalize(strokes []Stroke, scale float64) [][]vec.Vec2 {
	box := rect.Rect{
		LLx: math.Inf(1), LLy: math.Inf(1),
		URx: math.Inf(-1), URy: math.Inf(-1),
	}
	for _, st := range strokes {
		for _, p := range st {
			box.LLx = math.Min(box.LLx, p.X)
			box.LLy = math.Min(box.LLy, p.Y)
			box.URx = math.Max(box.URx, p.X)
			box.URy = math.Max(box.URy, p.Y)
		}
	}

	factor := 1.0
	if side := math.Max(box.URx-box.LLx, box.URy-box.LLy); side > 0 && !math.IsInf(side, 0) {
		factor = scale / side
	}

	out := make([][]vec.Vec2, len(strokes))
	for i, st := range strokes {
		pts := make([]vec.Vec2, len(st))
		for j, p := range st {
			pts[j] = vec.Vec2{X: (p.X - box.LLx) * factor, Y: (p.Y - box.LLy) * factor}
		}
		out[i] = pts
	}
	return out
}

func (s Segment) append(dst []float32, scale float64) []float32 {
	chord := s.Chord()
	lead := s.P1.Sub(s.P0)
	trail := s.P2.Sub(s.P3)
	cl := chord.Length()

	var pen, leadRatio, trailRatio float64
	if s.PenDown {
		pen = 1
	}
	if cl > 0 {
		leadRatio = lead.Length() / cl
		trailRatio = trail.Length() / cl
	}

	return append(dst,
		float32(pen),
		float32(chord.X/scale),
		float32(chord.Y/scale),
		float32(angle(chord, lead)),
		float32(leadRatio),
		float32(-angle(chord.Mul(-1), trail)),
		float32(trailRatio),
		float32(s.Time[0]),
		float32(s.Time[1]),
		float32(s.Time[2]),
	)
}

// angle returns the signed angle from a to b, or 0 when either has no
// direction.
func angle(a, b vec.Vec2) float64 {
	if a.Length() == 0 || b.Length() == 0 {
		return 0
	}
	cross := a.X*b.Y - a.Y*b.X
	return math.Atan2(cross, a.Dot(b))
}
