package bezier

import (
	"errors"
	"math"

	"seehuhn.de/go/geom/vec"
)

const (
	// maxIterations bounds the Newton-Raphson reparameterization rounds
	// tried before a run of points is split.
	maxIterations = 20

	// maxDepth bounds the split recursion; at this depth the current
	// fit is accepted regardless of its error.
	maxDepth = 64
)

// ErrNonFinite is returned by FitStroke when a coordinate is NaN or
// infinite.
var ErrNonFinite = errors.New("bezier: non-finite coordinate")

// Fit approximates points with a minimal sequence of cubic segments whose
// squared distance to every point stays below tolerance. Fewer than two
// points yield no segments. If the points cannot be fitted, a single
// straight segment from the first to the last point is returned.
func Fit(points []vec.Vec2, tolerance float64) []Segment {
	if len(points) < 2 {
		return nil
	}
	segs, err := FitStroke(points, tolerance)
	if err != nil || len(segs) == 0 {
		s := Line(points[0], points[len(points)-1])
		s.Last = len(points) - 1
		return []Segment{s}
	}
	return segs
}

// FitStroke is like Fit but reports failures instead of substituting a
// fallback segment. Consecutive duplicate points are ignored; segment
// indices always refer to the original slice.
func FitStroke(points []vec.Vec2, tolerance float64) ([]Segment, error) {
	if len(points) < 2 {
		return nil, nil
	}
	for _, p := range points {
		if !isFinite(p.X) || !isFinite(p.Y) {
			return nil, ErrNonFinite
		}
	}

	pts := make([]vec.Vec2, 0, len(points))
	index := make([]int, 0, len(points))
	for i, p := range points {
		if i > 0 && p == points[i-1] {
			continue
		}
		pts = append(pts, p)
		index = append(index, i)
	}
	// a repeated last point still closes the stroke
	index[len(index)-1] = len(points) - 1

	n := len(pts)
	if n < 2 {
		return nil, nil
	}
	if n == 2 {
		s := Line(pts[0], pts[1])
		s.First, s.Last = index[0], index[1]
		return []Segment{s}, nil
	}

	f := &fitter{pts: pts, index: index, tol: tolerance}
	tan1 := normalize(pts[1].Sub(pts[0]))
	tan2 := normalize(pts[n-2].Sub(pts[n-1]))
	f.fitCubic(0, n-1, tan1, tan2, 0)
	return f.segs, nil
}

type fitter struct {
	pts   []vec.Vec2
	index []int
	tol   float64
	segs  []Segment
}

func (f *fitter) emit(s Segment, first, last int) {
	s.First = f.index[first]
	s.Last = f.index[last]
	f.segs = append(f.segs, s)
}

// fitCubic fits pts[first..last] with tangent directions tan1 (leaving
// the first point) and tan2 (leaving the last point, pointing backwards).
func (f *fitter) fitCubic(first, last int, tan1, tan2 vec.Vec2, depth int) {
	pts := f.pts[first : last+1]

	if len(pts) == 2 {
		dist := pts[0].Sub(pts[1]).Length() / 3
		f.emit(Segment{
			P0: pts[0],
			P1: pts[0].Add(tan1.Mul(dist)),
			P2: pts[1].Add(tan2.Mul(dist)),
			P3: pts[1],
		}, first, last)
		return
	}

	u := ChordLengthParameterize(pts)
	seg := generate(pts, u, tan1, tan2)
	maxErr, split := maxError(pts, seg, u)
	if maxErr < f.tol {
		f.emit(seg, first, last)
		return
	}

	if maxErr < f.tol*f.tol {
		prevErr, prevSplit := maxErr, split
		for range maxIterations {
			u = reparameterize(seg, pts, u)
			seg = generate(pts, u, tan1, tan2)
			maxErr, split = maxError(pts, seg, u)
			if maxErr < f.tol {
				f.emit(seg, first, last)
				return
			}
			// the fit stopped improving
			if split == prevSplit {
				ratio := maxErr / prevErr
				if ratio > 0.9999 && ratio < 1.0001 {
					break
				}
			}
			prevErr, prevSplit = maxErr, split
		}
	}

	if depth >= maxDepth {
		f.emit(seg, first, last)
		return
	}

	if split < 1 {
		split = 1
	}
	if split > len(pts)-2 {
		split = len(pts) - 2
	}
	center := normalize(pts[split-1].Sub(pts[split+1]))
	f.fitCubic(first, first+split, tan1, center, depth+1)
	f.fitCubic(first+split, last, center.Mul(-1), tan2, depth+1)
}

// generate solves the least-squares problem for the control point
// distances along tan1 and tan2, given the point parameters u.
func generate(pts []vec.Vec2, u []float64, tan1, tan2 vec.Vec2) Segment {
	first, last := pts[0], pts[len(pts)-1]

	var c00, c01, c11, x0, x1 float64
	for i, p := range pts {
		t := u[i]
		mt := 1 - t
		a0 := tan1.Mul(3 * t * mt * mt)
		a1 := tan2.Mul(3 * mt * t * t)

		c00 += a0.Dot(a0)
		c01 += a0.Dot(a1)
		c11 += a1.Dot(a1)

		// the curve with both control points collapsed onto the endpoints
		base := first.Mul(mt*mt*mt + 3*t*mt*mt).Add(last.Mul(3*mt*t*t + t*t*t))
		tmp := p.Sub(base)
		x0 += a0.Dot(tmp)
		x1 += a1.Dot(tmp)
	}

	var alphaL, alphaR float64
	if det := c00*c11 - c01*c01; det != 0 {
		alphaL = (x0*c11 - x1*c01) / det
		alphaR = (c00*x1 - c01*x0) / det
	}

	segLen := last.Sub(first).Length()
	eps := 1e-6 * segLen
	if alphaL <= eps || alphaR <= eps {
		d := segLen / 3
		return Segment{
			P0: first,
			P1: first.Add(tan1.Mul(d)),
			P2: last.Add(tan2.Mul(d)),
			P3: last,
		}
	}
	return Segment{
		P0: first,
		P1: first.Add(tan1.Mul(alphaL)),
		P2: last.Add(tan2.Mul(alphaR)),
		P3: last,
	}
}

// maxError returns the largest squared distance between a point and the
// curve at that point's parameter, and the index of that point.
func maxError(pts []vec.Vec2, s Segment, u []float64) (float64, int) {
	maxDist := 0.0
	split := len(pts) / 2
	for i, p := range pts {
		d := s.Eval(u[i]).Sub(p)
		if dist := d.Dot(d); dist > maxDist {
			maxDist = dist
			split = i
		}
	}
	return maxDist, split
}

func reparameterize(s Segment, pts []vec.Vec2, u []float64) []float64 {
	out := make([]float64, len(u))
	for i, p := range pts {
		out[i] = newtonRaphson(s, p, u[i])
	}
	return out
}

// newtonRaphson moves u one Newton step towards the parameter of the
// point on s closest to p.
func newtonRaphson(s Segment, p vec.Vec2, u float64) float64 {
	d := s.Eval(u).Sub(p)
	d1 := s.Deriv(u)
	d2 := s.Deriv2(u)
	num := d.Dot(d1)
	den := d1.Dot(d1) + d.Dot(d2)
	if den == 0 {
		return u
	}
	return u - num/den
}

// ChordLengthParameterize maps each point to its cumulative chord length,
// normalized to [0, 1]. Coincident points are spread uniformly.
func ChordLengthParameterize(pts []vec.Vec2) []float64 {
	u := make([]float64, len(pts))
	if len(pts) < 2 {
		return u
	}
	for i := 1; i < len(pts); i++ {
		u[i] = u[i-1] + pts[i].Sub(pts[i-1]).Length()
	}
	total := u[len(u)-1]
	if total == 0 {
		for i := range u {
			u[i] = float64(i) / float64(len(u)-1)
		}
		return u
	}
	for i := range u {
		u[i] /= total
	}
	return u
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
