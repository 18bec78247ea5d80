package features

import (
	"math"

	"github.com/happyhackingspace/hzr/bezier"
	"seehuhn.de/go/geom/vec"
)

// minTimedPoints is the smallest run of samples fitted with a time curve;
// shorter runs assume uniform pen speed.
const minTimedPoints = 4

// uniformTime describes a segment drawn at constant speed over d seconds.
func uniformTime(d float64) [3]float64 {
	return [3]float64{d, d / 3, -d / 3}
}

// strokeTime returns features 7-9 for a pen-down segment of stroke st,
// whose normalized points are pts.
func strokeTime(s bezier.Segment, st Stroke, pts []vec.Vec2, timed bool, scale float64) [3]float64 {
	if !timed {
		return uniformTime(s.Chord().Length() / scale)
	}
	if s.Points() < minTimedPoints {
		return uniformTime((st[s.Last].T - st[s.First].T) / 1000)
	}

	ts := make([]float64, 0, s.Points())
	for i := s.First; i <= s.Last; i++ {
		ts = append(ts, (st[i].T-st[s.First].T)/1000)
	}
	return fitTime(pts[s.First:s.Last+1], ts)
}

// fitTime fits the cubic T(u) = T0·B0 + T1·B1 + T2·B2 + T3·B3 to the
// sample times ts (seconds, ts[0] == T0) at chord-length parameters of
// pts, with T0 and T3 fixed to the first and last sample.
func fitTime(pts []vec.Vec2, ts []float64) [3]float64 {
	u := bezier.ChordLengthParameterize(pts)
	t0, t3 := ts[0], ts[len(ts)-1]

	var c11, c12, c22, x1, x2 float64
	for i, t := range u {
		mt := 1 - t
		b0 := mt * mt * mt
		b1 := 3 * mt * mt * t
		b2 := 3 * mt * t * t
		b3 := t * t * t

		c11 += b1 * b1
		c12 += b1 * b2
		c22 += b2 * b2

		r := ts[i] - t0*b0 - t3*b3
		x1 += b1 * r
		x2 += b2 * r
	}

	det := c11*c22 - c12*c12
	if math.Abs(det) < 1e-12 {
		return uniformTime(t3 - t0)
	}
	t1 := (x1*c22 - x2*c12) / det
	t2 := (c11*x2 - c12*x1) / det
	return [3]float64{t3 - t0, t1 - t0, t2 - t3}
}
