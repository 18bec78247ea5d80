// Package bezier fits ordered point sequences with cubic Bezier segments.
package bezier

import "seehuhn.de/go/geom/vec"

// Segment is a cubic Bezier curve approximating the raw points
// First..Last (inclusive) of the fitted sequence.
type Segment struct {
	P0, P1, P2, P3 vec.Vec2

	First int
	Last  int
}

// Points returns the number of raw points the segment approximates.
func (s Segment) Points() int {
	return s.Last - s.First + 1
}

// Chord returns P3 - P0.
func (s Segment) Chord() vec.Vec2 {
	return s.P3.Sub(s.P0)
}

// Line returns the degenerate cubic from a to b with its control points
// at 1/3 and 2/3 of the chord.
func Line(a, b vec.Vec2) Segment {
	d := b.Sub(a)
	return Segment{
		P0: a,
		P1: a.Add(d.Mul(1.0 / 3)),
		P2: a.Add(d.Mul(2.0 / 3)),
		P3: b,
	}
}

// Eval evaluates the curve at t.
func (s Segment) Eval(t float64) vec.Vec2 {
	mt := 1 - t
	b0 := mt * mt * mt
	b1 := 3 * mt * mt * t
	b2 := 3 * mt * t * t
	b3 := t * t * t
	return s.P0.Mul(b0).Add(s.P1.Mul(b1)).Add(s.P2.Mul(b2)).Add(s.P3.Mul(b3))
}

// Deriv evaluates the first derivative at t.
func (s Segment) Deriv(t float64) vec.Vec2 {
	mt := 1 - t
	d0 := s.P1.Sub(s.P0).Mul(3 * mt * mt)
	d1 := s.P2.Sub(s.P1).Mul(6 * mt * t)
	d2 := s.P3.Sub(s.P2).Mul(3 * t * t)
	return d0.Add(d1).Add(d2)
}

// Deriv2 evaluates the second derivative at t.
func (s Segment) Deriv2(t float64) vec.Vec2 {
	mt := 1 - t
	a := s.P2.Sub(s.P1.Mul(2)).Add(s.P0).Mul(6 * mt)
	b := s.P3.Sub(s.P2.Mul(2)).Add(s.P1).Mul(6 * t)
	return a.Add(b)
}

// normalize returns v scaled to unit length, or the zero vector if v has
// no length.
func normalize(v vec.Vec2) vec.Vec2 {
	l := v.Length()
	if l == 0 {
		return vec.Vec2{}
	}
	return v.Mul(1 / l)
}
