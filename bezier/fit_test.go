package bezier

import (
	"math"
	"testing"

	"seehuhn.de/go/geom/vec"
)

func TestFitTwoPoints(t *testing.T) {
	for _, scale := range []float64{0.5, 1, 7, 1000} {
		a := vec.Vec2{X: 1 * scale, Y: 2 * scale}
		b := vec.Vec2{X: 4 * scale, Y: -1 * scale}
		segs := Fit([]vec.Vec2{a, b}, 0.2)
		if len(segs) != 1 {
			t.Fatalf("scale %v: got %d segments, want 1", scale, len(segs))
		}
		s := segs[0]
		if s.P0 != a || s.P3 != b {
			t.Errorf("scale %v: endpoints = %v, %v", scale, s.P0, s.P3)
		}
		want1 := a.Add(b.Sub(a).Mul(1.0 / 3))
		want2 := a.Add(b.Sub(a).Mul(2.0 / 3))
		if s.P1.Sub(want1).Length() > 1e-9*scale || s.P2.Sub(want2).Length() > 1e-9*scale {
			t.Errorf("scale %v: controls = %v, %v; want %v, %v", scale, s.P1, s.P2, want1, want2)
		}
		if s.First != 0 || s.Last != 1 {
			t.Errorf("scale %v: range = [%d, %d]", scale, s.First, s.Last)
		}
	}
}

func TestFitTooFewPoints(t *testing.T) {
	if segs := Fit(nil, 0.2); len(segs) != 0 {
		t.Errorf("nil points: got %d segments", len(segs))
	}
	if segs := Fit([]vec.Vec2{{X: 1, Y: 1}}, 0.2); len(segs) != 0 {
		t.Errorf("one point: got %d segments", len(segs))
	}
}

func TestFitCollinear(t *testing.T) {
	var pts []vec.Vec2
	for i := range 50 {
		pts = append(pts, vec.Vec2{X: float64(i), Y: 2 * float64(i)})
	}
	segs := Fit(pts, 0.2)
	if len(segs) != 1 {
		t.Fatalf("got %d segments for a straight line, want 1", len(segs))
	}
	if segs[0].First != 0 || segs[0].Last != 49 {
		t.Errorf("range = [%d, %d], want [0, 49]", segs[0].First, segs[0].Last)
	}
}

func TestFitCornerSplits(t *testing.T) {
	var pts []vec.Vec2
	for i := range 10 {
		pts = append(pts, vec.Vec2{X: 0, Y: float64(9 - i)})
	}
	for i := 1; i < 10; i++ {
		pts = append(pts, vec.Vec2{X: float64(i), Y: 0})
	}
	segs := Fit(pts, 0.05)
	if len(segs) < 2 {
		t.Fatalf("got %d segments for an L shape, want at least 2", len(segs))
	}
	if segs[0].First != 0 || segs[len(segs)-1].Last != len(pts)-1 {
		t.Errorf("segments do not cover the stroke: %+v", segs)
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].First != segs[i-1].Last {
			t.Errorf("segment %d starts at %d, previous ends at %d", i, segs[i].First, segs[i-1].Last)
		}
		if segs[i].P0 != segs[i-1].P3 {
			t.Errorf("segment %d is not joined to its predecessor", i)
		}
	}
}

func TestFitWithinTolerance(t *testing.T) {
	var pts []vec.Vec2
	for i := range 40 {
		a := math.Pi * float64(i) / 39
		pts = append(pts, vec.Vec2{X: 10 * math.Cos(a), Y: 10 * math.Sin(a)})
	}
	const tol = 0.1
	segs := Fit(pts, tol)
	for _, s := range segs {
		for i := s.First; i <= s.Last; i++ {
			best := math.Inf(1)
			for k := 0; k <= 200; k++ {
				d := s.Eval(float64(k) / 200).Sub(pts[i])
				best = math.Min(best, d.Dot(d))
			}
			if best > tol*1.5 {
				t.Errorf("point %d is %v (squared) from its segment", i, best)
			}
		}
	}
}

func TestFitDuplicatePoints(t *testing.T) {
	p := vec.Vec2{X: 3, Y: 3}
	segs := Fit([]vec.Vec2{p, p, p}, 0.2)
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1 fallback segment", len(segs))
	}
	if segs[0].Chord().Length() != 0 {
		t.Errorf("fallback chord = %v, want zero", segs[0].Chord())
	}

	segs, err := FitStroke([]vec.Vec2{{X: 0, Y: 0}, {X: 0, Y: 0}, {X: 3, Y: 4}, {X: 3, Y: 4}}, 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || segs[0].First != 0 || segs[0].Last != 3 {
		t.Errorf("segments = %+v", segs)
	}
}

func TestFitStrokeNonFinite(t *testing.T) {
	_, err := FitStroke([]vec.Vec2{{X: 0, Y: 0}, {X: math.NaN(), Y: 1}, {X: 2, Y: 2}}, 0.2)
	if err != ErrNonFinite {
		t.Errorf("err = %v, want ErrNonFinite", err)
	}
	segs := Fit([]vec.Vec2{{X: 0, Y: 0}, {X: math.Inf(1), Y: 1}, {X: 2, Y: 2}}, 0.2)
	if len(segs) != 1 || segs[0].Last != 2 {
		t.Errorf("fallback = %+v", segs)
	}
}

func TestNewtonRaphsonImproves(t *testing.T) {
	s := Segment{
		P0: vec.Vec2{X: 0, Y: 0},
		P1: vec.Vec2{X: 1, Y: 2},
		P2: vec.Vec2{X: 3, Y: 2},
		P3: vec.Vec2{X: 4, Y: 0},
	}
	target := s.Eval(0.3)
	u := newtonRaphson(s, target, 0.25)
	if math.Abs(u-0.3) >= 0.05 {
		t.Errorf("u = %v, want closer to 0.3 than the start", u)
	}
}

func TestZeroTangent(t *testing.T) {
	if v := normalize(vec.Vec2{}); v != (vec.Vec2{}) {
		t.Errorf("normalize(0) = %v", v)
	}
}

func TestChordLengthParameterize(t *testing.T) {
	u := ChordLengthParameterize([]vec.Vec2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 3, Y: 0}, {X: 4, Y: 0}})
	want := []float64{0, 0.25, 0.75, 1}
	for i := range want {
		if math.Abs(u[i]-want[i]) > 1e-12 {
			t.Errorf("u[%d] = %v, want %v", i, u[i], want[i])
		}
	}
}
