package lstm

import (
	"bytes"
	"errors"
	"math"
	"math/rand/v2"
	"reflect"
	"testing"
)

// randomModel builds a model with deterministic pseudo-random weights.
func randomModel(d Dims, seed uint64) *Model {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	kernel := func(rows, cols int) QuantizedKernel {
		k := QuantizedKernel{Rows: rows, Cols: cols, Scale: 0.01 + rng.Float32()*0.02, Q: make([]int8, rows*cols)}
		for i := range k.Q {
			k.Q[i] = int8(rng.IntN(256) - 128)
		}
		return k
	}
	floats := func(n int) []float32 {
		v := make([]float32, n)
		for i := range v {
			v[i] = rng.Float32() - 0.5
		}
		return v
	}

	m := &Model{Dims: d, Layers: make([]Layer, d.NumLayers)}
	h := d.HiddenSize
	for l := range m.Layers {
		in := d.InputSize(l)
		m.Layers[l].InputSize = in
		for _, w := range []*DirectionWeights{&m.Layers[l].Forward, &m.Layers[l].Backward} {
			for g := range NumGates {
				w.Input[g] = kernel(h, in)
				w.Recurrent[g] = kernel(h, h)
				w.Bias[g] = floats(h)
			}
		}
	}
	m.FC = kernel(d.NumClasses, 2*h)
	m.FCBias = floats(d.NumClasses)
	return m
}

func randomFeatures(n, width int, seed uint64) []float32 {
	rng := rand.New(rand.NewPCG(seed, 1))
	v := make([]float32, n*width)
	for i := range v {
		v[i] = rng.Float32()*4 - 2
	}
	return v
}

func zeroKernel(rows, cols int) QuantizedKernel {
	return QuantizedKernel{Rows: rows, Cols: cols, Q: make([]int8, rows*cols)}
}

func TestInt8Conversion(t *testing.T) {
	cases := map[byte]int8{0: 0, 1: 1, 127: 127, 128: -128, 156: -100, 255: -1}
	for b, want := range cases {
		if got := toInt8(b); got != want {
			t.Errorf("toInt8(%d) = %d, want %d", b, got, want)
		}
		if got := fromInt8(want); got != b {
			t.Errorf("fromInt8(%d) = %d, want %d", want, got, b)
		}
	}
}

func TestWeightsSize(t *testing.T) {
	d := Dims{NumLayers: 1, HiddenSize: 2, NumClasses: 2, NumFeatures: 1}
	if got := d.WeightsSize(); got != 196 {
		t.Errorf("WeightsSize = %d, want 196", got)
	}
	d = Dims{NumLayers: 2, HiddenSize: 3, NumClasses: 5, NumFeatures: 10}
	// layer 0: 4(4+30) + 4(4+9) + 48 = 236, layer 1: 4(4+18) + 4(4+9) + 48 = 188
	want := 2*236 + 2*188 + 4 + 5*6 + 20
	if got := d.WeightsSize(); got != want {
		t.Errorf("WeightsSize = %d, want %d", got, want)
	}
	if got := (Dims{NumLayers: 4, HiddenSize: 1 << 30, NumClasses: 2, NumFeatures: 1}).WeightsSize(); got != -1 {
		t.Errorf("overflowing dims: WeightsSize = %d", got)
	}
}

func TestParseRoundTrip(t *testing.T) {
	d := Dims{NumLayers: 2, HiddenSize: 3, NumClasses: 5, NumFeatures: 10}
	m := randomModel(d, 1)
	raw, err := m.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != d.WeightsSize() {
		t.Fatalf("len(raw) = %d, want %d", len(raw), d.WeightsSize())
	}

	got, err := Parse(d, raw)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Layers, m.Layers) {
		t.Error("layers differ after round trip")
	}
	if !reflect.DeepEqual(got.FC, m.FC) || !reflect.DeepEqual(got.FCBias, m.FCBias) {
		t.Error("classifier differs after round trip")
	}

	again, err := got.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, raw) {
		t.Error("re-encoded weights differ")
	}
}

func TestParseMalformed(t *testing.T) {
	d := Dims{NumLayers: 1, HiddenSize: 2, NumClasses: 3, NumFeatures: 4}
	raw, err := randomModel(d, 2).MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	for name, buf := range map[string][]byte{
		"short":    raw[:len(raw)-1],
		"trailing": append(bytes.Clone(raw), 0),
		"empty":    nil,
	} {
		if _, err := Parse(d, buf); !errors.Is(err, ErrMalformedModel) {
			t.Errorf("%s: err = %v, want ErrMalformedModel", name, err)
		}
	}

	bad := []Dims{
		{NumLayers: 0, HiddenSize: 2, NumClasses: 3, NumFeatures: 4},
		{NumLayers: 1, HiddenSize: 2, NumClasses: 1, NumFeatures: 4},
		{NumLayers: 1, HiddenSize: 0, NumClasses: 3, NumFeatures: 4},
	}
	for _, d := range bad {
		if _, err := Parse(d, raw); !errors.Is(err, ErrMalformedModel) {
			t.Errorf("dims %+v: err = %v, want ErrMalformedModel", d, err)
		}
	}
}

// handModel is a one-layer network whose single-step output can be
// worked out by hand: with x = 1 the input gate pre-activations are
// (1, -1), the cell candidates (1, -1), and the output gate is 0.
func handModel() *Model {
	d := Dims{NumLayers: 1, HiddenSize: 2, NumClasses: 2, NumFeatures: 1}
	dir := DirectionWeights{}
	for g := range NumGates {
		dir.Input[g] = zeroKernel(2, 1)
		dir.Recurrent[g] = zeroKernel(2, 2)
		dir.Bias[g] = []float32{0, 0}
	}
	// bytes 100 and 156 (-100) at scale 0.01
	dir.Input[GateInput] = QuantizedKernel{Rows: 2, Cols: 1, Scale: 0.01, Q: []int8{toInt8(100), toInt8(156)}}
	dir.Input[GateCell] = QuantizedKernel{Rows: 2, Cols: 1, Scale: 0.02, Q: []int8{50, -50}}
	dir.Input[GateForget] = QuantizedKernel{Rows: 2, Cols: 1, Scale: 0.5, Q: []int8{3, -7}}

	bw := dir
	return &Model{
		Dims:   d,
		Layers: []Layer{{InputSize: 1, Forward: dir, Backward: bw}},
		FC:     QuantizedKernel{Rows: 2, Cols: 4, Scale: 0.1, Q: []int8{10, 0, 0, 0, 0, 0, 0, 0}},
		FCBias: []float32{0, 0},
	}
}

func TestHandComputedStep(t *testing.T) {
	m := handModel()

	sig := func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
	c0 := sig(1) * math.Tanh(1)
	c1 := sig(-1) * math.Tanh(-1)
	h0 := 0.5 * math.Tanh(c0)
	h1 := 0.5 * math.Tanh(c1)
	want := []float64{h0, h1, h0, h1}

	hidden, err := Forward(m, []float32{1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i, w := range want {
		if math.Abs(hidden[0][i]-w) > 1e-5 {
			t.Errorf("reference h[%d] = %v, want %v", i, hidden[0][i], w)
		}
	}

	e, err := NewEngine(m, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	s := e.NewSession()
	if _, _, err := e.Run(s, []float32{1}, 1, 1); err != nil {
		t.Fatal(err)
	}
	for i, w := range want {
		if got := s.Hidden(1)[i]; math.Abs(float64(got)-w) > 1e-5 {
			t.Errorf("engine h[%d] = %v, want %v", i, got, w)
		}
	}
}

func TestBackwardRunsInReverse(t *testing.T) {
	m := handModel()
	// the backward direction only sees the input through its recurrence
	// when the sequence is longer than one step
	hidden, err := Forward(m, []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	single, err := Forward(m, []float32{1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	// forward half of step 0 only depends on x[0]
	if math.Abs(hidden[0][0]-single[0][0]) > 1e-12 {
		t.Errorf("forward step 0 = %v, want %v", hidden[0][0], single[0][0])
	}
	// backward half of step 1 is its first step and sees only x[1] = 0
	if hidden[1][2] != 0 || hidden[1][3] != 0 {
		t.Errorf("backward step 1 = %v, want zeros", hidden[1][2:])
	}
}

func TestEngineMatchesReference(t *testing.T) {
	d := Dims{NumLayers: DefaultNumLayers, HiddenSize: 8, NumClasses: 12, NumFeatures: 10}
	m := randomModel(d, 3)
	const n = 9
	feats := randomFeatures(n, d.NumFeatures, 4)

	hidden, err := Forward(m, feats, n)
	if err != nil {
		t.Fatal(err)
	}
	wantIdx, wantScore := Decode(m, hidden, 5)

	e, err := NewEngine(m, 16, 8)
	if err != nil {
		t.Fatal(err)
	}
	s := e.NewSession()
	idx, score, err := e.Run(s, feats, n, 5)
	if err != nil {
		t.Fatal(err)
	}

	got := s.Hidden(n)
	for ti := range n {
		for j := range 2 * d.HiddenSize {
			if diff := math.Abs(float64(got[ti*2*d.HiddenSize+j]) - hidden[ti][j]); diff > 1e-4 {
				t.Fatalf("hidden[%d][%d] differs by %v", ti, j, diff)
			}
		}
	}
	if !reflect.DeepEqual(idx, wantIdx) {
		t.Fatalf("engine classes = %v, reference %v", idx, wantIdx)
	}
	for i := range score {
		if math.Abs(float64(score[i])-wantScore[i]) > 1e-4 {
			t.Errorf("score[%d] = %v, reference %v", i, score[i], wantScore[i])
		}
	}
}

func TestSoftmax(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	for range 50 {
		logits := make([]float64, 1+rng.IntN(20))
		for i := range logits {
			logits[i] = (rng.Float64() - 0.5) * 2000
		}
		probs := Softmax(logits)
		var sum float64
		for _, p := range probs {
			if p < 0 || p > 1 || math.IsNaN(p) {
				t.Fatalf("probability %v out of range for %v", p, logits)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Fatalf("sum = %v", sum)
		}

		v := make([]float32, len(logits))
		for i := range v {
			v[i] = float32(logits[i])
		}
		softmax32(v)
		var sum32 float64
		for _, p := range v {
			if p < 0 || p > 1 {
				t.Fatalf("float32 probability %v out of range", p)
			}
			sum32 += float64(p)
		}
		if math.Abs(sum32-1) > 1e-5 {
			t.Fatalf("float32 sum = %v", sum32)
		}
	}
}

func TestTopKInvariants(t *testing.T) {
	d := Dims{NumLayers: 1, HiddenSize: 6, NumClasses: 30, NumFeatures: 10}
	m := randomModel(d, 7)
	e, err := NewEngine(m, 32, 10)
	if err != nil {
		t.Fatal(err)
	}
	s := e.NewSession()
	for seed := range uint64(10) {
		n := 1 + int(seed)*3
		feats := randomFeatures(n, d.NumFeatures, seed)
		for _, k := range []int{0, 1, 3, 10} {
			idx, score, err := e.Run(s, feats, n, k)
			if err != nil {
				t.Fatal(err)
			}
			if len(idx) > k || len(idx) != len(score) {
				t.Fatalf("k=%d: %d results, %d scores", k, len(idx), len(score))
			}
			for i := range score {
				if score[i] <= Threshold {
					t.Errorf("score %v below threshold", score[i])
				}
				if idx[i] == m.Blank() {
					t.Errorf("blank class returned")
				}
				if i > 0 && score[i] > score[i-1] {
					t.Errorf("scores not descending: %v", score)
				}
			}
		}
	}
}

func TestTopKTieBreak(t *testing.T) {
	d := Dims{NumLayers: 1, HiddenSize: 1, NumClasses: 5, NumFeatures: 1}
	m := randomModel(d, 8)
	m.FC = zeroKernel(5, 2)
	// classes 1 and 2 tie, class 4 is the blank
	m.FCBias = []float32{0.5, 1, 1, -20, 3}

	hidden, err := Forward(m, []float32{0.3, -0.2}, 2)
	if err != nil {
		t.Fatal(err)
	}
	idx, _ := Decode(m, hidden, 4)
	if want := []int{1, 2, 0}; !reflect.DeepEqual(idx, want) {
		t.Errorf("reference order = %v, want %v", idx, want)
	}

	e, err := NewEngine(m, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	got, _, err := e.Run(e.NewSession(), []float32{0.3, -0.2}, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{1, 2, 0}; !reflect.DeepEqual(got, want) {
		t.Errorf("engine order = %v, want %v", got, want)
	}

	got, _, err = e.Run(e.NewSession(), []float32{0.3, -0.2}, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("top-1 = %v, want [1]", got)
	}
}

func TestCapacityExceeded(t *testing.T) {
	d := Dims{NumLayers: 1, HiddenSize: 2, NumClasses: 3, NumFeatures: 2}
	e, err := NewEngine(randomModel(d, 9), 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	s := e.NewSession()
	feats := randomFeatures(5, 2, 1)
	if _, _, err := e.Run(s, feats, 5, 1); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("too many timesteps: err = %v", err)
	}
	if _, _, err := e.Run(s, feats, 4, 3); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("top-k too large: err = %v", err)
	}
	if _, _, err := e.Run(s, feats[:3], 2, 1); err == nil {
		t.Error("short feature buffer accepted")
	}
	if _, _, err := e.Run(s, feats, 4, 2); err != nil {
		t.Errorf("at capacity: %v", err)
	}
}

func TestEngineIdempotent(t *testing.T) {
	d := Dims{NumLayers: 2, HiddenSize: 4, NumClasses: 9, NumFeatures: 10}
	e, err := NewEngine(randomModel(d, 10), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	s := e.NewSession()
	feats := randomFeatures(6, 10, 11)

	idx1, score1, err := e.Run(s, feats, 6, 5)
	if err != nil {
		t.Fatal(err)
	}
	idx1, score1 = append([]int(nil), idx1...), append([]float32(nil), score1...)

	// an unrelated call in between must not leak into the next one
	if _, _, err := e.Run(s, randomFeatures(3, 10, 12), 3, 5); err != nil {
		t.Fatal(err)
	}

	idx2, score2, err := e.Run(s, feats, 6, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(idx1, idx2) || !reflect.DeepEqual(score1, score2) {
		t.Errorf("results differ: %v %v vs %v %v", idx1, score1, idx2, score2)
	}
}

func TestEmptySequence(t *testing.T) {
	d := Dims{NumLayers: 1, HiddenSize: 2, NumClasses: 3, NumFeatures: 10}
	e, err := NewEngine(randomModel(d, 13), 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	idx, score, err := e.Run(e.NewSession(), nil, 0, 4)
	if err != nil || len(idx) != 0 || len(score) != 0 {
		t.Errorf("empty run = %v, %v, %v", idx, score, err)
	}
}

func TestRunDoesNotAllocate(t *testing.T) {
	d := Dims{NumLayers: DefaultNumLayers, HiddenSize: 8, NumClasses: 20, NumFeatures: 10}
	e, err := NewEngine(randomModel(d, 14), 64, 10)
	if err != nil {
		t.Fatal(err)
	}
	s := e.NewSession()
	feats := randomFeatures(20, 10, 15)
	allocs := testing.AllocsPerRun(20, func() {
		if _, _, err := e.Run(s, feats, 20, 10); err != nil {
			t.Fatal(err)
		}
	})
	if allocs != 0 {
		t.Errorf("Run allocates %v times per call", allocs)
	}
}

func TestForeignSession(t *testing.T) {
	d := Dims{NumLayers: 1, HiddenSize: 2, NumClasses: 3, NumFeatures: 1}
	m := randomModel(d, 16)
	a, _ := NewEngine(m, 4, 4)
	b, _ := NewEngine(m, 4, 4)
	if _, _, err := a.Run(b.NewSession(), []float32{1}, 1, 1); err == nil {
		t.Error("session of another engine accepted")
	}
}
