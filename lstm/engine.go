package lstm

import (
	"errors"
	"fmt"
	"math"
)

// Default capacities used when an Engine is built with zero values.
const (
	DefaultMaxTimesteps = 512
	DefaultMaxTopK      = 32
)

// Engine runs a Model inside fixed-size scratch arenas. An Engine is
// immutable and safe for concurrent use; each goroutine needs its own
// Session.
type Engine struct {
	model   *Model
	maxT    int
	maxTopK int
}

// NewEngine returns an Engine for m that accepts up to maxT timesteps and
// up to maxTopK results per call. Zero capacities select the defaults.
func NewEngine(m *Model, maxT, maxTopK int) (*Engine, error) {
	if m == nil {
		return nil, errors.New("lstm: nil model")
	}
	if err := m.Dims.Validate(); err != nil {
		return nil, err
	}
	if len(m.Layers) != m.Dims.NumLayers {
		return nil, fmt.Errorf("%w: %d layers, header declares %d", ErrMalformedModel, len(m.Layers), m.Dims.NumLayers)
	}
	if maxT == 0 {
		maxT = DefaultMaxTimesteps
	}
	if maxTopK == 0 {
		maxTopK = DefaultMaxTopK
	}
	if maxT < 0 || maxTopK < 0 {
		return nil, fmt.Errorf("lstm: negative capacity (timesteps %d, top-k %d)", maxT, maxTopK)
	}
	return &Engine{model: m, maxT: maxT, maxTopK: maxTopK}, nil
}

// Model returns the model the engine runs.
func (e *Engine) Model() *Model { return e.model }

// MaxTimesteps returns the timestep capacity.
func (e *Engine) MaxTimesteps() int { return e.maxT }

// MaxTopK returns the result capacity.
func (e *Engine) MaxTopK() int { return e.maxTopK }

// Session is the scratch arena of one caller. Its buffers are sized once
// from the engine capacities; Run never allocates.
type Session struct {
	engine *Engine

	seq  [2][]float32 // ping-pong layer outputs, maxT × 2H
	last []float32    // output of the final layer of the latest run

	h, c   []float32 // H
	gates  []float32 // NumGates × H
	logits []float32 // NumClasses
	best   []float32 // NumClasses

	idx   []int     // maxTopK
	score []float32 // maxTopK
}

// NewSession allocates a Session for e.
func (e *Engine) NewSession() *Session {
	d := e.model.Dims
	h, c := d.HiddenSize, d.NumClasses
	width := 2 * h
	return &Session{
		engine: e,
		seq: [2][]float32{
			make([]float32, e.maxT*width),
			make([]float32, e.maxT*width),
		},
		h:      make([]float32, h),
		c:      make([]float32, h),
		gates:  make([]float32, NumGates*h),
		logits: make([]float32, c),
		best:   make([]float32, c),
		idx:    make([]int, e.maxTopK),
		score:  make([]float32, e.maxTopK),
	}
}

// Run evaluates the network over n feature rows and returns up to topK
// class ids and scores, best first. Results are rejected with
// ErrCapacityExceeded when n or topK exceeds the engine capacity. The
// returned slices alias s and are valid until the next call on s.
func (e *Engine) Run(s *Session, feats []float32, n, topK int) ([]int, []float32, error) {
	if s == nil || s.engine != e {
		return nil, nil, errors.New("lstm: session belongs to a different engine")
	}
	if n < 0 || topK < 0 {
		return nil, nil, fmt.Errorf("lstm: negative request (timesteps %d, top-k %d)", n, topK)
	}
	if n > e.maxT {
		return nil, nil, fmt.Errorf("%w: %d timesteps, capacity %d", ErrCapacityExceeded, n, e.maxT)
	}
	if topK > e.maxTopK {
		return nil, nil, fmt.Errorf("%w: top-k %d, capacity %d", ErrCapacityExceeded, topK, e.maxTopK)
	}
	d := e.model.Dims
	if len(feats) < n*d.NumFeatures {
		return nil, nil, fmt.Errorf("lstm: %d feature values for %d timesteps of width %d", len(feats), n, d.NumFeatures)
	}

	s.forward(feats, n)
	k := s.decode(n, topK)
	return s.idx[:k], s.score[:k], nil
}

// Hidden returns the final layer output of the latest run with n
// timesteps, n rows of 2·HiddenSize values.
func (s *Session) Hidden(n int) []float32 {
	return s.last[:n*2*s.engine.model.Dims.HiddenSize]
}

func (s *Session) forward(feats []float32, n int) {
	m := s.engine.model
	hs := m.Dims.HiddenSize
	width := 2 * hs

	in, inWidth := feats, m.Dims.NumFeatures
	for l := range m.Layers {
		out := s.seq[l%2]
		s.direction(&m.Layers[l].Forward, in, inWidth, out, n, 0, false)
		s.direction(&m.Layers[l].Backward, in, inWidth, out, n, hs, true)
		in, inWidth = out, width
	}
	s.last = in
}

// direction runs one direction over n rows of in and writes each hidden
// state into out at column offset off.
func (s *Session) direction(w *DirectionWeights, in []float32, inWidth int, out []float32, n, off int, reverse bool) {
	hs := len(s.h)
	width := 2 * hs
	clear(s.h)
	clear(s.c)

	for step := range n {
		t := step
		if reverse {
			t = n - 1 - step
		}
		x := in[t*inWidth : (t+1)*inWidth]
		for g := range NumGates {
			dst := s.gates[g*hs : (g+1)*hs]
			copy(dst, w.Bias[g])
			matVecAcc(&w.Input[g], x, dst)
			matVecAcc(&w.Recurrent[g], s.h, dst)
		}

		ig := s.gates[GateInput*hs : (GateInput+1)*hs]
		cg := s.gates[GateCell*hs : (GateCell+1)*hs]
		fg := s.gates[GateForget*hs : (GateForget+1)*hs]
		og := s.gates[GateOutput*hs : (GateOutput+1)*hs]
		row := out[t*width+off : t*width+off+hs]
		for i := range hs {
			s.c[i] = sigmoid32(fg[i])*s.c[i] + sigmoid32(ig[i])*tanh32(cg[i])
			s.h[i] = sigmoid32(og[i]) * tanh32(s.c[i])
			row[i] = s.h[i]
		}
	}
}

func matVecAcc(k *QuantizedKernel, x, dst []float32) {
	for i := range k.Rows {
		var sum float32
		for j, q := range k.Row(i) {
			sum += float32(q) * x[j]
		}
		dst[i] += k.Scale * sum
	}
}

// decode fills s.idx and s.score and returns the number of results.
func (s *Session) decode(n, topK int) int {
	m := s.engine.model
	width := 2 * m.Dims.HiddenSize
	blank := m.Blank()

	clear(s.best)
	for t := range n {
		copy(s.logits, m.FCBias)
		matVecAcc(&m.FC, s.last[t*width:(t+1)*width], s.logits)
		softmax32(s.logits)
		for c, p := range s.logits {
			if c != blank && p > s.best[c] {
				s.best[c] = p
			}
		}
	}

	count := 0
	for c, p := range s.best {
		if c == blank || p <= Threshold {
			continue
		}
		// classes arrive in index order, so equal scores stay behind
		// earlier ones
		pos := count
		for pos > 0 && s.score[pos-1] < p {
			pos--
		}
		if pos >= topK {
			continue
		}
		if count < topK {
			count++
		}
		copy(s.idx[pos+1:count], s.idx[pos:count-1])
		copy(s.score[pos+1:count], s.score[pos:count-1])
		s.idx[pos] = c
		s.score[pos] = p
	}
	return count
}

// softmax32 replaces v with its softmax.
func softmax32(v []float32) {
	hi := v[0]
	for _, x := range v[1:] {
		hi = max(hi, x)
	}
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - hi))
		v[i] = float32(e)
		sum += e
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sum)
	}
}
