package lstm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Parse decodes raw weight bytes laid out for d. All scalars are
// little-endian. For each layer, for the forward then the backward
// direction:
//
//	4 × (float32 scale, HiddenSize×inputSize kernel bytes)
//	4 × (float32 scale, HiddenSize×HiddenSize kernel bytes)
//	4 × HiddenSize float32 biases
//
// followed by the classifier: float32 scale, NumClasses×2·HiddenSize
// kernel bytes, NumClasses float32 biases. Gates are in the order input,
// cell, forget, output. The buffer must match the layout exactly.
func Parse(d Dims, raw []byte) (*Model, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if want := d.WeightsSize(); len(raw) != want {
		return nil, fmt.Errorf("%w: weights are %d bytes, layout for %+v needs %d", ErrMalformedModel, len(raw), d, want)
	}

	r := &reader{data: raw}
	m := &Model{
		Dims:   d,
		Layers: make([]Layer, d.NumLayers),
	}
	h := d.HiddenSize
	for l := range m.Layers {
		in := d.InputSize(l)
		m.Layers[l].InputSize = in
		for _, w := range []*DirectionWeights{&m.Layers[l].Forward, &m.Layers[l].Backward} {
			for g := range NumGates {
				w.Input[g] = r.readKernel(h, in)
			}
			for g := range NumGates {
				w.Recurrent[g] = r.readKernel(h, h)
			}
			for g := range NumGates {
				w.Bias[g] = r.readFloat32s(h)
			}
		}
	}
	m.FC = r.readKernel(d.NumClasses, 2*h)
	m.FCBias = r.readFloat32s(d.NumClasses)

	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedModel, r.err)
	}
	return m, nil
}

// reader walks the weight buffer sequentially; the first short read is
// remembered and all later reads return zero values.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) readBytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("unexpected end of weights at offset %d (need %d bytes)", r.pos, n)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) readFloat32() float32 {
	b := r.readBytes(4)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func (r *reader) readFloat32s(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = r.readFloat32()
	}
	return out
}

func (r *reader) readKernel(rows, cols int) QuantizedKernel {
	k := QuantizedKernel{Rows: rows, Cols: cols}
	k.Scale = r.readFloat32()
	b := r.readBytes(rows * cols)
	k.Q = make([]int8, rows*cols)
	for i := range b {
		k.Q[i] = toInt8(b[i])
	}
	return k
}

// MarshalBinary encodes the model weights in the layout read by Parse.
// The vocabulary is not part of the weight layout.
func (m *Model) MarshalBinary() ([]byte, error) {
	d := m.Dims
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if len(m.Layers) != d.NumLayers {
		return nil, fmt.Errorf("%w: %d layers, header declares %d", ErrMalformedModel, len(m.Layers), d.NumLayers)
	}

	w := &writer{}
	w.b.Grow(d.WeightsSize())
	h := d.HiddenSize
	for l, layer := range m.Layers {
		in := d.InputSize(l)
		for _, dir := range []*DirectionWeights{&layer.Forward, &layer.Backward} {
			for g := range NumGates {
				if err := w.writeKernel(&dir.Input[g], h, in); err != nil {
					return nil, fmt.Errorf("layer %d input kernel %d: %w", l, g, err)
				}
			}
			for g := range NumGates {
				if err := w.writeKernel(&dir.Recurrent[g], h, h); err != nil {
					return nil, fmt.Errorf("layer %d recurrent kernel %d: %w", l, g, err)
				}
			}
			for g := range NumGates {
				if err := w.writeFloat32s(dir.Bias[g], h); err != nil {
					return nil, fmt.Errorf("layer %d bias %d: %w", l, g, err)
				}
			}
		}
	}
	if err := w.writeKernel(&m.FC, d.NumClasses, 2*h); err != nil {
		return nil, fmt.Errorf("classifier kernel: %w", err)
	}
	if err := w.writeFloat32s(m.FCBias, d.NumClasses); err != nil {
		return nil, fmt.Errorf("classifier bias: %w", err)
	}
	return w.b.Bytes(), nil
}

type writer struct {
	b bytes.Buffer
}

func (w *writer) writeFloat32(v float32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
	w.b.Write(buf[:])
}

func (w *writer) writeFloat32s(v []float32, n int) error {
	if len(v) != n {
		return fmt.Errorf("%w: %d values, want %d", ErrMalformedModel, len(v), n)
	}
	for _, x := range v {
		w.writeFloat32(x)
	}
	return nil
}

func (w *writer) writeKernel(k *QuantizedKernel, rows, cols int) error {
	if len(k.Q) != rows*cols {
		return fmt.Errorf("%w: kernel has %d values, want %d×%d", ErrMalformedModel, len(k.Q), rows, cols)
	}
	w.writeFloat32(k.Scale)
	for _, q := range k.Q {
		w.b.WriteByte(fromInt8(q))
	}
	return nil
}
