// Package lstm implements the quantized bidirectional LSTM recognizer
// network: weight deserialization, the recurrent forward pass, and top-K
// decoding of the classifier output.
//
// Two forward implementations are provided. Forward and Decode are a
// direct, allocating rendition kept as the reference. Engine runs the
// same computation inside a preallocated Session and performs no
// allocation per call.
package lstm

import (
	"errors"
	"fmt"
	"math"
)

// Gate indices. Each direction stores its kernels and biases in this order.
const (
	GateInput = iota
	GateCell
	GateForget
	GateOutput

	NumGates
)

// DefaultNumLayers is the number of stacked bidirectional layers in
// production models.
const DefaultNumLayers = 4

// Threshold is the minimum running probability a class needs to be
// reported.
const Threshold = 0.001

var (
	// ErrMalformedModel is returned when a weight buffer does not match
	// the layout its dimensions imply.
	ErrMalformedModel = errors.New("malformed model")

	// ErrCapacityExceeded is returned when a request exceeds the
	// timestep or top-K capacity of an Engine.
	ErrCapacityExceeded = errors.New("capacity exceeded")
)

// Dims holds the network dimensions declared by a model header.
type Dims struct {
	NumLayers   int
	HiddenSize  int
	NumClasses  int
	NumFeatures int
}

// Validate checks that the dimensions describe a usable network.
func (d Dims) Validate() error {
	if d.NumLayers < 1 || d.HiddenSize < 1 || d.NumFeatures < 1 {
		return fmt.Errorf("%w: invalid dimensions %+v", ErrMalformedModel, d)
	}
	// one real class plus the blank
	if d.NumClasses < 2 {
		return fmt.Errorf("%w: %d classes, need at least 2", ErrMalformedModel, d.NumClasses)
	}
	if d.WeightsSize() < 0 {
		return fmt.Errorf("%w: dimensions %+v overflow", ErrMalformedModel, d)
	}
	return nil
}

// InputSize returns the input width of layer l.
func (d Dims) InputSize(l int) int {
	if l == 0 {
		return d.NumFeatures
	}
	return 2 * d.HiddenSize
}

// WeightsSize returns the number of bytes the weight layout occupies, or
// -1 if it does not fit in an int.
func (d Dims) WeightsSize() int {
	const limit = 1 << 24
	if d.HiddenSize > limit || d.NumFeatures > limit || d.NumClasses > limit || d.NumLayers > limit {
		return -1
	}
	h := int64(d.HiddenSize)
	var n int64
	for l := range d.NumLayers {
		in := int64(d.InputSize(l))
		dir := NumGates*(4+h*in) + NumGates*(4+h*h) + NumGates*h*4
		n += 2 * dir
		if n > math.MaxInt32 {
			return -1
		}
	}
	c := int64(d.NumClasses)
	n += 4 + c*2*h + 4*c
	if n > math.MaxInt32 {
		return -1
	}
	return int(n)
}

// QuantizedKernel is a row-major int8 matrix with one symmetric scale:
// the real value of element (i, j) is Scale * Q[i*Cols+j].
type QuantizedKernel struct {
	Rows, Cols int
	Scale      float32
	Q          []int8
}

// Row returns row i.
func (k *QuantizedKernel) Row(i int) []int8 {
	return k.Q[i*k.Cols : (i+1)*k.Cols]
}

// DirectionWeights holds one direction of one layer, indexed by gate.
type DirectionWeights struct {
	Input     [NumGates]QuantizedKernel // HiddenSize × input width
	Recurrent [NumGates]QuantizedKernel // HiddenSize × HiddenSize
	Bias      [NumGates][]float32
}

// Layer is one bidirectional layer.
type Layer struct {
	InputSize int
	Forward   DirectionWeights
	Backward  DirectionWeights
}

// Model is a loaded network. It is never modified after loading and may be
// shared by any number of concurrent callers.
type Model struct {
	Dims   Dims
	Layers []Layer
	FC     QuantizedKernel // NumClasses × 2·HiddenSize
	FCBias []float32

	// Vocab maps class ids to display strings; it has NumClasses-1
	// entries, the last class being the blank.
	Vocab []string
}

// Blank returns the reserved class id that is never reported.
func (m *Model) Blank() int {
	return m.Dims.NumClasses - 1
}

// Label returns the display string for class, or "" if the model carries
// no vocabulary entry for it.
func (m *Model) Label(class int) string {
	if class < 0 || class >= len(m.Vocab) {
		return ""
	}
	return m.Vocab[class]
}

// toInt8 reinterprets a stored byte as a two's-complement int8.
func toInt8(b byte) int8 {
	if b < 128 {
		return int8(b)
	}
	return int8(int(b) - 256)
}

// fromInt8 is the inverse of toInt8.
func fromInt8(v int8) byte {
	if v >= 0 {
		return byte(v)
	}
	return byte(int(v) + 256)
}

// sigmoid avoids overflowing exp for large negative x.
func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func sigmoid32(x float32) float32 {
	return float32(sigmoid(float64(x)))
}

func tanh32(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}
