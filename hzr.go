// Package hzr recognizes handwritten characters from pen strokes.
//
// Strokes are fitted with cubic Bezier segments, turned into a sequence of
// per-segment feature vectors, and run through a quantized bidirectional
// LSTM whose per-class maximum probabilities give the ranked candidates.
//
//	r, _ := hzr.Load("model.hzmodel", hzr.DefaultOptions())
//	cands, _ := r.Recognize(strokes, 5)
//	for _, c := range cands {
//	    fmt.Println(c.Char, c.Score) // "永" 0.91
//	}
package hzr

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/happyhackingspace/hzr/features"
	"github.com/happyhackingspace/hzr/internal/hzmodel"
	"github.com/happyhackingspace/hzr/lstm"
)

type (
	// Stroke is one pen-down interval.
	Stroke = features.Stroke
	// Sample is one pen sample; T is in milliseconds, zero when unknown.
	Sample = features.Sample
)

// DefaultModelName is the model file looked up by Find.
const DefaultModelName = "model.hzmodel"

// Options configures a Recognizer.
type Options struct {
	// MaxTimesteps and MaxTopK bound a single Recognize call. Zero selects
	// the engine defaults.
	MaxTimesteps int
	MaxTopK      int

	Features features.Options
}

// DefaultOptions returns the options matching the shipped models.
func DefaultOptions() Options {
	return Options{
		MaxTimesteps: lstm.DefaultMaxTimesteps,
		MaxTopK:      lstm.DefaultMaxTopK,
		Features:     features.DefaultOptions(),
	}
}

// Candidate is one recognition result.
type Candidate struct {
	Class int     `json:"class"`
	Char  string  `json:"char"`
	Score float64 `json:"score"`
}

// Info describes a loaded model.
type Info struct {
	Version      uint32 `json:"version"`
	Obfuscated   bool   `json:"obfuscated"`
	Layers       int    `json:"layers"`
	HiddenSize   int    `json:"hidden_size"`
	Classes      int    `json:"classes"`
	Features     int    `json:"features"`
	Vocabulary   int    `json:"vocabulary"`
	WeightBytes  int    `json:"weight_bytes"`
	MaxTimesteps int    `json:"max_timesteps"`
	MaxTopK      int    `json:"max_top_k"`
}

// Recognizer runs a loaded model. It is safe for concurrent use; each
// call borrows its own scratch session from an internal pool.
type Recognizer struct {
	model  *lstm.Model
	header hzmodel.Header
	engine *lstm.Engine
	opts   features.Options

	sessions sync.Pool
}

// Load reads a model file.
func Load(path string, opts Options) (*Recognizer, error) {
	m, h, err := hzmodel.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hzr: %w", err)
	}
	return newRecognizer(m, h, opts)
}

// New decodes a model file already in memory.
func New(data []byte, opts Options) (*Recognizer, error) {
	m, h, err := hzmodel.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("hzr: %w", err)
	}
	return newRecognizer(m, h, opts)
}

// FromModel wraps an in-memory model.
func FromModel(m *lstm.Model, opts Options) (*Recognizer, error) {
	if m == nil {
		return nil, fmt.Errorf("hzr: %w: nil model", lstm.ErrMalformedModel)
	}
	d := m.Dims
	h := hzmodel.Header{
		Version:       hzmodel.Version,
		NumLayers:     uint32(d.NumLayers),
		HiddenSize:    uint32(d.HiddenSize),
		NumClasses:    uint32(d.NumClasses),
		NumFeatures:   uint32(d.NumFeatures),
		WeightsLength: uint32(max(d.WeightsSize(), 0)),
	}
	return newRecognizer(m, h, opts)
}

func newRecognizer(m *lstm.Model, h hzmodel.Header, opts Options) (*Recognizer, error) {
	if m.Dims.NumFeatures != features.Dim {
		return nil, fmt.Errorf("hzr: %w: model expects %d features per segment, extractor produces %d",
			lstm.ErrMalformedModel, m.Dims.NumFeatures, features.Dim)
	}
	e, err := lstm.NewEngine(m, opts.MaxTimesteps, opts.MaxTopK)
	if err != nil {
		return nil, fmt.Errorf("hzr: %w", err)
	}
	r := &Recognizer{
		model:  m,
		header: h,
		engine: e,
		opts:   opts.Features,
	}
	r.sessions.New = func() any { return e.NewSession() }

	Logger().Debug("Model loaded",
		"layers", m.Dims.NumLayers,
		"hidden", m.Dims.HiddenSize,
		"classes", m.Dims.NumClasses,
		"max_timesteps", e.MaxTimesteps())
	return r, nil
}

// Find looks for name in the current directory and its parents, stopping
// at the module root (where go.mod lives).
func Find(name string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("hzr: %s not found", name)
}

// Recognize returns up to topK candidates for strokes, best first. Input
// without usable strokes yields an empty result. Requests above the
// configured capacities fail with lstm.ErrCapacityExceeded.
func (r *Recognizer) Recognize(strokes []Stroke, topK int) ([]Candidate, error) {
	feats, n := features.Preprocess(strokes, r.featureOptions())
	if n == 0 {
		return []Candidate{}, nil
	}

	s := r.sessions.Get().(*lstm.Session)
	defer r.sessions.Put(s)

	idx, scores, err := r.engine.Run(s, feats, n, topK)
	if err != nil {
		return nil, fmt.Errorf("hzr: %w", err)
	}

	out := make([]Candidate, len(idx))
	for i, c := range idx {
		out[i] = Candidate{
			Class: c,
			Char:  r.model.Label(c),
			Score: float64(scores[i]),
		}
	}
	Logger().Debug("Recognized", "strokes", len(strokes), "segments", n, "candidates", len(out))
	return out, nil
}

// Features returns the feature matrix for strokes, features.Dim values
// per segment, and the segment count.
func (r *Recognizer) Features(strokes []Stroke) ([]float32, int) {
	return features.Preprocess(strokes, r.featureOptions())
}

func (r *Recognizer) featureOptions() features.Options {
	opts := r.opts
	opts.Logger = Logger()
	return opts
}

// Model returns the loaded network.
func (r *Recognizer) Model() *lstm.Model {
	return r.model
}

// Info describes the loaded model.
func (r *Recognizer) Info() Info {
	d := r.model.Dims
	return Info{
		Version:      r.header.Version,
		Obfuscated:   r.header.Obfuscated(),
		Layers:       d.NumLayers,
		HiddenSize:   d.HiddenSize,
		Classes:      d.NumClasses,
		Features:     d.NumFeatures,
		Vocabulary:   len(r.model.Vocab),
		WeightBytes:  int(r.header.WeightsLength),
		MaxTimesteps: r.engine.MaxTimesteps(),
		MaxTopK:      r.engine.MaxTopK(),
	}
}

// MaxTopK returns the largest topK a single call accepts.
func (r *Recognizer) MaxTopK() int {
	return r.engine.MaxTopK()
}
