package ink

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/happyhackingspace/hzr/features"
)

// Stroke is the JSON form of one stroke. T holds milliseconds and may be
// omitted.
type Stroke struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
	T []float64 `json:"t,omitempty"`
}

// Document is the JSON stroke file.
type Document struct {
	Strokes []Stroke `json:"strokes"`
}

// DecodeJSON parses a stroke Document or a bare array of strokes.
func DecodeJSON(data []byte) ([]features.Stroke, error) {
	var doc Document
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(data, &doc.Strokes); err != nil {
			return nil, errors.Wrap(err, "parse stroke array")
		}
	} else if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse stroke document")
	}

	out := make([]features.Stroke, 0, len(doc.Strokes))
	for i, s := range doc.Strokes {
		if len(s.X) != len(s.Y) {
			return nil, errors.Errorf("stroke %d: %d x values, %d y values", i, len(s.X), len(s.Y))
		}
		if len(s.T) != 0 && len(s.T) != len(s.X) {
			return nil, errors.Errorf("stroke %d: %d timestamps for %d points", i, len(s.T), len(s.X))
		}
		st := make(features.Stroke, len(s.X))
		for j := range st {
			st[j] = features.Sample{X: s.X[j], Y: s.Y[j]}
			if len(s.T) > 0 {
				st[j].T = s.T[j]
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// EncodeJSON writes strokes as a Document.
func EncodeJSON(strokes []features.Stroke) ([]byte, error) {
	doc := Document{Strokes: make([]Stroke, len(strokes))}
	for i, st := range strokes {
		s := Stroke{X: make([]float64, len(st)), Y: make([]float64, len(st))}
		if st.Timed() {
			s.T = make([]float64, len(st))
		}
		for j, p := range st {
			s.X[j], s.Y[j] = p.X, p.Y
			if s.T != nil {
				s.T[j] = p.T
			}
		}
		doc.Strokes[i] = s
	}
	return json.Marshal(doc)
}
