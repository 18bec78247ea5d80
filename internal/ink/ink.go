// Package ink reads handwriting samples from stroke files.
//
// Two formats are understood: JSON stroke files holding parallel x, y and
// t arrays per stroke, and reMarkable .lines pages (versions 3 and 5).
package ink

import (
	"bytes"
	"os"

	"github.com/pkg/errors"

	"github.com/happyhackingspace/hzr/features"
)

// ErrUnknownFormat is returned for input that matches no known format.
var ErrUnknownFormat = errors.New("unknown stroke format")

// Decode sniffs the format of data and returns its strokes.
func Decode(data []byte) ([]features.Stroke, error) {
	if bytes.HasPrefix(data, []byte(linesPrefix)) {
		return DecodeLines(data)
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return DecodeJSON(data)
	}
	return nil, ErrUnknownFormat
}

// ReadFile reads the stroke file at path.
func ReadFile(path string) ([]features.Stroke, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read strokes")
	}
	strokes, err := Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return strokes, nil
}
