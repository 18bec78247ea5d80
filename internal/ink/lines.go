package ink

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/happyhackingspace/hzr/features"
)

const (
	linesPrefix = "reMarkable .lines file, version="

	// LinesHeaderLen is the size of the space-padded version header.
	LinesHeaderLen = 43
)

// Lines format versions.
const (
	LinesV3 = 3
	LinesV5 = 5
)

// Brush types that do not leave ink.
const (
	brushEraser    = 6
	brushEraseArea = 8
)

func linesHeader(version int) string {
	return fmt.Sprintf("%-*s", LinesHeaderLen, fmt.Sprintf("%s%d", linesPrefix, version))
}

// point is one stored sample; only X and Y are used.
type point struct {
	X, Y                              float32
	Speed, Direction, Width, Pressure float32
}

type linesReader struct {
	bytes.Reader
	version int
}

// DecodeLines parses a reMarkable .lines page. Every line of every layer
// becomes one stroke; eraser lines are dropped. The format carries no
// timestamps.
func DecodeLines(data []byte) ([]features.Stroke, error) {
	r := &linesReader{Reader: *bytes.NewReader(data)}
	if err := r.checkHeader(); err != nil {
		return nil, err
	}

	nbLayers, err := r.readNumber()
	if err != nil {
		return nil, errors.Wrap(err, "layer count")
	}
	var strokes []features.Stroke
	for i := uint32(0); i < nbLayers; i++ {
		nbLines, err := r.readNumber()
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		for j := uint32(0); j < nbLines; j++ {
			brush, pts, err := r.readLine()
			if err != nil {
				return nil, errors.Wrapf(err, "layer %d line %d", i, j)
			}
			if brush == brushEraser || brush == brushEraseArea || len(pts) == 0 {
				continue
			}
			st := make(features.Stroke, len(pts))
			for k, p := range pts {
				st[k] = features.Sample{X: float64(p.X), Y: float64(p.Y)}
			}
			strokes = append(strokes, st)
		}
	}
	return strokes, nil
}

func (r *linesReader) checkHeader() error {
	buf := make([]byte, LinesHeaderLen)
	if _, err := r.Read(buf); err != nil {
		return errors.Wrap(err, "read header")
	}
	switch string(buf) {
	case linesHeader(LinesV3):
		r.version = LinesV3
	case linesHeader(LinesV5):
		r.version = LinesV5
	default:
		return errors.Wrapf(ErrUnknownFormat, "lines header %q", bytes.TrimRight(buf, " "))
	}
	return nil
}

func (r *linesReader) readNumber() (uint32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, errors.Wrap(err, "read number")
	}
	return n, nil
}

func (r *linesReader) readLine() (uint32, []point, error) {
	var head struct {
		BrushType  uint32
		BrushColor uint32
		Padding    uint32
		BrushSize  float32
	}
	if err := binary.Read(r, binary.LittleEndian, &head); err != nil {
		return 0, nil, errors.Wrap(err, "read line")
	}
	// v5 added one more field
	if r.version == LinesV5 {
		var unknown float32
		if err := binary.Read(r, binary.LittleEndian, &unknown); err != nil {
			return 0, nil, errors.Wrap(err, "read line")
		}
	}

	nbPoints, err := r.readNumber()
	if err != nil {
		return 0, nil, err
	}
	// 24 bytes per point
	if int64(nbPoints)*24 > int64(r.Len()) {
		return 0, nil, errors.Errorf("%d points overrun the remaining %d bytes", nbPoints, r.Len())
	}
	pts := make([]point, nbPoints)
	if err := binary.Read(r, binary.LittleEndian, pts); err != nil {
		return 0, nil, errors.Wrap(err, "read points")
	}
	return head.BrushType, pts, nil
}

// EncodeLines writes strokes as a single-layer .lines page of the given
// version.
func EncodeLines(strokes []features.Stroke, version int) ([]byte, error) {
	if version != LinesV3 && version != LinesV5 {
		return nil, errors.Errorf("unsupported lines version %d", version)
	}
	var b bytes.Buffer
	b.WriteString(linesHeader(version))
	write := func(v any) {
		_ = binary.Write(&b, binary.LittleEndian, v)
	}
	write(uint32(1))
	write(uint32(len(strokes)))
	for _, st := range strokes {
		// fineliner, black, size 2
		write(uint32(4))
		write(uint32(0))
		write(uint32(0))
		write(float32(2))
		if version == LinesV5 {
			write(float32(0))
		}
		write(uint32(len(st)))
		for _, s := range st {
			write(point{X: float32(s.X), Y: float32(s.Y), Width: 2, Pressure: 0.5})
		}
	}
	return b.Bytes(), nil
}
