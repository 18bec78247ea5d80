// Package hzmodel reads and writes .hzmodel files: a fixed header, an
// optionally obfuscated payload holding the class vocabulary, and the raw
// network weights.
package hzmodel

import (
	"bytes"
	"encoding/binary"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/happyhackingspace/hzr/lstm"
)

const (
	// Magic opens every model file.
	Magic = "HZMD"

	// Version is the only header version understood.
	Version = 1

	// HeaderSize is the size of the fixed header in bytes.
	HeaderSize = 44
)

// FlagObfuscated marks a payload XORed with the repeating file key.
const FlagObfuscated uint32 = 1 << 0

// key is indexed by absolute file offset modulo its length.
var key = [4]byte{0x5a, 0xc3, 0x96, 0x3c}

var (
	ErrBadMagic           = errors.New("not an hzmodel file")
	ErrUnsupportedVersion = errors.New("unsupported hzmodel version")
)

// Header is the fixed file header. All fields are little-endian uint32.
type Header struct {
	Version       uint32
	Flags         uint32
	VocabOffset   uint32
	VocabLength   uint32
	WeightsOffset uint32
	WeightsLength uint32
	NumLayers     uint32
	HiddenSize    uint32
	NumClasses    uint32
	NumFeatures   uint32
}

// Dims returns the network dimensions declared by h.
func (h Header) Dims() lstm.Dims {
	return lstm.Dims{
		NumLayers:   int(h.NumLayers),
		HiddenSize:  int(h.HiddenSize),
		NumClasses:  int(h.NumClasses),
		NumFeatures: int(h.NumFeatures),
	}
}

// Obfuscated reports whether the payload is XOR-obfuscated.
func (h Header) Obfuscated() bool {
	return h.Flags&FlagObfuscated != 0
}

// ParseHeader reads and checks the fixed header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, errors.Wrapf(lstm.ErrMalformedModel, "file is %d bytes, header needs %d", len(data), HeaderSize)
	}
	if string(data[:len(Magic)]) != Magic {
		return h, errors.Wrapf(ErrBadMagic, "magic %q", data[:len(Magic)])
	}
	if err := binary.Read(bytes.NewReader(data[len(Magic):HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, errors.Wrap(err, "read header")
	}
	if h.Version != Version {
		return h, errors.Wrapf(ErrUnsupportedVersion, "version %d", h.Version)
	}
	return h, nil
}

// Decode parses a complete model file.
func Decode(data []byte) (*lstm.Model, Header, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, h, err
	}

	vocabRaw, err := section(data, h.VocabOffset, h.VocabLength, "vocabulary")
	if err != nil {
		return nil, h, err
	}
	weights, err := section(data, h.WeightsOffset, h.WeightsLength, "weights")
	if err != nil {
		return nil, h, err
	}
	if h.Obfuscated() {
		vocabRaw = xorCopy(vocabRaw, h.VocabOffset)
		weights = xorCopy(weights, h.WeightsOffset)
	}

	d := h.Dims()
	if err := d.Validate(); err != nil {
		return nil, h, errors.Wrap(err, "header")
	}
	if want := d.WeightsSize(); int64(h.WeightsLength) != int64(want) {
		return nil, h, errors.Wrapf(lstm.ErrMalformedModel, "header declares %d weight bytes, dimensions need %d", h.WeightsLength, want)
	}

	m, err := lstm.Parse(d, weights)
	if err != nil {
		return nil, h, err
	}
	vocab, err := parseVocab(vocabRaw, d.NumClasses-1)
	if err != nil {
		return nil, h, err
	}
	m.Vocab = vocab
	return m, h, nil
}

// ReadFile reads and decodes the model file at path.
func ReadFile(path string) (*lstm.Model, Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Header{}, errors.Wrap(err, "read model")
	}
	m, h, err := Decode(data)
	if err != nil {
		return nil, h, errors.Wrapf(err, "decode %s", path)
	}
	return m, h, nil
}

// Encode writes m as a model file. The vocabulary follows the header and
// the weights follow the vocabulary.
func Encode(m *lstm.Model, flags uint32) ([]byte, error) {
	weights, err := m.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "encode weights")
	}
	if len(m.Vocab) != m.Dims.NumClasses-1 {
		return nil, errors.Errorf("vocabulary has %d entries, model has %d classes", len(m.Vocab), m.Dims.NumClasses)
	}
	for i, s := range m.Vocab {
		if strings.Contains(s, "\n") {
			return nil, errors.Errorf("vocabulary entry %d contains a newline", i)
		}
	}
	vocab := []byte(strings.Join(m.Vocab, "\n"))

	d := m.Dims
	h := Header{
		Version:       Version,
		Flags:         flags,
		VocabOffset:   HeaderSize,
		VocabLength:   uint32(len(vocab)),
		WeightsOffset: HeaderSize + uint32(len(vocab)),
		WeightsLength: uint32(len(weights)),
		NumLayers:     uint32(d.NumLayers),
		HiddenSize:    uint32(d.HiddenSize),
		NumClasses:    uint32(d.NumClasses),
		NumFeatures:   uint32(d.NumFeatures),
	}

	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(vocab) + len(weights))
	buf.WriteString(Magic)
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, errors.Wrap(err, "write header")
	}
	buf.Write(vocab)
	buf.Write(weights)

	out := buf.Bytes()
	if h.Obfuscated() {
		xorInPlace(out[HeaderSize:], HeaderSize)
	}
	return out, nil
}

func section(data []byte, off, length uint32, name string) ([]byte, error) {
	end := uint64(off) + uint64(length)
	if uint64(off) < HeaderSize || end > uint64(len(data)) {
		return nil, errors.Wrapf(lstm.ErrMalformedModel, "%s section [%d, %d) outside file of %d bytes", name, off, end, len(data))
	}
	return data[off:end], nil
}

// xorCopy de-obfuscates b, which starts at absolute file offset off.
func xorCopy(b []byte, off uint32) []byte {
	out := bytes.Clone(b)
	xorInPlace(out, off)
	return out
}

func xorInPlace(b []byte, off uint32) {
	for i := range b {
		b[i] ^= key[(uint64(off)+uint64(i))%uint64(len(key))]
	}
}

func parseVocab(raw []byte, n int) ([]string, error) {
	s := strings.TrimSuffix(string(raw), "\n")
	entries := strings.Split(s, "\n")
	if len(entries) != n {
		return nil, errors.Wrapf(lstm.ErrMalformedModel, "vocabulary has %d entries, want %d", len(entries), n)
	}
	return entries, nil
}
