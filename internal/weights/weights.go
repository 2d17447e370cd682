// Package weights reads and writes the versioned classifier weight format.
//
// Layout:
//
//	magic "SCNW" | uint16 version | uint32 header length | JSON header | payload
//
// Integers are little-endian. The payload is every tensor listed in the
// header, concatenated in header order, optionally zstd compressed.
package weights

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/x448/float16"

	"github.com/example/scan-classifier/internal/nn"
)

// Version is the only format version this package reads and writes.
const Version uint16 = 1

const (
	magic         = "SCNW"
	maxHeaderSize = 1 << 20
	maxElements   = 1 << 28
)

var (
	// ErrFormat reports a malformed or truncated weight file.
	ErrFormat = errors.New("invalid weight file")
	// ErrVersion reports a format version this build cannot read.
	ErrVersion = errors.New("unsupported weight file version")
)

// DType is the on-disk element encoding.
type DType string

const (
	Float32 DType = "float32"
	Float16 DType = "float16"
)

func (d DType) size() (int, error) {
	switch d {
	case Float32, "":
		return 4, nil
	case Float16:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: unknown dtype %q", ErrFormat, d)
	}
}

// Compression is the payload compression scheme.
type Compression string

const (
	None Compression = "none"
	Zstd Compression = "zstd"
)

// TensorInfo describes one tensor in the payload.
type TensorInfo struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// Elements returns the product of the shape dimensions.
func (t TensorInfo) Elements() (int, error) {
	if len(t.Shape) == 0 {
		return 0, fmt.Errorf("%w: tensor %q has no shape", ErrFormat, t.Name)
	}
	n := 1
	for _, d := range t.Shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: tensor %q has dimension %d", ErrFormat, t.Name, d)
		}
		n *= d
		if n > maxElements {
			return 0, fmt.Errorf("%w: tensor %q is too large", ErrFormat, t.Name)
		}
	}
	return n, nil
}

// Header is the JSON metadata block of a weight file.
type Header struct {
	Architecture string       `json:"architecture"`
	Organ        string       `json:"organ,omitempty"`
	NumClasses   int          `json:"num_classes"`
	InputSize    int          `json:"input_size"`
	Labels       []string     `json:"labels,omitempty"`
	DType        DType        `json:"dtype"`
	Compression  Compression  `json:"compression"`
	Tensors      []TensorInfo `json:"tensors"`
}

// Tensor is a decoded tensor.
type Tensor struct {
	TensorInfo
	Data []float32
}

// File is a fully decoded weight file.
type File struct {
	Header  Header
	Tensors []Tensor
}

// Write encodes params under h. The tensor list of h is replaced by one
// derived from params.
func Write(w io.Writer, h Header, params []nn.Param) error {
	elemSize, err := h.DType.size()
	if err != nil {
		return err
	}
	if h.DType == "" {
		h.DType = Float32
	}
	if h.Compression == "" {
		h.Compression = None
	}

	h.Tensors = make([]TensorInfo, 0, len(params))
	for _, p := range params {
		info := TensorInfo{Name: p.Name, Shape: append([]int(nil), p.Shape...)}
		n, err := info.Elements()
		if err != nil {
			return err
		}
		if n != len(p.Data) {
			return fmt.Errorf("%w: tensor %q shape %v holds %d values, have %d", ErrFormat, p.Name, p.Shape, n, len(p.Data))
		}
		h.Tensors = append(h.Tensors, info)
	}

	meta, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if len(meta) > maxHeaderSize {
		return fmt.Errorf("%w: header is %d bytes", ErrFormat, len(meta))
	}

	bw := bufio.NewWriter(w)
	prefix := make([]byte, 0, len(magic)+6)
	prefix = append(prefix, magic...)
	prefix = binary.LittleEndian.AppendUint16(prefix, Version)
	prefix = binary.LittleEndian.AppendUint32(prefix, uint32(len(meta)))
	if _, err := bw.Write(prefix); err != nil {
		return err
	}
	if _, err := bw.Write(meta); err != nil {
		return err
	}

	var payload io.Writer = bw
	var enc *zstd.Encoder
	switch h.Compression {
	case None:
	case Zstd:
		enc, err = zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		payload = enc
	default:
		return fmt.Errorf("%w: unknown compression %q", ErrFormat, h.Compression)
	}

	for _, p := range params {
		if _, err := payload.Write(encodeValues(p.Data, h.DType, elemSize)); err != nil {
			return fmt.Errorf("write tensor %s: %w", p.Name, err)
		}
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("flush zstd: %w", err)
		}
	}
	return bw.Flush()
}

// Read decodes a complete weight file.
func Read(r io.Reader) (*File, error) {
	br := bufio.NewReader(r)

	prefix := make([]byte, len(magic)+6)
	if _, err := io.ReadFull(br, prefix); err != nil {
		return nil, fmt.Errorf("%w: read prefix: %v", ErrFormat, err)
	}
	if string(prefix[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, prefix[:len(magic)])
	}
	if v := binary.LittleEndian.Uint16(prefix[4:6]); v != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}
	size := binary.LittleEndian.Uint32(prefix[6:10])
	if size == 0 || size > maxHeaderSize {
		return nil, fmt.Errorf("%w: header length %d", ErrFormat, size)
	}

	meta := make([]byte, size)
	if _, err := io.ReadFull(br, meta); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrFormat, err)
	}
	var h Header
	if err := json.Unmarshal(meta, &h); err != nil {
		return nil, fmt.Errorf("%w: decode header: %v", ErrFormat, err)
	}
	elemSize, err := h.DType.size()
	if err != nil {
		return nil, err
	}

	var payload io.Reader = br
	switch h.Compression {
	case None, "":
	case Zstd:
		dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("%w: open zstd stream: %v", ErrFormat, err)
		}
		defer dec.Close()
		payload = dec
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", ErrFormat, h.Compression)
	}

	file := &File{Header: h, Tensors: make([]Tensor, 0, len(h.Tensors))}
	seen := make(map[string]struct{}, len(h.Tensors))
	for _, info := range h.Tensors {
		if _, dup := seen[info.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tensor %q", ErrFormat, info.Name)
		}
		seen[info.Name] = struct{}{}

		n, err := info.Elements()
		if err != nil {
			return nil, err
		}
		raw := make([]byte, n*elemSize)
		if _, err := io.ReadFull(payload, raw); err != nil {
			return nil, fmt.Errorf("%w: tensor %q truncated: %v", ErrFormat, info.Name, err)
		}
		file.Tensors = append(file.Tensors, Tensor{TensorInfo: info, Data: decodeValues(raw, h.DType, n)})
	}

	var extra [1]byte
	if n, _ := payload.Read(extra[:]); n != 0 {
		return nil, fmt.Errorf("%w: trailing data after last tensor", ErrFormat)
	}
	return file, nil
}

// Assign copies the file's tensors into params, matching by name. Every
// param must be present with an identical shape and the file must not carry
// tensors the params do not name.
func (f *File) Assign(params []nn.Param) error {
	byName := make(map[string]Tensor, len(f.Tensors))
	for _, t := range f.Tensors {
		byName[t.Name] = t
	}
	if len(byName) != len(params) {
		return fmt.Errorf("%w: file has %d tensors, architecture expects %d", nn.ErrShape, len(byName), len(params))
	}
	for _, p := range params {
		t, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("%w: missing tensor %q", nn.ErrShape, p.Name)
		}
		if !equalShape(t.Shape, p.Shape) {
			return fmt.Errorf("%w: tensor %q has shape %v, expected %v", nn.ErrShape, p.Name, t.Shape, p.Shape)
		}
		copy(p.Data, t.Data)
	}
	return nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func encodeValues(values []float32, dtype DType, elemSize int) []byte {
	buf := make([]byte, len(values)*elemSize)
	for i, v := range values {
		if dtype == Float16 {
			binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
			continue
		}
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeValues(raw []byte, dtype DType, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		if dtype == Float16 {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
			continue
		}
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// ReadFile decodes the weight file at path.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// WriteFile encodes params to path, replacing any existing file.
func WriteFile(path string, h Header, params []nn.Param) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, h, params); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
