package weights

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/scan-classifier/internal/nn"
)

func randomModel(t *testing.T, classes int) *nn.SmallCNN {
	t.Helper()
	m, err := nn.New(8, classes)
	require.NoError(t, err)
	m.InitUniform(rand.New(rand.NewPCG(1, 2)))
	return m
}

func header(classes int) Header {
	return Header{Architecture: nn.Architecture, Organ: "brain", NumClasses: classes, InputSize: 8}
}

func TestWriteReadAssignPreservesParameters(t *testing.T) {
	for _, tc := range []struct {
		name  string
		dtype DType
		comp  Compression
		delta float64
	}{
		{"float32", Float32, None, 0},
		{"float16 zstd", Float16, Zstd, 1e-3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := randomModel(t, 4)
			h := header(4)
			h.DType, h.Compression = tc.dtype, tc.comp

			var buf bytes.Buffer
			require.NoError(t, Write(&buf, h, src.Params()))

			file, err := Read(&buf)
			require.NoError(t, err)
			assert.Equal(t, 4, file.Header.NumClasses)
			assert.Len(t, file.Header.Tensors, 8)

			dst, err := nn.New(8, 4)
			require.NoError(t, err)
			require.NoError(t, file.Assign(dst.Params()))

			want, got := src.Params(), dst.Params()
			for i := range want {
				assert.InDeltaSlice(t, want[i].Data, got[i].Data, tc.delta, want[i].Name)
			}
		})
	}
}

func TestReadRejectsMalformedInput(t *testing.T) {
	var valid bytes.Buffer
	require.NoError(t, Write(&valid, header(3), randomModel(t, 3).Params()))
	good := valid.Bytes()

	badVersion := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(badVersion[4:6], 9)

	_, err := Read(bytes.NewReader([]byte("PK\x03\x04 a zip archive")))
	assert.True(t, errors.Is(err, ErrFormat), "bad magic: %v", err)

	_, err = Read(bytes.NewReader(badVersion))
	assert.True(t, errors.Is(err, ErrVersion), "bad version: %v", err)

	_, err = Read(bytes.NewReader(good[:len(good)-7]))
	assert.True(t, errors.Is(err, ErrFormat), "truncated: %v", err)

	_, err = Read(bytes.NewReader(append(append([]byte(nil), good...), 0x00)))
	assert.True(t, errors.Is(err, ErrFormat), "trailing: %v", err)

	_, err = Read(bytes.NewReader(nil))
	assert.True(t, errors.Is(err, ErrFormat), "empty: %v", err)
}

func TestAssignRejectsShapeMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, header(3), randomModel(t, 3).Params()))
	file, err := Read(&buf)
	require.NoError(t, err)

	four, err := nn.New(8, 4)
	require.NoError(t, err)
	assert.True(t, errors.Is(file.Assign(four.Params()), nn.ErrShape))

	wider, err := nn.New(16, 3)
	require.NoError(t, err)
	assert.True(t, errors.Is(file.Assign(wider.Params()), nn.ErrShape))
}

func TestWriteRejectsInconsistentParam(t *testing.T) {
	params := []nn.Param{{Name: "x", Shape: []int{2, 2}, Data: make([]float32, 3)}}
	err := Write(&bytes.Buffer{}, header(1), params)
	assert.True(t, errors.Is(err, ErrFormat))
}

func TestWriteFileReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.scnw")
	require.NoError(t, WriteFile(path, header(3), randomModel(t, 3).Params()))

	file, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "brain", file.Header.Organ)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.scnw"))
	assert.Error(t, err)
}
