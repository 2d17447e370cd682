package nn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvIdentityKernelAddsBias(t *testing.T) {
	conv := newConv2D(1, 1)
	conv.Weight[4] = 1
	conv.Bias[0] = 0.5

	in := []float32{1, 2, 3, 4, 5, 6}
	out := conv.Apply(in, 2, 3)
	assert.Equal(t, []float32{1.5, 2.5, 3.5, 4.5, 5.5, 6.5}, out)
}

func TestConvZeroPadsBorders(t *testing.T) {
	conv := newConv2D(1, 1)
	for i := range conv.Weight {
		conv.Weight[i] = 1
	}
	in := make([]float32, 9)
	for i := range in {
		in[i] = 1
	}

	out := conv.Apply(in, 3, 3)
	assert.Equal(t, []float32{
		4, 6, 4,
		6, 9, 6,
		4, 6, 4,
	}, out)
}

func TestConvSumsInputChannels(t *testing.T) {
	conv := newConv2D(2, 1)
	conv.Weight[4] = 1
	conv.Weight[9+4] = -2

	in := []float32{
		1, 1, 1, 1,
		3, 3, 3, 3,
	}
	out := conv.Apply(in, 2, 2)
	assert.Equal(t, []float32{-5, -5, -5, -5}, out)
}

func TestMaxPool2(t *testing.T) {
	in := []float32{
		1, 2, 5, 0, 9,
		3, 4, 1, 7, 9,
		9, 9, 9, 9, 9,
	}
	out, h, w := MaxPool2(in, 1, 3, 5)
	assert.Equal(t, 1, h)
	assert.Equal(t, 2, w)
	assert.Equal(t, []float32{4, 7}, out)
}

func TestLinearAndReLU(t *testing.T) {
	l := newLinear(3, 2)
	copy(l.Weight, []float32{1, 0, -1, 0.5, 0.5, 0.5})
	copy(l.Bias, []float32{0, -10})

	out := l.Apply([]float32{1, 2, 3})
	assert.Equal(t, []float32{-2, -7}, out)

	ReLU(out)
	assert.Equal(t, []float32{0, 0}, out)
}

func TestNewValidatesArchitecture(t *testing.T) {
	_, err := New(10, 4)
	assert.True(t, errors.Is(err, ErrShape))

	_, err = New(8, 0)
	assert.True(t, errors.Is(err, ErrShape))

	m, err := New(224, 4)
	require.NoError(t, err)
	assert.Equal(t, 16*56*56, m.FC1.In)
	assert.Equal(t, 3*224*224, m.InputLen())
}

func TestParamsAliasStorage(t *testing.T) {
	m, err := New(8, 3)
	require.NoError(t, err)

	params := m.Params()
	require.Len(t, params, 8)
	for _, p := range params {
		n := 1
		for _, d := range p.Shape {
			n *= d
		}
		assert.Equal(t, n, len(p.Data), p.Name)
	}

	params[7].Data[2] = 42
	assert.Equal(t, float32(42), m.FC2.Bias[2])
}

func TestForwardRejectsWrongInputLength(t *testing.T) {
	m, err := New(8, 3)
	require.NoError(t, err)

	_, err = m.Forward(context.Background(), make([]float32, 10))
	assert.True(t, errors.Is(err, ErrShape))
}

func TestForwardOutputsBiasForZeroWeights(t *testing.T) {
	m, err := New(8, 3)
	require.NoError(t, err)
	copy(m.FC2.Bias, []float32{0.1, -0.2, 0.3})

	logits, err := m.Forward(context.Background(), make([]float32, m.InputLen()))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, -0.2, 0.3}, logits)
}

func TestForwardIsDeterministic(t *testing.T) {
	m, err := New(8, 4)
	require.NoError(t, err)
	for _, p := range m.Params() {
		for i := range p.Data {
			p.Data[i] = float32((i*7)%11-5) / 10
		}
	}
	x := make([]float32, m.InputLen())
	for i := range x {
		x[i] = float32(i%13) / 13
	}

	first, err := m.Forward(context.Background(), x)
	require.NoError(t, err)
	second, err := m.Forward(context.Background(), x)
	require.NoError(t, err)
	assert.Len(t, first, 4)
	assert.Equal(t, first, second)
}

func TestForwardStopsOnCancelledContext(t *testing.T) {
	m, err := New(8, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Forward(ctx, make([]float32, m.InputLen()))
	assert.ErrorIs(t, err, context.Canceled)
}
