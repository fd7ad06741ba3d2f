package nn

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moshigo/moshi/ml/backend/cpu"
)

func TestLinear(t *testing.T) {
	ctx := cpu.NewContext()
	m := NewLinear(2, 3, true)
	m.Weight = ctx.FromFloats([]float32{1, 0, 0, 1, 1, 1}, 3, 2)
	m.Bias = ctx.FromFloats([]float32{0.5, 0, -1}, 3)

	out := m.Forward(ctx, ctx.FromFloats([]float32{2, 3}, 1, 1, 2))
	assert.Equal(t, []int{1, 1, 3}, out.Shape())
	assert.Equal(t, []float32{2.5, 3, 4}, out.Floats())

	assert.Equal(t, map[string][]int{"weight": {3, 2}, "bias": {3}}, m.Shapes())
	assert.NotContains(t, NewLinear(2, 3, false).Shapes(), "bias")
}

func TestEmbedding(t *testing.T) {
	ctx := cpu.NewContext()
	m := NewEmbedding(3, 2)
	m.Weight = ctx.FromFloats([]float32{0, 1, 2, 3, 4, 5}, 3, 2)

	out := m.Forward(ctx, ctx.FromInts([]int32{2, 0}, 1, 2))
	assert.Equal(t, []int{1, 2, 2}, out.Shape())
	assert.Equal(t, []float32{4, 5, 0, 1}, out.Floats())
}

func TestConvTranspose1dDepthwise(t *testing.T) {
	ctx := cpu.NewContext()

	// zwei Kanaele, Kernel 2, Stride 1
	m := NewConvTranspose1d(2, 2, 2, 1, 2, false)
	assert.Equal(t, []int{1, 2, 2}, m.Shapes()["weight"])
	m.Weight = ctx.FromFloats([]float32{1, 10, 2, 20}, 1, 2, 2)
	require.NoError(t, m.Update(ctx))

	x := ctx.FromFloats([]float32{1, 1, 1, 2}, 1, 2, 2)
	out := m.Forward(ctx, x)
	assert.Equal(t, []int{1, 2, 3}, out.Shape())

	// Kanal 0: w = [1, 2], Kanal 1: w = [10, 20]
	want := []float32{
		1, 3, 2,
		10, 40, 40,
	}
	if diff := cmp.Diff(want, out.Floats(), cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("depthwise mismatch (-want +got):\n%s", diff)
	}
}

func TestConvTranspose1dGroupsUnsupported(t *testing.T) {
	assert.Panics(t, func() { NewConvTranspose1d(4, 4, 2, 1, 2, false) })
	assert.NotPanics(t, func() { NewConvTranspose1d(4, 4, 2, 1, 4, false) })
}

func TestConv1dBias(t *testing.T) {
	ctx := cpu.NewContext()
	m := NewConv1d(1, 2, 1, 1, 1, 1, true)
	m.Weight = ctx.FromFloats([]float32{1, -1}, 2, 1, 1)
	m.Bias = ctx.FromFloats([]float32{1, 2}, 2)

	out := m.Forward(ctx, ctx.FromFloats([]float32{3, 4}, 1, 1, 2))
	assert.Equal(t, []float32{4, 5, -1, -2}, out.Floats())
}

func TestNorms(t *testing.T) {
	ctx := cpu.NewContext()
	rms := NewRMSNorm(2, 1e-8)
	rms.Weight = ctx.FromFloats([]float32{1, 2}, 2)
	out := rms.Forward(ctx, ctx.FromFloats([]float32{3, 4}, 1, 2))
	// rms = sqrt((9+16)/2)
	if diff := cmp.Diff([]float32{0.8485281, 2.2627417}, out.Floats(), cmpopts.EquateApprox(1e-5, 0)); diff != "" {
		t.Errorf("rmsnorm mismatch (-want +got):\n%s", diff)
	}

	ls := NewLayerScale(2)
	ls.Scale = ctx.FromFloats([]float32{0.5, 2}, 2)
	assert.Equal(t, []float32{1.5, 8}, ls.Forward(ctx, ctx.FromFloats([]float32{3, 4}, 1, 2)).Floats())
}
