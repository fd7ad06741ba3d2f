package mimi

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/ml/backend/cpu"
	"github.com/moshigo/moshi/model"
	"github.com/moshigo/moshi/streaming"
	"github.com/moshigo/moshi/transformer"
)

func tinyConfig() Config {
	return Config{
		Channels:   1,
		SampleRate: 64,
		FrameRate:  8,
		Seanet: SeanetConfig{
			Dimension:          8,
			Channels:           1,
			Causal:             true,
			NFilters:           2,
			NResidualLayers:    1,
			Ratios:             []int{2, 2},
			KernelSize:         3,
			ResidualKernelSize: 3,
			LastKernelSize:     3,
			DilationBase:       2,
			PadMode:            ml.PadConstant,
			TrueSkip:           true,
			Compress:           2,
		},
		Transformer: transformer.Config{
			DModel:              8,
			NumHeads:            2,
			NumLayers:           1,
			Causal:              true,
			NormFirst:           true,
			LayerScale:          0.01,
			PositionalEmbedding: transformer.PositionalRoPE,
			Norm:                transformer.LayerNorm,
			Context:             32,
			MaxPeriod:           10000,
			KVRepeat:            1,
			DimFeedForward:      16,
			ConvLayout:          true,
			UseRotatingKVCache:  true,
		},
		QuantizerNQ:  3,
		Bins:         8,
		QuantizerDim: 4,
	}
}

func signal(ctx ml.Context, channels, n int, seed uint64) ml.Tensor {
	r := rand.New(rand.NewPCG(seed, 7))
	s := make([]float32, channels*n)
	for i := range s {
		s[i] = r.Float32()*2 - 1
	}
	return ctx.FromFloats(s, 1, channels, n)
}

// chunks teilt n in zufaellige, nicht leere Stuecke
func chunks(n int, seed uint64) [][2]int {
	r := rand.New(rand.NewPCG(seed, 3))
	var out [][2]int
	for start := 0; start < n; {
		end := min(n, start+1+r.IntN(7))
		out = append(out, [2]int{start, end})
		start = end
	}
	return out
}

type stepper interface {
	Step(ml.Context, streaming.Value) streaming.Value
}

func runChunks(ctx ml.Context, l stepper, x ml.Tensor, seed uint64) ml.Tensor {
	var out streaming.Value
	for _, c := range chunks(x.Dim(2), seed) {
		out = streaming.Cat(ctx, 2, out, l.Step(ctx, streaming.Some(x.Slice(ctx, 2, c[0], c[1]))))
	}
	t, _ := out.Tensor()
	return t
}

func requirePrefix(t *testing.T, full, prefix ml.Tensor) {
	t.Helper()
	require.NotNil(t, prefix, "streaming produced no output")
	require.LessOrEqual(t, prefix.Dim(2), full.Dim(2))
	want := full.Slice(cpu.NewContext(), 2, 0, prefix.Dim(2)).Floats()
	if diff := cmp.Diff(want, prefix.Floats(), cmpopts.EquateApprox(0, 1e-4)); diff != "" {
		t.Errorf("streaming output is not a prefix of the offline output (-offline +streaming):\n%s", diff)
	}
}

func TestExtraPadding(t *testing.T) {
	cases := []struct {
		n, kernel, stride, want int
	}{
		{10, 4, 2, 0},
		{11, 4, 2, 1},
		{5, 3, 1, 0},
		{1, 8, 4, 3},
	}
	for _, tt := range cases {
		assert.Equal(t, tt.want, extraPadding(tt.n, tt.kernel, tt.stride, tt.kernel-tt.stride), "n=%d k=%d s=%d", tt.n, tt.kernel, tt.stride)
	}
}

func TestConv1dStreaming(t *testing.T) {
	cases := []struct {
		name                     string
		kernel, stride, dilation int
		padMode                  ml.PadMode
	}{
		{"kernel 3", 3, 1, 1, ml.PadConstant},
		{"dilatiert", 3, 1, 2, ml.PadConstant},
		{"stride 2 edge", 4, 2, 1, ml.PadEdge},
		{"stride 3", 6, 3, 1, ml.PadConstant},
		{"1x1", 1, 1, 1, ml.PadConstant},
	}

	for i, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			ctx := cpu.NewContext()
			c := NewConv1d(2, 3, tt.kernel, tt.stride, tt.dilation, 1, true, true, tt.padMode)
			require.NoError(t, model.Randomize(ctx, c, uint64(i), 0.5))

			x := signal(ctx, 2, 37, uint64(i))
			full := c.Forward(ctx, x)
			for seed := range uint64(3) {
				c.ResetState()
				requirePrefix(t, full, runChunks(ctx, c, x, seed))
			}
		})
	}
}

func TestConv1dBuffersShortInput(t *testing.T) {
	ctx := cpu.NewContext()
	c := NewConv1d(1, 1, 8, 4, 1, 1, false, true, ml.PadConstant)
	require.NoError(t, model.Randomize(ctx, c, 1, 0.5))

	// 4 Padding + 3 Samples reichen nicht fuer einen Frame
	out := c.Step(ctx, streaming.Some(signal(ctx, 1, 3, 1)))
	assert.True(t, out.IsEmpty())
	assert.Equal(t, 7, c.prev.Dim(2))

	out = c.Step(ctx, streaming.Some(signal(ctx, 1, 1, 2)))
	assert.Equal(t, 1, out.Dim(2))
	assert.Less(t, c.prev.Dim(2), 8)

	assert.True(t, c.Step(ctx, streaming.Empty()).IsEmpty())
}

func TestConvTranspose1dStreaming(t *testing.T) {
	for i, groups := range []int{1, 3} {
		ctx := cpu.NewContext()
		c := NewConvTranspose1d(3, 3, 4, 2, groups, groups == 1, true)
		require.NoError(t, model.Randomize(ctx, c, uint64(i), 0.5))

		x := signal(ctx, 3, 19, uint64(i))
		full := c.Forward(ctx, x)
		streamed := runChunks(ctx, c, x, uint64(i))
		assert.Equal(t, full.Dim(2), streamed.Dim(2))
		requirePrefix(t, full, streamed)
		assert.Equal(t, 2, c.prev.Dim(2))
	}
}

func newTiny(t *testing.T, ctx ml.Context) *Mimi {
	t.Helper()
	m := New(tinyConfig())
	require.NoError(t, model.Randomize(ctx, m, 42, 0.3))
	return m
}

func TestSeanetEncoderStreaming(t *testing.T) {
	ctx := cpu.NewContext()
	m := newTiny(t, ctx)

	x := signal(ctx, 1, 64, 5)
	full := m.Encoder.Forward(ctx, x)
	assert.Equal(t, []int{1, 8, 16}, full.Shape())

	m.Encoder.ResetState()
	requirePrefix(t, full, runChunks(ctx, m.Encoder, x, 9))
}

func TestEncodeStepMatchesEncode(t *testing.T) {
	ctx := cpu.NewContext()
	m := newTiny(t, ctx)

	x := signal(ctx, 1, 64, 6)
	codes := m.Encode(ctx, x)
	assert.Equal(t, []int{1, 3, 8}, codes.Shape())
	assert.Equal(t, ml.DTypeI32, codes.DType())

	m.ResetState()
	var streamed streaming.Value
	for _, c := range chunks(64, 4) {
		streamed = streaming.Cat(ctx, 2, streamed, m.EncodeStep(ctx, streaming.Some(x.Slice(ctx, 2, c[0], c[1]))))
	}
	got, ok := streamed.Tensor()
	require.True(t, ok)
	want := codes.Slice(ctx, 2, 0, got.Dim(2))
	assert.Equal(t, want.Ints(), got.Ints())
}

func TestDecodeStepMatchesDecode(t *testing.T) {
	ctx := cpu.NewContext()
	m := newTiny(t, ctx)

	codes := m.Encode(ctx, signal(ctx, 1, 64, 8))
	full := m.Decode(ctx, codes)
	assert.Equal(t, 1, full.Dim(1))

	m.ResetState()
	var out streaming.Value
	for i := range codes.Dim(2) {
		out = streaming.Cat(ctx, 2, out, m.DecodeStep(ctx, streaming.Some(codes.Slice(ctx, 2, i, i+1))))
	}
	got, _ := out.Tensor()
	requirePrefix(t, full, got)
}

func TestResetStateIdempotent(t *testing.T) {
	ctx := cpu.NewContext()
	m := newTiny(t, ctx)
	x := signal(ctx, 1, 24, 2)

	first := m.EncodeStep(ctx, streaming.Some(x))
	m.EncodeStep(ctx, streaming.Some(x))
	m.ResetState()
	m.ResetState()
	again := m.EncodeStep(ctx, streaming.Some(x))

	a, _ := first.Tensor()
	b, _ := again.Tensor()
	require.NotNil(t, a)
	assert.Equal(t, a.Ints(), b.Ints())
}

func TestWarmup(t *testing.T) {
	ctx := cpu.NewContext()
	m := newTiny(t, ctx)
	assert.Equal(t, 8, m.Config().FrameSize())
	assert.NotPanics(t, func() { m.Warmup(ctx) })
}

func TestTensorNames(t *testing.T) {
	infos, err := model.Inventory(New(tinyConfig()))
	require.NoError(t, err)

	names := make(map[string][]int)
	for _, info := range infos {
		names[info.Name] = info.Shape
	}

	assert.Equal(t, []int{2, 3, 1}, names["encoder.init_conv1d.conv.conv.weight"])
	assert.Contains(t, names, "encoder.layers.0.residuals.0.block.1.conv.conv.bias")
	assert.Equal(t, []int{4, 4, 2}, names["encoder.layers.0.downsample.conv.conv.weight"])
	assert.Equal(t, []int{4, 4, 8}, names["decoder.layers.0.upsample.convtr.convtr.weight"])
	assert.Equal(t, []int{1, 4, 8}, names["upsample.convtr.convtr.convtr.weight"])
	assert.Equal(t, []int{8, 4, 8}, names["downsample.conv.conv.conv.weight"])
	assert.Equal(t, []int{8, 4}, names["quantizer.rvq_rest.vq.layers.1._codebook.embedding_sum"])
	assert.Equal(t, []int{4, 1, 8}, names["quantizer.rvq_first.input_proj.weight"])
	assert.Contains(t, names, "encoder_transformer.transformer.layers.0.layer_scale_2.scale")
	assert.Contains(t, names, "decoder_transformer.transformer.layers.0.gating.linear2.weight")
	assert.NotContains(t, names, "downsample.conv.conv.conv.bias")
}

func TestPresetConfig(t *testing.T) {
	cfg := Mimi2024_07(32)
	assert.Equal(t, 1920, cfg.FrameSize())
	assert.Equal(t, 2, cfg.downsampleStride())
	assert.Equal(t, 960, cfg.Seanet.hopLength())
	assert.Contains(t, model.Presets(), "mimi_2024_07")
}
