package mimi

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moshigo/moshi/ml/backend/cpu"
	"github.com/moshigo/moshi/model"
)

type rawTensor struct {
	data  []float32
	shape []int
}

type rawMap map[string]rawTensor

func (r rawMap) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	return keys
}

func (r rawMap) Floats(name string) ([]float32, []int, error) {
	t, ok := r[name]
	if !ok {
		return nil, nil, fmt.Errorf("not found: %s", name)
	}
	return t.data, t.shape, nil
}

func TestPytorchName(t *testing.T) {
	cases := map[string]string{
		"encoder.model.0.conv.conv.weight":                  "encoder.init_conv1d.conv.conv.weight",
		"encoder.model.1.block.1.conv.conv.bias":            "encoder.layers.0.residuals.0.block.0.conv.conv.bias",
		"encoder.model.4.block.3.conv.conv.weight":          "encoder.layers.1.residuals.0.block.1.conv.conv.weight",
		"encoder.model.3.conv.conv.weight":                  "encoder.layers.0.downsample.conv.conv.weight",
		"encoder.model.12.conv.conv.weight":                 "encoder.layers.3.downsample.conv.conv.weight",
		"encoder.model.14.conv.conv.bias":                   "encoder.final_conv1d.conv.conv.bias",
		"decoder.model.2.convtr.convtr.weight":              "decoder.layers.0.upsample.convtr.convtr.weight",
		"decoder.model.12.block.1.conv.conv.weight":         "decoder.layers.3.residuals.0.block.0.conv.conv.weight",
		"decoder.model.14.conv.conv.weight":                 "decoder.final_conv1d.conv.conv.weight",
		"encoder_transformer.transformer.layers.1.linear1.weight": "encoder_transformer.transformer.layers.1.gating.linear1.weight",
		"decoder_transformer.transformer.layers.0.self_attn.in_proj_weight": "decoder_transformer.transformer.layers.0.self_attn.in_proj.weight",
		"quantizer.rvq_first.vq.layers.0._codebook.embedding_sum":           "quantizer.rvq_first.vq.layers.0._codebook.embedding_sum",
	}
	for in, want := range cases {
		assert.Equal(t, want, pytorchName(in), "name %q", in)
	}
}

func TestFromPyTorchTransposes(t *testing.T) {
	ctx := cpu.NewContext()
	src := FromPyTorch(rawMap{
		// [Out=2, In=1, K=3]
		"encoder.model.0.conv.conv.weight": {data: []float32{1, 2, 3, 4, 5, 6}, shape: []int{2, 1, 3}},
		// [In=1, Out=2, K=2]
		"decoder.model.2.convtr.convtr.weight": {data: []float32{1, 2, 3, 4}, shape: []int{1, 2, 2}},
		"encoder.model.0.conv.conv.bias":       {data: []float32{7, 8}, shape: []int{2}},
	})

	assert.ElementsMatch(t, []string{
		"encoder.init_conv1d.conv.conv.weight",
		"decoder.layers.0.upsample.convtr.convtr.weight",
		"encoder.init_conv1d.conv.conv.bias",
	}, src.Keys())

	w, err := src.Get(ctx, "encoder.init_conv1d.conv.conv.weight")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1}, w.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, w.Floats())

	w, err = src.Get(ctx, "decoder.layers.0.upsample.convtr.convtr.weight")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, w.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4}, w.Floats())

	b, err := src.Get(ctx, "encoder.init_conv1d.conv.conv.bias")
	require.NoError(t, err)
	assert.Equal(t, []float32{7, 8}, b.Floats())

	_, err = src.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrMissingTensor)
}

func TestFromPyTorchTransposeMixesAxes(t *testing.T) {
	// [Out=1, In=2, K=2]: w[0,i,k] = 10*i + k
	out, shape, err := transpose([]float32{0, 1, 10, 11}, []int{1, 2, 2}, 0, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2}, shape)
	assert.Equal(t, []float32{0, 10, 1, 11}, out)
}
