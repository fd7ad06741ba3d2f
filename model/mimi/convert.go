package mimi

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pdevine/tensor"

	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/model"
)

// RawSource exposes decoded float32 data of a checkpoint.
type RawSource interface {
	Keys() []string
	Floats(name string) ([]float32, []int, error)
}

// FromPyTorch adapts a checkpoint exported from the PyTorch codec: module
// indices of the sequential SEANet stacks are mapped to named layers and
// convolution weights are transposed to the [Out, K, In] layout.
func FromPyTorch(src RawSource) model.WeightSource {
	p := &pytorchSource{src: src, names: make(map[string]string)}
	for _, k := range src.Keys() {
		p.names[pytorchName(k)] = k
	}
	return p
}

type pytorchSource struct {
	src   RawSource
	names map[string]string
}

func (p *pytorchSource) Keys() []string {
	keys := make([]string, 0, len(p.names))
	for _, k := range p.src.Keys() {
		keys = append(keys, pytorchName(k))
	}
	return keys
}

func (p *pytorchSource) Get(ctx ml.Context, name string) (ml.Tensor, error) {
	orig, ok := p.names[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrMissingTensor, name)
	}

	data, shape, err := p.src.Floats(orig)
	if err != nil {
		return nil, err
	}

	switch {
	case len(shape) != 3:
	case strings.HasSuffix(name, ".convtr.weight"):
		// [In, Out, K] -> [Out, K, In]
		data, shape, err = transpose(data, shape, 1, 2, 0)
	case strings.HasSuffix(name, ".conv.weight"),
		strings.HasSuffix(name, ".input_proj.weight"),
		strings.HasSuffix(name, ".output_proj.weight"):
		// [Out, In, K] -> [Out, K, In]
		data, shape, err = transpose(data, shape, 0, 2, 1)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return ctx.FromFloats(data, shape...), nil
}

func transpose(data []float32, shape []int, perm ...int) ([]float32, []int, error) {
	n := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	if err := n.T(perm...); err != nil {
		return nil, nil, err
	}
	if err := n.Transpose(); err != nil {
		return nil, nil, err
	}

	out, ok := n.Data().([]float32)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected backing %T", n.Data())
	}
	return out, slices.Clone([]int(n.Shape())), nil
}

var pytorchReplacer = strings.NewReplacer(
	".in_proj_weight", ".in_proj.weight",
	".linear1.", ".gating.linear1.",
	".linear2.", ".gating.linear2.",
	".block.1.", ".block.0.",
	".block.3.", ".block.1.",
)

// pytorchName maps a PyTorch parameter name to the name used here.
func pytorchName(k string) string {
	k = strings.Replace(k, "encoder.model.", "encoder.", 1)
	k = strings.Replace(k, "decoder.model.", "decoder.", 1)

	// nn.Sequential Indizes: init, (res, elu, down)*4, elu, final
	for layer, idx := range []int{1, 4, 7, 10} {
		k = strings.Replace(k, fmt.Sprintf("encoder.%d.", idx), fmt.Sprintf("encoder.layers.%d.residuals.0.", layer), 1)
		k = strings.Replace(k, fmt.Sprintf("encoder.%d.", idx+2), fmt.Sprintf("encoder.layers.%d.downsample.", layer), 1)
	}
	// init, (elu, up, res)*4, elu, final
	for layer, idx := range []int{2, 5, 8, 11} {
		k = strings.Replace(k, fmt.Sprintf("decoder.%d.", idx), fmt.Sprintf("decoder.layers.%d.upsample.", layer), 1)
		k = strings.Replace(k, fmt.Sprintf("decoder.%d.", idx+1), fmt.Sprintf("decoder.layers.%d.residuals.0.", layer), 1)
	}
	for _, prefix := range []string{"encoder", "decoder"} {
		k = strings.Replace(k, prefix+".0.", prefix+".init_conv1d.", 1)
		k = strings.Replace(k, prefix+".14.", prefix+".final_conv1d.", 1)
	}

	return pytorchReplacer.Replace(k)
}
