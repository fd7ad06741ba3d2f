package transformer

import (
	"github.com/moshigo/moshi/kvcache"
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/ml/nn"
)

// Projected wraps a Transformer with an input projection when the input
// width differs from DModel, and one output per requested width.
type Projected struct {
	Transformer *Transformer `tensor:"transformer"`
	InputProj   *nn.Linear   `tensor:"input_proj"`
	OutputProjs []*nn.Linear `tensor:"output_proj"`

	convLayout bool
}

func NewProjected(cfg Config, inputDim int, outputDims ...int) *Projected {
	p := &Projected{
		Transformer: New(cfg),
		convLayout:  cfg.ConvLayout,
	}
	if inputDim != cfg.DModel {
		p.InputProj = nn.NewLinear(inputDim, cfg.DModel, false)
	}
	for _, d := range outputDims {
		var proj *nn.Linear
		if d != cfg.DModel {
			proj = nn.NewLinear(cfg.DModel, d, false)
		}
		p.OutputProjs = append(p.OutputProjs, proj)
	}
	return p
}

func (p *Projected) Forward(ctx ml.Context, x ml.Tensor, caches []kvcache.Cache) []ml.Tensor {
	if p.convLayout {
		x = x.Permute(ctx, 0, 2, 1)
	}
	if p.InputProj != nil {
		x = p.InputProj.Forward(ctx, x)
	}

	x = p.Transformer.Forward(ctx, x, caches)

	outs := make([]ml.Tensor, len(p.OutputProjs))
	for i, proj := range p.OutputProjs {
		out := x
		if proj != nil {
			out = proj.Forward(ctx, out)
		}
		if p.convLayout {
			out = out.Permute(ctx, 0, 2, 1)
		}
		outs[i] = out
	}
	return outs
}

func (p *Projected) NewCaches() []kvcache.Cache {
	return p.Transformer.NewCaches()
}
