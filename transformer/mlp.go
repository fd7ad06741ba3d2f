package transformer

import (
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/ml/nn"
)

// MLP is the feed forward block of a layer.
type MLP interface {
	Forward(ctx ml.Context, x ml.Tensor) ml.Tensor
}

// GatedMLP computes linear_out(silu(a) * b) where [a, b] = linear_in(x).
type GatedMLP struct {
	LinearIn  *nn.Linear `tensor:"linear_in"`
	LinearOut *nn.Linear `tensor:"linear_out"`

	hidden int
}

func newGatedMLP(cfg Config) *GatedMLP {
	hidden := 2 * cfg.DimFeedForward / 3
	if cfg.DimFeedForward == 4*cfg.DModel {
		hidden = 11 * cfg.DModel / 4
	}
	return &GatedMLP{
		LinearIn:  nn.NewLinear(cfg.DModel, 2*hidden, cfg.BiasFF),
		LinearOut: nn.NewLinear(hidden, cfg.DModel, cfg.BiasFF),
		hidden:    hidden,
	}
}

func (m *GatedMLP) Forward(ctx ml.Context, x ml.Tensor) ml.Tensor {
	b, t := x.Dim(0), x.Dim(1)
	x = m.LinearIn.Forward(ctx, x).Reshape(ctx, b, t, 2, m.hidden)
	gate := x.Slice(ctx, 2, 0, 1).Reshape(ctx, b, t, m.hidden).SILU(ctx)
	up := x.Slice(ctx, 2, 1, 2).Reshape(ctx, b, t, m.hidden)
	return m.LinearOut.Forward(ctx, gate.Mul(ctx, up))
}

type PlainMLP struct {
	Linear1 *nn.Linear `tensor:"linear1"`
	Linear2 *nn.Linear `tensor:"linear2"`
}

func newPlainMLP(cfg Config) *PlainMLP {
	return &PlainMLP{
		Linear1: nn.NewLinear(cfg.DModel, cfg.DimFeedForward, cfg.BiasFF),
		Linear2: nn.NewLinear(cfg.DimFeedForward, cfg.DModel, cfg.BiasFF),
	}
}

func (m *PlainMLP) Forward(ctx ml.Context, x ml.Tensor) ml.Tensor {
	return m.Linear2.Forward(ctx, m.Linear1.Forward(ctx, x).GELU(ctx))
}
