package nn

import "github.com/moshigo/moshi/ml"

// Norm is implemented by LayerNorm and RMSNorm.
type Norm interface {
	Forward(ctx ml.Context, t ml.Tensor) ml.Tensor
}

type LayerNorm struct {
	Weight ml.Tensor `tensor:"weight"`
	Bias   ml.Tensor `tensor:"bias"`

	Dim int
	Eps float32
}

func NewLayerNorm(dim int, eps float32) *LayerNorm {
	return &LayerNorm{Dim: dim, Eps: eps}
}

func (m *LayerNorm) Shapes() map[string][]int {
	return map[string][]int{"weight": {m.Dim}, "bias": {m.Dim}}
}

func (m *LayerNorm) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	return t.LayerNorm(ctx, m.Weight, m.Bias, m.Eps)
}

type RMSNorm struct {
	Weight ml.Tensor `tensor:"weight"`

	Dim int
	Eps float32
}

func NewRMSNorm(dim int, eps float32) *RMSNorm {
	return &RMSNorm{Dim: dim, Eps: eps}
}

func (m *RMSNorm) Shapes() map[string][]int {
	return map[string][]int{"weight": {m.Dim}}
}

func (m *RMSNorm) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	return t.RMSNorm(ctx, m.Weight, m.Eps)
}

// LayerScale multiplies the residual branch by a learned per-channel scale.
type LayerScale struct {
	Scale ml.Tensor `tensor:"scale"`

	Dim int
}

func NewLayerScale(dim int) *LayerScale {
	return &LayerScale{Dim: dim}
}

func (m *LayerScale) Shapes() map[string][]int {
	return map[string][]int{"scale": {m.Dim}}
}

func (m *LayerScale) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	return t.Mul(ctx, m.Scale)
}
