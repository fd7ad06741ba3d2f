package nn

import (
	"fmt"

	"github.com/moshigo/moshi/ml"
)

// Conv1d holds a [Out, Kernel, In/Groups] weight and applies it to [B, In, T]
// inputs without any padding.
type Conv1d struct {
	Weight ml.Tensor `tensor:"weight"`
	Bias   ml.Tensor `tensor:"bias"`

	In, Out, Kernel          int
	Stride, Dilation, Groups int
	HasBias                  bool
}

func NewConv1d(in, out, kernel, stride, dilation, groups int, bias bool) *Conv1d {
	return &Conv1d{
		In: in, Out: out, Kernel: kernel,
		Stride: stride, Dilation: dilation, Groups: groups,
		HasBias: bias,
	}
}

func (m *Conv1d) Shapes() map[string][]int {
	s := map[string][]int{"weight": {m.Out, m.Kernel, m.In / m.Groups}}
	if m.HasBias {
		s["bias"] = []int{m.Out}
	}
	return s
}

func (m *Conv1d) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	t = t.Conv1D(ctx, m.Weight, m.Stride, m.Dilation, m.Groups)
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias.Reshape(ctx, m.Out, 1))
	}
	return t
}

// ConvTranspose1d holds a [Out/Groups, Kernel, In] weight. Depthwise
// configurations (Groups == In == Out) are expanded into a dense weight once
// the parameters are loaded; other grouped layouts are not supported.
type ConvTranspose1d struct {
	Weight ml.Tensor `tensor:"weight"`
	Bias   ml.Tensor `tensor:"bias"`

	In, Out, Kernel int
	Stride, Groups  int
	HasBias         bool

	expanded ml.Tensor
}

func NewConvTranspose1d(in, out, kernel, stride, groups int, bias bool) *ConvTranspose1d {
	if groups > 1 && (groups != in || groups != out) {
		panic(fmt.Errorf("groups are not supported in ConvTranspose1d, %d, %d, %d", groups, in, out))
	}
	return &ConvTranspose1d{
		In: in, Out: out, Kernel: kernel,
		Stride: stride, Groups: groups,
		HasBias: bias,
	}
}

func (m *ConvTranspose1d) Shapes() map[string][]int {
	s := map[string][]int{"weight": {m.Out / m.Groups, m.Kernel, m.In}}
	if m.HasBias {
		s["bias"] = []int{m.Out}
	}
	return s
}

// Update rebuilds the dense weight used by Forward.
func (m *ConvTranspose1d) Update(ctx ml.Context) error {
	if m.Groups <= 1 {
		m.expanded = m.Weight
		return nil
	}

	// W[o, k, i] = w[0, k, i] when o == i
	w := m.Weight.Floats()
	dense := make([]float32, m.Out*m.Kernel*m.In)
	for o := range m.Out {
		for k := range m.Kernel {
			dense[(o*m.Kernel+k)*m.In+o] = w[k*m.In+o]
		}
	}
	m.expanded = ctx.FromFloats(dense, m.Out, m.Kernel, m.In)
	return nil
}

func (m *ConvTranspose1d) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	if m.expanded == nil {
		panic(fmt.Errorf("conv transpose used before its weights were loaded"))
	}
	t = t.ConvTranspose1D(ctx, m.expanded, m.Stride)
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias.Reshape(ctx, m.Out, 1))
	}
	return t
}

// BiasColumn returns the bias as an [Out, 1] column, or nil.
func (m *ConvTranspose1d) BiasColumn(ctx ml.Context) ml.Tensor {
	if m.Bias == nil {
		return nil
	}
	return m.Bias.Reshape(ctx, m.Out, 1)
}
