package cpu

import (
	"fmt"
	"slices"

	"github.com/moshigo/moshi/ml"
)

// Tensor is a dense row-major tensor. F32 tensors keep their values in data,
// I32 tensors in ints.
type Tensor struct {
	shape []int
	dtype ml.DType
	data  []float32
	ints  []int32
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Errorf("cpu: negative dimension in shape %v", shape))
		}
		n *= d
	}
	return n
}

func cloneShape(shape []int) []int {
	if shape == nil {
		return []int{}
	}
	return slices.Clone(shape)
}

func asTensor(t ml.Tensor) *Tensor {
	if t == nil {
		return nil
	}
	ct, ok := t.(*Tensor)
	if !ok {
		panic(fmt.Errorf("cpu: foreign tensor type %T", t))
	}
	return ct
}

func newF32(shape ...int) *Tensor {
	return &Tensor{shape: cloneShape(shape), dtype: ml.DTypeF32, data: make([]float32, numel(shape))}
}

func newI32(shape ...int) *Tensor {
	return &Tensor{shape: cloneShape(shape), dtype: ml.DTypeI32, ints: make([]int32, numel(shape))}
}

func (t *Tensor) axis(n int) int {
	if n < 0 {
		n += len(t.shape)
	}
	if n < 0 || n >= len(t.shape) {
		panic(fmt.Errorf("cpu: dimension %d out of range for shape %v", n, t.shape))
	}
	return n
}

func (t *Tensor) Dim(n int) int {
	return t.shape[t.axis(n)]
}

func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

func (t *Tensor) DType() ml.DType {
	return t.dtype
}

func (t *Tensor) Floats() []float32 {
	if t.dtype == ml.DTypeI32 {
		f := make([]float32, len(t.ints))
		for i, v := range t.ints {
			f[i] = float32(v)
		}
		return f
	}
	return t.data
}

func (t *Tensor) Ints() []int32 {
	if t.dtype == ml.DTypeF32 {
		s := make([]int32, len(t.data))
		for i, v := range t.data {
			s[i] = int32(v)
		}
		return s
	}
	return t.ints
}

func (t *Tensor) mustF32(op string) {
	if t.dtype != ml.DTypeF32 {
		panic(fmt.Errorf("cpu: %s requires F32, got %v", op, t.dtype))
	}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%v, %v)", t.dtype, t.shape)
}

// outerInner splits shape around axis into the number of outer blocks, the
// size of axis and the number of trailing elements per step along axis.
func outerInner(shape []int, axis int) (outer, size, inner int) {
	outer, inner = 1, 1
	for _, d := range shape[:axis] {
		outer *= d
	}
	for _, d := range shape[axis+1:] {
		inner *= d
	}
	return outer, shape[axis], inner
}
