package cpu

import (
	"fmt"
	"slices"

	"github.com/moshigo/moshi/ml"
)

// Reshape shares storage with t.
func (t *Tensor) Reshape(ctx ml.Context, shape ...int) ml.Tensor {
	shape = slices.Clone(shape)
	total := max(len(t.data), len(t.ints))
	infer := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				panic(fmt.Errorf("cpu: reshape %v has more than one -1", shape))
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		if known == 0 || total%known != 0 {
			panic(fmt.Errorf("cpu: cannot infer reshape %v from %v", shape, t.shape))
		}
		shape[infer] = total / known
	}
	if numel(shape) != numel(t.shape) {
		panic(fmt.Errorf("cpu: cannot reshape %v to %v", t.shape, shape))
	}
	return &Tensor{shape: shape, dtype: t.dtype, data: t.data, ints: t.ints}
}

func permute[E any](src []E, shape, order []int) []E {
	out := make([]E, len(src))
	if len(src) == 0 {
		return out
	}

	n := len(shape)
	srcStrides := make([]int, n)
	stride := 1
	for i := n - 1; i >= 0; i-- {
		srcStrides[i] = stride
		stride *= shape[i]
	}

	outShape := make([]int, n)
	strides := make([]int, n)
	for i, o := range order {
		outShape[i] = shape[o]
		strides[i] = srcStrides[o]
	}

	idx := make([]int, n)
	last := n - 1
	rows := len(src) / outShape[last]
	for r := range rows {
		off := 0
		for d := range last {
			off += idx[d] * strides[d]
		}
		row := out[r*outShape[last] : (r+1)*outShape[last]]
		for i := range row {
			row[i] = src[off+i*strides[last]]
		}
		for d := last - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < outShape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

func (t *Tensor) Permute(ctx ml.Context, order ...int) ml.Tensor {
	if len(order) != len(t.shape) {
		panic(fmt.Errorf("cpu: permute order %v does not match shape %v", order, t.shape))
	}
	seen := make([]bool, len(order))
	shape := make([]int, len(order))
	for i, o := range order {
		if o < 0 || o >= len(order) || seen[o] {
			panic(fmt.Errorf("cpu: invalid permutation %v", order))
		}
		seen[o] = true
		shape[i] = t.shape[o]
	}

	if len(order) == 0 {
		return t.Duplicate(ctx)
	}

	out := &Tensor{shape: shape, dtype: t.dtype}
	if t.dtype == ml.DTypeI32 {
		out.ints = permute(t.ints, t.shape, order)
	} else {
		out.data = permute(t.data, t.shape, order)
	}
	return out
}

func concat[E any](a, b []E, outer, sa, sb int) []E {
	out := make([]E, outer*(sa+sb))
	for o := range outer {
		copy(out[o*(sa+sb):], a[o*sa:(o+1)*sa])
		copy(out[o*(sa+sb)+sa:], b[o*sb:(o+1)*sb])
	}
	return out
}

func (t *Tensor) Concat(ctx ml.Context, t2 ml.Tensor, dim int) ml.Tensor {
	b := asTensor(t2)
	dim = t.axis(dim)
	if len(b.shape) != len(t.shape) || b.dtype != t.dtype {
		panic(fmt.Errorf("cpu: cannot concat %v %v with %v %v", t.dtype, t.shape, b.dtype, b.shape))
	}
	for i := range t.shape {
		if i != dim && t.shape[i] != b.shape[i] {
			panic(fmt.Errorf("cpu: cannot concat %v with %v along %d", t.shape, b.shape, dim))
		}
	}

	outer, na, inner := outerInner(t.shape, dim)
	shape := slices.Clone(t.shape)
	shape[dim] = na + b.shape[dim]

	out := &Tensor{shape: shape, dtype: t.dtype}
	if t.dtype == ml.DTypeI32 {
		out.ints = concat(t.ints, b.ints, outer, na*inner, b.shape[dim]*inner)
	} else {
		out.data = concat(t.data, b.data, outer, na*inner, b.shape[dim]*inner)
	}
	return out
}

func slice[E any](src []E, outer, size, inner, low, high int) []E {
	n := (high - low) * inner
	out := make([]E, outer*n)
	for o := range outer {
		copy(out[o*n:(o+1)*n], src[(o*size+low)*inner:(o*size+high)*inner])
	}
	return out
}

func (t *Tensor) Slice(ctx ml.Context, dim, low, high int) ml.Tensor {
	dim = t.axis(dim)
	if low < 0 || high < low || high > t.shape[dim] {
		panic(fmt.Errorf("cpu: slice [%d, %d) out of range for dim %d of %v", low, high, dim, t.shape))
	}

	outer, size, inner := outerInner(t.shape, dim)
	shape := slices.Clone(t.shape)
	shape[dim] = high - low

	out := &Tensor{shape: shape, dtype: t.dtype}
	if t.dtype == ml.DTypeI32 {
		out.ints = slice(t.ints, outer, size, inner, low, high)
	} else {
		out.data = slice(t.data, outer, size, inner, low, high)
	}
	return out
}

func (t *Tensor) Pad(ctx ml.Context, dim, left, right int, mode ml.PadMode) ml.Tensor {
	t.mustF32("pad")
	dim = t.axis(dim)
	if left < 0 || right < 0 {
		panic(fmt.Errorf("cpu: negative padding %d, %d", left, right))
	}

	outer, size, inner := outerInner(t.shape, dim)
	if mode == ml.PadEdge && size == 0 && left+right > 0 {
		panic(fmt.Errorf("cpu: edge padding of an empty dimension"))
	}

	shape := slices.Clone(t.shape)
	shape[dim] = size + left + right
	out := newF32(shape...)
	n := shape[dim] * inner
	for o := range outer {
		dst := out.data[o*n : (o+1)*n]
		src := t.data[o*size*inner : (o+1)*size*inner]
		copy(dst[left*inner:], src)
		if mode == ml.PadEdge {
			first := src[:inner]
			lastRow := src[(size-1)*inner:]
			for i := range left {
				copy(dst[i*inner:], first)
			}
			for i := range right {
				copy(dst[(left+size+i)*inner:], lastRow)
			}
		}
	}
	return out
}

func (t *Tensor) Duplicate(ctx ml.Context) ml.Tensor {
	return &Tensor{
		shape: cloneShape(t.shape),
		dtype: t.dtype,
		data:  slices.Clone(t.data),
		ints:  slices.Clone(t.ints),
	}
}

func setSlice[E any](dst, src []E, outer, size, inner, offset, n int) {
	for o := range outer {
		copy(dst[(o*size+offset)*inner:(o*size+offset+n)*inner], src[o*n*inner:(o+1)*n*inner])
	}
}

func (t *Tensor) SetSlice(ctx ml.Context, dim, offset int, src ml.Tensor) {
	s := asTensor(src)
	dim = t.axis(dim)
	if len(s.shape) != len(t.shape) || s.dtype != t.dtype {
		panic(fmt.Errorf("cpu: cannot write %v %v into %v %v", s.dtype, s.shape, t.dtype, t.shape))
	}
	for i := range t.shape {
		if i != dim && t.shape[i] != s.shape[i] {
			panic(fmt.Errorf("cpu: cannot write %v into %v along %d", s.shape, t.shape, dim))
		}
	}
	n := s.shape[dim]
	if offset < 0 || offset+n > t.shape[dim] {
		panic(fmt.Errorf("cpu: write of %d steps at %d exceeds %v", n, offset, t.shape))
	}

	outer, size, inner := outerInner(t.shape, dim)
	if t.dtype == ml.DTypeI32 {
		setSlice(t.ints, s.ints, outer, size, inner, offset, n)
	} else {
		setSlice(t.data, s.data, outer, size, inner, offset, n)
	}
}
