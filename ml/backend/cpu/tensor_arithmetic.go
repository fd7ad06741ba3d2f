package cpu

import (
	"fmt"
	"slices"

	"github.com/chewxy/math32"

	"github.com/moshigo/moshi/ml"
)

func broadcastShape(a, b []int) []int {
	n := max(len(a), len(b))
	out := make([]int, n)
	for i := range n {
		da, db := 1, 1
		if j := i - (n - len(a)); j >= 0 {
			da = a[j]
		}
		if j := i - (n - len(b)); j >= 0 {
			db = b[j]
		}
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			panic(fmt.Errorf("cpu: shapes %v and %v cannot be broadcast", a, b))
		}
	}
	return out
}

// broadcastStrides returns the strides of shape aligned to out, with zero
// strides along broadcast dimensions.
func broadcastStrides(shape, out []int) []int {
	strides := make([]int, len(out))
	stride := 1
	for i := len(out) - 1; i >= 0; i-- {
		j := i - (len(out) - len(shape))
		if j < 0 {
			break
		}
		if shape[j] != 1 {
			strides[i] = stride
		}
		stride *= shape[j]
	}
	return strides
}

func (t *Tensor) binary(t2 ml.Tensor, op func(a, b float32) float32) ml.Tensor {
	b := asTensor(t2)
	t.mustF32("binary op")
	b.mustF32("binary op")

	if slices.Equal(t.shape, b.shape) {
		out := newF32(t.shape...)
		for i := range out.data {
			out.data[i] = op(t.data[i], b.data[i])
		}
		return out
	}

	shape := broadcastShape(t.shape, b.shape)
	out := newF32(shape...)
	if len(out.data) == 0 {
		return out
	}

	sa := broadcastStrides(t.shape, shape)
	sb := broadcastStrides(b.shape, shape)
	last := len(shape) - 1
	if last < 0 {
		out.data[0] = op(t.data[0], b.data[0])
		return out
	}

	idx := make([]int, len(shape))
	rows := len(out.data) / shape[last]
	for r := range rows {
		oa, ob := 0, 0
		for d := range last {
			oa += idx[d] * sa[d]
			ob += idx[d] * sb[d]
		}
		row := out.data[r*shape[last] : (r+1)*shape[last]]
		for i := range row {
			row[i] = op(t.data[oa+i*sa[last]], b.data[ob+i*sb[last]])
		}
		for d := last - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

func (t *Tensor) Add(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.binary(t2, func(a, b float32) float32 { return a + b })
}

func (t *Tensor) Sub(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.binary(t2, func(a, b float32) float32 { return a - b })
}

func (t *Tensor) Mul(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.binary(t2, func(a, b float32) float32 { return a * b })
}

func (t *Tensor) Div(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return t.binary(t2, func(a, b float32) float32 { return a / b })
}

func (t *Tensor) unary(op string, fn func(float32) float32) ml.Tensor {
	t.mustF32(op)
	out := newF32(t.shape...)
	for i, v := range t.data {
		out.data[i] = fn(v)
	}
	return out
}

func (t *Tensor) Scale(ctx ml.Context, s float64) ml.Tensor {
	f := float32(s)
	return t.unary("scale", func(v float32) float32 { return v * f })
}

func (t *Tensor) Sqr(ctx ml.Context) ml.Tensor {
	return t.unary("sqr", func(v float32) float32 { return v * v })
}

func (t *Tensor) ELU(ctx ml.Context, alpha float32) ml.Tensor {
	return t.unary("elu", func(v float32) float32 {
		if v > 0 {
			return v
		}
		return alpha * (math32.Exp(v) - 1)
	})
}

func (t *Tensor) SILU(ctx ml.Context) ml.Tensor {
	return t.unary("silu", func(v float32) float32 {
		return v / (1 + math32.Exp(-v))
	})
}

var geluCoef = math32.Sqrt(2 / math32.Pi)

func (t *Tensor) GELU(ctx ml.Context) ml.Tensor {
	return t.unary("gelu", func(v float32) float32 {
		return 0.5 * v * (1 + math32.Tanh(geluCoef*(v+0.044715*v*v*v)))
	})
}
