package cpu

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"

	"github.com/moshigo/moshi/ml"
)

func (t *Tensor) rows() (int, int) {
	if len(t.shape) == 0 {
		return 1, 1
	}
	d := t.shape[len(t.shape)-1]
	if d == 0 {
		return 0, 0
	}
	return len(t.data) / d, d
}

func (t *Tensor) Softmax(ctx ml.Context) ml.Tensor {
	t.mustF32("softmax")
	out := &Tensor{shape: cloneShape(t.shape), dtype: ml.DTypeF32, data: append([]float32(nil), t.data...)}
	n, d := out.rows()
	for r := range n {
		softmaxRow(out.data[r*d : (r+1)*d])
	}
	return out
}

func (t *Tensor) LayerNorm(ctx ml.Context, weight, bias ml.Tensor, eps float32) ml.Tensor {
	t.mustF32("layer norm")
	w, b := asTensor(weight), asTensor(bias)
	out := newF32(t.shape...)
	n, d := t.rows()
	parallel(ctx, n, func(r int) {
		x := t.data[r*d : (r+1)*d]
		y := out.data[r*d : (r+1)*d]

		var mean float32
		for _, v := range x {
			mean += v
		}
		mean /= float32(d)

		var variance float32
		for _, v := range x {
			variance += (v - mean) * (v - mean)
		}
		variance /= float32(d)

		inv := 1 / math32.Sqrt(variance+eps)
		for i, v := range x {
			y[i] = (v - mean) * inv
			if w != nil {
				y[i] *= w.data[i]
			}
			if b != nil {
				y[i] += b.data[i]
			}
		}
	})
	return out
}

func (t *Tensor) RMSNorm(ctx ml.Context, weight ml.Tensor, eps float32) ml.Tensor {
	t.mustF32("rms norm")
	w := asTensor(weight)
	out := newF32(t.shape...)
	n, d := t.rows()
	parallel(ctx, n, func(r int) {
		x := t.data[r*d : (r+1)*d]
		y := out.data[r*d : (r+1)*d]

		var ms float32
		for _, v := range x {
			ms += v * v
		}
		inv := 1 / math32.Sqrt(ms/float32(d)+eps)
		for i, v := range x {
			y[i] = v * inv
			if w != nil {
				y[i] *= w.data[i]
			}
		}
	})
	return out
}

func (t *Tensor) SumRows(ctx ml.Context) ml.Tensor {
	t.mustF32("sum rows")
	out := newF32(t.shape[:len(t.shape)-1]...)
	n, d := t.rows()
	for r := range n {
		var s float32
		for _, v := range t.data[r*d : (r+1)*d] {
			s += v
		}
		out.data[r] = s
	}
	return out
}

func (t *Tensor) argReduce(better func(a, b float32) bool) ml.Tensor {
	t.mustF32("arg reduce")
	out := newI32(t.shape[:len(t.shape)-1]...)
	n, d := t.rows()
	for r := range n {
		row := t.data[r*d : (r+1)*d]
		best := 0
		for i := 1; i < d; i++ {
			if better(row[i], row[best]) {
				best = i
			}
		}
		out.ints[r] = int32(best)
	}
	return out
}

func (t *Tensor) Argmax(ctx ml.Context) ml.Tensor {
	return t.argReduce(func(a, b float32) bool { return a > b })
}

func (t *Tensor) Argmin(ctx ml.Context) ml.Tensor {
	return t.argReduce(func(a, b float32) bool { return a < b })
}

func (t *Tensor) Rows(ctx ml.Context, ids ml.Tensor) ml.Tensor {
	t.mustF32("rows")
	if len(t.shape) != 2 {
		panic(fmt.Errorf("cpu: rows needs a [N, D] table, got %v", t.shape))
	}
	idx := asTensor(ids).Ints()
	n, d := t.shape[0], t.shape[1]
	out := newF32(append(asTensor(ids).Shape(), d)...)
	for i, id := range idx {
		if id < 0 || int(id) >= n {
			panic(fmt.Errorf("cpu: row index %d out of range [0, %d)", id, n))
		}
		copy(out.data[i*d:(i+1)*d], t.data[int(id)*d:(int(id)+1)*d])
	}
	return out
}

func (t *Tensor) Conv1D(ctx ml.Context, weight ml.Tensor, stride, dilation, groups int) ml.Tensor {
	w := asTensor(weight)
	t.mustF32("conv1d")
	if len(t.shape) != 3 || len(w.shape) != 3 {
		panic(fmt.Errorf("cpu: conv1d needs [B, C, T] input and [O, K, C/g] weight, got %v and %v", t.shape, w.shape))
	}

	b, cin, tin := t.shape[0], t.shape[1], t.shape[2]
	cout, k, cinG := w.shape[0], w.shape[1], w.shape[2]
	if groups < 1 || cin%groups != 0 || cout%groups != 0 || cin/groups != cinG {
		panic(fmt.Errorf("cpu: conv1d groups %d do not fit input %v and weight %v", groups, t.shape, w.shape))
	}
	coutG := cout / groups

	span := dilation*(k-1) + 1
	tout := 0
	if tin >= span {
		tout = (tin-span)/stride + 1
	}
	out := newF32(b, cout, tout)
	if tout == 0 {
		return out
	}

	parallel(ctx, b*groups, func(i int) {
		bi, g := i/groups, i%groups
		x := t.data[bi*cin*tin:]

		// im2col: row per output step, k*cinG columns laid out like the weight
		col := make([]float32, tout*k*cinG)
		for o := range tout {
			row := col[o*k*cinG : (o+1)*k*cinG]
			for kk := range k {
				pos := o*stride + kk*dilation
				for c := range cinG {
					row[kk*cinG+c] = x[(g*cinG+c)*tin+pos]
				}
			}
		}

		wg := w.data[g*coutG*k*cinG : (g+1)*coutG*k*cinG]
		y := out.data[(bi*cout+g*coutG)*tout : (bi*cout+(g+1)*coutG)*tout]
		gemm(true, coutG, tout, k*cinG, wg, col, y)
	})
	return out
}

func (t *Tensor) ConvTranspose1D(ctx ml.Context, weight ml.Tensor, stride int) ml.Tensor {
	w := asTensor(weight)
	t.mustF32("conv transpose 1d")
	if len(t.shape) != 3 || len(w.shape) != 3 || w.shape[2] != t.shape[1] {
		panic(fmt.Errorf("cpu: conv transpose needs [B, C, T] input and [O, K, C] weight, got %v and %v", t.shape, w.shape))
	}

	b, cin, tin := t.shape[0], t.shape[1], t.shape[2]
	cout, k := w.shape[0], w.shape[1]
	tout := 0
	if tin > 0 {
		tout = (tin-1)*stride + k
	}
	out := newF32(b, cout, tout)
	if tout == 0 {
		return out
	}

	parallel(ctx, b, func(bi int) {
		// p[(o*k+kk), t] = sum_c w[o, kk, c] * x[c, t]
		p := make([]float32, cout*k*tin)
		gemm(false, cout*k, tin, cin, w.data, t.data[bi*cin*tin:(bi+1)*cin*tin], p)

		y := out.data[bi*cout*tout : (bi+1)*cout*tout]
		for o := range cout {
			for kk := range k {
				src := p[(o*k+kk)*tin : (o*k+kk+1)*tin]
				for ti, v := range src {
					y[o*tout+ti*stride+kk] += v
				}
			}
		}
	})
	return out
}

func (t *Tensor) RoPE(ctx ml.Context, offset int, base float32) ml.Tensor {
	t.mustF32("rope")
	if len(t.shape) != 4 || t.shape[3]%2 != 0 {
		panic(fmt.Errorf("cpu: rope needs [B, H, T, D] with even D, got %v", t.shape))
	}

	steps, d := t.shape[2], t.shape[3]
	half := d / 2
	cos := make([]float32, steps*half)
	sin := make([]float32, steps*half)
	for s := range steps {
		pos := float64(offset + s)
		for i := range half {
			theta := pos * math.Pow(float64(base), -float64(2*i)/float64(d))
			cos[s*half+i] = float32(math.Cos(theta))
			sin[s*half+i] = float32(math.Sin(theta))
		}
	}

	out := newF32(t.shape...)
	n := t.shape[0] * t.shape[1]
	parallel(ctx, n, func(bh int) {
		for s := range steps {
			x := t.data[(bh*steps+s)*d : (bh*steps+s+1)*d]
			y := out.data[(bh*steps+s)*d : (bh*steps+s+1)*d]
			for i := range half {
				c, sn := cos[s*half+i], sin[s*half+i]
				x0, x1 := x[2*i], x[2*i+1]
				y[2*i] = x0*c - x1*sn
				y[2*i+1] = x0*sn + x1*c
			}
		}
	})
	return out
}
