package cpu

import (
	"fmt"
	"slices"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/moshigo/moshi/ml"
)

func general(rows, cols int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: max(cols, 1), Data: data}
}

// gemm computes c = a·op(b) where a is m×k and op(b) is k×n.
func gemm(transB bool, m, n, k int, a, b, c []float32) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		clear(c[:m*n])
		return
	}

	tb := blas.NoTrans
	bm := general(k, n, b)
	if transB {
		tb = blas.Trans
		bm = general(n, k, b)
	}
	blas32.Gemm(blas.NoTrans, tb, 1, general(m, k, a), bm, 0, general(m, n, c))
}

// batchDims checks that b is either a shared matrix or carries the same
// leading dimensions as a, and returns the number of batches.
func batchDims(op string, a, b *Tensor) (batch int, shared bool) {
	if len(a.shape) < 2 || len(b.shape) < 2 {
		panic(fmt.Errorf("cpu: %s needs matrices, got %v and %v", op, a.shape, b.shape))
	}
	batch = numel(a.shape[:len(a.shape)-2])
	if len(b.shape) == 2 {
		return batch, true
	}
	if !slices.Equal(a.shape[:len(a.shape)-2], b.shape[:len(b.shape)-2]) {
		panic(fmt.Errorf("cpu: %s batch mismatch %v and %v", op, a.shape, b.shape))
	}
	return batch, false
}

func (t *Tensor) Mulmat(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	b := asTensor(t2)
	t.mustF32("mulmat")
	b.mustF32("mulmat")
	if t.Dim(-1) != b.Dim(-1) {
		panic(fmt.Errorf("cpu: mulmat inner dimension mismatch %v and %v", t.shape, b.shape))
	}

	batch, shared := batchDims("mulmat", t, b)
	m, k, n := t.Dim(-2), t.Dim(-1), b.Dim(-2)
	shape := append(slices.Clone(t.shape[:len(t.shape)-1]), n)
	out := newF32(shape...)

	if shared {
		// one call over all leading rows
		gemm(true, batch*m, n, k, t.data, b.data, out.data)
		return out
	}

	parallel(ctx, batch, func(i int) {
		gemm(true, m, n, k, t.data[i*m*k:(i+1)*m*k], b.data[i*n*k:(i+1)*n*k], out.data[i*m*n:(i+1)*m*n])
	})
	return out
}

func (t *Tensor) Matmul(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	b := asTensor(t2)
	t.mustF32("matmul")
	b.mustF32("matmul")
	if t.Dim(-1) != b.Dim(-2) {
		panic(fmt.Errorf("cpu: matmul inner dimension mismatch %v and %v", t.shape, b.shape))
	}

	batch, shared := batchDims("matmul", t, b)
	m, k, n := t.Dim(-2), t.Dim(-1), b.Dim(-1)
	shape := append(slices.Clone(t.shape[:len(t.shape)-1]), n)
	out := newF32(shape...)

	if shared {
		gemm(false, batch*m, n, k, t.data, b.data, out.data)
		return out
	}

	parallel(ctx, batch, func(i int) {
		gemm(false, m, n, k, t.data[i*m*k:(i+1)*m*k], b.data[i*k*n:(i+1)*k*n], out.data[i*m*n:(i+1)*m*n])
	})
	return out
}

// ScaledDotProductAttention expects t as the query [B, H, T, D], key and
// value as [B, H, S, D] and an optional additive [T, S] mask.
func (t *Tensor) ScaledDotProductAttention(ctx ml.Context, key, value, mask ml.Tensor, scale float64) ml.Tensor {
	k, v := asTensor(key), asTensor(value)
	t.mustF32("attention")
	if len(t.shape) != 4 || len(k.shape) != 4 || len(v.shape) != 4 {
		panic(fmt.Errorf("cpu: attention needs rank 4 inputs, got %v %v %v", t.shape, k.shape, v.shape))
	}

	bh := t.shape[0] * t.shape[1]
	tq, d := t.shape[2], t.shape[3]
	s, dv := k.shape[2], v.shape[3]
	if k.shape[3] != d || v.shape[2] != s || k.shape[0]*k.shape[1] != bh || v.shape[0]*v.shape[1] != bh {
		panic(fmt.Errorf("cpu: attention shape mismatch q %v k %v v %v", t.shape, k.shape, v.shape))
	}

	var m *Tensor
	if mask != nil {
		m = asTensor(mask)
		if m.Dim(-1) != s || m.Dim(-2) != tq {
			panic(fmt.Errorf("cpu: attention mask %v does not match [%d, %d]", m.shape, tq, s))
		}
	}

	out := newF32(t.shape[0], t.shape[1], tq, dv)
	sc := float32(scale)
	parallel(ctx, bh, func(i int) {
		scores := make([]float32, tq*s)
		gemm(true, tq, s, d, t.data[i*tq*d:(i+1)*tq*d], k.data[i*s*d:(i+1)*s*d], scores)
		for r := range tq {
			row := scores[r*s : (r+1)*s]
			for c := range row {
				row[c] *= sc
			}
			if m != nil {
				mrow := m.data[len(m.data)-tq*s+r*s:]
				for c := range row {
					row[c] += mrow[c]
				}
			}
			softmaxRow(row)
		}
		gemm(false, tq, dv, s, scores, v.data[i*s*dv:(i+1)*s*dv], out.data[i*tq*dv:(i+1)*tq*dv])
	})
	return out
}

func softmaxRow(row []float32) {
	if len(row) == 0 {
		return
	}
	mx := row[0]
	for _, v := range row[1:] {
		mx = max(mx, v)
	}
	var sum float32
	for i, v := range row {
		e := math32.Exp(v - mx)
		row[i] = e
		sum += e
	}
	for i := range row {
		row[i] /= sum
	}
}
