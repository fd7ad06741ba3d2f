// context.go - Context und Tensor Interfaces fuer ML-Operationen
// Dieses Modul definiert die Schnittstellen fuer Tensor-Operationen und Compute-Kontexte.
//
// Shapes are listed outermost dimension first and data is row-major, so a
// [B, C, T] tensor stores T contiguous samples per channel.
package ml

// Context represents an execution context for tensor operations.
type Context interface {
	Zeros(dtype DType, shape ...int) Tensor
	FromFloats(s []float32, shape ...int) Tensor
	FromInts(s []int32, shape ...int) Tensor

	// Compute forces evaluation of the given tensors. Backends may defer work
	// until this point; reading Floats or Ints of a tensor that was not
	// computed is undefined.
	Compute(...Tensor)

	Close()
}

// Tensor represents a multi-dimensional array with various operations.
//
// Operations never modify their receiver unless documented otherwise.
type Tensor interface {
	// Dim returns the size of dimension n. Negative n counts from the end.
	Dim(n int) int
	Shape() []int
	DType() DType

	Floats() []float32
	Ints() []int32

	// Add, Sub, Mul and Div broadcast t2 against t with numpy rules.
	Add(ctx Context, t2 Tensor) Tensor
	Sub(ctx Context, t2 Tensor) Tensor
	Mul(ctx Context, t2 Tensor) Tensor
	Div(ctx Context, t2 Tensor) Tensor
	Scale(ctx Context, s float64) Tensor

	// Mulmat contracts the last dimension of t with the last dimension of
	// t2: out[..., i, j] = sum_k t[..., i, k] * t2[..., j, k]. A 2-D t2 is
	// shared across the leading dimensions of t.
	Mulmat(ctx Context, t2 Tensor) Tensor
	// Matmul is the plain matrix product over the two innermost dimensions.
	Matmul(ctx Context, t2 Tensor) Tensor

	Softmax(ctx Context) Tensor
	LayerNorm(ctx Context, weight, bias Tensor, eps float32) Tensor
	RMSNorm(ctx Context, weight Tensor, eps float32) Tensor
	SumRows(ctx Context) Tensor
	Sqr(ctx Context) Tensor

	ELU(ctx Context, alpha float32) Tensor
	SILU(ctx Context) Tensor
	// GELU uses the tanh approximation.
	GELU(ctx Context) Tensor

	// Argmax and Argmin reduce the last dimension to I32 indices.
	Argmax(ctx Context) Tensor
	Argmin(ctx Context) Tensor

	// Reshape accepts a single -1 for an inferred dimension.
	Reshape(ctx Context, shape ...int) Tensor
	Permute(ctx Context, order ...int) Tensor
	Concat(ctx Context, t2 Tensor, dim int) Tensor
	// Slice keeps [low, high) along dim.
	Slice(ctx Context, dim, low, high int) Tensor
	Pad(ctx Context, dim, left, right int, mode PadMode) Tensor
	Duplicate(ctx Context) Tensor

	// Rows gathers rows of a [N, D] table for every index in ids, producing
	// ids.Shape() + [D].
	Rows(ctx Context, ids Tensor) Tensor
	// SetSlice overwrites t in place along dim starting at offset.
	SetSlice(ctx Context, dim, offset int, src Tensor)

	// Conv1D convolves a [B, Cin, T] input with a [Cout, K, Cin/groups]
	// weight without padding.
	Conv1D(ctx Context, weight Tensor, stride, dilation, groups int) Tensor
	// ConvTranspose1D applies a [Cout, K, Cin] weight to a [B, Cin, T] input
	// producing (T-1)*stride+K output steps.
	ConvTranspose1D(ctx Context, weight Tensor, stride int) Tensor

	// RoPE rotates consecutive pairs of the last dimension of a [B, H, T, D]
	// tensor, position p = offset + t.
	RoPE(ctx Context, offset int, base float32) Tensor
}

// ScaledDotProductAttention implements a fused attention
// operation equivalent to following code on a tensor named
// query of shape [B, H, T, D]:
//
// kq := query.Mulmat(ctx, key)
//
// kq = kq.Scale(ctx, scale)
//
//	if mask != nil {
//		kq = kq.Add(ctx, mask)
//	}
//
// kq = kq.Softmax(ctx)
//
// return kq.Matmul(ctx, value)
type ScaledDotProductAttention interface {
	ScaledDotProductAttention(ctx Context, key, value, mask Tensor, scale float64) Tensor
}
