package streaming

import (
	"fmt"

	"github.com/moshigo/moshi/ml"
)

type Op int

const (
	OpAdd Op = iota
	OpSub
	OpMul
	OpDiv
)

func (op Op) apply(ctx ml.Context, a, b ml.Tensor) ml.Tensor {
	switch op {
	case OpAdd:
		return a.Add(ctx, b)
	case OpSub:
		return a.Sub(ctx, b)
	case OpMul:
		return a.Mul(ctx, b)
	case OpDiv:
		return a.Div(ctx, b)
	default:
		panic(fmt.Errorf("streaming: unknown op %d", op))
	}
}

// BinOp combines two streams element-wise. Steps of either side that have
// no counterpart yet are buffered until the other side catches up.
type BinOp struct {
	Op  Op
	Dim int

	prevLHS, prevRHS Value
}

func NewBinOp(op Op, dim int) *BinOp {
	return &BinOp{Op: op, Dim: dim}
}

func (b *BinOp) ResetState() {
	b.prevLHS, b.prevRHS = Empty(), Empty()
}

func (b *BinOp) Step(ctx ml.Context, lhs, rhs Value) Value {
	lhs = Cat(ctx, b.Dim, b.prevLHS, lhs)
	rhs = Cat(ctx, b.Dim, b.prevRHS, rhs)
	common := min(lhs.Dim(b.Dim), rhs.Dim(b.Dim))

	lhs, b.prevLHS = lhs.Split(ctx, b.Dim, common)
	rhs, b.prevRHS = rhs.Split(ctx, b.Dim, common)

	switch {
	case !lhs.IsEmpty() && !rhs.IsEmpty():
		return Some(b.Op.apply(ctx, lhs.t, rhs.t))
	case lhs.IsEmpty() && rhs.IsEmpty():
		return Empty()
	default:
		panic(fmt.Errorf("streaming: binop internal error, lhs empty %v, rhs empty %v", lhs.IsEmpty(), rhs.IsEmpty()))
	}
}
