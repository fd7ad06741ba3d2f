// Package streaming - Stream-Werte und zustandsbehaftete Schichten
//
// Dieses Modul enthaelt:
// - Value: entweder leer (keine Daten in diesem Schritt) oder ein Tensor
// - Cat, Split, Narrow: Zeitachsen-Operationen auf Values
// - Layer: Schnittstelle fuer chunkweise Verarbeitung mit internem Zustand
// - BinOp: elementweise Verknuepfung zweier Streams unterschiedlicher Laenge
//
// Ein leerer Value ist kein Fehler: jede Stufe reicht ihn als leer weiter.
package streaming

import "github.com/moshigo/moshi/ml"

// Value is Empty or holds a tensor. The zero Value is Empty.
type Value struct {
	t ml.Tensor
}

func Empty() Value { return Value{} }

// Some wraps t. A nil t yields Empty.
func Some(t ml.Tensor) Value { return Value{t: t} }

func (v Value) IsEmpty() bool { return v.t == nil }

// Tensor returns the tensor and whether one is present.
func (v Value) Tensor() (ml.Tensor, bool) { return v.t, v.t != nil }

// Dim returns the size of dimension n, or 0 when empty.
func (v Value) Dim(n int) int {
	if v.t == nil {
		return 0
	}
	return v.t.Dim(n)
}

// Map applies f when a tensor is present.
func (v Value) Map(f func(ml.Tensor) ml.Tensor) Value {
	if v.t == nil {
		return v
	}
	return Value{t: f(v.t)}
}

func (v Value) ELU(ctx ml.Context) Value {
	return v.Map(func(t ml.Tensor) ml.Tensor { return t.ELU(ctx, 1) })
}

// Cat concatenates the present values along dim.
func Cat(ctx ml.Context, dim int, vs ...Value) Value {
	var out ml.Tensor
	for _, v := range vs {
		switch {
		case v.t == nil:
		case out == nil:
			out = v.t
		default:
			out = out.Concat(ctx, v.t, dim)
		}
	}
	return Value{t: out}
}

// Narrow keeps [offset, offset+length) along dim, clamped to the available
// length. A non-positive length yields Empty.
func (v Value) Narrow(ctx ml.Context, dim, offset, length int) Value {
	if v.t == nil || length <= 0 {
		return Empty()
	}
	total := v.t.Dim(dim)
	end := min(total, offset+length)
	if offset >= end {
		return Empty()
	}
	return Value{t: v.t.Slice(ctx, dim, offset, end)}
}

// Split cuts v along dim after lhsLen steps, clamped to the available length.
func (v Value) Split(ctx ml.Context, dim, lhsLen int) (Value, Value) {
	if v.t == nil {
		return Empty(), Empty()
	}
	total := v.t.Dim(dim)
	lhsLen = min(total, lhsLen)
	switch {
	case lhsLen <= 0:
		return Empty(), v
	case lhsLen == total:
		return v, Empty()
	}
	return Value{t: v.t.Slice(ctx, dim, 0, lhsLen)}, Value{t: v.t.Slice(ctx, dim, lhsLen, total)}
}

// Layer consumes one chunk and emits whatever became final.
type Layer interface {
	Step(ctx ml.Context, v Value) Value
	ResetState()
}
