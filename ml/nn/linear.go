// Package nn - Parameter-Module fuer neuronale Netze
//
// Dieses Paket enthaelt:
// - Linear, Embedding: dichte Projektionen und Lookup-Tabellen
// - LayerNorm, RMSNorm, LayerScale: Normalisierung und Skalierung
// - Conv1d, ConvTranspose1d: 1D-Faltungen im [B, C, T] Layout
//
// Jedes Modul meldet ueber Shapes die erwarteten Parameterformen, damit der
// Loader fehlende, ueberzaehlige und falsch geformte Tensoren erkennt.
package nn

import "github.com/moshigo/moshi/ml"

// Linear applies x·Wᵀ + b over the last dimension.
type Linear struct {
	Weight ml.Tensor `tensor:"weight"`
	Bias   ml.Tensor `tensor:"bias"`

	In, Out int
	HasBias bool
}

func NewLinear(in, out int, bias bool) *Linear {
	return &Linear{In: in, Out: out, HasBias: bias}
}

func (m *Linear) Shapes() map[string][]int {
	s := map[string][]int{"weight": {m.Out, m.In}}
	if m.HasBias {
		s["bias"] = []int{m.Out}
	}
	return s
}

func (m *Linear) Forward(ctx ml.Context, t ml.Tensor) ml.Tensor {
	t = t.Mulmat(ctx, m.Weight)
	if m.Bias != nil {
		t = t.Add(ctx, m.Bias)
	}
	return t
}

// Embedding maps token ids to rows of a [Count, Dim] table.
type Embedding struct {
	Weight ml.Tensor `tensor:"weight"`

	Count, Dim int
}

func NewEmbedding(count, dim int) *Embedding {
	return &Embedding{Count: count, Dim: dim}
}

func (m *Embedding) Shapes() map[string][]int {
	return map[string][]int{"weight": {m.Count, m.Dim}}
}

func (m *Embedding) Forward(ctx ml.Context, ids ml.Tensor) ml.Tensor {
	return m.Weight.Rows(ctx, ids)
}
