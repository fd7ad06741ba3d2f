// Package kvcache - Key/Value-Caches fuer Self-Attention
//
// Dieses Modul enthaelt:
// - Cache: gemeinsame Schnittstelle beider Varianten
// - Simple: wachsender Cache in Bloecken von 256 Zeitschritten
// - Rotating: Ringpuffer fester Groesse
//
// Keys und Values haben das Layout [B, H, T, D]. Jeder Cache gehoert genau
// einer Attention-Schicht einer Sitzung.
package kvcache

import "github.com/moshigo/moshi/ml"

// maskValue ist der additive Wert fuer ausgeblendete Positionen
const maskValue = -1e9

type Cache interface {
	// Update appends keys and values of shape [B, H, T, D] and returns the
	// keys and values attention should look at.
	Update(ctx ml.Context, keys, values ml.Tensor) (ml.Tensor, ml.Tensor)

	// Mask returns the additive attention mask for t new query steps, based
	// on the current offset, or nil when no masking is needed.
	Mask(ctx ml.Context, t int) ml.Tensor

	// Offset is the number of time steps written since the last Reset.
	Offset() int

	Reset()
}

// causalMask builds a [len(linds), len(rinds)] mask hiding every key whose
// position lies after the query position.
func causalMask(ctx ml.Context, linds, rinds []int) ml.Tensor {
	mask := make([]float32, len(linds)*len(rinds))
	for i, l := range linds {
		for j, r := range rinds {
			if l < r {
				mask[i*len(rinds)+j] = maskValue
			}
		}
	}
	return ctx.FromFloats(mask, len(linds), len(rinds))
}

func positions(from, n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = from + i
	}
	return s
}
