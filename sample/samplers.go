// Package sample - Token-Auswahl aus Logits
//
// Dieses Modul enthaelt:
// - Sampler: greedy, top-p, top-k oder kategorisch mit Temperatur
// - feste Reihenfolge: Temperatur <= 0, dann top-p, dann top-k, dann kategorisch
package sample

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/chewxy/math32"
	"github.com/emirpasic/gods/v2/trees/binaryheap"

	"github.com/moshigo/moshi/ml"
)

type token struct {
	id    int32
	value float32
}

type Sampler struct {
	rng         *rand.Rand
	temperature float32
	topK        int
	topP        float32
}

// New returns a sampler. A negative seed draws one from the runtime.
func New(temperature float32, topK int, topP float32, seed int64) *Sampler {
	var src rand.Source
	if seed < 0 {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	} else {
		src = rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)
	}
	return &Sampler{
		rng:         rand.New(src),
		temperature: temperature,
		topK:        topK,
		topP:        topP,
	}
}

// Default matches the settings used for audio tokens.
func Default() *Sampler {
	return New(0.8, 0, 0.95, -1)
}

func Greedy() *Sampler {
	return New(0, 0, 0, 0)
}

func (s *Sampler) Temperature() float32 { return s.temperature }

// Sample picks one token from logits of shape [1, vocab]. It computes logits
// first, so the returned token is always observable.
func (s *Sampler) Sample(ctx ml.Context, logits ml.Tensor) int32 {
	if shape := logits.Shape(); len(shape) != 2 || shape[0] != 1 {
		panic(fmt.Errorf("expected logits of shape [1, vocab], got %v", shape))
	}
	ctx.Compute(logits)
	return s.SampleFloats(logits.Floats())
}

func (s *Sampler) SampleFloats(logits []float32) int32 {
	if len(logits) == 0 {
		panic("sample: empty logits")
	}

	switch {
	case s.temperature <= 0:
		return argmax(logits)
	case s.topP > 0 && s.topP < 1:
		return s.sampleTopP(logits)
	case s.topK != 0:
		return s.sampleTopK(logits)
	default:
		ts := tokens(logits)
		softmax(ts, s.temperature)
		return s.pick(ts)
	}
}

func argmax(logits []float32) int32 {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return int32(best)
}

func tokens(logits []float32) []token {
	ts := make([]token, len(logits))
	for i, v := range logits {
		ts[i] = token{id: int32(i), value: v}
	}
	return ts
}

// softmax turns logits/temperature into probabilities in place.
func softmax(ts []token, temperature float32) {
	m := math32.Inf(-1)
	for _, t := range ts {
		m = max(m, t.value)
	}

	var sum float32
	for i := range ts {
		ts[i].value = math32.Exp((ts[i].value - m) / temperature)
		sum += ts[i].value
	}
	for i := range ts {
		ts[i].value /= sum
	}
}

// sampleTopP keeps the most probable tokens until the mass of the tokens
// ranked above the next one reaches topP.
func (s *Sampler) sampleTopP(logits []float32) int32 {
	ts := tokens(logits)
	softmax(ts, s.temperature)
	slices.SortStableFunc(ts, func(a, b token) int {
		switch {
		case a.value > b.value:
			return -1
		case a.value < b.value:
			return 1
		}
		return 0
	})

	var cum float32
	n := 0
	for n < len(ts) && (n == 0 || cum < s.topP) {
		cum += ts[n].value
		n++
	}
	return s.pick(ts[:n])
}

// sampleTopK keeps the k largest logits. A min-heap of size k avoids sorting
// the whole vocabulary.
func (s *Sampler) sampleTopK(logits []float32) int32 {
	k := min(s.topK, len(logits))
	if k < 0 {
		k = len(logits)
	}

	h := binaryheap.NewWith(func(a, b token) int {
		switch {
		case a.value < b.value:
			return -1
		case a.value > b.value:
			return 1
		}
		return int(b.id - a.id)
	})
	for i, v := range logits {
		t := token{id: int32(i), value: v}
		if h.Size() < k {
			h.Push(t)
			continue
		}
		if low, _ := h.Peek(); v > low.value {
			h.Pop()
			h.Push(t)
		}
	}

	ts := h.Values()
	softmax(ts, s.temperature)
	return s.pick(ts)
}

// pick draws from probabilities that sum to about one.
func (s *Sampler) pick(ts []token) int32 {
	var total float32
	for _, t := range ts {
		total += t.value
	}

	r := s.rng.Float32() * total
	var cum float32
	for _, t := range ts {
		cum += t.value
		if r < cum {
			return t.id
		}
	}
	return ts[len(ts)-1].id
}
