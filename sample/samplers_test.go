package sample

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moshigo/moshi/ml/backend/cpu"
)

func TestGreedy(t *testing.T) {
	logits := []float32{0.1, 3, -2, 2.9, 3}
	for _, s := range []*Sampler{Greedy(), New(0, 5, 0.5, 1), New(-1, 0, 0, 1)} {
		assert.Equal(t, int32(1), s.SampleFloats(logits))
	}
}

func TestTopKOneIsArgmax(t *testing.T) {
	logits := []float32{-1, 0.5, 4, 3.9, -7}
	for _, temp := range []float32{0.1, 1, 10, 100} {
		s := New(temp, 1, 0, 42)
		for range 20 {
			assert.Equal(t, int32(2), s.SampleFloats(logits), "temperatur %v", temp)
		}
	}
}

func TestTopKStaysInTopK(t *testing.T) {
	logits := []float32{5, 0, 4.5, 0, 0, 4.8, 0}
	s := New(5, 3, 0, 7)
	for range 200 {
		assert.Contains(t, []int32{0, 2, 5}, s.SampleFloats(logits))
	}
}

func TestTopPPrecedesTopK(t *testing.T) {
	// top-p 0.5 behaelt nur den dominanten Token, top-k 3 wuerde mehr erlauben
	logits := []float32{10, 0, 0, 0}
	s := New(1, 3, 0.5, 3)
	for range 100 {
		assert.Equal(t, int32(0), s.SampleFloats(logits))
	}
}

func TestTopPKeepsNucleus(t *testing.T) {
	// Wahrscheinlichkeiten etwa 0.47, 0.47, 0.06
	logits := []float32{2, 2, -0.1}
	s := New(1, 0, 0.9, 11)
	seen := map[int32]int{}
	for range 500 {
		seen[s.SampleFloats(logits)]++
	}
	assert.Zero(t, seen[2])
	assert.Positive(t, seen[0])
	assert.Positive(t, seen[1])
}

func TestCategoricalDeterministicSeed(t *testing.T) {
	logits := []float32{0.3, 0.1, 0.9, 0.2, 0.5}
	a, b := New(1, 0, 0, 99), New(1, 0, 0, 99)
	for range 50 {
		require.Equal(t, a.SampleFloats(logits), b.SampleFloats(logits))
	}
}

func TestCategoricalCoversVocabulary(t *testing.T) {
	s := New(1, 0, 0, 5)
	seen := map[int32]bool{}
	for range 1000 {
		seen[s.SampleFloats([]float32{0, 0, 0, 0})] = true
	}
	assert.Len(t, seen, 4)
}

func TestSampleTensor(t *testing.T) {
	ctx := cpu.NewContext()

	t.Run("zeile", func(t *testing.T) {
		logits := ctx.FromFloats([]float32{1, 7, 3}, 1, 3)
		assert.Equal(t, int32(1), Greedy().Sample(ctx, logits))
	})

	t.Run("falsche form", func(t *testing.T) {
		for _, shape := range [][]int{{3}, {1, 1, 3}, {3, 1}} {
			logits := ctx.FromFloats([]float32{1, 7, 3}, shape...)
			assert.Panics(t, func() { Greedy().Sample(ctx, logits) }, "form %v", shape)
		}
	})
}
