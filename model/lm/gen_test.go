package lm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moshigo/moshi/ml/backend/cpu"
	"github.com/moshigo/moshi/sample"
)

func TestGenDelayCausality(t *testing.T) {
	cfg := tinyConfig(true)
	for _, maxSteps := range []int{1, 5, 50, cfg.MaxDelay() + 1} {
		ctx := cpu.NewContext()
		m := newTiny(t, ctx, cfg)
		g := NewGen(m, maxSteps, sample.New(0.8, 0, 0.95, 1), sample.New(0.8, 0, 0.95, 2), nil)

		steps := 0
		require.NotPanics(t, func() {
			for {
				if _, ok := g.Step(ctx, []int32{1, 2}); !ok {
					break
				}
				steps++
			}
		}, "maxSteps %d", maxSteps)
		assert.Equal(t, maxSteps, steps)
		assert.Equal(t, maxSteps, g.Steps())

		for _, tok := range g.Tokens(0) {
			assert.GreaterOrEqual(t, tok, int32(0))
			assert.Less(t, tok, int32(cfg.TextOutVocabSize))
		}

		last := g.LastAudioTokens()
		if maxSteps <= cfg.MaxDelay() {
			assert.Nil(t, last)
		} else {
			assert.Len(t, last, cfg.DepformerSlices())
		}
	}
}

func TestGenWritesDelayedCells(t *testing.T) {
	ctx := cpu.NewContext()
	m := newTiny(t, ctx, tinyConfig(true))
	g := NewGen(m, 4, sample.Greedy(), sample.Greedy(), nil)

	for range 4 {
		_, ok := g.Step(ctx, []int32{5, 6})
		require.True(t, ok)
	}
	_, ok := g.Step(ctx, []int32{5, 6})
	assert.False(t, ok)

	// Codebook 2 hat Verzoegerung 2: die letzten zwei Zellen bleiben leer
	row := g.Tokens(3)
	assert.NotEqual(t, ungeneratedToken, row[1])
	assert.Equal(t, []int32{ungeneratedToken, ungeneratedToken}, row[2:])
	assert.Equal(t, []int32{5, 5, 5, 5}, g.Tokens(4))
	assert.Equal(t, []int32{6, 6, 6, 6}, g.Tokens(5))
}

func TestGenUngeneratedReadPanics(t *testing.T) {
	ctx := cpu.NewContext()
	m := newTiny(t, ctx, tinyConfig(true))
	g := NewGen(m, 3, sample.Greedy(), sample.Greedy(), nil)

	assert.Panics(t, func() { g.at(1, 0) })
	assert.Panics(t, func() { g.at(0, 3) })
	assert.Panics(t, func() { g.Step(ctx, []int32{1}) }, "falsche Anzahl")
}

func TestGenResetIdempotent(t *testing.T) {
	ctx := cpu.NewContext()
	m := newTiny(t, ctx, tinyConfig(false))
	g := NewGen(m, 6, sample.Greedy(), sample.Greedy(), nil)

	audio := []int32{1, 2, 3, 4, 5}
	run := func() []int32 {
		var out []int32
		for {
			tok, ok := g.Step(ctx, audio)
			if !ok {
				return out
			}
			out = append(out, tok)
		}
	}

	first := run()
	require.Len(t, first, 6)
	assert.Nil(t, g.LastAudioTokens())

	g.Reset()
	g.Reset()
	assert.Zero(t, g.Steps())
	for _, c := range m.caches {
		assert.Zero(t, c.Offset())
	}
	assert.Equal(t, first, run())
}

type recorder struct {
	NoopCallbacks
	events []Event
	text   []int32
	resets int
}

func (r *recorder) OnReset()                  { r.resets++ }
func (r *recorder) OnEvent(e Event)           { r.events = append(r.events, e) }
func (r *recorder) OnOutputTextToken(t int32) { r.text = append(r.text, t) }

func TestGenCallbacks(t *testing.T) {
	ctx := cpu.NewContext()
	m := newTiny(t, ctx, tinyConfig(true))
	rec := &recorder{}
	g := NewGen(m, 2, sample.Greedy(), sample.Greedy(), rec)

	first, _ := g.Step(ctx, []int32{0, 0})
	g.Step(ctx, []int32{0, 0})
	g.Reset()

	assert.Equal(t, []Event{
		EventBeginStep, EventEndStep, EventBeginDepformer, EventEndDepformer,
		EventBeginStep, EventEndStep, EventBeginDepformer, EventEndDepformer,
	}, rec.events)
	assert.Len(t, rec.text, 2)
	assert.Equal(t, first, rec.text[0])
	assert.Equal(t, 1, rec.resets)
	assert.Equal(t, "begin_depformer", EventBeginDepformer.String())
}
