package lm

import (
	"fmt"

	"github.com/moshigo/moshi/logutil"
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/sample"
)

// ungeneratedToken marks unwritten cells in Tokens; reads are checked
// against the written bitmap.
const ungeneratedToken int32 = -2

// Gen drives the LM one step at a time. Row 0 of its token arena holds text
// tokens, row 1+c the tokens of audio codebook c, each delayed by
// AudioDelays[c] steps. Reading a cell that was never written is a bug in
// the delay bookkeeping and panics.
type Gen struct {
	model        *LM
	maxSteps     int
	textSampler  *sample.Sampler
	audioSampler *sample.Sampler
	cb           Callbacks

	rows          int
	mainCodebooks int
	tokens        []int32
	written       []bool

	step int
}

func NewGen(m *LM, maxSteps int, audioSampler, textSampler *sample.Sampler, cb Callbacks) *Gen {
	if cb == nil {
		cb = NoopCallbacks{}
	}
	rows := 1 + m.cfg.AudioCodebooks
	g := &Gen{
		model:         m,
		maxSteps:      maxSteps,
		textSampler:   textSampler,
		audioSampler:  audioSampler,
		cb:            cb,
		rows:          rows,
		mainCodebooks: m.cfg.DepformerSlices(),
		tokens:        make([]int32, rows*maxSteps),
		written:       make([]bool, rows*maxSteps),
	}
	g.clear()
	return g
}

func (g *Gen) clear() {
	for i := range g.tokens {
		g.tokens[i] = ungeneratedToken
		g.written[i] = false
	}
}

func (g *Gen) index(row, t int) int {
	if row < 0 || row >= g.rows || t < 0 || t >= g.maxSteps {
		panic(fmt.Errorf("gen: cell (%d, %d) outside [%d, %d)", row, t, g.rows, g.maxSteps))
	}
	return row*g.maxSteps + t
}

func (g *Gen) at(row, t int) int32 {
	i := g.index(row, t)
	if !g.written[i] {
		panic(fmt.Errorf("gen: ungenerated token at row %d, step %d (current step %d)", row, t, g.step))
	}
	return g.tokens[i]
}

func (g *Gen) set(row, t int, v int32) {
	i := g.index(row, t)
	g.tokens[i] = v
	g.written[i] = true
}

func (g *Gen) Steps() int { return g.step }

// Step runs one generation step. otherAudioTokens fill the codebooks the
// depformer does not predict, for the current step. It returns the sampled
// text token, or false once maxSteps steps have run.
func (g *Gen) Step(ctx ml.Context, otherAudioTokens []int32) (int32, bool) {
	if g.step >= g.maxSteps {
		return 0, false
	}
	cfg := g.model.cfg
	t := g.step

	if want := cfg.AudioCodebooks - g.mainCodebooks; len(otherAudioTokens) != want {
		panic(fmt.Errorf("gen: got %d other audio tokens, expected %d", len(otherAudioTokens), want))
	}
	for i, tok := range otherAudioTokens {
		g.set(1+g.mainCodebooks+i, t, tok)
	}

	textID := cfg.TextInitToken()
	if t > 0 {
		textID = g.at(0, t-1)
	}

	audioIDs := make([]ml.Tensor, cfg.AudioCodebooks)
	for c, delay := range cfg.AudioDelays {
		tok := cfg.AudioPaddingToken()
		if i := t - 1 - delay; i >= 0 {
			tok = g.at(1+c, i)
		}
		audioIDs[c] = ctx.FromInts([]int32{tok}, 1, 1)
	}

	text, audio := g.model.Sample(ctx, ctx.FromInts([]int32{textID}, 1, 1), audioIDs, t, g.textSampler, g.audioSampler, g.cb)
	if len(audio) != g.mainCodebooks {
		panic(fmt.Errorf("gen: depformer returned %d tokens, expected %d", len(audio), g.mainCodebooks))
	}

	g.set(0, t, text)
	for c, tok := range audio {
		if i := t - cfg.AudioDelays[c]; i >= 0 {
			g.set(1+c, i, tok)
		}
	}
	logutil.Trace("gen step", "step", t, "text", text, "audio", audio)

	g.cb.OnOutputTextToken(text)
	if len(audio) > 0 {
		g.cb.OnOutputAudioTokens(audio)
	}

	g.step++
	return text, true
}

// LastAudioTokens returns the newest step for which every depformer codebook
// is resolved, or nil while that step is still padding.
func (g *Gen) LastAudioTokens() []int32 {
	t := g.step - 1 - g.model.cfg.MaxDelay()
	if t < 0 || g.mainCodebooks == 0 {
		return nil
	}

	pad := g.model.cfg.AudioPaddingToken()
	tokens := make([]int32, g.mainCodebooks)
	for c := range tokens {
		tokens[c] = g.at(1+c, t)
		if tokens[c] == pad {
			return nil
		}
	}
	return tokens
}

// Reset rewinds to step 0 and clears the LM cache. It is idempotent.
func (g *Gen) Reset() {
	g.step = 0
	g.model.ResetCache()
	g.clear()
	g.cb.OnReset()
}

// Tokens returns a copy of one arena row.
func (g *Gen) Tokens(row int) []int32 {
	start := g.index(row, 0)
	return append([]int32(nil), g.tokens[start:start+g.maxSteps]...)
}
