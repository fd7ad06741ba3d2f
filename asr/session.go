// Package asr - Streaming-Spracherkennung ueber Codec und Sprachmodell
//
// Dieses Modul enthaelt:
// - Session: Reset, OnAudioChunk und Warmup ueber Mimi und LM
// - Vocab: Token-Ids zu Textstuecken
// - Stats: Laufzeitmessung ueber lm.Callbacks
// - CharacterErrorRate: Auswertung gegen eine Referenz
//
// Eine Session gehoert genau einem Aufrufer; Aufrufe duerfen sich nicht
// ueberlappen.
package asr

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/moshigo/moshi/logutil"
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/model/lm"
	"github.com/moshigo/moshi/model/mimi"
	"github.com/moshigo/moshi/sample"
	"github.com/moshigo/moshi/streaming"
)

const (
	// ChunkSize is 80ms of audio at 24kHz.
	ChunkSize  = 1920
	SampleRate = 24000
)

// Text tokens that never produce output.
const (
	tokenUnknown int32 = 0
	tokenPad     int32 = 3
)

var ErrCodebookMismatch = errors.New("codec produces fewer codebooks than the model reads")

type Options struct {
	// Temperature zero selects greedy decoding.
	Temperature float32
	TopK        int
	TopP        float32
	Seed        int64
	// MaxSteps resets the session after that many model steps. Zero means
	// never; growable attention caches then keep all history.
	MaxSteps int

	Callbacks Callbacks
}

type Session struct {
	ctx     ml.Context
	lm      *lm.LM
	codec   *mimi.Mimi
	vocab   Vocab
	sampler *sample.Sampler
	cb      Callbacks

	maxSteps  int
	maxEncode int
	steps     int
	prevText  int32
	ready     bool
}

func New(ctx ml.Context, model *lm.LM, codec *mimi.Mimi, vocab Vocab, opts Options) (*Session, error) {
	cfg := model.Config()
	if have := codec.Quantizer.NumCodebooks(); have < cfg.AudioCodebooks {
		return nil, fmt.Errorf("%w: %d < %d", ErrCodebookMismatch, have, cfg.AudioCodebooks)
	}

	cb := opts.Callbacks
	if cb == nil {
		cb = lm.NoopCallbacks{}
	}
	return &Session{
		ctx:       ctx,
		lm:        model,
		codec:     codec,
		vocab:     vocab,
		sampler:   sample.New(opts.Temperature, opts.TopK, opts.TopP, opts.Seed),
		cb:        cb,
		maxSteps:  opts.MaxSteps,
		maxEncode: maxEncodeSamples(codec.Config()),
	}, nil
}

// maxEncodeSamples bounds one codec call so that the encoder transformer,
// which runs at twice the frame rate, writes at most half its rotating cache.
func maxEncodeSamples(cfg mimi.Config) int {
	return max(1, cfg.Transformer.Context/4) * cfg.FrameSize()
}

// Reset clears the codec and attention state and primes the model with the
// text init token and padded audio. Calling it twice is the same as once.
func (s *Session) Reset() {
	s.codec.ResetState()
	s.primeText()
	s.ready = true
	s.cb.OnReset()
}

// primeText clears the model caches and runs the init step. The codec keeps
// its state.
func (s *Session) primeText() {
	cfg := s.lm.Config()
	s.lm.ResetCache()

	audio := make([]ml.Tensor, cfg.AudioCodebooks)
	for i := range audio {
		audio[i] = s.ctx.FromInts([]int32{cfg.AudioPaddingToken()}, 1, 1)
	}
	_, logits := s.lm.StepMain(s.ctx, s.ctx.FromInts([]int32{cfg.TextInitToken()}, 1, 1), audio)
	s.ctx.Compute(logits)
	s.prevText = s.sampler.Sample(s.ctx, logits)
	s.steps = 0
}

// OnAudioChunk feeds mono samples and returns the text pieces completed by
// them. Chunks of any positive length are accepted; samples that do not yet
// complete a codec frame are buffered. Long chunks are encoded in slices that
// fit the codec's attention window.
func (s *Session) OnAudioChunk(pcm []float32) []string {
	if !s.ready {
		s.Reset()
	}

	var pieces []string
	for len(pcm) > 0 {
		n := min(len(pcm), s.maxEncode)
		pieces = append(pieces, s.encodeChunk(pcm[:n])...)
		pcm = pcm[n:]
	}
	return pieces
}

func (s *Session) encodeChunk(pcm []float32) []string {
	s.cb.OnEvent(lm.EventBeginEncode)
	// der Codec puffert Teile des Chunks ueber den Aufruf hinaus
	pcm = slices.Clone(pcm)
	v := s.codec.EncodeStep(s.ctx, streaming.Some(s.ctx.FromFloats(pcm, 1, 1, len(pcm))))
	codes, ok := v.Tensor()
	if ok {
		s.ctx.Compute(codes)
	}
	s.cb.OnEvent(lm.EventEndEncode)
	if !ok {
		return nil
	}
	s.cb.OnInputAudioTokens(codes)
	logutil.Trace("asr encode", "codes", ml.DumpValue(s.ctx, codes, ml.DumpWithEdgeItems(2)))

	var pieces []string
	numCodebooks := s.lm.Config().AudioCodebooks
	for step := range codes.Dim(2) {
		if s.maxSteps > 0 && s.steps >= s.maxSteps {
			slog.Debug("asr session reached max steps, resetting", "steps", s.steps)
			s.primeText()
		}

		frame := codes.Slice(s.ctx, 2, step, step+1)
		audio := make([]ml.Tensor, numCodebooks)
		for c := range audio {
			audio[c] = frame.Slice(s.ctx, 1, c, c+1).Reshape(s.ctx, 1, 1)
		}

		s.cb.OnEvent(lm.EventBeginStep)
		_, logits := s.lm.StepMain(s.ctx, s.ctx.FromInts([]int32{s.prevText}, 1, 1), audio)
		s.ctx.Compute(logits)
		s.cb.OnEvent(lm.EventEndStep)

		token := s.sampler.Sample(s.ctx, logits)
		s.cb.OnOutputTextToken(token)
		logutil.Trace("asr step", "token", token)

		if token != tokenUnknown && token != tokenPad {
			if piece, ok := s.vocab.Piece(token); ok {
				pieces = append(pieces, piece)
			}
		}
		s.prevText = token
		s.steps++
	}
	return pieces
}

// Warmup runs the codec and the model once on silence and leaves the session
// reset.
func (s *Session) Warmup() {
	s.codec.Warmup(s.ctx)
	s.lm.Warmup(s.ctx)
	s.Reset()
	slog.Debug("asr warmup done", "codebooks", s.lm.Config().AudioCodebooks)
}
