package asr

import (
	"log/slog"
	"sync"
	"time"

	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/model/lm"
)

// Callbacks is re-exported so that callers of this package need not import
// the lm package.
type Callbacks = lm.Callbacks

// Phase aggregates the durations of one kind of work.
type Phase struct {
	Min, Max, Sum time.Duration
	Count         int
}

func (p *Phase) add(d time.Duration) {
	if p.Count == 0 || d < p.Min {
		p.Min = d
	}
	p.Max = max(p.Max, d)
	p.Sum += d
	p.Count++
}

func (p Phase) Mean() time.Duration {
	if p.Count == 0 {
		return 0
	}
	return p.Sum / time.Duration(p.Count)
}

func (p Phase) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("count", p.Count),
		slog.Duration("min", p.Min),
		slog.Duration("mean", p.Mean()),
		slog.Duration("max", p.Max),
	)
}

type Summary struct {
	Encode, Decode, Step, Depformer Phase

	InputFrames int
	TextTokens  int
}

func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("encode", s.Encode),
		slog.Any("step", s.Step),
		slog.Any("depformer", s.Depformer),
		slog.Any("decode", s.Decode),
		slog.Int("frames", s.InputFrames),
		slog.Int("tokens", s.TextTokens),
	)
}

// Stats measures a session. It is safe to read the summary from another
// goroutine while the session runs.
type Stats struct {
	now func() time.Time

	mu      sync.Mutex
	begins  map[lm.Event]time.Time
	summary Summary
}

func NewStats() *Stats {
	return &Stats{now: time.Now, begins: make(map[lm.Event]time.Time)}
}

func (s *Stats) OnReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.begins)
	s.summary = Summary{}
}

func (s *Stats) OnEvent(e lm.Event) {
	t := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var phase *Phase
	var begin lm.Event
	switch e {
	case lm.EventBeginStep, lm.EventBeginDepformer, lm.EventBeginEncode, lm.EventBeginDecode:
		s.begins[e] = t
		return
	case lm.EventEndStep:
		phase, begin = &s.summary.Step, lm.EventBeginStep
	case lm.EventEndDepformer:
		phase, begin = &s.summary.Depformer, lm.EventBeginDepformer
	case lm.EventEndEncode:
		phase, begin = &s.summary.Encode, lm.EventBeginEncode
	case lm.EventEndDecode:
		phase, begin = &s.summary.Decode, lm.EventBeginDecode
	default:
		return
	}

	if b, ok := s.begins[begin]; ok {
		delete(s.begins, begin)
		phase.add(t.Sub(b))
	}
}

func (s *Stats) OnInputAudioTokens(codes ml.Tensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.InputFrames += codes.Dim(-1)
}

func (s *Stats) OnOutputTextToken(int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.TextTokens++
}

func (s *Stats) OnOutputAudioTokens([]int32) {}

func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}
