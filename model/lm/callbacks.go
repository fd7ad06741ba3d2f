package lm

import "github.com/moshigo/moshi/ml"

type Event int

const (
	EventBeginStep Event = iota
	EventEndStep
	EventBeginDepformer
	EventEndDepformer
	EventBeginDecode
	EventEndDecode
	EventBeginEncode
	EventEndEncode
)

func (e Event) String() string {
	switch e {
	case EventBeginStep:
		return "begin_step"
	case EventEndStep:
		return "end_step"
	case EventBeginDepformer:
		return "begin_depformer"
	case EventEndDepformer:
		return "end_depformer"
	case EventBeginDecode:
		return "begin_decode"
	case EventEndDecode:
		return "end_decode"
	case EventBeginEncode:
		return "begin_encode"
	case EventEndEncode:
		return "end_encode"
	default:
		return "unknown"
	}
}

// Callbacks observe a generation loop. Implementations run on the inference
// goroutine and must not block.
type Callbacks interface {
	OnReset()
	OnEvent(Event)
	// OnInputAudioTokens receives computed [B, nQ, T] codec tokens.
	OnInputAudioTokens(codes ml.Tensor)
	OnOutputTextToken(token int32)
	OnOutputAudioTokens(tokens []int32)
}

type NoopCallbacks struct{}

func (NoopCallbacks) OnReset()                     {}
func (NoopCallbacks) OnEvent(Event)                {}
func (NoopCallbacks) OnInputAudioTokens(ml.Tensor) {}
func (NoopCallbacks) OnOutputTextToken(int32)      {}
func (NoopCallbacks) OnOutputAudioTokens([]int32)  {}
