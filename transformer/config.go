// Package transformer - kausaler Transformer mit KV-Cache
//
// Dieses Modul enthaelt:
// - Config: Topologie inkl. Presets (V1_300M, V1_1B, V1_2B, V1_7B)
// - Transformer: Schichtstapel mit gemeinsamer Maske pro Aufruf
// - Projected: Transformer mit optionalen Ein-/Ausgabeprojektionen
//
// Mehrschritt- und Einschritt-Aufrufe teilen denselben Codepfad.
package transformer

type Norm int

const (
	LayerNorm Norm = iota
	RMSNorm
)

func (n Norm) String() string {
	if n == RMSNorm {
		return "rms_norm"
	}
	return "layer_norm"
}

type PositionalEmbedding int

const (
	PositionalNone PositionalEmbedding = iota
	PositionalRoPE
)

type Config struct {
	DModel    int
	NumHeads  int
	NumLayers int

	Causal    bool
	NormFirst bool
	BiasFF    bool
	BiasAttn  bool

	// LayerScale is the initial per-channel residual scale; 0 disables it.
	LayerScale float32

	PositionalEmbedding PositionalEmbedding
	UseConvBias         bool
	Gating              bool
	Norm                Norm

	// Context bounds how many past keys each query attends to.
	Context   int
	MaxPeriod int
	MaxSeqLen int
	KVRepeat  int

	DimFeedForward int

	// ConvLayout means Projected takes and returns [B, C, T] tensors.
	ConvLayout         bool
	UseRotatingKVCache bool
}

func (c Config) HeadDim() int {
	return c.DModel / c.NumHeads
}

func lmBase(dModel, numHeads, numLayers, context, maxPeriod int) Config {
	return Config{
		DModel:              dModel,
		NumHeads:            numHeads,
		NumLayers:           numLayers,
		Causal:              true,
		NormFirst:           true,
		PositionalEmbedding: PositionalRoPE,
		Gating:              true,
		Norm:                RMSNorm,
		Context:             context,
		MaxPeriod:           maxPeriod,
		MaxSeqLen:           4096,
		KVRepeat:            1,
		DimFeedForward:      dModel * 4,
	}
}

func V1_300M() Config { return lmBase(1024, 8, 16, 750, 100000) }

func V1_1B() Config { return lmBase(2048, 16, 16, 3000, 100000) }

func V1_2B() Config { return lmBase(2560, 20, 24, 3000, 100000) }

func V1_7B() Config { return lmBase(4096, 32, 32, 3000, 10000) }
