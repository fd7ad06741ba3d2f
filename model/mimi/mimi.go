package mimi

import (
	"github.com/moshigo/moshi/kvcache"
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/model"
	"github.com/moshigo/moshi/streaming"
	"github.com/moshigo/moshi/transformer"
)

type Config struct {
	Channels     int
	SampleRate   float64
	FrameRate    float64
	Renormalize  bool
	Seanet       SeanetConfig
	Transformer  transformer.Config
	QuantizerNQ  int
	Bins         int
	QuantizerDim int
}

// Mimi2024_07 is the published codec: 24 kHz audio at 12.5 frames per
// second, up to 32 codebooks of 2048 entries.
func Mimi2024_07(numCodebooks int) Config {
	seanet := SeanetV0_1()
	return Config{
		Channels:    1,
		SampleRate:  24000,
		FrameRate:   12.5,
		Renormalize: true,
		Seanet:      seanet,
		Transformer: transformer.Config{
			DModel:              seanet.Dimension,
			NumHeads:            8,
			NumLayers:           8,
			Causal:              true,
			NormFirst:           true,
			LayerScale:          0.01,
			PositionalEmbedding: transformer.PositionalRoPE,
			UseConvBias:         true,
			Norm:                transformer.LayerNorm,
			Context:             250,
			MaxPeriod:           10000,
			MaxSeqLen:           8192,
			KVRepeat:            1,
			DimFeedForward:      2048,
			ConvLayout:          true,
			UseRotatingKVCache:  true,
		},
		QuantizerNQ:  numCodebooks,
		Bins:         2048,
		QuantizerDim: 256,
	}
}

// FrameSize is the number of samples per codec frame, 1920 at 24 kHz.
func (c Config) FrameSize() int {
	return int(c.SampleRate / c.FrameRate)
}

func (c Config) downsampleStride() int {
	encoderFrameRate := c.SampleRate / float64(c.Seanet.hopLength())
	return int(encoderFrameRate / c.FrameRate)
}

type Mimi struct {
	Encoder            *SeanetEncoder         `tensor:"encoder"`
	Decoder            *SeanetDecoder         `tensor:"decoder"`
	EncoderTransformer *transformer.Projected `tensor:"encoder_transformer"`
	DecoderTransformer *transformer.Projected `tensor:"decoder_transformer"`
	Downsample         *Downsample            `tensor:"downsample"`
	Upsample           *Upsample              `tensor:"upsample"`
	Quantizer          *SplitRVQ              `tensor:"quantizer"`

	cfg          Config
	encoderCache []kvcache.Cache
	decoderCache []kvcache.Cache
}

func New(cfg Config) *Mimi {
	dim := cfg.Seanet.Dimension
	stride := cfg.downsampleStride()
	m := &Mimi{
		Encoder:            NewSeanetEncoder(cfg.Seanet),
		Decoder:            NewSeanetDecoder(cfg.Seanet),
		EncoderTransformer: transformer.NewProjected(cfg.Transformer, dim, dim),
		DecoderTransformer: transformer.NewProjected(cfg.Transformer, dim, dim),
		Downsample:         NewDownsample(stride, dim, true),
		Upsample:           NewUpsample(stride, dim, true),
		Quantizer:          NewSplitRVQ(cfg.QuantizerDim, dim, dim, cfg.QuantizerNQ, cfg.Bins),
		cfg:                cfg,
	}
	m.encoderCache = m.EncoderTransformer.NewCaches()
	m.decoderCache = m.DecoderTransformer.NewCaches()
	return m
}

func (m *Mimi) Kind() string { return "mimi" }

func (m *Mimi) Config() Config { return m.cfg }

func resetCaches(caches []kvcache.Cache) {
	for _, c := range caches {
		c.Reset()
	}
}

// Encode turns [B, Channels, T] audio into [B, nQ, frames] codes in one go.
// Any streaming state is discarded first.
func (m *Mimi) Encode(ctx ml.Context, pcm ml.Tensor) ml.Tensor {
	m.Encoder.ResetState()
	resetCaches(m.encoderCache)

	x := m.Encoder.Forward(ctx, pcm)
	x = m.EncoderTransformer.Forward(ctx, x, m.encoderCache)[0]
	x = m.Downsample.Forward(ctx, x)
	return m.Quantizer.Encode(ctx, x)
}

// EncodeStep consumes the next chunk of audio and returns the codes of the
// frames it completed, if any.
func (m *Mimi) EncodeStep(ctx ml.Context, pcm streaming.Value) streaming.Value {
	x := m.Encoder.Step(ctx, pcm)
	x = x.Map(func(t ml.Tensor) ml.Tensor {
		return m.EncoderTransformer.Forward(ctx, t, m.encoderCache)[0]
	})
	x = m.Downsample.Step(ctx, x)
	return x.Map(func(t ml.Tensor) ml.Tensor { return m.Quantizer.Encode(ctx, t) })
}

// Decode turns [B, nQ, frames] codes back into audio in one go.
func (m *Mimi) Decode(ctx ml.Context, codes ml.Tensor) ml.Tensor {
	m.Decoder.ResetState()
	resetCaches(m.decoderCache)

	x := m.Quantizer.Decode(ctx, codes)
	x = m.Upsample.Forward(ctx, x)
	x = m.DecoderTransformer.Forward(ctx, x, m.decoderCache)[0]
	return m.Decoder.Forward(ctx, x)
}

func (m *Mimi) DecodeStep(ctx ml.Context, codes streaming.Value) streaming.Value {
	x := codes.Map(func(t ml.Tensor) ml.Tensor { return m.Quantizer.Decode(ctx, t) })
	x = m.Upsample.Step(ctx, x)
	x = x.Map(func(t ml.Tensor) ml.Tensor {
		return m.DecoderTransformer.Forward(ctx, t, m.decoderCache)[0]
	})
	return m.Decoder.Step(ctx, x)
}

// ResetState clears every convolution buffer and attention cache.
func (m *Mimi) ResetState() {
	m.Encoder.ResetState()
	m.Decoder.ResetState()
	m.Downsample.ResetState()
	m.Upsample.ResetState()
	resetCaches(m.encoderCache)
	resetCaches(m.decoderCache)
}

// Warmup runs four frames of silence through Encode and Decode.
func (m *Mimi) Warmup(ctx ml.Context) {
	pcm := ctx.Zeros(ml.DTypeF32, 1, m.cfg.Channels, 4*m.cfg.FrameSize())
	codes := m.Encode(ctx, pcm)
	ctx.Compute(m.Decode(ctx, codes))
}

func init() {
	model.Register("mimi_2024_07", func() (model.Model, error) {
		return New(Mimi2024_07(16)), nil
	})
	model.Register("mimi_2024_07_asr", func() (model.Model, error) {
		return New(Mimi2024_07(32)), nil
	})
}
