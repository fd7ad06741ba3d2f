package lm

import (
	"log/slog"

	"github.com/moshigo/moshi/kvcache"
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/ml/nn"
	"github.com/moshigo/moshi/model"
	"github.com/moshigo/moshi/sample"
	"github.com/moshigo/moshi/transformer"
)

type LM struct {
	Depformer   *Depformer               `tensor:"depformer"`
	Transformer *transformer.Transformer `tensor:"transformer"`
	TextEmb     *nn.Embedding            `tensor:"text_emb"`
	OutNorm     nn.Norm                  `tensor:"out_norm"`
	TextLinear  *nn.Linear               `tensor:"text_linear"`
	AudioEmbs   []*nn.Embedding          `tensor:"audio_embs"`

	cfg    Config
	caches []kvcache.Cache
}

func New(cfg Config) *LM {
	d := cfg.Transformer.DModel
	m := &LM{
		Transformer: transformer.New(cfg.Transformer),
		TextEmb:     nn.NewEmbedding(cfg.TextInVocabSize, d),
		TextLinear:  nn.NewLinear(d, cfg.TextOutVocabSize, false),
		cfg:         cfg,
	}
	if cfg.Transformer.Norm == transformer.RMSNorm {
		m.OutNorm = nn.NewRMSNorm(d, 1e-8)
	} else {
		m.OutNorm = nn.NewLayerNorm(d, 1e-5)
	}
	if cfg.Depformer != nil {
		m.Depformer = newDepformer(cfg)
	}
	for range cfg.AudioCodebooks {
		m.AudioEmbs = append(m.AudioEmbs, nn.NewEmbedding(cfg.AudioVocabSize, d))
	}
	m.caches = m.Transformer.NewCaches()
	return m
}

func (m *LM) Kind() string { return "lm" }

func (m *LM) Config() Config { return m.cfg }

// Validate runs once the weights are populated.
func (m *LM) Validate() error { return m.cfg.Validate() }

// Forward returns text logits [B, T, V] for text-only input ids [B, T].
func (m *LM) Forward(ctx ml.Context, textIDs ml.Tensor) ml.Tensor {
	x := m.TextEmb.Forward(ctx, textIDs)
	x = m.Transformer.Forward(ctx, x, m.caches)
	return m.TextLinear.Forward(ctx, m.OutNorm.Forward(ctx, x))
}

func (m *LM) ResetCache() {
	for _, c := range m.caches {
		c.Reset()
	}
}

// embed sums the text embedding and one embedding per audio codebook. Either
// side may be missing but not both.
func (m *LM) embed(ctx ml.Context, textIDs ml.Tensor, audioIDs []ml.Tensor) ml.Tensor {
	var x ml.Tensor
	if textIDs != nil {
		x = m.TextEmb.Forward(ctx, textIDs)
	}
	for i, ids := range audioIDs[:min(len(audioIDs), len(m.AudioEmbs))] {
		e := m.AudioEmbs[i].Forward(ctx, ids)
		if x == nil {
			x = e
		} else {
			x = x.Add(ctx, e)
		}
	}
	if x == nil {
		panic("lm: step without text or audio input")
	}
	return x
}

// StepMain advances the main transformer by the T steps of its [B, T]
// inputs. It returns the normalised hidden state and the text logits [B, V]
// of the last step.
func (m *LM) StepMain(ctx ml.Context, textIDs ml.Tensor, audioIDs []ml.Tensor) (ml.Tensor, ml.Tensor) {
	out := m.OutNorm.Forward(ctx, m.Transformer.Forward(ctx, m.embed(ctx, textIDs, audioIDs), m.caches))
	b, t, d := out.Dim(0), out.Dim(1), out.Dim(2)
	logits := m.TextLinear.Forward(ctx, out.Slice(ctx, 1, t-1, t).Reshape(ctx, b, d))
	return out, logits
}

// Sample runs one main step, samples the text token and, with a depformer,
// one audio token per slice.
func (m *LM) Sample(ctx ml.Context, textIDs ml.Tensor, audioIDs []ml.Tensor, stepIdx int, textSampler, audioSampler *sample.Sampler, cb Callbacks) (int32, []int32) {
	cb.OnEvent(EventBeginStep)
	out, logits := m.StepMain(ctx, textIDs, audioIDs)
	textToken := textSampler.Sample(ctx, logits)
	cb.OnEvent(EventEndStep)

	if m.Depformer == nil {
		return textToken, nil
	}

	cb.OnEvent(EventBeginDepformer)
	audioTokens := m.Depformer.Sample(ctx, out, stepIdx, audioSampler, textToken)
	cb.OnEvent(EventEndDepformer)
	return textToken, audioTokens
}

// Warmup runs a single sampling step on zero tokens and clears the cache.
func (m *LM) Warmup(ctx ml.Context) {
	zeros := func() ml.Tensor { return ctx.FromInts([]int32{0}, 1, 1) }
	audio := make([]ml.Tensor, m.cfg.AudioCodebooks)
	for i := range audio {
		audio[i] = zeros()
	}

	s := sample.Greedy()
	text, tokens := m.Sample(ctx, zeros(), audio, 0, s, s, NoopCallbacks{})
	slog.Debug("lm warmup", "text", text, "audio", len(tokens))
	m.ResetCache()
}

func init() {
	for name, fn := range presets {
		model.Register(name, func() (model.Model, error) {
			cfg := fn()
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return New(cfg), nil
		})
	}
}
