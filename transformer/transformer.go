package transformer

import (
	"fmt"

	"github.com/moshigo/moshi/kvcache"
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/ml/nn"
)

type Layer struct {
	SelfAttn    *Attention     `tensor:"self_attn"`
	MLP         MLP            `tensor:"gating"`
	Norm1       nn.Norm        `tensor:"norm1"`
	Norm2       nn.Norm        `tensor:"norm2"`
	LayerScale1 *nn.LayerScale `tensor:"layer_scale_1"`
	LayerScale2 *nn.LayerScale `tensor:"layer_scale_2"`
}

func newNorm(cfg Config) nn.Norm {
	if cfg.Norm == RMSNorm {
		return nn.NewRMSNorm(cfg.DModel, 1e-8)
	}
	return nn.NewLayerNorm(cfg.DModel, 1e-5)
}

func newLayer(cfg Config) *Layer {
	l := &Layer{
		SelfAttn: newAttention(cfg),
		Norm1:    newNorm(cfg),
		Norm2:    newNorm(cfg),
	}
	if cfg.Gating {
		l.MLP = newGatedMLP(cfg)
	} else {
		l.MLP = newPlainMLP(cfg)
	}
	if cfg.LayerScale != 0 {
		l.LayerScale1 = nn.NewLayerScale(cfg.DModel)
		l.LayerScale2 = nn.NewLayerScale(cfg.DModel)
	}
	return l
}

func (l *Layer) Forward(ctx ml.Context, x, mask ml.Tensor, cache kvcache.Cache) ml.Tensor {
	h := l.SelfAttn.Forward(ctx, l.Norm1.Forward(ctx, x), mask, cache)
	if l.LayerScale1 != nil {
		h = l.LayerScale1.Forward(ctx, h)
	}
	x = x.Add(ctx, h)

	h = l.MLP.Forward(ctx, l.Norm2.Forward(ctx, x))
	if l.LayerScale2 != nil {
		h = l.LayerScale2.Forward(ctx, h)
	}
	return x.Add(ctx, h)
}

type Transformer struct {
	Layers []*Layer `tensor:"layers"`

	cfg Config
}

func New(cfg Config) *Transformer {
	t := &Transformer{cfg: cfg}
	for range cfg.NumLayers {
		t.Layers = append(t.Layers, newLayer(cfg))
	}
	return t
}

func (t *Transformer) Config() Config { return t.cfg }

// Forward runs x of shape [B, T, D] through every layer, each with its own
// cache. caches must hold one entry per layer.
func (t *Transformer) Forward(ctx ml.Context, x ml.Tensor, caches []kvcache.Cache) ml.Tensor {
	if len(caches) != len(t.Layers) {
		panic(fmt.Errorf("transformer: expected %d caches, one per layer, got %d", len(t.Layers), len(caches)))
	}

	var mask ml.Tensor
	if len(caches) > 0 {
		mask = caches[0].Mask(ctx, x.Dim(1))
	}

	for i, l := range t.Layers {
		x = l.Forward(ctx, x, mask, caches[i])
	}
	return x
}

// NewCaches returns one fresh cache per layer.
func (t *Transformer) NewCaches() []kvcache.Cache {
	caches := make([]kvcache.Cache, t.cfg.NumLayers)
	for i := range caches {
		if t.cfg.UseRotatingKVCache {
			caches[i] = kvcache.NewRotating(t.cfg.Context)
		} else {
			caches[i] = kvcache.NewSimple()
		}
	}
	return caches
}

// InitParams starts layer scales at the configured value instead of noise.
func (t *Transformer) InitParams(ctx ml.Context) {
	if t.cfg.LayerScale == 0 {
		return
	}
	for _, l := range t.Layers {
		for _, ls := range []*nn.LayerScale{l.LayerScale1, l.LayerScale2} {
			s := make([]float32, ls.Dim)
			for i := range s {
				s[i] = t.cfg.LayerScale
			}
			ls.Scale = ctx.FromFloats(s, ls.Dim)
		}
	}
}
