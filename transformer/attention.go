package transformer

import (
	"math"

	"github.com/moshigo/moshi/kvcache"
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/ml/nn"
)

type Attention struct {
	InProj  *nn.Linear `tensor:"in_proj"`
	OutProj *nn.Linear `tensor:"out_proj"`

	cfg   Config
	scale float64
}

func newAttention(cfg Config) *Attention {
	numKV := cfg.NumHeads / cfg.KVRepeat
	outDim := cfg.DModel + 2*numKV*cfg.HeadDim()
	return &Attention{
		InProj:  nn.NewLinear(cfg.DModel, outDim, cfg.BiasAttn),
		OutProj: nn.NewLinear(cfg.DModel, cfg.DModel, cfg.BiasAttn),
		cfg:     cfg,
		scale:   1 / math.Sqrt(float64(cfg.HeadDim())),
	}
}

// Forward attends x of shape [B, T, D] over the cached history. The mask
// was built from the cache before any layer updated it.
func (sa *Attention) Forward(ctx ml.Context, x, mask ml.Tensor, cache kvcache.Cache) ml.Tensor {
	b, t, d := x.Dim(0), x.Dim(1), x.Dim(2)
	h, hd := sa.cfg.NumHeads, sa.cfg.HeadDim()

	qkv := sa.InProj.Forward(ctx, x).Reshape(ctx, b, t, 3, h, hd)
	split := func(i int) ml.Tensor {
		return qkv.Slice(ctx, 2, i, i+1).Reshape(ctx, b, t, h, hd).Permute(ctx, 0, 2, 1, 3)
	}
	q, k, v := split(0), split(1), split(2)

	if sa.cfg.PositionalEmbedding == PositionalRoPE {
		offset := 0
		if cache != nil {
			offset = cache.Offset()
		}
		q = q.RoPE(ctx, offset, float32(sa.cfg.MaxPeriod))
		k = k.RoPE(ctx, offset, float32(sa.cfg.MaxPeriod))
	}

	if cache != nil {
		k, v = cache.Update(ctx, k, v)
	}

	// nur die letzten Context Schluessel bleiben sichtbar
	kLen := k.Dim(2)
	if target := t + min(sa.cfg.Context, kLen-t); target < kLen {
		k = k.Slice(ctx, 2, kLen-target, kLen)
		v = v.Slice(ctx, 2, kLen-target, kLen)
	}

	if mask != nil {
		if maskLen := mask.Dim(-1); k.Dim(2) < maskLen {
			mask = mask.Slice(ctx, 1, maskLen-k.Dim(2), maskLen)
		}
	}

	out := attend(ctx, q, k, v, mask, sa.scale)
	out = out.Permute(ctx, 0, 2, 1, 3).Reshape(ctx, b, t, d)
	return sa.OutProj.Forward(ctx, out)
}

// attend uses the backend's fused kernel when it has one.
func attend(ctx ml.Context, q, k, v, mask ml.Tensor, scale float64) ml.Tensor {
	if sdpa, ok := q.(ml.ScaledDotProductAttention); ok {
		return sdpa.ScaledDotProductAttention(ctx, k, v, mask, scale)
	}

	kq := q.Mulmat(ctx, k).Scale(ctx, scale)
	if mask != nil {
		kq = kq.Add(ctx, mask)
	}
	return kq.Softmax(ctx).Matmul(ctx, v)
}
