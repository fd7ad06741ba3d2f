package lm

import (
	"github.com/moshigo/moshi/kvcache"
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/ml/nn"
	"github.com/moshigo/moshi/sample"
	"github.com/moshigo/moshi/transformer"
)

type DepformerSlice struct {
	Emb         *nn.Embedding            `tensor:"emb"`
	LinearIn    *nn.Linear               `tensor:"linear_in"`
	LinearOut   *nn.Linear               `tensor:"linear_out"`
	Transformer *transformer.Transformer `tensor:"transformer"`
}

// Depformer predicts the audio tokens of one step, one codebook per slice.
// All slices share one set of caches so that slice i attends to slices < i.
type Depformer struct {
	Slices []*DepformerSlice `tensor:"slices"`

	cfg    Config
	caches []kvcache.Cache
}

func newDepformer(cfg Config) *Depformer {
	dc := cfg.Depformer
	d := &Depformer{cfg: cfg}
	for i := range dc.NumSlices {
		inVocab := cfg.AudioVocabSize
		if i == 0 {
			inVocab = cfg.TextInVocabSize
		}
		d.Slices = append(d.Slices, &DepformerSlice{
			Emb:         nn.NewEmbedding(inVocab, dc.Transformer.DModel),
			LinearIn:    nn.NewLinear(cfg.Transformer.DModel, dc.Transformer.DModel, false),
			LinearOut:   nn.NewLinear(dc.Transformer.DModel, cfg.AudioVocabSize-1, false),
			Transformer: transformer.New(dc.Transformer),
		})
	}
	d.caches = d.Slices[0].Transformer.NewCaches()
	return d
}

// Sample returns one token per slice. mainOut is the normalised [1, T, D]
// output of the main transformer; only its last step is used.
func (d *Depformer) Sample(ctx ml.Context, mainOut ml.Tensor, stepIdx int, sampler *sample.Sampler, textToken int32) []int32 {
	for _, c := range d.caches {
		c.Reset()
	}

	t := mainOut.Dim(1)
	last := mainOut.Slice(ctx, 1, t-1, t)

	token := textToken
	tokens := make([]int32, 0, len(d.Slices))
	for i, s := range d.Slices {
		if i != 0 && stepIdx < d.cfg.AudioDelays[i-1] {
			token = d.cfg.AudioPaddingToken()
		}

		xs := s.LinearIn.Forward(ctx, last).Add(ctx, s.Emb.Forward(ctx, ctx.FromInts([]int32{token}, 1, 1)))
		xs = s.Transformer.Forward(ctx, xs, d.caches)
		logits := s.LinearOut.Forward(ctx, xs)

		token = sampler.Sample(ctx, logits.Reshape(ctx, 1, logits.Dim(-1)))
		tokens = append(tokens, token)
	}
	return tokens
}
