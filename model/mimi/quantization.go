package mimi

import (
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/ml/nn"
)

// EuclideanCodebook stores running cluster sums; the usable embedding is
// derived from them once the parameters are loaded.
type EuclideanCodebook struct {
	Initialized  ml.Tensor `tensor:"_initialized"`
	EmbeddingSum ml.Tensor `tensor:"embedding_sum"`
	ClusterUsage ml.Tensor `tensor:"cluster_usage"`

	dim, bins int
	epsilon   float32

	embedding ml.Tensor // [bins, dim]
	c2        ml.Tensor // [bins], |e|^2 / 2
}

func newEuclideanCodebook(dim, bins int) *EuclideanCodebook {
	return &EuclideanCodebook{dim: dim, bins: bins, epsilon: 1e-5}
}

func (cb *EuclideanCodebook) Shapes() map[string][]int {
	return map[string][]int{
		"_initialized":  {1},
		"embedding_sum": {cb.bins, cb.dim},
		"cluster_usage": {cb.bins},
	}
}

// InitParams gives random codebooks a unit usage count.
func (cb *EuclideanCodebook) InitParams(ctx ml.Context) {
	ones := make([]float32, cb.bins)
	for i := range ones {
		ones[i] = 1
	}
	cb.ClusterUsage = ctx.FromFloats(ones, cb.bins)
	cb.Initialized = ctx.FromFloats([]float32{1}, 1)
}

// Update recomputes the normalised embedding and its half squared norms.
func (cb *EuclideanCodebook) Update(ctx ml.Context) error {
	usage := cb.ClusterUsage.Floats()
	clamped := make([]float32, len(usage))
	for i, u := range usage {
		clamped[i] = max(u, cb.epsilon)
	}

	cb.embedding = cb.EmbeddingSum.Div(ctx, ctx.FromFloats(clamped, cb.bins, 1))
	cb.c2 = cb.embedding.Sqr(ctx).SumRows(ctx).Scale(ctx, 0.5)
	ctx.Compute(cb.embedding, cb.c2)
	return nil
}

// Encode returns the index of the nearest entry for every vector along the
// last dimension of x.
func (cb *EuclideanCodebook) Encode(ctx ml.Context, x ml.Tensor) ml.Tensor {
	shape := x.Shape()
	flat := x.Reshape(ctx, -1, cb.dim)
	dist := flat.Mulmat(ctx, cb.embedding).Scale(ctx, -1).Add(ctx, cb.c2)
	return dist.Argmin(ctx).Reshape(ctx, shape[:len(shape)-1]...)
}

func (cb *EuclideanCodebook) Decode(ctx ml.Context, ids ml.Tensor) ml.Tensor {
	return cb.embedding.Rows(ctx, ids)
}

// Embedding returns the derived [bins, dim] codebook.
func (cb *EuclideanCodebook) Embedding() ml.Tensor { return cb.embedding }

type VectorQuantization struct {
	ProjectIn  *nn.Linear         `tensor:"project_in"`
	ProjectOut *nn.Linear         `tensor:"project_out"`
	Codebook   *EuclideanCodebook `tensor:"_codebook"`
}

func newVectorQuantization(dim, bins, codebookDim int) *VectorQuantization {
	vq := &VectorQuantization{Codebook: newEuclideanCodebook(codebookDim, bins)}
	if codebookDim != dim {
		vq.ProjectIn = nn.NewLinear(dim, codebookDim, true)
		vq.ProjectOut = nn.NewLinear(codebookDim, dim, true)
	}
	return vq
}

// Encode maps [B, C, T] to [B, T] indices.
func (vq *VectorQuantization) Encode(ctx ml.Context, x ml.Tensor) ml.Tensor {
	x = x.Permute(ctx, 0, 2, 1)
	if vq.ProjectIn != nil {
		x = vq.ProjectIn.Forward(ctx, x)
	}
	return vq.Codebook.Encode(ctx, x)
}

// Decode maps [B, T] indices to [B, C, T].
func (vq *VectorQuantization) Decode(ctx ml.Context, ids ml.Tensor) ml.Tensor {
	q := vq.Codebook.Decode(ctx, ids)
	if vq.ProjectOut != nil {
		q = vq.ProjectOut.Forward(ctx, q)
	}
	return q.Permute(ctx, 0, 2, 1)
}

// ResidualVectorQuantization quantizes what the previous stages left over.
type ResidualVectorQuantization struct {
	Layers []*VectorQuantization `tensor:"layers"`
}

// Encode returns [nQ, B, T] indices.
func (r *ResidualVectorQuantization) Encode(ctx ml.Context, x ml.Tensor) ml.Tensor {
	var codes ml.Tensor
	residual := x
	for _, l := range r.Layers {
		ids := l.Encode(ctx, residual)
		residual = residual.Sub(ctx, l.Decode(ctx, ids))

		ids = ids.Reshape(ctx, append([]int{1}, ids.Shape()...)...)
		if codes == nil {
			codes = ids
		} else {
			codes = codes.Concat(ctx, ids, 0)
		}
	}
	return codes
}

// Decode sums the stage embeddings of [nQ, B, T] indices.
func (r *ResidualVectorQuantization) Decode(ctx ml.Context, codes ml.Tensor) ml.Tensor {
	b, t := codes.Dim(1), codes.Dim(2)
	var q ml.Tensor
	for i, l := range r.Layers {
		stage := l.Decode(ctx, codes.Slice(ctx, 0, i, i+1).Reshape(ctx, b, t))
		if q == nil {
			q = stage
		} else {
			q = q.Add(ctx, stage)
		}
	}
	return q
}

type ResidualVectorQuantizer struct {
	VQ         *ResidualVectorQuantization `tensor:"vq"`
	InputProj  *nn.Conv1d                  `tensor:"input_proj"`
	OutputProj *nn.Conv1d                  `tensor:"output_proj"`
}

func newResidualVectorQuantizer(dim, inputDim, outputDim, nQ, bins int, forceProjection bool) *ResidualVectorQuantizer {
	q := &ResidualVectorQuantizer{VQ: &ResidualVectorQuantization{}}
	for range nQ {
		q.VQ.Layers = append(q.VQ.Layers, newVectorQuantization(dim, bins, dim))
	}
	if inputDim != dim || forceProjection {
		q.InputProj = nn.NewConv1d(inputDim, dim, 1, 1, 1, 1, false)
	}
	if outputDim != dim || forceProjection {
		q.OutputProj = nn.NewConv1d(dim, outputDim, 1, 1, 1, 1, false)
	}
	return q
}

// Encode maps [B, C, T] to [B, nQ, T] indices.
func (q *ResidualVectorQuantizer) Encode(ctx ml.Context, x ml.Tensor) ml.Tensor {
	if q.InputProj != nil {
		x = q.InputProj.Forward(ctx, x)
	}
	return q.VQ.Encode(ctx, x).Permute(ctx, 1, 0, 2)
}

func (q *ResidualVectorQuantizer) Decode(ctx ml.Context, codes ml.Tensor) ml.Tensor {
	x := q.VQ.Decode(ctx, codes.Permute(ctx, 1, 0, 2))
	if q.OutputProj != nil {
		x = q.OutputProj.Forward(ctx, x)
	}
	return x
}

// SplitRVQ encodes the coarse first codebook and the remaining ones with
// separate quantizers fed from the same latent.
type SplitRVQ struct {
	First *ResidualVectorQuantizer `tensor:"rvq_first"`
	Rest  *ResidualVectorQuantizer `tensor:"rvq_rest"`

	nQ int
}

func NewSplitRVQ(dim, inputDim, outputDim, nQ, bins int) *SplitRVQ {
	return &SplitRVQ{
		First: newResidualVectorQuantizer(dim, inputDim, outputDim, 1, bins, true),
		Rest:  newResidualVectorQuantizer(dim, inputDim, outputDim, nQ-1, bins, true),
		nQ:    nQ,
	}
}

// Encode maps [B, C, T] to [B, nQ, T] indices.
func (s *SplitRVQ) Encode(ctx ml.Context, x ml.Tensor) ml.Tensor {
	codes := s.First.Encode(ctx, x)
	if s.nQ > 1 {
		codes = codes.Concat(ctx, s.Rest.Encode(ctx, x), 1)
	}
	return codes
}

func (s *SplitRVQ) Decode(ctx ml.Context, codes ml.Tensor) ml.Tensor {
	n := codes.Dim(1)
	q := s.First.Decode(ctx, codes.Slice(ctx, 1, 0, 1))
	if s.nQ > 1 {
		q = q.Add(ctx, s.Rest.Decode(ctx, codes.Slice(ctx, 1, 1, n)))
	}
	return q
}

func (s *SplitRVQ) NumCodebooks() int { return s.nQ }
