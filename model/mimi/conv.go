// Package mimi - Mimi Audio-Codec (SEANet + Transformer + Split-RVQ)
//
// Dieses Paket enthaelt:
// - Conv1d, ConvTranspose1d: kausale Faltungen, offline oder chunkweise
// - Downsample, Upsample: Wechsel zwischen Encoder- und Codec-Bildrate
// - SeanetEncoder, SeanetDecoder: Faltungsstapel mit Residual-Bloecken
// - SplitRVQ: residuale Vektorquantisierung mit getrenntem ersten Codebuch
// - Mimi: PCM <-> Audio-Tokens, offline (Encode/Decode) und streamend
//
// Streaming-Ausgaben sind Praefixe der Offline-Ausgaben derselben Eingabe.
package mimi

import (
	"math"

	"github.com/moshigo/moshi/logutil"
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/ml/nn"
	"github.com/moshigo/moshi/streaming"
)

// timeDim is the time axis of [B, C, T] tensors.
const timeDim = 2

// NormConv1d wraps the convolution weights. Weight normalisation is folded
// into the weights when they are exported.
type NormConv1d struct {
	Conv *nn.Conv1d `tensor:"conv"`
}

type NormConvTranspose1d struct {
	ConvTr *nn.ConvTranspose1d `tensor:"convtr"`
}

// extraPadding returns how many steps must be appended so the last window
// of a length-n input is complete.
func extraPadding(n, kernel, stride, paddingTotal int) int {
	frames := float64(max(n+paddingTotal-kernel, 0))/float64(stride) + 1
	ideal := (int(math.Ceil(frames))-1)*stride + kernel - paddingTotal
	return max(0, ideal-n)
}

// Conv1d is a padded convolution that can run over a whole sequence or
// chunk by chunk, keeping the unconsumed tail between chunks.
type Conv1d struct {
	Conv *NormConv1d `tensor:"conv"`

	causal  bool
	padMode ml.PadMode
	kernel  int

	leftPadApplied bool
	prev           streaming.Value
}

func NewConv1d(inC, outC, kernel, stride, dilation, groups int, bias, causal bool, padMode ml.PadMode) *Conv1d {
	return &Conv1d{
		Conv:    &NormConv1d{Conv: nn.NewConv1d(inC, outC, kernel, stride, dilation, groups, bias)},
		causal:  causal,
		padMode: padMode,
		kernel:  kernel,
	}
}

func (c *Conv1d) stride() int { return c.Conv.Conv.Stride }

// effectiveKernel accounts for dilation.
func (c *Conv1d) effectiveKernel() int {
	return (c.kernel-1)*c.Conv.Conv.Dilation + 1
}

func (c *Conv1d) Forward(ctx ml.Context, x ml.Tensor) ml.Tensor {
	kernel, stride := c.effectiveKernel(), c.stride()
	paddingTotal := kernel - stride
	extra := extraPadding(x.Dim(timeDim), kernel, stride, paddingTotal)

	if c.causal {
		x = x.Pad(ctx, timeDim, paddingTotal, extra, c.padMode)
	} else {
		right := paddingTotal / 2
		left := paddingTotal - right
		x = x.Pad(ctx, timeDim, left, right+extra, c.padMode)
	}
	return c.Conv.Conv.Forward(ctx, x)
}

func (c *Conv1d) ResetState() {
	c.prev = streaming.Empty()
	c.leftPadApplied = false
}

func (c *Conv1d) Step(ctx ml.Context, v streaming.Value) streaming.Value {
	x, ok := v.Tensor()
	if !ok || x.Dim(timeDim) == 0 {
		return streaming.Empty()
	}

	kernel, stride := c.effectiveKernel(), c.stride()
	if !c.leftPadApplied {
		c.leftPadApplied = true
		x = x.Pad(ctx, timeDim, kernel-stride, 0, c.padMode)
	}

	v = streaming.Cat(ctx, timeDim, c.prev, streaming.Some(x))
	seqLen := v.Dim(timeDim)
	frames := max(seqLen+stride-kernel, 0) / stride
	if frames == 0 {
		c.prev = v
		return streaming.Empty()
	}

	offset := frames * stride
	c.prev = v.Narrow(ctx, timeDim, offset, seqLen-offset)
	logutil.Trace("conv step", "frames", frames, "buffered", seqLen-offset)

	v = v.Narrow(ctx, timeDim, 0, (frames-1)*stride+kernel)
	return v.Map(func(t ml.Tensor) ml.Tensor { return c.Conv.Conv.Forward(ctx, t) })
}

// ConvTranspose1d overlap-adds consecutive chunks and only emits steps no
// later chunk can change.
type ConvTranspose1d struct {
	ConvTr *NormConvTranspose1d `tensor:"convtr"`

	causal bool
	kernel int

	prev streaming.Value
}

func NewConvTranspose1d(inC, outC, kernel, stride, groups int, bias, causal bool) *ConvTranspose1d {
	return &ConvTranspose1d{
		ConvTr: &NormConvTranspose1d{ConvTr: nn.NewConvTranspose1d(inC, outC, kernel, stride, groups, bias)},
		causal: causal,
		kernel: kernel,
	}
}

func (c *ConvTranspose1d) stride() int { return c.ConvTr.ConvTr.Stride }

func (c *ConvTranspose1d) Forward(ctx ml.Context, x ml.Tensor) ml.Tensor {
	paddingTotal := max(c.kernel-c.stride(), 0)
	y := c.ConvTr.ConvTr.Forward(ctx, x)
	n := y.Dim(timeDim)
	if c.causal {
		return y.Slice(ctx, timeDim, 0, n-paddingTotal)
	}

	right := paddingTotal / 2
	left := paddingTotal - right
	return y.Slice(ctx, timeDim, left, n-right)
}

func (c *ConvTranspose1d) ResetState() {
	c.prev = streaming.Empty()
}

func (c *ConvTranspose1d) Step(ctx ml.Context, v streaming.Value) streaming.Value {
	x, ok := v.Tensor()
	if !ok {
		return streaming.Empty()
	}

	ys := c.ConvTr.ConvTr.Forward(ctx, x)
	ot := ys.Dim(timeDim)
	if prev, ok := c.prev.Tensor(); ok {
		pt := prev.Dim(timeDim)
		// der Bias steckt bereits in ys
		if bias := c.ConvTr.ConvTr.BiasColumn(ctx); bias != nil {
			prev = prev.Sub(ctx, bias)
		}
		head := ys.Slice(ctx, timeDim, 0, pt).Add(ctx, prev)
		if pt < ot {
			ys = head.Concat(ctx, ys.Slice(ctx, timeDim, pt, ot), timeDim)
		} else {
			ys = head
		}
	}

	out, prev := streaming.Some(ys).Split(ctx, timeDim, ot-(c.kernel-c.stride()))
	c.prev = prev
	return out
}

// Downsample halves the frame rate of the codec latent with an edge padded
// strided convolution.
type Downsample struct {
	Conv *Conv1d `tensor:"conv"`
}

func NewDownsample(stride, dim int, causal bool) *Downsample {
	return &Downsample{Conv: NewConv1d(dim, dim, 2*stride, stride, 1, 1, false, causal, ml.PadEdge)}
}

func (d *Downsample) Forward(ctx ml.Context, x ml.Tensor) ml.Tensor { return d.Conv.Forward(ctx, x) }

func (d *Downsample) Step(ctx ml.Context, v streaming.Value) streaming.Value {
	return d.Conv.Step(ctx, v)
}

func (d *Downsample) ResetState() { d.Conv.ResetState() }

// Upsample is the depthwise transposed counterpart of Downsample.
type Upsample struct {
	ConvTr *ConvTranspose1d `tensor:"convtr"`
}

func NewUpsample(stride, dim int, causal bool) *Upsample {
	return &Upsample{ConvTr: NewConvTranspose1d(dim, dim, 2*stride, stride, dim, false, causal)}
}

func (u *Upsample) Forward(ctx ml.Context, x ml.Tensor) ml.Tensor { return u.ConvTr.Forward(ctx, x) }

func (u *Upsample) Step(ctx ml.Context, v streaming.Value) streaming.Value {
	return u.ConvTr.Step(ctx, v)
}

func (u *Upsample) ResetState() { u.ConvTr.ResetState() }
