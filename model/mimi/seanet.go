package mimi

import (
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/streaming"
)

type SeanetConfig struct {
	Dimension          int
	Channels           int
	Causal             bool
	NFilters           int
	NResidualLayers    int
	Ratios             []int
	KernelSize         int
	ResidualKernelSize int
	LastKernelSize     int
	DilationBase       int
	PadMode            ml.PadMode
	TrueSkip           bool
	Compress           int
}

func SeanetV0_1() SeanetConfig {
	return SeanetConfig{
		Dimension:          512,
		Channels:           1,
		Causal:             true,
		NFilters:           64,
		NResidualLayers:    1,
		Ratios:             []int{8, 6, 5, 4},
		KernelSize:         7,
		ResidualKernelSize: 3,
		LastKernelSize:     3,
		DilationBase:       2,
		PadMode:            ml.PadConstant,
		TrueSkip:           true,
		Compress:           2,
	}
}

// hopLength is the number of samples per encoder frame.
func (c SeanetConfig) hopLength() int {
	n := 1
	for _, r := range c.Ratios {
		n *= r
	}
	return n
}

// ResnetBlock adds a dilated convolution branch to its input.
type ResnetBlock struct {
	Block    []*Conv1d `tensor:"block"`
	Shortcut *Conv1d   `tensor:"shortcut"`

	skip *streaming.BinOp
}

type kernelDilation struct{ kernel, dilation int }

func newResnetBlock(cfg SeanetConfig, dim int, convs []kernelDilation) *ResnetBlock {
	b := &ResnetBlock{skip: streaming.NewBinOp(streaming.OpAdd, timeDim)}
	hidden := dim / cfg.Compress
	for i, kd := range convs {
		inC, outC := hidden, hidden
		if i == 0 {
			inC = dim
		}
		if i == len(convs)-1 {
			outC = dim
		}
		b.Block = append(b.Block, NewConv1d(inC, outC, kd.kernel, 1, kd.dilation, 1, true, cfg.Causal, cfg.PadMode))
	}
	if !cfg.TrueSkip {
		b.Shortcut = NewConv1d(dim, dim, 1, 1, 1, 1, true, cfg.Causal, cfg.PadMode)
	}
	return b
}

func (b *ResnetBlock) Forward(ctx ml.Context, x ml.Tensor) ml.Tensor {
	residual := x
	for _, c := range b.Block {
		x = c.Forward(ctx, x.ELU(ctx, 1))
	}
	if b.Shortcut != nil {
		residual = b.Shortcut.Forward(ctx, residual)
	}
	return x.Add(ctx, residual)
}

func (b *ResnetBlock) ResetState() {
	b.skip.ResetState()
	for _, c := range b.Block {
		c.ResetState()
	}
	if b.Shortcut != nil {
		b.Shortcut.ResetState()
	}
}

func (b *ResnetBlock) Step(ctx ml.Context, x streaming.Value) streaming.Value {
	residual := x
	for _, c := range b.Block {
		x = c.Step(ctx, x.ELU(ctx))
	}
	if b.Shortcut != nil {
		residual = b.Shortcut.Step(ctx, residual)
	}
	return b.skip.Step(ctx, x, residual)
}

func newResiduals(cfg SeanetConfig, dim int) []*ResnetBlock {
	var blocks []*ResnetBlock
	dilation := 1
	for range cfg.NResidualLayers {
		blocks = append(blocks, newResnetBlock(cfg, dim, []kernelDilation{
			{cfg.ResidualKernelSize, dilation},
			{1, 1},
		}))
		dilation *= cfg.DilationBase
	}
	return blocks
}

type EncoderLayer struct {
	Residuals  []*ResnetBlock `tensor:"residuals"`
	Downsample *Conv1d        `tensor:"downsample"`
}

func newEncoderLayer(cfg SeanetConfig, ratio, mult int) *EncoderLayer {
	dim := mult * cfg.NFilters
	return &EncoderLayer{
		Residuals:  newResiduals(cfg, dim),
		Downsample: NewConv1d(dim, 2*dim, 2*ratio, ratio, 1, 1, true, true, cfg.PadMode),
	}
}

func (l *EncoderLayer) Forward(ctx ml.Context, x ml.Tensor) ml.Tensor {
	for _, r := range l.Residuals {
		x = r.Forward(ctx, x)
	}
	return l.Downsample.Forward(ctx, x.ELU(ctx, 1))
}

func (l *EncoderLayer) ResetState() {
	for _, r := range l.Residuals {
		r.ResetState()
	}
	l.Downsample.ResetState()
}

func (l *EncoderLayer) Step(ctx ml.Context, x streaming.Value) streaming.Value {
	for _, r := range l.Residuals {
		x = r.Step(ctx, x)
	}
	return l.Downsample.Step(ctx, x.ELU(ctx))
}

// SeanetEncoder maps [B, Channels, T] audio to [B, Dimension, T/hop].
type SeanetEncoder struct {
	InitConv  *Conv1d         `tensor:"init_conv1d"`
	Layers    []*EncoderLayer `tensor:"layers"`
	FinalConv *Conv1d         `tensor:"final_conv1d"`
}

func NewSeanetEncoder(cfg SeanetConfig) *SeanetEncoder {
	mult := 1
	e := &SeanetEncoder{
		InitConv: NewConv1d(cfg.Channels, mult*cfg.NFilters, cfg.KernelSize, 1, 1, 1, true, cfg.Causal, cfg.PadMode),
	}
	for i := len(cfg.Ratios) - 1; i >= 0; i-- {
		e.Layers = append(e.Layers, newEncoderLayer(cfg, cfg.Ratios[i], mult))
		mult *= 2
	}
	e.FinalConv = NewConv1d(mult*cfg.NFilters, cfg.Dimension, cfg.LastKernelSize, 1, 1, 1, true, cfg.Causal, cfg.PadMode)
	return e
}

func (e *SeanetEncoder) Forward(ctx ml.Context, x ml.Tensor) ml.Tensor {
	x = e.InitConv.Forward(ctx, x)
	for _, l := range e.Layers {
		x = l.Forward(ctx, x)
	}
	return e.FinalConv.Forward(ctx, x.ELU(ctx, 1))
}

func (e *SeanetEncoder) ResetState() {
	e.InitConv.ResetState()
	e.FinalConv.ResetState()
	for _, l := range e.Layers {
		l.ResetState()
	}
}

func (e *SeanetEncoder) Step(ctx ml.Context, x streaming.Value) streaming.Value {
	x = e.InitConv.Step(ctx, x)
	for _, l := range e.Layers {
		x = l.Step(ctx, x)
	}
	return e.FinalConv.Step(ctx, x.ELU(ctx))
}

type DecoderLayer struct {
	Upsample  *ConvTranspose1d `tensor:"upsample"`
	Residuals []*ResnetBlock   `tensor:"residuals"`
}

func newDecoderLayer(cfg SeanetConfig, ratio, mult int) *DecoderLayer {
	dim := mult * cfg.NFilters
	return &DecoderLayer{
		Upsample:  NewConvTranspose1d(dim, dim/2, 2*ratio, ratio, 1, true, cfg.Causal),
		Residuals: newResiduals(cfg, dim/2),
	}
}

func (l *DecoderLayer) Forward(ctx ml.Context, x ml.Tensor) ml.Tensor {
	x = l.Upsample.Forward(ctx, x.ELU(ctx, 1))
	for _, r := range l.Residuals {
		x = r.Forward(ctx, x)
	}
	return x
}

func (l *DecoderLayer) ResetState() {
	l.Upsample.ResetState()
	for _, r := range l.Residuals {
		r.ResetState()
	}
}

func (l *DecoderLayer) Step(ctx ml.Context, x streaming.Value) streaming.Value {
	x = l.Upsample.Step(ctx, x.ELU(ctx))
	for _, r := range l.Residuals {
		x = r.Step(ctx, x)
	}
	return x
}

// SeanetDecoder maps [B, Dimension, T] latents back to audio.
type SeanetDecoder struct {
	InitConv  *Conv1d         `tensor:"init_conv1d"`
	Layers    []*DecoderLayer `tensor:"layers"`
	FinalConv *Conv1d         `tensor:"final_conv1d"`
}

func NewSeanetDecoder(cfg SeanetConfig) *SeanetDecoder {
	mult := 1 << len(cfg.Ratios)
	d := &SeanetDecoder{
		InitConv: NewConv1d(cfg.Dimension, mult*cfg.NFilters, cfg.KernelSize, 1, 1, 1, true, cfg.Causal, cfg.PadMode),
	}
	for _, ratio := range cfg.Ratios {
		d.Layers = append(d.Layers, newDecoderLayer(cfg, ratio, mult))
		mult /= 2
	}
	d.FinalConv = NewConv1d(cfg.NFilters, cfg.Channels, cfg.LastKernelSize, 1, 1, 1, true, cfg.Causal, cfg.PadMode)
	return d
}

func (d *SeanetDecoder) Forward(ctx ml.Context, x ml.Tensor) ml.Tensor {
	x = d.InitConv.Forward(ctx, x)
	for _, l := range d.Layers {
		x = l.Forward(ctx, x)
	}
	return d.FinalConv.Forward(ctx, x.ELU(ctx, 1))
}

func (d *SeanetDecoder) ResetState() {
	d.InitConv.ResetState()
	d.FinalConv.ResetState()
	for _, l := range d.Layers {
		l.ResetState()
	}
}

func (d *SeanetDecoder) Step(ctx ml.Context, x streaming.Value) streaming.Value {
	x = d.InitConv.Step(ctx, x)
	for _, l := range d.Layers {
		x = l.Step(ctx, x)
	}
	return d.FinalConv.Step(ctx, x.ELU(ctx))
}
