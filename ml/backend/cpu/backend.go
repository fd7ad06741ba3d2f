// Package cpu - reines Go Backend fuer Tensor-Operationen
//
// Dieses Modul enthaelt:
// - Backend: Registrierung unter dem Namen "cpu"
// - Context: Tensor-Erzeugung und Synchronisationspunkt
// - parallel: begrenzte Parallelisierung ueber errgroup
package cpu

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/moshigo/moshi/ml"
)

func init() {
	ml.RegisterBackend("cpu", New)
}

// Backend evaluates every operation eagerly on float32 slices.
type Backend struct {
	threads int
}

// New creates a cpu backend
func New(params ml.BackendParams) (ml.Backend, error) {
	threads := params.NumThreads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	return &Backend{threads: threads}, nil
}

func (b *Backend) Name() string { return "cpu" }

func (b *Backend) NewContext() ml.Context {
	return &Context{threads: b.threads}
}

func (b *Backend) Close() {}

// Context creates tensors for the cpu backend. Since evaluation is eager,
// Compute only marks the synchronisation point.
type Context struct {
	threads int
}

// NewContext returns a standalone context, mostly useful in tests.
func NewContext() *Context {
	return &Context{threads: runtime.GOMAXPROCS(0)}
}

func (c *Context) Zeros(dtype ml.DType, shape ...int) ml.Tensor {
	n := numel(shape)
	switch dtype {
	case ml.DTypeI32:
		return &Tensor{shape: cloneShape(shape), dtype: ml.DTypeI32, ints: make([]int32, n)}
	case ml.DTypeF32:
		return &Tensor{shape: cloneShape(shape), dtype: ml.DTypeF32, data: make([]float32, n)}
	default:
		panic(fmt.Errorf("cpu: unsupported dtype %v", dtype))
	}
}

func (c *Context) FromFloats(s []float32, shape ...int) ml.Tensor {
	if n := numel(shape); n != len(s) {
		panic(fmt.Errorf("cpu: %d values do not fit shape %v", len(s), shape))
	}
	return &Tensor{shape: cloneShape(shape), dtype: ml.DTypeF32, data: s}
}

func (c *Context) FromInts(s []int32, shape ...int) ml.Tensor {
	if n := numel(shape); n != len(s) {
		panic(fmt.Errorf("cpu: %d values do not fit shape %v", len(s), shape))
	}
	return &Tensor{shape: cloneShape(shape), dtype: ml.DTypeI32, ints: s}
}

func (c *Context) Compute(...ml.Tensor) {}

func (c *Context) Close() {}

func threadsOf(ctx ml.Context) int {
	if c, ok := ctx.(*Context); ok && c.threads > 0 {
		return c.threads
	}
	return runtime.GOMAXPROCS(0)
}

// parallel runs fn for every i in [0, n) on at most the context's thread
// count goroutines.
func parallel(ctx ml.Context, n int, fn func(i int)) {
	threads := threadsOf(ctx)
	if n <= 1 || threads <= 1 {
		for i := range n {
			fn(i)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(threads)
	for i := range n {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}
