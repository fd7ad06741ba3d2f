package kvcache

import (
	"fmt"

	"github.com/moshigo/moshi/ml"
)

// Rotating keeps the last maxSize time steps in a ring buffer. Offset keeps
// counting past maxSize; older entries are overwritten and unreachable.
type Rotating struct {
	keys, values ml.Tensor
	offset       int
	maxSize      int
}

func NewRotating(maxSize int) *Rotating {
	if maxSize <= 0 {
		panic(fmt.Errorf("kvcache: rotating cache needs a positive size, got %d", maxSize))
	}
	return &Rotating{maxSize: maxSize}
}

func (c *Rotating) Offset() int { return c.offset }

func (c *Rotating) MaxSize() int { return c.maxSize }

// Reset drops the ring buffer; the next Update allocates a fresh one.
func (c *Rotating) Reset() {
	c.offset = 0
	c.keys, c.values = nil, nil
}

// Update returns the whole ring buffer; Mask hides the slots that are not
// yet written or lie in the future.
func (c *Rotating) Update(ctx ml.Context, keys, values ml.Tensor) (ml.Tensor, ml.Tensor) {
	t := keys.Dim(2)
	if t > c.maxSize {
		panic(fmt.Errorf("kvcache: query to update with shape %v larger than maxSize %d", keys.Shape(), c.maxSize))
	}

	if c.keys == nil {
		c.keys = ctx.Zeros(ml.DTypeF32, keys.Dim(0), keys.Dim(1), c.maxSize, keys.Dim(3))
		c.values = ctx.Zeros(ml.DTypeF32, values.Dim(0), values.Dim(1), c.maxSize, values.Dim(3))
	}

	pos := c.offset % c.maxSize
	first := min(t, c.maxSize-pos)
	if first == t {
		c.keys.SetSlice(ctx, 2, pos, keys)
		c.values.SetSlice(ctx, 2, pos, values)
	} else {
		c.keys.SetSlice(ctx, 2, pos, keys.Slice(ctx, 2, 0, first))
		c.values.SetSlice(ctx, 2, pos, values.Slice(ctx, 2, 0, first))
		c.keys.SetSlice(ctx, 2, 0, keys.Slice(ctx, 2, first, t))
		c.values.SetSlice(ctx, 2, 0, values.Slice(ctx, 2, first, t))
	}

	c.offset += t
	return c.keys, c.values
}

// Mask has shape [t, maxSize]. Slot i holds the position rinds[i]; slots
// not yet written get finalOffset+1 so they stay hidden from every query.
func (c *Rotating) Mask(ctx ml.Context, t int) ml.Tensor {
	finalOffset := c.offset + t
	mod := finalOffset % c.maxSize

	rinds := make([]int, c.maxSize)
	for i := range rinds {
		switch {
		case i < mod:
			rinds[i] = finalOffset + i - mod
		case mod != finalOffset:
			rinds[i] = finalOffset + i - mod - c.maxSize
		default:
			rinds[i] = finalOffset + 1
		}
	}
	return causalMask(ctx, positions(c.offset, t), rinds)
}
