package kvcache

import (
	"github.com/moshigo/moshi/logutil"
	"github.com/moshigo/moshi/ml"
)

// Simple grows its buffers in blocks of step time steps and never forgets.
type Simple struct {
	keys, values ml.Tensor
	offset       int
	step         int
}

func NewSimple() *Simple {
	return &Simple{step: 256}
}

func (c *Simple) Offset() int { return c.offset }

func (c *Simple) Reset() {
	c.keys, c.values = nil, nil
	c.offset = 0
}

func (c *Simple) capacity() int {
	if c.keys == nil {
		return 0
	}
	return c.keys.Dim(2)
}

func (c *Simple) Update(ctx ml.Context, keys, values ml.Tensor) (ml.Tensor, ml.Tensor) {
	previous := c.offset
	t := keys.Dim(2)

	if c.keys == nil || previous+t > c.capacity() {
		nSteps := (c.step + t - 1) / c.step
		newKeys := ctx.Zeros(ml.DTypeF32, keys.Dim(0), keys.Dim(1), nSteps*c.step, keys.Dim(3))
		newValues := ctx.Zeros(ml.DTypeF32, values.Dim(0), values.Dim(1), nSteps*c.step, values.Dim(3))

		if c.keys != nil {
			// unbenutzte Kapazitaet hinter previous verwerfen
			if previous%c.step != 0 {
				c.keys = c.keys.Slice(ctx, 2, 0, previous)
				c.values = c.values.Slice(ctx, 2, 0, previous)
			}
			c.keys = c.keys.Concat(ctx, newKeys, 2)
			c.values = c.values.Concat(ctx, newValues, 2)
		} else {
			c.keys, c.values = newKeys, newValues
		}
		logutil.Trace("kv cache grown", "offset", previous, "capacity", c.capacity())
	}

	c.offset += t
	c.keys.SetSlice(ctx, 2, previous, keys)
	c.values.SetSlice(ctx, 2, previous, values)
	return c.keys.Slice(ctx, 2, 0, c.offset), c.values.Slice(ctx, 2, 0, c.offset)
}

// Mask is nil for single step queries, which may see every cached key.
func (c *Simple) Mask(ctx ml.Context, t int) ml.Tensor {
	if t <= 1 {
		return nil
	}
	return causalMask(ctx, positions(c.offset, t), positions(0, c.offset+t))
}
