package ml_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/ml/backend/cpu"
)

func TestDump(t *testing.T) {
	ctx := cpu.NewContext()

	t.Run("Matrix", func(t *testing.T) {
		x := ctx.FromFloats([]float32{1, 2, 3, -4, 5, 6}, 2, 3)
		assert.Equal(t, "[[ 1.0,  2.0,  3.0],\n [-4.0,  5.0,  6.0]]", ml.Dump(ctx, x, ml.DumpWithPrecision(1)))
	})

	t.Run("gekuerzt", func(t *testing.T) {
		x := ctx.FromInts([]int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 10)
		got := ml.Dump(ctx, x, ml.DumpWithThreshold(4), ml.DumpWithEdgeItems(2))
		assert.Equal(t, "[ 0,  1, ...,  8,  9]", got)
	})

	t.Run("LogValue", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		logger.Info("x", "t", ml.DumpValue(ctx, ctx.FromInts([]int32{7}, 1)))
		assert.Contains(t, buf.String(), `t="[ 7]"`)
	})
}
