package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/d4l3k/go-bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/moshigo/moshi/ml/backend/cpu"
	"github.com/moshigo/moshi/ml/nn"
	"github.com/moshigo/moshi/model"
)

type fixture struct {
	name  string
	dtype string
	shape []int
	data  []byte
}

func f32(vs ...float32) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, vs)
	return b.Bytes()
}

func f16(vs ...float32) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(b[2*i:], float16.Fromfloat32(v).Bits())
	}
	return b
}

// write builds a file by hand; the header is written in fixture order.
func write(t *testing.T, fixtures ...fixture) string {
	t.Helper()

	var header bytes.Buffer
	var data bytes.Buffer
	header.WriteString(`{"__metadata__":{"format":"pt"}`)
	for _, f := range fixtures {
		begin := data.Len()
		data.Write(f.data)
		info, err := json.Marshal(TensorInfo{DType: f.dtype, Shape: f.shape, Offsets: [2]int64{int64(begin), int64(data.Len())}})
		require.NoError(t, err)
		header.WriteString(`,"` + f.name + `":`)
		header.Write(info)
	}
	header.WriteString("}")

	var out bytes.Buffer
	require.NoError(t, binary.Write(&out, binary.LittleEndian, int64(header.Len())))
	out.Write(header.Bytes())
	out.Write(data.Bytes())

	path := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

func TestOpen(t *testing.T) {
	path := write(t,
		fixture{"z.weight", "F32", []int{2, 2}, f32(1, 2, 3, 4)},
		fixture{"a.bias", "F16", []int{3}, f16(0.5, -1, 2)},
		fixture{"m.scale", "BF16", []int{2}, bfloat16.EncodeFloat32([]float32{1.5, -4})},
		fixture{"scalar", "F32", []int{}, f32(7)},
	)

	st, err := Open(path)
	require.NoError(t, err)
	defer st.Close()

	assert.Equal(t, []string{"z.weight", "a.bias", "m.scale", "scalar"}, st.Keys())
	assert.Equal(t, map[string]string{"format": "pt"}, st.Metadata())

	data, shape, err := st.Floats("z.weight")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, shape)
	assert.Equal(t, []float32{1, 2, 3, 4}, data)

	data, _, err = st.Floats("a.bias")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 2}, data)

	data, _, err = st.Floats("m.scale")
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -4}, data)

	ctx := cpu.NewContext()
	s, err := st.Get(ctx, "scalar")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, s.Shape())
	assert.Equal(t, []float32{7}, s.Floats())

	_, err = st.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrMissingTensor)
}

func TestInvalidHeader(t *testing.T) {
	dir := t.TempDir()
	cases := map[string][]byte{
		"zu kurz":     {1, 2},
		"zu lang":     append(binary.LittleEndian.AppendUint64(nil, 1<<40), '{', '}'),
		"kein json":   append(binary.LittleEndian.AppendUint64(nil, 3), 'a', 'b', 'c'),
		"kein objekt": append(binary.LittleEndian.AppendUint64(nil, 2), '[', ']'),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, b, 0o644))
			_, err := Open(path)
			assert.ErrorIs(t, err, ErrInvalidHeader)
		})
	}
}

func TestBadOffsets(t *testing.T) {
	path := write(t, fixture{"w", "F32", []int{3}, f32(1, 2)})
	_, err := Open(path)
	assert.ErrorIs(t, err, ErrInvalidHeader)

	path = write(t, fixture{"w", "I8", []int{2}, []byte{1, 2}})
	_, err = Open(path)
	assert.ErrorContains(t, err, "unsupported dtype")
}

func TestPopulateFromFile(t *testing.T) {
	path := write(t,
		fixture{"proj.weight", "F32", []int{1, 2}, f32(3, 4)},
		fixture{"proj.bias", "F16", []int{1}, f16(0.5)},
	)
	st, err := Open(path)
	require.NoError(t, err)
	defer st.Close()

	m := &struct {
		Proj *nn.Linear `tensor:"proj"`
	}{Proj: nn.NewLinear(2, 1, true)}

	ctx := cpu.NewContext()
	require.NoError(t, model.Populate(ctx, st, m))

	x := ctx.FromFloats([]float32{1, 1}, 1, 2)
	y := m.Proj.Forward(ctx, x)
	ctx.Compute(y)
	assert.InDelta(t, 7.5, y.Floats()[0], 1e-6)
}
