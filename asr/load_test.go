package asr

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moshigo/moshi/huggingface"
	"github.com/moshigo/moshi/ml/backend/cpu"
	"github.com/moshigo/moshi/model"
	"github.com/moshigo/moshi/model/lm"
)

// writeF32 writes an F32 safetensors file with one tensor per inventory
// entry, filled with a small ramp.
func writeF32(t *testing.T, path string, infos []model.TensorInfo) {
	t.Helper()

	var header, data bytes.Buffer
	header.WriteString("{")
	for i, info := range infos {
		n := 1
		for _, d := range info.Shape {
			n *= d
		}
		values := make([]float32, n)
		for j := range values {
			values[j] = float32((i+j)%7-3) * 0.05
		}

		begin := data.Len()
		require.NoError(t, binary.Write(&data, binary.LittleEndian, values))
		shape, err := json.Marshal(info.Shape)
		require.NoError(t, err)
		if i > 0 {
			header.WriteString(",")
		}
		fmt.Fprintf(&header, `%q:{"dtype":"F32","shape":%s,"data_offsets":[%d,%d]}`, info.Name, shape, begin, data.Len())
	}
	header.WriteString("}")

	var out bytes.Buffer
	require.NoError(t, binary.Write(&out, binary.LittleEndian, int64(header.Len())))
	out.Write(header.Bytes())
	out.Write(data.Bytes())
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
}

func TestLoadLM(t *testing.T) {
	ctx := cpu.NewContext()
	cfg := tinyLM()
	infos, err := model.Inventory(lm.New(cfg))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.safetensors")
	writeF32(t, path, infos)

	m, err := LoadLM(ctx, cfg, path)
	require.NoError(t, err)

	logits := m.Forward(ctx, ctx.FromInts([]int32{1, 2}, 1, 2))
	ctx.Compute(logits)
	assert.Equal(t, []int{1, 2, cfg.TextOutVocabSize}, logits.Shape())

	t.Run("fehlender Tensor", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.safetensors")
		writeF32(t, path, infos[1:])
		_, err := LoadLM(ctx, cfg, path)
		assert.ErrorIs(t, err, model.ErrMissingTensor)
	})
}

func TestCodebookFilter(t *testing.T) {
	src := codebookFilter{
		RawSource: rawKeys{
			"quantizer.rvq_first.vq.layers.0._codebook.embedding_sum",
			"quantizer.rvq_rest.vq.layers.0._codebook.embedding_sum",
			"quantizer.rvq_rest.vq.layers.1._codebook.embedding_sum",
			"quantizer.rvq_rest.vq.layers.12._codebook.embedding_sum",
			"encoder.model.0.conv.conv.weight",
		},
		keep: 1,
	}
	assert.Equal(t, []string{
		"quantizer.rvq_first.vq.layers.0._codebook.embedding_sum",
		"quantizer.rvq_rest.vq.layers.0._codebook.embedding_sum",
		"encoder.model.0.conv.conv.weight",
	}, src.Keys())
}

type rawKeys []string

func (r rawKeys) Keys() []string { return r }

func (r rawKeys) Floats(name string) ([]float32, []int, error) {
	return nil, nil, fmt.Errorf("%w: %s", model.ErrMissingTensor, name)
}

func TestLoadErrors(t *testing.T) {
	ctx := cpu.NewContext()
	t.Setenv(huggingface.EnvHFHubCache, t.TempDir())
	t.Setenv("MOSHI_MODELS", "")

	_, err := Load(ctx, LoadConfig{Preset: "gibtsnicht", NumCodebooks: 32})
	assert.ErrorIs(t, err, model.ErrUnsupportedModel)

	_, err = Load(ctx, LoadConfig{Preset: "asr1b", NumCodebooks: 8})
	assert.ErrorIs(t, err, ErrCodebookMismatch)

	_, err = Load(ctx, LoadConfig{Preset: "asr1b", NumCodebooks: 32})
	assert.ErrorIs(t, err, huggingface.ErrModelNotInCache)
	assert.True(t, strings.Contains(err.Error(), huggingface.ModelFile))
}
