package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moshigo/moshi/api"
	"github.com/moshigo/moshi/asr"
)

func TestTranscriptDisplay(t *testing.T) {
	t.Run("ohne Terminal", func(t *testing.T) {
		var buf bytes.Buffer
		d := newTranscriptDisplay(&buf, 0)
		for _, p := range []string{" hallo", " welt", "!"} {
			d.Write(p)
		}
		d.Finish()

		assert.Equal(t, " hallo welt!\n", buf.String())
		assert.Equal(t, "hallo welt!", d.Transcript())
	})

	t.Run("Umbruch", func(t *testing.T) {
		var buf bytes.Buffer
		d := newTranscriptDisplay(&buf, 20)
		for _, p := range []string{" eins", " zwei", " drei", " vier"} {
			d.Write(p)
		}

		lines := strings.Split(buf.String(), "\n")
		require.Greater(t, len(lines), 1, "Text sollte umgebrochen werden")
		assert.Equal(t, "eins zwei drei vier", d.Transcript())
	})

	t.Run("leer", func(t *testing.T) {
		var buf bytes.Buffer
		d := newTranscriptDisplay(&buf, 80)
		d.Finish()
		assert.Empty(t, buf.String())
	})
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, asr.Summary{
		Encode:      asr.Phase{Min: time.Millisecond, Max: 3 * time.Millisecond, Sum: 4 * time.Millisecond, Count: 2},
		InputFrames: 2,
		TextTokens:  2,
	})

	out := buf.String()
	assert.Contains(t, out, "encode")
	assert.Contains(t, out, "2ms")
	assert.NotContains(t, out, "depformer", "leere Phasen werden ausgelassen")
	assert.Contains(t, out, "frames: 2  tokens: 2")
}

func TestShowInfo(t *testing.T) {
	var buf bytes.Buffer
	showInfo(&buf, &api.ShowResponse{
		Preset:     "asr1b",
		Parameters: 1_500_000_000,
		ModelInfo:  map[string]any{"num_layers": 16, "d_model": 2048},
		CodecInfo:  map[string]any{"sample_rate": 24000},
		Tensors:    []api.Tensor{{Name: "text_emb.weight", Shape: []int{8001, 2048}}},
	}, true)

	out := buf.String()
	assert.Contains(t, out, "1.5B")
	assert.Less(t, strings.Index(out, "d_model"), strings.Index(out, "num_layers"), "Schluessel sortiert")
	assert.Contains(t, out, "[8001 2048]")
	assert.NotContains(t, out, "Vocabulary")
}

func TestFormatParams(t *testing.T) {
	cases := map[int64]string{
		12:            "12",
		2_500:         "2.5K",
		300_000_000:   "300.0M",
		1_000_000_000: "1.0B",
	}
	for n, want := range cases {
		assert.Equal(t, want, formatParams(n))
	}
}

func TestShowVocab(t *testing.T) {
	var buf bytes.Buffer
	showVocab(&buf, asr.Vocab{2: "b", 0: "<unk>", 1: "▁a"})

	out := buf.String()
	assert.Less(t, strings.Index(out, "<unk>"), strings.Index(out, "▁a"))
	assert.Less(t, strings.Index(out, "▁a"), strings.Index(out, `"b"`))
}

func TestNewCLI(t *testing.T) {
	root := NewCLI()
	for _, name := range []string{"transcribe", "serve", "show", "env"} {
		c, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())
	}
	assert.Contains(t, root.Commands()[0].UsageTemplate(), "MOSHI_MAX_STEPS")
}

func TestShowPresets(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, showPresets(&buf))

	out := buf.String()
	assert.Contains(t, out, "asr1b")
	assert.Contains(t, out, "mimi_2024_07")
	assert.Regexp(t, `helium2b\s+lm`, out)
}
