package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moshigo/moshi/api"
	"github.com/moshigo/moshi/asr"
	"github.com/moshigo/moshi/ml/backend/cpu"
	"github.com/moshigo/moshi/model"
	"github.com/moshigo/moshi/model/lm"
	"github.com/moshigo/moshi/model/mimi"
	"github.com/moshigo/moshi/transformer"
	"github.com/moshigo/moshi/version"
)

func tinyModels(t *testing.T) *asr.Models {
	t.Helper()
	ctx := cpu.NewContext()

	codecCfg := mimi.Mimi2024_07(2)
	codecCfg.Seanet.Dimension = 8
	codecCfg.Seanet.NFilters = 2
	codecCfg.Transformer.DModel = 8
	codecCfg.Transformer.NumHeads = 2
	codecCfg.Transformer.NumLayers = 1
	codecCfg.Transformer.DimFeedForward = 16
	codecCfg.Bins = 16
	codecCfg.QuantizerDim = 4
	codec := mimi.New(codecCfg)
	require.NoError(t, model.Randomize(ctx, codec, 1, 0.3))

	m := lm.New(lm.Config{
		Transformer: transformer.Config{
			DModel:              8,
			NumHeads:            2,
			NumLayers:           1,
			Causal:              true,
			NormFirst:           true,
			PositionalEmbedding: transformer.PositionalRoPE,
			Gating:              true,
			Norm:                transformer.RMSNorm,
			Context:             64,
			MaxPeriod:           10000,
			KVRepeat:            1,
			DimFeedForward:      16,
		},
		TextInVocabSize:  5,
		TextOutVocabSize: 4,
		AudioVocabSize:   17,
		AudioCodebooks:   2,
		AudioDelays:      make([]int, 2),
	})
	require.NoError(t, model.Randomize(ctx, m, 2, 1))

	return &asr.Models{LM: m, Codec: codec, Vocab: asr.Vocab{1: "▁a", 2: "b"}}
}

func newTestServer(t *testing.T) (*httptest.Server, *api.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := New(cpu.NewContext(), "tiny", tinyModels(t), asr.Options{Seed: 1})
	ts := httptest.NewServer(s.GenerateRoutes())
	t.Cleanup(ts.Close)

	base, err := url.Parse(ts.URL)
	require.NoError(t, err)
	return ts, api.NewClient(base, ts.Client())
}

func f32le(t *testing.T, n int) *bytes.Buffer {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, binary.Write(&b, binary.LittleEndian, make([]float32, n)))
	return &b
}

func TestVersionAndHealth(t *testing.T) {
	_, client := newTestServer(t)

	v, err := client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, version.Version, v)

	assert.NoError(t, client.Heartbeat(context.Background()))
}

func TestShow(t *testing.T) {
	_, client := newTestServer(t)

	resp, err := client.Show(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tiny", resp.Preset)
	assert.Equal(t, 2, resp.VocabSize)
	assert.Positive(t, resp.Parameters)
	assert.Empty(t, resp.Tensors)
	assert.EqualValues(t, 2, resp.ModelInfo["audio_codebooks"])
	assert.EqualValues(t, 1920, resp.CodecInfo["frame_size"])
}

func TestShowVerbose(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/api/show?verbose=true")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var show api.ShowResponse
	require.NoError(t, decodeJSON(resp, &show))
	names := make(map[string]bool)
	for _, tensor := range show.Tensors {
		names[tensor.Name] = true
	}
	assert.True(t, names["text_emb.weight"])
	assert.True(t, names["quantizer.rvq_first.vq.layers.0._codebook.embedding_sum"])
}

func TestTranscribeRaw(t *testing.T) {
	_, client := newTestServer(t)

	var lines []api.TranscribeResponse
	err := client.Transcribe(context.Background(), f32le(t, 3*asr.ChunkSize), "application/octet-stream", &api.TranscribeRequest{}, func(r api.TranscribeResponse) error {
		lines = append(lines, r)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, lines)

	last := lines[len(lines)-1]
	assert.True(t, last.Done)
	assert.NotEmpty(t, last.Session)
	assert.Positive(t, last.Metrics.InputFrames)
	assert.Equal(t, last.Metrics.InputFrames, last.Metrics.TextTokens)
	for _, l := range lines[:len(lines)-1] {
		assert.False(t, l.Done)
		assert.Equal(t, last.Session, l.Session)
	}
}

func TestTranscribeDeterministic(t *testing.T) {
	_, client := newTestServer(t)
	temp := float32(0)

	run := func() string {
		var transcript string
		err := client.Transcribe(context.Background(), f32le(t, 4*asr.ChunkSize), "", &api.TranscribeRequest{Temperature: &temp}, func(r api.TranscribeResponse) error {
			if r.Done {
				transcript = r.Transcript
			}
			return nil
		})
		require.NoError(t, err)
		return transcript
	}
	assert.Equal(t, run(), run(), "greedy ist reproduzierbar")
}

func TestTranscribeInvalidWAV(t *testing.T) {
	_, client := newTestServer(t)

	err := client.Transcribe(context.Background(), bytes.NewBufferString("kein wav"), "audio/wav", nil, func(api.TranscribeResponse) error { return nil })
	var se api.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Contains(t, se.ErrorMessage, "invalid wav")
}

func TestTranscribeBadQuery(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/api/transcribe?top_k=viele", "application/octet-stream", f32le(t, 10))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIsWAV(t *testing.T) {
	cases := map[string]bool{
		"audio/wav":                true,
		"audio/x-wav; codecs=1":    true,
		"application/octet-stream": false,
		"":                         false,
	}
	for ct, want := range cases {
		assert.Equal(t, want, isWAV(ct), ct)
	}
}

func decodeJSON(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
