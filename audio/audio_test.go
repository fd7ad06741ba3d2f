package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWAV(t *testing.T, rate, channels int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	e := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, e.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, e.Close())
	require.NoError(t, f.Close())
	return path
}

func TestDecodeWAV(t *testing.T) {
	t.Run("mono 24k", func(t *testing.T) {
		path := writeWAV(t, SampleRate, 1, []int{0, 16384, -16384, 32767})
		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()

		pcm, err := DecodeWAV(f)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float32{0, 0.5, -0.5, 1}, pcm, 1e-4)
	})

	t.Run("stereo 12k", func(t *testing.T) {
		path := writeWAV(t, 12000, 2, []int{16384, 0, 16384, 0, -16384, -16384})
		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()

		pcm, err := DecodeWAV(f)
		require.NoError(t, err)
		require.Len(t, pcm, 6, "doppelte Rate")
		assert.InDelta(t, 0.25, pcm[0], 1e-4)
		assert.InDelta(t, -0.5, pcm[5], 1e-4)
	})

	t.Run("kein wav", func(t *testing.T) {
		_, err := DecodeWAV(bytes.NewReader([]byte("definitely not a riff file")))
		assert.ErrorIs(t, err, ErrInvalidWAV)
	})
}

func TestResample(t *testing.T) {
	pcm := []float32{0, 1, 2, 3}
	assert.Equal(t, pcm, Resample(pcm, 8000, 8000))
	assert.Equal(t, []float32{0, 0.5, 1, 1.5, 2, 2.5, 3, 3}, Resample(pcm, 8000, 16000))
	assert.Equal(t, []float32{0, 2}, Resample(pcm, 16000, 8000))
	assert.Empty(t, Resample(nil, 8000, 24000))
}

func TestChunks(t *testing.T) {
	chunks := Chunks(make([]float32, 5), 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[2], 1)
	assert.Empty(t, Chunks(nil, 2))
}

func TestReader(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, binary.Write(&b, binary.LittleEndian, []float32{1, 2, 3, 4, 5}))
	b.Write([]byte{0xff, 0xff})

	r := NewReader(&b, 2)
	var got [][]float32
	for {
		c, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, c)
	}
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}, {5}}, got)
}
