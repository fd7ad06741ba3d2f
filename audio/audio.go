// Package audio - Audio-Eingabe fuer die Transkription
//
// Dieses Modul enthaelt:
// - DecodeWAV: PCM-WAV nach 24 kHz mono float32
// - Resample: lineare Umrechnung der Abtastrate
// - Reader: Rohdaten (float32 little endian) chunkweise lesen
package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SampleRate of the codec input.
const SampleRate = 24000

var ErrInvalidWAV = errors.New("invalid wav file")

// DecodeWAV reads an integer PCM WAV file, averages its channels and
// resamples it to SampleRate.
func DecodeWAV(r io.ReadSeeker) ([]float32, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate < 1 {
		return nil, fmt.Errorf("%w: missing format", ErrInvalidWAV)
	}

	mono := Downmix(buf)
	return Resample(mono, buf.Format.SampleRate, SampleRate), nil
}

// Downmix converts interleaved integer samples to mono floats in [-1, 1].
func Downmix(buf *goaudio.IntBuffer) []float32 {
	channels := buf.Format.NumChannels
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = 16
	}
	scale := float32(math.Ldexp(1, depth-1))

	out := make([]float32, len(buf.Data)/channels)
	for i := range out {
		var sum float32
		for c := range channels {
			sum += float32(buf.Data[i*channels+c])
		}
		out[i] = sum / float32(channels) / scale
	}
	return out
}

// Resample converts between sample rates by linear interpolation.
func Resample(pcm []float32, from, to int) []float32 {
	if from == to || len(pcm) == 0 {
		return pcm
	}

	n := int(int64(len(pcm)) * int64(to) / int64(from))
	out := make([]float32, n)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		frac := float32(pos - float64(j))
		if j+1 < len(pcm) {
			out[i] = pcm[j]*(1-frac) + pcm[j+1]*frac
		} else {
			out[i] = pcm[len(pcm)-1]
		}
	}
	return out
}

// Chunks splits pcm into pieces of size samples; the last one may be
// shorter.
func Chunks(pcm []float32, size int) [][]float32 {
	var out [][]float32
	for len(pcm) > 0 {
		n := min(size, len(pcm))
		out = append(out, pcm[:n:n])
		pcm = pcm[n:]
	}
	return out
}

// Reader reads little endian float32 samples in chunks.
type Reader struct {
	r    *bufio.Reader
	size int
}

func NewReader(r io.Reader, chunkSize int) *Reader {
	return &Reader{r: bufio.NewReader(r), size: chunkSize}
}

// Next returns up to chunkSize samples. The final chunk may be shorter; a
// dangling partial sample is dropped. io.EOF is returned only with an empty
// chunk.
func (r *Reader) Next() ([]float32, error) {
	b := make([]byte, 4*r.size)
	n, err := io.ReadFull(r.r, b)
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		err = nil
	case err != nil:
		return nil, err
	}

	out := make([]float32, n/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, err
}
