// Package lm - Sprachmodell mit verzoegerten Audio-Codebooks
//
// Dieses Modul enthaelt:
// - Config: Vokabulare, Codebooks, Verzoegerungen und Presets
// - LM: Haupttransformer mit Text- und Audio-Embeddings
// - Depformer: kleiner Transformer, ein Slice pro Audio-Codebook
// - Gen: schrittweise Generierung ueber einen Token-Puffer
// - Callbacks: Ereignisse fuer Messungen und Protokollierung
package lm

import (
	"fmt"
	"slices"
	"strings"

	"github.com/moshigo/moshi/transformer"
)

type DepformerConfig struct {
	Transformer transformer.Config
	NumSlices   int
}

// Config fully determines the topology of an LM. It is never mutated once a
// model is built from it.
type Config struct {
	Transformer transformer.Config
	Depformer   *DepformerConfig

	TextInVocabSize  int
	TextOutVocabSize int
	AudioVocabSize   int
	AudioCodebooks   int
	AudioDelays      []int
}

func (c Config) AudioEOSToken() int32 { return int32(c.AudioVocabSize - 2) }

func (c Config) AudioPaddingToken() int32 { return int32(c.AudioVocabSize - 1) }

func (c Config) TextInitToken() int32 { return int32(c.TextInVocabSize - 1) }

func (c Config) DepformerSlices() int {
	if c.Depformer == nil {
		return 0
	}
	return c.Depformer.NumSlices
}

func (c Config) MaxDelay() int {
	if len(c.AudioDelays) == 0 {
		return 0
	}
	return slices.Max(c.AudioDelays)
}

func (c Config) Validate() error {
	if len(c.AudioDelays) != c.AudioCodebooks {
		return fmt.Errorf("%d audio delays for %d codebooks", len(c.AudioDelays), c.AudioCodebooks)
	}
	if n := c.DepformerSlices(); n > c.AudioCodebooks {
		return fmt.Errorf("%d depformer slices exceed %d audio codebooks", n, c.AudioCodebooks)
	}
	for i, d := range c.AudioDelays {
		if d < 0 {
			return fmt.Errorf("negative delay %d for codebook %d", d, i)
		}
	}
	return nil
}

func depformer(numSlices int) *DepformerConfig {
	return &DepformerConfig{
		Transformer: transformer.Config{
			DModel:              1024,
			NumHeads:            16,
			NumLayers:           6,
			Causal:              true,
			NormFirst:           true,
			PositionalEmbedding: transformer.PositionalNone,
			Gating:              true,
			Norm:                transformer.RMSNorm,
			Context:             8,
			MaxPeriod:           10000,
			MaxSeqLen:           4096,
			KVRepeat:            1,
			DimFeedForward:      1024 * 4,
		},
		NumSlices: numSlices,
	}
}

func Moshi2024_07() Config {
	return Config{
		Transformer:      transformer.V1_7B(),
		Depformer:        depformer(8),
		TextInVocabSize:  32001,
		TextOutVocabSize: 32000,
		AudioVocabSize:   2049,
		AudioCodebooks:   16,
		AudioDelays:      []int{0, 1, 1, 1, 1, 1, 1, 1, 0, 1, 1, 1, 1, 1, 1, 1},
	}
}

// moshiDelays delays every codebook but the semantic one of each stream.
func moshiDelays(delay int) []int {
	half := []int{0, delay, delay, delay, delay, delay, delay, delay}
	return append(slices.Clone(half), half...)
}

func Moshi1B(audioDelay int) Config {
	return Config{
		Transformer:      transformer.V1_1B(),
		Depformer:        depformer(8),
		TextInVocabSize:  48001,
		TextOutVocabSize: 48000,
		AudioVocabSize:   2049,
		AudioCodebooks:   16,
		AudioDelays:      moshiDelays(audioDelay),
	}
}

func Moshi2B(audioDelay int) Config {
	cfg := Moshi1B(audioDelay)
	cfg.Transformer = transformer.V1_2B()
	return cfg
}

func asr(tr transformer.Config, textVocab int) Config {
	return Config{
		Transformer:      tr,
		TextInVocabSize:  textVocab + 1,
		TextOutVocabSize: textVocab,
		AudioVocabSize:   2049,
		AudioCodebooks:   32,
		AudioDelays:      make([]int, 32),
	}
}

func ASR300M() Config { return asr(transformer.V1_300M(), 48000) }

func ASR1B() Config { return asr(transformer.V1_1B(), 8000) }

func ASR2B() Config { return asr(transformer.V1_2B(), 4000) }

func Helium2B() Config {
	return Config{
		Transformer:      transformer.V1_2B(),
		TextInVocabSize:  48000,
		TextOutVocabSize: 48000,
		AudioVocabSize:   2049,
	}
}

var presets = map[string]func() Config{
	"moshi_2024_07": Moshi2024_07,
	"moshi1b":       func() Config { return Moshi1B(2) },
	"moshi2b":       func() Config { return Moshi2B(2) },
	"asr300m":       ASR300M,
	"asr1b":         ASR1B,
	"asr2b":         ASR2B,
	"helium2b":      Helium2B,
}

// ConfigByName resolves a preset name such as "asr1b".
func ConfigByName(name string) (Config, error) {
	fn, ok := presets[strings.ToLower(name)]
	if !ok {
		names := make([]string, 0, len(presets))
		for n := range presets {
			names = append(names, n)
		}
		slices.Sort(names)
		return Config{}, fmt.Errorf("unknown lm config %q, expected one of %s", name, strings.Join(names, ", "))
	}
	return fn(), nil
}
