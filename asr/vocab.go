package asr

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/dlclark/regexp2"
)

var (
	// SentencePiece marks word starts with U+2581; some exports carry it as
	// latin-1 mojibake.
	wordBoundary = regexp2.MustCompile("\u2581|\u00e2\u2013\u0081?", regexp2.None)
	byteFallback = regexp2.MustCompile(`^<0x([0-9A-Fa-f]{2})>$`, regexp2.None)
)

// Vocab maps text token ids to display pieces.
type Vocab map[int32]string

// LoadVocab reads a JSON object of the form {"17": "▁the", ...}.
func LoadVocab(path string) (Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raw map[string]string
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("vocab %s: %w", path, err)
	}

	v := make(Vocab, len(raw))
	for k, piece := range raw {
		id, err := strconv.ParseInt(k, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("vocab %s: invalid id %q", path, k)
		}
		v[int32(id)] = piece
	}
	return v, nil
}

// Piece returns the display text of id with word boundaries turned into
// spaces and byte fallback pieces decoded.
func (v Vocab) Piece(id int32) (string, bool) {
	piece, ok := v[id]
	if !ok {
		return "", false
	}

	if m, err := byteFallback.FindStringMatch(piece); err == nil && m != nil {
		b, err := strconv.ParseUint(m.GroupByNumber(1).String(), 16, 8)
		if err == nil {
			return string([]byte{byte(b)}), true
		}
	}

	out, err := wordBoundary.Replace(piece, " ", -1, -1)
	if err != nil {
		return piece, true
	}
	return out, true
}

// VocabFileName names the vocabulary published for a text vocabulary size.
func VocabFileName(textVocabSize int) (string, error) {
	switch textVocabSize {
	case 48000:
		return "tokenizer_spm_48k_multi6_2.json", nil
	case 32000:
		return "tokenizer_spm_32k_3.json", nil
	case 8000:
		return "tokenizer_spm_8k_0.json", nil
	case 4000:
		return "test_en_audio_4000.json", nil
	default:
		return "", fmt.Errorf("no vocabulary published for %d text tokens", textVocabSize)
	}
}
