package asr

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/moshigo/moshi/fs/safetensors"
	"github.com/moshigo/moshi/huggingface"
	"github.com/moshigo/moshi/ml"
	"github.com/moshigo/moshi/model"
	"github.com/moshigo/moshi/model/lm"
	"github.com/moshigo/moshi/model/mimi"
)

// LoadConfig names the model preset and where its files come from. Empty
// paths are resolved through huggingface.Resolve.
type LoadConfig struct {
	Preset       string
	NumCodebooks int
	ModelRepo    string

	ModelPath string
	MimiPath  string
	VocabPath string
}

// Models bundles everything a Session needs.
type Models struct {
	LM    *lm.LM
	Codec *mimi.Mimi
	Vocab Vocab
}

func (c LoadConfig) resolve(path, repo, file string) (string, error) {
	if path != "" {
		return path, nil
	}
	return huggingface.Resolve(repo, file)
}

// Load reads the language model, the codec and the vocabulary.
func Load(ctx ml.Context, c LoadConfig) (*Models, error) {
	if c.ModelRepo == "" {
		c.ModelRepo = huggingface.DefaultModelRepo
	}

	cfg, err := lm.ConfigByName(c.Preset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnsupportedModel, err)
	}
	if c.NumCodebooks < cfg.AudioCodebooks {
		return nil, fmt.Errorf("%w: %d < %d", ErrCodebookMismatch, c.NumCodebooks, cfg.AudioCodebooks)
	}

	modelPath, err := c.resolve(c.ModelPath, c.ModelRepo, huggingface.ModelFile)
	if err != nil {
		return nil, err
	}
	mimiPath, err := c.resolve(c.MimiPath, c.ModelRepo, huggingface.MimiFile)
	if err != nil {
		return nil, err
	}
	vocabFile, err := VocabFileName(cfg.TextOutVocabSize)
	if err != nil {
		return nil, err
	}
	vocabPath, err := c.resolve(c.VocabPath, huggingface.VocabRepo, vocabFile)
	if err != nil {
		return nil, err
	}

	m, err := LoadLM(ctx, cfg, modelPath)
	if err != nil {
		return nil, err
	}
	codec, err := LoadCodec(ctx, c.NumCodebooks, mimiPath)
	if err != nil {
		return nil, err
	}
	vocab, err := LoadVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	return &Models{LM: m, Codec: codec, Vocab: vocab}, nil
}

// LoadLM populates a model of the given configuration from safetensors.
func LoadLM(ctx ml.Context, cfg lm.Config, path string) (*lm.LM, error) {
	start := time.Now()
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := lm.New(cfg)
	if err := model.Populate(ctx, f, m); err != nil {
		return nil, fmt.Errorf("lm %s: %w", path, err)
	}
	slog.Info("loaded language model", "path", path, "tensors", len(f.Keys()), "elapsed", time.Since(start))
	return m, nil
}

// LoadCodec populates the codec from a PyTorch export. Codebooks beyond
// numCodebooks are skipped.
func LoadCodec(ctx ml.Context, numCodebooks int, path string) (*mimi.Mimi, error) {
	start := time.Now()
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	codec := mimi.New(mimi.Mimi2024_07(numCodebooks))
	src := codebookFilter{RawSource: f, keep: numCodebooks - 1}
	if err := model.Populate(ctx, mimi.FromPyTorch(src), codec); err != nil {
		return nil, fmt.Errorf("mimi %s: %w", path, err)
	}
	slog.Info("loaded codec", "path", path, "codebooks", numCodebooks, "elapsed", time.Since(start))
	return codec, nil
}

var restLayer = regexp2.MustCompile(`^quantizer\.rvq_rest\.vq\.layers\.(\d+)\.`, regexp2.None)

// codebookFilter hides the trailing quantizer layers of a checkpoint trained
// with more codebooks than are used.
type codebookFilter struct {
	mimi.RawSource
	keep int
}

func (c codebookFilter) Keys() []string {
	var keys []string
	for _, k := range c.RawSource.Keys() {
		m, err := restLayer.FindStringMatch(k)
		if err == nil && m != nil {
			if i, err := strconv.Atoi(m.GroupByNumber(1).String()); err == nil && i >= c.keep {
				continue
			}
		}
		keys = append(keys, k)
	}
	return keys
}
