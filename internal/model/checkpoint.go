package model

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/hargabyte/stsfit/internal/hub"
)

// Checkpoint file names. The encoder graph with its trained weights is
// model.onnx; the pooling settings follow the sentence-transformers names.
const (
	SentenceConfigFile = "sentence_bert_config.json"
	PoolingDir         = "1_Pooling"
	poolingConfigFile  = "config.json"
)

// tokenizerFiles are copied alongside the graph when the source has them.
var tokenizerFiles = []string{
	hub.TokenizerFile,
	"tokenizer_config.json",
	"special_tokens_map.json",
	"vocab.txt",
}

type sentenceConfig struct {
	MaxSeqLength int  `json:"max_seq_length"`
	DoLowerCase  bool `json:"do_lower_case"`
}

type poolingConfig struct {
	WordEmbeddingDimension int  `json:"word_embedding_dimension"`
	PoolingModeCLSToken    bool `json:"pooling_mode_cls_token"`
	PoolingModeMeanTokens  bool `json:"pooling_mode_mean_tokens"`
	PoolingModeMaxTokens   bool `json:"pooling_mode_max_tokens"`
	PoolingModeMeanSqrtLen bool `json:"pooling_mode_mean_sqrt_len_tokens"`
}

// NewFromPretrained opens a model from resolved pretrained files.
func NewFromPretrained(files *hub.Files, maxSeqLength int) (*SentenceModel, error) {
	m, err := Open(files.Dir, filepath.Base(files.Model), maxSeqLength)
	if err != nil {
		return nil, err
	}
	m.config.BaseModel = files.ID
	return m, nil
}

// Load restores a model written by Save.
func Load(dir string) (*SentenceModel, error) {
	var sc sentenceConfig
	if err := readJSON(filepath.Join(dir, SentenceConfigFile), &sc); err != nil {
		return nil, err
	}

	var pc poolingConfig
	poolPath := filepath.Join(dir, PoolingDir, poolingConfigFile)
	if err := readJSON(poolPath, &pc); err != nil {
		return nil, err
	}
	if !pc.PoolingModeMeanTokens {
		return nil, fmt.Errorf("%s: only mean pooling is supported", poolPath)
	}
	return Open(dir, hub.ModelFile, sc.MaxSeqLength)
}

// Save writes the model to dir, creating it if needed. Existing files are
// overwritten. Every encoder weight is written back into the ONNX graph.
func (m *SentenceModel) Save(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, PoolingDir), 0755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	m.mu.Lock()
	err := m.writeGraph(filepath.Join(dir, hub.ModelFile))
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := m.copySourceFiles(dir); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, SentenceConfigFile), sentenceConfig{MaxSeqLength: m.maxSeqLength}); err != nil {
		return err
	}
	pc := poolingConfig{WordEmbeddingDimension: m.Dimensions(), PoolingModeMeanTokens: true}
	return writeJSON(filepath.Join(dir, PoolingDir, poolingConfigFile), pc)
}

func (m *SentenceModel) writeGraph(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.Backend().Save(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// copySourceFiles carries the tokenizer and the encoder config over from the
// directory the model was opened from. A source without config.json gets
// one written from Config.
func (m *SentenceModel) copySourceFiles(dir string) error {
	if sameDir(m.dir, dir) {
		return nil
	}
	for _, name := range tokenizerFiles {
		src := filepath.Join(m.dir, name)
		if !fileExists(src) {
			continue
		}
		if err := copyFile(src, filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	if src := filepath.Join(m.dir, hub.ConfigFile); fileExists(src) {
		return copyFile(src, filepath.Join(dir, hub.ConfigFile))
	}
	return writeJSON(filepath.Join(dir, hub.ConfigFile), m.config)
}

func sameDir(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return out.Close()
}
