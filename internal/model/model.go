// Package model implements the sentence embedding model that is fine-tuned:
// a pretrained transformer encoder exported to ONNX, followed by mean
// pooling over the attention mask. The encoder runs on hugot's pure Go
// backend, and its weights live in a GoMLX context so the same graph serves
// inference and training.
package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/onnx-gomlx/onnx"
	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/backends"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/hargabyte/stsfit/internal/hub"
)

// Config is the subset of a HuggingFace config.json the model reports.
type Config struct {
	ModelType             string `json:"model_type,omitempty"`
	BaseModel             string `json:"_name_or_path,omitempty"`
	HiddenSize            int    `json:"hidden_size"`
	NumHiddenLayers       int    `json:"num_hidden_layers"`
	MaxPositionEmbeddings int    `json:"max_position_embeddings"`
	PadTokenID            int    `json:"pad_token_id"`
}

// AttentionMaskInput is the encoder input pooling is masked with.
const AttentionMaskInput = "attention_mask"

// SentenceModel maps sentences to fixed-size vectors.
type SentenceModel struct {
	session      *hugot.Session
	pipeline     *pipelines.FeatureExtractionPipeline
	dir          string
	config       Config
	maxSeqLength int

	mu sync.Mutex
}

// Open loads the ONNX encoder and tokenizer.json in dir. onnxFile picks the
// graph when dir holds several. maxSeqLength is capped at the number of
// positions the encoder can address.
func Open(dir, onnxFile string, maxSeqLength int) (*SentenceModel, error) {
	if maxSeqLength <= 0 {
		return nil, fmt.Errorf("max sequence length must be positive, got %d", maxSeqLength)
	}
	var cfg Config
	if path := filepath.Join(dir, hub.ConfigFile); fileExists(path) {
		if err := readJSON(path, &cfg); err != nil {
			return nil, err
		}
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("create hugot session: %w", err)
	}
	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath:    dir,
		Name:         "stsfit-" + filepath.Base(dir),
		OnnxFilename: onnxFile,
	})
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("load encoder from %s: %w", dir, err)
	}
	if pipeline.Model.GoMLXModel == nil || pipeline.Model.Tokenizer == nil {
		session.Destroy()
		return nil, fmt.Errorf("%s: encoder did not load on the go backend", dir)
	}
	if len(pipeline.Output.Dimensions) != 3 {
		session.Destroy()
		return nil, fmt.Errorf("%s: encoder output %s must be [batch, sequence, hidden], got %s",
			dir, pipeline.Output.Name, pipeline.Output.Dimensions.String())
	}

	if n := pipeline.Model.MaxPositionEmbeddings; n > 0 {
		maxSeqLength = min(maxSeqLength, n)
	}
	// Truncation is done by tokenize so the closing special token survives.
	pipeline.Model.Tokenizer.MaxAllowedTokens = 0
	if cfg.HiddenSize == 0 {
		cfg.HiddenSize = int(pipeline.Output.Dimensions[2])
	}

	return &SentenceModel{
		session:      session,
		pipeline:     pipeline,
		dir:          dir,
		config:       cfg,
		maxSeqLength: maxSeqLength,
	}, nil
}

// Config returns the encoder configuration.
func (m *SentenceModel) Config() Config {
	return m.config
}

// MaxSeqLength returns the token limit applied to every sentence.
func (m *SentenceModel) MaxSeqLength() int {
	return m.maxSeqLength
}

// Dimensions returns the embedding width.
func (m *SentenceModel) Dimensions() int {
	return m.config.HiddenSize
}

// ModelVersion identifies the model the encoder was initialised from.
func (m *SentenceModel) ModelVersion() string {
	if m.config.BaseModel != "" {
		return m.config.BaseModel
	}
	return "stsfit"
}

// Embed returns the embedding of a single text.
func (m *SentenceModel) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch returns one mean-pooled embedding per text.
func (m *SentenceModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, errors.New("model is closed")
	}

	batch := m.tokenize(texts)
	defer batch.Destroy()
	if err := backends.CreateInputTensors(batch, m.pipeline.Model, m.pipeline.Runtime); err != nil {
		return nil, fmt.Errorf("build encoder inputs: %w", err)
	}
	if err := m.pipeline.Forward(batch); err != nil {
		return nil, fmt.Errorf("run encoder: %w", err)
	}
	out, err := m.pipeline.Postprocess(batch)
	if err != nil {
		return nil, fmt.Errorf("pool embeddings: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("encoder returned %d embeddings for %d texts", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

// tokenize encodes texts and truncates each to maxSeqLength.
func (m *SentenceModel) tokenize(texts []string) *backends.PipelineBatch {
	batch := backends.NewBatch(len(texts))
	backends.TokenizeInputs(batch, m.pipeline.Model.Tokenizer, texts)
	Truncate(batch, m.maxSeqLength)
	return batch
}

// PairInputs tokenizes both sides of a batch of sentence pairs into the
// encoder's input tensors: the inputs for a followed by the inputs for b.
// Both sides are padded to the same bucketed length so the training graph is
// compiled for a handful of shapes only.
func (m *SentenceModel) PairInputs(a, b []string) ([]*tensors.Tensor, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("pair batch has %d and %d sentences", len(a), len(b))
	}
	left, right := m.tokenize(a), m.tokenize(b)
	seqLen := Bucket(max(left.MaxSequenceLength, right.MaxSequenceLength), m.maxSeqLength)
	left.MaxSequenceLength, right.MaxSequenceLength = seqLen, seqLen

	var inputs []*tensors.Tensor
	for _, batch := range []*backends.PipelineBatch{left, right} {
		if err := backends.CreateInputTensorsTraining(batch, m.pipeline.Model, m.pipeline.Runtime); err != nil {
			return nil, fmt.Errorf("build encoder inputs: %w", err)
		}
		inputs = append(inputs, batch.InputValues.([]*tensors.Tensor)...)
	}
	return inputs, nil
}

// NumInputs is how many tensors one sentence batch feeds the encoder.
func (m *SentenceModel) NumInputs() int {
	return len(m.pipeline.Model.InputsMeta)
}

// Backend returns the GoMLX backend and the context holding the encoder
// weights. Training updates these variables in place, so inference sees the
// trained weights without a reload.
func (m *SentenceModel) Backend() *backends.GoMLXModel {
	return m.pipeline.Model.GoMLXModel
}

// TokenStates builds the encoder graph for one sentence batch and returns
// its [batch, sequence, hidden] output.
func (m *SentenceModel) TokenStates(ctx *mlctx.Context, inputs []*graph.Node) *graph.Node {
	return m.Backend().Call(ctx.Reuse(), inputs)[m.pipeline.OutputIndex]
}

// AttentionMask returns the attention mask among inputs, or nil when the
// encoder takes none.
func (m *SentenceModel) AttentionMask(inputs []*graph.Node) *graph.Node {
	for i, meta := range m.pipeline.Model.InputsMeta {
		if meta.Name == AttentionMaskInput {
			return inputs[i]
		}
	}
	return nil
}

// WeightNames lists the encoder's initializers.
func (m *SentenceModel) WeightNames() []string {
	var names []string
	for _, t := range m.Backend().OnnxModel.Proto.Graph.Initializer {
		names = append(names, t.Name)
	}
	return names
}

func (m *SentenceModel) variable(name string) (*mlctx.Variable, error) {
	v := m.Backend().Ctx.In(onnx.ModelScope).GetVariable(onnx.SafeVarName(name))
	if v == nil {
		return nil, fmt.Errorf("weight %s not found", name)
	}
	return v, nil
}

// Weight returns a copy of the named weight's values.
func (m *SentenceModel) Weight(name string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.variable(name)
	if err != nil {
		return nil, err
	}
	t, err := v.Value()
	if err != nil {
		return nil, err
	}
	return tensors.CopyFlatData[float32](t)
}

// SetWeight overwrites the named weight, keeping its shape.
func (m *SentenceModel) SetWeight(name string, values []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.variable(name)
	if err != nil {
		return err
	}
	dims := v.Shape().Dimensions
	if v.Shape().Size() != len(values) {
		return fmt.Errorf("weight %s has %d values, got %d", name, v.Shape().Size(), len(values))
	}
	return v.SetValue(tensors.FromFlatDataAndDimensions(values, dims...))
}

// Close destroys the hugot session and the encoder's weights.
func (m *SentenceModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
