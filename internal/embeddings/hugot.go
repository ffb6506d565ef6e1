package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// DefaultModelDir is where ONNX models are downloaded when no directory is given.
const DefaultModelDir = "models"

// HugotEmbedder runs a sentence-transformers ONNX export through hugot's
// pure Go backend. It serves as a pretrained baseline for the evaluator.
type HugotEmbedder struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	model    string
	dims     int
	mu       sync.Mutex
}

// NewHugotEmbedder loads the model at nameOrPath. A path to an existing
// directory is used as is; anything else is treated as a HuggingFace
// repository and downloaded into modelDir.
func NewHugotEmbedder(nameOrPath, modelDir string) (*HugotEmbedder, error) {
	modelPath := nameOrPath
	if info, err := os.Stat(nameOrPath); err != nil || !info.IsDir() {
		if modelDir == "" {
			modelDir = DefaultModelDir
		}
		if err := os.MkdirAll(modelDir, 0755); err != nil {
			return nil, fmt.Errorf("create model dir: %w", err)
		}
		modelPath, err = hugot.DownloadModel(nameOrPath, modelDir, hugot.NewDownloadOptions())
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", nameOrPath, err)
		}
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "stsfit-" + filepath.Base(modelPath),
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("create feature extraction pipeline: %w", err)
	}

	return &HugotEmbedder{
		session:  session,
		pipeline: pipeline,
		model:    nameOrPath,
	}, nil
}

// Embed generates an embedding vector for the given text.
func (e *HugotEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *HugotEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("run pipeline: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("pipeline returned %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}
	if e.dims == 0 && len(result.Embeddings[0]) > 0 {
		e.dims = len(result.Embeddings[0])
	}
	return result.Embeddings, nil
}

// ModelVersion returns the model identifier.
func (e *HugotEmbedder) ModelVersion() string {
	return e.model
}

// Dimensions returns the embedding width, known after the first batch.
func (e *HugotEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

// Close destroys the hugot session.
func (e *HugotEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
