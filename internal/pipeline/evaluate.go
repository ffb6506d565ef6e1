package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hargabyte/stsfit/internal/dataset"
	"github.com/hargabyte/stsfit/internal/embeddings"
	"github.com/hargabyte/stsfit/internal/evaluation"
)

// EvalOptions configure EvaluateSplit.
type EvalOptions struct {
	DatasetDir string
	Split      string
	BatchSize  int
	Workers    int
	// OutputPath receives the results CSV; empty skips writing it.
	OutputPath string
	Logger     zerolog.Logger
}

// EvaluateSplit scores embedder on one split outside training, recording the
// result with epoch and steps -1.
func EvaluateSplit(ctx context.Context, embedder embeddings.Embedder, opts EvalOptions) (*evaluation.Result, int, error) {
	examples, err := dataset.Load(dataset.SplitPath(opts.DatasetDir, opts.Split))
	if err != nil {
		return nil, 0, fmt.Errorf("load dataset: %w", err)
	}

	ev := evaluation.NewSimilarityEvaluator(examples, "sts-"+opts.Split, opts.BatchSize)
	ev.Workers = max(opts.Workers, 1)
	ev.Logger = opts.Logger

	res, err := ev.Evaluate(ctx, embedder, opts.OutputPath, -1, -1)
	if err != nil {
		return nil, 0, err
	}
	return res, len(examples), nil
}
