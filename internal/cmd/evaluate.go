package cmd

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hargabyte/stsfit/internal/config"
	"github.com/hargabyte/stsfit/internal/dataset"
	"github.com/hargabyte/stsfit/internal/embeddings"
	"github.com/hargabyte/stsfit/internal/evaluation"
	"github.com/hargabyte/stsfit/internal/history"
	"github.com/hargabyte/stsfit/internal/model"
	"github.com/hargabyte/stsfit/internal/output"
	"github.com/hargabyte/stsfit/internal/pipeline"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <checkpoint>",
	Short: "Score a saved checkpoint on a KorSTS split",
	Long: `Load a checkpoint written by 'stsfit train' and report the Pearson and
Spearman correlations of cosine, euclidean, manhattan and dot similarity
with the gold scores of one split.

With --results_dir the scores are also appended to
similarity_evaluation_sts-{split}_results.csv in that directory.`,
	Example: `  stsfit evaluate output/kor_sts_klue-bert-base-2024-01-01_00-00-00
  stsfit evaluate ./ckpt --split dev --format table`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

var (
	evaluateFlags      = config.DefaultConfig()
	evaluateSplit      string
	evaluateResultsDir string
)

func init() {
	rootCmd.AddCommand(evaluateCmd)
	bindConfigFlags(evaluateCmd.Flags(), evaluateFlags, "dataset_dir", "batch_size", "workers", "output_dir")
	evaluateCmd.Flags().StringVar(&evaluateSplit, "split", dataset.Test, "Split to score (train|dev|test)")
	evaluateCmd.Flags().StringVar(&evaluateResultsDir, "results_dir", "", "Directory to append the results CSV to")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd.Flags(), evaluateFlags)
	if err != nil {
		return err
	}
	log, err := stderrLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	checkpoint := args[0]

	m, err := model.Load(checkpoint)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	defer m.Close()
	log.Info().Str("checkpoint", checkpoint).Int("max_seq_length", m.MaxSeqLength()).Msg("Loaded checkpoint")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := scoreSplit(ctx, cfg, log, m, &history.Run{
		Command:    "evaluate",
		Model:      checkpoint,
		Checkpoint: checkpoint,
	}, evaluateSplit, evaluateResultsDir)
	if err != nil {
		return err
	}
	return printResult(cmd, out)
}

// scoreSplit evaluates embedder on split and records the result as run.
// A non-empty resultsDir receives the results CSV.
func scoreSplit(ctx context.Context, cfg *config.Config, log zerolog.Logger, embedder embeddings.Embedder, run *history.Run, split, resultsDir string) (*output.EvaluationOutput, error) {
	if !isSplit(split) {
		return nil, fmt.Errorf("%w: unknown split %q", config.ErrInvalidConfig, split)
	}

	store, err := history.Open(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	run.Seed = cfg.Seed
	run.BatchSize = cfg.BatchSize
	if err := store.StartRun(run); err != nil {
		return nil, err
	}

	res, pairs, err := pipeline.EvaluateSplit(ctx, embedder, pipeline.EvalOptions{
		DatasetDir: cfg.DatasetDir,
		Split:      split,
		BatchSize:  cfg.BatchSize,
		Workers:    cfg.Workers,
		OutputPath: resultsDir,
		Logger:     log,
	})
	score := math.NaN()
	if res != nil {
		score = res.MainScore
	}
	if ferr := store.FinishRun(run.ID, math.NaN(), score, err); ferr != nil {
		log.Warn().Err(ferr).Msg("Could not record run result")
	}
	if err != nil {
		return nil, err
	}

	resultsFile := ""
	if resultsDir != "" {
		resultsFile = filepath.Join(resultsDir, evaluation.ResultsFileName(res.Name))
	}
	log.Info().Str("split", split).Float64("main_score", res.MainScore).Msg("Evaluated")
	return evaluationOutput(res, embedder.ModelVersion(), split, pairs, resultsFile), nil
}

func isSplit(s string) bool {
	return s == dataset.Train || s == dataset.Dev || s == dataset.Test
}
