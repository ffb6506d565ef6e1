// Package pipeline runs the end-to-end fine-tuning job: build the model,
// load the splits, train with dev evaluation, then reload the best
// checkpoint and score it on the test split.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/hargabyte/stsfit/internal/config"
	"github.com/hargabyte/stsfit/internal/dataset"
	"github.com/hargabyte/stsfit/internal/determinism"
	"github.com/hargabyte/stsfit/internal/evaluation"
	"github.com/hargabyte/stsfit/internal/history"
	"github.com/hargabyte/stsfit/internal/hub"
	"github.com/hargabyte/stsfit/internal/model"
	"github.com/hargabyte/stsfit/internal/train"
)

// Evaluator names, which also name the results CSV files.
const (
	DevEvaluatorName  = "sts-dev"
	TestEvaluatorName = "sts-test"
	evalDir           = "eval"
)

// Deps are the collaborators Run uses. Zero values select the defaults.
type Deps struct {
	// Resolve maps a model identifier to local files.
	Resolve func(ctx context.Context, id string) (*hub.Files, error)
	// Now stamps the checkpoint directory name.
	Now func() time.Time
	// History records the run when set.
	History *history.Store
	Logger  zerolog.Logger
}

func (d *Deps) setDefaults(cfg *config.Config) {
	if d.Resolve == nil {
		d.Resolve = hub.Resolver{CacheDir: cfg.Hub.CacheDir}.Resolve
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// Report summarises a completed run.
type Report struct {
	RunID        int64
	Checkpoint   string
	WarmupSteps  int
	TotalSteps   int
	BestDevScore float64
	Train        *train.Result
	Test         *evaluation.Result
	TestPairs    int
}

// Splits holds the three datasets of a run.
type Splits struct {
	Train, Dev, Test []dataset.Example
}

// LoadSplits reads sts-{train,dev,test}.tsv from dir.
func LoadSplits(dir string) (*Splits, error) {
	var s Splits
	for _, sp := range []struct {
		name string
		dst  *[]dataset.Example
	}{
		{dataset.Train, &s.Train},
		{dataset.Dev, &s.Dev},
		{dataset.Test, &s.Test},
	} {
		exs, err := dataset.Load(dataset.SplitPath(dir, sp.name))
		if err != nil {
			return nil, err
		}
		*sp.dst = exs
	}
	return &s, nil
}

// Run executes the training job described by cfg.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (report *Report, err error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	deps.setDefaults(cfg)
	log := deps.Logger

	determinism.Seed(cfg.Seed)
	savePath := config.SavePath(cfg, deps.Now())
	report = &Report{Checkpoint: savePath, BestDevScore: math.NaN()}

	splits, err := LoadSplits(cfg.DatasetDir)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	log.Info().
		Int("train", len(splits.Train)).
		Int("dev", len(splits.Dev)).
		Int("test", len(splits.Test)).
		Str("dir", cfg.DatasetDir).
		Msg("Loaded KorSTS splits")

	if deps.History != nil {
		run := &history.Run{
			Command:      "train",
			Model:        cfg.ModelNameOrPath,
			DatasetHash:  dataset.Fingerprint(splits.Train),
			Seed:         cfg.Seed,
			BatchSize:    cfg.BatchSize,
			NumEpochs:    cfg.NumEpochs,
			MaxSeqLength: cfg.MaxSeqLength,
		}
		if err := deps.History.StartRun(run); err != nil {
			return nil, err
		}
		report.RunID = run.ID
		defer func() {
			testScore := math.NaN()
			if report.Test != nil {
				testScore = report.Test.MainScore
			}
			if ferr := deps.History.FinishRun(run.ID, report.BestDevScore, testScore, err); ferr != nil {
				log.Warn().Err(ferr).Msg("Could not record run result")
			}
		}()
	}

	files, err := deps.Resolve(ctx, cfg.ModelNameOrPath)
	if err != nil {
		return report, fmt.Errorf("resolve model: %w", err)
	}
	m, err := model.NewFromPretrained(files, cfg.MaxSeqLength)
	if err != nil {
		return report, fmt.Errorf("build model: %w", err)
	}
	defer m.Close()
	log.Info().
		Str("model", cfg.ModelNameOrPath).
		Int("dimensions", m.Dimensions()).
		Int("max_seq_length", m.MaxSeqLength()).
		Msg("Built sentence model with mean pooling")

	loader, err := train.NewLoader(splits.Train, cfg.BatchSize, determinism.Stream("shuffle"))
	if err != nil {
		return report, err
	}
	report.WarmupSteps = train.WarmupSteps(loader.Len(), cfg.NumEpochs, cfg.WarmupRatio)
	report.TotalSteps = loader.Len() * cfg.NumEpochs
	log.Info().Int("warmup_steps", report.WarmupSteps).Msg("Warmup-steps")

	if err := os.MkdirAll(filepath.Join(savePath, evalDir), 0755); err != nil {
		return report, fmt.Errorf("create checkpoint directory: %w", err)
	}
	if _, err := config.Write(cfg, savePath); err != nil {
		return report, err
	}

	devEval := newEvaluator(splits.Dev, DevEvaluatorName, cfg, log)
	opts := train.Options{
		Epochs:          cfg.NumEpochs,
		EvaluationSteps: cfg.EvaluationSteps,
		WarmupSteps:     report.WarmupSteps,
		MaxGradNorm:     cfg.Optimizer.MaxGradNorm,
		Optimizer: train.AdamWConfig{
			LearningRate: cfg.Optimizer.LearningRate,
			WeightDecay:  cfg.Optimizer.WeightDecay,
			Epsilon:      cfg.Optimizer.Epsilon,
			Beta1:        0.9,
			Beta2:        0.999,
		},
		Dropout:    train.DropoutRate,
		Seed:       cfg.Seed,
		OutputPath: savePath,
		Evaluate: func(ctx context.Context, epoch, steps int) (float64, error) {
			res, err := devEval.Evaluate(ctx, m, filepath.Join(savePath, evalDir), epoch, steps)
			if err != nil {
				return 0, err
			}
			return res.MainScore, nil
		},
		OnEvaluation: func(ev train.Evaluation) {
			if deps.History == nil {
				return
			}
			err := deps.History.RecordEvaluations(history.Evaluation{
				RunID:      report.RunID,
				Split:      DevEvaluatorName,
				Epoch:      ev.Epoch,
				Steps:      ev.Steps,
				GlobalStep: ev.GlobalStep,
				Score:      ev.Score,
				Saved:      ev.Saved,
			})
			if err != nil {
				log.Warn().Err(err).Msg("Could not record evaluation")
			}
		},
		Logger: log,
	}

	result, err := train.Fit(ctx, m, loader, opts)
	report.Train = result
	if err != nil {
		return report, fmt.Errorf("train: %w", err)
	}
	if !math.IsInf(result.BestScore, -1) {
		report.BestDevScore = result.BestScore
	}
	if deps.History != nil {
		if err := deps.History.SetCheckpoint(report.RunID, savePath); err != nil {
			log.Warn().Err(err).Msg("Could not record checkpoint")
		}
	}

	// Test scores come from the checkpoint on disk, not the in-memory model.
	best, err := model.Load(savePath)
	if err != nil {
		return report, fmt.Errorf("reload checkpoint: %w", err)
	}
	defer best.Close()

	testEval := newEvaluator(splits.Test, TestEvaluatorName, cfg, log)
	report.Test, err = testEval.Evaluate(ctx, best, savePath, -1, -1)
	if err != nil {
		return report, fmt.Errorf("test evaluation: %w", err)
	}
	report.TestPairs = len(splits.Test)
	log.Info().
		Str("checkpoint", savePath).
		Float64("test_score", report.Test.MainScore).
		Msg("Finished")
	return report, nil
}

func newEvaluator(examples []dataset.Example, name string, cfg *config.Config, log zerolog.Logger) *evaluation.SimilarityEvaluator {
	ev := evaluation.NewSimilarityEvaluator(examples, name, cfg.BatchSize)
	ev.Workers = cfg.Workers
	ev.Logger = log
	return ev
}
