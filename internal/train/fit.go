package train

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	mltrain "github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/rs/zerolog"

	"github.com/hargabyte/stsfit/internal/model"
)

// StateFile records when and why a checkpoint was written.
const StateFile = "training_state.json"

// EvaluateFunc scores the current model. steps is the number of optimizer
// steps taken in the epoch, or -1 at the end of an epoch.
type EvaluateFunc func(ctx context.Context, epoch, steps int) (float64, error)

// Options configure Fit.
type Options struct {
	Epochs          int
	EvaluationSteps int
	WarmupSteps     int
	MaxGradNorm     float64
	Optimizer       AdamWConfig
	// Dropout is applied to the token states while training.
	Dropout float64
	// Seed draws the dropout masks.
	Seed int64

	// OutputPath is where the best model is saved. Empty disables saving.
	OutputPath string
	// Evaluate is optional. Without it the final model is saved.
	Evaluate EvaluateFunc
	// OnEvaluation observes every evaluation as it happens.
	OnEvaluation func(Evaluation)

	Logger zerolog.Logger
}

// Evaluation is one evaluator call during training.
type Evaluation struct {
	Epoch      int
	Steps      int
	GlobalStep int
	Score      float64
	Saved      bool
}

// State is written next to every saved checkpoint.
type State struct {
	Epoch      int      `json:"epoch"`
	Steps      int      `json:"steps"`
	GlobalStep int      `json:"global_step"`
	Score      *float64 `json:"score"`
}

// Result summarises a training run.
type Result struct {
	WarmupSteps int
	TotalSteps  int
	GlobalSteps int
	BestScore   float64
	Evaluations []Evaluation
	// Saves lists the evaluations that produced a checkpoint, in order.
	Saves []State
	// EpochLoss is the mean batch loss of each epoch.
	EpochLoss []float64
}

type fitter struct {
	model  *model.SentenceModel
	opts   Options
	result *Result
	log    zerolog.Logger
}

// Fit trains m for opts.Epochs epochs over loader with a GoMLX training
// loop. The model is saved to opts.OutputPath whenever the evaluation score
// improves on the best so far.
func Fit(ctx context.Context, m *model.SentenceModel, loader *Loader, opts Options) (*Result, error) {
	if opts.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", opts.Epochs)
	}

	stepsPerEpoch := loader.Len()
	total := stepsPerEpoch * opts.Epochs
	schedule := LinearSchedule{Warmup: opts.WarmupSteps, Total: total}

	encoder := m.Backend()
	if err := encoder.Ctx.SetRNGStateFromSeed(opts.Seed); err != nil {
		return nil, fmt.Errorf("seed dropout: %w", err)
	}
	trainer := mltrain.NewTrainer(encoder.Backend, encoder.Ctx,
		pairModelFn(m, opts.Dropout),
		CosineSimilarityLoss,
		newScheduledAdamW(opts.Optimizer, schedule, opts.MaxGradNorm),
		nil, nil)
	loop := mltrain.NewLoop(trainer)

	f := &fitter{
		model: m,
		opts:  opts,
		log:   opts.Logger,
		result: &Result{
			WarmupSteps: opts.WarmupSteps,
			TotalSteps:  total,
			BestScore:   math.Inf(-1),
		},
	}
	f.log.Info().
		Int("examples", loader.Size()).
		Int("steps_per_epoch", stepsPerEpoch).
		Int("total_steps", total).
		Int("warmup_steps", opts.WarmupSteps).
		Msg("Training")

	var epoch, steps int
	var epochLoss float64
	loop.OnStep("stsfit", mltrain.Priority(1), func(_ *mltrain.Loop, metrics []*tensors.Tensor) error {
		batchLoss := shapes.ConvertTo[float64](metrics[0].Value())
		lr := opts.Optimizer.LearningRate * schedule.Factor(f.result.GlobalSteps)
		steps++
		f.result.GlobalSteps++
		epochLoss += batchLoss
		f.log.Debug().
			Int("epoch", epoch).
			Int("step", f.result.GlobalSteps).
			Float64("loss", batchLoss).
			Float64("lr", lr).
			Msg("Step")

		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.EvaluationSteps > 0 && steps%opts.EvaluationSteps == 0 {
			return f.evaluate(ctx, epoch, steps, f.result.GlobalSteps)
		}
		return nil
	})

	ds := newPairDataset(m, loader)
	for epoch = 0; epoch < opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return f.result, err
		}
		steps, epochLoss = 0, 0

		// The loop reports dataset and graph failures as panics.
		err := exceptions.TryCatch[error](func() {
			if _, err := loop.RunEpochs(ds, 1); err != nil {
				panic(err)
			}
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return f.result, ctxErr
			}
			return f.result, fmt.Errorf("epoch %d step %d: %w", epoch, steps, err)
		}

		meanLoss := epochLoss / float64(max(steps, 1))
		f.result.EpochLoss = append(f.result.EpochLoss, meanLoss)
		f.log.Info().Int("epoch", epoch).Float64("loss", meanLoss).Msg("Epoch finished")

		if err := f.evaluate(ctx, epoch, -1, f.result.GlobalSteps); err != nil {
			return f.result, err
		}
	}

	if len(f.result.Saves) == 0 && opts.OutputPath != "" {
		if err := f.save(State{Epoch: opts.Epochs - 1, Steps: -1, GlobalStep: f.result.GlobalSteps}); err != nil {
			return f.result, err
		}
		f.log.Info().Str("path", opts.OutputPath).Msg("No improving evaluation, saved final model")
	}
	return f.result, nil
}

func (f *fitter) evaluate(ctx context.Context, epoch, steps, global int) error {
	if f.opts.Evaluate == nil {
		return nil
	}
	score, err := f.opts.Evaluate(ctx, epoch, steps)
	if err != nil {
		return fmt.Errorf("evaluate epoch %d steps %d: %w", epoch, steps, err)
	}

	ev := Evaluation{Epoch: epoch, Steps: steps, GlobalStep: global, Score: score}
	if score > f.result.BestScore {
		f.result.BestScore = score
		if f.opts.OutputPath != "" {
			s := score
			if err := f.save(State{Epoch: epoch, Steps: steps, GlobalStep: global, Score: &s}); err != nil {
				return err
			}
			ev.Saved = true
		}
	}
	f.result.Evaluations = append(f.result.Evaluations, ev)

	f.log.Info().
		Int("epoch", epoch).
		Int("steps", steps).
		Float64("score", score).
		Bool("saved", ev.Saved).
		Msg("Evaluation")
	if f.opts.OnEvaluation != nil {
		f.opts.OnEvaluation(ev)
	}
	return nil
}

func (f *fitter) save(st State) error {
	if err := f.model.Save(f.opts.OutputPath); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(f.opts.OutputPath, StateFile), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", StateFile, err)
	}
	f.result.Saves = append(f.result.Saves, st)
	return nil
}

// ReadState reads the training state saved with a checkpoint.
func ReadState(dir string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(dir, StateFile))
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", StateFile, err)
	}
	return &st, nil
}
