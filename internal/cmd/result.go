package cmd

import (
	"time"

	"github.com/hargabyte/stsfit/internal/evaluation"
	"github.com/hargabyte/stsfit/internal/history"
	"github.com/hargabyte/stsfit/internal/output"
	"github.com/hargabyte/stsfit/internal/pipeline"
)

func evaluationOutput(res *evaluation.Result, model, split string, pairs int, resultsFile string) *output.EvaluationOutput {
	out := &output.EvaluationOutput{
		Model:     model,
		Split:     split,
		Pairs:     pairs,
		MainScore: output.Score(res.MainScore),
		Results:   resultsFile,
	}
	for _, fn := range evaluation.Functions {
		c := res.Scores[fn]
		out.Scores = append(out.Scores, output.SimilarityScore{
			Function: string(fn),
			Correlation: output.Correlation{
				Pearson:  output.Score(c.Pearson),
				Spearman: output.Score(c.Spearman),
			},
		})
	}
	return out
}

func trainOutput(r *pipeline.Report, model string) *output.TrainOutput {
	out := &output.TrainOutput{
		RunID:        r.RunID,
		Checkpoint:   r.Checkpoint,
		WarmupSteps:  r.WarmupSteps,
		TotalSteps:   r.TotalSteps,
		BestDevScore: output.Score(r.BestDevScore),
	}
	if r.Test != nil {
		out.Test = evaluationOutput(r.Test, model, "test", r.TestPairs, "")
	}
	return out
}

func runList(runs []*history.Run) *output.RunList {
	out := &output.RunList{Runs: make([]output.RunSummary, 0, len(runs))}
	for _, r := range runs {
		s := output.RunSummary{
			ID:         r.ID,
			Command:    r.Command,
			Model:      r.Model,
			Status:     r.Status,
			BestScore:  output.Score(r.BestScore),
			TestScore:  output.Score(r.TestScore),
			Checkpoint: r.Checkpoint,
			StartedAt:  r.StartedAt.Format(time.DateTime),
			Error:      r.Error,
		}
		if r.FinishedAt != nil {
			s.Duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		out.Runs = append(out.Runs, s)
	}
	return out
}
