package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hargabyte/stsfit/internal/config"
	"github.com/hargabyte/stsfit/internal/history"
	"github.com/hargabyte/stsfit/internal/pipeline"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fine-tune a sentence embedding model on KorSTS",
	Long: `Fine-tune a pretrained encoder with mean pooling on the KorSTS train split.

The run:
  1. Seeds every random stream with --seed
  2. Builds the model from --model_name_or_path (Hub id or local directory)
  3. Loads sts-train.tsv, sts-dev.tsv and sts-test.tsv from --dataset_dir
  4. Trains with cosine-similarity loss, warming the learning rate up over
     the first 10% of steps, evaluating on dev every --evaluation_steps
     steps and after each epoch, keeping the best checkpoint
  5. Reloads the checkpoint and scores it on the test split

The checkpoint is written to
  {output_dir}/{output_prefix}{model id with "/" as "-"}-{YYYY-MM-DD_HH-MM-SS}
and the run is recorded in {output_dir}/runs.db.

Flags override values from --config, which override the defaults.`,
	Example: `  stsfit train --model_name_or_path klue/bert-base
  stsfit train --model_name_or_path klue/roberta-base --batch_size 16 --num_epochs 3
  stsfit train --config train.yaml --seed 42`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

var trainFlags = config.DefaultConfig()

func init() {
	rootCmd.AddCommand(trainCmd)
	bindConfigFlags(trainCmd.Flags(), trainFlags)
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd.Flags(), trainFlags)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	log, err := stderrLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(cfg.OutputDir)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := pipeline.Run(ctx, cfg, pipeline.Deps{History: store, Logger: log})
	if err != nil {
		return err
	}
	return printResult(cmd, trainOutput(report, cfg.ModelNameOrPath))
}
