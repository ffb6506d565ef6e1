package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hargabyte/stsfit/internal/config"
	"github.com/hargabyte/stsfit/internal/embeddings"
	"github.com/hargabyte/stsfit/internal/history"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline <onnx-model>",
	Short: "Score an off-the-shelf ONNX sentence model on a KorSTS split",
	Long: `Run an ONNX sentence embedding model through the hugot feature-extraction
pipeline and score it on one split with the same evaluator 'stsfit train'
uses, to compare a fine-tuned checkpoint against a reference model.

The argument is a local directory holding an ONNX export, or a HuggingFace
Hub repository id that is downloaded into --model_dir.`,
	Example: `  stsfit baseline sentence-transformers/all-MiniLM-L6-v2
  stsfit baseline ./models/ko-sroberta --split dev`,
	Args: cobra.ExactArgs(1),
	RunE: runBaseline,
}

var (
	baselineFlags      = config.DefaultConfig()
	baselineModelDir   string
	baselineSplit      string
	baselineResultsDir string
)

func init() {
	rootCmd.AddCommand(baselineCmd)
	bindConfigFlags(baselineCmd.Flags(), baselineFlags, "dataset_dir", "batch_size", "workers", "output_dir")
	baselineCmd.Flags().StringVar(&baselineSplit, "split", "test", "Split to score (train|dev|test)")
	baselineCmd.Flags().StringVar(&baselineResultsDir, "results_dir", "", "Directory to append the results CSV to")
	baselineCmd.Flags().StringVar(&baselineModelDir, "model_dir", embeddings.DefaultModelDir, "Download directory for Hub models")
}

func runBaseline(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd.Flags(), baselineFlags)
	if err != nil {
		return err
	}
	log, err := stderrLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	embedder, err := embeddings.NewHugotEmbedder(args[0], baselineModelDir)
	if err != nil {
		return fmt.Errorf("load onnx model: %w", err)
	}
	defer embedder.Close()
	log.Info().Str("model", embedder.ModelVersion()).Int("dimensions", embedder.Dimensions()).Msg("Loaded ONNX model")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := scoreSplit(ctx, cfg, log, embedder, &history.Run{Command: "baseline", Model: args[0]}, baselineSplit, baselineResultsDir)
	if err != nil {
		return err
	}
	return printResult(cmd, out)
}
