package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hargabyte/stsfit/internal/config"
	"github.com/hargabyte/stsfit/internal/history"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded training and evaluation runs",
	Long: `Display the runs recorded in {output_dir}/runs.db, newest first.

Each entry includes:
  - Run id, command and model
  - Status (running, completed, failed)
  - Best dev score and test score
  - Start time, duration and checkpoint directory

Flags:
  --limit N      Number of runs to show (default: 10, 0 for all)
  --format       Output format: yaml|json|table (default: yaml)`,
	Example: `  stsfit history
  stsfit history --limit 0 --format table
  stsfit history --output_dir runs --format json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var (
	historyFlags = config.DefaultConfig()
	historyLimit int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	bindConfigFlags(historyCmd.Flags(), historyFlags, "output_dir")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd.Flags(), historyFlags)
	if err != nil {
		return err
	}

	st, err := history.Open(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(historyLimit)
	if err != nil {
		return fmt.Errorf("get history: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No runs recorded. Run 'stsfit train' first.")
	}
	return printResult(cmd, runList(runs))
}
