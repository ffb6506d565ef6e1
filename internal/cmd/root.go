// Package cmd contains all CLI commands for stsfit.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hargabyte/stsfit/internal/output"
)

var (
	// Version is the current version of stsfit
	Version = "0.1.0"

	// Global flags
	verbose      bool
	configPath   string
	forAgents    bool
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stsfit",
	Short: "Fine-tune sentence embedding models on KorSTS",
	Long: `stsfit fine-tunes a pretrained transformer encoder with mean pooling into a
sentence embedding model for Korean semantic textual similarity (KorSTS).

Training minimises the squared error between the cosine similarity of two
sentence embeddings and the gold score rescaled to [0,1]. The model is scored
on the dev split during training, the best checkpoint is kept, and the
reloaded checkpoint is scored on the test split.

Output Format:
  Results are printed as YAML by default.
  Use --format to switch to JSON or a table. Logs go to stderr.

Main capabilities:
  - Train and checkpoint a sentence model (train)
  - Score a checkpoint on any split (evaluate)
  - Score an ONNX model as a baseline (baseline)
  - List recorded runs (history)
  - Serve similarity tools over MCP (serve, call)

Examples:
  stsfit train --model_name_or_path klue/bert-base
  stsfit train --model_name_or_path klue/roberta-base --batch_size 16
  stsfit evaluate output/kor_sts_klue-bert-base-2024-01-01_00-00-00
  stsfit history --format table

See 'stsfit <command> --help' for command-specific options.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", string(output.DefaultFormat), "Output format (yaml|json|table)")
	rootCmd.Flags().BoolVar(&forAgents, "for-agents", false, "Output machine-readable capability discovery JSON")

	originalHelp := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if forAgents {
			outputAgentHelp(cmd)
			return
		}
		originalHelp(cmd, args)
	})
}

// printResult writes v to stdout in the selected --format.
func printResult(cmd *cobra.Command, v any) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	f, err := output.GetFormatter(format)
	if err != nil {
		return err
	}
	return f.FormatToWriter(cmd.OutOrStdout(), v)
}

// CommandInfo represents a command for agent discovery
type CommandInfo struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Usage       string        `json:"usage"`
	Flags       []FlagInfo    `json:"flags,omitempty"`
	Subcommands []CommandInfo `json:"subcommands,omitempty"`
	Examples    []string      `json:"examples,omitempty"`
}

// FlagInfo represents a command flag for agent discovery
type FlagInfo struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
}

// outputAgentHelp outputs machine-readable JSON describing all commands
func outputAgentHelp(cmd *cobra.Command) {
	root := buildCommandInfo(cmd.Root())

	out := map[string]any{
		"version":      Version,
		"commands":     root.Subcommands,
		"global_flags": root.Flags,
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.Encode(out)
}

// buildCommandInfo recursively builds command information for agent discovery
func buildCommandInfo(cmd *cobra.Command) CommandInfo {
	info := CommandInfo{
		Name:        cmd.Name(),
		Description: cmd.Short,
		Usage:       cmd.UseLine(),
	}

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		info.Flags = append(info.Flags, FlagInfo{
			Name:        f.Name,
			Shorthand:   f.Shorthand,
			Description: f.Usage,
			Type:        f.Value.Type(),
			Default:     f.DefValue,
		})
	})

	for _, sub := range cmd.Commands() {
		if !sub.Hidden {
			info.Subcommands = append(info.Subcommands, buildCommandInfo(sub))
		}
	}

	if cmd.Example != "" {
		for _, line := range strings.Split(cmd.Example, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				info.Examples = append(info.Examples, trimmed)
			}
		}
	}

	return info
}
