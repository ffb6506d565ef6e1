package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hargabyte/stsfit/internal/mcp"
	"github.com/hargabyte/stsfit/internal/model"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve <checkpoint>",
	Short: "Start an MCP server over a trained checkpoint",
	Long: `Start an MCP (Model Context Protocol) server that answers sentence
similarity queries with a checkpoint written by 'stsfit train'.

The checkpoint is loaded once and stays in memory, so agents can score many
sentence pairs without reloading the model for each call.

Available Tools:
  sts_similarity   Cosine similarity of two sentences
  sts_rank         Rank candidate sentences against a query
  sts_embed        Embedding of one sentence (not exposed by default)`,
	Example: `  stsfit serve --mcp ./ckpt                          # Start with default tools
  stsfit serve --mcp ./ckpt --tools similarity,embed  # Start with specific tools only
  stsfit serve --mcp ./ckpt --timeout 30m             # Auto-stop after 30 minutes
  stsfit serve --list-tools                           # Show available tools`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

var (
	serveMCP       bool
	serveTools     string
	serveTimeout   string
	serveListTools bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "Start MCP server (stdio transport)")
	serveCmd.Flags().StringVar(&serveTools, "tools", "", "Comma-separated list of tools to expose (default: similarity,rank)")
	serveCmd.Flags().StringVar(&serveTimeout, "timeout", "30m", "Inactivity timeout (0 for no timeout)")
	serveCmd.Flags().BoolVar(&serveListTools, "list-tools", false, "List available tools")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveListTools {
		return printToolSchemas(cmd)
	}
	if !serveMCP {
		return fmt.Errorf("use --mcp to start the MCP server, or --help for usage")
	}
	if len(args) == 0 {
		return fmt.Errorf("checkpoint directory required")
	}

	timeout, err := parseDuration(serveTimeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	server, err := newCheckpointServer(args[0], parseToolList(serveTools), timeout)
	if err != nil {
		return err
	}
	defer server.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintf(os.Stderr, "\nstsfit serve: shutting down\n")
		server.Close()
		os.Exit(0)
	}()

	// stdout carries the MCP protocol.
	fmt.Fprintf(os.Stderr, "stsfit serve: starting MCP server for %s\n", args[0])
	fmt.Fprintf(os.Stderr, "stsfit serve: tools: %v\n", server.ListTools())
	if timeout > 0 {
		fmt.Fprintf(os.Stderr, "stsfit serve: timeout: %v\n", timeout)
	}

	return server.ServeStdio()
}

func newCheckpointServer(checkpoint string, tools []string, timeout time.Duration) (*mcp.Server, error) {
	m, err := model.Load(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	server, err := mcp.New(m, mcp.Config{Tools: tools, Timeout: timeout, Version: Version})
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}
	return server, nil
}

// printToolSchemas lists every tool without loading a model.
func printToolSchemas(cmd *cobra.Command) error {
	return printResult(cmd, mcp.ToolList(mcp.AllSchemas()))
}

func parseToolList(s string) []string {
	var tools []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tools = append(tools, normalizeToolName(t))
		}
	}
	return tools
}

// normalizeToolName allows shorthand (rank -> sts_rank).
func normalizeToolName(name string) string {
	if strings.HasPrefix(name, "sts_") {
		return name
	}
	return "sts_" + name
}

func parseDuration(s string) (time.Duration, error) {
	if s == "0" || s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
