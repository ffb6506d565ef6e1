package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hargabyte/stsfit/internal/mcp"
)

var (
	callList bool
	callPipe bool
)

var callCmd = &cobra.Command{
	Use:   "call <checkpoint> [tool] [json-args]",
	Short: "Call a similarity tool once, without starting a server",
	Long: `Call any MCP tool against a checkpoint with structured JSON input/output.

Modes:
  stsfit call --list                                List all tools and parameters
  stsfit call <checkpoint> <tool> '{"key":"value"}' Call a tool with JSON args
  stsfit call <checkpoint> --pipe                   Read JSON lines from stdin

Tool names accept shorthand: "rank" is equivalent to "sts_rank".`,
	Example: `  stsfit call --list
  stsfit call ./ckpt similarity '{"sentence_a":"비행기가 이륙하고 있다.","sentence_b":"비행기가 이륙한다."}'
  stsfit call ./ckpt rank '{"query":"한 남자가 노래한다.","candidates":["남자가 노래를 부른다.","고양이가 잔다."]}'
  echo '{"tool":"sts_embed","args":{"sentence":"안녕"}}' | stsfit call ./ckpt --pipe`,
	Args: cobra.MaximumNArgs(3),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().BoolVar(&callList, "list", false, "List all available tools and their parameters")
	callCmd.Flags().BoolVar(&callPipe, "pipe", false, "Read JSON lines from stdin (pipe mode)")
}

func runCall(cmd *cobra.Command, args []string) error {
	if callList {
		return printToolSchemas(cmd)
	}
	if len(args) == 0 {
		return fmt.Errorf("checkpoint directory required (run 'stsfit call --list' to see available tools)")
	}
	if !callPipe && len(args) < 2 {
		return fmt.Errorf("tool name required (run 'stsfit call --list' to see available tools)")
	}

	srv, err := newCheckpointServer(args[0], mcp.AllTools, 0)
	if err != nil {
		return err
	}
	defer srv.Close()

	if callPipe {
		return runCallPipe(cmd, srv, cmd.InOrStdin(), cmd.OutOrStdout())
	}
	return runCallSingle(cmd, srv, args[1:])
}

func runCallSingle(cmd *cobra.Command, srv *mcp.Server, args []string) error {
	toolName := normalizeToolName(args[0])

	toolArgs := make(map[string]any)
	if len(args) >= 2 {
		if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
			return fmt.Errorf("invalid JSON args: %w", err)
		}
	}

	result, err := srv.CallTool(cmd.Context(), toolName, toolArgs)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

// pipeRequest is the JSON format for pipe mode input.
type pipeRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// pipeResponse is the JSON format for pipe mode output.
type pipeResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func runCallPipe(cmd *cobra.Command, srv *mcp.Server, in io.Reader, out io.Writer) error {
	enc := json.NewEncoder(out)
	scanner := bufio.NewScanner(in)
	// Allow larger lines (1MB)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req pipeRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			enc.Encode(pipeResponse{Error: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		if req.Args == nil {
			req.Args = make(map[string]any)
		}

		result, err := srv.CallTool(cmd.Context(), normalizeToolName(req.Tool), req.Args)
		if err != nil {
			enc.Encode(pipeResponse{Error: err.Error()})
			continue
		}
		enc.Encode(pipeResponse{Result: json.RawMessage(result)})
	}

	return scanner.Err()
}
