// Package mcp provides an MCP (Model Context Protocol) server over a trained
// sentence embedding model. Agents can score and rank sentences through MCP
// tools instead of loading the checkpoint themselves.
package mcp

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hargabyte/stsfit/internal/embeddings"
	"github.com/hargabyte/stsfit/internal/evaluation"
)

// Server wraps the MCP server with an embedding model.
type Server struct {
	mcpServer    *server.MCPServer
	embedder     embeddings.Embedder
	tools        map[string]bool
	lastActivity time.Time
	timeout      time.Duration
	mu           sync.RWMutex
}

// Config holds server configuration
type Config struct {
	Tools   []string      // Which tools to expose (empty = defaults)
	Timeout time.Duration // Inactivity timeout (0 = no timeout)
	Version string
}

// DefaultTools is the default set of tools to expose
var DefaultTools = []string{"sts_similarity", "sts_rank"}

// AllTools lists all available tools
var AllTools = []string{"sts_similarity", "sts_rank", "sts_embed"}

// DefaultRankLimit caps sts_rank results when no limit is given.
const DefaultRankLimit = 10

// New creates a server answering tool calls with embedder.
func New(embedder embeddings.Embedder, cfg Config) (*Server, error) {
	if embedder == nil {
		return nil, fmt.Errorf("mcp: nil embedder")
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcpServer: server.NewMCPServer(
			"stsfit",
			version,
			server.WithToolCapabilities(false),
		),
		embedder:     embedder,
		tools:        make(map[string]bool),
		lastActivity: time.Now(),
		timeout:      cfg.Timeout,
	}

	toolsToRegister := cfg.Tools
	if len(toolsToRegister) == 0 {
		toolsToRegister = DefaultTools
	}
	for _, toolName := range toolsToRegister {
		if err := s.registerTool(toolName); err != nil {
			return nil, fmt.Errorf("failed to register tool %s: %w", toolName, err)
		}
		s.tools[toolName] = true
	}

	return s, nil
}

func (s *Server) registerTool(name string) error {
	switch name {
	case "sts_similarity":
		s.mcpServer.AddTool(mcp.NewTool("sts_similarity",
			mcp.WithDescription(toolSchemaRegistry["sts_similarity"].Description),
			mcp.WithString("sentence_a", mcp.Required(), mcp.Description("First sentence")),
			mcp.WithString("sentence_b", mcp.Required(), mcp.Description("Second sentence")),
		), s.handleSimilarity)
	case "sts_rank":
		s.mcpServer.AddTool(mcp.NewTool("sts_rank",
			mcp.WithDescription(toolSchemaRegistry["sts_rank"].Description),
			mcp.WithString("query", mcp.Required(), mcp.Description("Sentence to compare against")),
			mcp.WithArray("candidates", mcp.Required(), mcp.Description("Sentences to rank"), mcp.WithStringItems()),
			mcp.WithNumber("limit", mcp.Description("Maximum results (default: 10)")),
		), s.handleRank)
	case "sts_embed":
		s.mcpServer.AddTool(mcp.NewTool("sts_embed",
			mcp.WithDescription(toolSchemaRegistry["sts_embed"].Description),
			mcp.WithString("sentence", mcp.Required(), mcp.Description("Sentence to embed")),
		), s.handleEmbed)
	default:
		return fmt.Errorf("unknown tool: %s", name)
	}
	return nil
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	if s.timeout > 0 {
		go s.timeoutChecker()
	}
	return server.ServeStdio(s.mcpServer)
}

// timeoutChecker monitors for inactivity and exits if timeout exceeded
func (s *Server) timeoutChecker() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.RLock()
		elapsed := time.Since(s.lastActivity)
		s.mu.RUnlock()

		if elapsed > s.timeout {
			fmt.Fprintf(os.Stderr, "stsfit serve: timeout after %v of inactivity\n", s.timeout)
			os.Exit(0)
		}
	}
}

func (s *Server) updateActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Close releases the embedder.
func (s *Server) Close() error {
	return s.embedder.Close()
}

// ListTools returns the registered tools, sorted.
func (s *Server) ListTools() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]string, 0, len(s.tools))
	for t := range s.tools {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return tools
}

// ToolSchema describes a tool's name, description, and parameters.
type ToolSchema struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Parameters  []ParameterSchema `json:"parameters" yaml:"parameters"`
}

// ParameterSchema describes a single tool parameter.
type ParameterSchema struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
	Required    bool   `json:"required" yaml:"required"`
}

// ToolList renders schemas as a table.
type ToolList []ToolSchema

// TableHeader implements output.Tabular.
func (ToolList) TableHeader() []string {
	return []string{"TOOL", "PARAMETERS", "DESCRIPTION"}
}

// TableRows implements output.Tabular. Required parameters are starred.
func (l ToolList) TableRows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, t := range l {
		params := make([]string, 0, len(t.Parameters))
		for _, p := range t.Parameters {
			name := p.Name
			if p.Required {
				name += "*"
			}
			params = append(params, name)
		}
		rows = append(rows, []string{t.Name, strings.Join(params, ", "), t.Description})
	}
	return rows
}

// toolSchemaRegistry mirrors the mcp.NewTool definitions in registerTool.
var toolSchemaRegistry = map[string]ToolSchema{
	"sts_similarity": {
		Name:        "sts_similarity",
		Description: "Cosine similarity between the embeddings of two sentences.",
		Parameters: []ParameterSchema{
			{Name: "sentence_a", Type: "string", Description: "First sentence", Required: true},
			{Name: "sentence_b", Type: "string", Description: "Second sentence", Required: true},
		},
	},
	"sts_rank": {
		Name:        "sts_rank",
		Description: "Rank candidate sentences by cosine similarity to a query sentence.",
		Parameters: []ParameterSchema{
			{Name: "query", Type: "string", Description: "Sentence to compare against", Required: true},
			{Name: "candidates", Type: "array", Description: "Sentences to rank", Required: true},
			{Name: "limit", Type: "number", Description: "Maximum results (default: 10)"},
		},
	},
	"sts_embed": {
		Name:        "sts_embed",
		Description: "Mean-pooled sentence embedding of one sentence.",
		Parameters: []ParameterSchema{
			{Name: "sentence", Type: "string", Description: "Sentence to embed", Required: true},
		},
	},
}

// AllSchemas returns the schemas of AllTools.
func AllSchemas() []ToolSchema {
	schemas := make([]ToolSchema, 0, len(AllTools))
	for _, name := range AllTools {
		schemas = append(schemas, toolSchemaRegistry[name])
	}
	return schemas
}

// GetToolSchemas returns schemas for all registered tools, sorted by name.
func (s *Server) GetToolSchemas() []ToolSchema {
	names := s.ListTools()
	schemas := make([]ToolSchema, 0, len(names))
	for _, name := range names {
		if schema, ok := toolSchemaRegistry[name]; ok {
			schemas = append(schemas, schema)
		}
	}
	return schemas
}

// CallTool dispatches a tool call by name with the given arguments.
// Returns the JSON result string or an error.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	s.mu.RLock()
	registered := s.tools[name]
	s.mu.RUnlock()

	if !registered {
		return "", fmt.Errorf("unknown tool: %s", name)
	}

	switch name {
	case "sts_similarity":
		a, _ := args["sentence_a"].(string)
		b, _ := args["sentence_b"].(string)
		if a == "" || b == "" {
			return "", fmt.Errorf("sentence_a and sentence_b parameters are required")
		}
		return s.executeSimilarity(ctx, a, b)

	case "sts_rank":
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("query parameter is required")
		}
		candidates, err := stringList(args["candidates"])
		if err != nil {
			return "", err
		}
		limit := DefaultRankLimit
		if l, ok := args["limit"].(float64); ok {
			limit = int(l)
		}
		return s.executeRank(ctx, query, candidates, limit)

	case "sts_embed":
		sentence, _ := args["sentence"].(string)
		if sentence == "" {
			return "", fmt.Errorf("sentence parameter is required")
		}
		return s.executeEmbed(ctx, sentence)

	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (s *Server) handleSimilarity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handle(ctx, "sts_similarity", req)
}

func (s *Server) handleRank(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handle(ctx, "sts_rank", req)
}

func (s *Server) handleEmbed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handle(ctx, "sts_embed", req)
}

func (s *Server) handle(ctx context.Context, name string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.updateActivity()

	result, err := s.CallTool(ctx, name, req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(result), nil
}

// SimilarityResult is the sts_similarity payload.
type SimilarityResult struct {
	SentenceA  string  `json:"sentence_a"`
	SentenceB  string  `json:"sentence_b"`
	Similarity float64 `json:"similarity"`
	Model      string  `json:"model"`
}

func (s *Server) executeSimilarity(ctx context.Context, a, b string) (string, error) {
	vecs, err := s.embed(ctx, []string{a, b})
	if err != nil {
		return "", err
	}
	return toJSON(SimilarityResult{
		SentenceA:  a,
		SentenceB:  b,
		Similarity: evaluation.CosineSimilarity(vecs[0], vecs[1]),
		Model:      s.embedder.ModelVersion(),
	})
}

// RankedSentence is one sts_rank entry.
type RankedSentence struct {
	Rank       int     `json:"rank"`
	Index      int     `json:"index"`
	Sentence   string  `json:"sentence"`
	Similarity float64 `json:"similarity"`
}

// RankResult is the sts_rank payload.
type RankResult struct {
	Query   string           `json:"query"`
	Results []RankedSentence `json:"results"`
	Total   int              `json:"total"`
}

func (s *Server) executeRank(ctx context.Context, query string, candidates []string, limit int) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("candidates must not be empty")
	}
	vecs, err := s.embed(ctx, append([]string{query}, candidates...))
	if err != nil {
		return "", err
	}

	ranked := make([]RankedSentence, len(candidates))
	for i, c := range candidates {
		ranked[i] = RankedSentence{Index: i, Sentence: c, Similarity: evaluation.CosineSimilarity(vecs[0], vecs[i+1])}
	}
	// Stable so equal scores keep input order.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Similarity > ranked[j].Similarity })
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	return toJSON(RankResult{Query: query, Results: ranked, Total: len(candidates)})
}

// EmbedResult is the sts_embed payload.
type EmbedResult struct {
	Sentence   string    `json:"sentence"`
	Dimensions int       `json:"dimensions"`
	Embedding  []float64 `json:"embedding"`
}

func (s *Server) executeEmbed(ctx context.Context, sentence string) (string, error) {
	vecs, err := s.embed(ctx, []string{sentence})
	if err != nil {
		return "", err
	}
	return toJSON(EmbedResult{Sentence: sentence, Dimensions: len(vecs[0]), Embedding: vecs[0]})
}

func (s *Server) embed(ctx context.Context, texts []string) ([][]float64, error) {
	raw, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	out := make([][]float64, len(raw))
	for i, v := range raw {
		out[i] = make([]float64, len(v))
		for j, x := range v {
			out[i][j] = float64(x)
		}
	}
	return out, nil
}

func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("candidates[%d] is not a string", i)
			}
			out[i] = str
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("candidates parameter is required")
	default:
		return nil, fmt.Errorf("candidates must be an array of strings")
	}
}

func toJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
