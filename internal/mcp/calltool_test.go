package mcp

import (
	"context"
	"sort"
	"testing"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hargabyte/stsfit/internal/model/modeltest"
)

func newTestServer(t *testing.T, tools ...string) *Server {
	t.Helper()
	m, err := modeltest.NewModel(t.TempDir(), 16, 5, "a man plays a guitar", "a man plays music", "the plane takes off")
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	s, err := New(m, Config{Tools: tools})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s
}

func TestGetToolSchemas(t *testing.T) {
	for _, name := range AllTools {
		schema, ok := toolSchemaRegistry[name]
		if !ok {
			t.Errorf("toolSchemaRegistry missing tool: %s", name)
			continue
		}
		if schema.Name != name {
			t.Errorf("schema name mismatch: got %q, want %q", schema.Name, name)
		}
		if schema.Description == "" {
			t.Errorf("tool %s has empty description", name)
		}
	}

	if len(toolSchemaRegistry) != len(AllTools) {
		t.Errorf("toolSchemaRegistry has %d tools, want %d", len(toolSchemaRegistry), len(AllTools))
	}

	s := newTestServer(t)
	got := s.GetToolSchemas()
	if len(got) != len(DefaultTools) {
		t.Fatalf("default server exposes %d tools, want %d", len(got), len(DefaultTools))
	}
	if got[0].Name != "sts_rank" || got[1].Name != "sts_similarity" {
		t.Errorf("schemas not sorted: %s, %s", got[0].Name, got[1].Name)
	}
}

func TestToolSchemaParameters(t *testing.T) {
	tests := []struct {
		tool          string
		requiredParam string
	}{
		{"sts_similarity", "sentence_a"},
		{"sts_similarity", "sentence_b"},
		{"sts_rank", "query"},
		{"sts_rank", "candidates"},
		{"sts_embed", "sentence"},
	}

	for _, tt := range tests {
		schema := toolSchemaRegistry[tt.tool]
		found := false
		for _, p := range schema.Parameters {
			if p.Name == tt.requiredParam {
				found = true
				if !p.Required {
					t.Errorf("tool %s param %s should be required", tt.tool, tt.requiredParam)
				}
			}
		}
		if !found {
			t.Errorf("tool %s missing parameter %s", tt.tool, tt.requiredParam)
		}
	}
}

func TestNewUnknownTool(t *testing.T) {
	m, err := modeltest.NewModel(t.TempDir(), 8, 1, "x")
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if _, err := New(m, Config{Tools: []string{"cx_map"}}); err == nil {
		t.Error("expected error for unknown tool")
	}
	if _, err := New(nil, Config{}); err == nil {
		t.Error("expected error for nil embedder")
	}
}

func TestCallSimilarity(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	out, err := s.CallTool(ctx, "sts_similarity", map[string]any{
		"sentence_a": "a man plays a guitar",
		"sentence_b": "a man plays a guitar",
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var res SimilarityResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Similarity > 1 {
		t.Errorf("similarity %v exceeds 1", res.Similarity)
	}
	if res.Similarity < 0.9999 {
		t.Errorf("identical sentences similarity = %v, want 1", res.Similarity)
	}
	if res.Model != "tiny-bert" {
		t.Errorf("model = %q", res.Model)
	}

	if _, err := s.CallTool(ctx, "sts_similarity", map[string]any{"sentence_a": "x"}); err == nil {
		t.Error("expected error for missing sentence_b")
	}
	if _, err := s.CallTool(ctx, "sts_embed", map[string]any{"sentence": "x"}); err == nil {
		t.Error("expected error for unregistered tool")
	}
}

func TestCallRank(t *testing.T) {
	s := newTestServer(t, "sts_rank")
	candidates := []any{"the plane takes off", "a man plays a guitar", "a man plays music"}

	out, err := s.CallTool(context.Background(), "sts_rank", map[string]any{
		"query":      "a man plays a guitar",
		"candidates": candidates,
		"limit":      float64(2),
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var res RankResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Total != 3 || len(res.Results) != 2 {
		t.Fatalf("total %d, results %d; want 3, 2", res.Total, len(res.Results))
	}
	if res.Results[0].Index != 1 || res.Results[0].Rank != 1 {
		t.Errorf("top result = %+v, want the identical sentence", res.Results[0])
	}
	if !sort.SliceIsSorted(res.Results, func(i, j int) bool {
		return res.Results[i].Similarity > res.Results[j].Similarity
	}) {
		t.Error("results not sorted by similarity")
	}

	_, err = s.CallTool(context.Background(), "sts_rank", map[string]any{
		"query":      "q",
		"candidates": []any{"ok", 3.0},
	})
	if err == nil {
		t.Error("expected error for non-string candidate")
	}
}

func TestCallEmbed(t *testing.T) {
	s := newTestServer(t, AllTools...)
	out, err := s.CallTool(context.Background(), "sts_embed", map[string]any{"sentence": "a man plays music"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var res EmbedResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Dimensions != 8 || len(res.Embedding) != 8 {
		t.Errorf("dimensions = %d, len = %d; want 8", res.Dimensions, len(res.Embedding))
	}
}

func TestHandleReportsToolErrors(t *testing.T) {
	s := newTestServer(t)
	req := mcp.CallToolRequest{}
	req.Params.Name = "sts_similarity"
	req.Params.Arguments = map[string]any{"sentence_a": "only one"}

	res, err := s.handleSimilarity(context.Background(), req)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if !res.IsError {
		t.Error("expected an error result")
	}
}
