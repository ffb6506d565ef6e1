package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/hargabyte/stsfit/internal/config"
	"github.com/hargabyte/stsfit/internal/dataset"
	"github.com/hargabyte/stsfit/internal/history"
	"github.com/hargabyte/stsfit/internal/model"
	"github.com/hargabyte/stsfit/internal/model/modeltest"
	"github.com/hargabyte/stsfit/internal/output"
)

func TestNormalizeToolName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"similarity", "sts_similarity"},
		{"sts_similarity", "sts_similarity"},
		{"rank", "sts_rank"},
		{"embed", "sts_embed"},
		{"nonexistent", "sts_nonexistent"},
	}

	for _, tt := range tests {
		if got := normalizeToolName(tt.input); got != tt.want {
			t.Errorf("normalizeToolName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseToolList(t *testing.T) {
	got := parseToolList(" rank, sts_embed ,,")
	if len(got) != 2 || got[0] != "sts_rank" || got[1] != "sts_embed" {
		t.Errorf("parseToolList = %v", got)
	}
	if parseToolList("") != nil {
		t.Error("empty list should be nil")
	}
}

func TestParseDuration(t *testing.T) {
	for _, s := range []string{"", "0"} {
		if d, err := parseDuration(s); err != nil || d != 0 {
			t.Errorf("parseDuration(%q) = %v, %v", s, d, err)
		}
	}
	if d, err := parseDuration("30m"); err != nil || d != 30*time.Minute {
		t.Errorf("parseDuration(30m) = %v, %v", d, err)
	}
	if _, err := parseDuration("soon"); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestResolveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	yaml := "model_name_or_path: klue/roberta-base\nbatch_size: 16\nseed: 1\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	configPath = path
	t.Cleanup(func() { configPath = "" })

	flagged := config.DefaultConfig()
	fs := pflag.NewFlagSet("train", pflag.ContinueOnError)
	bindConfigFlags(fs, flagged)
	if err := fs.Parse([]string{"--seed", "42", "--learning_rate", "3e-5"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg, err := resolveConfig(fs, flagged)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.ModelNameOrPath != "klue/roberta-base" || cfg.BatchSize != 16 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Seed != 42 || cfg.Optimizer.LearningRate != 3e-5 {
		t.Errorf("flag values not applied: seed=%d lr=%g", cfg.Seed, cfg.Optimizer.LearningRate)
	}
	if cfg.NumEpochs != 5 || cfg.OutputPrefix != "kor_sts_" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestBindConfigFlagsSubset(t *testing.T) {
	fs := pflag.NewFlagSet("evaluate", pflag.ContinueOnError)
	bindConfigFlags(fs, config.DefaultConfig(), "dataset_dir", "batch_size")
	if fs.Lookup("dataset_dir") == nil || fs.Lookup("batch_size") == nil {
		t.Error("requested flags not registered")
	}
	if fs.Lookup("seed") != nil {
		t.Error("unrequested flag registered")
	}

	fs = pflag.NewFlagSet("train", pflag.ContinueOnError)
	bindConfigFlags(fs, config.DefaultConfig())
	for _, name := range []string{"model_name_or_path", "max_seq_length", "batch_size", "num_epochs", "output_dir", "output_prefix", "seed"} {
		if f := fs.Lookup(name); f == nil {
			t.Errorf("flag --%s missing", name)
		}
	}
	if got := fs.Lookup("max_seq_length").DefValue; got != "128" {
		t.Errorf("max_seq_length default = %s, want 128", got)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "warn")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected log output %q", buf.String())
	}

	if _, err := newLogger(&buf, "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

// writeCheckpoint saves a tiny model and a dataset directory.
func writeCheckpoint(t *testing.T) (checkpoint, dataDir string) {
	t.Helper()
	root := t.TempDir()
	rows := []string{
		"a dog runs\ta dog is running\t4.6",
		"a woman slices an onion\ta child sleeps\t0.0",
		"a man plays music\ta man plays a guitar\t3.9",
	}
	var texts []string
	for _, r := range rows {
		texts = append(texts, strings.Split(r, "\t")[:2]...)
	}
	m, err := modeltest.NewModel(filepath.Join(root, "source"), 16, 3, texts...)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	checkpoint = filepath.Join(root, "ckpt")
	if err := m.Save(checkpoint); err != nil {
		t.Fatal(err)
	}

	dataDir = filepath.Join(root, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatal(err)
	}
	content := strings.Join(rows, "\n") + "\n"
	if err := os.WriteFile(dataset.SplitPath(dataDir, dataset.Test), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return checkpoint, dataDir
}

func TestEvaluateCommand(t *testing.T) {
	checkpoint, dataDir := writeCheckpoint(t)
	outDir := filepath.Join(t.TempDir(), "output")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"evaluate", checkpoint, "--dataset_dir", dataDir, "--output_dir", outDir, "--format", "json"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		outputFormat = string(output.DefaultFormat)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var out output.EvaluationOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output %q: %v", stdout.String(), err)
	}
	if out.Pairs != 3 || out.Split != dataset.Test || len(out.Scores) != 4 {
		t.Errorf("unexpected output %+v", out)
	}
	if out.Scores[0].Function != "cosine" {
		t.Errorf("first score = %s, want cosine", out.Scores[0].Function)
	}

	st, err := history.Open(outDir)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	runs, err := st.ListRuns(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Command != "evaluate" || runs[0].Status != history.StatusCompleted {
		t.Errorf("recorded runs = %+v", runs)
	}
}

func TestBaselineCommand_OwnSplitFlags(t *testing.T) {
	checkpoint, dataDir := writeCheckpoint(t)
	outDir := filepath.Join(t.TempDir(), "output")
	resultsDir := t.TempDir()

	prevSplit, prevResults := evaluateSplit, evaluateResultsDir
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"baseline", checkpoint,
		"--dataset_dir", dataDir, "--output_dir", outDir,
		"--split", dataset.Test, "--results_dir", resultsDir, "--format", "json"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		outputFormat = string(output.DefaultFormat)
		baselineSplit, baselineResultsDir = dataset.Test, ""
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if evaluateSplit != prevSplit || evaluateResultsDir != prevResults {
		t.Errorf("baseline flags changed evaluate settings to %q, %q", evaluateSplit, evaluateResultsDir)
	}
	if baselineSplit != dataset.Test || baselineResultsDir != resultsDir {
		t.Errorf("baseline settings = %q, %q", baselineSplit, baselineResultsDir)
	}

	var out output.EvaluationOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output %q: %v", stdout.String(), err)
	}
	if out.Pairs != 3 || out.Split != dataset.Test {
		t.Errorf("unexpected output %+v", out)
	}
	if out.Results == "" || filepath.Dir(out.Results) != resultsDir {
		t.Errorf("results file = %q, want one in %s", out.Results, resultsDir)
	}
	if _, err := os.Stat(out.Results); err != nil {
		t.Errorf("results file: %v", err)
	}
}

func TestScoreSplit_UsesGivenSplit(t *testing.T) {
	checkpoint, dataDir := writeCheckpoint(t)
	m, err := model.Load(checkpoint)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	cfg := config.DefaultConfig()
	cfg.DatasetDir = dataDir
	cfg.OutputDir = t.TempDir()

	prev := evaluateSplit
	evaluateSplit = "nope"
	t.Cleanup(func() { evaluateSplit = prev })

	resultsDir := t.TempDir()
	out, err := scoreSplit(context.Background(), cfg, zerolog.Nop(), m, &history.Run{Command: "evaluate"}, dataset.Test, resultsDir)
	if err != nil {
		t.Fatalf("scoreSplit: %v", err)
	}
	if out.Split != dataset.Test || out.Pairs != 3 {
		t.Errorf("unexpected output %+v", out)
	}
	if filepath.Dir(out.Results) != resultsDir {
		t.Errorf("results file = %q", out.Results)
	}

	_, err = scoreSplit(context.Background(), cfg, zerolog.Nop(), m, &history.Run{Command: "evaluate"}, "nope", "")
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("unknown split error = %v", err)
	}
}

func TestCallPipe(t *testing.T) {
	checkpoint, _ := writeCheckpoint(t)
	srv, err := newCheckpointServer(checkpoint, []string{"sts_similarity", "sts_rank"}, 0)
	if err != nil {
		t.Fatalf("newCheckpointServer: %v", err)
	}
	defer srv.Close()

	in := strings.NewReader(strings.Join([]string{
		`{"tool":"similarity","args":{"sentence_a":"a dog runs","sentence_b":"a dog runs"}}`,
		``,
		`not json`,
		`{"tool":"sts_embed","args":{"sentence":"a dog runs"}}`,
	}, "\n"))
	var out bytes.Buffer
	callCmd.SetContext(context.Background())
	if err := runCallPipe(callCmd, srv, in, &out); err != nil {
		t.Fatalf("runCallPipe: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d responses, want 3: %q", len(lines), out.String())
	}
	var first struct {
		Result struct {
			Similarity float64 `json:"similarity"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Result.Similarity < 0.9999 {
		t.Errorf("similarity = %v, want 1", first.Result.Similarity)
	}
	if !strings.Contains(lines[1], "invalid JSON") {
		t.Errorf("second response = %s", lines[1])
	}
	if !strings.Contains(lines[2], "unknown tool") {
		t.Errorf("third response = %s", lines[2])
	}
}

func TestCallRequiresCheckpoint(t *testing.T) {
	if err := runCall(callCmd, []string{}); err == nil {
		t.Error("runCall with no args should return error")
	}
	if err := runCall(callCmd, []string{"./ckpt"}); err == nil {
		t.Error("runCall without a tool should return error")
	}
}
