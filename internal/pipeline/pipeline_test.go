package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hargabyte/stsfit/internal/config"
	"github.com/hargabyte/stsfit/internal/dataset"
	"github.com/hargabyte/stsfit/internal/evaluation"
	"github.com/hargabyte/stsfit/internal/history"
	"github.com/hargabyte/stsfit/internal/hub"
	"github.com/hargabyte/stsfit/internal/model"
	"github.com/hargabyte/stsfit/internal/model/modeltest"
	"github.com/hargabyte/stsfit/internal/train"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

var splitRows = map[string][]string{
	dataset.Train: {
		"a man plays a guitar\ta man plays music\t4.2",
		"a woman slices an onion\tthe plane takes off\t0.0",
		"a cat sits on a mat\ta cat is sitting\t3.8",
		"a dog runs\ta child sleeps\t0.4",
	},
	dataset.Dev: {
		"a man plays music\ta man plays a guitar\t4.0",
		"a cat is sitting\tthe plane takes off\t0.2",
	},
	dataset.Test: {
		"a dog runs\ta dog is running\t4.6",
		"a woman slices an onion\ta child sleeps\t0.0",
	},
}

// writeFixture lays out a pretrained model directory and a dataset
// directory under a temp root.
func writeFixture(t *testing.T) (modelDir, dataDir string) {
	t.Helper()
	root := t.TempDir()

	var texts []string
	for _, rows := range splitRows {
		for _, r := range rows {
			texts = append(texts, strings.Split(r, "\t")[:2]...)
		}
	}
	modelDir = filepath.Join(root, "tiny-bert")
	m, err := modeltest.NewModel(filepath.Join(root, "source"), 32, 11, texts...)
	require.NoError(t, err)
	require.NoError(t, m.Save(modelDir))
	require.NoError(t, m.Close())

	dataDir = filepath.Join(root, "KorSTS")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	for split, rows := range splitRows {
		content := "sentence1\tsentence2\tscore\n" + strings.Join(rows, "\n") + "\n"
		require.NoError(t, os.WriteFile(dataset.SplitPath(dataDir, split), []byte(content), 0644))
	}
	return modelDir, dataDir
}

func testConfig(t *testing.T, modelDir, dataDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.ModelNameOrPath = modelDir
	cfg.DatasetDir = dataDir
	cfg.OutputDir = filepath.Join(t.TempDir(), "output")
	cfg.BatchSize = 2
	cfg.NumEpochs = 1
	cfg.MaxSeqLength = 16
	cfg.Optimizer.LearningRate = 1e-2
	return cfg
}

func testDeps() Deps {
	return Deps{
		Now: func() time.Time { return fixedNow },
	}
}

func TestRun(t *testing.T) {
	modelDir, dataDir := writeFixture(t)
	cfg := testConfig(t, modelDir, dataDir)

	store, err := history.Open(cfg.OutputDir)
	require.NoError(t, err)
	defer store.Close()

	deps := testDeps()
	deps.History = store
	report, err := Run(context.Background(), cfg, deps)
	require.NoError(t, err)

	assert.Equal(t, config.SavePath(cfg, fixedNow), report.Checkpoint)
	assert.Equal(t, 2, report.TotalSteps)
	assert.Equal(t, 1, report.WarmupSteps)
	assert.Equal(t, 2, report.TestPairs)
	require.NotNil(t, report.Train)
	assert.Equal(t, 2, report.Train.GlobalSteps)
	require.Len(t, report.Train.Evaluations, 1)
	assert.Equal(t, -1, report.Train.Evaluations[0].Steps)

	for _, name := range []string{
		hub.ModelFile,
		hub.TokenizerFile,
		hub.ConfigFile,
		model.SentenceConfigFile,
		filepath.Join(model.PoolingDir, "config.json"),
		config.ArgsFileName,
		train.StateFile,
		"similarity_evaluation_" + TestEvaluatorName + "_results.csv",
		filepath.Join(evalDir, "similarity_evaluation_"+DevEvaluatorName+"_results.csv"),
	} {
		assert.FileExists(t, filepath.Join(report.Checkpoint, name))
	}

	rows, err := evaluation.ReadCSV(filepath.Join(report.Checkpoint, evaluation.ResultsFileName(TestEvaluatorName)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, -1, rows[0].Epoch)
	assert.Equal(t, -1, rows[0].Steps)
	spearman := rows[0].Scores[evaluation.Cosine].Spearman
	if !math.IsNaN(spearman) {
		assert.GreaterOrEqual(t, spearman, -1.0)
		assert.LessOrEqual(t, spearman, 1.0)
	}

	// The output directory holds the checkpoint and the run history only.
	entries, err := os.ReadDir(cfg.OutputDir)
	require.NoError(t, err)
	var dirs, files []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
			continue
		}
		if name := e.Name(); name != history.FileName+"-wal" && name != history.FileName+"-shm" {
			files = append(files, name)
		}
	}
	assert.Equal(t, []string{filepath.Base(report.Checkpoint)}, dirs)
	assert.Equal(t, []string{history.FileName}, files)

	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.StatusCompleted, runs[0].Status)
	assert.Equal(t, report.RunID, runs[0].ID)
	assert.Equal(t, report.Checkpoint, runs[0].Checkpoint)

	evals, err := store.Evaluations(report.RunID)
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, DevEvaluatorName, evals[0].Split)
}

func TestRun_Reproducible(t *testing.T) {
	modelDir, dataDir := writeFixture(t)

	first, err := Run(context.Background(), testConfig(t, modelDir, dataDir), testDeps())
	require.NoError(t, err)
	second, err := Run(context.Background(), testConfig(t, modelDir, dataDir), testDeps())
	require.NoError(t, err)

	assert.Equal(t, first.Train.EpochLoss, second.Train.EpochLoss)

	a, err := model.Load(first.Checkpoint)
	require.NoError(t, err)
	defer a.Close()
	b, err := model.Load(second.Checkpoint)
	require.NoError(t, err)
	defer b.Close()
	for _, name := range a.WeightNames() {
		wa, err := a.Weight(name)
		require.NoError(t, err)
		wb, err := b.Weight(name)
		require.NoError(t, err)
		assert.InDeltaSlice(t, wa, wb, 1e-6, name)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := Run(context.Background(), cfg, testDeps())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRun_MissingDataset(t *testing.T) {
	modelDir, _ := writeFixture(t)
	cfg := testConfig(t, modelDir, filepath.Join(t.TempDir(), "absent"))

	_, err := Run(context.Background(), cfg, testDeps())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NoDirExists(t, config.SavePath(cfg, fixedNow))
}

func TestRun_ResolveFailureRecorded(t *testing.T) {
	_, dataDir := writeFixture(t)
	cfg := testConfig(t, "org/missing-model", dataDir)

	store, err := history.Open(cfg.OutputDir)
	require.NoError(t, err)
	defer store.Close()

	boom := errors.New("offline")
	deps := testDeps()
	deps.History = store
	deps.Resolve = func(context.Context, string) (*hub.Files, error) { return nil, boom }

	_, err = Run(context.Background(), cfg, deps)
	assert.ErrorIs(t, err, boom)

	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, history.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "offline")
}

func TestEvaluateSplit(t *testing.T) {
	modelDir, dataDir := writeFixture(t)
	m, err := model.Load(modelDir)
	require.NoError(t, err)
	defer m.Close()

	out := t.TempDir()
	res, pairs, err := EvaluateSplit(context.Background(), m, EvalOptions{
		DatasetDir: dataDir,
		Split:      dataset.Dev,
		BatchSize:  4,
		OutputPath: out,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, pairs)
	assert.Equal(t, "sts-dev", res.Name)
	assert.FileExists(t, filepath.Join(out, "similarity_evaluation_sts-dev_results.csv"))

	_, _, err = EvaluateSplit(context.Background(), m, EvalOptions{DatasetDir: dataDir, Split: "nope", BatchSize: 4})
	assert.Error(t, err)
}
