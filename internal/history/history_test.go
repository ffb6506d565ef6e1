package history

import (
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreOpenClose(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if s.Path() != filepath.Join(dir, FileName) {
		t.Errorf("path = %q, want %q", s.Path(), filepath.Join(dir, FileName))
	}
	if err := s.StartRun(&Run{Command: "train", Model: "klue/bert-base"}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("close: %v", err)
	}

	// Reopen keeps existing runs.
	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer s2.Close()
	runs, err := s2.ListRuns(0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs after reopen, want 1", len(runs))
	}
}

func TestRunLifecycle(t *testing.T) {
	s := setupTestStore(t)

	r := &Run{
		Command:      "train",
		Model:        "klue/bert-base",
		DatasetHash:  "0123456789abcdef",
		Seed:         777,
		BatchSize:    8,
		NumEpochs:    5,
		MaxSeqLength: 128,
	}
	if err := s.StartRun(r); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if r.ID == 0 {
		t.Fatal("StartRun did not set ID")
	}

	got, err := s.GetRun(r.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("status = %q, want %q", got.Status, StatusRunning)
	}
	if !math.IsNaN(got.BestScore) || !math.IsNaN(got.TestScore) {
		t.Errorf("scores of a running run = %v, %v; want NaN", got.BestScore, got.TestScore)
	}
	if got.FinishedAt != nil {
		t.Error("running run has FinishedAt")
	}

	if err := s.SetCheckpoint(r.ID, "output/kor_sts_klue-bert-base-2024-01-01_00-00-00"); err != nil {
		t.Fatalf("set checkpoint: %v", err)
	}
	if err := s.FinishRun(r.ID, 0.81, 0.77, nil); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	got, err = s.GetRun(r.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, StatusCompleted)
	}
	if got.BestScore != 0.81 || got.TestScore != 0.77 {
		t.Errorf("scores = %v, %v; want 0.81, 0.77", got.BestScore, got.TestScore)
	}
	if got.Checkpoint == "" {
		t.Error("checkpoint not recorded")
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if got.Seed != 777 || got.BatchSize != 8 || got.NumEpochs != 5 || got.MaxSeqLength != 128 {
		t.Errorf("hyperparameters not round-tripped: %+v", got)
	}
}

func TestFinishRunFailed(t *testing.T) {
	s := setupTestStore(t)

	r := &Run{Command: "train", Model: "m"}
	if err := s.StartRun(r); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := s.FinishRun(r.ID, math.NaN(), math.NaN(), errors.New("dataset missing")); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	got, err := s.GetRun(r.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != StatusFailed || got.Error != "dataset missing" {
		t.Errorf("got status %q error %q", got.Status, got.Error)
	}
	if !math.IsNaN(got.BestScore) {
		t.Errorf("best score = %v, want NaN", got.BestScore)
	}
}

func TestGetRunMissing(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.GetRun(42); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetRun(42) error = %v, want sql.ErrNoRows", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := setupTestStore(t)
	for _, m := range []string{"a", "b", "c"} {
		if err := s.StartRun(&Run{Command: "train", Model: m}); err != nil {
			t.Fatalf("start run: %v", err)
		}
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Model != "c" || runs[1].Model != "b" {
		t.Errorf("order = %s, %s; want c, b", runs[0].Model, runs[1].Model)
	}
}

func TestEvaluations(t *testing.T) {
	s := setupTestStore(t)
	r := &Run{Command: "train", Model: "m"}
	if err := s.StartRun(r); err != nil {
		t.Fatalf("start run: %v", err)
	}

	err := s.RecordEvaluations(
		Evaluation{RunID: r.ID, Split: "sts-dev", Epoch: 0, Steps: 1000, GlobalStep: 1000, Score: 0.71, Saved: true},
		Evaluation{RunID: r.ID, Split: "sts-dev", Epoch: 0, Steps: -1, GlobalStep: 1438, Score: math.NaN()},
	)
	if err != nil {
		t.Fatalf("record evaluations: %v", err)
	}
	if err := s.RecordEvaluations(); err != nil {
		t.Errorf("empty record: %v", err)
	}

	evals, err := s.Evaluations(r.ID)
	if err != nil {
		t.Fatalf("evaluations: %v", err)
	}
	if len(evals) != 2 {
		t.Fatalf("got %d evaluations, want 2", len(evals))
	}
	if evals[0].Steps != 1000 || !evals[0].Saved || evals[0].Score != 0.71 {
		t.Errorf("first evaluation = %+v", evals[0])
	}
	if evals[1].Steps != -1 || evals[1].Saved || !math.IsNaN(evals[1].Score) {
		t.Errorf("second evaluation = %+v", evals[1])
	}

	other, err := s.Evaluations(r.ID + 1)
	if err != nil {
		t.Fatalf("evaluations: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("unrelated run has %d evaluations", len(other))
	}
}
