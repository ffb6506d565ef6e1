package history

import (
	"database/sql"
	"fmt"
	"time"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one invocation of a pipeline command.
type Run struct {
	ID           int64      `json:"id" yaml:"id"`
	Command      string     `json:"command" yaml:"command"`
	Model        string     `json:"model" yaml:"model"`
	Checkpoint   string     `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
	DatasetHash  string     `json:"dataset_hash,omitempty" yaml:"dataset_hash,omitempty"`
	Seed         int64      `json:"seed" yaml:"seed"`
	BatchSize    int        `json:"batch_size" yaml:"batch_size"`
	NumEpochs    int        `json:"num_epochs" yaml:"num_epochs"`
	MaxSeqLength int        `json:"max_seq_length" yaml:"max_seq_length"`
	Status       string     `json:"status" yaml:"status"`
	BestScore    float64    `json:"best_score" yaml:"best_score"`
	TestScore    float64    `json:"test_score" yaml:"test_score"`
	Error        string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// StartRun inserts r with status running and sets r.ID.
func (s *Store) StartRun(r *Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	r.Status = StatusRunning
	res, err := s.db.Exec(`
		INSERT INTO runs (command, model, checkpoint, dataset_hash, seed, batch_size,
			num_epochs, max_seq_length, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Command, r.Model, r.Checkpoint, r.DatasetHash, r.Seed, r.BatchSize,
		r.NumEpochs, r.MaxSeqLength, r.Status, r.StartedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun marks a run completed, or failed when runErr is not nil.
func (s *Store) FinishRun(id int64, bestScore, testScore float64, runErr error) error {
	status, msg := StatusCompleted, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, best_score = ?, test_score = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		status, nullFloat(bestScore), nullFloat(testScore), msg, time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", id, err)
	}
	return nil
}

// SetCheckpoint records where a run's model was saved.
func (s *Store) SetCheckpoint(id int64, path string) error {
	if _, err := s.db.Exec("UPDATE runs SET checkpoint = ? WHERE id = ?", path, id); err != nil {
		return fmt.Errorf("set checkpoint for run %d: %w", id, err)
	}
	return nil
}

const runColumns = `id, command, model, checkpoint, dataset_hash, seed, batch_size, num_epochs,
	max_seq_length, status, best_score, test_score, error, started_at, finished_at`

// GetRun returns the run with the given id.
// Returns sql.ErrNoRows if it does not exist.
func (s *Store) GetRun(id int64) (*Run, error) {
	row := s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r          Run
		best, test sql.NullFloat64
		startedAt  string
		finishedAt sql.NullString
	)
	err := sc.Scan(&r.ID, &r.Command, &r.Model, &r.Checkpoint, &r.DatasetHash, &r.Seed,
		&r.BatchSize, &r.NumEpochs, &r.MaxSeqLength, &r.Status, &best, &test, &r.Error,
		&startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	r.BestScore = floatOrNaN(best)
	r.TestScore = floatOrNaN(test)
	r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAt.String)
		r.FinishedAt = &t
	}
	return &r, nil
}
