package history

import (
	"database/sql"
	"fmt"
	"time"
)

// Evaluation is one evaluator call recorded against a run.
type Evaluation struct {
	RunID      int64     `json:"run_id" yaml:"run_id"`
	Split      string    `json:"split" yaml:"split"`
	Epoch      int       `json:"epoch" yaml:"epoch"`
	Steps      int       `json:"steps" yaml:"steps"`
	GlobalStep int       `json:"global_step" yaml:"global_step"`
	Score      float64   `json:"score" yaml:"score"`
	Saved      bool      `json:"saved" yaml:"saved"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// RecordEvaluations stores evaluations in a single transaction.
func (s *Store) RecordEvaluations(evals ...Evaluation) error {
	if len(evals) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO evaluations (run_id, split, epoch, steps, global_step, score, saved, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range evals {
		recordedAt := e.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now()
		}
		saved := 0
		if e.Saved {
			saved = 1
		}
		_, err := stmt.Exec(e.RunID, e.Split, e.Epoch, e.Steps, e.GlobalStep,
			nullFloat(e.Score), saved, recordedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("record evaluation for run %d: %w", e.RunID, err)
		}
	}
	return tx.Commit()
}

// Evaluations returns the evaluations of a run in the order they were made.
func (s *Store) Evaluations(runID int64) ([]Evaluation, error) {
	rows, err := s.db.Query(`
		SELECT run_id, split, epoch, steps, global_step, score, saved, recorded_at
		FROM evaluations WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var out []Evaluation
	for rows.Next() {
		var (
			e          Evaluation
			score      sql.NullFloat64
			saved      int
			recordedAt string
		)
		if err := rows.Scan(&e.RunID, &e.Split, &e.Epoch, &e.Steps, &e.GlobalStep, &score, &saved, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		e.Score = floatOrNaN(score)
		e.Saved = saved != 0
		e.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
