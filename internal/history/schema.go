package history

// schemaSQL defines the SQLite schema for the runs database.
// Tables:
//   - runs: one row per training or evaluation run
//   - evaluations: every evaluator call made during a run
const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    command TEXT NOT NULL,
    model TEXT NOT NULL,
    checkpoint TEXT NOT NULL DEFAULT '',
    dataset_hash TEXT NOT NULL DEFAULT '',
    seed INTEGER NOT NULL DEFAULT 0,
    batch_size INTEGER NOT NULL DEFAULT 0,
    num_epochs INTEGER NOT NULL DEFAULT 0,
    max_seq_length INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    best_score REAL,
    test_score REAL,
    error TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    finished_at TEXT
);

CREATE TABLE IF NOT EXISTS evaluations (
    run_id INTEGER NOT NULL REFERENCES runs(id),
    split TEXT NOT NULL,
    epoch INTEGER NOT NULL,
    steps INTEGER NOT NULL,
    global_step INTEGER NOT NULL,
    score REAL,
    saved INTEGER NOT NULL DEFAULT 0,
    recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_run ON evaluations(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// initSchema creates the database tables and indexes if they don't exist.
func (s *Store) initSchema() error {
	_, err := s.db.Exec(schemaSQL)
	return err
}
