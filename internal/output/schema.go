package output

import (
	"math"
	"strconv"
)

// Score converts v for output. NaN and infinities become nil, since JSON
// cannot represent them.
func Score(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// FormatScore renders a score for tables, "-" when absent.
func FormatScore(s *float64) string {
	if s == nil {
		return "-"
	}
	return strconv.FormatFloat(*s, 'f', 4, 64)
}

// RunList is the output of `stsfit history`.
type RunList struct {
	Runs []RunSummary `yaml:"runs" json:"runs"`
}

// RunSummary describes one recorded run.
type RunSummary struct {
	ID         int64    `yaml:"id" json:"id"`
	Command    string   `yaml:"command" json:"command"`
	Model      string   `yaml:"model" json:"model"`
	Status     string   `yaml:"status" json:"status"`
	BestScore  *float64 `yaml:"best_dev_score,omitempty" json:"best_dev_score,omitempty"`
	TestScore  *float64 `yaml:"test_score,omitempty" json:"test_score,omitempty"`
	Checkpoint string   `yaml:"checkpoint,omitempty" json:"checkpoint,omitempty"`
	StartedAt  string   `yaml:"started_at" json:"started_at"`
	Duration   string   `yaml:"duration,omitempty" json:"duration,omitempty"`
	Error      string   `yaml:"error,omitempty" json:"error,omitempty"`
}

// TableHeader implements Tabular.
func (l *RunList) TableHeader() []string {
	return []string{"ID", "Command", "Model", "Status", "Best Dev", "Test", "Started", "Checkpoint"}
}

// TableRows implements Tabular.
func (l *RunList) TableRows() [][]string {
	rows := make([][]string, 0, len(l.Runs))
	for _, r := range l.Runs {
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.Command,
			r.Model,
			r.Status,
			FormatScore(r.BestScore),
			FormatScore(r.TestScore),
			r.StartedAt,
			r.Checkpoint,
		})
	}
	return rows
}

// Correlation is a Pearson/Spearman pair.
type Correlation struct {
	Pearson  *float64 `yaml:"pearson" json:"pearson"`
	Spearman *float64 `yaml:"spearman" json:"spearman"`
}

// SimilarityScore is the correlation of one similarity function.
type SimilarityScore struct {
	Function string `yaml:"function" json:"function"`
	Correlation `yaml:",inline"`
}

// EvaluationOutput is the output of `stsfit evaluate` and `stsfit baseline`.
type EvaluationOutput struct {
	Model     string            `yaml:"model" json:"model"`
	Split     string            `yaml:"split" json:"split"`
	Pairs     int               `yaml:"pairs" json:"pairs"`
	MainScore *float64          `yaml:"main_score" json:"main_score"`
	Scores    []SimilarityScore `yaml:"scores" json:"scores"`
	Results   string            `yaml:"results_file,omitempty" json:"results_file,omitempty"`
}

// TableHeader implements Tabular.
func (e *EvaluationOutput) TableHeader() []string {
	return []string{"Similarity", "Pearson", "Spearman"}
}

// TableRows implements Tabular.
func (e *EvaluationOutput) TableRows() [][]string {
	rows := make([][]string, 0, len(e.Scores)+1)
	for _, s := range e.Scores {
		rows = append(rows, []string{s.Function, FormatScore(s.Pearson), FormatScore(s.Spearman)})
	}
	rows = append(rows, []string{"main", "", FormatScore(e.MainScore)})
	return rows
}

// TrainOutput is the output of `stsfit train`.
type TrainOutput struct {
	RunID        int64             `yaml:"run_id,omitempty" json:"run_id,omitempty"`
	Checkpoint   string            `yaml:"checkpoint" json:"checkpoint"`
	WarmupSteps  int               `yaml:"warmup_steps" json:"warmup_steps"`
	TotalSteps   int               `yaml:"total_steps" json:"total_steps"`
	BestDevScore *float64          `yaml:"best_dev_score" json:"best_dev_score"`
	Test         *EvaluationOutput `yaml:"test" json:"test"`
}

// TableHeader implements Tabular.
func (t *TrainOutput) TableHeader() []string {
	return []string{"Key", "Value"}
}

// TableRows implements Tabular.
func (t *TrainOutput) TableRows() [][]string {
	rows := [][]string{
		{"checkpoint", t.Checkpoint},
		{"warmup_steps", strconv.Itoa(t.WarmupSteps)},
		{"total_steps", strconv.Itoa(t.TotalSteps)},
		{"best_dev_score", FormatScore(t.BestDevScore)},
	}
	if t.Test != nil {
		rows = append(rows, []string{"test_main_score", FormatScore(t.Test.MainScore)})
		for _, s := range t.Test.Scores {
			rows = append(rows, []string{"test_" + s.Function + "_spearman", FormatScore(s.Spearman)})
		}
	}
	return rows
}
