// Package evaluation scores sentence embeddings against gold similarity
// labels.
package evaluation

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/hargabyte/stsfit/internal/dataset"
	"github.com/hargabyte/stsfit/internal/embeddings"
)

// SimilarityFunction names a way of comparing two embeddings.
type SimilarityFunction string

// Supported similarity functions. Distances are negated so that larger
// always means more similar.
const (
	Cosine    SimilarityFunction = "cosine"
	Euclidean SimilarityFunction = "euclidean"
	Manhattan SimilarityFunction = "manhattan"
	Dot       SimilarityFunction = "dot"
)

// Functions lists the similarity functions in CSV column order.
var Functions = []SimilarityFunction{Cosine, Euclidean, Manhattan, Dot}

// Correlation of predicted similarities with the gold labels.
type Correlation struct {
	Pearson  float64 `json:"pearson" yaml:"pearson"`
	Spearman float64 `json:"spearman" yaml:"spearman"`
}

// Result is one evaluation.
type Result struct {
	Name      string                             `json:"name" yaml:"name"`
	Epoch     int                                `json:"epoch" yaml:"epoch"`
	Steps     int                                `json:"steps" yaml:"steps"`
	Scores    map[SimilarityFunction]Correlation `json:"scores" yaml:"scores"`
	MainScore float64                            `json:"main_score" yaml:"main_score"`
}

// SimilarityEvaluator embeds both sentences of every pair and correlates
// their similarity with the gold labels.
type SimilarityEvaluator struct {
	sentencesA []string
	sentencesB []string
	labels     []float64
	name       string
	batchSize  int

	// Workers bounds how many batches are embedded concurrently.
	Workers int
	// MainSimilarity selects the main score. Empty takes the best Spearman.
	MainSimilarity SimilarityFunction
	Logger         zerolog.Logger
}

// NewSimilarityEvaluator returns an evaluator over examples. name labels the
// results file.
func NewSimilarityEvaluator(examples []dataset.Example, name string, batchSize int) *SimilarityEvaluator {
	e := &SimilarityEvaluator{
		sentencesA: make([]string, len(examples)),
		sentencesB: make([]string, len(examples)),
		labels:     make([]float64, len(examples)),
		name:       name,
		batchSize:  max(batchSize, 1),
		Workers:    1,
	}
	for i, ex := range examples {
		e.sentencesA[i] = ex.TextA
		e.sentencesB[i] = ex.TextB
		e.labels[i] = ex.Label
	}
	return e
}

// Name returns the evaluator name.
func (e *SimilarityEvaluator) Name() string {
	return e.name
}

// ResultsFile returns the CSV file name results are appended to.
func (e *SimilarityEvaluator) ResultsFile() string {
	return ResultsFileName(e.name)
}

// ResultsFileName is the CSV file name of the evaluator called name.
func ResultsFileName(name string) string {
	return "similarity_evaluation_" + name + "_results.csv"
}

// Evaluate scores embedder. When outputPath is not empty a row is appended
// to the results CSV in that directory. epoch and steps are recorded as
// given; -1 marks an evaluation outside training.
func (e *SimilarityEvaluator) Evaluate(ctx context.Context, embedder embeddings.Embedder, outputPath string, epoch, steps int) (*Result, error) {
	embA, err := e.embed(ctx, embedder, e.sentencesA)
	if err != nil {
		return nil, fmt.Errorf("embed first sentences: %w", err)
	}
	embB, err := e.embed(ctx, embedder, e.sentencesB)
	if err != nil {
		return nil, fmt.Errorf("embed second sentences: %w", err)
	}

	preds := map[SimilarityFunction][]float64{}
	for _, fn := range Functions {
		preds[fn] = make([]float64, len(embA))
	}
	for i := range embA {
		a, b := embA[i], embB[i]
		preds[Cosine][i] = CosineSimilarity(a, b)
		preds[Euclidean][i] = -floats.Distance(a, b, 2)
		preds[Manhattan][i] = -floats.Distance(a, b, 1)
		preds[Dot][i] = floats.Dot(a, b)
	}

	res := &Result{Name: e.name, Epoch: epoch, Steps: steps, Scores: map[SimilarityFunction]Correlation{}}
	for _, fn := range Functions {
		res.Scores[fn] = Correlation{
			Pearson:  Pearson(e.labels, preds[fn]),
			Spearman: Spearman(e.labels, preds[fn]),
		}
	}
	res.MainScore = e.mainScore(res)
	e.log(res)

	if outputPath != "" {
		if err := AppendCSV(filepath.Join(outputPath, e.ResultsFile()), res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (e *SimilarityEvaluator) mainScore(res *Result) float64 {
	if e.MainSimilarity != "" {
		return res.Scores[e.MainSimilarity].Spearman
	}
	best := math.NaN()
	for _, fn := range Functions {
		s := res.Scores[fn].Spearman
		if math.IsNaN(s) {
			continue
		}
		if math.IsNaN(best) || s > best {
			best = s
		}
	}
	return best
}

func (e *SimilarityEvaluator) log(res *Result) {
	ev := e.Logger.Info().Str("evaluator", e.name)
	switch {
	case res.Epoch == -1:
	case res.Steps == -1:
		ev = ev.Int("epoch", res.Epoch)
	default:
		ev = ev.Int("epoch", res.Epoch).Int("steps", res.Steps)
	}
	for _, fn := range Functions {
		c := res.Scores[fn]
		ev = ev.Float64(string(fn)+"_pearson", c.Pearson).Float64(string(fn)+"_spearman", c.Spearman)
	}
	ev.Float64("main_score", res.MainScore).Msg("Similarity evaluation")
}

// embed runs texts through embedder in batches, up to Workers at a time.
func (e *SimilarityEvaluator) embed(ctx context.Context, embedder embeddings.Embedder, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.Workers, 1))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := embedder.EmbedBatch(ctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start)
			}
			for i, v := range vecs {
				row := make([]float64, len(v))
				for j, x := range v {
					row[j] = float64(x)
				}
				out[start+i] = row
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CosineSimilarity of a and b, clamped to [-1, 1]. It is 0 when either
// vector is zero.
func CosineSimilarity(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, floats.Dot(a, b)/(na*nb)))
}
