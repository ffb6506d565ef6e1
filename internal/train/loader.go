// Package train fine-tunes a SentenceModel on labelled sentence pairs.
package train

import (
	"fmt"
	"math/rand/v2"

	"github.com/hargabyte/stsfit/internal/dataset"
)

// Loader yields shuffled mini-batches of training examples.
type Loader struct {
	examples  []dataset.Example
	batchSize int
	rng       *rand.Rand
}

// NewLoader returns a loader over examples. Each call to Epoch draws a fresh
// permutation from rng.
func NewLoader(examples []dataset.Example, batchSize int, rng *rand.Rand) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("no training examples")
	}
	return &Loader{examples: examples, batchSize: batchSize, rng: rng}, nil
}

// Len returns the number of batches per epoch. The last batch may be short.
func (l *Loader) Len() int {
	return (len(l.examples) + l.batchSize - 1) / l.batchSize
}

// Size returns the number of examples.
func (l *Loader) Size() int {
	return len(l.examples)
}

// Epoch shuffles the examples and splits them into batches.
func (l *Loader) Epoch() [][]dataset.Example {
	order := l.rng.Perm(len(l.examples))
	batches := make([][]dataset.Example, 0, l.Len())
	for start := 0; start < len(order); start += l.batchSize {
		end := min(start+l.batchSize, len(order))
		batch := make([]dataset.Example, 0, end-start)
		for _, idx := range order[start:end] {
			batch = append(batch, l.examples[idx])
		}
		batches = append(batches, batch)
	}
	return batches
}
