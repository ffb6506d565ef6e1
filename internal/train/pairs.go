package train

import (
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/hargabyte/stsfit/internal/dataset"
	"github.com/hargabyte/stsfit/internal/model"
)

// pairDataset feeds shuffled sentence-pair batches to a training loop. Each
// Reset starts a new epoch with a fresh permutation from the loader.
type pairDataset struct {
	model   *model.SentenceModel
	loader  *Loader
	batches [][]dataset.Example
	next    int
}

func newPairDataset(m *model.SentenceModel, loader *Loader) *pairDataset {
	d := &pairDataset{model: m, loader: loader}
	d.Reset()
	return d
}

// Name implements train.Dataset.
func (d *pairDataset) Name() string { return "sts-train" }

// Reset implements train.Dataset.
func (d *pairDataset) Reset() {
	d.batches = d.loader.Epoch()
	d.next = 0
}

// Yield implements train.Dataset. Labels are the gold scores shaped
// [batch, 1] to match the model's cosine similarity output.
func (d *pairDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if d.next >= len(d.batches) {
		return nil, nil, nil, io.EOF
	}
	batch := d.batches[d.next]
	d.next++

	a := make([]string, len(batch))
	b := make([]string, len(batch))
	scores := make([]float32, len(batch))
	for i, ex := range batch {
		a[i], b[i], scores[i] = ex.TextA, ex.TextB, float32(ex.Label)
	}
	inputs, err = d.model.PairInputs(a, b)
	if err != nil {
		return nil, nil, nil, err
	}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(scores, len(batch), 1)}
	return nil, inputs, labels, nil
}
