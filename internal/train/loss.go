package train

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	mltrain "github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"

	"github.com/hargabyte/stsfit/internal/model"
)

// DropoutRate is applied to the encoder's token states while training.
const DropoutRate = 0.1

// CosineSimilarityLoss is the mean squared error between the cosine
// similarity of the pooled embeddings of a pair and its gold score.
var CosineSimilarityLoss mltrain.LossFn = losses.MeanSquaredError

// pairModelFn scores a batch of sentence pairs. inputs holds the encoder
// inputs for the first sentences followed by those for the second ones; the
// output is the [batch, 1] cosine similarity of the pooled embeddings.
func pairModelFn(m *model.SentenceModel, dropout float64) mltrain.ModelFn {
	n := m.NumInputs()
	return func(ctx *mlctx.Context, _ any, inputs []*graph.Node) []*graph.Node {
		a := embedGraph(ctx, m, inputs[:n], dropout)
		b := embedGraph(ctx, m, inputs[n:], dropout)
		return []*graph.Node{graph.CosineSimilarity(a, b, -1)}
	}
}

func embedGraph(ctx *mlctx.Context, m *model.SentenceModel, inputs []*graph.Node, dropout float64) *graph.Node {
	states := m.TokenStates(ctx, inputs)
	states = layers.DropoutStatic(ctx, states, dropout)
	return MeanPool(states, m.AttentionMask(inputs))
}

// MeanPool averages [batch, sequence, hidden] token states over the
// positions where mask is non-zero. A nil mask averages every position.
func MeanPool(states, mask *graph.Node) *graph.Node {
	if mask == nil {
		return graph.ReduceMean(states, 1)
	}
	mask = graph.Reshape(mask, states.Shape().Dim(0), -1, 1)
	mask = graph.BroadcastToShape(mask, states.Shape())
	return graph.MaskedReduceMean(states, graph.ConvertDType(mask, dtypes.Bool), 1)
}
