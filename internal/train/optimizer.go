package train

import (
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
	mltrain "github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

// AdamWConfig holds the optimizer hyperparameters.
type AdamWConfig struct {
	LearningRate float64
	WeightDecay  float64
	Epsilon      float64
	Beta1        float64
	Beta2        float64
}

// DefaultAdamW matches the usual sentence-transformers fine-tuning setup.
func DefaultAdamW() AdamWConfig {
	return AdamWConfig{
		LearningRate: 2e-5,
		WeightDecay:  0.01,
		Epsilon:      1e-6,
		Beta1:        0.9,
		Beta2:        0.999,
	}
}

// scheduledAdamW is Adam with decoupled weight decay, a linear warm-up and
// decay learning rate schedule and global-norm gradient clipping. Biases and
// LayerNorm weights are not decayed.
type scheduledAdamW struct {
	cfg         AdamWConfig
	schedule    LinearSchedule
	maxGradNorm float64
	adam        optimizers.Interface
}

func newScheduledAdamW(cfg AdamWConfig, schedule LinearSchedule, maxGradNorm float64) *scheduledAdamW {
	adam := optimizers.Adam().
		LearningRate(cfg.LearningRate).
		Betas(cfg.Beta1, cfg.Beta2).
		Epsilon(cfg.Epsilon).
		Done()
	return &scheduledAdamW{cfg: cfg, schedule: schedule, maxGradNorm: maxGradNorm, adam: adam}
}

// UpdateGraph implements optimizers.Interface.
func (o *scheduledAdamW) UpdateGraph(ctx *mlctx.Context, g *graph.Graph, loss *graph.Node) {
	grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
	o.UpdateGraphWithGradients(ctx, grads, loss.DType())
}

// UpdateGraphWithGradients implements train.OptimizeWithGradients.
func (o *scheduledAdamW) UpdateGraphWithGradients(ctx *mlctx.Context, grads []*graph.Node, lossDType dtypes.DType) {
	g := grads[0].Graph()

	// The global step still holds the number of completed steps: Adam
	// increments it below.
	step := graph.ConvertDType(optimizers.GetGlobalStepVar(ctx).ValueGraph(g), lossDType)
	lr := graph.MulScalar(o.schedule.Graph(step), o.cfg.LearningRate)
	optimizers.LearningRateVarWithValue(ctx, lossDType, o.cfg.LearningRate).SetValueGraph(lr)

	grads = clipByGlobalNorm(grads, o.maxGradNorm)

	type decayed struct {
		v   *mlctx.Variable
		old *graph.Node
	}
	var decay []decayed
	if o.cfg.WeightDecay > 0 {
		for v := range ctx.IterVariables() {
			if v.Trainable && v.InUseByGraph(g) && decays(v.Name()) {
				decay = append(decay, decayed{v, v.ValueGraph(g)})
			}
		}
	}

	o.adam.(mltrain.OptimizeWithGradients).UpdateGraphWithGradients(ctx, grads, lossDType)

	for _, d := range decay {
		rate := graph.MulScalar(graph.ConvertDType(lr, d.old.DType()), o.cfg.WeightDecay)
		d.v.SetValueGraph(graph.Sub(d.v.ValueGraph(g), graph.Mul(rate, d.old)))
	}
}

// Clear implements optimizers.Interface.
func (o *scheduledAdamW) Clear(ctx *mlctx.Context) error {
	return o.adam.Clear(ctx)
}

// decays reports whether weight decay applies to the named weight.
func decays(name string) bool {
	lower := strings.ToLower(name)
	return !strings.Contains(lower, "bias") && !strings.Contains(lower, "layernorm")
}

// clipByGlobalNorm scales grads so their joint L2 norm is at most maxNorm.
// maxNorm <= 0 disables clipping.
func clipByGlobalNorm(grads []*graph.Node, maxNorm float64) []*graph.Node {
	if maxNorm <= 0 || len(grads) == 0 {
		return grads
	}
	var sq *graph.Node
	for _, grad := range grads {
		s := graph.ReduceAllSum(graph.Square(graph.ConvertDType(grad, dtypes.Float32)))
		if sq == nil {
			sq = s
		} else {
			sq = graph.Add(sq, s)
		}
	}
	norm := graph.Sqrt(sq)
	g := norm.Graph()
	coef := graph.Div(graph.Scalar(g, dtypes.Float32, maxNorm), graph.AddScalar(norm, 1e-6))
	coef = graph.MinScalar(coef, 1)

	out := make([]*graph.Node, len(grads))
	for i, grad := range grads {
		out[i] = graph.Mul(grad, graph.ConvertDType(coef, grad.DType()))
	}
	return out
}
