package train

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/graph"
)

// WarmupSteps returns ceil(batchesPerEpoch * epochs * ratio). The product is
// rounded to nine decimals first so ratios like 0.1 do not round up on
// representation error (70 * 0.1 is 7, not 8).
func WarmupSteps(batchesPerEpoch, epochs int, ratio float64) int {
	x := float64(batchesPerEpoch*epochs) * ratio
	x = math.Round(x*1e9) / 1e9
	return int(math.Ceil(x))
}

// LinearSchedule ramps the learning rate from 0 to its base value over
// Warmup steps, then decays it linearly to 0 at Total steps.
type LinearSchedule struct {
	Warmup int
	Total  int
}

// Factor returns the multiplier applied to the base learning rate for the
// optimizer step that follows step completed steps.
func (s LinearSchedule) Factor(step int) float64 {
	if step < s.Warmup {
		return float64(step) / float64(max(1, s.Warmup))
	}
	return math.Max(0, float64(s.Total-step)/float64(max(1, s.Total-s.Warmup)))
}

// Graph is Factor computed inside a training graph. step holds the number of
// completed steps as a floating point scalar.
func (s LinearSchedule) Graph(step *graph.Node) *graph.Node {
	g := step.Graph()
	dtype := step.DType()
	up := graph.DivScalar(step, float64(max(1, s.Warmup)))
	down := graph.Sub(graph.Scalar(g, dtype, s.Total), step)
	down = graph.MaxScalar(graph.DivScalar(down, float64(max(1, s.Total-s.Warmup))), 0)
	return graph.Where(graph.LessThan(step, graph.Scalar(g, dtype, s.Warmup)), up, down)
}
