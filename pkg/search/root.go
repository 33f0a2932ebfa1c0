// Root preparation, per worker-loop step 10 and §4.4/§4.7. Grounded on
// IlikeChooros-go-mcts/pkg/mcts/mcts.go's Reset/MakeMove root-rebasing
// (advancing the tree root onto an already-expanded child instead of
// discarding it) and vars.go's ExplorationParam, generalised with root
// exploration noise, tablebase root probing, and the root-FPU reset the
// teacher's generic driver has no notion of.
package search

import (
	"math"
	"math/rand"

	"github.com/chesscoach/enginecore/pkg/node"
	"github.com/chesscoach/enginecore/pkg/position"
)

// RootParams configures self-play exploration noise and root FPU, mirrored
// on AlphaZero-style root perturbation named in the design notes.
type RootParams struct {
	SelfPlay        bool
	DirichletAlpha  float64
	DirichletWeight float64
	RootFPU         float32
	DefaultFPU      float32
}

func DefaultRootParams() RootParams {
	return RootParams{
		SelfPlay:        false,
		DirichletAlpha:  0.3,
		DirichletWeight: 0.25,
		RootFPU:         0.5,
		DefaultFPU:      0.42,
	}
}

// PrepareExpandedRoot runs immediately after the root itself is (re-)
// expanded: it seeds unvisited children with the root FPU (distinct from
// the default FPU used elsewhere in the tree), adds Dirichlet exploration
// noise to priors when self-playing, and probes the tablebase at the root
// when a Tablebase is supplied.
func PrepareExpandedRoot(root *node.Node, pos position.Position, tb position.Tablebase, params RootParams, rng *rand.Rand) {
	for i := range root.Children {
		c := &root.Children[i]
		if c.ValueWeight() == 0 {
			c.ResetValue(params.RootFPU)
		}
	}

	if params.SelfPlay && len(root.Children) > 0 {
		addDirichletNoise(root, params, rng)
	}

	if tb != nil {
		if entries, ok := tb.ProbeRoot(pos); ok {
			for _, e := range entries {
				for i := range root.Children {
					if root.Children[i].Move == e.Move {
						root.Children[i].SetTablebaseRankBound(e.RankBound)
					}
				}
			}
		}
	}
}

// addDirichletNoise blends each child's quantised prior with a sample from
// a Dirichlet(alpha) distribution, the standard AlphaZero root-exploration
// mechanism.
func addDirichletNoise(root *node.Node, params RootParams, rng *rand.Rand) {
	n := len(root.Children)
	if n == 0 {
		return
	}
	noise := make([]float64, n)
	sum := 0.0
	for i := range noise {
		noise[i] = sampleGamma(params.DirichletAlpha, rng)
		sum += noise[i]
	}
	if sum == 0 {
		return
	}
	for i := range root.Children {
		c := &root.Children[i]
		p := float64(c.QuantizedPrior) / 65535.0
		blended := (1-params.DirichletWeight)*p + params.DirichletWeight*(noise[i]/sum)
		if blended <= 0 {
			blended = 1.0 / 65535.0
		}
		if blended > 1 {
			blended = 1
		}
		c.QuantizedPrior = uint16(blended * 65535)
	}
}

// sampleGamma draws from Gamma(alpha, 1) via Marsaglia-Tsang, the usual way
// to build a Dirichlet sample from independent Gammas.
func sampleGamma(alpha float64, rng *rand.Rand) float64 {
	if alpha < 1 {
		u := rng.Float64()
		return sampleGamma(alpha+1, rng) * math.Pow(u, 1/alpha)
	}
	d := alpha - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*(x*x*x*x) {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
