// Move selection, per §4.7's SelectMove and §4.8's post-hoc minimax
// integration. No direct precedent in the teacher (its BestMove in
// mcts.go is a flat visit-count/win-rate pick with no sampling or
// diversity mode); built from the specification's decision tree directly,
// reusing node ordering from pv.go and the minimax fold from minimax.go.
package search

import (
	"math"
	"math/rand"

	"github.com/chesscoach/enginecore/pkg/node"
	"github.com/chesscoach/enginecore/pkg/position"
)

// SelectMoveParams configures the self-play sampling and search-mode
// diversity branches of SelectMove.
type SelectMoveParams struct {
	SelfPlay             bool
	Ply                  int
	NumSamplingMoves     int
	DiversityEnabled     bool
	MoveDiversityPlies   int
	ValueDeltaThreshold  float32
	MoveDiversityTemp    float64
	EndgameThreshold     int
	Minimax              MinimaxParams
	Rng                  *rand.Rand
}

func DefaultSelectMoveParams() SelectMoveParams {
	return SelectMoveParams{
		NumSamplingMoves:    30,
		DiversityEnabled:    true,
		MoveDiversityPlies:  0,
		ValueDeltaThreshold: 0.02,
		MoveDiversityTemp:   1.5,
		EndgameThreshold:    1300,
		Minimax:             DefaultMinimaxParams(),
		Rng:                 rand.New(rand.NewSource(1)),
	}
}

// SelectMove implements §4.7's decision tree.
func SelectMove(root *node.Node, pos position.Position, params SelectMoveParams) position.Move {
	if !root.Expanded() || len(root.Children) == 0 {
		return position.NoMove
	}

	if root.BestChild() == nil {
		return highestPriorMove(root)
	}

	if params.SelfPlay && params.Ply < params.NumSamplingMoves {
		return sampleByVisits(root, 1.0, params.Rng)
	}

	if !params.SelfPlay && params.DiversityEnabled && params.Ply < params.MoveDiversityPlies {
		return diversitySample(root, params)
	}

	if !params.SelfPlay && pos.NonPawnMaterial() <= params.EndgameThreshold {
		idx := SelectMoveByMinimax(root, params.Minimax)
		if idx >= 0 {
			return root.Children[idx].Move
		}
	}

	bc := root.BestChild()
	if bc == nil {
		return highestPriorMove(root)
	}
	return bc.Move
}

func highestPriorMove(root *node.Node) position.Move {
	best := -1
	var bestPrior uint16
	for i := range root.Children {
		if best < 0 || root.Children[i].QuantizedPrior > bestPrior {
			best = i
			bestPrior = root.Children[i].QuantizedPrior
		}
	}
	if best < 0 {
		return position.NoMove
	}
	return root.Children[best].Move
}

func sampleByVisits(root *node.Node, temperature float64, rng *rand.Rand) position.Move {
	weights := make([]float64, len(root.Children))
	total := 0.0
	for i := range root.Children {
		w := math.Pow(float64(root.Children[i].VisitCount()), 1.0/temperature)
		weights[i] = w
		total += w
	}
	if total == 0 {
		return highestPriorMove(root)
	}
	r := rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return root.Children[i].Move
		}
	}
	return root.Children[len(root.Children)-1].Move
}

func diversitySample(root *node.Node, params SelectMoveParams) position.Move {
	best := root.BestChild()
	if best == nil {
		return highestPriorMove(root)
	}
	bestRank, bestHasBound := best.RankBound().Rank, best.HasBound()
	bestCat, _ := mateCategory(best)
	bestVal := best.ValueAverage()

	type cand struct {
		idx    int
		visits float64
	}
	cands := make([]cand, 0, len(root.Children))
	for i := range root.Children {
		c := &root.Children[i]
		cat, _ := mateCategory(c)
		if cat != bestCat {
			continue
		}
		if bestHasBound && c.RankBound().Rank != bestRank {
			continue
		}
		if bestVal-c.ValueAverage() > params.ValueDeltaThreshold {
			continue
		}
		cands = append(cands, cand{idx: i, visits: float64(c.VisitCount())})
	}
	if len(cands) == 0 {
		return best.Move
	}

	total := 0.0
	weights := make([]float64, len(cands))
	for i, c := range cands {
		w := math.Pow(c.visits, 1.0/params.MoveDiversityTemp)
		weights[i] = w
		total += w
	}
	if total == 0 {
		return best.Move
	}
	r := params.Rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return root.Children[cands[i].idx].Move
		}
	}
	return best.Move
}

func (ctl *Controller) selectMove(limits *Limits) position.Move {
	p := DefaultSelectMoveParams()
	p.SelfPlay = ctl.cfg.Root.SelfPlay
	p.Minimax = ctl.cfg.Minimax
	return SelectMove(ctl.root, ctl.rootPos, p)
}
