// Backpropagation, per §4.5. Grounded on IlikeChooros-go-mcts/pkg/mcts/
// ucb.go's Backpropagate (virtual-loss reversal plus per-level value flip)
// and strategy.go's DefaultBackprop, generalised with the specification's
// bounded-value clamp, selective-backprop weight cutover, and
// draw-sibling-FPU re-seeding, none of which the teacher's two-player
// zero-sum backprop implements.
package search

import (
	"github.com/chesscoach/enginecore/pkg/node"
	"github.com/chesscoach/enginecore/pkg/shadow"
)

const (
	valueBuildRate = 0.01
	valueWeightCap = 250
	drawValue      = 0.5
)

// Backpropagate walks the descent path from leaf to root, folding v into
// each level's running average until the incoming weight drops to zero, at
// which point only visit bookkeeping continues for the remainder of the
// path.
func Backpropagate(g *shadow.GameShadow, v float32) {
	path := g.Path
	weight := 1
	for i := len(path) - 1; i >= 0; i-- {
		entry := path[i]
		n := entry.Node
		n.SettleVisit()

		v = n.BoundedValue(v)
		if weight != 0 {
			weight = entry.Weight
		}
		if weight != 0 {
			newWeight := n.SampleValue(v, valueBuildRate, valueWeightCap)

			if newWeight == 1 && v == drawValue && i >= 1 {
				applyDrawSiblingFPU(path, i, v)
				weight = 0
			}
		}
		v = 1 - v
	}
}

// applyDrawSiblingFPU re-seeds unvisited siblings of the leaf that just
// produced its first sample as an exact draw, so a single surprising draw
// does not drag the parent's average down before real evidence arrives.
func applyDrawSiblingFPU(path []shadow.PathEntry, leafIdx int, rootPerspectiveValue float32) {
	if leafIdx == 0 {
		return
	}
	parent := path[leafIdx-1].Node
	leaf := path[leafIdx].Node
	for i := range parent.Children {
		sib := &parent.Children[i]
		if sib == leaf {
			continue
		}
		if sib.ValueWeight() != 0 {
			continue
		}
		sib.SeedFPU(rootPerspectiveValue)
	}
}

// EndgameDecay applies the specification's rule-50 decay to a leaf value
// that carries no tablebase/terminal bound.
func EndgameDecay(v float32, hasBound bool, endgameProportion float64, rule50 int, decayDivisor float64) float32 {
	if hasBound {
		return v
	}
	const draw = 0.5
	decay := float32(endgameProportion * float64(rule50) / decayDivisor)
	return v + (draw-v)*decay
}

// FailNode is the TransientRace recovery path: unwind virtual loss along
// the path without any value backpropagation, and report the failure so
// the controller can track failedNodeCount.
func FailNode(g *shadow.GameShadow) {
	g.Fail()
}

// BoundedValueOf is a function-form wrapper around n.BoundedValue(v).
func BoundedValueOf(n *node.Node, v float32) float32 {
	return n.BoundedValue(v)
}
