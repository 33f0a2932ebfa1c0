// Post-hoc minimax for endgames, per §4.8. No precedent in the teacher's
// pure-MCTS driver; grounded in spirit on ChizhovVadim-CounterGo's
// classical alpha-beta recursion shape (engine/searchserviceparallel.go)
// applied here as a plain min-max fold over an already-built MCTS subtree
// rather than a fresh search.
package search

import "github.com/chesscoach/enginecore/pkg/node"

const uninitialisedSentinel = -1

// MinimaxParams tunes which subtrees the recursion trusts.
type MinimaxParams struct {
	VisitsIgnore  float64 // skip children below this fraction of parent visits
	VisitsRecurse int32   // minimum parent visits required to recurse further
}

func DefaultMinimaxParams() MinimaxParams {
	return MinimaxParams{VisitsIgnore: 0.02, VisitsRecurse: 32}
}

// PostHocMinimax evaluates n from the perspective of n's own side to move,
// recursing into children whose visit share clears VisitsIgnore, so long as
// n itself has enough visits to trust the recursion; otherwise it falls
// back to the node's own stored average.
func PostHocMinimax(n *node.Node, params MinimaxParams) float32 {
	if len(n.Children) == 0 || n.VisitCount() < params.VisitsRecurse {
		if n.ValueWeight() == 0 {
			return uninitialisedSentinel
		}
		return n.ValueAverage()
	}

	parentVisits := n.VisitCount()
	best := float32(uninitialisedSentinel)
	anyInit := false
	for i := range n.Children {
		c := &n.Children[i]
		if float64(c.VisitCount()) < params.VisitsIgnore*float64(parentVisits) {
			continue
		}
		v := PostHocMinimax(c, params)
		if v == uninitialisedSentinel {
			continue
		}
		v = 1 - v // flip to n's perspective
		if !anyInit || v > best {
			best = v
			anyInit = true
		}
	}
	if !anyInit {
		if n.ValueWeight() == 0 {
			return uninitialisedSentinel
		}
		return n.ValueAverage()
	}
	return best
}

// SelectMoveByMinimax picks the child of parent with the highest post-hoc
// minimax value from parent's perspective, used when SelectMove falls into
// the endgame branch.
func SelectMoveByMinimax(parent *node.Node, params MinimaxParams) int {
	best := -1
	bestVal := float32(uninitialisedSentinel)
	for i := range parent.Children {
		v := PostHocMinimax(&parent.Children[i], params)
		if v == uninitialisedSentinel {
			continue
		}
		v = 1 - v
		if best < 0 || v > bestVal {
			best = i
			bestVal = v
		}
	}
	return best
}
