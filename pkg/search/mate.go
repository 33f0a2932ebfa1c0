// Mate proof propagation, per §4.5. There is no direct precedent for mate
// proving in the teacher's generic MCTS (it has no notion of terminal
// game-theoretic values beyond win/draw/loss rollouts); this is grounded
// on the CAS-guarded terminal-state discipline of
// H1W0XXX-xionghan/node.go and generalised to the specification's
// alternating mate/opponent-mate sweep.
package search

import "github.com/chesscoach/enginecore/pkg/node"

// BackpropagateMate is invoked when a leaf just transitioned into
// MateIn(·). path is ordered root-to-leaf, matching shadow.GameShadow.Path.
func BackpropagateMate(path []*node.Node) {
	for i := len(path) - 1; i > 0; i-- {
		child := path[i]
		parent := path[i-1]

		if m, ok := child.MateInN(); ok {
			if !parent.SetOpponentMateIn(m) {
				return
			}
			FixPrincipalVariation(parentOf(path, i-1))
			continue
		}

		if m, ok := child.OpponentMateInN(); ok {
			_ = m
			if !allSiblingsOpponentMate(parent) {
				return
			}
			worst := worstOpponentMate(parent)
			if !parent.SetMateIn(worst + 1) {
				return
			}
			FixPrincipalVariation(parentOf(path, i-1))
			continue
		}

		return
	}
}

func parentOf(path []*node.Node, idx int) *node.Node {
	if idx == 0 {
		return nil
	}
	return path[idx-1]
}

func allSiblingsOpponentMate(parent *node.Node) bool {
	for i := range parent.Children {
		if _, ok := parent.Children[i].OpponentMateInN(); !ok {
			return false
		}
	}
	return len(parent.Children) > 0
}

func worstOpponentMate(parent *node.Node) int {
	worst := 0
	for i := range parent.Children {
		if m, ok := parent.Children[i].OpponentMateInN(); ok && m > worst {
			worst = m
		}
	}
	return worst
}
