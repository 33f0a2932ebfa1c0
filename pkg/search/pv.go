// Principal-variation tracking, per §4.5. No direct precedent in the
// teacher for BestChild selection (its BestChildPolicy in vars.go is a
// simple visit-count/win-rate comparator with no tablebase-rank or
// mate-category ordering); the lexicographic "better" comparison here is a
// new component built to the specification's exact ordering rules.
// topChildrenByVisits, used for MultiPv reporting, is grounded on
// pkg/mcts/mcts.go's MultiPv method, which sorts root children by visit
// count the same way.
package search

import (
	"sort"
	"sync/atomic"

	"github.com/chesscoach/enginecore/pkg/node"
)

// pvChangedFlag mirrors the specification's principalVariationChanged
// signal so a PV printer running on another goroutine can pick up updates
// without polling every node. sync/atomic's sequential consistency is a
// strictly stronger guarantee than the release/acquire pair the
// specification asks for, so a plain atomic.Bool satisfies it.
var pvChangedFlag atomic.Bool

func PVChanged() bool {
	return pvChangedFlag.Swap(false)
}

// better reports whether candidate should replace incumbent as BestChild,
// under the ordering: higher tablebase rank; then faster mate / slower
// opponent-mate (proven mates beat unknowns beat proven opponent-mates);
// then higher visit count.
func better(candidate, incumbent *node.Node) bool {
	cRank, cHasBound := rankOf(candidate)
	iRank, iHasBound := rankOf(incumbent)
	if cHasBound || iHasBound {
		if cRank != iRank {
			return cRank > iRank
		}
	}

	cCat, cDist := mateCategory(candidate)
	iCat, iDist := mateCategory(incumbent)
	if cCat != iCat {
		return cCat > iCat
	}
	if cCat == mateCatWin && cDist != iDist {
		return cDist < iDist // faster mate wins
	}
	if cCat == mateCatLoss && cDist != iDist {
		return cDist > iDist // slower opponent-mate is "less bad"
	}

	return candidate.VisitCount() > incumbent.VisitCount()
}

const (
	mateCatLoss = iota
	mateCatUnknown
	mateCatWin
)

func mateCategory(n *node.Node) (cat int, dist int) {
	if m, ok := n.MateInN(); ok {
		return mateCatWin, m
	}
	if m, ok := n.OpponentMateInN(); ok {
		return mateCatLoss, m
	}
	return mateCatUnknown, 0
}

func rankOf(n *node.Node) (rank int8, hasBound bool) {
	rb := n.RankBound()
	return rb.Rank, rb.Bound != 0
}

// UpdatePrincipalVariation walks the descent path (root-to-leaf) and, at
// each level, replaces BestChild if the next-level node is strictly better
// than the current incumbent.
func UpdatePrincipalVariation(path []*node.Node) {
	for i := 0; i < len(path)-1; i++ {
		parent := path[i]
		child := path[i+1]
		childIdx := indexInChildren(parent, child)
		if childIdx < 0 {
			continue
		}
		incumbent := parent.BestChild()
		if incumbent == nil || better(child, incumbent) {
			parent.SetBestIndex(childIdx)
			pvChangedFlag.Store(true)
		}
	}
}

// FixPrincipalVariation re-evaluates a node's BestChild from scratch,
// called after a child's mate status worsens and the PV may need to move
// away from that line. A nil parent (root's parent) is a no-op.
func FixPrincipalVariation(parent *node.Node) {
	if parent == nil {
		return
	}
	best := -1
	for i := range parent.Children {
		if best < 0 || better(&parent.Children[i], &parent.Children[best]) {
			best = i
		}
	}
	if best >= 0 {
		parent.SetBestIndex(best)
		pvChangedFlag.Store(true)
	}
}

func indexInChildren(parent, child *node.Node) int {
	for i := range parent.Children {
		if &parent.Children[i] == child {
			return i
		}
	}
	return -1
}

// PVLine collects the move sequence along BestChild pointers starting at
// root, for UCI `info ... pv ...` reporting.
func PVLine(root *node.Node, maxLen int) []node.Node {
	line := make([]node.Node, 0, maxLen)
	cur := root
	for len(line) < maxLen {
		bc := cur.BestChild()
		if bc == nil {
			break
		}
		line = append(line, *bc)
		cur = bc
	}
	return line
}

// pvLineFrom collects the move sequence starting at first (included) and
// then following BestChild pointers, for building one MultiPv line from an
// arbitrary root child rather than from root.BestChild.
func pvLineFrom(first *node.Node, maxLen int) []node.Node {
	line := make([]node.Node, 0, maxLen)
	cur := first
	for cur != nil && len(line) < maxLen {
		line = append(line, *cur)
		cur = cur.BestChild()
	}
	return line
}

// topChildrenByVisits returns pointers into root.Children for the n
// highest-visit-count children, most visits first, mirroring
// IlikeChooros-go-mcts/pkg/mcts/mcts.go's MultiPv sort. n is clamped to the
// number of live children.
func topChildrenByVisits(root *node.Node, n int) []*node.Node {
	count := root.ChildCount()
	if n > count {
		n = count
	}
	if n <= 0 {
		return nil
	}
	ranked := make([]*node.Node, count)
	for i := 0; i < count; i++ {
		ranked[i] = &root.Children[i]
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].VisitCount() > ranked[j].VisitCount()
	})
	return ranked[:n]
}
