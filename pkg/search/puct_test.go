package search

import (
	"testing"

	"github.com/chesscoach/enginecore/pkg/node"
	"github.com/chesscoach/enginecore/pkg/position"
)

func TestSelectChildPrefersHigherPrior(t *testing.T) {
	parent := node.NewRoot()
	children := make([]node.Node, 3)
	children[0].Move = position.NewMove(0, 1, 0)
	children[0].QuantizedPrior = 60000
	children[1].Move = position.NewMove(0, 2, 0)
	children[1].QuantizedPrior = 100
	children[2].Move = position.NewMove(0, 3, 0)
	children[2].QuantizedPrior = 100
	parent.FinishExpand(children)

	res, ok := SelectChild(parent, 0, 0, 0, DefaultPuctParams())
	if !ok {
		t.Fatalf("expected a selection result")
	}
	if res.Move != children[0].Move {
		t.Fatalf("expected the highest-prior unvisited child to be selected, got move %v", res.Move)
	}
}

func TestSelectChildSkipsExpanding(t *testing.T) {
	parent := node.NewRoot()
	children := make([]node.Node, 2)
	children[0].QuantizedPrior = 60000
	children[1].QuantizedPrior = 100
	parent.FinishExpand(children)

	if !parent.Children[0].TryBeginExpand() {
		t.Fatalf("setup: expected to win CAS on child 0")
	}

	res, ok := SelectChild(parent, 0, 0, 0, DefaultPuctParams())
	if !ok {
		t.Fatalf("expected a selection result")
	}
	if res.Index != 1 {
		t.Fatalf("expected the non-expanding child to be selected, got index %d", res.Index)
	}
}

func TestSelectChildReturnsFalseWhenAllBlocked(t *testing.T) {
	parent := node.NewRoot()
	children := make([]node.Node, 1)
	parent.FinishExpand(children)
	parent.Children[0].TryBeginExpand()

	_, ok := SelectChild(parent, 0, 0, 0, DefaultPuctParams())
	if ok {
		t.Fatalf("expected no selection when every child is blocked")
	}
}
