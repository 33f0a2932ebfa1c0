package search

import (
	"testing"

	"github.com/chesscoach/enginecore/pkg/node"
)

func TestBackpropagateMateAlternates(t *testing.T) {
	root := node.NewRoot()
	mid := make([]node.Node, 1)
	root.FinishExpand(mid)
	child := &root.Children[0]
	leafSlice := make([]node.Node, 1)
	child.FinishExpand(leafSlice)
	leaf := &child.Children[0]

	leaf.SetMateIn(1)

	path := []*node.Node{root, child, leaf}
	BackpropagateMate(path)

	if m, ok := child.OpponentMateInN(); !ok || m != 1 {
		t.Fatalf("expected child to become OpponentMateIn(1), got (%d, %v)", m, ok)
	}
	if m, ok := root.MateInN(); !ok || m != 2 {
		t.Fatalf("expected root to become MateIn(2) once every child is OpponentMate, got (%d, %v)", m, ok)
	}
}

func TestBackpropagateMateStopsWithoutUnanimity(t *testing.T) {
	root := node.NewRoot()
	mid := make([]node.Node, 2)
	root.FinishExpand(mid)
	child0 := &root.Children[0]
	child1 := &root.Children[1]
	leafSlice := make([]node.Node, 1)
	child0.FinishExpand(leafSlice)
	leaf := &child0.Children[0]
	leaf.SetMateIn(1)

	path := []*node.Node{root, child0, leaf}
	BackpropagateMate(path)

	if _, ok := root.MateInN(); ok {
		t.Fatalf("root should not become mate while child1 is unproven")
	}
	_ = child1
}
