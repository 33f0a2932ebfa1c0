// Package shadow implements GameShadow, a cheap-to-copy view over a
// position.Position that participates in MCTS descent.
//
// Grounded on IlikeChooros-go-mcts/examples/chess/chess-mcts/ucb.go's
// UcbGameOps, which wraps a chess.Board and clones/undoes it per
// simulation the same way — generalised here into a first-class type with
// its own per-slot scratch buffers (image, priors) instead of leaving that
// bookkeeping inline in GameOperations.ExpandNode/Traverse.
package shadow

import (
	"github.com/chesscoach/enginecore/pkg/node"
	"github.com/chesscoach/enginecore/pkg/position"
)

// PathEntry is one (node, weight) pair on a simulation's descent path, used
// by backpropagation to know which levels receive value updates (weight 1)
// versus visit-only bookkeeping (weight 0).
type PathEntry struct {
	Node   *node.Node
	Weight int
}

// GameShadow is one worker slot's scratch position and descent path. The
// search controller builds a fresh set of slots on every pass of its worker
// loop; Unwind() rewinds the scratch position back to the shared root after
// each descent.
type GameShadow struct {
	Root  *node.Node
	Pos   position.Position
	Ply   int // ply offset of Root relative to the actual game root

	Path []PathEntry

	// Scratch buffers owned by this slot; they live as long as the shadow.
	Image    position.InputPlanes
	Priors   []float32
	scratchN int
}

// New builds a shadow for one worker slot. imagePlanes is the flattened
// input-plane length Position.GenerateImage expects.
func New(root *node.Node, pos position.Position, ply, imagePlanes int) *GameShadow {
	return &GameShadow{
		Root:   root,
		Pos:    pos,
		Ply:    ply,
		Path:   make([]PathEntry, 0, 64),
		Image:  make(position.InputPlanes, imagePlanes),
		Priors: make([]float32, 0, 64),
	}
}

// BeginSimulation resets the descent path to just the root with weight 1
// and registers virtual loss on it, matching worker loop step 1.
func (g *GameShadow) BeginSimulation() {
	g.Path = g.Path[:0]
	g.Root.RegisterDescent()
	g.Path = append(g.Path, PathEntry{Node: g.Root, Weight: 1})
}

// Descend applies a selected move to both the scratch position and the
// descent path, bumping the child's virtual loss.
func (g *GameShadow) Descend(child *node.Node, m position.Move, weight int) {
	g.Pos.DoMove(m)
	child.RegisterDescent()
	g.Path = append(g.Path, PathEntry{Node: child, Weight: weight})
}

// Leaf returns the node the descent currently sits on.
func (g *GameShadow) Leaf() *node.Node {
	return g.Path[len(g.Path)-1].Node
}

// Unwind undoes every DoMove this simulation performed, restoring Pos to
// the shared root position, ready for the next BeginSimulation.
func (g *GameShadow) Unwind() {
	for i := 1; i < len(g.Path); i++ {
		g.Pos.UndoMove()
	}
}

// Fail reverses virtual loss along the whole current path without
// backpropagating a value — the TransientRace recovery path.
func (g *GameShadow) Fail() {
	for _, e := range g.Path {
		e.Node.FailUnwind()
	}
}
