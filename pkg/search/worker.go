// MCTS worker loop, per §4.4. Grounded on IlikeChooros-go-mcts/pkg/mcts/
// search.go's Selection (descend-while-Expanded, AddVvl on every traversed
// child, CanExpand/FinishExpanding gate on the leaf, Gosched busy-wait on a
// blocked leaf) — generalised here to the specification's cooperative,
// non-blocking "Working/WaitingForPrediction/Finished" state machine
// (§9's design note) instead of the teacher's Gosched spin, since the
// search controller must be able to batch leaves across worker slots
// rather than block one goroutine per simulation.
package search

import (
	"math/rand"

	"github.com/chesscoach/enginecore/pkg/cache"
	"github.com/chesscoach/enginecore/pkg/node"
	"github.com/chesscoach/enginecore/pkg/position"
	"github.com/chesscoach/enginecore/pkg/shadow"
)

// SimState is the cooperative state machine driving one simulation slot.
type SimState int

const (
	SimIdle SimState = iota
	SimWaitingForPrediction
	SimFinished
	SimFailed
)

// Pending describes a simulation parked in SimWaitingForPrediction,
// carrying everything CompleteSimulation needs once the batched Evaluator
// returns.
type Pending struct {
	Leaf      *node.Node
	Moves     []position.Move
	CacheKey  uint64
	ChunkRef  cache.ChunkRef
	IsRoot    bool
	Ply       int
}

// DescendToLeaf runs steps 1-4 of the worker loop: snapshot the path,
// select children under PUCT until an unexpanded node is reached, and
// begin its expansion. It returns SimFinished with the shadow already
// backpropagated when the leaf resolved immediately (terminal or cache
// hit), SimWaitingForPrediction when the caller must submit g.Image to the
// batched Evaluator and later call CompleteSimulation, or SimFailed when
// the simulation must be discarded (TransientRace).
func DescendToLeaf(g *shadow.GameShadow, root *node.Node, rootVisit int64, puct PuctParams, expandParams ExpandParams, c *cache.PredictionCache, tb position.Tablebase, elapsedFraction float64) (SimState, Pending) {
	g.BeginSimulation()

	cur := root
	path := []*node.Node{root}
	for cur.Expanded() {
		sel, ok := SelectChild(cur, rootVisit, int64(cur.EffectiveVisits()), elapsedFraction, puct)
		if !ok {
			FailNode(g)
			return SimFailed, Pending{}
		}
		g.Descend(sel.Child, sel.Move, sel.Weight)
		cur = sel.Child
		path = append(path, cur)
	}

	isRoot := cur == root
	plyToSearchRoot := len(path) - 1
	begin := ExpandBegin(cur, g.Pos, tb, c, g.Ply+plyToSearchRoot, plyToSearchRoot, expandParams)
	switch begin.Outcome {
	case OutcomeAborted:
		FailNode(g)
		g.Unwind()
		return SimFailed, Pending{}
	case OutcomeImmediate:
		halfmoveClock, endgameProportion := g.Pos.HalfmoveClock(), g.Pos.EndgameProportion()
		g.Unwind()
		finishBackprop(g, path, begin.Value, cur, halfmoveClock, endgameProportion, expandParams)
		return SimFinished, Pending{}
	case OutcomeCacheHit:
		v := FinishExpansion(cur, g.Pos, begin.Moves, begin.Value, begin.Priors, true, c, begin.ChunkRef, begin.CacheKey, nil, isRoot, expandParams)
		halfmoveClock, endgameProportion := g.Pos.HalfmoveClock(), g.Pos.EndgameProportion()
		g.Unwind()
		finishBackprop(g, path, v, cur, halfmoveClock, endgameProportion, expandParams)
		return SimFinished, Pending{}
	case OutcomeNeedsNetwork:
		g.Pos.GenerateImage(g.Image)
		return SimWaitingForPrediction, Pending{
			Leaf:     cur,
			Moves:    begin.Moves,
			CacheKey: begin.CacheKey,
			ChunkRef: begin.ChunkRef,
			IsRoot:   isRoot,
			Ply:      g.Ply + len(path) - 1,
		}
	}
	g.Unwind()
	return SimFailed, Pending{}
}

// CompleteSimulation runs the remainder of the pipeline once a batched
// Evaluator call has returned value/policy for a Pending leaf: allocate the
// child array, probe tablebases, backpropagate, and handle root
// bookkeeping.
func CompleteSimulation(g *shadow.GameShadow, p Pending, value float32, policy []float32, c *cache.PredictionCache, tb position.Tablebase, expandParams ExpandParams, root *node.Node, rootParams RootParams, rng *rand.Rand) {
	path := make([]*node.Node, len(g.Path))
	for i, e := range g.Path {
		path[i] = e.Node
	}

	v := FinishExpansion(p.Leaf, g.Pos, p.Moves, value, policy, false, c, p.ChunkRef, p.CacheKey, tb, p.IsRoot, expandParams)
	halfmoveClock, endgameProportion := g.Pos.HalfmoveClock(), g.Pos.EndgameProportion()
	g.Unwind()
	finishBackprop(g, path, v, p.Leaf, halfmoveClock, endgameProportion, expandParams)

	if p.Leaf == root {
		root.SetBestIndex(int(node.NoBestIndex))
		root.ResetValue(rootParams.RootFPU)
		PrepareExpandedRoot(root, g.Pos, tb, rootParams, rng)
	}
}

func finishBackprop(g *shadow.GameShadow, path []*node.Node, leafValue float32, leaf *node.Node, halfmoveClock int, endgameProportion float64, expandParams ExpandParams) {
	// Flip to the root's parent's perspective and apply endgame decay
	// before folding into the path (steps 5-6). halfmoveClock/
	// endgameProportion must be read from the leaf position before Unwind
	// restores Pos to the search root.
	v := leafValue
	if len(path)%2 == 0 {
		v = 1 - v
	}
	v = EndgameDecay(v, leaf.HasBound(), endgameProportion, halfmoveClock, 100)

	Backpropagate(g, v)

	wasMate := false
	if _, ok := leaf.MateInN(); ok {
		wasMate = true
	}
	if wasMate {
		BackpropagateMate(path)
	}

	UpdatePrincipalVariation(path)
}
