// Expansion / evaluation pipeline, per §4.2. Grounded on
// IlikeChooros-go-mcts/examples/chess/chess-mcts/ucb.go's ExpandNode (legal
// move generation, terminal detection, per-child Node allocation) and on
// brensch-snek2/executor/inference/onnx.go's request/response split for
// crossing an asynchronous batched-evaluator boundary, since the teacher's
// ExpandNode calls its Evaluator equivalent synchronously and has no
// prediction cache or tablebase step to interleave.
package search

import (
	"math"

	"github.com/chesscoach/enginecore/pkg/cache"
	"github.com/chesscoach/enginecore/pkg/node"
	"github.com/chesscoach/enginecore/pkg/position"
)

// ExpandParams bundles the constants the pipeline needs beyond the leaf
// itself.
type ExpandParams struct {
	CachePlyCap      int
	SelfPlay         bool
	SearchMoves      []position.Move
	CacheStore       bool
	DefaultFPU       float32
	TablebasePieces  int
}

// ExpandOutcome is the result of ExpandBegin.
type ExpandOutcome int

const (
	// OutcomeImmediate: the leaf's value is available with no child array
	// (terminal, or a repetition/50-move draw).
	OutcomeImmediate ExpandOutcome = iota
	// OutcomeCacheHit: value/priors came from the cache; caller should
	// call FinishExpansion directly with them.
	OutcomeCacheHit
	// OutcomeNeedsNetwork: caller must submit the shadow's image buffer to
	// the batched Evaluator and later call FinishExpansion with the
	// returned value/policy.
	OutcomeNeedsNetwork
	// OutcomeAborted: lost the expansion CAS; caller must FailNode.
	OutcomeAborted
)

type BeginResult struct {
	Outcome    ExpandOutcome
	Value      float32
	Priors     []float32 // populated on OutcomeCacheHit
	MoveCount  int
	Moves      []position.Move
	CacheKey   uint64
	ChunkRef   cache.ChunkRef
}

// ExpandBegin runs steps 1-9 of §4.2 up to (but not including) the point
// where a network round-trip would be required: it detects terminal
// states, generates legal moves, and probes the cache. If the cache
// misses, the caller is responsible for writing pos.GenerateImage into its
// per-slot scratch buffer and driving the batched Evaluator; ExpandBegin
// itself never blocks.
//
// ply is the position's absolute ply from the start of the game (used for
// the cache ply cap); plyToSearchRoot is its depth below the current
// search root (used for the repetition boundary, since a twofold repeat
// against a position from before the root is an ordinary revisit, not the
// draw-biasing case step 5 exists for). tb may be nil (no tablebase
// configured); when present and pos falls under the piece-count threshold,
// ExpandBegin probes it for this single leaf (as opposed to FinishExpansion's
// ProbeRoot call, which assigns bounds to the children of the leaf it
// expands) and seeds
// the leaf's bound before expansion proceeds, so PUCT sees it immediately
// rather than waiting for a later visit to re-derive it.
func ExpandBegin(leaf *node.Node, pos position.Position, tb position.Tablebase, c *cache.PredictionCache, ply, plyToSearchRoot int, params ExpandParams) BeginResult {
	if v, ok := leaf.TerminalState(); ok {
		return BeginResult{Outcome: OutcomeImmediate, Value: terminalToValue(v)}
	}

	moves := pos.LegalMoves()
	if len(moves) == 0 {
		if pos.InCheck() {
			leaf.SetMateIn(1)
		} else {
			leaf.SetDraw()
		}
		v, _ := leaf.TerminalState()
		return BeginResult{Outcome: OutcomeImmediate, Value: terminalToValue(v)}
	}

	dist := pos.RepetitionDistance()
	if pos.HalfmoveClock() >= 100 || dist < 0 {
		// 50-move rule, or a genuine threefold repetition (the matched
		// earlier occurrence had itself already repeated): permanent
		// terminal draw (step 4).
		leaf.SetDraw()
		return BeginResult{Outcome: OutcomeImmediate, Value: 0.5}
	}
	if dist > 0 && dist < plyToSearchRoot {
		// Twofold repetition strictly after the search root: draw value
		// only, terminal state left untouched, since extending the search
		// root past the earlier occurrence may later invalidate it (step
		// 5). A repeat against a position at or before the root is an
		// ordinary revisit and needs no special handling here.
		return BeginResult{Outcome: OutcomeImmediate, Value: 0.5}
	}

	if tb != nil && estimatedPieceCount(pos) <= params.TablebasePieces {
		if rb, ok := tb.ProbeWDL(pos, plyToSearchRoot == 0); ok {
			leaf.SetTablebaseRankBound(rb)
		}
	}

	if !leaf.TryBeginExpand() {
		return BeginResult{Outcome: OutcomeAborted}
	}

	key := pos.Fingerprint()
	moveCount := len(moves)
	if moveCount <= cache.MaxMoveCount && (params.SelfPlay || ply <= params.CachePlyCap) {
		res := c.TryGet(key, moveCount)
		if res.Hit {
			return BeginResult{
				Outcome:   OutcomeCacheHit,
				Value:     res.Value,
				Priors:    res.Priors,
				MoveCount: moveCount,
				Moves:     moves,
				CacheKey:  key,
				ChunkRef:  res.ChunkRef,
			}
		}
		return BeginResult{
			Outcome:   OutcomeNeedsNetwork,
			MoveCount: moveCount,
			Moves:     moves,
			CacheKey:  key,
			ChunkRef:  res.ChunkRef,
		}
	}

	return BeginResult{
		Outcome:   OutcomeNeedsNetwork,
		MoveCount: moveCount,
		Moves:     moves,
		CacheKey:  key,
	}
}

func terminalToValue(v int32) float32 {
	if v == 0 {
		return 0.5
	}
	if v > 0 {
		return 1.0
	}
	return 0.0
}

// FinishExpansion runs steps 9-14: convert network output (or a cache hit's
// already-dequantised priors) into a child array, store into the cache
// (before any searchmoves filtering), probe tablebases, and release-store
// the node as Expanded.
func FinishExpansion(
	leaf *node.Node, pos position.Position, moves []position.Move,
	value float32, priors []float32, fromCache bool,
	c *cache.PredictionCache, ref cache.ChunkRef, key uint64,
	tb position.Tablebase, isRoot bool, params ExpandParams,
) float32 {
	if !fromCache {
		softmaxInPlace(priors)
		if params.CacheStore && c != nil {
			c.Put(ref, key, value, len(moves), priors)
		}
	}

	filtered := moves
	filteredPriors := priors
	if isRoot && len(params.SearchMoves) > 0 {
		filtered, filteredPriors = filterAndRenormalise(moves, priors, params.SearchMoves)
	}

	children := make([]node.Node, len(filtered))
	for i, m := range filtered {
		children[i].Move = m
		children[i].QuantizedPrior = cache.Quantise(filteredPriors[i])
		fpu := params.DefaultFPU
		children[i].ResetValue(fpu)
	}

	if tb != nil {
		if len(filtered) < 32 || estimatedPieceCount(pos) <= params.TablebasePieces {
			if entries, ok := tb.ProbeRoot(pos); ok {
				for _, e := range entries {
					for i := range children {
						if children[i].Move == e.Move {
							children[i].SetTablebaseRankBound(e.RankBound)
						}
					}
				}
			}
		}
	}

	leaf.FinishExpand(children)
	return value
}

func estimatedPieceCount(pos position.Position) int {
	// Position does not expose a piece count directly; non-pawn material
	// is a reasonable, already-available proxy for "few pieces left".
	return pos.NonPawnMaterial()
}

func softmaxInPlace(logits []float32) {
	if len(logits) == 0 {
		return
	}
	maxV := logits[0]
	for _, v := range logits {
		if v > maxV {
			maxV = v
		}
	}
	sum := float32(0)
	for i, v := range logits {
		e := float32(math.Exp(float64(v - maxV)))
		logits[i] = e
		sum += e
	}
	if sum == 0 {
		return
	}
	for i := range logits {
		logits[i] /= sum
	}
}

func filterAndRenormalise(moves []position.Move, priors []float32, allowed []position.Move) ([]position.Move, []float32) {
	allowedSet := make(map[position.Move]bool, len(allowed))
	for _, m := range allowed {
		allowedSet[m] = true
	}
	fm := make([]position.Move, 0, len(moves))
	fp := make([]float32, 0, len(priors))
	sum := float32(0)
	for i, m := range moves {
		if allowedSet[m] {
			fm = append(fm, m)
			fp = append(fp, priors[i])
			sum += priors[i]
		}
	}
	if sum > 0 {
		for i := range fp {
			fp[i] /= sum
		}
	}
	return fm, fp
}
