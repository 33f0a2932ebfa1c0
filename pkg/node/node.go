// Package node implements the fixed-layout tree node the search core owns:
// an arena of atomic fields, no reference counting, contiguous per-parent
// child arrays.
//
// Grounded on IlikeChooros-go-mcts/pkg/mcts/node.go's NodeBase, whose
// CAS-based Flags state machine (CanExpand/Expanding/Expanded) and
// GetVvl/AddVvl virtual-loss bookkeeping this package generalises to the
// wider per-node field set (bounds, mate values, moving-average value) the
// specification requires, and on H1W0XXX-xionghan/node.go's
// atomic.CompareAndSwapInt32 expansion gate for the same three-state
// pattern applied to a different domain.
package node

import (
	"math"
	"sync/atomic"

	"github.com/chesscoach/enginecore/pkg/position"
)

// Expansion states, matching the specification's state machine exactly.
const (
	ExpansionNone     uint32 = 0
	ExpansionWorking  uint32 = 1
	ExpansionExpanded uint32 = 2
)

// NoBestIndex is the "no best child yet" sentinel for BestIndex.
const NoBestIndex uint8 = 0xFF

// NotTerminal is the terminalValue sentinel meaning "not yet proven".
const NotTerminal int32 = math.MinInt32

// mateSentinelBase offsets proven mate distances away from ordinary
// (draw/none) terminal values, so MateIn/OpponentMateIn/Draw all fit in one
// int32 without colliding with NotTerminal.
const (
	drawValue        int32 = 0
	mateInBase       int32 = 1000
	opponentMateBase int32 = -1000
)

// Node is a single tree vertex. All mutable fields are atomic; the node
// that successfully CAS's expansion from None to Working is the sole
// writer of Children, ChildCount and the per-child Move/QuantizedPrior/
// initial ValueAverage until it release-stores Expanded.
type Node struct {
	Children   []Node
	childCount atomic.Uint32
	bestIndex  atomic.Uint32

	Move           position.Move
	QuantizedPrior uint16

	rankBound atomic.Int32 // packed (rank<<2 | bound)

	visitCount    atomic.Int32
	visitingCount atomic.Int32

	terminalValue atomic.Int32

	expansion atomic.Uint32

	valueAverage atomicFloat32
	valueWeight  atomic.Int32
}

type atomicFloat32 struct{ bits atomic.Uint32 }

func (f *atomicFloat32) Load() float32   { return math.Float32frombits(f.bits.Load()) }
func (f *atomicFloat32) Store(v float32) { f.bits.Store(math.Float32bits(v)) }
func (f *atomicFloat32) CAS(old, new float32) bool {
	return f.bits.CompareAndSwap(math.Float32bits(old), math.Float32bits(new))
}

// NewRoot returns a freshly allocated root node, not yet expanded.
func NewRoot() *Node {
	n := &Node{}
	n.terminalValue.Store(NotTerminal)
	n.bestIndex.Store(uint32(NoBestIndex))
	return n
}

// ChildCount returns the number of live children (0 until expansion
// completes).
func (n *Node) ChildCount() int { return int(n.childCount.Load()) }

// BestIndex returns the index of BestChild within Children, or -1 if none
// has been established yet.
func (n *Node) BestIndex() int {
	v := n.bestIndex.Load()
	if v == uint32(NoBestIndex) {
		return -1
	}
	return int(v)
}

func (n *Node) SetBestIndex(i int) { n.bestIndex.Store(uint32(i)) }

// BestChild returns the current principal child, or nil if none is set.
func (n *Node) BestChild() *Node {
	i := n.BestIndex()
	if i < 0 || i >= len(n.Children) {
		return nil
	}
	return &n.Children[i]
}

// --- expansion state machine -------------------------------------------------

// Expansion returns the current expansion state (ExpansionNone/Working/
// Expanded), acquire-loaded so a caller observing Expanded also observes
// the Children/ChildCount writes that preceded the release-store.
func (n *Node) Expansion() uint32 { return n.expansion.Load() }

func (n *Node) Expanded() bool  { return n.expansion.Load() == ExpansionExpanded }
func (n *Node) Expanding() bool { return n.expansion.Load() == ExpansionWorking }

// TryBeginExpand attempts the None -> Working transition. Only the caller
// that wins may write Children/ChildCount/per-child fields.
func (n *Node) TryBeginExpand() bool {
	return n.expansion.CompareAndSwap(ExpansionNone, ExpansionWorking)
}

// AbandonExpand reverts a node left in Working back to None. The search
// controller's end-of-search finalization calls it on every node still
// mid-expansion; the ordinary CAS-loss path never reaches this, it simply
// never won the CAS in the first place.
func (n *Node) AbandonExpand() { n.expansion.Store(ExpansionNone) }

// FinishExpand publishes children with a release-store: any thread that
// subsequently observes Expanded also observes every field this method's
// caller wrote beforehand.
func (n *Node) FinishExpand(children []Node) {
	n.Children = children
	n.childCount.Store(uint32(len(children)))
	n.expansion.Store(ExpansionExpanded)
}

// --- visits / virtual loss ---------------------------------------------------

func (n *Node) VisitCount() int32    { return n.visitCount.Load() }
func (n *Node) VisitingCount() int32 { return n.visitingCount.Load() }

func (n *Node) AddVisiting(delta int32) { n.visitingCount.Add(delta) }
func (n *Node) AddVisit(delta int32)    { n.visitCount.Add(delta) }

// RegisterDescent bumps visitingCount by 1 when a simulation passes through
// this node on the way down (virtual loss applied).
func (n *Node) RegisterDescent() { n.visitingCount.Add(1) }

// SettleVisit is called during backpropagation: decrement virtual loss,
// increment the real visit count.
func (n *Node) SettleVisit() {
	n.visitingCount.Add(-1)
	n.visitCount.Add(1)
}

// FailUnwind reverses a virtual-loss increment for a simulation that was
// aborted before reaching backpropagation (TransientRace recovery).
func (n *Node) FailUnwind() { n.visitingCount.Add(-1) }

// EffectiveVisits is N = visitCount + visitingCount, the PUCT exploration
// count.
func (n *Node) EffectiveVisits() int32 {
	return n.visitCount.Load() + n.visitingCount.Load()
}

// --- terminal / mate values --------------------------------------------------

// TerminalState reports whether a terminal value has been proven and, if
// so, its signed mate/draw encoding.
func (n *Node) TerminalState() (v int32, ok bool) {
	v = n.terminalValue.Load()
	return v, v != NotTerminal
}

func (n *Node) IsTerminal() bool { return n.terminalValue.Load() != NotTerminal }

func (n *Node) SetDraw() { n.terminalValue.Store(drawValue) }

// MateInN returns (n, true) if this node is a proven win in n full moves for
// the player who made the move into it (the parent's side to move); a
// checkmated position is stored as MateIn(1).
func (n *Node) MateInN() (int, bool) {
	v := n.terminalValue.Load()
	if v >= mateInBase {
		return int(v - mateInBase), true
	}
	return 0, false
}

// OpponentMateInN returns (n, true) if this node is a proven loss in n full
// moves for the player who made the move into it.
func (n *Node) OpponentMateInN() (int, bool) {
	v := n.terminalValue.Load()
	if v <= opponentMateBase {
		return int(opponentMateBase - v), true
	}
	return 0, false
}

// SetMateIn stores a proven win in n moves, enforcing monotonicity: a
// MateIn(n) value never regresses to a slower MateIn(m>n).
func (n *Node) SetMateIn(m int) bool {
	newV := mateInBase + int32(m)
	for {
		cur := n.terminalValue.Load()
		if cur >= mateInBase && cur <= newV {
			return false
		}
		if n.terminalValue.CompareAndSwap(cur, newV) {
			return true
		}
	}
}

// SetOpponentMateIn stores a proven loss in n moves, enforcing the mirror
// monotonicity rule.
func (n *Node) SetOpponentMateIn(m int) bool {
	newV := opponentMateBase - int32(m)
	for {
		cur := n.terminalValue.Load()
		if cur <= opponentMateBase && cur >= newV {
			return false
		}
		if n.terminalValue.CompareAndSwap(cur, newV) {
			return true
		}
	}
}

// --- bounds -------------------------------------------------------------

func (n *Node) RankBound() position.RankBound {
	return position.UnpackRankBound(n.rankBound.Load())
}

func (n *Node) HasBound() bool {
	return position.UnpackRankBound(n.rankBound.Load()).Bound != position.BoundNone
}

// BoundScore maps a bound classification to a search-value seed.
func BoundScore(b position.RankBound) float32 {
	switch b.Bound {
	case position.BoundLower:
		return 1
	case position.BoundUpper:
		return 0
	case position.BoundExact:
		return 0.5 + float32(b.Rank)*0.001
	default:
		return 0.5
	}
}

// BoundedValue clamps v against this node's stored bound, if any.
func (n *Node) BoundedValue(v float32) float32 {
	rb := n.RankBound()
	switch rb.Bound {
	case position.BoundLower:
		if v < 0.5 {
			return 0.5
		}
	case position.BoundUpper:
		if v > 0.5 {
			return 0.5
		}
	}
	return v
}

// SetTablebaseRankBound atomically swaps the packed (rank, bound) and
// updates valueAverage per the specification: seeds it directly when unset,
// clamps the existing average otherwise, and demotes the prior on a proven
// loss so PUCT stops steering into it while preserving move ordering.
func (n *Node) SetTablebaseRankBound(rb position.RankBound) {
	old := position.UnpackRankBound(n.rankBound.Swap(rb.Packed()))
	if n.valueWeight.Load() == 0 {
		n.valueAverage.Store(BoundScore(rb))
	} else {
		for {
			old := n.valueAverage.Load()
			nw := n.BoundedValue(old)
			if nw == old || n.valueAverage.CAS(old, nw) {
				break
			}
		}
	}
	if rb.Bound == position.BoundUpper && old.Bound != position.BoundUpper {
		// Single-writer invariant: only the thread that just flipped the
		// bound to upper reaches here for this node.
		n.QuantizedPrior /= 1000
		if n.QuantizedPrior == 0 {
			n.QuantizedPrior = 1
		}
	}
}

// --- value average / weight ----------------------------------------------

func (n *Node) ValueAverage() float32 { return n.valueAverage.Load() }
func (n *Node) ValueWeight() int32    { return n.valueWeight.Load() }

// SeedFPU writes the first-play-urgency value, tolerating the documented
// data race with a concurrent SampleValue: whichever write lands last
// before weight becomes nonzero is irrelevant, because SampleValue always
// overwrites it on the first real sample.
func (n *Node) SeedFPU(v float32) {
	n.valueAverage.Store(v)
}

// SampleValue folds v into the running average with a moving-average step
// size of 1/clamp(newWeight*buildRate, 1, cap), returning the new weight.
func (n *Node) SampleValue(v float32, buildRate float64, cap int32) int32 {
	newWeight := n.valueWeight.Add(1)
	step := float64(newWeight) * buildRate
	if step < 1 {
		step = 1
	}
	if step > float64(cap) {
		step = float64(cap)
	}
	for {
		old := n.valueAverage.Load()
		nw := old + float32(float64(v-old)/step)
		if n.valueAverage.CAS(old, nw) {
			return newWeight
		}
	}
}

// ResetValue clears valueAverage/valueWeight, used when the search root is
// re-rooted onto a previously expanded child.
func (n *Node) ResetValue(fpu float32) {
	n.valueWeight.Store(0)
	n.valueAverage.Store(fpu)
}
