// Grounded on IlikeChooros-go-mcts/pkg/mcts/limits.go and limiter.go: the
// bitmask stop-reason evaluator and fluent Limits builder are kept in
// spirit, generalised to the chess-specific stop conditions of the search
// controller (mate-in-K, game-clock budget, single legal move, forced-mate
// grace period) that the teacher's generic driver has no notion of.
package search

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/chesscoach/enginecore/pkg/position"
)

type StopReason int

const (
	StopNone StopReason = iota
	StopInterrupt
	StopNodes
	StopMovetime
	StopMate
	StopClock
	StopSingleMove
	StopForcedMateGrace
)

// Limits is the resolved, engine-internal search budget, either built
// directly (self-play / bench) or derived from a position.TimeControl by
// NewLimitsFromTimeControl.
type Limits struct {
	Infinite    bool
	Ponder      bool
	Nodes       int64
	Movetime    time.Duration
	Mate        int
	Threads     int
	Parallelism int
	MultiPv     int

	// Clock-derived budget, zero if not applicable.
	clockSoft time.Duration
	clockHard time.Duration
}

const (
	minThinkTime   = 20 * time.Millisecond
	safetyBuffer   = 50 * time.Millisecond
	forcedMateWait = 3 * time.Second
)

func DefaultLimits() *Limits {
	return &Limits{
		Infinite:    true,
		Nodes:       math.MaxInt64,
		Movetime:    -1,
		Mate:        0,
		Threads:     1,
		Parallelism: 1,
		MultiPv:     1,
	}
}

func (l *Limits) SetNodes(n int64) *Limits       { l.Nodes = n; l.Infinite = false; return l }
func (l *Limits) SetMovetime(d time.Duration) *Limits {
	l.Movetime = d
	l.Infinite = false
	return l
}
func (l *Limits) SetMate(m int) *Limits          { l.Mate = m; l.Infinite = false; return l }
func (l *Limits) SetThreads(n int) *Limits       { l.Threads = max(1, n); return l }
func (l *Limits) SetParallelism(n int) *Limits   { l.Parallelism = max(1, n); return l }
func (l *Limits) SetMultiPv(n int) *Limits       { l.MultiPv = max(1, n); return l }

// NewLimitsFromTimeControl derives node/time/mate limits from a UCI-style
// TimeControl, computing the game-clock budget as a fraction of remaining
// time plus increment, bounded by an absolute minimum and safety buffer.
func NewLimitsFromTimeControl(tc position.TimeControl, sideToMove int) *Limits {
	l := DefaultLimits()
	l.Ponder = tc.Ponder

	if tc.Infinite {
		return l
	}
	if tc.Nodes > 0 {
		l.SetNodes(tc.Nodes)
	}
	if tc.Mate > 0 {
		l.SetMate(tc.Mate)
	}
	if tc.MoveTimeMs > 0 {
		l.SetMovetime(time.Duration(tc.MoveTimeMs) * time.Millisecond)
		return l
	}

	idx := 0
	if sideToMove < 0 {
		idx = 1
	}
	remaining := time.Duration(tc.TimeRemainingMs[idx]) * time.Millisecond
	increment := time.Duration(tc.IncrementMs[idx]) * time.Millisecond
	if remaining <= 0 {
		return l
	}

	movesToGo := tc.MovesToGo
	if movesToGo <= 0 {
		movesToGo = 30
	}
	soft := remaining/time.Duration(movesToGo) + increment/2
	hard := remaining/4 + increment
	if soft < minThinkTime {
		soft = minThinkTime
	}
	if hard <= soft {
		hard = soft + minThinkTime
	}
	if hard > remaining-safetyBuffer {
		hard = remaining - safetyBuffer
	}
	if hard < minThinkTime {
		hard = minThinkTime
	}
	l.Infinite = false
	l.clockSoft = soft
	l.clockHard = hard
	return l
}

// Limiter tracks elapsed time and evaluates the composite stop condition
// for a running search, per the specification's "any one" stop list.
type Limiter struct {
	limits    *Limits
	start     time.Time
	stop      atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	reason    atomic.Int32
	singleMv  bool
	mateFoundAt time.Time
	mateFound bool
}

func NewLimiter() *Limiter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Limiter{limits: DefaultLimits(), ctx: ctx, cancel: cancel}
}

func (lm *Limiter) Reset(limits *Limits, singleLegalMove bool) {
	lm.limits = limits
	lm.start = time.Now()
	lm.stop.Store(false)
	lm.reason.Store(int32(StopNone))
	lm.singleMv = singleLegalMove
	lm.mateFound = false
}

func (lm *Limiter) Context() context.Context { return lm.ctx }

func (lm *Limiter) Elapsed() time.Duration { return time.Since(lm.start) }

func (lm *Limiter) SetStop()   { lm.stop.Store(true) }
func (lm *Limiter) IsStopped() bool { return lm.stop.Load() }

// NotifyMateFound records the first time a forced mate is seen at the
// root, so the "forced mate + >=3s elapsed" stop condition can fire.
func (lm *Limiter) NotifyMateFound() {
	if !lm.mateFound {
		lm.mateFound = true
		lm.mateFoundAt = time.Now()
	}
}

// ShouldStop evaluates every stop condition named in the specification and
// returns the first that applies, or StopNone if the search should
// continue. mateInK is the shallowest proven root mate distance found so
// far, or 0 if none.
func (lm *Limiter) ShouldStop(nodeCount int64, mateInK int) StopReason {
	if lm.stop.Load() {
		return StopInterrupt
	}
	select {
	case <-lm.ctx.Done():
		return StopInterrupt
	default:
	}

	l := lm.limits
	if lm.singleMv && !l.Ponder {
		return StopSingleMove
	}
	if l.Infinite {
		return StopNone
	}
	if l.Nodes > 0 && l.Nodes != math.MaxInt64 && nodeCount >= l.Nodes {
		return StopNodes
	}
	if l.Movetime > 0 && lm.Elapsed() >= l.Movetime {
		return StopMovetime
	}
	if l.Mate > 0 && mateInK > 0 && mateInK <= l.Mate {
		return StopMate
	}
	if lm.mateFound && !l.Ponder && time.Since(lm.mateFoundAt) >= forcedMateWait {
		return StopForcedMateGrace
	}
	if l.clockHard > 0 && !l.Ponder {
		if lm.Elapsed() >= l.clockHard {
			return StopClock
		}
	}
	return StopNone
}

// ShouldStopSoft reports whether the *soft* per-move clock budget has
// elapsed, used by the controller to end the search early once a stable PV
// has emerged even though the hard budget has not yet run out.
func (lm *Limiter) ShouldStopSoft() bool {
	return lm.limits.clockSoft > 0 && lm.Elapsed() >= lm.limits.clockSoft
}
