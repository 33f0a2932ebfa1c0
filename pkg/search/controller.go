// Search controller, per §4.7. Grounded on ChizhovVadim-CounterGo's
// engine/searchserviceparallel.go for the fixed-goroutine worker-pool
// shape. Workers are joined with golang.org/x/sync/errgroup rather than
// the teacher's raw sync.WaitGroup. workerLoop never returns an error: an
// Evaluator failure marks that batch's simulations as failed and the loop
// continues, and Run ignores the group's result.
package search

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chesscoach/enginecore/pkg/cache"
	"github.com/chesscoach/enginecore/pkg/node"
	"github.com/chesscoach/enginecore/pkg/position"
	"github.com/chesscoach/enginecore/pkg/shadow"
)

// Slowstart bounds how many threads/parallelism are active while the root
// is still lightly visited, so early simulations do not stampede a cold
// tree before the first few evaluations have landed.
type Slowstart struct {
	Nodes       int64
	Threads     int
	Parallelism int
}

func DefaultSlowstart() Slowstart {
	return Slowstart{Nodes: 32, Threads: 1, Parallelism: 1}
}

// Config bundles everything the controller needs beyond the position and
// time control.
type Config struct {
	Puct        PuctParams
	Expand      ExpandParams
	Root        RootParams
	Minimax     MinimaxParams
	Slowstart   Slowstart
	ImagePlanes int
}

func DefaultConfig(imagePlanes int) Config {
	return Config{
		Puct:        DefaultPuctParams(),
		Expand:      ExpandParams{CachePlyCap: 30, CacheStore: true, DefaultFPU: 0.42, TablebasePieces: 6},
		Root:        DefaultRootParams(),
		Minimax:     DefaultMinimaxParams(),
		Slowstart:   DefaultSlowstart(),
		ImagePlanes: imagePlanes,
	}
}

// Snapshot is a point-in-time view of controller progress, published to
// Listener and internal/statshttp.
type Snapshot struct {
	Depth       int
	Nodes       int64
	FailedNodes int64
	// FailedNodeFactor is FailedNodes divided by total simulations attempted
	// (Nodes+FailedNodes), mirroring the teacher's CollisionCount/
	// CollisionFactor pair (pkg/mcts/mcts.go).
	FailedNodeFactor float64
	NPS              int64
	Elapsed          time.Duration
	ScoreCP          int
	MateIn           int
	PV               []position.Move
	MultiPvLines     []MultiPvLine
}

// MultiPvLine is one root line among Limits.MultiPv reported lines, ranked
// by its root child's visit count.
type MultiPvLine struct {
	ScoreCP int
	MateIn  int
	PV      []position.Move
}

// Listener receives progress and completion events, mirroring
// IlikeChooros-go-mcts/pkg/mcts/stats_listener.go's OnDepth/OnCycle/OnStop
// callback triple.
type Listener interface {
	OnProgress(Snapshot)
	OnStop(bestMove position.Move, snap Snapshot)
}

// NopListener discards every event.
type NopListener struct{}

func (NopListener) OnProgress(Snapshot)                       {}
func (NopListener) OnStop(position.Move, Snapshot) {}

// Controller drives N parallel workers over a shared tree.
type Controller struct {
	root      *node.Node
	rootPos   position.Position
	cache     *cache.PredictionCache
	evaluator position.Evaluator
	tablebase position.Tablebase
	cfg       Config
	limiter   *Limiter
	limits    *Limits

	nodeCount      atomic.Int64
	failedNodes    atomic.Int64
	pvStableChecks atomic.Int32
	listener       Listener

	mu      sync.Mutex
	stopped bool
}

func NewController(root *node.Node, rootPos position.Position, c *cache.PredictionCache, ev position.Evaluator, tb position.Tablebase, cfg Config) *Controller {
	return &Controller{
		root:      root,
		rootPos:   rootPos,
		cache:     c,
		evaluator: ev,
		tablebase: tb,
		cfg:       cfg,
		limiter:   NewLimiter(),
		listener:  NopListener{},
	}
}

func (ctl *Controller) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	ctl.listener = l
}

// Stop requests the running search to end at its next check point. Safe to
// call from any goroutine, including before Run has been called (in which
// case it has no effect on that run).
func (ctl *Controller) Stop() {
	ctl.limiter.SetStop()
}

// PonderHit converts a ponder search into a normal one: the game clock now
// counts against the running search, so the ponder exemption in
// Limiter.ShouldStop no longer applies.
func (ctl *Controller) PonderHit() {
	ctl.limiter.limits.Ponder = false
}

// Run executes the search to completion (blocking) under the given limits,
// returning the selected move. singleLegalMove short-circuits immediately
// per the specification's stop condition of the same name.
func (ctl *Controller) Run(ctx context.Context, limits *Limits, singleLegalMove bool) position.Move {
	ctl.limiter.Reset(limits, singleLegalMove)
	ctl.limits = limits
	ctl.pvStableChecks.Store(0)
	stopWhenCtxDone(ctx, ctl.limiter)

	threads := limits.Threads
	if threads < 1 {
		threads = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for t := 0; t < threads; t++ {
		threadID := t
		g.Go(func() error {
			return ctl.workerLoop(gctx, threadID, limits)
		})
	}
	_ = g.Wait()

	ctl.finalize()
	best := ctl.selectMove(limits)
	ctl.listener.OnStop(best, ctl.snapshot())
	return best
}

func stopWhenCtxDone(ctx context.Context, lm *Limiter) {
	go func() {
		select {
		case <-ctx.Done():
			lm.SetStop()
		case <-lm.Context().Done():
		}
	}()
}

func (ctl *Controller) workerLoop(ctx context.Context, threadID int, limits *Limits) error {
	rng := rand.New(rand.NewSource(int64(threadID)*2654435761 + 1))

	for {
		parallelism := limits.Parallelism
		activeThreads := limits.Threads
		if ctl.root.VisitCount() < int32(ctl.cfg.Slowstart.Nodes) {
			parallelism = ctl.cfg.Slowstart.Parallelism
			activeThreads = ctl.cfg.Slowstart.Threads
		}
		if threadID >= activeThreads {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Millisecond):
			}
			if ctl.shouldStop() {
				return nil
			}
			continue
		}

		slots := make([]*shadow.GameShadow, parallelism)
		for i := range slots {
			slots[i] = shadow.New(ctl.root, ctl.rootPos.Clone(), 0, ctl.cfg.ImagePlanes)
		}

		pending := make([]Pending, 0, parallelism)
		pendingShadow := make([]*shadow.GameShadow, 0, parallelism)

		elapsedFraction := ctl.elapsedFraction(limits)
		for _, s := range slots {
			state, p := DescendToLeaf(s, ctl.root, int64(ctl.root.VisitCount()), ctl.cfg.Puct, ctl.cfg.Expand, ctl.cache, ctl.tablebase, elapsedFraction)
			switch state {
			case SimFinished:
				ctl.nodeCount.Add(1)
			case SimFailed:
				ctl.failedNodes.Add(1)
			case SimWaitingForPrediction:
				pending = append(pending, p)
				pendingShadow = append(pendingShadow, s)
			}
		}

		if len(pending) > 0 && ctl.evaluator != nil {
			images := make([]position.InputPlanes, len(pending))
			for i, s := range pendingShadow {
				images[i] = s.Image
			}
			values := make([]float32, len(pending))
			policies := make([]position.InputPlanes, len(pending))
			for i, p := range pending {
				policies[i] = make(position.InputPlanes, len(p.Moves))
			}
			status, err := ctl.evaluator.PredictBatch(position.EvalKindSearch, images, values, policies)
			if err == nil {
				if status.UpdatedNetwork() {
					ctl.cache.Clear()
				}
				for i, p := range pending {
					pol := make([]float32, len(p.Moves))
					copy(pol, policies[i][:min(len(policies[i]), len(pol))])
					CompleteSimulation(pendingShadow[i], p, values[i], pol, ctl.cache, ctl.tablebase, ctl.cfg.Expand, ctl.root, ctl.cfg.Root, rng)
					ctl.nodeCount.Add(1)
				}
			} else {
				for _, s := range pendingShadow {
					s.Fail()
					ctl.failedNodes.Add(1)
				}
			}
		}

		if threadID == 0 {
			if PVChanged() {
				ctl.pvStableChecks.Store(0)
			} else {
				ctl.pvStableChecks.Add(1)
			}
			ctl.listener.OnProgress(ctl.snapshot())
		}

		if ctl.shouldStop() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (ctl *Controller) elapsedFraction(limits *Limits) float64 {
	if limits.Infinite {
		return 0
	}
	if limits.Movetime > 0 {
		return float64(ctl.limiter.Elapsed()) / float64(limits.Movetime)
	}
	return float64(ctl.nodeCount.Load()) / float64(max64(limits.Nodes, 1))
}

// pvStableChecksToTrustSoft is how many consecutive progress reports must
// pass with no PV change before the soft clock budget (Limiter.ShouldStopSoft)
// is allowed to end the search early; a single quiet report is not enough
// signal that the PV has actually settled rather than just not been
// resampled yet.
const pvStableChecksToTrustSoft = 3

func (ctl *Controller) shouldStop() bool {
	mateInK := 0
	if bc := ctl.root.BestChild(); bc != nil {
		if m, ok := bc.MateInN(); ok {
			mateInK = m
			ctl.limiter.NotifyMateFound()
		}
	}
	if ctl.limiter.ShouldStop(ctl.nodeCount.Load(), mateInK) != StopNone {
		return true
	}
	return ctl.limiter.ShouldStopSoft() && ctl.pvStableChecks.Load() >= pvStableChecksToTrustSoft
}

// finalize unwinds any still-in-flight virtual loss and resets any node
// left mid-expansion back to None so the tree is consistent for the next
// search, per FinalizeMcts.
func (ctl *Controller) finalize() {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.stopped {
		return
	}
	ctl.stopped = true
	finalizeSubtree(ctl.root)
}

func finalizeSubtree(n *node.Node) {
	if v := n.VisitingCount(); v != 0 {
		n.AddVisiting(-v)
	}
	if n.Expanding() {
		n.AbandonExpand()
	}
	for i := range n.Children {
		finalizeSubtree(&n.Children[i])
	}
}

func (ctl *Controller) snapshot() Snapshot {
	pv := PVLine(ctl.root, 32)
	moves := make([]position.Move, len(pv))
	for i, n := range pv {
		moves[i] = n.Move
	}
	nodes := ctl.nodeCount.Load()
	elapsed := ctl.limiter.Elapsed()
	nps := int64(0)
	if elapsed > 0 {
		nps = int64(float64(nodes) / elapsed.Seconds())
	}
	scoreCP := int((ctl.root.ValueAverage() - 0.5) * 200)
	mateIn := 0
	if bc := ctl.root.BestChild(); bc != nil {
		if m, ok := bc.MateInN(); ok {
			mateIn = m
		}
	}
	failed := ctl.failedNodes.Load()
	failedFactor := 0.0
	if total := nodes + failed; total > 0 {
		failedFactor = float64(failed) / float64(total)
	}
	return Snapshot{
		Nodes:            nodes,
		FailedNodes:      failed,
		FailedNodeFactor: failedFactor,
		NPS:              nps,
		Elapsed:          elapsed,
		ScoreCP:          scoreCP,
		MateIn:           mateIn,
		PV:               moves,
		MultiPvLines:     ctl.multiPvLines(),
	}
}

// multiPvLines reports the top Limits.MultiPv root lines by visit count,
// grounded on the teacher's MCTS.MultiPv (mcts.go): rank root children by
// visit count, then extend each into a line by following BestChild, which
// applies this search core's own (tablebase-rank, mate, visits) ordering
// to the continuation past the first move. A MultiPv of 0 or 1 (the
// default) yields at most one line.
func (ctl *Controller) multiPvLines() []MultiPvLine {
	n := 1
	if ctl.limits != nil && ctl.limits.MultiPv > 1 {
		n = ctl.limits.MultiPv
	}
	top := topChildrenByVisits(ctl.root, n)
	if len(top) == 0 {
		return nil
	}
	lines := make([]MultiPvLine, len(top))
	for i, child := range top {
		line := pvLineFrom(child, 32)
		moves := make([]position.Move, len(line))
		for j, nd := range line {
			moves[j] = nd.Move
		}
		scoreCP := int((child.ValueAverage() - 0.5) * 200)
		mateIn := 0
		if m, ok := child.MateInN(); ok {
			mateIn = m
		}
		lines[i] = MultiPvLine{ScoreCP: scoreCP, MateIn: mateIn, PV: moves}
	}
	return lines
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
