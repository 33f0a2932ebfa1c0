package search

import (
	"context"
	"testing"
	"time"

	"github.com/chesscoach/enginecore/internal/mockgame"
	"github.com/chesscoach/enginecore/pkg/cache"
	"github.com/chesscoach/enginecore/pkg/node"
)

func newTestCache(t *testing.T) *cache.PredictionCache {
	t.Helper()
	c := cache.New()
	if err := c.Allocate(1, 1); err != nil {
		t.Fatalf("cache.Allocate: %v", err)
	}
	return c
}

// TestStartposFixedSimulationCount exercises scenario 1: startpos, 800
// simulations, 1 thread, empty cache, uniform evaluator.
func TestStartposFixedSimulationCount(t *testing.T) {
	root := node.NewRoot()
	pos := mockgame.New(mockgame.KindOpen, 8, 42)
	c := newTestCache(t)
	ev := mockgame.UniformEvaluator{Value: 0.5}

	cfg := DefaultConfig(4)
	ctl := NewController(root, pos, c, ev, mockgame.NoTablebase{}, cfg)

	limits := DefaultLimits().SetNodes(800).SetThreads(1).SetParallelism(1)
	ctl.Run(context.Background(), limits, false)

	if root.VisitCount() < 800 {
		t.Fatalf("expected at least 800 root visits, got %d", root.VisitCount())
	}
	if !root.Expanded() {
		t.Fatalf("expected root to be expanded")
	}
	for i := range root.Children {
		if root.Children[i].VisitCount() == 0 && root.Children[i].VisitingCount() == 0 {
			t.Fatalf("child %d received no visits: every first-ply move must be visited at least once", i)
		}
	}
}

func TestForcedMateInTwo(t *testing.T) {
	root := node.NewRoot()
	pos := mockgame.New(mockgame.KindRookMateInTwo, 2, 7)
	c := newTestCache(t)
	ev := mockgame.FixedMateEvaluator{}

	cfg := DefaultConfig(4)
	ctl := NewController(root, pos, c, ev, mockgame.NoTablebase{}, cfg)

	limits := DefaultLimits().SetNodes(5000).SetThreads(1).SetParallelism(1)
	ctl.Run(context.Background(), limits, false)

	if !root.Expanded() {
		t.Fatalf("expected root expanded")
	}
	bc := root.BestChild()
	if bc == nil {
		t.Fatalf("expected a best child after search")
	}
	if m, ok := bc.MateInN(); !ok || m != 2 {
		t.Fatalf("expected best child to be MateIn(2), got (%d, %v)", m, ok)
	}
}

func TestSingleLegalMoveStopsImmediately(t *testing.T) {
	root := node.NewRoot()
	pos := mockgame.New(mockgame.KindStalemateInOne, 1, 1)
	c := newTestCache(t)
	ev := mockgame.UniformEvaluator{Value: 0.5}

	cfg := DefaultConfig(4)
	ctl := NewController(root, pos, c, ev, mockgame.NoTablebase{}, cfg)

	limits := DefaultLimits().SetMovetime(time.Hour).SetThreads(1).SetParallelism(1)

	done := make(chan struct{})
	go func() {
		ctl.Run(context.Background(), limits, true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("single-legal-move search did not stop promptly")
	}
}
