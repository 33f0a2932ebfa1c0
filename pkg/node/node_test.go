package node

import (
	"sync"
	"testing"
)

func TestExpansionExclusivity(t *testing.T) {
	n := NewRoot()
	const workers = 32
	var wg sync.WaitGroup
	wins := 0
	var mu sync.Mutex

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if n.TryBeginExpand() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if !n.Expanding() {
		t.Fatalf("expected node to be in Working state")
	}
	n.FinishExpand(make([]Node, 4))
	if !n.Expanded() {
		t.Fatalf("expected node to be Expanded after FinishExpand")
	}
}

func TestMateMonotonicity(t *testing.T) {
	n := NewRoot()
	if !n.SetMateIn(5) {
		t.Fatalf("first SetMateIn should succeed")
	}
	if n.SetMateIn(7) {
		t.Fatalf("SetMateIn(7) should not regress from MateIn(5)")
	}
	if !n.SetMateIn(3) {
		t.Fatalf("SetMateIn(3) should improve on MateIn(5)")
	}
	got, ok := n.MateInN()
	if !ok || got != 3 {
		t.Fatalf("MateInN() = (%d, %v), want (3, true)", got, ok)
	}
}

func TestOpponentMateMonotonicity(t *testing.T) {
	n := NewRoot()
	if !n.SetOpponentMateIn(4) {
		t.Fatalf("first SetOpponentMateIn should succeed")
	}
	if n.SetOpponentMateIn(9) {
		t.Fatalf("SetOpponentMateIn(9) should not regress from OpponentMateIn(4)")
	}
	if !n.SetOpponentMateIn(1) {
		t.Fatalf("SetOpponentMateIn(1) should improve on OpponentMateIn(4)")
	}
}

func TestVisitAccounting(t *testing.T) {
	n := NewRoot()
	n.RegisterDescent()
	if n.VisitingCount() != 1 {
		t.Fatalf("expected visitingCount == 1 after descent")
	}
	n.SettleVisit()
	if n.VisitingCount() != 0 || n.VisitCount() != 1 {
		t.Fatalf("expected visitingCount==0 visitCount==1, got %d %d", n.VisitingCount(), n.VisitCount())
	}
}

func TestSampleValueConvergesTowardTarget(t *testing.T) {
	n := NewRoot()
	n.SeedFPU(0.5)
	for i := 0; i < 50; i++ {
		n.SampleValue(1.0, 0.01, 100)
	}
	if v := n.ValueAverage(); v < 0.9 {
		t.Fatalf("expected valueAverage to converge near 1.0, got %v", v)
	}
}
