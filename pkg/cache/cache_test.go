package cache

import "testing"

func newTestCache(t *testing.T) *PredictionCache {
	t.Helper()
	c := New()
	if err := c.Allocate(1, 1); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return c
}

func TestCacheRoundTrip(t *testing.T) {
	c := newTestCache(t)

	miss := c.TryGet(0x1234, 3)
	if miss.Hit {
		t.Fatalf("expected miss on empty cache")
	}

	c.Put(miss.ChunkRef, 0x1234, 0.7, 3, []float32{0.2, 0.3, 0.5})

	hit := c.TryGet(0x1234, 3)
	if !hit.Hit {
		t.Fatalf("expected hit after put")
	}
	if hit.Value != 0.7 {
		t.Fatalf("value mismatch: got %v", hit.Value)
	}
	for i, want := range []float32{0.2, 0.3, 0.5} {
		if d := hit.Priors[i] - want; d > 0.01 || d < -0.01 {
			t.Fatalf("prior[%d] = %v, want ~%v", i, hit.Priors[i], want)
		}
	}

	other := c.TryGet(0x1234^0xF00D, 3)
	if other.Hit {
		t.Fatalf("expected miss for different key")
	}
}

func TestCacheSpliceRejection(t *testing.T) {
	c := newTestCache(t)
	miss := c.TryGet(0xBEEF, 3)
	c.Put(miss.ChunkRef, 0xBEEF, 0.5, 3, []float32{0.5, 0.25, 0.25})

	tIdx, cIdx := c.address(0xBEEF)
	ch := &c.tables[tIdx][cIdx]
	for i := range ch.entries {
		if ch.entries[i].key == 0xBEEF {
			ch.entries[i].priors[1] = 0
		}
	}

	result := c.TryGet(0xBEEF, 3)
	if result.Hit {
		t.Fatalf("expected splice to be rejected as a miss")
	}
}

func TestCacheSumGuard(t *testing.T) {
	c := newTestCache(t)
	miss := c.TryGet(42, 5)
	c.Put(miss.ChunkRef, 42, 0.1, 5, []float32{0.1, 0.2, 0.3, 0.2, 0.2})

	tIdx, cIdx := c.address(42)
	ch := &c.tables[tIdx][cIdx]
	var found *entry
	for i := range ch.entries {
		if ch.entries[i].key == 42 {
			found = &ch.entries[i]
		}
	}
	if found == nil {
		t.Fatalf("entry not found after put")
	}
	if found.priors[5] != Quantise(1.0) {
		t.Fatalf("guard quantum missing at moveCount index")
	}
}

func TestNoZeroQuanta(t *testing.T) {
	for _, p := range []float32{0, 0.0001, 0.5, 0.9999, 1.0} {
		if q := Quantise(p); q < 1 {
			t.Fatalf("Quantise(%v) = %d, want >= 1", p, q)
		}
	}
}

func TestAllocateFailureBelowMinimum(t *testing.T) {
	c := New()
	err := c.Allocate(0, 0)
	if err == nil {
		t.Fatalf("expected allocation failure for min_gib=0")
	}
}
