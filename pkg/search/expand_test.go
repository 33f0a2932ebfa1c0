package search

import (
	"testing"

	"github.com/chesscoach/enginecore/internal/mockgame"
	"github.com/chesscoach/enginecore/pkg/cache"
	"github.com/chesscoach/enginecore/pkg/node"
)

func newExpandTestCache(t *testing.T) *cache.PredictionCache {
	t.Helper()
	c := cache.New()
	if err := c.Allocate(1, 1); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return c
}

func TestExpandBeginThreefoldRepetitionIsPermanentTerminal(t *testing.T) {
	b := mockgame.New(mockgame.KindThreefoldRepetition, 4, 1)
	for i := 0; i < 4; i++ {
		b.DoMove(b.LegalMoves()[0])
	}

	leaf := node.NewRoot()
	res := ExpandBegin(leaf, b, nil, nil, 4, 2, DefaultConfig(1).Expand)

	if res.Outcome != OutcomeImmediate || res.Value != 0.5 {
		t.Fatalf("expected an immediate draw, got %+v", res)
	}
	if !leaf.IsTerminal() {
		t.Fatalf("a genuine threefold repetition must be stored as a permanent terminal draw")
	}
}

func TestExpandBeginTwofoldStrictlyAfterRootIsTransient(t *testing.T) {
	b := mockgame.New(mockgame.KindRepetition, 4, 1)
	for i := 0; i < 3; i++ {
		b.DoMove(b.LegalMoves()[0])
	}

	leaf := node.NewRoot()
	// The repeat (distance 2) lies strictly after a search root 3 plies
	// back, so this must draw without becoming terminal.
	res := ExpandBegin(leaf, b, nil, nil, 3, 3, DefaultConfig(1).Expand)

	if res.Outcome != OutcomeImmediate || res.Value != 0.5 {
		t.Fatalf("expected an immediate draw value, got %+v", res)
	}
	if leaf.IsTerminal() {
		t.Fatalf("a twofold repetition strictly after the search root must not become terminal")
	}
}

func TestExpandBeginTwofoldAtOrBeforeRootIsOrdinary(t *testing.T) {
	b := mockgame.New(mockgame.KindRepetition, 4, 1)
	for i := 0; i < 3; i++ {
		b.DoMove(b.LegalMoves()[0])
	}

	c := newExpandTestCache(t)
	leaf := node.NewRoot()
	// plyToSearchRoot == the repetition distance: the matched occurrence is
	// at the search root itself, not strictly after it, so no draw applies.
	res := ExpandBegin(leaf, b, nil, c, 3, 2, DefaultConfig(1).Expand)

	if res.Outcome == OutcomeImmediate && res.Value == 0.5 {
		t.Fatalf("a repeat at or before the search root should not be scored as a draw")
	}
	if leaf.IsTerminal() {
		t.Fatalf("leaf should not become terminal from an at-root repetition")
	}
}
