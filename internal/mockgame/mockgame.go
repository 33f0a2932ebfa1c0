// Package mockgame provides deterministic Position/Evaluator/Tablebase
// test doubles used by unit and end-to-end tests, standing in for the
// full chess rules engine, neural network and tablebase set that are all
// explicitly out of scope for the search core.
//
// Grounded on IlikeChooros-go-mcts/pkg/mcts/mcts_test.go's DummyOps (a
// stub position with a fixed branching factor and a seeded *rand.Rand)
// and pkg/bench/versus_arena_test.go's DummyPos, generalised into a tiny
// hand-rolled board covering only the legality needed to drive the
// specification's literal end-to-end scenarios: mate-in-2, stalemate,
// repetition, and cache round-trips.
package mockgame

import (
	"fmt"
	"math/rand"

	"github.com/chesscoach/enginecore/pkg/position"
)

// Kind distinguishes the handful of fixture positions the mock board
// understands; a real Position implementation would parse arbitrary FEN,
// but that parser is out of scope here.
type Kind int

const (
	KindOpen Kind = iota
	KindRookMateInTwo
	KindStalemateInOne
	// KindRepetition reports a single earlier occurrence (a positive
	// RepetitionDistance) once ply reaches 2, exercising the transient,
	// non-terminal twofold-strictly-after-root draw.
	KindRepetition
	// KindThreefoldRepetition reports a matched occurrence that had itself
	// already repeated (a negative RepetitionDistance) once ply reaches 4,
	// exercising the permanent terminal draw.
	KindThreefoldRepetition
)

// Board is a minimal Position double: it does not model real chess rules,
// only the branching factor, terminal detection and repetition behaviour
// each fixture needs.
type Board struct {
	kind       Kind
	ply        int
	history    []int8 // per-ply move id, for repetition/undo bookkeeping
	rng        *rand.Rand
	branching  int
	sideToMove int8
}

func New(kind Kind, branching int, seed int64) *Board {
	return &Board{
		kind:       kind,
		branching:  branching,
		rng:        rand.New(rand.NewSource(seed)),
		sideToMove: 1,
	}
}

func (b *Board) Clone() position.Position {
	cp := *b
	cp.history = append([]int8(nil), b.history...)
	cp.rng = rand.New(rand.NewSource(b.rng.Int63()))
	return &cp
}

func (b *Board) LegalMoves() []position.Move {
	switch b.kind {
	case KindRookMateInTwo:
		return rookMateLegalMoves(b.ply)
	case KindStalemateInOne:
		if b.ply == 0 {
			return []position.Move{position.NewMove(1, 2, 0)}
		}
		return nil // stalemate: side to move has no legal moves
	default:
		n := b.branching
		if b.ply >= 8 {
			n = 0
		}
		moves := make([]position.Move, n)
		for i := 0; i < n; i++ {
			moves[i] = position.NewMove(uint8(i%64), uint8((i+1)%64), 0)
		}
		return moves
	}
}

// rookMateLegalMoves encodes a fixed forced mate in two: at ply 0 two
// candidate rook moves exist (the board tracks only the ply, so both lead
// into the same line); at ply 1 black has one legal reply; at ply 2 white
// plays Ra8, and at ply 3 black is in check with no legal moves.
func rookMateLegalMoves(ply int) []position.Move {
	switch ply {
	case 0:
		return []position.Move{
			position.NewMove(0, 56, 0), // Ra8#, mating move
			position.NewMove(0, 8, 0),  // a non-mating rook move
		}
	case 1:
		return []position.Move{position.NewMove(62, 61, 0)}
	case 2:
		return []position.Move{position.NewMove(0, 56, 0)}
	default:
		return nil
	}
}

func (b *Board) DoMove(m position.Move) {
	b.history = append(b.history, int8(m.From()))
	b.ply++
	b.sideToMove = -b.sideToMove
}

func (b *Board) UndoMove() {
	if len(b.history) == 0 {
		return
	}
	b.history = b.history[:len(b.history)-1]
	b.ply--
	b.sideToMove = -b.sideToMove
}

func (b *Board) Fingerprint() uint64 {
	h := uint64(0x9e3779b97f4a7c15) ^ uint64(b.kind)<<32 ^ uint64(b.ply)
	for _, m := range b.history {
		h ^= uint64(m)
		h *= 0x100000001b3
	}
	return h
}

func (b *Board) SideToMove() int8 { return b.sideToMove }

func (b *Board) InCheck() bool {
	return b.kind == KindRookMateInTwo && b.ply == 3
}

func (b *Board) HalfmoveClock() int { return 0 }

// RepetitionDistance follows the signed convention documented on
// position.Position: positive for a single earlier occurrence, negative
// when that earlier occurrence had itself already repeated.
func (b *Board) RepetitionDistance() int {
	switch {
	case b.kind == KindRepetition && b.ply >= 2:
		return 2
	case b.kind == KindThreefoldRepetition && b.ply >= 4:
		return -2
	default:
		return 0
	}
}

func (b *Board) NonPawnMaterial() int    { return 3000 }
func (b *Board) EndgameProportion() float64 { return 0 }

func (b *Board) GenerateImage(out position.InputPlanes) {
	for i := range out {
		out[i] = 0
	}
}

func (b *Board) PolicyIndex(m position.Move) uint16 { return uint16(m) }

func (b *Board) FEN() string {
	return fmt.Sprintf("mock-kind-%d-ply-%d", b.kind, b.ply)
}

func (b *Board) ParseSAN(san string) (position.Move, error) {
	return position.NoMove, fmt.Errorf("mockgame: SAN parsing not supported")
}

// UniformEvaluator returns a fixed scalar value and uniform policy over
// each requested batch, per the specification's literal scenario 1 and 2
// fixtures ("mock Evaluator returning value = 0.5 and uniform policy").
type UniformEvaluator struct {
	Value float32
}

func (e UniformEvaluator) PredictBatch(kind position.EvalKind, images []position.InputPlanes, outValues []float32, outPolicies []position.InputPlanes) (position.Status, error) {
	for i := range outValues {
		outValues[i] = e.Value
		for j := range outPolicies[i] {
			outPolicies[i][j] = 1
		}
	}
	return position.StatusOK, nil
}

// FixedMateEvaluator biases the mating move's policy plane so the mate-in-2
// scenario converges quickly under a bounded simulation budget in tests.
type FixedMateEvaluator struct{}

func (FixedMateEvaluator) PredictBatch(kind position.EvalKind, images []position.InputPlanes, outValues []float32, outPolicies []position.InputPlanes) (position.Status, error) {
	for i := range outValues {
		outValues[i] = 0.9
		for j := range outPolicies[i] {
			if j == 0 {
				outPolicies[i][j] = 5
			} else {
				outPolicies[i][j] = 1
			}
		}
	}
	return position.StatusOK, nil
}

// NoTablebase always reports a miss, for tests that do not exercise
// tablebase integration.
type NoTablebase struct{}

func (NoTablebase) ProbeWDL(position.Position, bool) (position.RankBound, bool) {
	return position.RankBound{}, false
}
func (NoTablebase) ProbeRoot(position.Position) ([]position.ChildRankBound, bool) {
	return nil, false
}
