// PUCT child selection with SBLE elimination, per the specification's
// §4.3. Grounded on H1W0XXX-xionghan/params.go's GetCpuct exploration term
// and selectChildPUCT's virtual-loss-adjusted child utility (the
// vLossFactor blend and cpuct*prior*sqrt(...)/(1+weight) shape), extended
// here with the specification's mate term, bound substitution and the
// SBLE linear-exploration/elimination layer that xionghan's engine does
// not implement.
package search

import (
	"math"
	"sort"

	"github.com/chesscoach/enginecore/pkg/node"
	"github.com/chesscoach/enginecore/pkg/position"
)

// PuctParams bundles the tunable constants named across §4.3.
type PuctParams struct {
	ExplorationBase float64 // "base" in the exploration numerator
	ExplorationInit float64 // "init"
	VLossCoeff      float64

	LinearRate  float64
	LinearDelay float64

	BaseExp                  int     // log2 of the maximum SBLE participant count
	EliminationFractionKnee  float64 // reserved for future tuning; unused directly

	BackpropagationThreshold float64
}

func DefaultPuctParams() PuctParams {
	return PuctParams{
		ExplorationBase: 1.0,
		ExplorationInit: 1.25,
		VLossCoeff:      1.0,
		LinearRate:      1.0,
		LinearDelay:     1.0,
		BaseExp:         5,
		BackpropagationThreshold: 0.02,
	}
}

// exploration numerator E = (ln((N+base+1)/base) + init) * sqrt(N)
func explorationNumerator(nParent int64, p PuctParams) float64 {
	n := float64(nParent)
	return (math.Log((n+p.ExplorationBase+1)/p.ExplorationBase) + p.ExplorationInit) * math.Sqrt(n)
}

func qvl(child *node.Node, p PuctParams) float32 {
	if child.HasBound() {
		return node.BoundScore(child.RankBound())
	}
	weight := child.ValueWeight()
	w := weight
	if w < 1 {
		w = 1
	}
	vloss := child.VisitingCount()
	denom := float64(w) + float64(vloss)*p.VLossCoeff
	return child.ValueAverage() * float32(float64(w)/denom)
}

func mateTerm(child *node.Node, e float64, nPrime int64) float64 {
	if m, ok := child.MateInN(); ok {
		return (e / float64(nPrime+1)) * math.Pow(2, -float64(m))
	}
	return 0
}

// azPuct is a single child's AZ-PUCT score.
func azPuct(child *node.Node, e float64, params PuctParams) float64 {
	nPrime := int64(child.EffectiveVisits())
	q := float64(qvl(child, params))
	explore := (e / float64(nPrime+1)) * float64(child.QuantizedPrior) / 65535.0
	return q + explore + mateTerm(child, e, nPrime)
}

type scored struct {
	idx   int
	score float64
}

// SelectionResult carries the chosen child plus the selective-backprop
// weight bit computed alongside it.
type SelectionResult struct {
	Index  int
	Child  *node.Node
	Move   position.Move
	Weight int // 1 = backpropagate value, 0 = visits only
}

// SelectChild implements §4.3 end to end: rank by AZ-PUCT, restrict the
// linear SBLE term to the top-K survivors of elimination, and return the
// best non-Expanding child together with its backprop weight.
func SelectChild(parent *node.Node, rootVisit, parentVisit int64, elapsedFraction float64, params PuctParams) (SelectionResult, bool) {
	children := parent.Children
	if len(children) == 0 {
		return SelectionResult{}, false
	}
	n := int64(parent.EffectiveVisits())
	e := explorationNumerator(n, params)

	scores := make([]scored, len(children))
	for i := range children {
		scores[i] = scored{idx: i, score: azPuct(&children[i], e, params)}
	}

	sort.Slice(scores, func(a, b int) bool { return scores[a].score > scores[b].score })

	if elapsedFraction < 0 {
		elapsedFraction = 0
	}
	if elapsedFraction > 1 {
		elapsedFraction = 1
	}
	effectiveExp := params.BaseExp - int(elapsedFraction*float64(params.BaseExp))
	if effectiveExp < 1 {
		effectiveExp = 1
	}
	maxK := int64(1) << uint(params.BaseExp)
	scaledK := (int64(1) << uint(effectiveExp))
	if parentVisit > 0 {
		scaledK = scaledK * rootVisit / parentVisit
	}
	k := maxK
	if scaledK < k {
		k = scaledK
	}
	if k < 1 {
		k = 1
	}
	if int64(len(scores)) < k {
		k = int64(len(scores))
	}

	globalMax := scores[0].score
	sbleScores := make([]scored, len(scores))
	for i, s := range scores {
		sc := s.score
		if int64(i) < k {
			nPrime := float64(children[s.idx].EffectiveVisits())
			sc += float64(n) / (params.LinearRate*nPrime + params.LinearDelay)
		}
		sbleScores[i] = scored{s.idx, sc}
	}
	sort.Slice(sbleScores, func(a, b int) bool { return sbleScores[a].score > sbleScores[b].score })

	for _, s := range sbleScores {
		child := &children[s.idx]
		if child.Expanding() {
			continue
		}
		weight := 0
		if scores[indexOf(scores, s.idx)].score >= globalMax-params.BackpropagationThreshold {
			weight = 1
		}
		return SelectionResult{
			Index:  s.idx,
			Child:  child,
			Move:   child.Move,
			Weight: weight,
		}, true
	}
	return SelectionResult{}, false
}

func indexOf(scores []scored, target int) int {
	for i, s := range scores {
		if s.idx == target {
			return i
		}
	}
	return 0
}
