package autopilot

import (
	"context"
	"math"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
)

// Richness is a Strategy that scores nodes by the total capacity of their
// channels, using liquidity as a proxy for a node's importance in the
// network. With LogScale set the capacity is compressed with log1p so that a
// handful of very large hubs cannot dominate the ranking linearly. Both
// scalings are strictly increasing, so a node with more capacity than
// another always scores strictly higher, and a node without channels scores
// zero.
type Richness struct {
	logScale bool
}

// A compile time assertion to ensure Richness meets the Strategy interface.
var _ Strategy = (*Richness)(nil)

// NewRichness creates a new richness strategy.
func NewRichness(logScale bool) *Richness {
	return &Richness{
		logScale: logScale,
	}
}

// Name returns the name of the strategy.
//
// NOTE: This is a part of the Strategy interface.
func (r *Richness) Name() string {
	return "richness"
}

// NodeScores returns the (optionally log scaled) total channel capacity of
// every node in the snapshot.
//
// NOTE: This is a part of the Strategy interface.
func (r *Richness) NodeScores(ctx context.Context,
	g *Snapshot) (Scores, error) {

	var scaled map[btcutil.Amount]float64
	if r.logScale {
		scaled = logScale(g.capacity)
	}

	scores := make(Scores, len(g.nodes))
	for i, n := range g.nodes {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if r.logScale {
			scores[n.ID] = scaled[g.capacity[i]]
			continue
		}
		scores[n.ID] = float64(g.capacity[i])
	}

	return scores, nil
}

// logScale maps every distinct capacity to log1p of its value. Close to the
// top of the amount range two distinct capacities can round to the same
// float64 logarithm, in which case the larger one is bumped to the next
// representable value so that the mapping stays strictly increasing.
func logScale(capacities []btcutil.Amount) map[btcutil.Amount]float64 {
	distinct := make([]btcutil.Amount, 0, len(capacities))
	scaled := make(map[btcutil.Amount]float64, len(capacities))
	for _, c := range capacities {
		if _, ok := scaled[c]; ok {
			continue
		}
		scaled[c] = 0
		distinct = append(distinct, c)
	}
	sort.Slice(distinct, func(i, j int) bool {
		return distinct[i] < distinct[j]
	})

	prev := math.Inf(-1)
	for _, c := range distinct {
		v := math.Log1p(float64(c))
		if v <= prev {
			v = math.Nextafter(prev, math.Inf(1))
		}
		scaled[c] = v
		prev = v
	}

	return scaled
}
