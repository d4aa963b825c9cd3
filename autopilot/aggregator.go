package autopilot

import (
	"errors"
	"fmt"
	"sort"

	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
	"gonum.org/v1/gonum/floats"
)

// randomStrategyName is the name under which the random strategy reports
// its scores. Its normalized scores are used to order tied nodes when
// TieBreakRandom is set.
const randomStrategyName = "random"

// errNoScores is recorded for a configured strategy that did not report an
// outcome at all for the cycle.
var errNoScores = errors.New("no scores reported")

// WeightedStrategy is a tuple that associates a weight to a Strategy. This is
// used to determine a node's final score when querying several strategies
// for scores.
type WeightedStrategy struct {
	// Weight is this Strategy's relative weight factor. It must not be
	// negative. Weights are renormalized over the strategies that
	// succeeded in a cycle, so they don't need to sum to 1.0.
	Weight float64

	Strategy
}

// Aggregator combines the scores given by several strategies into one ranked
// recommendation list.
type Aggregator struct {
	strategies  []*WeightedStrategy
	constraints Constraints
}

// NewAggregator creates a new instance of an Aggregator. At least one
// strategy with a positive weight is needed, and strategy names must be
// unique.
func NewAggregator(c Constraints, s ...*WeightedStrategy) (*Aggregator,
	error) {

	if c.TopK() <= 0 {
		return nil, &ConfigurationError{
			Field:  "topk",
			Reason: fmt.Sprintf("must be positive, was %d", c.TopK()),
		}
	}
	if c.TieEpsilon() < 0 {
		return nil, &ConfigurationError{
			Field:  "tieepsilon",
			Reason: "must not be negative",
		}
	}

	var sum float64
	names := make(map[string]struct{}, len(s))
	for _, w := range s {
		if _, ok := names[w.Name()]; ok {
			return nil, &ConfigurationError{
				Field: "heuristic",
				Reason: fmt.Sprintf("strategy %v configured "+
					"twice", w.Name()),
			}
		}
		names[w.Name()] = struct{}{}

		if w.Weight < 0 {
			return nil, &ConfigurationError{
				Field: "heuristic",
				Reason: fmt.Sprintf("weight of %v must not be "+
					"negative, was %v", w.Name(), w.Weight),
			}
		}
		sum += w.Weight
	}

	if sum <= 0 {
		return nil, &ConfigurationError{
			Field:  "heuristic",
			Reason: "at least one strategy needs a positive weight",
		}
	}

	return &Aggregator{
		strategies:  s,
		constraints: c,
	}, nil
}

// Strategies returns the weighted strategies of the aggregator in their
// configured order.
func (a *Aggregator) Strategies() []*WeightedStrategy {
	return a.strategies
}

// normalize min-max scales the scores of one strategy over every node of the
// snapshot to the range [0, 1]. Nodes missing from the scores count as 0. If
// all nodes share the same score, they all get 1.0 when that score is
// positive and 0 otherwise.
func normalize(g *Snapshot, scores Scores) []float64 {
	vals := make([]float64, len(g.nodes))
	for i, n := range g.nodes {
		vals[i] = scores[n.ID]
	}
	if len(vals) == 0 {
		return vals
	}

	lo, hi := floats.Min(vals), floats.Max(vals)
	switch {
	case hi > lo:
		floats.AddConst(-lo, vals)
		floats.Scale(1.0/(hi-lo), vals)

	case hi > 0:
		for i := range vals {
			vals[i] = 1.0
		}

	default:
		for i := range vals {
			vals[i] = 0
		}
	}

	return vals
}

// rankedNode is a candidate while the ranking is computed.
type rankedNode struct {
	Recommendation

	// random is the normalized random score of the node, used to order
	// ties when requested.
	random float64
}

// Aggregate combines the per-strategy outcomes of a cycle into a ranked
// recommendation list. The returned set carries the list together with the
// names of the strategies that contributed and those that were dropped; its
// Cycle and Timestamp are left for the caller to fill in.
//
// A strategy that failed is dropped and the weights of the remaining ones are
// renormalized. If none of the strategies with a positive weight succeeded,
// a *NoUsableStrategyError is returned.
func (a *Aggregator) Aggregate(g *Snapshot,
	outcomes map[string]fn.Result[Scores]) (*RecommendationSet, error) {

	type survivor struct {
		*WeightedStrategy
		norm []float64
	}

	var (
		survivors   []survivor
		succeeded   []string
		randomNorm  []float64
		totalWeight float64
	)
	dropped := make(map[string]error)

	for _, s := range a.strategies {
		outcome, ok := outcomes[s.Name()]
		if !ok {
			outcome = fn.Err[Scores](errNoScores)
		}

		scores, err := outcome.Unpack()
		if err != nil {
			var compErr *StrategyComputationError
			if !errors.As(err, &compErr) {
				err = &StrategyComputationError{
					Strategy: s.Name(),
					Err:      err,
				}
			}

			log.Warnf("Dropping strategy %v from aggregation: %v",
				s.Name(), err)
			dropped[s.Name()] = err

			continue
		}

		norm := normalize(g, scores)
		if s.Name() == randomStrategyName {
			randomNorm = norm
		}

		succeeded = append(succeeded, s.Name())
		if s.Weight == 0 {
			continue
		}

		survivors = append(survivors, survivor{
			WeightedStrategy: s,
			norm:             norm,
		})
		totalWeight += s.Weight
	}

	if len(survivors) == 0 {
		failures := make(map[string]error, len(dropped))
		for name, err := range dropped {
			failures[name] = err
		}

		return nil, &NoUsableStrategyError{
			Failures: failures,
		}
	}

	// We combine the normalized scores by using each surviving
	// strategy's share of the surviving weight.
	var candidates []*rankedNode
	for i, n := range g.nodes {
		if excluded, reason := a.constraints.Excluded(g, n.ID); excluded {
			log.Tracef("Skipping node %x: %v", n.ID[:], reason)
			continue
		}

		c := &rankedNode{
			Recommendation: Recommendation{
				NodeID: n.ID,
				Breakdown: make(
					map[string]float64, len(survivors),
				),
			},
		}
		if randomNorm != nil {
			c.random = randomNorm[i]
		}

		for _, s := range survivors {
			subScore := s.Weight / totalWeight * s.norm[i]
			c.Breakdown[s.Name()] = subScore
			c.Score += subScore
		}

		candidates = append(candidates, c)
	}

	a.rank(candidates)

	topK := a.constraints.TopK()
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	recs := make([]Recommendation, len(candidates))
	for i, c := range candidates {
		recs[i] = c.Recommendation
	}

	log.Tracef("Ranked recommendations: %v", newLogClosure(func() string {
		return spew.Sdump(recs)
	}))

	return &RecommendationSet{
		Recommendations: recs,
		Succeeded:       succeeded,
		Dropped:         dropped,
	}, nil
}

// rank sorts the candidates descending by combined score. Scores no further
// than the tie epsilon from the highest score of their group form a tie
// group, which is ordered by the random contribution if configured and
// finally by node id ascending. A group never spans more than the epsilon, so
// no node ranks above one scoring more than the epsilon higher.
func (a *Aggregator) rank(candidates []*rankedNode) {
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.Score != cj.Score {
			return ci.Score > cj.Score
		}

		return ci.NodeID.Less(cj.NodeID)
	})

	eps := a.constraints.TieEpsilon()
	breakRandom := a.constraints.TieBreakRandom()
	if eps == 0 && !breakRandom {
		return
	}

	tieLess := func(group []*rankedNode) func(i, j int) bool {
		return func(i, j int) bool {
			ci, cj := group[i], group[j]
			if breakRandom && ci.random != cj.random {
				return ci.random > cj.random
			}

			return ci.NodeID.Less(cj.NodeID)
		}
	}

	start := 0
	for i := 1; i <= len(candidates); i++ {
		if i < len(candidates) &&
			candidates[start].Score-candidates[i].Score <= eps {

			continue
		}

		group := candidates[start:i]
		if len(group) > 1 {
			sort.Slice(group, tieLess(group))
		}
		start = i
	}
}
