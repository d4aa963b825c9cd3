package autopilot

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var errStrategyFailed = errors.New("strategy failed")

// fixedStrategy is a Strategy returning a fixed set of scores or a fixed
// error.
type fixedStrategy struct {
	name   string
	scores Scores
	err    error
}

func (f *fixedStrategy) Name() string {
	return f.name
}

func (f *fixedStrategy) NodeScores(_ context.Context,
	_ *Snapshot) (Scores, error) {

	if f.err != nil {
		return nil, f.err
	}

	return f.scores, nil
}

// scoreAll runs every strategy of the aggregator against the snapshot the
// way the scheduler does, sequentially.
func scoreAll(t *testing.T, agg *Aggregator,
	g *Snapshot) map[string]fn.Result[Scores] {

	t.Helper()

	outcomes := make(map[string]fn.Result[Scores])
	for _, s := range agg.Strategies() {
		scores, err := s.NodeScores(context.Background(), g)
		if err != nil {
			outcomes[s.Name()] = fn.Err[Scores](err)
			continue
		}
		outcomes[s.Name()] = fn.Ok(scores)
	}

	return outcomes
}

// fiveNodeGraph returns the end-to-end example graph: C connects A, B, D and
// E, and D and E share a large channel. C lies on every shortest path among
// A, B, D and E except the direct D-E one, while E has the largest total
// capacity.
func fiveNodeGraph(t *testing.T) (*Snapshot, map[string]NodeID) {
	t.Helper()

	ids := map[string]NodeID{
		"A": indexNodeID(1),
		"B": indexNodeID(2),
		"C": indexNodeID(3),
		"D": indexNodeID(4),
		"E": indexNodeID(5),
	}

	const unit = btcutil.Amount(100_000)
	g, err := Build(
		nodesOf(ids["A"], ids["B"], ids["C"], ids["D"], ids["E"]),
		[]Channel{
			testChannel(1, ids["A"], ids["C"], 1*unit),
			testChannel(2, ids["B"], ids["C"], 1*unit),
			testChannel(3, ids["C"], ids["D"], 1*unit),
			testChannel(4, ids["C"], ids["E"], 2*unit),
			testChannel(5, ids["D"], ids["E"], 10*unit),
		},
	)
	require.NoError(t, err)

	return g, ids
}

// newTestAggregator builds an aggregator over the three real strategies with
// the passed weights.
func newTestAggregator(t *testing.T, self NodeID, topK int,
	weights map[string]float64) *Aggregator {

	t.Helper()

	cfg := DefaultConfig()
	cfg.Self = self
	cfg.TopK = topK
	cfg.Weights = weights
	cfg.RandomSeed = 1

	agg, err := NewAggregatorFromConfig(cfg, nil)
	require.NoError(t, err)

	return agg
}

// TestAggregatorEndToEnd runs the five node example: with centrality and
// richness weighted equally, C wins on centrality and E on richness.
func TestAggregatorEndToEnd(t *testing.T) {
	t.Parallel()

	g, ids := fiveNodeGraph(t)
	agg := newTestAggregator(t, randNodeID(t), 2, map[string]float64{
		"centrality": 1,
		"richness":   1,
		"random":     0,
	})

	set, err := agg.Aggregate(g, scoreAll(t, agg, g))
	require.NoError(t, err)

	require.Equal(t, []NodeID{ids["C"], ids["E"]}, set.NodeIDs())
	require.Equal(t,
		[]string{"centrality", "richness", "random"}, set.Succeeded,
	)
	require.Empty(t, set.Dropped)

	// C: 0.5 * 1 + 0.5 * 4/11, E: 0.5 * 0 + 0.5 * 1.
	c, e := set.Recommendations[0], set.Recommendations[1]
	require.InDelta(t, 0.5+0.5*4.0/11.0, c.Score, 1e-12)
	require.InDelta(t, 0.5, e.Score, 1e-12)
	require.InDelta(t, 0.5, c.Breakdown["centrality"], 1e-12)
	require.InDelta(t, 0.5, e.Breakdown["richness"], 1e-12)
	require.NotContains(t, c.Breakdown, "random")
}

// TestAggregatorPartialFailure asserts that a failing strategy is dropped and
// the result is the same as if it had never been configured.
func TestAggregatorPartialFailure(t *testing.T) {
	t.Parallel()

	g, _ := fiveNodeGraph(t)
	self := randNodeID(t)

	all := newTestAggregator(t, self, 5, map[string]float64{
		"centrality": 1,
		"richness":   1,
		"random":     1,
	})
	outcomes := scoreAll(t, all, g)

	full, err := all.Aggregate(g, outcomes)
	require.NoError(t, err)
	require.Len(t, full.Recommendations, 5)

	outcomes["random"] = fn.Err[Scores](errStrategyFailed)
	partial, err := all.Aggregate(g, outcomes)
	require.NoError(t, err)

	require.Equal(t, []string{"centrality", "richness"}, partial.Succeeded)
	require.Len(t, partial.Dropped, 1)
	require.ErrorIs(t, partial.Dropped["random"], errStrategyFailed)

	var compErr *StrategyComputationError
	require.ErrorAs(t, partial.Dropped["random"], &compErr)
	require.Equal(t, "random", compErr.Strategy)

	// Without random, the ranking equals one computed by an aggregator
	// that only knows the two surviving strategies.
	two := newTestAggregator(t, self, 5, map[string]float64{
		"centrality": 1,
		"richness":   1,
	})
	expected, err := two.Aggregate(g, scoreAll(t, two, g))
	require.NoError(t, err)
	require.Equal(t, expected.Recommendations, partial.Recommendations)

	// The full run differs only by the random contribution.
	for _, rec := range full.Recommendations {
		require.Contains(t, rec.Breakdown, "random")
	}
	for _, rec := range partial.Recommendations {
		require.NotContains(t, rec.Breakdown, "random")
	}

	// A strategy without any outcome counts as failed as well.
	delete(outcomes, "random")
	missing, err := all.Aggregate(g, outcomes)
	require.NoError(t, err)
	require.ErrorIs(t, missing.Dropped["random"], errNoScores)
	require.Equal(t, expected.Recommendations, missing.Recommendations)
}

// TestAggregatorNoUsableStrategy asserts that the aggregation fails once all
// contributing strategies failed.
func TestAggregatorNoUsableStrategy(t *testing.T) {
	t.Parallel()

	g, _ := fiveNodeGraph(t)
	agg := newTestAggregator(t, randNodeID(t), 3, map[string]float64{
		"centrality": 1,
		"richness":   2,
		"random":     0,
	})

	outcomes := map[string]fn.Result[Scores]{
		"centrality": fn.Err[Scores](errStrategyFailed),
		"richness":   fn.Err[Scores](context.DeadlineExceeded),
		"random":     fn.Ok(Scores{}),
	}

	set, err := agg.Aggregate(g, outcomes)
	require.Nil(t, set)
	require.ErrorIs(t, err, ErrNoUsableStrategy)

	var noUsable *NoUsableStrategyError
	require.ErrorAs(t, err, &noUsable)
	require.Len(t, noUsable.Failures, 2)
	require.ErrorIs(t, noUsable.Failures["richness"],
		context.DeadlineExceeded)
	require.Contains(t, err.Error(), "centrality")
}

// TestAggregatorExclusions checks that self, its peers, ignored nodes and
// nodes below the thresholds are never recommended, while they still count
// for the normalization of the others.
func TestAggregatorExclusions(t *testing.T) {
	t.Parallel()

	ids := make([]NodeID, 7)
	for i := range ids {
		ids[i] = indexNodeID(i)
	}
	self, peer, ignored, small, lonely, good1, good2 := ids[0], ids[1],
		ids[2], ids[3], ids[4], ids[5], ids[6]

	g, err := Build(nodesOf(ids...), []Channel{
		testChannel(1, self, peer, 500_000),
		testChannel(2, peer, ignored, 500_000),
		testChannel(3, peer, good1, 500_000),
		testChannel(4, good1, good2, 500_000),
		testChannel(5, good2, small, 1_000),
		testChannel(6, good2, lonely, 500_000),
	})
	require.NoError(t, err)

	constraints := NewConstraints(
		self, 10, 100_000, 2, []NodeID{ignored}, 0, false,
	)
	agg, err := NewAggregator(constraints, &WeightedStrategy{
		Weight:   1,
		Strategy: NewRichness(false),
	})
	require.NoError(t, err)

	set, err := agg.Aggregate(g, scoreAll(t, agg, g))
	require.NoError(t, err)

	// lonely has enough capacity but only one channel.
	require.Equal(t, []NodeID{good2, good1}, set.NodeIDs())

	for _, tc := range []struct {
		id     NodeID
		reason string
	}{
		{self, "self"},
		{peer, "already connected"},
		{ignored, "ignored"},
		{small, "below min capacity"},
		{lonely, "below min degree"},
		{randNodeID(t), "not in snapshot"},
	} {
		excluded, reason := constraints.Excluded(g, tc.id)
		require.True(t, excluded)
		require.Equal(t, tc.reason, reason)
	}
}

// TestAggregatorTieBreak checks the tie-break rules: exact ties are ordered
// by node id, and with a tie epsilon and random tie breaking nearly equal
// scores are ordered by their random score.
func TestAggregatorTieBreak(t *testing.T) {
	t.Parallel()

	ids := make([]NodeID, 5)
	for i := range ids {
		ids[i] = indexNodeID(i)
	}
	self := ids[0]
	g, err := Build(nodesOf(ids...), nil)
	require.NoError(t, err)

	main := &fixedStrategy{
		name: "main",
		scores: Scores{
			self:   0,
			ids[1]: 1.0,
			ids[2]: 1.0,
			ids[3]: 0.9999,
			ids[4]: 0.5,
		},
	}
	random := &fixedStrategy{
		name: randomStrategyName,
		scores: Scores{
			ids[1]: 0.1,
			ids[2]: 0.2,
			ids[3]: 0.9,
			ids[4]: 0.0,
		},
	}

	rank := func(eps float64, breakRandom bool) []NodeID {
		agg, err := NewAggregator(
			NewConstraints(self, 10, 0, 0, nil, eps, breakRandom),
			&WeightedStrategy{Weight: 1, Strategy: main},
			&WeightedStrategy{Weight: 0, Strategy: random},
		)
		require.NoError(t, err)

		set, err := agg.Aggregate(g, scoreAll(t, agg, g))
		require.NoError(t, err)

		return set.NodeIDs()
	}

	// Exact ties fall back to the node id.
	require.Equal(t, []NodeID{ids[1], ids[2], ids[3], ids[4]},
		rank(0, false))

	// Exact ties ordered by the random score.
	require.Equal(t, []NodeID{ids[2], ids[1], ids[3], ids[4]},
		rank(0, true))

	// With an epsilon, ids[3] joins the tie group and wins on random.
	require.Equal(t, []NodeID{ids[3], ids[2], ids[1], ids[4]},
		rank(0.001, true))

	// An epsilon without random tie breaking orders the group by id.
	require.Equal(t, []NodeID{ids[1], ids[2], ids[3], ids[4]},
		rank(0.001, false))
}

// TestAggregatorTieGroupSpan makes sure a run of evenly spaced scores isn't
// merged into a single tie group: every group is measured from its highest
// score, so the best node can't be pushed out of the list by the random tie
// break.
func TestAggregatorTieGroupSpan(t *testing.T) {
	t.Parallel()

	const numCandidates = 11

	ids := make([]NodeID, numCandidates+1)
	for i := range ids {
		ids[i] = indexNodeID(i)
	}
	self := ids[0]
	g, err := Build(nodesOf(ids...), nil)
	require.NoError(t, err)

	// Candidate k scores 1.0 - 0.05k, while its random score grows with
	// k, so the random tie break favours the worse nodes.
	main := &fixedStrategy{name: "main", scores: Scores{self: 0}}
	random := &fixedStrategy{name: randomStrategyName, scores: Scores{}}
	for k := 0; k < numCandidates; k++ {
		main.scores[ids[k+1]] = 1.0 - 0.05*float64(k)
		random.scores[ids[k+1]] = float64(k) / 10
	}

	agg, err := NewAggregator(
		NewConstraints(self, 3, 0, 0, nil, 0.06, true),
		&WeightedStrategy{Weight: 1, Strategy: main},
		&WeightedStrategy{Weight: 0, Strategy: random},
	)
	require.NoError(t, err)

	set, err := agg.Aggregate(g, scoreAll(t, agg, g))
	require.NoError(t, err)

	// The groups are {1.0, 0.95}, {0.90, 0.85}, ... and each is ordered
	// by its random score.
	require.Equal(t, []NodeID{ids[2], ids[1], ids[4]}, set.NodeIDs())

	recs := set.Recommendations
	for i := range recs {
		for j := i + 1; j < len(recs); j++ {
			require.LessOrEqual(t, recs[j].Score-recs[i].Score, 0.06)
		}
	}
}

// TestNewAggregatorValidation asserts that unusable configurations are
// rejected with a ConfigurationError.
func TestNewAggregatorValidation(t *testing.T) {
	t.Parallel()

	self := indexNodeID(0)
	s := &fixedStrategy{name: "a"}

	tests := []struct {
		name        string
		constraints Constraints
		strategies  []*WeightedStrategy
	}{
		{
			name:        "zero topk",
			constraints: NewConstraints(self, 0, 0, 0, nil, 0, false),
			strategies:  []*WeightedStrategy{{1, s}},
		},
		{
			name: "negative epsilon",
			constraints: NewConstraints(
				self, 1, 0, 0, nil, -1, false,
			),
			strategies: []*WeightedStrategy{{1, s}},
		},
		{
			name:        "no strategies",
			constraints: NewConstraints(self, 1, 0, 0, nil, 0, false),
		},
		{
			name:        "all weights zero",
			constraints: NewConstraints(self, 1, 0, 0, nil, 0, false),
			strategies:  []*WeightedStrategy{{0, s}},
		},
		{
			name:        "negative weight",
			constraints: NewConstraints(self, 1, 0, 0, nil, 0, false),
			strategies: []*WeightedStrategy{
				{2, s}, {-1, &fixedStrategy{name: "b"}},
			},
		},
		{
			name:        "duplicate name",
			constraints: NewConstraints(self, 1, 0, 0, nil, 0, false),
			strategies:  []*WeightedStrategy{{1, s}, {1, s}},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewAggregator(
				test.constraints, test.strategies...,
			)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

// TestAggregatorProperties checks on random graphs that every recommendation
// is a member of the snapshot, is neither self nor one of its peers, that no
// node ranks above one scoring more than the tie epsilon higher, and that
// without tie breaking the list is strictly ordered by score and node id.
func TestAggregatorProperties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		g := genSnapshot(rt, 20)
		self := g.nodes[rapid.IntRange(0, len(g.nodes)-1).Draw(
			rt, "self",
		)].ID
		topK := rapid.IntRange(1, 25).Draw(rt, "topK")

		cfg := DefaultConfig()
		cfg.Self = self
		cfg.TopK = topK
		cfg.Weights = map[string]float64{
			"centrality": rapid.Float64Range(0, 3).Draw(rt, "wc"),
			"richness":   rapid.Float64Range(0, 3).Draw(rt, "wr"),
			"random":     rapid.Float64Range(0.1, 3).Draw(rt, "wx"),
		}
		cfg.RandomSeed = rapid.Uint64().Draw(rt, "seed")
		if rapid.Bool().Draw(rt, "withEpsilon") {
			cfg.TieEpsilon = rapid.Float64Range(0, 0.5).Draw(
				rt, "eps",
			)
		}
		cfg.TieBreakRandom = rapid.Bool().Draw(rt, "tieBreakRandom")
		strict := cfg.TieEpsilon == 0 && !cfg.TieBreakRandom

		agg, err := NewAggregatorFromConfig(cfg, nil)
		if err != nil {
			rt.Fatalf("unable to create aggregator: %v", err)
		}

		outcomes := make(map[string]fn.Result[Scores])
		for _, s := range agg.Strategies() {
			scores, err := s.NodeScores(context.Background(), g)
			if err != nil {
				rt.Fatalf("strategy %v failed: %v", s.Name(), err)
			}
			outcomes[s.Name()] = fn.Ok(scores)
		}

		set, err := agg.Aggregate(g, outcomes)
		if err != nil {
			rt.Fatalf("aggregation failed: %v", err)
		}

		if len(set.Recommendations) > topK {
			rt.Fatalf("%d recommendations exceed topk %d",
				len(set.Recommendations), topK)
		}

		for i, rec := range set.Recommendations {
			switch {
			case !g.HasNode(rec.NodeID):
				rt.Fatalf("%v not in snapshot", rec.NodeID)

			case rec.NodeID == self:
				rt.Fatalf("self recommended")

			case g.Connected(self, rec.NodeID):
				rt.Fatalf("peer %v recommended", rec.NodeID)
			}

			// No node may rank above one scoring more than the
			// tie epsilon higher.
			for _, prev := range set.Recommendations[:i] {
				if rec.Score-prev.Score > cfg.TieEpsilon {
					rt.Fatalf("%v (%v) ranked below %v "+
						"(%v)", rec.NodeID, rec.Score,
						prev.NodeID, prev.Score)
				}
			}

			if i == 0 || !strict {
				continue
			}
			prev := set.Recommendations[i-1]
			if prev.Score < rec.Score || (prev.Score == rec.Score &&
				!prev.NodeID.Less(rec.NodeID)) {

				rt.Fatalf("recommendations %d and %d out of "+
					"order", i-1, i)
			}
		}
	})
}
