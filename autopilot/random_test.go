package autopilot

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestRandomDeterminism asserts that the same seed and node set always give
// bit-identical scores in [0, 1), regardless of the enumeration order.
func TestRandomDeterminism(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		g := genSnapshot(rt, 30)
		seed := rapid.Uint64().Draw(rt, "seed")

		s := NewRandomStrategy(FixedSeed(seed))
		first, err := s.NodeScores(context.Background(), g)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}

		// Shuffle the node set and build the snapshot again.
		nodes := g.Nodes()
		perm := rand.New(rand.NewSource(int64(seed))).Perm(len(nodes))
		shuffled := make([]Node, len(nodes))
		for i, j := range perm {
			shuffled[i] = nodes[j]
		}
		g2, err := Build(shuffled, g.Channels())
		if err != nil {
			rt.Fatalf("unable to rebuild: %v", err)
		}

		second, err := s.NodeScores(context.Background(), g2)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}

		if len(first) != len(nodes) || len(second) != len(nodes) {
			rt.Fatalf("expected %d scores", len(nodes))
		}
		for id, score := range first {
			if second[id] != score {
				rt.Fatalf("score of %v changed: %v != %v", id,
					score, second[id])
			}
			if score < 0 || score >= 1 {
				rt.Fatalf("score %v out of range", score)
			}
		}
	})
}

// TestRandomStableUnderNodeChanges makes sure adding unrelated nodes doesn't
// reshuffle the score of existing ones, while a different seed does change
// them.
func TestRandomStableUnderNodeChanges(t *testing.T) {
	t.Parallel()

	ids := randNodeIDs(t, 10)
	small, err := Build(nodesOf(ids[:5]...), nil)
	require.NoError(t, err)
	large, err := Build(nodesOf(ids...), nil)
	require.NoError(t, err)

	s := NewRandomStrategy(FixedSeed(42))
	smallScores, err := s.NodeScores(context.Background(), small)
	require.NoError(t, err)
	largeScores, err := s.NodeScores(context.Background(), large)
	require.NoError(t, err)

	for id, score := range smallScores {
		require.Equal(t, score, largeScores[id])
	}

	other, err := NewRandomStrategy(FixedSeed(43)).NodeScores(
		context.Background(), small,
	)
	require.NoError(t, err)
	require.NotEqual(t, smallScores, other)
}

// TestRandomReseed checks that the seed source is consulted on every call.
func TestRandomReseed(t *testing.T) {
	t.Parallel()

	g, err := Build(nodesOf(randNodeIDs(t, 5)...), nil)
	require.NoError(t, err)

	var seed uint64
	s := NewRandomStrategy(func() uint64 {
		seed++
		return seed
	})

	first, err := s.NodeScores(context.Background(), g)
	require.NoError(t, err)
	second, err := s.NodeScores(context.Background(), g)
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}
