package autopilot

import (
	"context"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// randomScoreTag domain separates the hashes of the random strategy.
	randomScoreTag = []byte("peerrank/random")

	// sampleTag domain separates the hashes used to pick centrality
	// sources.
	sampleTag = []byte("peerrank/centrality-sample")
)

// keyedHash derives a 64-bit value from a seed and a node identity. The value
// only depends on the tag, the seed and the node id, never on the order in
// which nodes are enumerated.
func keyedHash(tag []byte, seed uint64, id NodeID) uint64 {
	var seedBytes [8]byte
	binary.LittleEndian.PutUint64(seedBytes[:], seed)

	h := chainhash.TaggedHash(tag, seedBytes[:], id[:])

	return binary.BigEndian.Uint64(h[:8])
}

// unitFloat maps a 64-bit value onto [0, 1) using its top 53 bits, the
// precision of a float64 mantissa.
func unitFloat(v uint64) float64 {
	return float64(v>>11) / (1 << 53)
}

// SeedSource returns the seed the random strategy should use for the next
// cycle.
type SeedSource func() uint64

// FixedSeed returns a SeedSource that always yields the same seed, making
// the random strategy fully reproducible.
func FixedSeed(seed uint64) SeedSource {
	return func() uint64 {
		return seed
	}
}

// RandomStrategy assigns every node a pseudo-random score in [0, 1) to
// inject exploration into the ranking. The score of a node is derived from a
// keyed hash of the seed and the node's identity, so the same seed yields
// bit-identical scores, and adding or removing unrelated nodes never changes
// the score of an existing node.
type RandomStrategy struct {
	seed SeedSource
}

// A compile time assertion to ensure RandomStrategy meets the Strategy
// interface.
var _ Strategy = (*RandomStrategy)(nil)

// NewRandomStrategy creates a new random strategy drawing its per-cycle seed
// from the passed source.
func NewRandomStrategy(seed SeedSource) *RandomStrategy {
	return &RandomStrategy{
		seed: seed,
	}
}

// Name returns the name of the strategy.
//
// NOTE: This is a part of the Strategy interface.
func (r *RandomStrategy) Name() string {
	return "random"
}

// NodeScores gives every node of the snapshot its keyed pseudo-random score.
//
// NOTE: This is a part of the Strategy interface.
func (r *RandomStrategy) NodeScores(ctx context.Context,
	g *Snapshot) (Scores, error) {

	seed := r.seed()
	log.Tracef("Scoring %d nodes with random seed %d", g.NumNodes(), seed)

	scores := make(Scores, g.NumNodes())
	for i, n := range g.nodes {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		scores[n.ID] = unitFloat(keyedHash(randomScoreTag, seed, n.ID))
	}

	return scores, nil
}
