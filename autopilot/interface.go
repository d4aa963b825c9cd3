package autopilot

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// NodeID is a simple type that holds an EC public key serialized in compressed
// format. It is the identity of a vertex within the channel graph.
type NodeID [33]byte

// NewNodeID creates a new nodeID from a passed public key.
func NewNodeID(pub *btcec.PublicKey) NodeID {
	var n NodeID
	copy(n[:], pub.SerializeCompressed())

	return n
}

// NodeIDFromHex parses a hex encoded compressed public key into a NodeID. The
// key must be a valid point on the curve.
func NodeIDFromHex(s string) (NodeID, error) {
	var n NodeID

	b, err := hex.DecodeString(s)
	if err != nil {
		return n, fmt.Errorf("%w %q: %w", ErrInvalidNodeID, s, err)
	}

	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return n, fmt.Errorf("%w %q: %w", ErrInvalidNodeID, s, err)
	}

	return NewNodeID(pub), nil
}

// String returns the hex encoding of the node id.
func (n NodeID) String() string {
	return hex.EncodeToString(n[:])
}

// Less reports whether n sorts before o. The ordering is the byte-wise
// ordering of the serialized keys and is used as the final tie-break when
// ranking nodes.
func (n NodeID) Less(o NodeID) bool {
	return bytes.Compare(n[:], o[:]) < 0
}

// Node is a vertex of the channel graph as delivered by a TopologySource.
// Aggregate attributes such as total capacity are derived by Build and are
// not part of the feed.
type Node struct {
	// ID is the identity public key of the node.
	ID NodeID

	// Alias is the advertised alias of the node, if any.
	Alias string

	// Addrs is the list of advertised network addresses.
	Addrs []string
}

// ChannelPolicy holds the routing policy attributes of a channel that some
// feeds are able to supply.
type ChannelPolicy struct {
	// FeeBaseMsat is the base fee charged for forwarding, in msat.
	FeeBaseMsat int64

	// FeeRatePPM is the proportional fee in parts per million.
	FeeRatePPM int64

	// Disabled is true if the channel is currently disabled for
	// forwarding.
	Disabled bool
}

// Channel is an undirected edge of the channel graph.
type Channel struct {
	// ChanID is the short channel ID for this channel as defined within
	// BOLT-0007.
	ChanID uint64

	// Node1 and Node2 are the two endpoints of the channel. Their order
	// carries no meaning.
	Node1 NodeID
	Node2 NodeID

	// Capacity is the capacity of the channel expressed in satoshis.
	Capacity btcutil.Amount

	// Policy is the optional routing policy of the channel.
	Policy fn.Option[ChannelPolicy]
}

// Topology is a full, consistent set of nodes and channels delivered by a
// TopologySource. Each delivery replaces the previous one entirely.
type Topology struct {
	Nodes    []Node
	Channels []Channel
}

// TopologySource is the external collaborator that supplies the raw channel
// graph. Implementations are expected to return a complete snapshot on every
// call, never an incremental diff.
type TopologySource interface {
	// FetchTopology returns the current view of the network graph.
	FetchTopology(ctx context.Context) (*Topology, error)
}

// Scores maps a node to the score a single strategy assigned to it. Scores
// of different strategies live on different scales and are only comparable
// after normalization.
type Scores map[NodeID]float64

// Strategy is one of the primary interfaces within this package. Each
// implementation scores the nodes of an immutable snapshot according to one
// signal. Strategies must be safe to run concurrently against the same
// snapshot and must observe ctx cancellation at bounded intervals.
type Strategy interface {
	// Name returns the name of this strategy.
	Name() string

	// NodeScores scores every node of the snapshot. A NodeID not found
	// in the returned map is implicitly given a score of 0.
	NodeScores(ctx context.Context, g *Snapshot) (Scores, error)
}

// Recommendation is a peer that the local node should open a channel with,
// along with the score that placed it in the list.
type Recommendation struct {
	// NodeID is the recommended peer.
	NodeID NodeID

	// Score is the combined, weighted score of the peer.
	Score float64

	// Breakdown maps each contributing strategy name to the weighted,
	// normalized sub score it added to Score.
	Breakdown map[string]float64
}

// RecommendationSet is the unit published at the end of every successful
// cycle. It is never mutated after publication.
type RecommendationSet struct {
	// Cycle is the sequence number of the cycle that produced the set.
	Cycle uint64

	// Timestamp is the time the cycle started.
	Timestamp time.Time

	// Recommendations is the ranked list, best first.
	Recommendations []Recommendation

	// Succeeded lists the strategies that contributed to the set.
	Succeeded []string

	// Dropped maps the strategies that failed during the cycle to their
	// errors.
	Dropped map[string]error
}

// NodeIDs returns the recommended node ids in rank order.
func (r *RecommendationSet) NodeIDs() []NodeID {
	if r == nil {
		return nil
	}

	ids := make([]NodeID, 0, len(r.Recommendations))
	for _, rec := range r.Recommendations {
		ids = append(ids, rec.NodeID)
	}

	return ids
}

// CycleEvent is sent on the status channel for every finished cycle, failed
// or not.
type CycleEvent struct {
	// Cycle is the sequence number of the cycle.
	Cycle uint64

	// Timestamp is the time the cycle started.
	Timestamp time.Time

	// State is the last state the cycle reached.
	State CycleState

	// Duration is the wall time the cycle took.
	Duration time.Duration

	// Err is set if the cycle failed and nothing was published.
	Err error

	// Dropped maps the strategies that failed during the cycle to their
	// errors, even if the cycle itself succeeded.
	Dropped map[string]error
}
