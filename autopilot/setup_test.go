package autopilot

import (
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// testGraphDesc is a helper type to describe a test graph.
type testGraphDesc struct {
	nodes int
	edges map[int][]int
}

// centralityTestGraph is the graph used by the centrality and traversal
// tests.
var centralityTestGraph = testGraphDesc{
	nodes: 9,
	edges: map[int][]int{
		0: {1, 2, 3},
		1: {2},
		2: {3},
		3: {4, 5},
		4: {5, 6, 7},
		5: {6, 7},
		6: {7, 8},
	},
}

// randNodeID returns the node id of a freshly generated key.
func randNodeID(t *testing.T) NodeID {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return NewNodeID(priv.PubKey())
}

// randNodeIDs returns n distinct random node ids.
func randNodeIDs(t *testing.T, n int) []NodeID {
	t.Helper()

	ids := make([]NodeID, n)
	for i := range ids {
		ids[i] = randNodeID(t)
	}

	return ids
}

// buildTestGraph builds a snapshot from a passed graph descriptor. Every
// channel gets the passed capacity. The returned slice maps the descriptor's
// node numbers to node ids.
func buildTestGraph(t *testing.T, desc testGraphDesc,
	chanCapacity btcutil.Amount) (*Snapshot, []NodeID) {

	t.Helper()

	ids := randNodeIDs(t, desc.nodes)
	nodes := make([]Node, desc.nodes)
	for i, id := range ids {
		nodes[i] = Node{ID: id}
	}

	var (
		chans  []Channel
		chanID uint64
	)
	for u := 0; u < desc.nodes; u++ {
		for _, v := range desc.edges[u] {
			chanID++
			chans = append(chans, Channel{
				ChanID:   chanID,
				Node1:    ids[u],
				Node2:    ids[v],
				Capacity: chanCapacity,
			})
		}
	}

	g, err := Build(nodes, chans)
	require.NoError(t, err)

	return g, ids
}

// testChannel returns a channel between a and b with the given capacity.
func testChannel(chanID uint64, a, b NodeID, amt btcutil.Amount) Channel {
	return Channel{
		ChanID:   chanID,
		Node1:    a,
		Node2:    b,
		Capacity: amt,
	}
}

// nodesOf wraps the passed ids into nodes.
func nodesOf(ids ...NodeID) []Node {
	nodes := make([]Node, len(ids))
	for i, id := range ids {
		nodes[i] = Node{ID: id}
	}

	return nodes
}

// indexNodeID returns a deterministic node id for the passed index. The ids
// are ordered like their indexes.
func indexNodeID(i int) NodeID {
	var id NodeID
	id[0] = 0x02
	binary.BigEndian.PutUint64(id[25:], uint64(i))

	return id
}

// genSnapshot draws a random consistent snapshot with up to maxNodes nodes.
// Duplicate pairs and self loops drawn by the generator are skipped.
func genSnapshot(rt *rapid.T, maxNodes int) *Snapshot {
	n := rapid.IntRange(1, maxNodes).Draw(rt, "numNodes")

	ids := make([]NodeID, n)
	for i := range ids {
		ids[i] = indexNodeID(i)
	}

	numChans := rapid.IntRange(0, n*3).Draw(rt, "numChans")
	seen := make(map[pairKey]struct{})

	var chans []Channel
	for i := 0; i < numChans; i++ {
		u := rapid.IntRange(0, n-1).Draw(rt, "node1")
		v := rapid.IntRange(0, n-1).Draw(rt, "node2")
		key := newPairKey(u, v)
		if _, ok := seen[key]; ok || u == v {
			continue
		}
		seen[key] = struct{}{}

		capacity := rapid.Int64Range(0, btcutil.MaxSatoshi/int64(n)).
			Draw(rt, "capacity")
		chans = append(chans, testChannel(
			uint64(i+1), ids[u], ids[v], btcutil.Amount(capacity),
		))
	}

	g, err := Build(nodesOf(ids...), chans)
	if err != nil {
		rt.Fatalf("unable to build snapshot: %v", err)
	}

	return g
}
