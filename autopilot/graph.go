package autopilot

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"gonum.org/v1/gonum/stat"
)

// Snapshot is an immutable, point-in-time view of the channel graph. Nodes
// are referenced internally by a dense integer index and edges are stored as
// index adjacency lists, so strategies can run concurrently over the same
// snapshot without any locking. No method of Snapshot mutates it.
type Snapshot struct {
	// nodes holds the vertices in the order they were handed to Build.
	nodes []Node

	// index maps a node identity to its position in nodes.
	index map[NodeID]int

	// adj[u] lists the indexes of the nodes sharing a channel with u.
	adj [][]int

	// capacity[u] is the sum of the capacities of all channels of u.
	capacity []btcutil.Amount

	channels []Channel
}

// pairKey is the unordered pair of node indexes of a channel, smallest index
// first.
type pairKey [2]int

func newPairKey(u, v int) pairKey {
	if u > v {
		u, v = v, u
	}

	return pairKey{u, v}
}

// Build creates an immutable Snapshot from the passed nodes and channels. It
// fails with a *MalformedGraphError if a channel references an unknown node,
// if two channels connect the same pair of nodes, if a channel connects a
// node to itself, if a capacity is negative, or if a node appears twice.
func Build(nodes []Node, chans []Channel) (*Snapshot, error) {
	g := &Snapshot{
		nodes:    make([]Node, len(nodes)),
		index:    make(map[NodeID]int, len(nodes)),
		adj:      make([][]int, len(nodes)),
		capacity: make([]btcutil.Amount, len(nodes)),
		channels: make([]Channel, len(chans)),
	}
	copy(g.nodes, nodes)
	copy(g.channels, chans)

	for i, n := range g.nodes {
		if _, ok := g.index[n.ID]; ok {
			return nil, &MalformedGraphError{
				Reason: ErrDuplicateNode,
				Detail: n.ID.String(),
			}
		}
		g.index[n.ID] = i
	}

	seen := make(map[pairKey]uint64, len(chans))
	for _, c := range g.channels {
		u, ok := g.index[c.Node1]
		if !ok {
			return nil, &MalformedGraphError{
				Reason: ErrDanglingEdge,
				Detail: danglingDetail(c, c.Node1),
			}
		}
		v, ok := g.index[c.Node2]
		if !ok {
			return nil, &MalformedGraphError{
				Reason: ErrDanglingEdge,
				Detail: danglingDetail(c, c.Node2),
			}
		}

		switch {
		case u == v:
			return nil, &MalformedGraphError{
				Reason: ErrSelfLoop,
				Detail: channelDetail(c),
			}

		case c.Capacity < 0:
			return nil, &MalformedGraphError{
				Reason: ErrNegativeCapacity,
				Detail: channelDetail(c),
			}
		}

		key := newPairKey(u, v)
		if prev, ok := seen[key]; ok {
			return nil, &MalformedGraphError{
				Reason: ErrDuplicateChannel,
				Detail: channelDetail(c) + ", already seen as " +
					"chan_id=" + formatChanID(prev),
			}
		}
		seen[key] = c.ChanID

		g.adj[u] = append(g.adj[u], v)
		g.adj[v] = append(g.adj[v], u)
		g.capacity[u] += c.Capacity
		g.capacity[v] += c.Capacity
	}

	return g, nil
}

// NumNodes returns the number of nodes in the snapshot.
func (g *Snapshot) NumNodes() int {
	return len(g.nodes)
}

// NumChannels returns the number of channels in the snapshot.
func (g *Snapshot) NumChannels() int {
	return len(g.channels)
}

// Nodes returns a copy of the node set of the snapshot.
func (g *Snapshot) Nodes() []Node {
	nodes := make([]Node, len(g.nodes))
	copy(nodes, g.nodes)

	return nodes
}

// NodeIDs returns the identities of all nodes in the snapshot, in Build
// order.
func (g *Snapshot) NodeIDs() []NodeID {
	ids := make([]NodeID, len(g.nodes))
	for i, n := range g.nodes {
		ids[i] = n.ID
	}

	return ids
}

// Channels returns a copy of the channel set of the snapshot.
func (g *Snapshot) Channels() []Channel {
	chans := make([]Channel, len(g.channels))
	copy(chans, g.channels)

	return chans
}

// HasNode returns true if the node is part of the snapshot.
func (g *Snapshot) HasNode(id NodeID) bool {
	_, ok := g.index[id]
	return ok
}

// Neighbors returns the nodes sharing a channel with the passed node. An
// unknown node has no neighbors.
func (g *Snapshot) Neighbors(id NodeID) []NodeID {
	u, ok := g.index[id]
	if !ok {
		return nil
	}

	neighbors := make([]NodeID, 0, len(g.adj[u]))
	for _, v := range g.adj[u] {
		neighbors = append(neighbors, g.nodes[v].ID)
	}

	return neighbors
}

// Degree returns the number of channels of the passed node.
func (g *Snapshot) Degree(id NodeID) int {
	u, ok := g.index[id]
	if !ok {
		return 0
	}

	return len(g.adj[u])
}

// TotalCapacity returns the sum of the capacities of all channels of the
// passed node.
func (g *Snapshot) TotalCapacity(id NodeID) btcutil.Amount {
	u, ok := g.index[id]
	if !ok {
		return 0
	}

	return g.capacity[u]
}

// Connected returns true if a channel exists between a and b.
func (g *Snapshot) Connected(a, b NodeID) bool {
	u, ok := g.index[a]
	if !ok {
		return false
	}
	v, ok := g.index[b]
	if !ok {
		return false
	}

	// Scan the shorter of the two adjacency lists.
	if len(g.adj[v]) < len(g.adj[u]) {
		u, v = v, u
	}
	for _, w := range g.adj[u] {
		if w == v {
			return true
		}
	}

	return false
}

// SnapshotStats summarizes a snapshot for logging and metrics.
type SnapshotStats struct {
	Nodes          int
	Channels       int
	TotalCapacity  btcutil.Amount
	MedianCapacity btcutil.Amount
	MeanCapacity   float64
}

// Stats computes summary statistics over the channels of the snapshot.
func (g *Snapshot) Stats() SnapshotStats {
	stats := SnapshotStats{
		Nodes:    len(g.nodes),
		Channels: len(g.channels),
	}
	if len(g.channels) == 0 {
		return stats
	}

	caps := make([]btcutil.Amount, len(g.channels))
	sats := make([]float64, len(g.channels))
	for i, c := range g.channels {
		caps[i] = c.Capacity
		sats[i] = float64(c.Capacity)
		stats.TotalCapacity += c.Capacity
	}
	stats.MedianCapacity = Median(caps)
	stats.MeanCapacity = stat.Mean(sats, nil)

	return stats
}

// Median returns the median value in the slice of Amounts. The passed slice
// is sorted in place.
func Median(vals []btcutil.Amount) btcutil.Amount {
	sort.Slice(vals, func(i, j int) bool {
		return vals[i] < vals[j]
	})

	num := len(vals)
	switch {
	case num == 0:
		return 0

	case num%2 == 0:
		return (vals[num/2-1] + vals[num/2]) / 2

	default:
		return vals[num/2]
	}
}

func formatChanID(chanID uint64) string {
	return strconv.FormatUint(chanID, 10)
}

func channelDetail(c Channel) string {
	return fmt.Sprintf("chan_id=%v (%v <-> %v)", c.ChanID, c.Node1,
		c.Node2)
}

func danglingDetail(c Channel, missing NodeID) string {
	return fmt.Sprintf("%v: node %v not found", channelDetail(c), missing)
}
