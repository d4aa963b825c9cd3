package topology

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/peerrank/autopilot"
)

// jsonInt is an integer that may be encoded either as a JSON number or as a
// quoted decimal string. The REST and CLI encodings of 64-bit fields use the
// latter.
type jsonInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (i *jsonInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*i = 0
		return nil
	}

	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", b, err)
	}
	*i = jsonInt(v)

	return nil
}

// jsonUint is the unsigned counterpart of jsonInt, used for channel ids.
type jsonUint uint64

// UnmarshalJSON implements json.Unmarshaler.
func (u *jsonUint) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*u = 0
		return nil
	}

	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid channel id %s: %w", b, err)
	}
	*u = jsonUint(v)

	return nil
}

type jsonAddr struct {
	Network string `json:"network"`
	Addr    string `json:"addr"`
}

type jsonNode struct {
	PubKey    string     `json:"pub_key"`
	Alias     string     `json:"alias"`
	Addresses []jsonAddr `json:"addresses"`
}

type jsonPolicy struct {
	FeeBaseMsat      jsonInt `json:"fee_base_msat"`
	FeeRateMilliMsat jsonInt `json:"fee_rate_milli_msat"`
	Disabled         bool    `json:"disabled"`
}

type jsonEdge struct {
	ChannelID   jsonUint    `json:"channel_id"`
	Node1Pub    string      `json:"node1_pub"`
	Node2Pub    string      `json:"node2_pub"`
	Capacity    jsonInt     `json:"capacity"`
	Node1Policy *jsonPolicy `json:"node1_policy"`
}

// jsonGraph mirrors the output of lncli describegraph.
type jsonGraph struct {
	Nodes []jsonNode `json:"nodes"`
	Edges []jsonEdge `json:"edges"`
}

// pair is an unordered pair of node ids.
type pair struct {
	a, b autopilot.NodeID
}

func newPair(u, v autopilot.NodeID) pair {
	if v.Less(u) {
		u, v = v, u
	}

	return pair{a: u, b: v}
}

// invalidKey reports a key of the feed that doesn't parse as a node id the
// same way Build reports other inconsistencies of the topology.
func invalidKey(owner, key string, err error) error {
	log.Debugf("Invalid key %q of %v: %v", key, owner, err)

	return &autopilot.MalformedGraphError{
		Reason: autopilot.ErrInvalidNodeID,
		Detail: fmt.Sprintf("%v has key %q", owner, key),
	}
}

// ParseGraph decodes a channel graph in describegraph JSON format. Parallel
// channels between the same pair of nodes are coalesced into a single channel
// carrying their summed capacity, the lowest channel id and the policy of the
// first channel seen.
func ParseGraph(r io.Reader) (*autopilot.Topology, error) {
	var graph jsonGraph
	if err := json.NewDecoder(r).Decode(&graph); err != nil {
		return nil, fmt.Errorf("unable to decode graph: %w", err)
	}

	topo := &autopilot.Topology{
		Nodes: make([]autopilot.Node, 0, len(graph.Nodes)),
	}
	for _, n := range graph.Nodes {
		id, err := autopilot.NodeIDFromHex(n.PubKey)
		if err != nil {
			return nil, invalidKey("node", n.PubKey, err)
		}

		addrs := make([]string, 0, len(n.Addresses))
		for _, a := range n.Addresses {
			addrs = append(addrs, a.Addr)
		}

		topo.Nodes = append(topo.Nodes, autopilot.Node{
			ID:    id,
			Alias: n.Alias,
			Addrs: addrs,
		})
	}

	index := make(map[pair]int, len(graph.Edges))
	for _, e := range graph.Edges {
		chanID := uint64(e.ChannelID)

		node1, err := autopilot.NodeIDFromHex(e.Node1Pub)
		if err != nil {
			owner := fmt.Sprintf("chan_id=%d node1", chanID)
			return nil, invalidKey(owner, e.Node1Pub, err)
		}
		node2, err := autopilot.NodeIDFromHex(e.Node2Pub)
		if err != nil {
			owner := fmt.Sprintf("chan_id=%d node2", chanID)
			return nil, invalidKey(owner, e.Node2Pub, err)
		}

		key := newPair(node1, node2)
		if i, ok := index[key]; ok {
			c := &topo.Channels[i]
			c.Capacity += btcutil.Amount(e.Capacity)
			if chanID < c.ChanID {
				c.ChanID = chanID
			}

			log.Tracef("Coalesced channel %d into %d", chanID,
				c.ChanID)

			continue
		}

		policy := fn.None[autopilot.ChannelPolicy]()
		if e.Node1Policy != nil {
			policy = fn.Some(autopilot.ChannelPolicy{
				FeeBaseMsat: int64(e.Node1Policy.FeeBaseMsat),
				FeeRatePPM: int64(
					e.Node1Policy.FeeRateMilliMsat,
				),
				Disabled: e.Node1Policy.Disabled,
			})
		}

		index[key] = len(topo.Channels)
		topo.Channels = append(topo.Channels, autopilot.Channel{
			ChanID:   chanID,
			Node1:    node1,
			Node2:    node2,
			Capacity: btcutil.Amount(e.Capacity),
			Policy:   policy,
		})
	}

	log.Debugf("Parsed graph with %d nodes and %d channels (%d edges)",
		len(topo.Nodes), len(topo.Channels), len(graph.Edges))

	return topo, nil
}
