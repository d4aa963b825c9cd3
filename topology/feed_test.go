package topology

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/peerrank/autopilot"
	"github.com/stretchr/testify/require"
)

func randPubKeys(t *testing.T, n int) []string {
	t.Helper()

	keys := make([]string, n)
	for i := range keys {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)

		keys[i] = hex.EncodeToString(
			priv.PubKey().SerializeCompressed(),
		)
	}

	return keys
}

// testGraphJSON builds a describegraph dump over three nodes with two
// parallel channels between the first pair.
func testGraphJSON(keys []string) string {
	return fmt.Sprintf(`{
	"nodes": [
		{"pub_key": %q, "alias": "alice", "addresses": [
			{"network": "tcp", "addr": "10.0.0.1:9735"}
		]},
		{"pub_key": %q, "alias": "bob", "addresses": []},
		{"pub_key": %q, "alias": "carol"}
	],
	"edges": [
		{"channel_id": "800000000000000002", "node1_pub": %q,
		 "node2_pub": %q, "capacity": "100000",
		 "node1_policy": {"fee_base_msat": "1000",
		  "fee_rate_milli_msat": "1", "disabled": false}},
		{"channel_id": "800000000000000001", "node1_pub": %q,
		 "node2_pub": %q, "capacity": "250000",
		 "node1_policy": null},
		{"channel_id": 800000000000000003, "node1_pub": %q,
		 "node2_pub": %q, "capacity": 50000}
	]
}`, keys[0], keys[1], keys[2],
		keys[0], keys[1],
		keys[1], keys[0],
		keys[1], keys[2],
	)
}

// TestParseGraph checks decoding of a describegraph dump including the
// coalescing of parallel channels.
func TestParseGraph(t *testing.T) {
	t.Parallel()

	keys := randPubKeys(t, 3)
	topo, err := ParseGraph(strings.NewReader(testGraphJSON(keys)))
	require.NoError(t, err)

	require.Len(t, topo.Nodes, 3)
	require.Equal(t, "alice", topo.Nodes[0].Alias)
	require.Equal(t, []string{"10.0.0.1:9735"}, topo.Nodes[0].Addrs)
	require.Empty(t, topo.Nodes[2].Addrs)

	require.Len(t, topo.Channels, 2)

	coalesced := topo.Channels[0]
	require.Equal(t, uint64(800000000000000001), coalesced.ChanID)
	require.Equal(t, btcutil.Amount(350_000), coalesced.Capacity)

	policy := coalesced.Policy.UnwrapOrFail(t)
	require.Equal(t, int64(1000), policy.FeeBaseMsat)
	require.Equal(t, int64(1), policy.FeeRatePPM)

	require.True(t, topo.Channels[1].Policy.IsNone())
	require.Equal(t, btcutil.Amount(50_000), topo.Channels[1].Capacity)

	// The coalesced topology must be accepted by the graph model.
	g, err := autopilot.Build(topo.Nodes, topo.Channels)
	require.NoError(t, err)
	require.Equal(t, 2, g.NumChannels())

	bob, err := autopilot.NodeIDFromHex(keys[1])
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(400_000), g.TotalCapacity(bob))
}

// TestParseGraphInvalid covers inputs that must be rejected.
func TestParseGraphInvalid(t *testing.T) {
	t.Parallel()

	keys := randPubKeys(t, 2)

	tests := []struct {
		name  string
		input string

		// badKey is set if the input must be reported as a malformed
		// graph with an invalid node id.
		badKey bool
	}{
		{
			name:  "not json",
			input: "describegraph",
		},
		{
			name:   "bad node key",
			input:  `{"nodes": [{"pub_key": "02abcd"}]}`,
			badKey: true,
		},
		{
			name: "bad capacity",
			input: fmt.Sprintf(`{"edges": [{"channel_id": "1",
				"node1_pub": %q, "node2_pub": %q,
				"capacity": "lots"}]}`, keys[0], keys[1]),
		},
		{
			name: "bad edge key",
			input: fmt.Sprintf(`{"edges": [{"channel_id": "1",
				"node1_pub": %q, "node2_pub": "zz",
				"capacity": "1"}]}`, keys[0]),
			badKey: true,
		},
		{
			name: "edge key off the curve",
			input: fmt.Sprintf(`{"edges": [{"channel_id": "7",
				"node1_pub": "02%s", "node2_pub": %q,
				"capacity": "1"}]}`, strings.Repeat("ff", 32),
				keys[1]),
			badKey: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseGraph(strings.NewReader(test.input))
			require.Error(t, err)

			var malformed *autopilot.MalformedGraphError
			if !test.badKey {
				require.False(t, errors.As(err, &malformed))
				return
			}

			require.ErrorAs(t, err, &malformed)
			require.ErrorIs(t, err, autopilot.ErrInvalidNodeID)
		})
	}
}

// TestFileFeedMalformed asserts that an invalid key read from a file is
// still classified as a malformed graph once wrapped by the feed.
func TestFileFeedMalformed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(
		path, []byte(`{"nodes": [{"pub_key": "00"}]}`), 0600,
	))

	_, err := NewFileFeed(path).FetchTopology(context.Background())
	var malformed *autopilot.MalformedGraphError
	require.ErrorAs(t, err, &malformed)
	require.ErrorIs(t, err, autopilot.ErrInvalidNodeID)
}

// TestFileFeed checks that the file feed rereads the file on every fetch.
func TestFileFeed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "graph.json")
	feed := NewFileFeed(path)

	ctx := context.Background()
	_, err := feed.FetchTopology(ctx)
	require.Error(t, err)

	keys := randPubKeys(t, 3)
	require.NoError(t, os.WriteFile(path, []byte(testGraphJSON(keys)), 0600))

	topo, err := feed.FetchTopology(ctx)
	require.NoError(t, err)
	require.Len(t, topo.Nodes, 3)

	require.NoError(t, os.WriteFile(path, []byte(`{"nodes": []}`), 0600))
	topo, err = feed.FetchTopology(ctx)
	require.NoError(t, err)
	require.Empty(t, topo.Nodes)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = feed.FetchTopology(cancelled)
	require.ErrorIs(t, err, context.Canceled)
}

// TestStaticFeed checks that the static feed serves the latest topology.
func TestStaticFeed(t *testing.T) {
	t.Parallel()

	feed := NewStaticFeed(nil)
	topo, err := feed.FetchTopology(context.Background())
	require.NoError(t, err)
	require.Empty(t, topo.Nodes)

	next := &autopilot.Topology{
		Nodes: []autopilot.Node{{Alias: "alice"}},
	}
	feed.Set(next)

	topo, err = feed.FetchTopology(context.Background())
	require.NoError(t, err)
	require.Same(t, next, topo)
}
