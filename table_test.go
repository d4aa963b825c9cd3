package peerrank

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lightningnetwork/peerrank/autopilot"
	"github.com/stretchr/testify/require"
)

// TestRenderRecommendations checks the table printed after every cycle.
func TestRenderRecommendations(t *testing.T) {
	t.Parallel()

	first, second := randNodeID(t), randNodeID(t)
	set := &autopilot.RecommendationSet{
		Cycle:     3,
		Timestamp: time.Unix(1_700_000_000, 0),
		Recommendations: []autopilot.Recommendation{
			{
				NodeID: first,
				Score:  0.75,
				Breakdown: map[string]float64{
					"centrality": 0.5,
					"richness":   0.25,
				},
			},
			{
				NodeID: second,
				Score:  0.5,
				Breakdown: map[string]float64{
					"centrality": 0.25,
					"richness":   0.25,
				},
			},
		},
		Succeeded: []string{"centrality", "richness"},
		Dropped: map[string]error{
			"random": errors.New("timed out"),
		},
	}

	out := RenderRecommendations(set, 10)
	require.Contains(t, strings.ToLower(out), "cycle 3")
	require.Contains(t, out, first.String())
	require.Contains(t, out, second.String())
	require.Contains(t, out, "0.7500")
	require.Contains(t, out, "random: timed out")
	require.Less(t,
		strings.Index(out, first.String()),
		strings.Index(out, second.String()),
	)

	truncated := RenderRecommendations(set, 1)
	require.NotContains(t, truncated, second.String())
	require.Contains(t, strings.ToLower(truncated), "1 more not shown")
}
