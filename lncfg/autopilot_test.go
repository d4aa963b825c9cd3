package lncfg

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/peerrank/autopilot"
	"github.com/stretchr/testify/require"
)

func randPubKey(t *testing.T) string {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return hex.EncodeToString(priv.PubKey().SerializeCompressed())
}

// TestAutoPilotParse checks the conversion of the raw options into an engine
// configuration.
func TestAutoPilotParse(t *testing.T) {
	t.Parallel()

	self, ignored := randPubKey(t), randPubKey(t)

	a := DefaultAutoPilot()
	a.Self = self
	a.Interval = time.Minute
	a.MinCapacity = 1_000_000
	a.Heuristic = map[string]float64{
		"centrality": 0.7,
		"richness":   0.3,
		"random":     0,
	}
	a.CentralityMode = "closeness"
	a.CentralitySampleSize = 50
	a.TieBreakRandom = true
	a.Ignore = []string{ignored}

	cfg, err := a.Parse()
	require.NoError(t, err)

	require.Equal(t, self, cfg.Self.String())
	require.Equal(t, time.Minute, cfg.Interval)
	require.Equal(t, autopilot.DefaultTopK, cfg.TopK)
	require.Equal(t, btcutil.Amount(1_000_000), cfg.MinCapacity)
	require.Equal(t, autopilot.ClosenessMode, cfg.Centrality.Mode)
	require.Equal(t, 50, cfg.Centrality.SampleSize)
	require.Equal(t,
		autopilot.DefaultCentralityWorkers, cfg.Centrality.Workers,
	)
	require.Equal(t, a.Heuristic, cfg.Weights)
	require.True(t, cfg.TieBreakRandom)
	require.Len(t, cfg.Ignore, 1)
	require.Equal(t, ignored, cfg.Ignore[0].String())

	// The parsed weights must not alias the raw options.
	a.Heuristic["richness"] = 5
	require.Equal(t, 0.3, cfg.Weights["richness"])
}

// TestAutoPilotParseErrors checks that invalid options are reported with the
// offending field.
func TestAutoPilotParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*AutoPilot)
		field  string
	}{
		{
			name:   "missing self",
			modify: func(a *AutoPilot) { a.Self = "" },
			field:  "self",
		},
		{
			name:   "invalid self",
			modify: func(a *AutoPilot) { a.Self = "02abcd" },
			field:  "self",
		},
		{
			name: "invalid mode",
			modify: func(a *AutoPilot) {
				a.CentralityMode = "pagerank"
			},
			field: "centrality.mode",
		},
		{
			name: "invalid ignore",
			modify: func(a *AutoPilot) {
				a.Ignore = []string{"nothex"}
			},
			field: "ignore",
		},
		{
			name: "unknown heuristic",
			modify: func(a *AutoPilot) {
				a.Heuristic = map[string]float64{"preferential": 1}
			},
			field: "heuristic",
		},
		{
			name:   "zero topk",
			modify: func(a *AutoPilot) { a.TopK = 0 },
			field:  "topk",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			a := DefaultAutoPilot()
			a.Self = randPubKey(t)
			test.modify(a)

			_, err := a.Parse()
			var cfgErr *autopilot.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			require.Equal(t, test.field, cfgErr.Field)
		})
	}
}

func TestFeedValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, (&Feed{}).Validate())
	require.NoError(t, (&Feed{GraphFile: "graph.json"}).Validate())
}
