package lncfg

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/peerrank/autopilot"
)

// AutoPilot holds the configuration options for the recommendation engine.
//
//nolint:lll
type AutoPilot struct {
	Self            string             `long:"self" description:"The hex encoded public key of the operator's own node. It is never recommended, and neither are its current peers."`
	Interval        time.Duration      `long:"interval" description:"The time between two refresh cycles."`
	TopK            int                `long:"topk" description:"The maximum number of recommended peers per cycle."`
	MinCapacity     int64              `long:"mincapacity" description:"The smallest total channel capacity in satoshis a node needs to be recommended."`
	MinDegree       int                `long:"mindegree" description:"The smallest number of channels a node needs to be recommended."`
	StrategyTimeout time.Duration      `long:"strategytimeout" description:"The time a single strategy may take to score the graph before it is dropped from the cycle. 0 disables the timeout."`
	Heuristic       map[string]float64 `long:"heuristic" description:"Heuristic to use when recommending peers, along with its weight. Can be specified multiple times, e.g. heuristic=centrality:0.8 heuristic=richness:0.2. Available heuristics are centrality, richness and random."`

	CentralityMode       string `long:"centrality.mode" description:"The centrality measure to compute." choice:"betweenness" choice:"closeness"`
	CentralitySampleSize int    `long:"centrality.samplesize" description:"Only start traversals from this many source nodes. 0 uses every node."`
	CentralitySeed       uint64 `long:"centrality.seed" description:"The seed selecting the sampled source nodes."`
	CentralityWorkers    int    `long:"centrality.workers" description:"The number of goroutines computing centrality."`

	RichnessLogScale bool `long:"richness.logscale" description:"Log scale the total capacity of nodes."`

	RandomSeed   uint64 `long:"random.seed" description:"The seed of the random heuristic."`
	RandomReseed bool   `long:"random.reseed" description:"Draw a new seed for the random heuristic from the clock on every cycle."`

	TieEpsilon     float64  `long:"tieepsilon" description:"Combined scores closer than this are considered tied."`
	TieBreakRandom bool     `long:"tiebreakrandom" description:"Order tied nodes by their random score before their node id. Requires the random heuristic, possibly with weight 0."`
	Ignore         []string `long:"ignore" description:"The hex encoded public key of a node that should never be recommended. Can be specified multiple times."`
}

// DefaultAutoPilot returns the default options, mirroring
// autopilot.DefaultConfig.
func DefaultAutoPilot() *AutoPilot {
	defaults := autopilot.DefaultConfig()

	return &AutoPilot{
		Interval:          defaults.Interval,
		TopK:              defaults.TopK,
		StrategyTimeout:   defaults.StrategyTimeout,
		Heuristic:         defaults.Weights,
		CentralityMode:    defaults.Centrality.Mode.String(),
		CentralityWorkers: defaults.Centrality.Workers,
	}
}

// Parse converts the options into an engine configuration and validates it.
// All problems are reported as *autopilot.ConfigurationError.
func (a *AutoPilot) Parse() (*autopilot.Config, error) {
	self, err := autopilot.NodeIDFromHex(a.Self)
	if err != nil && a.Self != "" {
		return nil, &autopilot.ConfigurationError{
			Field:  "self",
			Reason: err.Error(),
		}
	}

	mode, err := autopilot.ParseCentralityMode(a.CentralityMode)
	if err != nil {
		return nil, &autopilot.ConfigurationError{
			Field:  "centrality.mode",
			Reason: err.Error(),
		}
	}

	ignore := make([]autopilot.NodeID, 0, len(a.Ignore))
	for _, s := range a.Ignore {
		id, err := autopilot.NodeIDFromHex(s)
		if err != nil {
			return nil, &autopilot.ConfigurationError{
				Field:  "ignore",
				Reason: err.Error(),
			}
		}
		ignore = append(ignore, id)
	}

	weights := make(map[string]float64, len(a.Heuristic))
	for name, weight := range a.Heuristic {
		weights[name] = weight
	}

	cfg := &autopilot.Config{
		Self:            self,
		Interval:        a.Interval,
		TopK:            a.TopK,
		MinCapacity:     btcutil.Amount(a.MinCapacity),
		MinDegree:       a.MinDegree,
		StrategyTimeout: a.StrategyTimeout,
		Weights:         weights,
		Centrality: autopilot.CentralityConfig{
			Mode:       mode,
			Workers:    a.CentralityWorkers,
			SampleSize: a.CentralitySampleSize,
			Seed:       a.CentralitySeed,
		},
		RichnessLogScale: a.RichnessLogScale,
		RandomSeed:       a.RandomSeed,
		RandomReseed:     a.RandomReseed,
		TieEpsilon:       a.TieEpsilon,
		TieBreakRandom:   a.TieBreakRandom,
		Ignore:           ignore,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
