package autopilot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultInterval is the default time between two refresh cycles.
	DefaultInterval = 10 * time.Minute

	// DefaultTopK is the default length of the recommendation list.
	DefaultTopK = 10

	// DefaultStrategyTimeout is the default time a single strategy may
	// take to score a snapshot before it is dropped from the cycle.
	DefaultStrategyTimeout = 2 * time.Minute

	// DefaultCentralityWorkers is the default number of goroutines used
	// to compute centrality.
	DefaultCentralityWorkers = 4
)

// Config houses everything the recommendation engine needs to run. It is the
// parsed form of the autopilot section of the daemon configuration.
type Config struct {
	// Self is the operator's own node. It is never recommended, and
	// neither are its current peers.
	Self NodeID

	// Interval is the time between two refresh cycles.
	Interval time.Duration

	// TopK is the maximum number of recommendations per cycle.
	TopK int

	// MinCapacity is the smallest total channel capacity a node needs to
	// be recommended.
	MinCapacity btcutil.Amount

	// MinDegree is the smallest number of channels a node needs to be
	// recommended.
	MinDegree int

	// StrategyTimeout bounds the time a single strategy may take.
	StrategyTimeout time.Duration

	// Weights maps the name of every enabled strategy to its weight. A
	// strategy without an entry is disabled. A strategy with a zero
	// weight still runs, which lets the random strategy break ties
	// without otherwise contributing.
	Weights map[string]float64

	// Centrality configures the centrality strategy.
	Centrality CentralityConfig

	// RichnessLogScale log scales the richness scores.
	RichnessLogScale bool

	// RandomSeed seeds the random strategy.
	RandomSeed uint64

	// RandomReseed reseeds the random strategy from the clock on every
	// cycle instead of using RandomSeed.
	RandomReseed bool

	// TieEpsilon is the distance under which two combined scores are
	// considered tied.
	TieEpsilon float64

	// TieBreakRandom orders tied nodes by their random score before
	// falling back to their node id.
	TieBreakRandom bool

	// Ignore lists nodes that are never recommended.
	Ignore []NodeID
}

// DefaultConfig returns a configuration with all values set to their
// defaults. Self must still be filled in by the caller.
func DefaultConfig() *Config {
	return &Config{
		Interval:        DefaultInterval,
		TopK:            DefaultTopK,
		StrategyTimeout: DefaultStrategyTimeout,
		Weights: map[string]float64{
			"centrality": 1.0,
		},
		Centrality: CentralityConfig{
			Mode:    BetweennessMode,
			Workers: DefaultCentralityWorkers,
		},
	}
}

// strategyNames is the fixed list of strategies known to the engine, in the
// order they are reported.
var strategyNames = []string{"centrality", "richness", "random"}

// availableStr is the help text listing the known strategies.
func availableStr() string {
	return fmt.Sprintf("available strategies are: [%v]",
		strings.Join(strategyNames, ", "))
}

// Validate makes sure the configuration is sane before any cycle runs. The
// first problem found is returned as a *ConfigurationError.
func (c *Config) Validate() error {
	var zero NodeID
	switch {
	case c.Self == zero:
		return &ConfigurationError{
			Field:  "self",
			Reason: "the operator's node id must be set",
		}

	case c.Interval <= 0:
		return &ConfigurationError{
			Field:  "interval",
			Reason: fmt.Sprintf("must be positive, was %v", c.Interval),
		}

	case c.TopK <= 0:
		return &ConfigurationError{
			Field:  "topk",
			Reason: fmt.Sprintf("must be positive, was %d", c.TopK),
		}

	case c.MinCapacity < 0:
		return &ConfigurationError{
			Field:  "mincapacity",
			Reason: "must not be negative",
		}

	case c.MinDegree < 0:
		return &ConfigurationError{
			Field:  "mindegree",
			Reason: "must not be negative",
		}

	case c.StrategyTimeout < 0:
		return &ConfigurationError{
			Field:  "strategytimeout",
			Reason: "must not be negative",
		}

	case c.TieEpsilon < 0:
		return &ConfigurationError{
			Field:  "tieepsilon",
			Reason: "must not be negative",
		}

	case c.Centrality.SampleSize < 0:
		return &ConfigurationError{
			Field:  "centrality.samplesize",
			Reason: "must not be negative",
		}
	}

	// Names are checked in sorted order so the reported error does not
	// depend on map iteration.
	names := make([]string, 0, len(c.Weights))
	for name := range c.Weights {
		names = append(names, name)
	}
	sort.Strings(names)

	var sum float64
	for _, name := range names {
		weight := c.Weights[name]
		if !isKnownStrategy(name) {
			return &ConfigurationError{
				Field: "heuristic",
				Reason: fmt.Sprintf("strategy %v not available, %v",
					name, availableStr()),
			}
		}
		if weight < 0 {
			return &ConfigurationError{
				Field: "heuristic",
				Reason: fmt.Sprintf("weight of %v must not be "+
					"negative, was %v", name, weight),
			}
		}
		sum += weight
	}

	if sum <= 0 {
		return &ConfigurationError{
			Field: "heuristic",
			Reason: fmt.Sprintf("no strategy with a positive weight, "+
				"%v", availableStr()),
		}
	}

	if _, ok := c.Weights["centrality"]; ok && c.Centrality.Workers < 1 {
		return &ConfigurationError{
			Field:  "centrality.workers",
			Reason: "must be positive",
		}
	}

	return nil
}

func isKnownStrategy(name string) bool {
	for _, known := range strategyNames {
		if name == known {
			return true
		}
	}

	return false
}

// AvailableStrategies instantiates the enabled strategies of the passed
// configuration in a fixed order: centrality, richness, random. The clock is
// used to reseed the random strategy when RandomReseed is set.
func AvailableStrategies(cfg *Config,
	clk clock.Clock) ([]*WeightedStrategy, error) {

	var strategies []*WeightedStrategy
	for _, name := range strategyNames {
		weight, ok := cfg.Weights[name]
		if !ok {
			continue
		}

		var s Strategy
		switch name {
		case "centrality":
			bc, err := NewBetweennessCentrality(cfg.Centrality)
			if err != nil {
				return nil, &ConfigurationError{
					Field:  "centrality",
					Reason: err.Error(),
				}
			}
			s = bc

		case "richness":
			s = NewRichness(cfg.RichnessLogScale)

		case "random":
			seed := FixedSeed(cfg.RandomSeed)
			if cfg.RandomReseed {
				seed = func() uint64 {
					return uint64(clk.Now().UnixNano())
				}
			}
			s = NewRandomStrategy(seed)
		}

		strategies = append(strategies, &WeightedStrategy{
			Weight:   weight,
			Strategy: s,
		})
	}

	return strategies, nil
}

// NewAggregatorFromConfig validates the configuration and builds the
// aggregator with all enabled strategies and constraints.
func NewAggregatorFromConfig(cfg *Config,
	clk clock.Clock) (*Aggregator, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	strategies, err := AvailableStrategies(cfg, clk)
	if err != nil {
		return nil, err
	}

	constraints := NewConstraints(
		cfg.Self, cfg.TopK, cfg.MinCapacity, cfg.MinDegree, cfg.Ignore,
		cfg.TieEpsilon, cfg.TieBreakRandom,
	)

	return NewAggregator(constraints, strategies...)
}
