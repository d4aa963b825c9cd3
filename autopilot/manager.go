package autopilot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

// ManagerCfg houses the collaborators that stay the same across
// reconfigurations of the engine.
type ManagerCfg struct {
	// Source delivers the topology for every cycle.
	Source TopologySource

	// Clock is used to timestamp cycles and to reseed the random
	// strategy.
	Clock clock.Clock

	// NewTicker creates the ticker driving a scheduler for the given
	// interval. It defaults to ticker.New.
	NewTicker func(time.Duration) ticker.Ticker

	// Initial is the list visible before the first cycle publishes.
	Initial *RecommendationSet

	// Publish is called with every newly published list.
	Publish func(*RecommendationSet)

	// Report is called with the outcome of every cycle.
	Report func(*CycleEvent)
}

// Manager owns the active Scheduler and allows the engine to be reconfigured
// at runtime. A new configuration is validated before the running scheduler
// is touched, so a rejected configuration leaves the engine running as it
// was.
type Manager struct {
	cfg ManagerCfg

	mu        sync.Mutex
	pilotCfg  *Config
	scheduler *Scheduler

	// retiredDrops counts the ticks dropped by schedulers that were
	// replaced.
	retiredDrops uint64

	started bool
	stopped bool
}

// NewManager creates a new manager. The passed configuration is validated
// immediately and a *ConfigurationError is returned if it is rejected.
func NewManager(cfg ManagerCfg, pilotCfg *Config) (*Manager, error) {
	if cfg.Source == nil {
		return nil, errors.New("a topology source is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = func(d time.Duration) ticker.Ticker {
			return ticker.New(d)
		}
	}

	m := &Manager{
		cfg: cfg,
	}

	s, err := m.newScheduler(pilotCfg, cfg.Initial)
	if err != nil {
		return nil, err
	}
	m.pilotCfg = pilotCfg
	m.scheduler = s

	return m, nil
}

// newScheduler builds a scheduler for the passed configuration, seeded with
// the passed list.
func (m *Manager) newScheduler(pilotCfg *Config,
	initial *RecommendationSet) (*Scheduler, error) {

	agg, err := NewAggregatorFromConfig(pilotCfg, m.cfg.Clock)
	if err != nil {
		return nil, err
	}

	return NewScheduler(SchedulerConfig{
		Source:          m.cfg.Source,
		Aggregator:      agg,
		Ticker:          m.cfg.NewTicker(pilotCfg.Interval),
		Clock:           m.cfg.Clock,
		StrategyTimeout: pilotCfg.StrategyTimeout,
		Initial:         initial,
		Publish:         m.cfg.Publish,
		Report:          m.cfg.Report,
	})
}

// Start starts the active scheduler.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	m.started = true

	return m.scheduler.Start()
}

// Stop stops the active scheduler.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true

	return m.scheduler.Stop()
}

// Reconfigure replaces the running scheduler with one using the passed
// configuration. The new scheduler starts out with the list published by the
// old one, so readers never see the list disappear. If the configuration is
// rejected, the old scheduler keeps running and a *ConfigurationError is
// returned.
func (m *Manager) Reconfigure(pilotCfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrSchedulerShuttingDown
	}

	// Validate before anything is torn down.
	if err := pilotCfg.Validate(); err != nil {
		log.Errorf("Rejecting new autopilot configuration: %v", err)
		return err
	}

	old := m.scheduler
	if err := old.Stop(); err != nil {
		return err
	}

	s, err := m.newScheduler(pilotCfg, old.Current())
	if err != nil {
		// The configuration was validated above, this can't
		// normally happen. Put the old configuration back.
		log.Errorf("Unable to create scheduler: %v", err)

		restored, rErr := m.newScheduler(m.pilotCfg, old.Current())
		if rErr != nil {
			return rErr
		}
		m.scheduler = restored
		if m.started {
			_ = restored.Start()
		}

		return err
	}

	m.retiredDrops += old.DroppedTicks()
	m.pilotCfg = pilotCfg
	m.scheduler = s

	log.Infof("Autopilot reconfigured: interval=%v, topk=%d, "+
		"strategies=%v", pilotCfg.Interval, pilotCfg.TopK,
		pilotCfg.Weights)

	if m.started {
		return s.Start()
	}

	return nil
}

// Config returns the active configuration.
func (m *Manager) Config() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pilotCfg
}

// Current returns the most recently published recommendation list.
func (m *Manager) Current() *RecommendationSet {
	return m.active().Current()
}

// RunCycle runs one cycle of the active scheduler synchronously.
func (m *Manager) RunCycle(ctx context.Context) (*RecommendationSet, error) {
	return m.active().RunCycle(ctx)
}

// DroppedTicks returns the number of ticks dropped since the manager was
// created, across reconfigurations.
func (m *Manager) DroppedTicks() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.retiredDrops + m.scheduler.DroppedTicks()
}

// active returns the active scheduler.
func (m *Manager) active() *Scheduler {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.scheduler
}
