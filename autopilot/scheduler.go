package autopilot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

// CycleState is the phase a refresh cycle is in.
type CycleState uint32

const (
	// StateIdle means no cycle is running.
	StateIdle CycleState = iota

	// StateBuilding means the topology is being fetched and the snapshot
	// built.
	StateBuilding

	// StateScoring means the strategies are scoring the snapshot.
	StateScoring

	// StateAggregating means the strategy scores are being combined.
	StateAggregating

	// StatePublished means the cycle published a new recommendation
	// list.
	StatePublished
)

// String returns a human readable name of the state.
func (s CycleState) String() string {
	switch s {
	case StateIdle:
		return "Idle"

	case StateBuilding:
		return "Building"

	case StateScoring:
		return "Scoring"

	case StateAggregating:
		return "Aggregating"

	case StatePublished:
		return "Published"

	default:
		return fmt.Sprintf("CycleState(%d)", uint32(s))
	}
}

// SchedulerConfig couples all the external collaborators of the Scheduler.
type SchedulerConfig struct {
	// Source delivers a full topology at the start of every cycle.
	Source TopologySource

	// Aggregator holds the strategies to run and combines their scores.
	Aggregator *Aggregator

	// Ticker triggers a new cycle on every tick.
	Ticker ticker.Ticker

	// Clock is used to timestamp cycles.
	Clock clock.Clock

	// StrategyTimeout bounds the time a single strategy may take. Zero
	// disables the timeout.
	StrategyTimeout time.Duration

	// Initial is the list that is visible before the first cycle
	// publishes, typically the one persisted by a previous run. Cycle
	// numbers continue after its Cycle.
	Initial *RecommendationSet

	// Publish, if set, is called with every newly published list, in
	// cycle order.
	Publish func(*RecommendationSet)

	// Report, if set, is called with the outcome of every cycle, failed
	// or not.
	Report func(*CycleEvent)
}

// Scheduler drives the periodic refresh of the recommendation list. It owns
// the current snapshot for the duration of a cycle and the published list
// across cycles, and guarantees that at most one cycle runs at any time.
// Ticks arriving while a cycle is running are dropped rather than queued.
type Scheduler struct {
	started sync.Once
	stopped sync.Once

	cfg SchedulerConfig

	// state is the CycleState of the running cycle.
	state atomic.Uint32

	// running is set while a cycle is in flight.
	running atomic.Bool

	// seq is the number of the last cycle that was started.
	seq atomic.Uint64

	// current is the published list visible to readers.
	current atomic.Pointer[RecommendationSet]

	// droppedTicks counts the ticks that arrived while a cycle was in
	// flight.
	droppedTicks atomic.Uint64

	// publishMtx serializes publication and guards lastPublished.
	publishMtx    sync.Mutex
	lastPublished uint64

	cycles *fn.GoroutineManager

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a new scheduler from the passed config. The scheduler
// won't run any cycles until Start is called.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("a topology source is required")

	case cfg.Aggregator == nil:
		return nil, errors.New("an aggregator is required")

	case cfg.Ticker == nil:
		return nil, errors.New("a ticker is required")
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	s := &Scheduler{
		cfg:    cfg,
		cycles: fn.NewGoroutineManager(),
		quit:   make(chan struct{}),
	}

	if cfg.Initial != nil {
		s.current.Store(cfg.Initial)
		s.lastPublished = cfg.Initial.Cycle
		s.seq.Store(cfg.Initial.Cycle)
	}

	return s, nil
}

// Start starts the main loop of the scheduler.
func (s *Scheduler) Start() error {
	s.started.Do(func() {
		log.Infof("Recommendation scheduler starting, last published "+
			"cycle=%d", s.seq.Load())

		s.cfg.Ticker.Resume()

		s.wg.Add(1)
		go s.controller()
	})

	return nil
}

// Stop signals the scheduler to shut down. An in-flight cycle is cancelled
// and Stop waits until it has returned; a cancelled cycle never publishes.
func (s *Scheduler) Stop() error {
	s.stopped.Do(func() {
		log.Info("Recommendation scheduler shutting down...")
		defer log.Debug("Recommendation scheduler shutdown complete")

		close(s.quit)
		s.cycles.Stop()
		s.wg.Wait()

		s.cfg.Ticker.Stop()
	})

	return nil
}

// Current returns the most recently published recommendation list, or nil if
// nothing was published yet. The returned set must not be modified.
func (s *Scheduler) Current() *RecommendationSet {
	return s.current.Load()
}

// State returns the state of the running cycle, or StateIdle.
func (s *Scheduler) State() CycleState {
	return CycleState(s.state.Load())
}

// DroppedTicks returns the number of ticks dropped because a cycle was still
// in flight.
func (s *Scheduler) DroppedTicks() uint64 {
	return s.droppedTicks.Load()
}

// controller is the main loop of the scheduler. It launches a cycle on every
// tick unless one is still running.
//
// NOTE: This MUST be run as a goroutine.
func (s *Scheduler) controller() {
	defer s.wg.Done()

	for {
		select {
		case <-s.cfg.Ticker.Ticks():
			if !s.running.CompareAndSwap(false, true) {
				dropped := s.droppedTicks.Add(1)
				log.Debugf("Dropping tick, cycle in state %v "+
					"still running (%d dropped so far)",
					s.State(), dropped)

				continue
			}

			ok := s.cycles.Go(
				context.Background(), func(ctx context.Context) {
					defer s.running.Store(false)

					_, _ = s.runCycle(ctx)
				},
			)
			if !ok {
				s.running.Store(false)
				return
			}

		case <-s.quit:
			return
		}
	}
}

// RunCycle runs one full cycle synchronously and returns the list it
// published. It fails with ErrCycleInFlight if a cycle triggered by the
// ticker is still running, and with ErrSchedulerShuttingDown once Stop was
// called.
func (s *Scheduler) RunCycle(ctx context.Context) (*RecommendationSet,
	error) {

	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInFlight
	}

	type cycleResult struct {
		set *RecommendationSet
		err error
	}
	done := make(chan cycleResult, 1)

	ok := s.cycles.Go(ctx, func(ctx context.Context) {
		defer s.running.Store(false)

		set, err := s.runCycle(ctx)
		done <- cycleResult{set: set, err: err}
	})
	if !ok {
		s.running.Store(false)

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		return nil, ErrSchedulerShuttingDown
	}

	res := <-done

	return res.set, res.err
}

// setState records the phase of the running cycle.
func (s *Scheduler) setState(state CycleState) {
	s.state.Store(uint32(state))
}

// runCycle fetches the topology, builds the snapshot, scores it with every
// strategy in parallel, aggregates the scores and publishes the result. On
// any failure the previously published list stays visible.
func (s *Scheduler) runCycle(ctx context.Context) (*RecommendationSet,
	error) {

	seq := s.seq.Add(1)
	start := s.cfg.Clock.Now()

	event := &CycleEvent{
		Cycle:     seq,
		Timestamp: start,
	}
	defer func() {
		event.State = s.State()
		event.Duration = s.cfg.Clock.Now().Sub(start)
		s.setState(StateIdle)

		s.report(event)
	}()

	fail := func(err error) (*RecommendationSet, error) {
		event.Err = err
		return nil, err
	}

	s.setState(StateBuilding)
	log.Debugf("Cycle %d: fetching topology", seq)

	topo, err := s.cfg.Source.FetchTopology(ctx)
	if err != nil {
		return fail(fmt.Errorf("unable to fetch topology: %w", err))
	}

	g, err := Build(topo.Nodes, topo.Channels)
	if err != nil {
		return fail(err)
	}

	stats := g.Stats()
	log.Debugf("Cycle %d: built snapshot with %d nodes, %d channels, "+
		"median channel capacity %v, mean channel capacity %.0f sat",
		seq, stats.Nodes, stats.Channels, stats.MedianCapacity,
		stats.MeanCapacity)

	// Shutdown is checked between phases so that an aborted cycle never
	// gets to publish.
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	s.setState(StateScoring)
	outcomes := s.score(ctx, g)

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	s.setState(StateAggregating)
	set, err := s.cfg.Aggregator.Aggregate(g, outcomes)
	if err != nil {
		return fail(err)
	}
	set.Cycle = seq
	set.Timestamp = start
	event.Dropped = set.Dropped

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	if !s.publish(set) {
		return fail(ErrStaleCycle)
	}
	s.setState(StatePublished)

	return set, nil
}

// score runs every strategy of the aggregator against the snapshot in
// parallel. A failing strategy never cancels its siblings, its error is
// recorded as the outcome instead.
func (s *Scheduler) score(ctx context.Context,
	g *Snapshot) map[string]fn.Result[Scores] {

	strategies := s.cfg.Aggregator.Strategies()
	results := make([]fn.Result[Scores], len(strategies))

	var eg errgroup.Group
	for i, ws := range strategies {
		eg.Go(func() error {
			results[i] = s.runStrategy(ctx, ws.Strategy, g)
			return nil
		})
	}
	_ = eg.Wait()

	outcomes := make(map[string]fn.Result[Scores], len(strategies))
	for i, ws := range strategies {
		outcomes[ws.Name()] = results[i]
	}

	return outcomes
}

// runStrategy scores the snapshot with a single strategy, bounded by the
// strategy timeout. Errors and panics are turned into a
// *StrategyComputationError.
func (s *Scheduler) runStrategy(ctx context.Context, strategy Strategy,
	g *Snapshot) (result fn.Result[Scores]) {

	if s.cfg.StrategyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.StrategyTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = fn.Err[Scores](&StrategyComputationError{
				Strategy: strategy.Name(),
				Err:      fmt.Errorf("panic: %v", r),
			})
		}
	}()

	start := time.Now()
	scores, err := strategy.NodeScores(ctx, g)
	if err != nil {
		return fn.Err[Scores](&StrategyComputationError{
			Strategy: strategy.Name(),
			Err:      err,
		})
	}

	log.Debugf("Strategy %v scored %d nodes in %v", strategy.Name(),
		len(scores), time.Since(start))

	return fn.Ok(scores)
}

// publish makes set the visible list unless a newer cycle was published
// already. It returns false if the set was discarded as stale.
func (s *Scheduler) publish(set *RecommendationSet) bool {
	s.publishMtx.Lock()
	defer s.publishMtx.Unlock()

	if set.Cycle <= s.lastPublished {
		log.Warnf("Discarding result of cycle %d, cycle %d already "+
			"published", set.Cycle, s.lastPublished)

		return false
	}

	s.lastPublished = set.Cycle
	s.current.Store(set)

	log.Infof("Cycle %d published %d recommendations (strategies "+
		"used=%v, dropped=%d)", set.Cycle, len(set.Recommendations),
		set.Succeeded, len(set.Dropped))

	if s.cfg.Publish != nil {
		s.cfg.Publish(set)
	}

	return true
}

// report logs the outcome of a cycle and hands it to the status channel.
func (s *Scheduler) report(event *CycleEvent) {
	if event.Err != nil {
		log.ErrorS(context.Background(), "Refresh cycle failed",
			event.Err, "cycle", event.Cycle, "state", event.State,
			"duration", event.Duration)
	}

	if s.cfg.Report != nil {
		s.cfg.Report(event)
	}
}
