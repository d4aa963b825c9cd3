package peerrank

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/peerrank/autopilot"
	"github.com/lightningnetwork/peerrank/build"
	"github.com/lightningnetwork/peerrank/monitoring"
	"github.com/lightningnetwork/peerrank/recstore"
	"github.com/lightningnetwork/peerrank/signal"
	"github.com/lightningnetwork/peerrank/subscribe"
	"github.com/lightningnetwork/peerrank/topology"
	"github.com/prometheus/client_golang/prometheus"
)

// Main is the true entry point for peerrank. It's required since defers
// created in the top-level scope of a main method aren't executed if os.Exit()
// is called.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	defer func() {
		prnkLog.Info("Shutdown complete")
		if err := cfg.LogRotator.Close(); err != nil {
			fmt.Printf("Could not close log rotator: %v\n", err)
		}
	}()

	prnkLog.Infof("Version: %s commit=%s", build.Version(), build.Commit)

	d, err := newDaemon(cfg, topology.NewFileFeed(cfg.Feed.GraphFile),
		clock.NewDefaultClock())
	if err != nil {
		return err
	}

	if err := d.start(); err != nil {
		_ = d.stop()
		return err
	}

	<-interceptor.ShutdownChannel()

	return d.stop()
}

// daemon ties the recommendation engine to its sinks: the recommendation
// store, the metrics and the log table.
type daemon struct {
	cfg *Config

	store    *recstore.Store
	manager  *autopilot.Manager
	sets     *subscribe.Server[*autopilot.RecommendationSet]
	events   *subscribe.Server[*autopilot.CycleEvent]
	metrics  *monitoring.Metrics
	registry *prometheus.Registry
	exporter *monitoring.Exporter

	// sinks runs the subscription consumers and the startup cycle.
	sinks *fn.GoroutineManager
}

// newDaemon opens the store and creates the engine over the passed topology
// source. The last persisted list is visible until the first cycle
// publishes.
func newDaemon(cfg *Config, source autopilot.TopologySource,
	clk clock.Clock) (*daemon, error) {

	store, err := recstore.Open(cfg.DataDir, cfg.MaxHistory)
	if err != nil {
		return nil, err
	}

	initial, err := store.Last()
	switch {
	case errors.Is(err, recstore.ErrNoRecommendations):
		initial = nil

	case err != nil:
		_ = store.Close()
		return nil, fmt.Errorf("unable to load last recommendations: "+
			"%w", err)

	default:
		prnkLog.Infof("Restored %d recommendations of cycle %d",
			len(initial.Recommendations), initial.Cycle)
	}

	d := &daemon{
		cfg:      cfg,
		store:    store,
		sets:     subscribe.NewServer[*autopilot.RecommendationSet](),
		events:   subscribe.NewServer[*autopilot.CycleEvent](),
		registry: prometheus.NewRegistry(),
		sinks:    fn.NewGoroutineManager(),
	}

	d.manager, err = autopilot.NewManager(autopilot.ManagerCfg{
		Source:  source,
		Clock:   clk,
		Initial: initial,
		Publish: func(set *autopilot.RecommendationSet) {
			if err := d.sets.SendUpdate(set); err != nil {
				prnkLog.Debugf("Unable to forward cycle %d: "+
					"%v", set.Cycle, err)
			}
		},
		Report: func(event *autopilot.CycleEvent) {
			if err := d.events.SendUpdate(event); err != nil {
				prnkLog.Debugf("Unable to forward event of "+
					"cycle %d: %v", event.Cycle, err)
			}
		},
	}, cfg.Pilot)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	d.metrics, err = monitoring.NewMetrics(
		d.registry, d.manager.DroppedTicks,
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if initial != nil {
		d.metrics.ObserveSet(initial)
	}

	if cfg.Prometheus.Enable {
		d.exporter = monitoring.NewExporter(cfg.Prometheus, d.registry)
	}

	return d, nil
}

// start launches the subscription servers, the sinks and the engine.
func (d *daemon) start() error {
	if err := d.sets.Start(); err != nil {
		return err
	}
	if err := d.events.Start(); err != nil {
		return err
	}

	setClient, err := d.sets.Subscribe()
	if err != nil {
		return err
	}
	eventClient, err := d.events.Subscribe()
	if err != nil {
		return err
	}

	ctx := context.Background()
	d.sinks.Go(ctx, func(ctx context.Context) {
		consume(ctx, setClient, d.handleSet)
	})
	d.sinks.Go(ctx, func(ctx context.Context) {
		consume(ctx, eventClient, d.handleEvent)
	})

	if d.exporter != nil {
		if err := d.exporter.Start(); err != nil {
			return fmt.Errorf("unable to start prometheus "+
				"exporter: %w", err)
		}
	}

	if err := d.manager.Start(); err != nil {
		return err
	}

	if d.cfg.RunOnStart {
		d.sinks.Go(ctx, func(ctx context.Context) {
			_, err := d.manager.RunCycle(ctx)
			if err != nil {
				prnkLog.Warnf("Startup cycle failed: %v", err)
			}
		})
	}

	prnkLog.Infof("Recommending up to %d peers every %v",
		d.cfg.Pilot.TopK, d.cfg.Pilot.Interval)

	return nil
}

// stop shuts everything down in the reverse order of start.
func (d *daemon) stop() error {
	var errs []error
	if err := d.manager.Stop(); err != nil {
		errs = append(errs, err)
	}
	if d.exporter != nil {
		if err := d.exporter.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.sets.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := d.events.Stop(); err != nil {
		errs = append(errs, err)
	}

	d.sinks.Stop()

	if err := d.store.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// handleSet persists, measures and prints a newly published list.
func (d *daemon) handleSet(set *autopilot.RecommendationSet) {
	if err := d.store.Put(set); err != nil {
		prnkLog.Errorf("Unable to persist cycle %d: %v", set.Cycle, err)
	}

	d.metrics.ObserveSet(set)

	if d.cfg.TableSize > 0 {
		prnkLog.Infof("Recommendations:\n%v",
			RenderRecommendations(set, d.cfg.TableSize))
	}
}

// handleEvent measures a finished cycle.
func (d *daemon) handleEvent(event *autopilot.CycleEvent) {
	d.metrics.ObserveCycle(event)

	if event.Err != nil {
		prnkLog.Debugf("Cycle %d ended in state %v after %v: %v",
			event.Cycle, event.State, event.Duration, event.Err)
	}
}

// consume hands every update of the client to handle until the client or
// the context quits.
func consume[T any](ctx context.Context, client *subscribe.Client[T],
	handle func(T)) {

	defer client.Cancel()

	for {
		select {
		case upd := <-client.Updates():
			handle(upd)

		case <-client.Quit():
			return

		case <-ctx.Done():
			return
		}
	}
}
