package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultListen is the default address of the metrics endpoint.
	DefaultListen = "127.0.0.1:8989"

	readHeaderTimeout = 5 * time.Second
)

// Config is the configuration of the prometheus exporter.
//
//nolint:lll
type Config struct {
	Enable bool   `long:"enable" description:"Enable the prometheus exporter."`
	Listen string `long:"listen" description:"The address the prometheus exporter listens on."`
}

// DefaultConfig returns the default exporter configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen: DefaultListen,
	}
}

// Exporter serves the metrics of a gatherer on /metrics.
type Exporter struct {
	cfg      *Config
	gatherer prometheus.Gatherer

	started sync.Once
	stopped sync.Once

	listener net.Listener
	server   *http.Server
	wg       sync.WaitGroup
}

// NewExporter creates an exporter for the metrics of gatherer.
func NewExporter(cfg *Config, gatherer prometheus.Gatherer) *Exporter {
	return &Exporter{
		cfg:      cfg,
		gatherer: gatherer,
	}
}

// Start binds the listen address and starts serving.
func (e *Exporter) Start() error {
	var startErr error
	e.started.Do(func() {
		l, err := net.Listen("tcp", e.cfg.Listen)
		if err != nil {
			startErr = err
			return
		}
		e.listener = l

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(
			e.gatherer, promhttp.HandlerOpts{},
		))
		e.server = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		}

		log.Infof("Prometheus exporter started on %v/metrics",
			l.Addr())

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()

			err := e.server.Serve(l)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Prometheus exporter failed: %v", err)
			}
		}()
	})

	return startErr
}

// Addr returns the address the exporter listens on, or nil if it has not
// been started.
func (e *Exporter) Addr() net.Addr {
	if e.listener == nil {
		return nil
	}

	return e.listener.Addr()
}

// Stop shuts the exporter down.
func (e *Exporter) Stop() error {
	var stopErr error
	e.stopped.Do(func() {
		if e.server == nil {
			return
		}

		ctx, cancel := context.WithTimeout(
			context.Background(), readHeaderTimeout,
		)
		defer cancel()

		stopErr = e.server.Shutdown(ctx)
		e.wg.Wait()
	})

	return stopErr
}
