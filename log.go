package peerrank

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/peerrank/autopilot"
	"github.com/lightningnetwork/peerrank/build"
	"github.com/lightningnetwork/peerrank/monitoring"
	"github.com/lightningnetwork/peerrank/recstore"
	"github.com/lightningnetwork/peerrank/signal"
	"github.com/lightningnetwork/peerrank/subscribe"
	"github.com/lightningnetwork/peerrank/topology"
)

// Subsystem defines the logging code for the daemon itself.
const Subsystem = "PRNK"

// prnkLog is the logger of the daemon. It is disabled until SetupLoggers is
// called.
var prnkLog = build.NewSubLogger(Subsystem, nil)

// SetupLoggers registers the loggers of every subsystem with the root logger
// manager.
func SetupLoggers(root *build.SubLoggerManager) {
	root.RegisterSubLogger(Subsystem, func(l btclog.Logger) {
		prnkLog = l
	})

	root.RegisterSubLogger(autopilot.Subsystem, autopilot.UseLogger)
	root.RegisterSubLogger(topology.Subsystem, topology.UseLogger)
	root.RegisterSubLogger(recstore.Subsystem, recstore.UseLogger)
	root.RegisterSubLogger(monitoring.Subsystem, monitoring.UseLogger)
	root.RegisterSubLogger(subscribe.Subsystem, subscribe.UseLogger)
	root.RegisterSubLogger(signal.Subsystem, signal.UseLogger)
}
