package autopilot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDanglingEdge is returned when a channel references a node that is
	// not part of the snapshot's node set.
	ErrDanglingEdge = errors.New("channel references unknown node")

	// ErrDuplicateChannel is returned when more than one channel connects
	// the same unordered pair of nodes.
	ErrDuplicateChannel = errors.New("duplicate channel between node pair")

	// ErrSelfLoop is returned when a channel has the same node on both
	// ends.
	ErrSelfLoop = errors.New("channel connects node to itself")

	// ErrNegativeCapacity is returned when a channel advertises a
	// capacity below zero.
	ErrNegativeCapacity = errors.New("channel capacity is negative")

	// ErrDuplicateNode is returned when a node identity appears twice in
	// the node set handed to Build.
	ErrDuplicateNode = errors.New("duplicate node in node set")

	// ErrInvalidNodeID is returned when a node identity isn't a valid
	// hex encoded compressed public key.
	ErrInvalidNodeID = errors.New("invalid node id")

	// ErrNoUsableStrategy is matched by NoUsableStrategyError and signals
	// that no strategy produced scores for the cycle.
	ErrNoUsableStrategy = errors.New("no usable strategy")

	// ErrSchedulerShuttingDown is returned when a cycle is requested while
	// the scheduler is stopping.
	ErrSchedulerShuttingDown = errors.New("scheduler shutting down")

	// ErrCycleInFlight is returned by RunCycle when another cycle is
	// still running.
	ErrCycleInFlight = errors.New("refresh cycle already in flight")

	// ErrStaleCycle marks a cycle whose result was discarded because a
	// newer cycle had already been published.
	ErrStaleCycle = errors.New("result superseded by a newer cycle")
)

// MalformedGraphError is returned by Build and the topology feeds when the
// topology is internally inconsistent. Reason is one of the sentinel errors
// above.
type MalformedGraphError struct {
	// Reason is the sentinel describing the class of inconsistency.
	Reason error

	// Detail names the offending node or channel.
	Detail string
}

// Error returns a human readable description of the malformed graph.
func (e *MalformedGraphError) Error() string {
	return fmt.Sprintf("malformed graph: %v: %v", e.Reason, e.Detail)
}

// Unwrap returns the underlying reason so errors.Is can match on the
// sentinel values.
func (e *MalformedGraphError) Unwrap() error {
	return e.Reason
}

// StrategyComputationError is produced when a single strategy fails to
// produce scores for a cycle, either because it timed out or because of an
// internal fault. The aggregator recovers from it by dropping the strategy.
type StrategyComputationError struct {
	// Strategy is the name of the failed strategy.
	Strategy string

	// Err is the underlying failure.
	Err error
}

// Error returns a human readable description of the failure.
func (e *StrategyComputationError) Error() string {
	return fmt.Sprintf("strategy %v failed: %v", e.Strategy, e.Err)
}

// Unwrap returns the underlying failure.
func (e *StrategyComputationError) Unwrap() error {
	return e.Err
}

// NoUsableStrategyError is returned by the aggregator when every configured
// strategy failed during a cycle.
type NoUsableStrategyError struct {
	// Failures maps every strategy name to the error it returned.
	Failures map[string]error
}

// Error returns a human readable description listing all failures in a
// stable order.
func (e *NoUsableStrategyError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%v: %v", name,
			e.Failures[name]))
	}

	return fmt.Sprintf("%v: [%v]", ErrNoUsableStrategy,
		strings.Join(parts, ", "))
}

// Is allows errors.Is(err, ErrNoUsableStrategy) to match.
func (e *NoUsableStrategyError) Is(target error) bool {
	return target == ErrNoUsableStrategy
}

// ConfigurationError is returned when a configuration is rejected before any
// cycle runs.
type ConfigurationError struct {
	// Field is the name of the offending option.
	Field string

	// Reason explains why the value was rejected.
	Reason string
}

// Error returns a human readable description of the configuration error.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %v: %v", e.Field, e.Reason)
}
