package topology

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/lightningnetwork/peerrank/autopilot"
)

// FileFeed is a TopologySource that reads the channel graph from a
// describegraph JSON dump on every fetch, so an external process can refresh
// the file between cycles.
type FileFeed struct {
	path string
}

// A compile time check to ensure FileFeed meets the autopilot.TopologySource
// interface.
var _ autopilot.TopologySource = (*FileFeed)(nil)

// NewFileFeed creates a feed reading the graph file at path.
func NewFileFeed(path string) *FileFeed {
	return &FileFeed{path: path}
}

// FetchTopology reads and decodes the graph file.
//
// NOTE: This is part of the autopilot.TopologySource interface.
func (f *FileFeed) FetchTopology(ctx context.Context) (*autopilot.Topology,
	error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("unable to open graph file: %w", err)
	}
	defer file.Close()

	topo, err := ParseGraph(file)
	if err != nil {
		return nil, fmt.Errorf("graph file %v: %w", f.path, err)
	}

	return topo, nil
}

// StaticFeed is a TopologySource serving a topology held in memory. The
// topology can be swapped at any time and the next fetch returns the new
// one.
type StaticFeed struct {
	mu   sync.RWMutex
	topo *autopilot.Topology
}

// A compile time check to ensure StaticFeed meets the
// autopilot.TopologySource interface.
var _ autopilot.TopologySource = (*StaticFeed)(nil)

// NewStaticFeed creates a feed serving topo.
func NewStaticFeed(topo *autopilot.Topology) *StaticFeed {
	return &StaticFeed{topo: topo}
}

// Set replaces the served topology.
func (s *StaticFeed) Set(topo *autopilot.Topology) {
	s.mu.Lock()
	s.topo = topo
	s.mu.Unlock()
}

// FetchTopology returns the current topology.
//
// NOTE: This is part of the autopilot.TopologySource interface.
func (s *StaticFeed) FetchTopology(ctx context.Context) (*autopilot.Topology,
	error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.topo == nil {
		return &autopilot.Topology{}, nil
	}

	return s.topo, nil
}
