package autopilot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// CentralityMode selects which centrality measure the centrality strategy
// computes.
type CentralityMode uint8

const (
	// BetweennessMode counts the shortest paths passing through each node.
	BetweennessMode CentralityMode = iota

	// ClosenessMode sums the inverse distances from each node to every
	// node reachable from it.
	ClosenessMode
)

// String returns the name of the centrality mode.
func (m CentralityMode) String() string {
	switch m {
	case BetweennessMode:
		return "betweenness"

	case ClosenessMode:
		return "closeness"

	default:
		return fmt.Sprintf("CentralityMode(%d)", uint8(m))
	}
}

// ParseCentralityMode parses the name of a centrality mode as used in the
// configuration.
func ParseCentralityMode(s string) (CentralityMode, error) {
	switch strings.ToLower(s) {
	case "", "betweenness":
		return BetweennessMode, nil

	case "closeness":
		return ClosenessMode, nil

	default:
		return 0, fmt.Errorf("unknown centrality mode %q", s)
	}
}

// CentralityConfig houses the parameters of the centrality strategy.
type CentralityConfig struct {
	// Mode is the centrality measure to compute.
	Mode CentralityMode

	// Workers is the number of goroutines used to parallelize the
	// computation over source nodes.
	Workers int

	// SampleSize bounds the number of source nodes traversals are
	// started from. Zero, or a value not smaller than the number of
	// nodes, uses every node as a source.
	SampleSize int

	// Seed selects the sample of source nodes. The same seed and the same
	// node set always yield the same sample.
	Seed uint64
}

// BetweennessCentrality is a Strategy that calculates node centrality using
// Brandes' algorithm. Betweenness centrality for each node is the number of
// shortest paths passing through that node, not counting shortest paths
// starting or ending at that node. This is a useful metric to measure control
// of individual nodes over the whole network. In closeness mode the same
// traversals are used to compute harmonic closeness instead.
type BetweennessCentrality struct {
	cfg CentralityConfig
}

// A compile time assertion to ensure BetweennessCentrality meets the Strategy
// interface.
var _ Strategy = (*BetweennessCentrality)(nil)

// NewBetweennessCentrality creates a new centrality strategy.
func NewBetweennessCentrality(
	cfg CentralityConfig) (*BetweennessCentrality, error) {

	// There should be at least one worker.
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be positive")
	}
	if cfg.SampleSize < 0 {
		return nil, fmt.Errorf("sample size must not be negative")
	}

	return &BetweennessCentrality{
		cfg: cfg,
	}, nil
}

// Name returns the name of the strategy.
//
// NOTE: This is a part of the Strategy interface.
func (bc *BetweennessCentrality) Name() string {
	return "centrality"
}

// betweennessCentrality is the core of Brandes' algorithm.
// We first calculate the shortest paths from the start node s to all other
// nodes with BFS, then update the betweenness centrality values by using
// Brandes' dependency trick.
// For detailed explanation please read:
// https://www.cl.cam.ac.uk/teaching/1617/MLRD/handbook/brandes.html
func betweennessCentrality(ctx context.Context, g *Snapshot, s int,
	centrality []float64) error {

	// pred[w] is the list of nodes that immediately precede w on a
	// shortest path from s to t for each node t.
	pred := make([][]int, len(g.nodes))

	// sigma[t] is the number of shortest paths between nodes s and t
	// for each node t.
	sigma := make([]float64, len(g.nodes))
	sigma[s] = 1

	// dist[t] holds the distance between s and t for each node t.
	// We initialize this to -1 (meaning infinity) for each t != s.
	dist := make([]int, len(g.nodes))
	for i := range dist {
		dist[i] = -1
	}

	dist[s] = 0

	var (
		st      stack
		q       queue
		visited int
	)
	q.push(s)

	// BFS to calculate the shortest paths (sigma and pred)
	// from s to t for each node t.
	for !q.empty() {
		v := q.front()
		q.pop()
		st.push(v)

		visited++
		if visited%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		for _, w := range g.adj[v] {
			// If distance from s to w is infinity (-1)
			// then set it and enqueue w.
			if dist[w] < 0 {
				dist[w] = dist[v] + 1
				q.push(w)
			}

			// If w is on a shortest path the update
			// sigma and add v to w's predecessor list.
			if dist[w] == dist[v]+1 {
				sigma[w] += sigma[v]
				pred[w] = append(pred[w], v)
			}
		}
	}

	// delta[v] is the ratio of the shortest paths between s and t that go
	// through v and the total number of shortest paths between s and t.
	// If we have delta then the betweenness centrality is simply the sum
	// of delta[w] for each w != s.
	delta := make([]float64, len(g.nodes))

	for !st.empty() {
		w := st.top()
		st.pop()

		// pred[w] is the list of nodes that immediately precede w on a
		// shortest path from s.
		for _, v := range pred[w] {
			// Update delta using Brandes' equation.
			delta[v] += (sigma[v] / sigma[w]) * (1.0 + delta[w])
		}

		if w != s {
			// As noted above centrality is simply the sum
			// of delta[w] for each w != s.
			centrality[w] += delta[w]
		}
	}

	return nil
}

// closenessCentrality adds 1/d(s, v) to the closeness of every node v
// reachable from s. Since the graph is undirected d(s, v) = d(v, s), so
// summing over all sources yields the harmonic closeness of each node.
// Unreachable pairs contribute nothing.
func closenessCentrality(ctx context.Context, g *Snapshot, s int,
	centrality []float64) error {

	dist, err := g.shortestPathLengths(ctx, s)
	if err != nil {
		return err
	}

	for v, d := range dist {
		if d > 0 {
			centrality[v] += 1.0 / float64(d)
		}
	}

	return nil
}

// sources returns the indexes of the nodes traversals should start from. If
// sampling is enabled the nodes are ordered by a hash keyed with the seed
// and the node identity and the first SampleSize are picked, so the sample
// does not depend on the order nodes were handed to Build.
func (bc *BetweennessCentrality) sources(g *Snapshot) []int {
	n := len(g.nodes)

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	k := bc.cfg.SampleSize
	if k == 0 || k >= n {
		return all
	}

	ranks := make([]uint64, n)
	for i, node := range g.nodes {
		ranks[i] = keyedHash(sampleTag, bc.cfg.Seed, node.ID)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if ranks[a] != ranks[b] {
			return ranks[a] < ranks[b]
		}

		return g.nodes[a].ID.Less(g.nodes[b].ID)
	})

	return all[:k]
}

// NodeScores computes the centrality of every node in the snapshot. The
// returned values are not normalized.
//
// NOTE: This is a part of the Strategy interface.
func (bc *BetweennessCentrality) NodeScores(ctx context.Context,
	g *Snapshot) (Scores, error) {

	n := len(g.nodes)
	if n == 0 {
		return Scores{}, nil
	}

	accumulate := betweennessCentrality
	if bc.cfg.Mode == ClosenessMode {
		accumulate = closenessCentrality
	}

	sources := bc.sources(g)
	log.Debugf("Computing %v centrality over %d nodes from %d sources "+
		"using %d workers", bc.cfg.Mode, n, len(sources),
		bc.cfg.Workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	work := make(chan int)
	partials := make(chan []float64, bc.cfg.Workers)

	// Each worker will compute a partial result.
	// This partial result is a sum of centrality updates
	// on roughly N / workers nodes.
	worker := func() {
		defer wg.Done()
		partial := make([]float64, n)

		// Consume the next node, update centrality
		// partial to avoid unnecessary synchronization.
		for node := range work {
			err := accumulate(ctx, g, node, partial)
			if err != nil {
				errOnce.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}
		partials <- partial
	}

	// Now start the N workers.
	wg.Add(bc.cfg.Workers)
	for i := 0; i < bc.cfg.Workers; i++ {
		go worker()
	}

	// Distribute work amongst workers. Cancellation is checked between
	// sources so that a shutdown is never blocked by the remaining work.
distribute:
	for _, node := range sources {
		select {
		case work <- node:
		case <-ctx.Done():
			break distribute
		}
	}

	close(work)
	wg.Wait()
	close(partials)

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Collect and sum partials for final result.
	centrality := make([]float64, n)
	for partial := range partials {
		for i := 0; i < len(partial); i++ {
			centrality[i] += partial[i]
		}
	}

	scale := 1.0
	if bc.cfg.Mode == BetweennessMode {
		// Divide by two as this is an undirected graph.
		scale /= 2.0
	}
	if len(sources) < n {
		// Extrapolate the sampled sums to the full source set.
		scale *= float64(n) / float64(len(sources))
	}

	scores := make(Scores, n)
	for u, value := range centrality {
		scores[g.nodes[u].ID] = value * scale
	}

	return scores, nil
}
