package autopilot

import (
	"context"
)

// cancelCheckInterval is the number of vertices a traversal visits between
// two checks of its context.
const cancelCheckInterval = 1024

// stack is a simple int stack to help with readability of Brandes'
// betweenness centrality implementation.
type stack struct {
	stack []int
}

func (s *stack) push(v int) {
	s.stack = append(s.stack, v)
}

func (s *stack) top() int {
	return s.stack[len(s.stack)-1]
}

func (s *stack) pop() {
	s.stack = s.stack[:len(s.stack)-1]
}

func (s *stack) empty() bool {
	return len(s.stack) == 0
}

// queue is a simple int queue used by the breadth-first traversals below.
type queue struct {
	queue []int
}

func (q *queue) push(v int) {
	q.queue = append(q.queue, v)
}

func (q *queue) front() int {
	return q.queue[0]
}

func (q *queue) pop() {
	q.queue = q.queue[1:]
}

func (q *queue) empty() bool {
	return len(q.queue) == 0
}

// Visitor is called once for every node reached by BFS together with its hop
// distance from the source. Returning false stops the traversal.
type Visitor func(id NodeID, depth int) bool

// BFS runs a breadth-first expansion from source, calling visit for every
// reachable node including the source itself at depth 0. The traversal
// checks ctx every cancelCheckInterval visits and returns its error if it
// has been cancelled. An unknown source visits nothing.
func (g *Snapshot) BFS(ctx context.Context, source NodeID,
	visit Visitor) error {

	s, ok := g.index[source]
	if !ok {
		return nil
	}

	dist := make([]int, len(g.nodes))
	for i := range dist {
		dist[i] = -1
	}
	dist[s] = 0

	var (
		q       queue
		visited int
	)
	q.push(s)

	for !q.empty() {
		v := q.front()
		q.pop()

		visited++
		if visited%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if !visit(g.nodes[v].ID, dist[v]) {
			return nil
		}

		for _, w := range g.adj[v] {
			if dist[w] < 0 {
				dist[w] = dist[v] + 1
				q.push(w)
			}
		}
	}

	return nil
}

// shortestPathLengths returns the hop distance from the node with index s to
// every other node. Unreachable nodes are marked with -1. Like BFS, it checks
// ctx every cancelCheckInterval visits.
func (g *Snapshot) shortestPathLengths(ctx context.Context, s int) ([]int,
	error) {

	dist := make([]int, len(g.nodes))
	for i := range dist {
		dist[i] = -1
	}
	dist[s] = 0

	var (
		q       queue
		visited int
	)
	q.push(s)

	for !q.empty() {
		v := q.front()
		q.pop()

		visited++
		if visited%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		for _, w := range g.adj[v] {
			if dist[w] < 0 {
				dist[w] = dist[v] + 1
				q.push(w)
			}
		}
	}

	return dist, nil
}
