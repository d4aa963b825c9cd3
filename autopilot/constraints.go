package autopilot

import (
	"github.com/btcsuite/btcd/btcutil"
)

// Constraints is an interface the aggregator will query to determine which
// nodes may appear in a recommendation list and how long that list may be.
type Constraints interface {
	// Excluded returns true, along with a short reason, if the node must
	// not be recommended given the passed snapshot.
	Excluded(g *Snapshot, id NodeID) (bool, string)

	// TopK returns the maximum number of recommendations to publish.
	TopK() int

	// TieEpsilon returns the distance under which two combined scores are
	// considered tied.
	TieEpsilon() float64

	// TieBreakRandom returns true if tied scores should be ordered by the
	// random strategy's contribution before falling back to the node id.
	TieBreakRandom() bool
}

// recConstraints is an implementation of the Constraints interface that
// indicates the limits the aggregator must adhere to when ranking nodes.
type recConstraints struct {
	// self is the operator's own node. It, and every node it already
	// shares a channel with, is never recommended.
	self NodeID

	// topK is the maximum number of recommendations.
	topK int

	// minCapacity is the smallest total capacity a node needs to be
	// recommended.
	minCapacity btcutil.Amount

	// minDegree is the smallest number of channels a node needs to be
	// recommended.
	minDegree int

	// ignore is the set of nodes the operator never wants recommended,
	// for example because channels to them are already pending.
	ignore map[NodeID]struct{}

	tieEpsilon     float64
	tieBreakRandom bool
}

// A compile time assertion to ensure recConstraints satisfies the Constraints
// interface.
var _ Constraints = (*recConstraints)(nil)

// NewConstraints returns a new Constraints with the given limits.
func NewConstraints(self NodeID, topK int, minCapacity btcutil.Amount,
	minDegree int, ignore []NodeID, tieEpsilon float64,
	tieBreakRandom bool) Constraints {

	ignoreSet := make(map[NodeID]struct{}, len(ignore))
	for _, id := range ignore {
		ignoreSet[id] = struct{}{}
	}

	return &recConstraints{
		self:           self,
		topK:           topK,
		minCapacity:    minCapacity,
		minDegree:      minDegree,
		ignore:         ignoreSet,
		tieEpsilon:     tieEpsilon,
		tieBreakRandom: tieBreakRandom,
	}
}

// Excluded returns true if the node is the operator's own node, is already
// connected to it, is ignored, is unknown to the snapshot, or fails one of
// the minimum thresholds.
//
// Note: part of the Constraints interface.
func (c *recConstraints) Excluded(g *Snapshot, id NodeID) (bool, string) {
	switch {
	case id == c.self:
		return true, "self"

	case !g.HasNode(id):
		return true, "not in snapshot"

	case g.Connected(c.self, id):
		return true, "already connected"
	}

	if _, ok := c.ignore[id]; ok {
		return true, "ignored"
	}

	switch {
	case g.TotalCapacity(id) < c.minCapacity:
		return true, "below min capacity"

	case g.Degree(id) < c.minDegree:
		return true, "below min degree"
	}

	return false, ""
}

// TopK returns the maximum number of recommendations to publish.
//
// Note: part of the Constraints interface.
func (c *recConstraints) TopK() int {
	return c.topK
}

// TieEpsilon returns the distance under which two combined scores are
// considered tied.
//
// Note: part of the Constraints interface.
func (c *recConstraints) TieEpsilon() float64 {
	return c.tieEpsilon
}

// TieBreakRandom returns true if ties are broken by the random contribution
// first.
//
// Note: part of the Constraints interface.
func (c *recConstraints) TieBreakRandom() bool {
	return c.tieBreakRandom
}
