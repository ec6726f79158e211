package tracing

import (
	"sync"

	"github.com/sarchlab/episim/instrumentation/hooking"
	"github.com/sarchlab/episim/progression"
)

// Edge is a (from, to) pair of the state machine.
type Edge struct {
	From progression.State
	To   progression.State
}

// TransitionCounter counts transitions per edge.
type TransitionCounter struct {
	lock   sync.Mutex
	edges  []Edge
	counts map[Edge]uint64
}

// NewTransitionCounter creates an empty counter.
func NewTransitionCounter() *TransitionCounter {
	return &TransitionCounter{counts: make(map[Edge]uint64)}
}

// Func counts transition hooks and ignores everything else.
func (c *TransitionCounter) Func(ctx hooking.HookCtx) {
	if ctx.Pos != progression.HookPosTransition {
		return
	}

	evt, ok := ctx.Item.(progression.TransitionEvent)
	if !ok {
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	edge := Edge{From: evt.From, To: evt.To}
	if _, seen := c.counts[edge]; !seen {
		c.edges = append(c.edges, edge)
	}

	c.counts[edge]++
}

// Edges returns the edges seen, in first-seen order.
func (c *TransitionCounter) Edges() []Edge {
	c.lock.Lock()
	defer c.lock.Unlock()

	return append([]Edge(nil), c.edges...)
}

// Count returns how many times the edge was taken.
func (c *TransitionCounter) Count(from, to progression.State) uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.counts[Edge{From: from, To: to}]
}

// Into returns the number of transitions into s.
func (c *TransitionCounter) Into(s progression.State) uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	var total uint64
	for e, n := range c.counts {
		if e.To == s {
			total += n
		}
	}

	return total
}
