// Package results folds transition events into per-day time series.
package results

import (
	"fmt"

	"github.com/sarchlab/episim/timing"
)

// Kind tells how a channel's values are to be read.
type Kind int

// Channel kinds.
const (
	// Incidence counts transitions into a state on each day.
	Incidence Kind = iota

	// Prevalence counts agents occupying a state at the end of each day.
	Prevalence

	// Cumulative counts transitions into a state up to and including each
	// day.
	Cumulative
)

func (k Kind) String() string {
	switch k {
	case Incidence:
		return "incidence"
	case Prevalence:
		return "prevalence"
	case Cumulative:
		return "cumulative"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// A Channel is a named, fixed-length series indexed by day. Its length is
// the simulation duration plus one.
type Channel struct {
	name   string
	kind   Kind
	values []int
	frozen bool
}

func newChannel(name string, kind Kind, duration timing.Day) *Channel {
	return &Channel{
		name:   name,
		kind:   kind,
		values: make([]int, int(duration)+1),
	}
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Kind returns the channel kind.
func (c *Channel) Kind() Kind { return c.kind }

// Len returns the number of days in the channel.
func (c *Channel) Len() int { return len(c.values) }

// At returns the value on day d.
func (c *Channel) At(d timing.Day) int {
	return c.values[d]
}

// Values returns a copy of the series.
func (c *Channel) Values() []int {
	out := make([]int, len(c.values))
	copy(out, c.values)

	return out
}

// Sum returns the total over all days.
func (c *Channel) Sum() int {
	total := 0
	for _, v := range c.values {
		total += v
	}

	return total
}

// Peak returns the largest value and the first day it occurs on.
func (c *Channel) Peak() (value int, day timing.Day) {
	for d, v := range c.values {
		if v > value {
			value, day = v, timing.Day(d)
		}
	}

	return value, day
}

// FirstNonZero returns the first day with a non-zero value, or timing.NoDay.
func (c *Channel) FirstNonZero() timing.Day {
	for d, v := range c.values {
		if v != 0 {
			return timing.Day(d)
		}
	}

	return timing.NoDay
}

// LastNonZero returns the last day with a non-zero value, or timing.NoDay.
func (c *Channel) LastNonZero() timing.Day {
	for d := len(c.values) - 1; d >= 0; d-- {
		if c.values[d] != 0 {
			return timing.Day(d)
		}
	}

	return timing.NoDay
}

// IsFrozen returns true once the run has completed.
func (c *Channel) IsFrozen() bool {
	return c.frozen
}

func (c *Channel) mustBeWritable() {
	if c.frozen {
		panic("results: channel " + c.name + " is frozen")
	}
}

func (c *Channel) add(d timing.Day, n int) {
	c.mustBeWritable()
	c.values[d] += n
}

func (c *Channel) set(d timing.Day, v int) {
	c.mustBeWritable()
	c.values[d] = v
}
