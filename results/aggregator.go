package results

import (
	"fmt"
	"sync"

	"github.com/sarchlab/episim/progression"
	"github.com/sarchlab/episim/timing"
)

// Aggregator folds the transition events of each day into channels.
//
// Prevalence is kept as a running balance per state: +1 when an agent enters
// the state, -1 when it leaves. The balance at the end of a day is the
// prevalence of that day and of every following day until the next fold.
//
// Snapshot and the other readers may be called from other goroutines while
// days are being folded.
type Aggregator struct {
	lock sync.RWMutex

	duration   timing.Day
	population int

	channels []*Channel
	byName   map[string]*Channel
	byState  [][]*Channel

	balance    []int
	entered    []int
	lastFolded timing.Day
	frozen     bool
}

// NewAggregator creates channels for days 0..duration over a population that
// starts all Susceptible.
func NewAggregator(duration timing.Day, population int) *Aggregator {
	if duration < 0 {
		panic(fmt.Sprintf("results: negative duration %d", duration))
	}

	numStates := len(progression.AllStates)
	a := &Aggregator{
		duration:   duration,
		population: population,
		byName:     make(map[string]*Channel),
		byState:    make([][]*Channel, numStates),
		balance:    make([]int, numStates),
		entered:    make([]int, numStates),
		lastFolded: timing.NoDay,
	}

	for _, spec := range channelSpecs {
		c := newChannel(spec.name, spec.kind, duration)
		a.channels = append(a.channels, c)
		a.byName[spec.name] = c
		a.byState[spec.state] = append(a.byState[spec.state], c)
	}

	a.balance[progression.Susceptible] = population

	return a
}

// Duration returns the last day of the channels.
func (a *Aggregator) Duration() timing.Day {
	return a.duration
}

// Fold adds the events of one day. Days must be folded in increasing order;
// days that are skipped keep the previous prevalence and see no incidence.
func (a *Aggregator) Fold(day timing.Day, events []progression.TransitionEvent) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.frozen {
		panic("results: fold after the run has completed")
	}

	if day <= a.lastFolded || day > a.duration {
		panic(fmt.Sprintf(
			"results: cannot fold day %d (last folded %d, duration %d)",
			day, a.lastFolded, a.duration))
	}

	a.carryForward(day)

	for _, evt := range events {
		if evt.Day != day {
			panic(fmt.Sprintf(
				"results: event of agent %d is for day %d, folding day %d",
				evt.AgentID, evt.Day, day))
		}

		a.balance[evt.From]--
		a.balance[evt.To]++
		a.entered[evt.To]++

		if a.balance[evt.From] < 0 {
			panic(fmt.Sprintf(
				"results: %s prevalence negative on day %d", evt.From, day))
		}

		for _, c := range a.byState[evt.To] {
			if c.kind == Incidence {
				c.add(day, 1)
			}
		}
	}

	a.writeBalances(day)
	a.lastFolded = day
}

// carryForward fills the days between the last fold and upTo (exclusive).
func (a *Aggregator) carryForward(upTo timing.Day) {
	for d := a.lastFolded + 1; d < upTo; d++ {
		a.writeBalances(d)
	}
}

func (a *Aggregator) writeBalances(day timing.Day) {
	for s, channels := range a.byState {
		for _, c := range channels {
			switch c.kind {
			case Prevalence:
				c.set(day, a.balance[s])
			case Cumulative:
				c.set(day, a.entered[s])
			}
		}
	}
}

// Current returns the number of agents in s after the last fold.
func (a *Aggregator) Current(s progression.State) int {
	a.lock.RLock()
	defer a.lock.RUnlock()

	return a.balance[s]
}

// EverEntered returns how many transitions into s have been folded.
func (a *Aggregator) EverEntered(s progression.State) int {
	a.lock.RLock()
	defer a.lock.RUnlock()

	return a.entered[s]
}

// LastFolded returns the most recently folded day, or timing.NoDay.
func (a *Aggregator) LastFolded() timing.Day {
	a.lock.RLock()
	defer a.lock.RUnlock()

	return a.lastFolded
}

// Snapshot returns the named channel up to the last folded day. It is used to
// inspect a run in progress.
func (a *Aggregator) Snapshot(name string) ([]int, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	c, ok := a.byName[name]
	if !ok {
		return nil, false
	}

	return append([]int(nil), c.values[:a.lastFolded+1]...), true
}

// CheckConservation verifies that every agent that became infectious is
// accounted for as recovered, dead or still infectious, and that no agent
// was lost.
func (a *Aggregator) CheckConservation() error {
	a.lock.RLock()
	defer a.lock.RUnlock()

	recovered := a.byName[RecoveredAtTimestep].Sum()
	deaths := a.byName[DeathsDaily].Sum()
	infectious := a.balance[progression.Infectious]
	everInfectious := a.entered[progression.Infectious]

	if recovered+deaths+infectious != everInfectious {
		return fmt.Errorf(
			"results: %d recovered + %d dead + %d infectious != %d ever infectious",
			recovered, deaths, infectious, everInfectious)
	}

	total := 0
	for _, n := range a.balance {
		total += n
	}

	if total != a.population {
		return fmt.Errorf("results: %d agents accounted for, population is %d",
			total, a.population)
	}

	return nil
}

// Freeze completes the series, makes every channel read-only and returns the
// read-only view. Calling Freeze twice panics.
func (a *Aggregator) Freeze() *Results {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.frozen {
		panic("results: already frozen")
	}

	a.carryForward(a.duration + 1)
	a.lastFolded = a.duration

	for _, c := range a.channels {
		c.frozen = true
	}

	a.frozen = true

	return newResults(a)
}
