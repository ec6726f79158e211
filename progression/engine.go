package progression

import (
	"fmt"
	"slices"
	"sync"

	"github.com/sarchlab/episim/instrumentation/hooking"
	"github.com/sarchlab/episim/sampling"
	"github.com/sarchlab/episim/timing"
)

// Hook positions raised by the Engine.
var (
	// HookPosTransition fires once per TransitionEvent. Item is the event.
	HookPosTransition = &hooking.HookPos{Name: "Transition"}

	// HookPosDayAdvanced fires after a day is processed. Item is the day and
	// Detail is the day's []TransitionEvent.
	HookPosDayAdvanced = &hooking.HookPos{Name: "DayAdvanced"}
)

// Batches smaller than this are drawn on the calling goroutine even when
// workers are configured.
const minParallelBatch = 256

// toScheduled marks a step whose destination is taken from the agent's own
// schedule rather than injected from outside.
const toScheduled State = -1

type step struct {
	id int
	to State
}

// Engine owns the population and advances it one day at a time.
//
// Due transitions are kept in per-day buckets, so a day costs time
// proportional to the transitions it fires, not to the population size.
type Engine struct {
	*hooking.HookableBase

	params  Params
	seed    sampling.Seed
	workers int

	agents   []Agent
	schedule map[timing.Day][]int
	injected map[timing.Day][]step
	pending  int
	counts   [numStates]int
	lastDay  timing.Day
}

// NumAgents returns the population size.
func (e *Engine) NumAgents() int {
	return len(e.agents)
}

// Seed returns the master seed the agents' streams derive from.
func (e *Engine) Seed() sampling.Seed {
	return e.seed
}

// Params returns the progression parameters.
func (e *Engine) Params() Params {
	return e.params
}

// Agent returns a copy of the agent record.
func (e *Engine) Agent(id int) Agent {
	return e.agents[id]
}

// Count returns the number of agents currently in state s.
func (e *Engine) Count(s State) int {
	return e.counts[s]
}

// Counts returns the current occupancy of every state.
func (e *Engine) Counts() map[State]int {
	m := make(map[State]int, numStates)
	for _, s := range AllStates {
		m[s] = e.counts[s]
	}

	return m
}

// Pending returns the number of transitions that are scheduled but have not
// fired yet, including injected ones.
func (e *Engine) Pending() int {
	return e.pending
}

// Idle returns true when nothing is left to fire. Without new exposures the
// population will not change any more.
func (e *Engine) Idle() bool {
	return e.pending == 0
}

// LastDay returns the most recently advanced day, or timing.NoDay.
func (e *Engine) LastDay() timing.Day {
	return e.lastDay
}

// Expose moves a susceptible agent to Exposed on the given day. This is the
// entry point for a transmission model.
func (e *Engine) Expose(id int, day timing.Day) error {
	return e.ForceState(id, Exposed, day)
}

// ForceState seeds a susceptible agent directly into Exposed or Infectious.
// The transition is credited when day is advanced, so day must not have been
// advanced yet.
func (e *Engine) ForceState(id int, to State, day timing.Day) error {
	if id < 0 || id >= len(e.agents) {
		return fmt.Errorf("progression: agent %d out of range [0, %d)", id, len(e.agents))
	}

	if to != Exposed && to != Infectious {
		return fmt.Errorf("progression: cannot force agent %d into %s", id, to)
	}

	if day <= e.lastDay {
		return fmt.Errorf("progression: day %d already advanced (last day %d)", day, e.lastDay)
	}

	a := &e.agents[id]
	if a.State != Susceptible || a.NextTransition != timing.NoDay {
		return fmt.Errorf("progression: agent %d is %s, not susceptible", id, a.State)
	}

	a.NextTransition = day
	e.injected[day] = append(e.injected[day], step{id: id, to: to})
	e.pending++

	return nil
}

// AdvanceOneDay fires every transition scheduled for day and returns the
// resulting events. Days must be advanced consecutively starting at 0.
//
// A transition drawn with a zero delay fires within the same call, after the
// transition that scheduled it. Events of one batch are ordered by agent ID.
func (e *Engine) AdvanceOneDay(day timing.Day) []TransitionEvent {
	if day != e.lastDay+1 {
		panic(fmt.Sprintf(
			"progression: cannot advance to day %d after day %d", day, e.lastDay))
	}

	e.lastDay = day

	work := e.takeInjected(day)
	work = append(work, e.takeDue(day)...)

	var events []TransitionEvent
	for len(work) > 0 {
		slices.SortFunc(work, func(a, b step) int { return a.id - b.id })

		batch := e.fireAll(work, day)
		work = work[:0]

		for _, evt := range batch {
			e.counts[evt.From]--
			e.counts[evt.To]++

			a := &e.agents[evt.AgentID]
			switch {
			case a.NextTransition == timing.NoDay:
			case a.NextTransition == day:
				work = append(work, step{id: a.ID, to: toScheduled})
			default:
				e.schedule[a.NextTransition] = append(e.schedule[a.NextTransition], a.ID)
				e.pending++
			}

			if e.NumHooks() > 0 {
				e.InvokeHook(hooking.HookCtx{
					Domain: e,
					Pos:    HookPosTransition,
					Item:   evt,
				})
			}
		}

		events = append(events, batch...)
	}

	e.InvokeHook(hooking.HookCtx{
		Domain: e,
		Pos:    HookPosDayAdvanced,
		Item:   day,
		Detail: events,
	})

	return events
}

func (e *Engine) takeInjected(day timing.Day) []step {
	work := e.injected[day]
	delete(e.injected, day)
	e.pending -= len(work)

	return work
}

func (e *Engine) takeDue(day timing.Day) []step {
	ids := e.schedule[day]
	delete(e.schedule, day)
	e.pending -= len(ids)

	work := make([]step, len(ids))
	for i, id := range ids {
		if e.agents[id].NextTransition != day {
			panic(fmt.Sprintf(
				"progression: agent %d filed under day %d but scheduled for day %d",
				id, day, e.agents[id].NextTransition))
		}

		work[i] = step{id: id, to: toScheduled}
	}

	return work
}

// fireAll performs the state change and the next draw for every step. Each
// step touches only its own agent, so the steps may run on several
// goroutines.
func (e *Engine) fireAll(work []step, day timing.Day) []TransitionEvent {
	events := make([]TransitionEvent, len(work))

	run := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			events[i] = e.fire(work[i], day)
		}
	}

	if e.workers <= 1 || len(work) < minParallelBatch {
		run(0, len(work))
		return events
	}

	chunk := (len(work) + e.workers - 1) / e.workers

	var wg sync.WaitGroup
	for lo := 0; lo < len(work); lo += chunk {
		hi := min(lo+chunk, len(work))

		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			run(lo, hi)
		}(lo, hi)
	}
	wg.Wait()

	return events
}

func (e *Engine) fire(s step, day timing.Day) TransitionEvent {
	a := &e.agents[s.id]
	from := a.State

	to := s.to
	if to == toScheduled {
		to = a.next()
	}

	e.enter(a, to, day)

	return TransitionEvent{AgentID: a.ID, From: from, To: to, Day: day}
}

// enter puts the agent into state s on day and draws the delay of the
// transition out of s.
func (e *Engine) enter(a *Agent, s State, day timing.Day) {
	a.State = s
	a.EnteredOn = day
	a.NextTransition = timing.NoDay

	if s.IsTerminal() {
		return
	}

	if a.stream == nil {
		a.stream = sampling.NewStream(e.seed, uint64(a.ID))
	}

	var delay int
	switch s {
	case Exposed:
		delay = e.params.ExposedToInfectious.Sample(a.stream)
	case Infectious:
		p := e.params.Fatality.FatalityProbability(a.Age)
		if sampling.Bernoulli(a.stream, p) {
			a.Outcome = WillDie
			delay = e.params.TimeToDeath.Sample(a.stream)
		} else {
			a.Outcome = WillRecover
			delay = e.params.InfectiousDuration.Sample(a.stream)
		}
	}

	a.NextTransition = day + timing.Day(delay)
}
