package progression

import (
	"github.com/sarchlab/episim/sampling"
	"github.com/sarchlab/episim/timing"
)

// Agent is the progression record of one simulated person.
type Agent struct {
	ID    int
	Age   int
	State State

	// EnteredOn is the day the agent entered its current state.
	EnteredOn timing.Day

	// NextTransition is the day the next transition fires, or timing.NoDay.
	NextTransition timing.Day

	Outcome Outcome

	stream *sampling.Stream
}

// TransitionEvent records one agent changing state on one day.
type TransitionEvent struct {
	AgentID int
	From    State
	To      State
	Day     timing.Day
}

// next returns the state the agent moves to when its scheduled transition
// fires.
func (a *Agent) next() State {
	switch a.State {
	case Exposed:
		return Infectious
	case Infectious:
		if a.Outcome == WillDie {
			return Dead
		}

		return Recovered
	default:
		panic("progression: agent " + a.State.String() + " has no scheduled transition")
	}
}
