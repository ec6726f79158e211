// Package progression implements the per-agent disease-progression state
// machine and the engine that advances a population through it one day at a
// time.
//
//	Susceptible -> Exposed      (external, see Engine.Expose)
//	Exposed     -> Infectious   (exposed-to-infectious delay)
//	Infectious  -> Recovered    (infectious-duration delay), or
//	Infectious  -> Dead         (time-to-death delay)
//
// Recovered and Dead are terminal.
package progression

import "fmt"

// State is the disease state of an agent.
type State int8

// The states an agent moves through.
const (
	Susceptible State = iota
	Exposed
	Infectious
	Recovered
	Dead

	numStates
)

// AllStates lists every state in progression order.
var AllStates = []State{Susceptible, Exposed, Infectious, Recovered, Dead}

func (s State) String() string {
	switch s {
	case Susceptible:
		return "Susceptible"
	case Exposed:
		return "Exposed"
	case Infectious:
		return "Infectious"
	case Recovered:
		return "Recovered"
	case Dead:
		return "Dead"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsTerminal returns true for states with no outgoing transition.
func (s State) IsTerminal() bool {
	return s == Recovered || s == Dead
}

// Outcome is the branch an agent takes when it leaves Infectious. It is set
// once when the agent becomes infectious and never re-drawn.
type Outcome int8

// Possible outcomes.
const (
	Undecided Outcome = iota
	WillRecover
	WillDie
)

func (o Outcome) String() string {
	switch o {
	case Undecided:
		return "undecided"
	case WillRecover:
		return "will-recover"
	case WillDie:
		return "will-die"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}
