// Package population builds the initial population handed to the progression
// engine: agent ages and the agents seeded into a non-susceptible state on day
// 0.
package population

import (
	"errors"
	"fmt"

	"github.com/sarchlab/episim/progression"
	"github.com/sarchlab/episim/sampling"
	"github.com/sarchlab/episim/timing"
)

// streamKey keeps the population draws apart from the per-agent streams,
// which are keyed by agent index.
const streamKey = 1 << 63

// Forced is an agent that starts the simulation outside Susceptible.
type Forced struct {
	AgentID int
	State   progression.State
}

// Population is the initial population.
type Population struct {
	Ages   []int
	Forced []Forced
}

// Size returns the number of agents.
func (p Population) Size() int {
	return len(p.Ages)
}

// Seed applies the forced states to an engine on the given day.
func (p Population) Seed(e *progression.Engine, day timing.Day) error {
	if e.NumAgents() != p.Size() {
		return fmt.Errorf("population: engine has %d agents, population has %d",
			e.NumAgents(), p.Size())
	}

	for _, f := range p.Forced {
		if err := e.ForceState(f.AgentID, f.State, day); err != nil {
			return fmt.Errorf("population: %w", err)
		}
	}

	return nil
}

type forcedCount struct {
	state progression.State
	n     int
}

// Builder builds populations.
type Builder struct {
	size   int
	ages   []int
	minAge int
	maxAge int
	seed   sampling.Seed
	forced []forcedCount
}

// MakeBuilder creates a builder for an empty population of 40-year-olds.
func MakeBuilder() Builder {
	return Builder{minAge: 40, maxAge: 40}
}

// WithSize sets the number of agents.
func (b Builder) WithSize(n int) Builder {
	b.size = n
	return b
}

// WithAge gives every agent the same age.
func (b Builder) WithAge(age int) Builder {
	b.minAge, b.maxAge = age, age
	b.ages = nil

	return b
}

// WithAgeRange draws ages uniformly from [minAge, maxAge].
func (b Builder) WithAgeRange(minAge, maxAge int) Builder {
	b.minAge, b.maxAge = minAge, maxAge
	b.ages = nil

	return b
}

// WithAges sets explicit ages. The population size becomes len(ages).
func (b Builder) WithAges(ages []int) Builder {
	b.ages = append([]int(nil), ages...)
	b.size = len(ages)

	return b
}

// WithSeed sets the seed used for ages and for picking forced agents.
func (b Builder) WithSeed(seed sampling.Seed) Builder {
	b.seed = seed
	return b
}

// WithInfected seeds n agents as newly infected, that is Exposed on day 0.
func (b Builder) WithInfected(n int) Builder {
	return b.WithForced(progression.Exposed, n)
}

// WithForced seeds n agents directly into state s.
func (b Builder) WithForced(s progression.State, n int) Builder {
	b.forced = append(append([]forcedCount(nil), b.forced...), forcedCount{state: s, n: n})
	return b
}

// Build creates the population. Forced agents are picked at random without
// replacement.
func (b Builder) Build() (Population, error) {
	if err := b.validate(); err != nil {
		return Population{}, err
	}

	stream := sampling.NewStream(b.seed, streamKey)

	p := Population{Ages: b.buildAges(stream)}

	order := stream.Perm(b.size)
	next := 0
	for _, fc := range b.forced {
		for i := 0; i < fc.n; i++ {
			p.Forced = append(p.Forced, Forced{AgentID: order[next], State: fc.state})
			next++
		}
	}

	return p, nil
}

func (b Builder) validate() error {
	if b.size < 0 {
		return fmt.Errorf("population: negative size %d", b.size)
	}

	if b.ages == nil && (b.minAge < 0 || b.maxAge < b.minAge) {
		return fmt.Errorf("population: invalid age range [%d, %d]", b.minAge, b.maxAge)
	}

	total := 0
	for _, fc := range b.forced {
		if fc.state != progression.Exposed && fc.state != progression.Infectious {
			return fmt.Errorf("population: cannot seed agents as %s", fc.state)
		}

		if fc.n < 0 {
			return errors.New("population: negative forced count")
		}

		total += fc.n
	}

	if total > b.size {
		return fmt.Errorf("population: %d forced agents in a population of %d",
			total, b.size)
	}

	return nil
}

func (b Builder) buildAges(stream *sampling.Stream) []int {
	if b.ages != nil {
		return append([]int(nil), b.ages...)
	}

	ages := make([]int, b.size)
	for i := range ages {
		if b.maxAge == b.minAge {
			ages[i] = b.minAge
			continue
		}

		ages[i] = b.minAge + stream.IntN(b.maxAge-b.minAge+1)
	}

	return ages
}
