package progression

import (
	"fmt"

	"github.com/sarchlab/episim/instrumentation/hooking"
	"github.com/sarchlab/episim/sampling"
	"github.com/sarchlab/episim/timing"
)

// Builder can build progression engines.
type Builder struct {
	params  Params
	seed    sampling.Seed
	seedSet bool
	workers int
}

// MakeBuilder creates a builder with a flat zero fatality ratio and
// one-day deterministic delays.
func MakeBuilder() Builder {
	return Builder{
		params: Params{
			ExposedToInfectious: sampling.Fixed(1),
			InfectiousDuration:  sampling.Fixed(1),
			TimeToDeath:         sampling.Fixed(1),
			Fatality:            FlatCFR(0),
		},
		workers: 1,
	}
}

// WithParams sets the delay distributions and fatality model.
func (b Builder) WithParams(p Params) Builder {
	b.params = p
	return b
}

// WithSeed sets the master seed. Without it a random seed is drawn at Build.
func (b Builder) WithSeed(seed sampling.Seed) Builder {
	b.seed = seed
	b.seedSet = true

	return b
}

// WithWorkers sets how many goroutines draw delays within a day.
func (b Builder) WithWorkers(n int) Builder {
	b.workers = n
	return b
}

// Build creates an engine for a population whose ages are given; every agent
// starts Susceptible.
func (b Builder) Build(ages []int) (*Engine, error) {
	if err := b.params.Validate(); err != nil {
		return nil, fmt.Errorf("progression: %w", err)
	}

	if b.workers < 1 {
		return nil, fmt.Errorf("progression: workers must be at least 1, got %d", b.workers)
	}

	seed := b.seed
	if !b.seedSet {
		seed = sampling.RandomSeed()
	}

	e := &Engine{
		HookableBase: hooking.NewHookableBase(),
		params:       b.params,
		seed:         seed,
		workers:      b.workers,
		agents:       make([]Agent, len(ages)),
		schedule:     make(map[timing.Day][]int),
		injected:     make(map[timing.Day][]step),
		lastDay:      timing.NoDay,
	}

	for i, age := range ages {
		e.agents[i] = Agent{
			ID:             i,
			Age:            age,
			State:          Susceptible,
			EnteredOn:      0,
			NextTransition: timing.NoDay,
		}
	}

	e.counts[Susceptible] = len(ages)

	return e, nil
}
