package simulation

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rs/xid"

	"github.com/sarchlab/episim/config"
	"github.com/sarchlab/episim/datarecording"
	"github.com/sarchlab/episim/instrumentation/hooking"
	"github.com/sarchlab/episim/instrumentation/tracing"
	"github.com/sarchlab/episim/population"
	"github.com/sarchlab/episim/progression"
	"github.com/sarchlab/episim/results"
	"github.com/sarchlab/episim/sampling"
	"github.com/sarchlab/episim/timing"
)

// Builder can be used to build a simulation.
//
// Every option falls back to the configuration, which defaults to
// config.Default().
type Builder struct {
	cfg *config.Config

	days       int
	daysSet    bool
	params     progression.Params
	paramsSet  bool
	pop        population.Population
	popSet     bool
	seed       sampling.Seed
	seedSet    bool
	workers    int
	workersSet bool

	dataRecorder      datarecording.DataRecorder
	recordTransitions bool
	hooks             []hooking.Hook
	earlyStop         bool
	logger            *slog.Logger
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		cfg: config.Default(),
	}
}

// WithConfig sets the configuration the other options fall back to.
func (b Builder) WithConfig(cfg *config.Config) Builder {
	b.cfg = cfg
	return b
}

// WithDays sets the last simulated day. Days 0..days are simulated.
func (b Builder) WithDays(days int) Builder {
	b.days = days
	b.daysSet = true

	return b
}

// WithParams sets the delay distributions and the fatality model.
func (b Builder) WithParams(p progression.Params) Builder {
	b.params = p
	b.paramsSet = true

	return b
}

// WithPopulation sets the initial population.
func (b Builder) WithPopulation(p population.Population) Builder {
	b.pop = p
	b.popSet = true

	return b
}

// WithSeed sets the master seed.
func (b Builder) WithSeed(seed sampling.Seed) Builder {
	b.seed = seed
	b.seedSet = true

	return b
}

// WithWorkers sets how many goroutines draw delays within a day.
func (b Builder) WithWorkers(n int) Builder {
	b.workers = n
	b.workersSet = true

	return b
}

// WithDataRecorder records the run metadata and the channels once the run
// completes.
func (b Builder) WithDataRecorder(r datarecording.DataRecorder) Builder {
	b.dataRecorder = r
	return b
}

// WithTransitionRecording also records every transition. It requires a data
// recorder.
func (b Builder) WithTransitionRecording() Builder {
	b.recordTransitions = true
	return b
}

// WithHook attaches a hook to the progression engine.
func (b Builder) WithHook(h hooking.Hook) Builder {
	b.hooks = append(append([]hooking.Hook(nil), b.hooks...), h)
	return b
}

// WithEarlyStop stops ticking once no transition is left to fire. The
// remaining days keep the last prevalence and see no incidence.
func (b Builder) WithEarlyStop() Builder {
	b.earlyStop = true
	return b
}

// WithLogger sets the logger. By default nothing is logged.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

// Build validates the options and builds the simulation.
func (b Builder) Build() (*Simulation, error) {
	if b.cfg == nil {
		return nil, errors.New("simulation: nil config")
	}

	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}

	if b.recordTransitions && b.dataRecorder == nil {
		return nil, errors.New("simulation: transition recording needs a data recorder")
	}

	days := b.cfg.NumberSimulatedDays
	if b.daysSet {
		days = b.days
	}

	if days <= 0 {
		return nil, fmt.Errorf("simulation: duration must be > 0 days, got %d", days)
	}

	params, err := b.progressionParams()
	if err != nil {
		return nil, err
	}

	seed := b.masterSeed()

	pop, err := b.population(seed)
	if err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}

	workers := b.cfg.Workers
	if b.workersSet {
		workers = b.workers
	}

	prog, err := progression.MakeBuilder().
		WithParams(params).
		WithSeed(seed).
		WithWorkers(workers).
		Build(pop.Ages)
	if err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}

	for _, h := range b.hooks {
		prog.AcceptHook(h)
	}

	s := &Simulation{
		id:           xid.New().String(),
		seed:         seed,
		duration:     timing.Day(days),
		population:   pop,
		engine:       timing.NewSerialEngine(),
		progression:  prog,
		aggregator:   results.NewAggregator(timing.Day(days), pop.Size()),
		dataRecorder: b.dataRecorder,
		logger:       b.logger,
	}

	if s.logger == nil {
		s.logger = tracing.NewLogger("error", io.Discard)
	}

	s.clock = NewClock(s.engine, s.progression, s.aggregator, s.duration)
	s.clock.earlyStop = b.earlyStop

	if b.recordTransitions {
		s.transitionBuffer = &transitionBuffer{}
		prog.AcceptHook(s.transitionBuffer)
	}

	return s, nil
}

func (b Builder) progressionParams() (progression.Params, error) {
	if b.paramsSet {
		if err := b.params.Validate(); err != nil {
			return progression.Params{}, fmt.Errorf("simulation: %w", err)
		}

		return b.params, nil
	}

	p, err := b.cfg.ProgressionParams()
	if err != nil {
		return progression.Params{}, fmt.Errorf("simulation: %w", err)
	}

	return p, nil
}

func (b Builder) masterSeed() sampling.Seed {
	if b.seedSet {
		return b.seed
	}

	if seed, ok := b.cfg.Seed(); ok {
		return seed
	}

	return sampling.RandomSeed()
}

func (b Builder) population(seed sampling.Seed) (population.Population, error) {
	if b.popSet {
		return b.pop, nil
	}

	return population.MakeBuilder().
		WithSize(b.cfg.PopulationSize).
		WithAgeRange(b.cfg.MinAge, b.cfg.MaxAge).
		WithSeed(seed).
		WithInfected(b.cfg.InitialInfected).
		Build()
}
