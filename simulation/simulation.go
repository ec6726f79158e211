// Package simulation runs a population through the disease progression state
// machine for a fixed number of days and collects the result channels.
package simulation

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/sarchlab/episim/datarecording"
	"github.com/sarchlab/episim/instrumentation/hooking"
	"github.com/sarchlab/episim/population"
	"github.com/sarchlab/episim/progression"
	"github.com/sarchlab/episim/results"
	"github.com/sarchlab/episim/sampling"
	"github.com/sarchlab/episim/timing"
)

// A Simulation is a single run. It can be run once.
type Simulation struct {
	id       string
	seed     sampling.Seed
	duration timing.Day

	population  population.Population
	engine      *timing.SerialEngine
	progression *progression.Engine
	aggregator  *results.Aggregator
	clock       *Clock

	dataRecorder     datarecording.DataRecorder
	transitionBuffer *transitionBuffer
	logger           *slog.Logger

	runLock sync.Mutex
	ran     bool
}

// ID returns the run id.
func (s *Simulation) ID() string {
	return s.id
}

// Seed returns the master seed. Running again with this seed and the same
// parameters reproduces the results.
func (s *Simulation) Seed() sampling.Seed {
	return s.seed
}

// Duration returns the last simulated day.
func (s *Simulation) Duration() timing.Day {
	return s.duration
}

// Population returns the initial population.
func (s *Simulation) Population() population.Population {
	return s.population
}

// GetEngine returns the event engine that drives the day ticks.
func (s *Simulation) GetEngine() *timing.SerialEngine {
	return s.engine
}

// GetProgression returns the progression engine that owns the agents.
func (s *Simulation) GetProgression() *progression.Engine {
	return s.progression
}

// GetAggregator returns the aggregator that collects the channels.
func (s *Simulation) GetAggregator() *results.Aggregator {
	return s.aggregator
}

// GetClock returns the day clock.
func (s *Simulation) GetClock() *Clock {
	return s.clock
}

// AcceptHook registers a hook on the progression engine.
func (s *Simulation) AcceptHook(h hooking.Hook) {
	s.progression.AcceptHook(h)
}

// Run simulates every day and returns the frozen results. A run is atomic:
// if a tick fails or panics, or the run cannot be recorded, Run returns an
// error and no results, and the entries of the run are discarded from the
// data recorder.
func (s *Simulation) Run() (res *results.Results, err error) {
	s.runLock.Lock()
	defer s.runLock.Unlock()

	if s.ran {
		return nil, errors.New("simulation: already run")
	}

	s.ran = true

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("simulation: run %s aborted: %v", s.id, r)
		}

		if err != nil && s.dataRecorder != nil {
			err = errors.Join(err, s.dataRecorder.Discard())
		}

		if err != nil {
			s.logger.Error("simulation failed", "run", s.id, "error", err)
		}
	}()

	var runRecorder *datarecording.RunRecorder
	if s.dataRecorder != nil {
		runRecorder = datarecording.NewRunRecorder(s.dataRecorder, s.id)
		runRecorder.Start()
	}

	s.logger.Info("simulation started",
		"run", s.id,
		"seed", uint64(s.seed),
		"agents", s.population.Size(),
		"forced", len(s.population.Forced),
		"days", int(s.duration))

	if err := s.population.Seed(s.progression, 0); err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}

	s.clock.Start()

	if err := s.engine.Run(); err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}

	if err := s.aggregator.CheckConservation(); err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}

	res = s.aggregator.Freeze()

	summary := res.Summary()
	s.logger.Info("simulation completed",
		"run", s.id,
		"last_day", int(s.clock.NextDay()-1),
		"stopped_early", s.clock.StoppedEarly(),
		"ever_infectious", summary.EverInfectious,
		"recovered", summary.Recovered,
		"dead", summary.Dead,
		"peak_infectious", summary.PeakInfectious,
		"peak_day", int(summary.PeakDay))

	if runRecorder != nil {
		if err := s.record(runRecorder, res); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func (s *Simulation) record(
	runRecorder *datarecording.RunRecorder,
	res *results.Results,
) error {
	s.dataRecorder.CreateTable(datarecording.ChannelTable, datarecording.ChannelValue{})

	for _, c := range res.Channels() {
		for day, v := range c.Values() {
			s.dataRecorder.InsertData(datarecording.ChannelTable, datarecording.ChannelValue{
				RunID:   s.id,
				Channel: c.Name(),
				Day:     day,
				Value:   v,
			})
		}
	}

	if s.transitionBuffer != nil {
		s.dataRecorder.CreateTable(datarecording.TransitionTable, datarecording.Transition{})

		for _, evt := range s.transitionBuffer.events {
			s.dataRecorder.InsertData(datarecording.TransitionTable, datarecording.Transition{
				RunID:     s.id,
				Day:       int(evt.Day),
				AgentID:   evt.AgentID,
				FromState: evt.From.String(),
				ToState:   evt.To.String(),
			})
		}
	}

	summary := res.Summary()
	runRecorder.Set("Run ID", s.id)
	runRecorder.Set("Seed", strconv.FormatUint(uint64(s.seed), 10))
	runRecorder.Set("Agents", strconv.Itoa(s.population.Size()))
	runRecorder.Set("Days", strconv.Itoa(int(s.duration)))
	runRecorder.Set("Ever Infectious", strconv.Itoa(summary.EverInfectious))
	runRecorder.Set("Recovered", strconv.Itoa(summary.Recovered))
	runRecorder.Set("Dead", strconv.Itoa(summary.Dead))

	if err := runRecorder.End(); err != nil {
		return fmt.Errorf("simulation: recording run %s: %w", s.id, err)
	}

	return nil
}

// transitionBuffer keeps the transitions in memory so that nothing is written
// while days are being simulated.
type transitionBuffer struct {
	events []progression.TransitionEvent
}

func (b *transitionBuffer) Func(ctx hooking.HookCtx) {
	if ctx.Pos != progression.HookPosTransition {
		return
	}

	if evt, ok := ctx.Item.(progression.TransitionEvent); ok {
		b.events = append(b.events, evt)
	}
}
