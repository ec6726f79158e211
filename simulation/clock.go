package simulation

import (
	"fmt"

	"github.com/sarchlab/episim/progression"
	"github.com/sarchlab/episim/results"
	"github.com/sarchlab/episim/timing"
)

// DayTick asks the clock to simulate one day.
type DayTick struct {
	Day timing.Day
}

// Clock drives days 0..duration. Each tick advances the progression engine
// and folds the day's events into the aggregator, then schedules the next
// tick.
type Clock struct {
	scheduler   timing.EventScheduler
	progression *progression.Engine
	aggregator  *results.Aggregator

	duration  timing.Day
	next      timing.Day
	earlyStop bool
	stopped   bool
}

// NewClock creates a clock that will simulate days 0..duration.
func NewClock(
	scheduler timing.EventScheduler,
	engine *progression.Engine,
	aggregator *results.Aggregator,
	duration timing.Day,
) *Clock {
	return &Clock{
		scheduler:   scheduler,
		progression: engine,
		aggregator:  aggregator,
		duration:    duration,
	}
}

// Handle processes DayTick events.
func (c *Clock) Handle(event any) error {
	switch e := event.(type) {
	case *DayTick:
		return c.tick(e.Day)
	default:
		return fmt.Errorf("simulation: unknown event type %T", event)
	}
}

// Start schedules the first tick.
func (c *Clock) Start() {
	c.scheduleTick(c.next)
}

// NextDay returns the day the next Advance will simulate.
func (c *Clock) NextDay() timing.Day {
	return c.next
}

// Done returns true when no more days will be simulated, either because the
// duration is reached or because the run stopped early.
func (c *Clock) Done() bool {
	return c.stopped || c.next > c.duration
}

// StoppedEarly returns true if the clock stopped before the duration because
// nothing was left to happen.
func (c *Clock) StoppedEarly() bool {
	return c.stopped
}

// Advance simulates the next day and returns its transitions. Advancing past
// the duration panics.
func (c *Clock) Advance() []progression.TransitionEvent {
	if c.next > c.duration {
		panic(fmt.Sprintf(
			"simulation: cannot advance to day %d, duration is %d days",
			c.next, c.duration))
	}

	day := c.next
	events := c.progression.AdvanceOneDay(day)
	c.aggregator.Fold(day, events)
	c.next++

	return events
}

func (c *Clock) tick(day timing.Day) error {
	if day != c.next {
		return fmt.Errorf("simulation: tick for day %d while day %d is due", day, c.next)
	}

	c.Advance()

	if c.next > c.duration {
		return nil
	}

	if c.earlyStop && c.progression.Idle() {
		c.stopped = true
		return nil
	}

	c.scheduleTick(c.next)

	return nil
}

func (c *Clock) scheduleTick(day timing.Day) {
	c.scheduler.Schedule(timing.ScheduledEvent{
		Event:   &DayTick{Day: day},
		Time:    day,
		Handler: c,
	})
}
