package results

import (
	"github.com/sarchlab/episim/progression"
	"github.com/sarchlab/episim/timing"
)

// Summary holds the headline numbers of a run.
type Summary struct {
	Population      int
	EverExposed     int
	EverInfectious  int
	Recovered       int
	Dead            int
	StillInfectious int
	PeakInfectious  int
	PeakDay         timing.Day
}

// Results is the read-only view of the channels of a completed run.
type Results struct {
	duration timing.Day
	channels []*Channel
	byName   map[string]*Channel
	summary  Summary
}

func newResults(a *Aggregator) *Results {
	peak, peakDay := a.byName[InfectiousAtTimestep].Peak()

	return &Results{
		duration: a.duration,
		channels: a.channels,
		byName:   a.byName,
		summary: Summary{
			Population:      a.population,
			EverExposed:     a.entered[progression.Exposed],
			EverInfectious:  a.entered[progression.Infectious],
			Recovered:       a.entered[progression.Recovered],
			Dead:            a.entered[progression.Dead],
			StillInfectious: a.balance[progression.Infectious],
			PeakInfectious:  peak,
			PeakDay:         peakDay,
		},
	}
}

// Duration returns the last day of every channel.
func (r *Results) Duration() timing.Day {
	return r.duration
}

// Names returns the channel names in report order.
func (r *Results) Names() []string {
	names := make([]string, len(r.channels))
	for i, c := range r.channels {
		names[i] = c.name
	}

	return names
}

// Channel returns the named channel.
func (r *Results) Channel(name string) (*Channel, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Values returns a copy of the named series, or nil if there is no such
// channel.
func (r *Results) Values(name string) []int {
	c, ok := r.byName[name]
	if !ok {
		return nil
	}

	return c.Values()
}

// Channels returns every channel in report order.
func (r *Results) Channels() []*Channel {
	out := make([]*Channel, len(r.channels))
	copy(out, r.channels)

	return out
}

// Summary returns the headline numbers.
func (r *Results) Summary() Summary {
	return r.summary
}
