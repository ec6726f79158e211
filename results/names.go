package results

import "github.com/sarchlab/episim/progression"

// Channel names.
const (
	SusceptibleAtTimestep = "susceptible_at_timestep"
	ExposedAtTimestep     = "exposed_at_timestep"
	InfectiousAtTimestep  = "infectious_at_timestep"
	ExposedDaily          = "exposed_daily"
	InfectiousDaily       = "infectious_daily"
	RecoveredAtTimestep   = "recovered_at_timestep"
	DeathsDaily           = "deaths_daily"
	CumulativeRecovered   = "cum_recovered"
	CumulativeDeaths      = "cum_deaths"
)

type channelSpec struct {
	name  string
	kind  Kind
	state progression.State
}

// channelSpecs lists every channel in the order they are reported.
var channelSpecs = []channelSpec{
	{SusceptibleAtTimestep, Prevalence, progression.Susceptible},
	{ExposedAtTimestep, Prevalence, progression.Exposed},
	{InfectiousAtTimestep, Prevalence, progression.Infectious},
	{ExposedDaily, Incidence, progression.Exposed},
	{InfectiousDaily, Incidence, progression.Infectious},
	{RecoveredAtTimestep, Incidence, progression.Recovered},
	{DeathsDaily, Incidence, progression.Dead},
	{CumulativeRecovered, Cumulative, progression.Recovered},
	{CumulativeDeaths, Cumulative, progression.Dead},
}

// ChannelNames returns every channel name in report order.
func ChannelNames() []string {
	names := make([]string, len(channelSpecs))
	for i, spec := range channelSpecs {
		names[i] = spec.name
	}

	return names
}

// KindOf returns the kind of the named channel.
func KindOf(name string) (Kind, bool) {
	for _, spec := range channelSpecs {
		if spec.name == name {
			return spec.kind, true
		}
	}

	return 0, false
}
