package progression

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// A FatalityModel gives the probability that an infectious agent dies rather
// than recovers.
type FatalityModel interface {
	FatalityProbability(age int) float64
}

// FlatCFR applies the same case-fatality ratio to every agent.
type FlatCFR float64

// FatalityProbability returns the flat ratio.
func (f FlatCFR) FatalityProbability(int) float64 {
	return float64(f)
}

// AgeCFR is a case-fatality table keyed by age bracket. Bracket i covers ages
// in [MinAges[i], MinAges[i+1]).
type AgeCFR struct {
	MinAges []int
	Rates   []float64
}

// DefaultAgeCFR is the age table used when age-weighted fatality is enabled
// and no table is configured.
func DefaultAgeCFR() AgeCFR {
	return AgeCFR{
		MinAges: []int{0, 10, 20, 30, 40, 50, 60, 70, 80},
		Rates: []float64{
			0.00002, 0.00006, 0.0003, 0.0008, 0.0015,
			0.006, 0.022, 0.051, 0.093,
		},
	}
}

// Validate checks that the table is well formed.
func (t AgeCFR) Validate() error {
	if len(t.MinAges) == 0 {
		return errors.New("age table is empty")
	}

	if len(t.MinAges) != len(t.Rates) {
		return fmt.Errorf("age table has %d brackets but %d rates",
			len(t.MinAges), len(t.Rates))
	}

	if t.MinAges[0] != 0 {
		return fmt.Errorf("first age bracket must start at 0, got %d", t.MinAges[0])
	}

	if !sort.IntsAreSorted(t.MinAges) {
		return errors.New("age brackets must be sorted")
	}

	for i, r := range t.Rates {
		if math.IsNaN(r) || r < 0 || r > 1 {
			return fmt.Errorf("rate for bracket %d is %v, outside [0, 1]", i, r)
		}
	}

	return nil
}

// FatalityProbability looks up the bracket containing age.
func (t AgeCFR) FatalityProbability(age int) float64 {
	i := sort.Search(len(t.MinAges), func(i int) bool {
		return t.MinAges[i] > age
	})
	if i == 0 {
		return t.Rates[0]
	}

	return t.Rates[i-1]
}
