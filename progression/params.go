package progression

import (
	"errors"
	"fmt"
	"math"

	"github.com/sarchlab/episim/sampling"
)

// Params holds the delay distributions and the fatality model.
type Params struct {
	ExposedToInfectious sampling.Distribution
	InfectiousDuration  sampling.Distribution
	TimeToDeath         sampling.Distribution
	Fatality            FatalityModel
}

// Validate reports the first invalid parameter.
func (p Params) Validate() error {
	dists := []struct {
		name string
		d    sampling.Distribution
	}{
		{"exposed_to_infectious", p.ExposedToInfectious},
		{"infectiousness_duration", p.InfectiousDuration},
		{"time_to_death", p.TimeToDeath},
	}

	for _, d := range dists {
		if err := d.d.Validate(); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}

	switch f := p.Fatality.(type) {
	case nil:
		return errors.New("fatality model is not set")
	case FlatCFR:
		if math.IsNaN(float64(f)) || f < 0 || f > 1 {
			return fmt.Errorf("default_cfr %v is outside [0, 1]", float64(f))
		}
	case AgeCFR:
		if err := f.Validate(); err != nil {
			return fmt.Errorf("cfr_by_age: %w", err)
		}
	}

	return nil
}
