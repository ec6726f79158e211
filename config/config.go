// Package config loads and validates simulation parameters. Values come from
// defaults, then an optional YAML file, then EPISIM_* environment variables
// (optionally read from .env files).
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/episim/progression"
	"github.com/sarchlab/episim/sampling"
)

// AgeBracket is one row of the age-weighted fatality table.
type AgeBracket struct {
	MinAge int     `json:"min_age" yaml:"min_age"`
	CFR    float64 `json:"cfr" yaml:"cfr"`
}

// Config holds every recognized simulation option.
type Config struct {
	NumberSimulatedDays int `json:"number_simulated_days" yaml:"number_simulated_days"`

	PopulationSize  int `json:"population_size" yaml:"population_size"`
	InitialInfected int `json:"initial_infected" yaml:"initial_infected"`
	MinAge          int `json:"min_age" yaml:"min_age"`
	MaxAge          int `json:"max_age" yaml:"max_age"`

	ExposedToInfectious       float64 `json:"exposed_to_infectious" yaml:"exposed_to_infectious"`
	ExposedToInfectiousStd    float64 `json:"exposed_to_infectious_std" yaml:"exposed_to_infectious_std"`
	InfectiousnessDuration    float64 `json:"infectiousness_duration" yaml:"infectiousness_duration"`
	InfectiousnessDurationStd float64 `json:"infectiousness_duration_std" yaml:"infectiousness_duration_std"`
	TimeToDeath               float64 `json:"time_to_death" yaml:"time_to_death"`
	TimeToDeathStd            float64 `json:"time_to_death_std" yaml:"time_to_death_std"`

	// DelayFamily is "normal" (default) or "lognormal".
	DelayFamily string `json:"delay_family" yaml:"delay_family"`

	UseCFRByAge bool         `json:"use_cfr_by_age" yaml:"use_cfr_by_age"`
	DefaultCFR  float64      `json:"default_cfr" yaml:"default_cfr"`
	CFRByAge    []AgeBracket `json:"cfr_by_age,omitempty" yaml:"cfr_by_age,omitempty"`

	// RandomSeed is optional; nil draws a fresh seed per run.
	RandomSeed *uint64 `json:"random_seed,omitempty" yaml:"random_seed,omitempty"`

	Workers  int    `json:"workers" yaml:"workers"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// Default returns a Config with the default parameter set.
func Default() *Config {
	return &Config{
		NumberSimulatedDays:       60,
		PopulationSize:            1000,
		InitialInfected:           10,
		MinAge:                    0,
		MaxAge:                    90,
		ExposedToInfectious:       4.5,
		ExposedToInfectiousStd:    1.5,
		InfectiousnessDuration:    8,
		InfectiousnessDurationStd: 2,
		TimeToDeath:               14,
		TimeToDeathStd:            4,
		DelayFamily:               "normal",
		UseCFRByAge:               false,
		DefaultCFR:                0.02,
		Workers:                   1,
		LogLevel:                  "info",
	}
}

// LoadFromFile reads a YAML file over the defaults. Unknown keys are
// rejected.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	defer f.Close()

	c := Default()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return c, nil
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment. Variables in the given .env files
// are loaded first but never override variables already set.
func Load(path string, dotenvFiles ...string) (*Config, error) {
	c := Default()

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}

		c = fileConfig
	}

	if err := loadDotEnv(dotenvFiles); err != nil {
		return nil, err
	}

	if err := c.ApplyEnv(); err != nil {
		return nil, err
	}

	return c, nil
}

func loadDotEnv(files []string) error {
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}

	if len(present) == 0 {
		return nil
	}

	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("loading env files: %w", err)
	}

	return nil
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EPISIM_"

// ApplyEnv overrides fields from EPISIM_<KEY> variables, where KEY is the
// upper-cased YAML key. A malformed value is an error.
func (c *Config) ApplyEnv() error {
	ints := map[string]*int{
		"NUMBER_SIMULATED_DAYS": &c.NumberSimulatedDays,
		"POPULATION_SIZE":       &c.PopulationSize,
		"INITIAL_INFECTED":      &c.InitialInfected,
		"MIN_AGE":               &c.MinAge,
		"MAX_AGE":               &c.MaxAge,
		"WORKERS":               &c.Workers,
	}
	floats := map[string]*float64{
		"EXPOSED_TO_INFECTIOUS":       &c.ExposedToInfectious,
		"EXPOSED_TO_INFECTIOUS_STD":   &c.ExposedToInfectiousStd,
		"INFECTIOUSNESS_DURATION":     &c.InfectiousnessDuration,
		"INFECTIOUSNESS_DURATION_STD": &c.InfectiousnessDurationStd,
		"TIME_TO_DEATH":               &c.TimeToDeath,
		"TIME_TO_DEATH_STD":           &c.TimeToDeathStd,
		"DEFAULT_CFR":                 &c.DefaultCFR,
	}

	for key, dst := range ints {
		if v, ok := lookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	for key, dst := range floats {
		if v, ok := lookupEnv(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = f
		}
	}

	if v, ok := lookupEnv("USE_CFR_BY_AGE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sUSE_CFR_BY_AGE: %w", EnvPrefix, err)
		}
		c.UseCFRByAge = b
	}

	if v, ok := lookupEnv("RANDOM_SEED"); ok {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sRANDOM_SEED: %w", EnvPrefix, err)
		}
		c.RandomSeed = &seed
	}

	if v, ok := lookupEnv("DELAY_FAMILY"); ok {
		c.DelayFamily = v
	}

	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		c.LogLevel = v
	}

	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}

	return strings.TrimSpace(v), true
}

// SetSeed fixes the random seed.
func (c *Config) SetSeed(seed uint64) {
	c.RandomSeed = &seed
}

// Seed returns the configured seed and whether one is set.
func (c *Config) Seed() (sampling.Seed, bool) {
	if c.RandomSeed == nil {
		return 0, false
	}

	return sampling.Seed(*c.RandomSeed), true
}

// Error is a configuration validation failure.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration before anything runs. The returned error
// is a *Error.
func (c *Config) Validate() error {
	if c.NumberSimulatedDays <= 0 {
		return invalid("number_simulated_days", "must be > 0, got %d", c.NumberSimulatedDays)
	}

	if c.PopulationSize < 0 {
		return invalid("population_size", "must be >= 0, got %d", c.PopulationSize)
	}

	if c.InitialInfected < 0 || c.InitialInfected > c.PopulationSize {
		return invalid("initial_infected", "must be in [0, %d], got %d",
			c.PopulationSize, c.InitialInfected)
	}

	if c.MinAge < 0 || c.MaxAge < c.MinAge {
		return invalid("min_age", "invalid age range [%d, %d]", c.MinAge, c.MaxAge)
	}

	delays := []struct {
		field     string
		mean, std float64
	}{
		{"exposed_to_infectious", c.ExposedToInfectious, c.ExposedToInfectiousStd},
		{"infectiousness_duration", c.InfectiousnessDuration, c.InfectiousnessDurationStd},
		{"time_to_death", c.TimeToDeath, c.TimeToDeathStd},
	}
	for _, d := range delays {
		if err := (sampling.Distribution{Mean: d.mean, Std: d.std}).Validate(); err != nil {
			return invalid(d.field, "%v", err)
		}
	}

	if _, err := sampling.ParseFamily(c.DelayFamily); err != nil {
		return invalid("delay_family", "%v", err)
	}

	if math.IsNaN(c.DefaultCFR) || c.DefaultCFR < 0 || c.DefaultCFR > 1 {
		return invalid("default_cfr", "must be in [0, 1], got %v", c.DefaultCFR)
	}

	if c.UseCFRByAge && len(c.CFRByAge) > 0 {
		if err := c.ageTable().Validate(); err != nil {
			return invalid("cfr_by_age", "%v", err)
		}
	}

	if c.Workers < 1 {
		return invalid("workers", "must be >= 1, got %d", c.Workers)
	}

	return nil
}

// IsError reports whether err is a configuration error.
func IsError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr)
}

func (c *Config) ageTable() progression.AgeCFR {
	if len(c.CFRByAge) == 0 {
		return progression.DefaultAgeCFR()
	}

	t := progression.AgeCFR{}
	for _, b := range c.CFRByAge {
		t.MinAges = append(t.MinAges, b.MinAge)
		t.Rates = append(t.Rates, b.CFR)
	}

	return t
}

// ProgressionParams converts the configuration into engine parameters. The
// configuration must be valid.
func (c *Config) ProgressionParams() (progression.Params, error) {
	if err := c.Validate(); err != nil {
		return progression.Params{}, err
	}

	family, _ := sampling.ParseFamily(c.DelayFamily)

	p := progression.Params{
		ExposedToInfectious: sampling.Distribution{
			Mean: c.ExposedToInfectious, Std: c.ExposedToInfectiousStd, Family: family,
		},
		InfectiousDuration: sampling.Distribution{
			Mean: c.InfectiousnessDuration, Std: c.InfectiousnessDurationStd, Family: family,
		},
		TimeToDeath: sampling.Distribution{
			Mean: c.TimeToDeath, Std: c.TimeToDeathStd, Family: family,
		},
		Fatality: progression.FlatCFR(c.DefaultCFR),
	}

	if c.UseCFRByAge {
		p.Fatality = c.ageTable()
	}

	return p, nil
}
