package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/episim/config"
	"github.com/sarchlab/episim/datarecording"
	"github.com/sarchlab/episim/instrumentation/tracing"
	"github.com/sarchlab/episim/monitoring"
	"github.com/sarchlab/episim/results"
	"github.com/sarchlab/episim/simulation"
)

type runOptions struct {
	*rootOptions

	seed      uint64
	days      int
	agents    int
	infected  int
	workers   int
	minAge    int
	maxAge    int
	cfrByAge  bool
	earlyStop bool

	output      string
	transitions bool
	print       []string

	monitor     bool
	monitorPort int
	open        bool
	hold        bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			opts.applyFlags(cmd, cfg)

			return runSimulation(cmd, opts, cfg)
		},
	}

	f := runCmd.Flags()
	f.Uint64Var(&opts.seed, "seed", 0, "master random seed (random if not set)")
	f.IntVar(&opts.days, "days", 0, "number of simulated days")
	f.IntVar(&opts.agents, "agents", 0, "population size")
	f.IntVar(&opts.infected, "infected", 0, "agents exposed on day 0")
	f.IntVar(&opts.workers, "workers", 0, "goroutines drawing delays within a day")
	f.IntVar(&opts.minAge, "min-age", 0, "youngest agent age")
	f.IntVar(&opts.maxAge, "max-age", 0, "oldest agent age")
	f.BoolVar(&opts.cfrByAge, "cfr-by-age", false, "use the age-weighted fatality table")
	f.BoolVar(&opts.earlyStop, "early-stop", false, "stop once no transition is left to fire")
	f.StringVarP(&opts.output, "output", "o", "", "record the run into this SQLite file")
	f.BoolVar(&opts.transitions, "transitions", false, "also record every transition (needs --output)")
	f.StringSliceVar(&opts.print, "print", nil, "print these channels after the run")
	f.BoolVar(&opts.monitor, "monitor", false, "serve the monitoring API while running")
	f.IntVar(&opts.monitorPort, "monitor-port", 0, "port of the monitoring API (random if not set)")
	f.BoolVar(&opts.open, "open", false, "open the monitoring API in a browser (needs --monitor)")
	f.BoolVar(&opts.hold, "hold", false, "start paused until continued from the monitoring API")

	return runCmd
}

// applyFlags overrides the configuration with the flags given on the command
// line.
func (o *runOptions) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()

	if f.Changed("seed") {
		cfg.SetSeed(o.seed)
	}

	if f.Changed("days") {
		cfg.NumberSimulatedDays = o.days
	}

	if f.Changed("agents") {
		cfg.PopulationSize = o.agents
	}

	if f.Changed("infected") {
		cfg.InitialInfected = o.infected
	}

	if f.Changed("workers") {
		cfg.Workers = o.workers
	}

	if f.Changed("min-age") {
		cfg.MinAge = o.minAge
	}

	if f.Changed("max-age") {
		cfg.MaxAge = o.maxAge
	}

	if f.Changed("cfr-by-age") {
		cfg.UseCFRByAge = o.cfrByAge
	}
}

func runSimulation(cmd *cobra.Command, opts *runOptions, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if opts.transitions && opts.output == "" {
		return errors.New("--transitions needs --output")
	}

	logger := newLogger(cmd, cfg)

	b := simulation.MakeBuilder().
		WithConfig(cfg).
		WithLogger(logger)

	if opts.earlyStop {
		b = b.WithEarlyStop()
	}

	if logger.Enabled(context.Background(), slog.LevelDebug) {
		b = b.WithHook(tracing.NewTransitionLogger(logger))
	}

	if opts.output != "" {
		recorder, err := datarecording.New(opts.output)
		if err != nil {
			return err
		}
		defer recorder.Close()

		b = b.WithDataRecorder(recorder)

		if opts.transitions {
			b = b.WithTransitionRecording()
		}
	}

	var registry *prometheus.Registry
	if opts.monitor {
		registry = prometheus.NewRegistry()

		metrics, err := tracing.NewMetricsHook(registry)
		if err != nil {
			return err
		}

		b = b.WithHook(metrics)
	}

	counter := tracing.NewTransitionCounter()
	b = b.WithHook(counter)

	sim, err := b.Build()
	if err != nil {
		return err
	}

	if opts.monitor {
		stop, err := startMonitor(opts, sim, registry, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	res, err := sim.Run()
	if err != nil {
		return err
	}

	printSummary(cmd, sim, res, counter)

	for _, name := range opts.print {
		values := res.Values(name)
		if values == nil {
			return fmt.Errorf("unknown channel %q", name)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, joinInts(values))
	}

	return nil
}

func startMonitor(
	opts *runOptions,
	sim *simulation.Simulation,
	registry *prometheus.Registry,
	logger *slog.Logger,
) (func(), error) {
	m := monitoring.NewMonitor()
	if opts.monitorPort > 0 {
		m.WithPortNumber(opts.monitorPort)
	}

	m.RegisterEngine(sim.GetEngine())
	m.RegisterPopulation(sim.GetProgression())
	m.RegisterChannels(sim.GetAggregator(), results.ChannelNames())
	m.RegisterMetrics(registry)

	bar := m.CreateProgressBar("Days", uint64(sim.Duration())+1)
	sim.AcceptHook(monitoring.DayProgress{Bar: bar})

	url, err := m.StartServer()
	if err != nil {
		return nil, err
	}

	logger.Info("monitoring started", "url", url)

	if opts.open {
		if err := browser.OpenURL(url + "/api/progress"); err != nil {
			logger.Warn("cannot open browser", "error", err)
		}
	}

	if opts.hold {
		if err := m.PauseEngine(); err != nil {
			return nil, err
		}

		logger.Info("simulation held, continue with " + url + "/api/continue")
	}

	return func() {
		m.CompleteProgressBar(bar)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := m.StopServer(ctx); err != nil {
			logger.Warn("cannot stop monitoring server", "error", err)
		}
	}, nil
}

func printSummary(
	cmd *cobra.Command,
	sim *simulation.Simulation,
	res *results.Results,
	counter *tracing.TransitionCounter,
) {
	s := res.Summary()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s\n", sim.ID())
	fmt.Fprintf(w, "seed\t%d\n", uint64(sim.Seed()))
	fmt.Fprintf(w, "days\t%d\n", int(res.Duration()))
	fmt.Fprintf(w, "agents\t%d\n", s.Population)
	fmt.Fprintf(w, "ever exposed\t%d\n", s.EverExposed)
	fmt.Fprintf(w, "ever infectious\t%d\n", s.EverInfectious)
	fmt.Fprintf(w, "recovered\t%d\n", s.Recovered)
	fmt.Fprintf(w, "dead\t%d\n", s.Dead)
	fmt.Fprintf(w, "still infectious\t%d\n", s.StillInfectious)
	fmt.Fprintf(w, "peak infectious\t%d (day %d)\n", s.PeakInfectious, int(s.PeakDay))

	for _, e := range counter.Edges() {
		fmt.Fprintf(w, "%s -> %s\t%d\n", e.From, e.To, counter.Count(e.From, e.To))
	}

	_ = w.Flush()
}
