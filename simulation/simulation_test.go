package simulation

import (
	"context"
	"errors"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/episim/config"
	"github.com/sarchlab/episim/datarecording"
	"github.com/sarchlab/episim/instrumentation/hooking"
	"github.com/sarchlab/episim/population"
	"github.com/sarchlab/episim/progression"
	"github.com/sarchlab/episim/results"
	"github.com/sarchlab/episim/sampling"
	"github.com/sarchlab/episim/timing"
)

const (
	cohortSize = 500
	simDays    = 60
)

type scenario struct {
	e2i, e2iStd float64
	dur, durStd float64
	ttd, ttdStd float64
	cfr         float64
}

func (sc scenario) params() progression.Params {
	return progression.Params{
		ExposedToInfectious: sampling.Distribution{Mean: sc.e2i, Std: sc.e2iStd},
		InfectiousDuration:  sampling.Distribution{Mean: sc.dur, Std: sc.durStd},
		TimeToDeath:         sampling.Distribution{Mean: sc.ttd, Std: sc.ttdStd},
		Fatality:            progression.FlatCFR(sc.cfr),
	}
}

func cohort(state progression.State) population.Population {
	pop, err := population.MakeBuilder().
		WithSize(cohortSize).
		WithForced(state, cohortSize).
		Build()
	Expect(err).NotTo(HaveOccurred())

	return pop
}

func runScenario(sc scenario) *results.Results {
	sim, err := MakeBuilder().
		WithDays(simDays).
		WithParams(sc.params()).
		WithPopulation(cohort(progression.Exposed)).
		WithSeed(7).
		Build()
	Expect(err).NotTo(HaveOccurred())

	res, err := sim.Run()
	Expect(err).NotTo(HaveOccurred())

	return res
}

func channel(res *results.Results, name string) *results.Channel {
	c, ok := res.Channel(name)
	Expect(ok).To(BeTrue(), name)

	return c
}

// expectSingleSpike checks that the series is zero everywhere but day.
func expectSingleSpike(values []int, day, value int) {
	for t, v := range values {
		if t == day {
			Expect(v).To(Equal(value), "day %d", t)
		} else {
			Expect(v).To(BeZero(), "day %d", t)
		}
	}
}

type spread struct {
	first, last timing.Day
	peak        int
}

func spreadOf(c *results.Channel) spread {
	peak, _ := c.Peak()
	return spread{first: c.FirstNonZero(), last: c.LastNonZero(), peak: peak}
}

// expectWiderSpread checks that each spread is at least as wide as the one
// before it, with a strictly lower peak.
func expectWiderSpread(spreads []spread, stds []float64) {
	for i := 1; i < len(spreads); i++ {
		prev, curr := spreads[i-1], spreads[i]
		Expect(curr.first).To(BeNumerically("<=", prev.first),
			"first day with std %v vs %v", stds[i], stds[i-1])
		Expect(curr.peak).To(BeNumerically("<", prev.peak),
			"peak with std %v vs %v", stds[i], stds[i-1])
		Expect(curr.last).To(BeNumerically(">=", prev.last),
			"last day with std %v vs %v", stds[i], stds[i-1])
	}
}

var _ = Describe("Simulation", func() {
	Context("exposed to infectious delay", func() {
		DescribeTable("converts the whole cohort on day D without variance",
			func(d int) {
				res := runScenario(scenario{e2i: float64(d), dur: 40, ttd: 10})

				infectious := channel(res, results.InfectiousAtTimestep).Values()
				for t := 0; t < d; t++ {
					Expect(infectious[t]).To(BeZero(), "day %d", t)
				}
				Expect(infectious[d]).To(Equal(cohortSize))

				expectSingleSpike(channel(res, results.InfectiousDaily).Values(), d, cohortSize)
			},
			Entry("D = 1", 1),
			Entry("D = 5", 5),
			Entry("D = 30", 30),
		)

		It("should only decline after the full conversion", func() {
			const d = 30
			res := runScenario(scenario{e2i: d, dur: 10, ttd: 10})

			infectious := channel(res, results.InfectiousAtTimestep).Values()
			for t := d + 1; t <= simDays; t++ {
				Expect(infectious[t]).To(BeNumerically("<=", infectious[t-1]), "day %d", t)
			}
			Expect(infectious[simDays]).To(BeZero())
		})

		It("should only decline after the conversion when durations vary", func() {
			const d = 5
			res := runScenario(scenario{e2i: d, dur: 10, durStd: 4, ttd: 10})

			expectSingleSpike(channel(res, results.InfectiousDaily).Values(), d, cohortSize)

			infectious := channel(res, results.InfectiousAtTimestep).Values()
			for t := d + 1; t <= simDays; t++ {
				Expect(infectious[t]).To(BeNumerically("<=", infectious[t-1]), "day %d", t)
			}
		})

		It("should widen the spread and lower the peak as std grows", func() {
			stds := []float64{0, .5, 1, 2, 4}

			var spreads []spread
			for _, std := range stds {
				res := runScenario(scenario{e2i: 30, e2iStd: std, dur: 40, ttd: 10})
				spreads = append(spreads, spreadOf(channel(res, results.InfectiousDaily)))
			}

			Expect(spreads[0]).To(Equal(spread{first: 30, last: 30, peak: cohortSize}))
			expectWiderSpread(spreads, stds)
		})

		It("should convert later as the delay grows", func() {
			delays := []int{1, 2, 5, 15, 20, 25, 30}

			prev := timing.NoDay
			for _, d := range delays {
				res := runScenario(scenario{e2i: float64(d), dur: 40, ttd: 10})

				Expect(channel(res, results.InfectiousAtTimestep).At(timing.Day(d))).
					To(Equal(cohortSize))

				day := channel(res, results.InfectiousDaily).FirstNonZero()
				Expect(day).To(Equal(timing.Day(d)))
				Expect(day).To(BeNumerically(">", prev))
				prev = day
			}
		})
	})

	Context("infectious duration", func() {
		It("should recover everyone on day 31", func() {
			res := runScenario(scenario{e2i: 1, dur: 30, ttd: 30})

			expectSingleSpike(channel(res, results.RecoveredAtTimestep).Values(), 31, cohortSize)
			expectSingleSpike(channel(res, results.DeathsDaily).Values(), -1, 0)
		})

		It("should recover agents seeded as infectious after the duration", func() {
			sim, err := MakeBuilder().
				WithDays(simDays).
				WithParams(scenario{e2i: 1, dur: 30, ttd: 30}.params()).
				WithPopulation(cohort(progression.Infectious)).
				WithSeed(7).
				Build()
			Expect(err).NotTo(HaveOccurred())

			res, err := sim.Run()
			Expect(err).NotTo(HaveOccurred())

			expectSingleSpike(channel(res, results.RecoveredAtTimestep).Values(), 30, cohortSize)
			Expect(res.Summary().EverExposed).To(BeZero())
		})

		It("should recover later as the duration grows", func() {
			for _, dur := range []int{1, 2, 5, 10, 20} {
				res := runScenario(scenario{e2i: 1, dur: float64(dur), ttd: 30})

				expectSingleSpike(channel(res, results.RecoveredAtTimestep).Values(),
					1+dur, cohortSize)
			}
		})

		It("should widen the recoveries as std grows", func() {
			stds := []float64{0, 1, 2, 4}

			var spreads []spread
			for _, std := range stds {
				res := runScenario(scenario{e2i: 1, dur: 30, durStd: std, ttd: 30})
				spreads = append(spreads, spreadOf(channel(res, results.RecoveredAtTimestep)))
			}

			Expect(spreads[0]).To(Equal(spread{first: 31, last: 31, peak: cohortSize}))
			expectWiderSpread(spreads, stds)
		})
	})

	Context("time to death", func() {
		It("should kill everyone on day 31 with a fatality ratio of 1", func() {
			res := runScenario(scenario{e2i: 1, dur: 1, ttd: 30, cfr: 1})

			expectSingleSpike(channel(res, results.DeathsDaily).Values(), 31, cohortSize)
			expectSingleSpike(channel(res, results.RecoveredAtTimestep).Values(), -1, 0)
			Expect(channel(res, results.CumulativeDeaths).At(simDays)).To(Equal(cohortSize))
		})

		It("should widen the deaths as std grows", func() {
			stds := []float64{0, 1, 2, 4}

			var spreads []spread
			for _, std := range stds {
				res := runScenario(scenario{e2i: 1, dur: 1, ttd: 30, ttdStd: std, cfr: 1})
				spreads = append(spreads, spreadOf(channel(res, results.DeathsDaily)))
			}

			expectWiderSpread(spreads, stds)
		})
	})

	Context("mixed population", func() {
		var cfg *config.Config

		BeforeEach(func() {
			cfg = config.Default()
			cfg.PopulationSize = 3000
			cfg.InitialInfected = 3000
			cfg.UseCFRByAge = true
			cfg.NumberSimulatedDays = 40
			cfg.SetSeed(11)
		})

		run := func(b Builder) *results.Results {
			sim, err := b.Build()
			Expect(err).NotTo(HaveOccurred())

			res, err := sim.Run()
			Expect(err).NotTo(HaveOccurred())

			return res
		}

		It("should conserve agents", func() {
			res := run(MakeBuilder().WithConfig(cfg))

			s := res.Summary()
			recovered := channel(res, results.RecoveredAtTimestep).Sum()
			deaths := channel(res, results.DeathsDaily).Sum()
			Expect(recovered + deaths + s.StillInfectious).To(Equal(s.EverInfectious))
			Expect(s.EverInfectious).To(BeNumerically(">", 0))
			Expect(s.Recovered).To(Equal(recovered))
			Expect(s.Dead).To(Equal(deaths))

			last := timing.Day(cfg.NumberSimulatedDays)
			total := 0
			for _, name := range []string{
				results.SusceptibleAtTimestep,
				results.ExposedAtTimestep,
				results.InfectiousAtTimestep,
				results.CumulativeRecovered,
				results.CumulativeDeaths,
			} {
				total += channel(res, name).At(last)
			}
			Expect(total).To(Equal(cfg.PopulationSize))
		})

		It("should reproduce a run with the same seed", func() {
			a := run(MakeBuilder().WithConfig(cfg))
			b := run(MakeBuilder().WithConfig(cfg))

			for _, name := range a.Names() {
				Expect(b.Values(name)).To(Equal(a.Values(name)), name)
			}
		})

		It("should give the same results with parallel draws", func() {
			seq := run(MakeBuilder().WithConfig(cfg).WithWorkers(1))
			par := run(MakeBuilder().WithConfig(cfg).WithWorkers(8))

			for _, name := range seq.Names() {
				Expect(par.Values(name)).To(Equal(seq.Values(name)), name)
			}
		})

		It("should report the seed it used", func() {
			cfg.RandomSeed = nil

			sim, err := MakeBuilder().WithConfig(cfg).Build()
			Expect(err).NotTo(HaveOccurred())

			replay, err := MakeBuilder().WithConfig(cfg).WithSeed(sim.Seed()).Build()
			Expect(err).NotTo(HaveOccurred())

			a, err := sim.Run()
			Expect(err).NotTo(HaveOccurred())
			b, err := replay.Run()
			Expect(err).NotTo(HaveOccurred())

			Expect(b.Values(results.DeathsDaily)).To(Equal(a.Values(results.DeathsDaily)))
		})
	})

	Context("clock", func() {
		It("should stop early once nothing is left to happen", func() {
			sim, err := MakeBuilder().
				WithDays(simDays).
				WithParams(scenario{e2i: 1, dur: 2, ttd: 2}.params()).
				WithPopulation(cohort(progression.Exposed)).
				WithSeed(1).
				WithEarlyStop().
				Build()
			Expect(err).NotTo(HaveOccurred())

			res, err := sim.Run()
			Expect(err).NotTo(HaveOccurred())

			Expect(sim.GetClock().StoppedEarly()).To(BeTrue())
			Expect(sim.GetClock().NextDay()).To(Equal(timing.Day(4)))
			Expect(channel(res, results.RecoveredAtTimestep).Len()).To(Equal(simDays + 1))
			expectSingleSpike(channel(res, results.RecoveredAtTimestep).Values(), 3, cohortSize)
			Expect(channel(res, results.CumulativeRecovered).At(simDays)).To(Equal(cohortSize))
		})

		It("should run every day without early stop", func() {
			sim, err := MakeBuilder().
				WithDays(10).
				WithParams(scenario{e2i: 1, dur: 2, ttd: 2}.params()).
				WithPopulation(cohort(progression.Exposed)).
				Build()
			Expect(err).NotTo(HaveOccurred())

			_, err = sim.Run()
			Expect(err).NotTo(HaveOccurred())

			Expect(sim.GetClock().StoppedEarly()).To(BeFalse())
			Expect(sim.GetClock().Done()).To(BeTrue())
			Expect(sim.GetProgression().LastDay()).To(Equal(timing.Day(10)))
		})

		It("should panic when advanced past the duration", func() {
			sim, err := MakeBuilder().
				WithDays(2).
				WithPopulation(cohort(progression.Exposed)).
				Build()
			Expect(err).NotTo(HaveOccurred())

			clock := sim.GetClock()
			clock.Advance()
			clock.Advance()
			clock.Advance()

			Expect(clock.Done()).To(BeTrue())
			Expect(func() { clock.Advance() }).To(Panic())
		})

		It("should reject unknown events", func() {
			sim, err := MakeBuilder().WithDays(2).Build()
			Expect(err).NotTo(HaveOccurred())

			Expect(sim.GetClock().Handle("tick")).To(HaveOccurred())
		})
	})

	Context("run", func() {
		It("should return no results when a tick panics", func() {
			sim, err := MakeBuilder().
				WithDays(simDays).
				WithPopulation(cohort(progression.Exposed)).
				WithHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
					if ctx.Pos == progression.HookPosDayAdvanced &&
						ctx.Item.(timing.Day) == 5 {
						panic("broken hook")
					}
				})).
				Build()
			Expect(err).NotTo(HaveOccurred())

			res, err := sim.Run()
			Expect(err).To(MatchError(ContainSubstring("broken hook")))
			Expect(res).To(BeNil())
		})

		It("should run only once", func() {
			sim, err := MakeBuilder().WithDays(3).Build()
			Expect(err).NotTo(HaveOccurred())

			_, err = sim.Run()
			Expect(err).NotTo(HaveOccurred())

			_, err = sim.Run()
			Expect(err).To(HaveOccurred())
		})

		It("should reject invalid options", func() {
			cfg := config.Default()
			cfg.DefaultCFR = 2

			_, err := MakeBuilder().WithConfig(cfg).Build()
			Expect(err).To(HaveOccurred())
			Expect(config.IsError(err)).To(BeTrue())

			_, err = MakeBuilder().WithDays(-1).Build()
			Expect(err).To(HaveOccurred())

			_, err = MakeBuilder().WithDays(0).Build()
			Expect(err).To(HaveOccurred())

			_, err = MakeBuilder().WithWorkers(0).Build()
			Expect(err).To(HaveOccurred())

			_, err = MakeBuilder().WithTransitionRecording().Build()
			Expect(err).To(HaveOccurred())
		})
	})

	Context("recording", func() {
		var (
			mockCtrl *gomock.Controller
			recorder *MockDataRecorder
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			recorder = NewMockDataRecorder(mockCtrl)
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		build := func(b Builder) *Simulation {
			sim, err := b.
				WithDays(10).
				WithParams(scenario{e2i: 1, dur: 2, ttd: 2}.params()).
				WithPopulation(cohort(progression.Exposed)).
				WithDataRecorder(recorder).
				Build()
			Expect(err).NotTo(HaveOccurred())

			return sim
		}

		It("should record the channels and the run", func() {
			channelRows := 0
			properties := map[string]string{}

			recorder.EXPECT().CreateTable(datarecording.RunTable, datarecording.RunInfo{})
			recorder.EXPECT().CreateTable(datarecording.ChannelTable, datarecording.ChannelValue{})
			recorder.EXPECT().
				InsertData(datarecording.ChannelTable, gomock.Any()).
				Do(func(_ string, entry any) { channelRows++ }).
				AnyTimes()
			recorder.EXPECT().
				InsertData(datarecording.RunTable, gomock.Any()).
				Do(func(_ string, entry any) {
					info := entry.(datarecording.RunInfo)
					properties[info.Property] = info.Value
				}).
				AnyTimes()
			recorder.EXPECT().Flush().Return(nil)

			sim := build(MakeBuilder().WithSeed(99))
			res, err := sim.Run()
			Expect(err).NotTo(HaveOccurred())

			Expect(channelRows).To(Equal(len(res.Names()) * 11))
			Expect(properties).To(HaveKeyWithValue("Run ID", sim.ID()))
			Expect(properties).To(HaveKeyWithValue("Seed", "99"))
			Expect(properties).To(HaveKeyWithValue("Recovered", "500"))
			Expect(properties).To(HaveKey("Start Time"))
			Expect(properties).To(HaveKey("End Time"))
		})

		It("should record every transition when asked", func() {
			transitions := 0

			recorder.EXPECT().CreateTable(gomock.Any(), gomock.Any()).Times(3)
			recorder.EXPECT().
				InsertData(datarecording.TransitionTable, gomock.Any()).
				Do(func(_ string, _ any) { transitions++ }).
				AnyTimes()
			recorder.EXPECT().InsertData(gomock.Any(), gomock.Any()).AnyTimes()
			recorder.EXPECT().Flush().Return(nil)

			_, err := build(MakeBuilder().WithTransitionRecording()).Run()
			Expect(err).NotTo(HaveOccurred())

			Expect(transitions).To(Equal(3 * cohortSize))
		})

		It("should fail the run when the data cannot be written", func() {
			recorder.EXPECT().CreateTable(gomock.Any(), gomock.Any()).AnyTimes()
			recorder.EXPECT().InsertData(gomock.Any(), gomock.Any()).AnyTimes()
			recorder.EXPECT().Flush().Return(errors.New("disk full"))
			recorder.EXPECT().Discard().Return(nil)

			res, err := build(MakeBuilder()).Run()
			Expect(err).To(MatchError(ContainSubstring("disk full")))
			Expect(res).To(BeNil())
		})

		It("should discard recorded entries when a tick fails", func() {
			recorder.EXPECT().CreateTable(gomock.Any(), gomock.Any()).AnyTimes()
			recorder.EXPECT().Discard().Return(nil)

			sim := build(MakeBuilder().WithHook(hooking.HookFunc(func(hooking.HookCtx) {
				panic("broken hook")
			})))

			res, err := sim.Run()
			Expect(err).To(MatchError(ContainSubstring("broken hook")))
			Expect(res).To(BeNil())
		})

		It("should leave no rows behind when recording fails", func() {
			dir, err := os.MkdirTemp("", "episim")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(os.RemoveAll, dir)

			path := dir + "/failed"
			db, err := datarecording.New(path)
			Expect(err).NotTo(HaveOccurred())

			sim, err := MakeBuilder().
				WithDays(10).
				WithParams(scenario{e2i: 1, dur: 2, ttd: 2}.params()).
				WithPopulation(cohort(progression.Exposed)).
				WithDataRecorder(commitFailure{db}).
				WithTransitionRecording().
				Build()
			Expect(err).NotTo(HaveOccurred())

			res, err := sim.Run()
			Expect(err).To(MatchError(ContainSubstring("commit refused")))
			Expect(res).To(BeNil())

			Expect(db.Flush()).To(Succeed())
			Expect(db.Close()).To(Succeed())

			reader, err := datarecording.NewReader(path + datarecording.Extension)
			Expect(err).NotTo(HaveOccurred())
			defer reader.Close()

			runs, err := datarecording.ListRuns(context.Background(), reader)
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(BeEmpty())

			_, total, err := reader.Query(context.Background(),
				datarecording.TransitionTable, datarecording.QueryParams{})
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(BeZero())
		})

		It("should write channels that read back unchanged", func() {
			dir, err := os.MkdirTemp("", "episim")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(os.RemoveAll, dir)

			path := dir + "/run"
			db, err := datarecording.New(path)
			Expect(err).NotTo(HaveOccurred())

			sim, err := MakeBuilder().
				WithDays(10).
				WithParams(scenario{e2i: 1, dur: 2, ttd: 2}.params()).
				WithPopulation(cohort(progression.Exposed)).
				WithDataRecorder(db).
				Build()
			Expect(err).NotTo(HaveOccurred())

			res, err := sim.Run()
			Expect(err).NotTo(HaveOccurred())
			Expect(db.Close()).To(Succeed())

			reader, err := datarecording.NewReader(path + datarecording.Extension)
			Expect(err).NotTo(HaveOccurred())
			defer reader.Close()

			runs, err := datarecording.ListRuns(context.Background(), reader)
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(Equal([]string{sim.ID()}))

			for _, name := range res.Names() {
				values, err := datarecording.LoadChannel(context.Background(), reader, sim.ID(), name)
				Expect(err).NotTo(HaveOccurred())
				Expect(values).To(Equal(res.Values(name)), name)
			}
		})
	})
})

// commitFailure records into a real database but refuses every Flush.
type commitFailure struct {
	datarecording.DataRecorder
}

func (commitFailure) Flush() error {
	return errors.New("commit refused")
}
