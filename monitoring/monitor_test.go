package monitoring

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sarchlab/episim/instrumentation/hooking"
	"github.com/sarchlab/episim/progression"
	"github.com/sarchlab/episim/results"
	"github.com/sarchlab/episim/timing"
)

type handlerFunc func(event any) error

func (f handlerFunc) Handle(event any) error { return f(event) }

var _ = Describe("Monitor", func() {
	var (
		m       *Monitor
		engine  *timing.SerialEngine
		prog    *progression.Engine
		agg     *results.Aggregator
		handler http.Handler
	)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		return rec
	}

	decode := func(rec *httptest.ResponseRecorder, v any) {
		Expect(rec.Code).To(Equal(http.StatusOK), rec.Body.String())
		Expect(json.Unmarshal(rec.Body.Bytes(), v)).To(Succeed())
	}

	BeforeEach(func() {
		var err error
		prog, err = progression.MakeBuilder().
			WithSeed(1).
			Build([]int{10, 20, 30, 40})
		Expect(err).NotTo(HaveOccurred())

		engine = timing.NewSerialEngine()
		agg = results.NewAggregator(10, prog.NumAgents())

		m = NewMonitor()
		m.RegisterEngine(engine)
		m.RegisterPopulation(prog)
		m.RegisterChannels(agg, []string{results.ExposedDaily})
	})

	JustBeforeEach(func() {
		handler = m.Router()
	})

	It("should report the current day", func() {
		var rsp nowRsp
		decode(get("/api/now"), &rsp)

		Expect(rsp).To(Equal(nowRsp{Now: 0, Paused: false}))
	})

	It("should pause and continue the engine", func() {
		Expect(get("/api/pause").Code).To(Equal(http.StatusOK))

		var rsp nowRsp
		decode(get("/api/now"), &rsp)
		Expect(rsp.Paused).To(BeTrue())

		var counts map[string]int
		decode(get("/api/counts"), &counts)
		Expect(counts).To(HaveKeyWithValue("Susceptible", 4))

		Expect(get("/api/continue").Code).To(Equal(http.StatusOK))
		decode(get("/api/now"), &rsp)
		Expect(rsp.Paused).To(BeFalse())
	})

	It("should keep a hold across inspecting requests", func() {
		handled := make(chan struct{})
		engine.Schedule(timing.ScheduledEvent{
			Event:   "tick",
			Time:    1,
			Handler: handlerFunc(func(any) error { close(handled); return nil }),
		})

		Expect(m.PauseEngine()).To(Succeed())

		var counts map[string]int
		decode(get("/api/counts"), &counts)
		decode(get("/api/channel/"+results.ExposedDaily), &channelRsp{})

		var rsp nowRsp
		decode(get("/api/now"), &rsp)
		Expect(rsp.Paused).To(BeTrue())

		finished := make(chan error, 1)
		go func() { finished <- engine.Run() }()

		Consistently(handled, "100ms").ShouldNot(BeClosed())

		Expect(m.ContinueEngine()).To(Succeed())
		Eventually(handled).Should(BeClosed())
		Eventually(finished).Should(Receive(BeNil()))
	})

	It("should refuse to pause without an engine", func() {
		Expect(NewMonitor().PauseEngine()).NotTo(Succeed())
		Expect(NewMonitor().ContinueEngine()).NotTo(Succeed())
	})

	It("should list state counts", func() {
		Expect(prog.Expose(2, 0)).To(Succeed())
		agg.Fold(0, prog.AdvanceOneDay(0))

		var counts map[string]int
		decode(get("/api/counts"), &counts)

		Expect(counts).To(Equal(map[string]int{
			"Susceptible": 3,
			"Exposed":     1,
			"Infectious":  0,
			"Recovered":   0,
			"Dead":        0,
		}))
	})

	It("should report a channel up to the last simulated day", func() {
		Expect(prog.Expose(2, 1)).To(Succeed())
		agg.Fold(0, prog.AdvanceOneDay(0))
		agg.Fold(1, prog.AdvanceOneDay(1))

		var rsp channelRsp
		decode(get("/api/channel/"+results.ExposedDaily), &rsp)

		Expect(rsp).To(Equal(channelRsp{
			Name:   results.ExposedDaily,
			Day:    1,
			Values: []int{0, 1},
		}))

		var names []string
		decode(get("/api/channels"), &names)
		Expect(names).To(Equal([]string{results.ExposedDaily}))
	})

	It("should return 404 for unknown channels and agents", func() {
		Expect(get("/api/channel/nope").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/agent/4").Code).To(Equal(http.StatusNotFound))
		Expect(get("/api/agent/abc").Code).To(Equal(http.StatusNotFound))
	})

	It("should serialize an agent", func() {
		rec := get("/api/agent/2")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(json.Valid(rec.Body.Bytes())).To(BeTrue(), rec.Body.String())
	})

	It("should report resources", func() {
		var rsp map[string]any
		decode(get("/api/resource"), &rsp)

		Expect(rsp).To(HaveKey("cpu_percent"))
		Expect(rsp).To(HaveKey("memory_size"))
	})

	It("should collect a short profile", func() {
		rec := get("/api/profile?seconds=0.05")
		Expect(rec.Code).To(Equal(http.StatusOK))

		Expect(get("/api/profile?seconds=-1").Code).To(Equal(http.StatusBadRequest))
	})

	It("should track day progress", func() {
		bar := m.CreateProgressBar("Days", 11)
		prog.AcceptHook(DayProgress{Bar: bar})

		agg.Fold(0, prog.AdvanceOneDay(0))
		agg.Fold(1, prog.AdvanceOneDay(1))

		var bars []progressRsp
		decode(get("/api/progress"), &bars)
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Name).To(Equal("Days"))
		Expect(bars[0].Finished).To(Equal(uint64(2)))
		Expect(bars[0].Total).To(Equal(uint64(11)))

		m.CompleteProgressBar(bar)
		decode(get("/api/progress"), &bars)
		Expect(bars).To(BeEmpty())
	})

	Context("with metrics", func() {
		BeforeEach(func() {
			reg := prometheus.NewRegistry()
			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: "episim_test_total",
				Help: "test counter",
			})
			reg.MustRegister(counter)
			counter.Inc()

			m.RegisterMetrics(reg)
		})

		It("should serve the registry", func() {
			rec := get("/metrics")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("episim_test_total 1"))
		})
	})

	It("should serve over HTTP", func() {
		url, err := m.StartServer()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			Expect(m.StopServer(context.Background())).To(Succeed())
		})

		rsp, err := http.Get(url + "/api/now")
		Expect(err).NotTo(HaveOccurred())
		defer rsp.Body.Close()

		body, err := io.ReadAll(rsp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal(`{"now":0,"paused":false}`))
	})
})

var _ = Describe("DayProgress", func() {
	It("should ignore transitions", func() {
		bar := &ProgressBar{Total: 3}
		p := DayProgress{Bar: bar}

		p.Func(hooking.HookCtx{Pos: progression.HookPosTransition})
		p.Func(hooking.HookCtx{Pos: progression.HookPosDayAdvanced})

		Expect(bar.Finished).To(Equal(uint64(1)))
	})
})
