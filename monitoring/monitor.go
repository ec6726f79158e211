// Package monitoring turns a running simulation into an HTTP server that can
// be inspected and paused while it runs.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/episim/progression"
	"github.com/sarchlab/episim/timing"
)

// Engine is the event engine that can be paused from the web.
type Engine interface {
	timing.TimeTeller
	Pause()
	Continue()
}

// Population exposes the agents being simulated. *progression.Engine
// implements it.
type Population interface {
	NumAgents() int
	Agent(id int) progression.Agent
	Counts() map[progression.State]int
}

// Channels exposes the result channels collected so far.
// *results.Aggregator implements it.
type Channels interface {
	Snapshot(name string) ([]int, bool)
	LastFolded() timing.Day
}

// Monitor can turn a simulation into a server and allows external monitoring
// and controlling of the simulation.
type Monitor struct {
	engine       Engine
	population   Population
	channels     Channels
	channelNames []string
	registry     *prometheus.Registry
	portNumber   int

	// pauseLock guards paused, which is set when a user pauses the engine.
	pauseLock sync.Mutex
	paused    bool

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server   *http.Server
	listener net.Listener
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterEngine registers the engine that is used in the simulation.
func (m *Monitor) RegisterEngine(e Engine) {
	m.engine = e
}

// RegisterPopulation registers the agents to inspect.
func (m *Monitor) RegisterPopulation(p Population) {
	m.population = p
}

// RegisterChannels registers the result channels and their names.
func (m *Monitor) RegisterChannels(c Channels, names []string) {
	m.channels = c
	m.channelNames = append([]string(nil), names...)
}

// RegisterMetrics registers the registry served under /metrics.
func (m *Monitor) RegisterMetrics(reg *prometheus.Registry) {
	m.registry = reg
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the routes of the monitoring API.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/counts", m.listCounts)
	r.HandleFunc("/api/channels", m.listChannels)
	r.HandleFunc("/api/channel/{name}", m.channel)
	r.HandleFunc("/api/agent/{id:[0-9]+}", m.agentDetails)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	if m.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	}

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", fmt.Errorf("monitoring: %w", err)
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	go func() {
		err := m.server.Serve(listener)
		if !errors.Is(err, http.ErrServerClosed) {
			dieOnErr(err)
		}
	}()

	return url, nil
}

// StopServer shuts the web server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

// inspect runs f while the engine is not processing a day. If the user has
// not paused the engine, it is paused for the duration of f.
func (m *Monitor) inspect(f func()) {
	m.pauseLock.Lock()
	defer m.pauseLock.Unlock()

	if m.engine != nil && !m.paused {
		m.engine.Pause()
		defer m.engine.Continue()
	}

	f()
}

var errNoEngine = errors.New("monitoring: no engine registered")

// PauseEngine pauses the engine on behalf of the user. It stays paused,
// including across inspecting requests, until ContinueEngine is called.
func (m *Monitor) PauseEngine() error {
	m.pauseLock.Lock()
	defer m.pauseLock.Unlock()

	if m.engine == nil {
		return errNoEngine
	}

	m.engine.Pause()
	m.paused = true

	return nil
}

// ContinueEngine releases a pause made by PauseEngine.
func (m *Monitor) ContinueEngine() error {
	m.pauseLock.Lock()
	defer m.pauseLock.Unlock()

	if m.engine == nil {
		return errNoEngine
	}

	m.engine.Continue()
	m.paused = false

	return nil
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	if err := m.PauseEngine(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	if err := m.ContinueEngine(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type nowRsp struct {
	Now    int  `json:"now"`
	Paused bool `json:"paused"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	if m.engine == nil {
		http.Error(w, "no engine registered", http.StatusServiceUnavailable)
		return
	}

	m.pauseLock.Lock()
	rsp := nowRsp{Now: int(m.engine.CurrentTime()), Paused: m.paused}
	m.pauseLock.Unlock()

	writeJSON(w, rsp)
}

func (m *Monitor) listCounts(w http.ResponseWriter, _ *http.Request) {
	if m.population == nil {
		http.Error(w, "no population registered", http.StatusServiceUnavailable)
		return
	}

	rsp := make(map[string]int)
	m.inspect(func() {
		for s, n := range m.population.Counts() {
			rsp[s.String()] = n
		}
	})

	writeJSON(w, rsp)
}

func (m *Monitor) listChannels(w http.ResponseWriter, _ *http.Request) {
	names := m.channelNames
	if names == nil {
		names = []string{}
	}

	writeJSON(w, names)
}

type channelRsp struct {
	Name   string `json:"name"`
	Day    int    `json:"day"`
	Values []int  `json:"values"`
}

func (m *Monitor) channel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if m.channels == nil {
		http.Error(w, "no channels registered", http.StatusServiceUnavailable)
		return
	}

	var (
		rsp = channelRsp{Name: name}
		ok  bool
	)

	m.inspect(func() {
		rsp.Values, ok = m.channels.Snapshot(name)
		rsp.Day = int(m.channels.LastFolded())
	})

	if !ok {
		http.Error(w, "Channel not found", http.StatusNotFound)
		return
	}

	writeJSON(w, rsp)
}

func (m *Monitor) agentDetails(w http.ResponseWriter, r *http.Request) {
	if m.population == nil {
		http.Error(w, "no population registered", http.StatusServiceUnavailable)
		return
	}

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id >= m.population.NumAgents() {
		http.Error(w, "Agent not found", http.StatusNotFound)
		return
	}

	var agent progression.Agent
	m.inspect(func() {
		agent = m.population.Agent(id)
	})

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&agent)
	serializer.SetMaxDepth(1)

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bars := make([]progressRsp, len(m.progressBars))
	for i, b := range m.progressBars {
		bars[i] = b.snapshot()
	}

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := time.Second
	if s := r.URL.Query().Get("seconds"); s != "" {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil || secs <= 0 {
			http.Error(w, "invalid seconds", http.StatusBadRequest)
			return
		}

		duration = time.Duration(secs * float64(time.Second))
	}

	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(duration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
