package tracing

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sarchlab/episim/instrumentation/hooking"
	"github.com/sarchlab/episim/progression"
	"github.com/sarchlab/episim/timing"
)

// StateCounter reports current state occupancy. *progression.Engine
// implements it.
type StateCounter interface {
	Count(s progression.State) int
}

// MetricsHook exports the simulation progress as Prometheus metrics.
type MetricsHook struct {
	transitions *prometheus.CounterVec
	agents      *prometheus.GaugeVec
	day         prometheus.Gauge
}

// NewMetricsHook creates the metrics and registers them with reg.
func NewMetricsHook(reg prometheus.Registerer) (*MetricsHook, error) {
	h := &MetricsHook{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "episim_transitions_total",
				Help: "Number of agent state transitions",
			},
			[]string{"from", "to"},
		),
		agents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "episim_agents",
				Help: "Number of agents currently in each disease state",
			},
			[]string{"state"},
		),
		day: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "episim_simulated_day",
				Help: "Last simulated day that completed",
			},
		),
	}

	for _, c := range []prometheus.Collector{h.transitions, h.agents, h.day} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// Func updates the metrics.
func (h *MetricsHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case progression.HookPosTransition:
		evt, ok := ctx.Item.(progression.TransitionEvent)
		if !ok {
			return
		}

		h.transitions.WithLabelValues(evt.From.String(), evt.To.String()).Inc()
	case progression.HookPosDayAdvanced:
		if day, ok := ctx.Item.(timing.Day); ok {
			h.day.Set(float64(day))
		}

		if counter, ok := ctx.Domain.(StateCounter); ok {
			h.updateStates(counter)
		}
	}
}

func (h *MetricsHook) updateStates(counter StateCounter) {
	for _, s := range progression.AllStates {
		h.agents.WithLabelValues(s.String()).Set(float64(counter.Count(s)))
	}
}
