// Package tracing provides hooks that observe a running simulation.
//
// All hooks attach to the hook positions raised by the progression engine:
//   - progression.HookPosTransition: one call per agent transition
//   - progression.HookPosDayAdvanced: one call per simulated day
//
// Available hooks:
//   - TransitionLogger: writes transitions and day summaries to a slog.Logger
//   - TransitionCounter: counts transitions by (from, to) pair
//   - MetricsHook: exports counters and gauges to a Prometheus registry
package tracing
