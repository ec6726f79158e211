package tracing

import (
	"context"
	"log/slog"

	"github.com/sarchlab/episim/instrumentation/hooking"
	"github.com/sarchlab/episim/progression"
	"github.com/sarchlab/episim/timing"
)

// TransitionLogger logs every transition at trace level and a per-day
// summary at debug level.
type TransitionLogger struct {
	logger *slog.Logger
}

// NewTransitionLogger returns a hook that writes into the logger.
func NewTransitionLogger(logger *slog.Logger) *TransitionLogger {
	return &TransitionLogger{logger: logger}
}

// Func writes the hook information into the logger.
func (h *TransitionLogger) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case progression.HookPosTransition:
		evt, ok := ctx.Item.(progression.TransitionEvent)
		if !ok {
			return
		}

		h.logger.Log(context.Background(), LevelTrace, "transition",
			"day", int(evt.Day),
			"agent", evt.AgentID,
			"from", evt.From.String(),
			"to", evt.To.String())
	case progression.HookPosDayAdvanced:
		day, ok := ctx.Item.(timing.Day)
		if !ok {
			return
		}

		events, _ := ctx.Detail.([]progression.TransitionEvent)
		h.logger.Debug("day advanced",
			"day", int(day),
			"transitions", len(events))
	}
}
