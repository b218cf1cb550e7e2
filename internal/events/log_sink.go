package events

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogSink writes events as structured zerolog entries.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "events").Logger()}
}

// NewGlobalLogSink logs through the global logger.
func NewGlobalLogSink() *LogSink {
	return NewLogSink(log.Logger)
}

func (s *LogSink) Emit(_ context.Context, e CycleEvent) {
	var ev *zerolog.Event
	switch {
	case e.Outcome == OutcomeFailure:
		ev = s.logger.Error()
	case e.Kind == KindCycle && e.Outcome == OutcomeSuccess && !changed(e):
		ev = s.logger.Debug()
	default:
		ev = s.logger.Info()
	}

	ev = ev.
		Str("correlation_id", e.ID).
		Str("kind", string(e.Kind)).
		Str("outcome", string(e.Outcome)).
		Time("at", e.At)
	if e.Duration > 0 {
		ev = ev.Dur("duration", e.Duration)
	}
	if d := e.Decision; d != nil {
		ev = ev.
			Stringer("local", d.Local).
			Stringer("remote", d.Remote).
			Stringer("bgp", d.BGP).
			Int("classified_state", int(d.Classified)).
			Int("effective_state", int(d.Effective)).
			Stringer("primary", d.Plan.Primary).
			Stringer("secondary", d.Plan.Secondary).
			Stringer("priority", d.Plan.Priority).
			Bool("skip_updates", d.Plan.SkipUpdates)
		if d.Plan.Reason != "" {
			ev = ev.Str("reason", d.Plan.Reason)
		}
	}
	if e.Previous != nil {
		ev = ev.Int("previous_state", int(*e.Previous))
	}
	if len(e.Peers) > 0 {
		ev = ev.Interface("bgp_peers", e.Peers)
	}
	for _, op := range e.Operations {
		if op.Failed() {
			ev = ev.Str("failed_"+op.Target, op.Error)
		}
	}
	if e.ConsecutiveFailures > 0 {
		ev = ev.Int("consecutive_failures", e.ConsecutiveFailures)
	}
	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}
	if len(e.Details) > 0 {
		ev = ev.Fields(e.Details)
	}
	ev.Msg(message(e))
}

func changed(e CycleEvent) bool {
	return e.Decision != nil && (e.Decision.Plan.Actions().Changes() || len(e.Operations) > 0)
}

func message(e CycleEvent) string {
	switch e.Kind {
	case KindStartup:
		return "daemon started"
	case KindShutdown:
		return "daemon stopped"
	case KindTransition:
		return "routing state changed"
	case KindConnectivity:
		return "connectivity checked"
	}
	return "health check cycle finished"
}
