package events

import (
	"context"
	"time"

	"github.com/Sh00ty/mt-route-daemon/internal/decision"
	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

type Kind string

const (
	KindStartup    Kind = "startup"
	KindShutdown   Kind = "shutdown"
	KindCycle      Kind = "cycle"
	KindTransition Kind = "state_transition"

	// KindConnectivity reports one startup check of an upstream.
	KindConnectivity Kind = "connectivity_test"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailure Outcome = "failure"
	OutcomeInfo    Outcome = "info"
)

// Operation is one route mutation attempted during a cycle.
type Operation struct {
	Target    string        `json:"target"`
	Directive string        `json:"directive"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
}

func (o Operation) Failed() bool {
	return o.Error != ""
}

// CycleEvent is the structured record of one daemon event. Cycle events carry
// the full decision trace; lifecycle events carry Details.
type CycleEvent struct {
	ID       string        `json:"id"`
	Kind     Kind          `json:"kind"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration_ns,omitempty"`
	Outcome  Outcome       `json:"outcome"`

	Decision *decision.Decision `json:"decision,omitempty"`
	Peers    map[string]string  `json:"bgp_peers,omitempty"`
	// Previous is the effective state of the prior cycle, set on transitions.
	Previous *routing.State `json:"previous_state,omitempty"`

	Operations          []Operation    `json:"operations,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	Error               string         `json:"error,omitempty"`
	Details             map[string]any `json:"details,omitempty"`
}

// State returns the effective state of a cycle event, Failsafe otherwise.
func (e CycleEvent) State() routing.State {
	if e.Decision == nil {
		return routing.Failsafe
	}
	return e.Decision.Effective
}

type Sink interface {
	Emit(ctx context.Context, event CycleEvent)
}

// Sinks emits every event to each sink in order.
type Sinks []Sink

func (s Sinks) Emit(ctx context.Context, event CycleEvent) {
	for _, sink := range s {
		sink.Emit(ctx, event)
	}
}
