package dwell

import (
	"fmt"
	"time"

	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// Gate enforces a minimum time between accepted state transitions.
// Not safe for concurrent use.
type Gate struct {
	minDwell   time.Duration
	exceptions map[routing.State]struct{}
	now        func() time.Time

	current    routing.State
	hasCurrent bool
	since      time.Time
}

func NewGate(minDwell time.Duration, exceptions []routing.State, opts ...Option) (*Gate, error) {
	if minDwell < 0 {
		return nil, fmt.Errorf("minimum dwell time must not be negative, got %s", minDwell)
	}
	set := make(map[routing.State]struct{}, len(exceptions))
	for _, s := range exceptions {
		if !s.Valid() {
			return nil, fmt.Errorf("dwell exception state %d is out of range", int(s))
		}
		set[s] = struct{}{}
	}
	g := &Gate{
		minDwell:   minDwell,
		exceptions: set,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type Result struct {
	Candidate routing.State `json:"candidate"`
	// State is the state in effect after the gate.
	State routing.State `json:"state"`
	// Previous is the accepted state before this cycle; valid when HadPrevious.
	Previous    routing.State `json:"previous"`
	HadPrevious bool          `json:"had_previous"`

	Transition bool          `json:"transition"`
	Blocked    bool          `json:"blocked"`
	Exempt     bool          `json:"exempt"`
	Elapsed    time.Duration `json:"elapsed"`
}

func (g *Gate) exempt(s routing.State) bool {
	_, ok := g.exceptions[s]
	return ok
}

// Admit decides whether candidate may replace the accepted state.
func (g *Gate) Admit(candidate routing.State) Result {
	now := g.now()
	res := Result{
		Candidate:   candidate,
		State:       candidate,
		Previous:    g.current,
		HadPrevious: g.hasCurrent,
	}
	if g.hasCurrent {
		res.Elapsed = now.Sub(g.since)
	}

	if g.hasCurrent && candidate == g.current {
		return res
	}
	res.Transition = true

	if !g.hasCurrent {
		g.accept(candidate, now)
		return res
	}

	if g.exempt(g.current) || g.exempt(candidate) {
		res.Exempt = true
		g.accept(candidate, now)
		return res
	}

	if res.Elapsed < g.minDwell {
		res.Blocked = true
		res.State = g.current
		return res
	}

	g.accept(candidate, now)
	return res
}

func (g *Gate) accept(s routing.State, at time.Time) {
	g.current = s
	g.hasCurrent = true
	g.since = at
}

// Current returns the accepted state and when it was accepted.
func (g *Gate) Current() (routing.State, time.Time, bool) {
	return g.current, g.since, g.hasCurrent
}

func (g *Gate) MinDwell() time.Duration {
	return g.minDwell
}
