package verification

import (
	"fmt"

	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

// Thresholds is the number of consecutive detections each risky state needs.
type Thresholds struct {
	LocalUnhealthy  int
	RemoteUnhealthy int
	BothUnhealthy   int
}

func (t Thresholds) forState(s routing.State) int {
	switch s {
	case routing.LocalUnhealthy:
		return t.LocalUnhealthy
	case routing.RemoteUnhealthy:
		return t.RemoteUnhealthy
	case routing.BothUnhealthy:
		return t.BothUnhealthy
	}
	return 0
}

var riskyStates = []routing.State{
	routing.LocalUnhealthy,
	routing.RemoteUnhealthy,
	routing.BothUnhealthy,
}

type counter struct {
	count   int
	pending bool
}

// Gate holds back risky states until they are seen on consecutive cycles.
// Not safe for concurrent use.
type Gate struct {
	thresholds Thresholds
	counters   map[routing.State]*counter
}

func NewGate(thresholds Thresholds) (*Gate, error) {
	counters := make(map[routing.State]*counter, len(riskyStates))
	for _, s := range riskyStates {
		if n := thresholds.forState(s); n <= 0 {
			return nil, fmt.Errorf("verification threshold for state %d must be positive, got %d", s, n)
		}
		counters[s] = &counter{}
	}
	return &Gate{
		thresholds: thresholds,
		counters:   counters,
	}, nil
}

type Result struct {
	State     routing.State `json:"state"`
	Risky     bool          `json:"risky"`
	Open      bool          `json:"open"`
	Count     int           `json:"count,omitempty"`
	Threshold int           `json:"threshold,omitempty"`
	// Exited holds the counts of risky states left on this cycle.
	Exited map[routing.State]int `json:"-"`
}

// Reason is the skip reason reported while the gate is closed.
func (r Result) Reason() string {
	if r.Open {
		return ""
	}
	return fmt.Sprintf("STATE %d VERIFICATION PENDING", int(r.State))
}

// Observe records the classified state of the current cycle.
func (g *Gate) Observe(s routing.State) Result {
	res := Result{State: s, Open: true}

	for _, risky := range riskyStates {
		if risky == s {
			continue
		}
		c := g.counters[risky]
		if c.count > 0 {
			if res.Exited == nil {
				res.Exited = make(map[routing.State]int)
			}
			res.Exited[risky] = c.count
		}
		c.count = 0
		c.pending = false
	}

	c, ok := g.counters[s]
	if !ok {
		return res
	}

	// counters of other states were reset above, so a positive count means
	// the previous cycle saw the same state
	if c.count > 0 {
		c.count++
	} else {
		c.count = 1
		c.pending = true
	}

	res.Risky = true
	res.Count = c.count
	res.Threshold = g.thresholds.forState(s)
	if c.count < res.Threshold {
		res.Open = false
		return res
	}
	c.pending = false
	return res
}

type Counter struct {
	Count     int  `json:"count"`
	Pending   bool `json:"pending"`
	Threshold int  `json:"threshold"`
}

// Snapshot returns the counters of all risky states.
func (g *Gate) Snapshot() map[routing.State]Counter {
	out := make(map[routing.State]Counter, len(g.counters))
	for s, c := range g.counters {
		out[s] = Counter{
			Count:     c.count,
			Pending:   c.pending,
			Threshold: g.thresholds.forState(s),
		}
	}
	return out
}
