package decision

import (
	"fmt"
	"sync"
	"time"

	"github.com/Sh00ty/mt-route-daemon/internal/dwell"
	"github.com/Sh00ty/mt-route-daemon/internal/hysteresis"
	"github.com/Sh00ty/mt-route-daemon/internal/verification"
	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

type Config struct {
	Hysteresis   hysteresis.Config
	Verification verification.Thresholds

	MinDwell        time.Duration
	DwellExceptions []routing.State

	Passive           bool
	PrimaryPriority   int
	SecondaryPriority int

	// Clock is used by the dwell gate, time.Now when nil.
	Clock func() time.Time
}

// Engine turns raw health snapshots into routing plans. One Evaluate call
// runs filter, classifier, verification, dwell time and resolution as a unit.
type Engine struct {
	mu sync.Mutex

	local  *hysteresis.Filter
	remote *hysteresis.Filter
	verify *verification.Gate
	dwell  *dwell.Gate

	resolver Resolver

	// last smoothed values, used as the asymmetric hysteresis side
	localHealthy  bool
	remoteHealthy bool
}

func NewEngine(cfg Config) (*Engine, error) {
	local, err := hysteresis.New(cfg.Hysteresis)
	if err != nil {
		return nil, fmt.Errorf("failed to create local filter: %w", err)
	}
	remote, err := hysteresis.New(cfg.Hysteresis)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote filter: %w", err)
	}
	verify, err := verification.NewGate(cfg.Verification)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification gate: %w", err)
	}
	var opts []dwell.Option
	if cfg.Clock != nil {
		opts = append(opts, dwell.WithClock(cfg.Clock))
	}
	dwellGate, err := dwell.NewGate(cfg.MinDwell, cfg.DwellExceptions, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create dwell gate: %w", err)
	}
	if !cfg.Passive && (cfg.PrimaryPriority <= 0 || cfg.SecondaryPriority <= 0) {
		return nil, fmt.Errorf("cloudflare priorities must be positive, got %d/%d", cfg.PrimaryPriority, cfg.SecondaryPriority)
	}

	return &Engine{
		local:  local,
		remote: remote,
		verify: verify,
		dwell:  dwellGate,
		resolver: Resolver{
			Passive:           cfg.Passive,
			PrimaryPriority:   cfg.PrimaryPriority,
			SecondaryPriority: cfg.SecondaryPriority,
		},
		localHealthy:  true,
		remoteHealthy: true,
	}, nil
}

// Decision is the full trace of one evaluation.
type Decision struct {
	Raw routing.HealthSnapshot `json:"-"`

	Local         routing.TriState `json:"local"`
	Remote        routing.TriState `json:"remote"`
	BGP           routing.TriState `json:"bgp"`
	LocalHistory  hysteresis.Stats `json:"local_history"`
	RemoteHistory hysteresis.Stats `json:"remote_history"`

	Classified routing.State `json:"classified"`
	Effective  routing.State `json:"effective"`

	Verification verification.Result `json:"verification"`
	// Dwell is set when the classified state reached the dwell gate.
	Dwell *dwell.Result `json:"dwell,omitempty"`

	Plan Plan `json:"plan"`
}

func (d Decision) DwellBlocked() bool {
	return d.Dwell != nil && d.Dwell.Blocked
}

func (e *Engine) Evaluate(snap routing.HealthSnapshot) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := Decision{Raw: snap, BGP: snap.BGP}

	d.Local = e.smooth(e.local, snap.Local, &e.localHealthy)
	d.Remote = e.smooth(e.remote, snap.Remote, &e.remoteHealthy)
	d.LocalHistory = e.local.Stats()
	d.RemoteHistory = e.remote.Stats()

	d.Classified = routing.Classify(d.Local, d.Remote, d.BGP)
	d.Verification = e.verify.Observe(d.Classified)

	d.Effective = d.Classified
	holdReason := ""
	switch {
	case d.Classified == routing.Failsafe:
		// unreliable data must not move the dwell timer
	case !d.Verification.Open:
		holdReason = d.Verification.Reason()
	default:
		res := e.dwell.Admit(d.Classified)
		d.Dwell = &res
		d.Effective = res.State
	}

	localHealthy, _ := d.Local.Bool()
	d.Plan = e.resolver.Resolve(d.Effective, holdReason, localHealthy)
	if d.DwellBlocked() && !d.Plan.SkipUpdates {
		d.Plan.Reason = ReasonDwell
	}
	return d
}

func (e *Engine) smooth(f *hysteresis.Filter, raw routing.TriState, last *bool) routing.TriState {
	value, known := raw.Bool()
	if !known {
		return routing.Unknown
	}
	smoothed := f.Push(value, *last)
	*last = smoothed
	return routing.FromBool(smoothed)
}

// Accepted returns the state last let through the dwell gate.
func (e *Engine) Accepted() (routing.State, time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dwell.Current()
}

func (e *Engine) VerificationSnapshot() map[routing.State]verification.Counter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verify.Snapshot()
}
