package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/mt-route-daemon/internal/decision"
	"github.com/Sh00ty/mt-route-daemon/internal/events"
	"github.com/Sh00ty/mt-route-daemon/internal/metrics"
	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

var ErrFailureBudgetExhausted = errors.New("consecutive failure budget exhausted")

type HealthSource interface {
	Snapshot(ctx context.Context) (routing.HealthSnapshot, error)
}

type AdvertisementMutator interface {
	ApplyAdvertisement(ctx context.Context, prefix string, d routing.Directive) error
}

type PriorityMutator interface {
	ApplyPriority(ctx context.Context, d routing.PriorityDirective) error
}

type EventSink interface {
	Emit(ctx context.Context, event events.CycleEvent)
}

const (
	targetPrimary   = "primary_bgp"
	targetSecondary = "secondary_bgp"
	targetPriority  = "cloudflare_priority"
)

type Config struct {
	Interval               time.Duration
	MaxConsecutiveFailures int
	PrimaryPrefix          string
	SecondaryPrefix        string
}

type Option func(*Daemon)

func WithClock(now func() time.Time) Option {
	return func(d *Daemon) {
		d.now = now
	}
}

func WithMetrics(m metrics.Metrics) Option {
	return func(d *Daemon) {
		d.metrics = m
	}
}

func WithEventSink(sink EventSink) Option {
	return func(d *Daemon) {
		d.sink = sink
	}
}

// Daemon runs the health check cycle: read health, decide, mutate routes.
type Daemon struct {
	cfg        Config
	engine     *decision.Engine
	source     HealthSource
	advertiser AdvertisementMutator
	priority   PriorityMutator
	sink       EventSink
	metrics    metrics.Metrics
	now        func() time.Time

	mu                  sync.RWMutex
	last                *events.CycleEvent
	consecutiveFailures int
	cycles              uint64
}

func New(
	cfg Config,
	engine *decision.Engine,
	source HealthSource,
	advertiser AdvertisementMutator,
	priority PriorityMutator,
	opts ...Option,
) (*Daemon, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("check interval must be positive, got %s", cfg.Interval)
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		return nil, fmt.Errorf("max consecutive failures must be positive, got %d", cfg.MaxConsecutiveFailures)
	}
	if engine == nil || source == nil || advertiser == nil || priority == nil {
		return nil, errors.New("engine, health source and both mutators are required")
	}
	d := &Daemon{
		cfg:        cfg,
		engine:     engine,
		source:     source,
		advertiser: advertiser,
		priority:   priority,
		sink:       events.Sinks{},
		metrics:    metrics.Nop{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run executes cycles until ctx is done or the failure budget runs out.
// A cycle in flight when ctx is canceled is finished; the sleep between
// cycles is not.
func (d *Daemon) Run(ctx context.Context) error {
	timer := time.NewTimer(d.cfg.Interval)
	timer.Stop()
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		start := time.Now()
		d.RunCycle(context.WithoutCancel(ctx))
		elapsed := time.Since(start)

		if failures := d.ConsecutiveFailures(); failures >= d.cfg.MaxConsecutiveFailures {
			return fmt.Errorf("%w: %d cycles failed in a row", ErrFailureBudgetExhausted, failures)
		}

		sleep := d.cfg.Interval - elapsed
		if sleep < 0 {
			log.Warn().Msgf("cycle took %s, longer than the %s check interval", elapsed, d.cfg.Interval)
			sleep = 0
		}
		timer.Reset(sleep)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle runs one cycle and returns its event.
func (d *Daemon) RunCycle(ctx context.Context) events.CycleEvent {
	id := d.correlationID()
	logger := log.With().Str("correlation_id", id).Logger()
	start := d.now()
	cycleStart := time.Now()

	prev, _, hadPrev := d.engine.Accepted()

	// Signals the source could not read come back Unknown; the ones it did
	// read still feed their filters.
	snap, sourceErr := d.source.Snapshot(ctx)
	if sourceErr != nil {
		logger.Warn().Err(sourceErr).Msgf(
			"some health signals unavailable (local=%s remote=%s bgp=%s)",
			snap.Local, snap.Remote, snap.BGP,
		)
	}

	dec := d.engine.Evaluate(snap)
	logger.Debug().Msgf(
		"health local=%s remote=%s bgp=%s, state %s -> %s",
		dec.Local, dec.Remote, dec.BGP, dec.Classified, dec.Effective,
	)

	ev := events.CycleEvent{
		ID:       id,
		Kind:     events.KindCycle,
		At:       start,
		Decision: &dec,
		Peers:    snap.Peers,
	}

	failed := sourceErr != nil
	if dec.Plan.SkipUpdates {
		logger.Info().Msgf("skipping route updates: %s", dec.Plan.Reason)
	} else {
		if dec.DwellBlocked() {
			logger.Info().Msgf("state %s held for dwell time, keeping %s", dec.Classified, dec.Effective)
		}
		ev.Operations = d.apply(ctx, logger, dec.Plan)
		for _, op := range ev.Operations {
			failed = failed || op.Failed()
		}
	}

	switch {
	case failed:
		ev.Outcome = events.OutcomeFailure
	case dec.Plan.SkipUpdates:
		ev.Outcome = events.OutcomeSkipped
	default:
		ev.Outcome = events.OutcomeSuccess
	}
	if sourceErr != nil {
		ev.Error = sourceErr.Error()
	}
	ev.Duration = time.Since(cycleStart)
	ev.ConsecutiveFailures = d.record(ev, failed)

	d.metrics.Increment("cycle." + string(ev.Outcome))
	d.metrics.Duration("cycle.duration", ev.Duration)
	d.metrics.Gauge("cycle.consecutive_failures", ev.ConsecutiveFailures)
	d.metrics.Gauge("state.classified", int(dec.Classified))
	d.metrics.Gauge("state.effective", int(dec.Effective))

	d.sink.Emit(ctx, ev)

	if cur, _, ok := d.engine.Accepted(); ok && (!hadPrev || cur != prev) {
		d.emitTransition(ctx, logger, ev, prev, hadPrev, cur)
	}
	return ev
}

func (d *Daemon) apply(ctx context.Context, logger zerolog.Logger, plan decision.Plan) []events.Operation {
	var ops []events.Operation
	if plan.Primary != routing.NoChange {
		ops = append(ops, d.operation(ctx, logger, targetPrimary, plan.Primary.String(), func(ctx context.Context) error {
			return d.advertiser.ApplyAdvertisement(ctx, d.cfg.PrimaryPrefix, plan.Primary)
		}))
	}
	if plan.Secondary != routing.NoChange {
		ops = append(ops, d.operation(ctx, logger, targetSecondary, plan.Secondary.String(), func(ctx context.Context) error {
			return d.advertiser.ApplyAdvertisement(ctx, d.cfg.SecondaryPrefix, plan.Secondary)
		}))
	}
	if plan.Priority != routing.PriorityNoChange {
		ops = append(ops, d.operation(ctx, logger, targetPriority, plan.Priority.String(), func(ctx context.Context) error {
			return d.priority.ApplyPriority(ctx, plan.Priority)
		}))
	}
	return ops
}

func (d *Daemon) operation(
	ctx context.Context,
	logger zerolog.Logger,
	target, directive string,
	fn func(ctx context.Context) error,
) events.Operation {
	start := time.Now()
	err := fn(ctx)
	op := events.Operation{
		Target:    target,
		Directive: directive,
		Duration:  time.Since(start),
	}
	d.metrics.Duration("op."+target, op.Duration)
	if err != nil {
		op.Error = err.Error()
		d.metrics.Increment("op." + target + ".failure")
		logger.Error().Err(err).Msgf("failed to apply %s to %s", directive, target)
		return op
	}
	logger.Info().Msgf("%s: %s", target, directive)
	return op
}

func (d *Daemon) emitTransition(ctx context.Context, logger zerolog.Logger, cycle events.CycleEvent, prev routing.State, hadPrev bool, cur routing.State) {
	ev := events.CycleEvent{
		ID:       cycle.ID,
		Kind:     events.KindTransition,
		At:       cycle.At,
		Outcome:  events.OutcomeInfo,
		Decision: cycle.Decision,
	}
	if hadPrev {
		ev.Previous = &prev
		logger.Warn().Msgf("routing state changed %s -> %s", prev, cur)
	} else {
		logger.Info().Msgf("initial routing state %s", cur)
	}
	d.metrics.Increment("state.transition")
	d.sink.Emit(ctx, ev)
}

func (d *Daemon) record(ev events.CycleEvent, failed bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cycles++
	if failed {
		d.consecutiveFailures++
	} else {
		d.consecutiveFailures = 0
	}
	d.last = &ev
	return d.consecutiveFailures
}

// Announce emits a lifecycle event such as startup or shutdown.
func (d *Daemon) Announce(ctx context.Context, kind events.Kind, details map[string]any) {
	d.sink.Emit(ctx, events.CycleEvent{
		ID:      d.correlationID(),
		Kind:    kind,
		At:      d.now(),
		Outcome: events.OutcomeInfo,
		Details: details,
	})
}

// Check is one startup connectivity check of an upstream. Run returns
// what it saw, reported with the check's event.
type Check struct {
	Component string
	Run       func(ctx context.Context) (map[string]any, error)
}

// CheckConnectivity runs every check once and emits a connectivity event
// per check. Failures are returned joined, wrapped errors keep their
// resilience marks.
func (d *Daemon) CheckConnectivity(ctx context.Context, checks ...Check) error {
	var errs []error
	for _, c := range checks {
		start := time.Now()
		details, err := c.Run(ctx)
		if details == nil {
			details = map[string]any{}
		}
		details["component"] = c.Component

		ev := events.CycleEvent{
			ID:       d.correlationID(),
			Kind:     events.KindConnectivity,
			At:       d.now(),
			Duration: time.Since(start),
			Outcome:  events.OutcomeSuccess,
			Details:  details,
		}
		if err != nil {
			ev.Outcome = events.OutcomeFailure
			ev.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s connectivity: %w", c.Component, err))
			d.metrics.Increment("connectivity." + c.Component + ".failure")
		}
		d.sink.Emit(ctx, ev)
	}
	return errors.Join(errs...)
}

// LastCycle returns the event of the latest finished cycle.
func (d *Daemon) LastCycle() (events.CycleEvent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return events.CycleEvent{}, false
	}
	return *d.last, true
}

func (d *Daemon) ConsecutiveFailures() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.consecutiveFailures
}

func (d *Daemon) Cycles() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cycles
}

// correlationID has the form hc-<unix seconds>-<8 hex digits>.
func (d *Daemon) correlationID() string {
	suffix, err := uuid.GenerateUUID()
	if err != nil {
		suffix = fmt.Sprintf("%08x", d.now().UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("hc-%d-%s", d.now().Unix(), suffix[:8])
}
