package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type Config struct {
	Name string

	Attempts       uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// FailureThreshold is the number of consecutive failed calls that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before letting a probe call through.
	OpenTimeout time.Duration
}

func (c Config) Validate() error {
	var errs []error
	if c.Attempts == 0 {
		errs = append(errs, fmt.Errorf("%s: attempts must be positive", c.Name))
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		errs = append(errs, fmt.Errorf("%s: backoff must satisfy 0 < initial (%s) <= max (%s)", c.Name, c.InitialBackoff, c.MaxBackoff))
	}
	if c.FailureThreshold == 0 {
		errs = append(errs, fmt.Errorf("%s: circuit breaker threshold must be positive", c.Name))
	}
	if c.OpenTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s: circuit breaker timeout must be positive", c.Name))
	}
	return errors.Join(errs...)
}

// Policy runs calls to one upstream through a circuit breaker, retrying
// each call with exponential backoff inside the breaker.
type Policy struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func New(cfg Config) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("service", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return &Policy{
		cfg:     cfg,
		breaker: breaker,
	}, nil
}

// Do runs op until it succeeds, returns a permanent error, the attempts run
// out or ctx is done. A permanent error stays marked for IsPermanent. A call
// rejected by an open breaker returns ErrCircuitOpen without invoking op.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	permanent := false
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, retry.Do(
			func() error {
				err := op(ctx)
				permanent = IsPermanent(err)
				return err
			},
			retry.Context(ctx),
			retry.Attempts(p.cfg.Attempts),
			retry.Delay(p.cfg.InitialBackoff),
			retry.MaxDelay(p.cfg.MaxBackoff),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				log.Debug().Err(err).Msgf("%s: attempt %d failed, retrying", p.cfg.Name, n+1)
			}),
		)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, p.cfg.Name)
	}
	// retry.Do unwraps the last error
	if permanent {
		return Permanent(err)
	}
	return err
}

func (p *Policy) Name() string {
	return p.cfg.Name
}

// State is the breaker state as "closed", "half-open" or "open".
func (p *Policy) State() string {
	return p.breaker.State().String()
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return retry.Unrecoverable(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return err != nil && !retry.IsRecoverable(err)
}
