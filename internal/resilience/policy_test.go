package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream 503")

func testPolicy(t *testing.T, attempts uint, threshold uint32) *Policy {
	t.Helper()
	p, err := New(Config{
		Name:             "test",
		Attempts:         attempts,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
		FailureThreshold: threshold,
		OpenTimeout:      time.Hour,
	})
	require.NoError(t, err)
	return p
}

func TestRetriesTransientErrors(t *testing.T) {
	p := testPolicy(t, 3, 5)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errUpstream
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestReturnsLastErrorWhenAttemptsRunOut(t *testing.T) {
	p := testPolicy(t, 2, 5)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errUpstream
	})
	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, 2, calls)
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	p := testPolicy(t, 5, 5)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errUpstream)
	})
	assert.ErrorIs(t, err, errUpstream)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestExhaustedRetriesAreNotPermanent(t *testing.T) {
	p := testPolicy(t, 2, 5)

	err := p.Do(context.Background(), func(context.Context) error {
		return errUpstream
	})
	assert.ErrorIs(t, err, errUpstream)
	assert.False(t, IsPermanent(err))
}

func TestPermanentMarking(t *testing.T) {
	assert.True(t, IsPermanent(Permanent(errUpstream)))
	assert.ErrorIs(t, Permanent(errUpstream), errUpstream)
	assert.False(t, IsPermanent(errUpstream))
	assert.Nil(t, Permanent(nil))
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	p := testPolicy(t, 1, 2)
	fail := func(context.Context) error { return errUpstream }

	assert.ErrorIs(t, p.Do(context.Background(), fail), errUpstream)
	assert.ErrorIs(t, p.Do(context.Background(), fail), errUpstream)
	assert.Equal(t, "open", p.State())

	called := false
	err := p.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	p := testPolicy(t, 1, 2)
	fail := func(context.Context) error { return errUpstream }
	ok := func(context.Context) error { return nil }

	_ = p.Do(context.Background(), fail)
	require.NoError(t, p.Do(context.Background(), ok))
	_ = p.Do(context.Background(), fail)
	assert.Equal(t, "closed", p.State())
}

func TestStopsOnCanceledContext(t *testing.T) {
	p := testPolicy(t, 10, 50)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return errUpstream
	})
	assert.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestConfigValidation(t *testing.T) {
	err := Config{Name: "gcp"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempts")
	assert.Contains(t, err.Error(), "timeout")
}
