package dwell

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newGate(t *testing.T) (*Gate, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	g, err := NewGate(120*time.Second, []routing.State{routing.AllHealthy, routing.BothUnhealthy}, WithClock(clock.Now))
	require.NoError(t, err)
	return g, clock
}

func TestFirstAdmissionAlwaysAllowed(t *testing.T) {
	g, _ := newGate(t)
	res := g.Admit(routing.LocalUnhealthy)
	assert.False(t, res.Blocked)
	assert.True(t, res.Transition)
	assert.False(t, res.HadPrevious)
	assert.Equal(t, routing.LocalUnhealthy, res.State)
}

func TestBlocksNonExemptTransitionInsideWindow(t *testing.T) {
	g, clock := newGate(t)
	g.Admit(routing.LocalUnhealthy)

	clock.Advance(45 * time.Second)
	res := g.Admit(routing.RemoteUnhealthy)
	assert.True(t, res.Blocked)
	assert.Equal(t, routing.LocalUnhealthy, res.State)
	assert.Equal(t, 45*time.Second, res.Elapsed)

	current, since, ok := g.Current()
	require.True(t, ok)
	assert.Equal(t, routing.LocalUnhealthy, current)
	assert.Equal(t, clock.t.Add(-45*time.Second), since)
}

func TestExemptStatesBypassDwell(t *testing.T) {
	g, clock := newGate(t)
	g.Admit(routing.LocalUnhealthy)
	clock.Advance(30 * time.Second)
	res := g.Admit(routing.AllHealthy)
	assert.False(t, res.Blocked)
	assert.True(t, res.Exempt)
	assert.Equal(t, routing.AllHealthy, res.State)

	g, clock = newGate(t)
	g.Admit(routing.LocalUnhealthy)
	clock.Advance(10 * time.Second)
	res = g.Admit(routing.BothUnhealthy)
	assert.False(t, res.Blocked)
	assert.Equal(t, routing.BothUnhealthy, res.State)

	// leaving an exempt state is never delayed either
	clock.Advance(time.Second)
	res = g.Admit(routing.RemoteUnhealthy)
	assert.False(t, res.Blocked)
	assert.Equal(t, routing.RemoteUnhealthy, res.State)
}

func TestAllowsAfterDwellAndResetsTimer(t *testing.T) {
	g, clock := newGate(t)
	g.Admit(routing.LocalUnhealthy)

	clock.Advance(121 * time.Second)
	res := g.Admit(routing.RemoteUnhealthy)
	assert.False(t, res.Blocked)
	assert.Equal(t, routing.RemoteUnhealthy, res.State)

	clock.Advance(60 * time.Second)
	res = g.Admit(routing.BGPDownHealthy)
	assert.True(t, res.Blocked)
	assert.Equal(t, routing.RemoteUnhealthy, res.State)
}

func TestSameStateDoesNotTouchTimer(t *testing.T) {
	g, clock := newGate(t)
	g.Admit(routing.LocalUnhealthy)
	_, since, _ := g.Current()

	clock.Advance(100 * time.Second)
	res := g.Admit(routing.LocalUnhealthy)
	assert.False(t, res.Transition)
	assert.False(t, res.Blocked)
	_, after, _ := g.Current()
	assert.Equal(t, since, after)

	// 100s + 30s in state 2 is past the dwell time
	clock.Advance(30 * time.Second)
	assert.False(t, g.Admit(routing.RemoteUnhealthy).Blocked)
}

func TestRejectsInvalidConfig(t *testing.T) {
	_, err := NewGate(-time.Second, nil)
	assert.Error(t, err)
	_, err = NewGate(time.Second, []routing.State{routing.State(9)})
	assert.Error(t, err)

	g, err := NewGate(0, nil)
	require.NoError(t, err)
	g.Admit(routing.LocalUnhealthy)
	assert.False(t, g.Admit(routing.RemoteUnhealthy).Blocked, "zero dwell never blocks")
}
