package routing

import (
	"fmt"
	"strconv"
	"strings"
)

// State is a routing state code. Codes are part of the operational
// vocabulary (dashboards, alerts, config) and must not be renumbered.
type State int

const (
	// Failsafe keeps whatever is currently advertised.
	Failsafe State = iota
	// AllHealthy: both regions healthy, remote BGP up.
	AllHealthy
	// LocalUnhealthy: local down, remote healthy, remote BGP up.
	LocalUnhealthy
	// RemoteUnhealthy: local healthy, remote down, remote BGP up.
	RemoteUnhealthy
	// BothUnhealthy: both regions down, remote BGP up. Emergency.
	BothUnhealthy
	// BGPDownLocalUnhealthy: local down, remote healthy, remote BGP down.
	BGPDownLocalUnhealthy
	// BGPDownHealthy: both regions healthy, remote BGP down.
	BGPDownHealthy
)

var stateNames = map[State]string{
	Failsafe:              "failsafe",
	AllHealthy:            "all_healthy",
	LocalUnhealthy:        "local_unhealthy",
	RemoteUnhealthy:       "remote_unhealthy",
	BothUnhealthy:         "both_unhealthy",
	BGPDownLocalUnhealthy: "bgp_down_local_unhealthy",
	BGPDownHealthy:        "bgp_down_healthy",
}

func (s State) Valid() bool {
	return s >= Failsafe && s <= BGPDownHealthy
}

func (s State) Name() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "invalid"
}

func (s State) String() string {
	return fmt.Sprintf("%d (%s)", int(s), s.Name())
}

// Risky states need several consecutive detections before they may act.
func (s State) Risky() bool {
	return s == LocalUnhealthy || s == RemoteUnhealthy || s == BothUnhealthy
}

// Classify maps the three health signals to a routing state.
// Any Unknown input yields Failsafe.
func Classify(local, remote, bgp TriState) State {
	l, lok := local.Bool()
	r, rok := remote.Bool()
	b, bok := bgp.Bool()
	if !lok || !rok || !bok {
		return Failsafe
	}

	switch {
	case l && r && b:
		return AllHealthy
	case !l && r && b:
		return LocalUnhealthy
	case l && !r && b:
		return RemoteUnhealthy
	case !l && !r && b:
		return BothUnhealthy
	case !l && r && !b:
		return BGPDownLocalUnhealthy
	case l && r && !b:
		return BGPDownHealthy
	}
	return Failsafe
}

// ParseStates parses a comma separated list of state codes, e.g. "1,4".
func ParseStates(raw string) ([]State, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	states := make([]State, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("failed to parse state code %q: %w", part, err)
		}
		state := State(code)
		if !state.Valid() {
			return nil, fmt.Errorf("state code %d is out of range 0..6", code)
		}
		states = append(states, state)
	}
	return states, nil
}
