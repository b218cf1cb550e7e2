package routing

import "fmt"

// TriState is a health determination that may be unreliable.
// The zero value is Unknown so that an unset field never reads as healthy.
type TriState uint8

const (
	Unknown TriState = iota
	Healthy
	Unhealthy
)

func FromBool(healthy bool) TriState {
	if healthy {
		return Healthy
	}
	return Unhealthy
}

// Bool returns the boolean value and false when the state is Unknown.
func (t TriState) Bool() (healthy bool, known bool) {
	switch t {
	case Healthy:
		return true, true
	case Unhealthy:
		return false, true
	}
	return false, false
}

func (t TriState) Known() bool {
	return t == Healthy || t == Unhealthy
}

func (t TriState) String() string {
	switch t {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	case Unknown:
		return "unknown"
	}
	return fmt.Sprintf("tristate(%d)", uint8(t))
}

func (t TriState) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// HealthSnapshot is one reading of every monitored signal.
type HealthSnapshot struct {
	Local  TriState
	Remote TriState
	BGP    TriState
	// Peers maps BGP peer name to the status reported by the router.
	Peers map[string]string
}

func UnknownSnapshot() HealthSnapshot {
	return HealthSnapshot{Local: Unknown, Remote: Unknown, BGP: Unknown}
}
