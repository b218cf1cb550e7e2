package hysteresis

import (
	"fmt"
)

type Config struct {
	// Window is the number of most recent observations kept.
	Window int
	// Threshold is the healthy count needed in a full window (symmetric mode).
	Threshold int

	Asymmetric bool
	// HoldThreshold is the healthy count needed to stay healthy (asymmetric mode).
	HoldThreshold int
	// RecoverThreshold is the healthy count needed to become healthy again (asymmetric mode).
	RecoverThreshold int
}

func (c Config) Validate() error {
	if c.Window < 1 {
		return fmt.Errorf("window must be positive, got %d", c.Window)
	}
	if c.Threshold < 1 || c.Threshold >= c.Window {
		return fmt.Errorf("threshold must be in [1, %d), got %d", c.Window, c.Threshold)
	}
	if !c.Asymmetric {
		return nil
	}
	if c.HoldThreshold < 1 || c.HoldThreshold > c.Window {
		return fmt.Errorf("hold threshold must be in [1, %d], got %d", c.Window, c.HoldThreshold)
	}
	if c.RecoverThreshold < 1 || c.RecoverThreshold > c.Window {
		return fmt.Errorf("recover threshold must be in [1, %d], got %d", c.Window, c.RecoverThreshold)
	}
	if c.HoldThreshold > c.RecoverThreshold {
		return fmt.Errorf("hold threshold %d must not exceed recover threshold %d", c.HoldThreshold, c.RecoverThreshold)
	}
	return nil
}

// Filter smooths one boolean signal over a sliding window.
// Not safe for concurrent use; the owner serializes access.
type Filter struct {
	cfg     Config
	history []bool
	healthy int
}

func New(cfg Config) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid hysteresis config: %w", err)
	}
	return &Filter{
		cfg:     cfg,
		history: make([]bool, 0, cfg.Window),
	}, nil
}

// Push records a raw observation and returns the smoothed value.
// currentlyHealthy is the caller's present assessment of the signal and only
// matters in asymmetric mode.
func (f *Filter) Push(raw bool, currentlyHealthy bool) bool {
	f.append(raw)

	if len(f.history) < f.cfg.Window {
		return raw
	}
	return f.healthy >= f.threshold(currentlyHealthy)
}

func (f *Filter) threshold(currentlyHealthy bool) int {
	if !f.cfg.Asymmetric {
		return f.cfg.Threshold
	}
	if currentlyHealthy {
		return f.cfg.HoldThreshold
	}
	return f.cfg.RecoverThreshold
}

func (f *Filter) append(raw bool) {
	if len(f.history) < f.cfg.Window {
		f.history = append(f.history, raw)
		if raw {
			f.healthy++
		}
		return
	}
	if f.history[0] {
		f.healthy--
	}
	copy(f.history, f.history[1:])
	f.history[len(f.history)-1] = raw
	if raw {
		f.healthy++
	}
}

// Stats describes the window contents for observability.
type Stats struct {
	Size    int `json:"size"`
	Healthy int `json:"healthy"`
	Window  int `json:"window"`
}

func (f *Filter) Stats() Stats {
	return Stats{
		Size:    len(f.history),
		Healthy: f.healthy,
		Window:  f.cfg.Window,
	}
}

// History returns a copy of the window, oldest first.
func (f *Filter) History() []bool {
	return append([]bool(nil), f.history...)
}
