package decision

import (
	"github.com/Sh00ty/mt-route-daemon/pkg/routing"
)

const (
	ReasonPassive  = "PASSIVE MODE"
	ReasonFailsafe = "STATE 0 - FAILSAFE (no route changes)"
	ReasonDwell    = "DWELL TIME ENFORCED"
)

// Plan is what the route mutators are asked to do on one cycle.
type Plan struct {
	Primary   routing.Directive         `json:"primary"`
	Secondary routing.Directive         `json:"secondary"`
	Priority  routing.PriorityDirective `json:"priority"`
	// PriorityValue is the Cloudflare priority behind Priority, zero for no change.
	PriorityValue int    `json:"priority_value,omitempty"`
	SkipUpdates   bool   `json:"skip_updates"`
	Reason        string `json:"reason,omitempty"`
}

func (p Plan) Actions() routing.Actions {
	return routing.Actions{Primary: p.Primary, Secondary: p.Secondary}
}

func skipPlan(reason string) Plan {
	return Plan{
		Primary:     routing.NoChange,
		Secondary:   routing.NoChange,
		Priority:    routing.PriorityNoChange,
		SkipUpdates: true,
		Reason:      reason,
	}
}

type Resolver struct {
	Passive           bool
	PrimaryPriority   int
	SecondaryPriority int
}

// Resolve turns the state in effect into directives. holdReason is the
// reason a gate closed on this cycle, empty when the gates let it through.
// localHealthy is the smoothed local health and only drives the priority.
func (r Resolver) Resolve(state routing.State, holdReason string, localHealthy bool) Plan {
	switch {
	case r.Passive:
		return skipPlan(ReasonPassive)
	case state == routing.Failsafe:
		return skipPlan(ReasonFailsafe)
	case holdReason != "":
		return skipPlan(holdReason)
	}

	actions := routing.ActionsFor(state)
	plan := Plan{
		Primary:   actions.Primary,
		Secondary: actions.Secondary,
	}
	if localHealthy {
		plan.Priority = routing.UsePrimary
		plan.PriorityValue = r.PrimaryPriority
	} else {
		plan.Priority = routing.UseSecondary
		plan.PriorityValue = r.SecondaryPriority
	}
	return plan
}
