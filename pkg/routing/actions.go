package routing

import "fmt"

// Directive tells a route mutator what to do with one prefix.
// NoChange is not the same as Withdraw: it leaves the prefix as it is.
type Directive uint8

const (
	NoChange Directive = iota
	Advertise
	Withdraw
)

func (d Directive) String() string {
	switch d {
	case NoChange:
		return "no_change"
	case Advertise:
		return "advertise"
	case Withdraw:
		return "withdraw"
	}
	return fmt.Sprintf("directive(%d)", uint8(d))
}

func (d Directive) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func directiveFor(advertise bool) Directive {
	if advertise {
		return Advertise
	}
	return Withdraw
}

// Actions is the pair of advertisement directives for the primary and
// secondary prefixes.
type Actions struct {
	Primary   Directive
	Secondary Directive
}

func (a Actions) Changes() bool {
	return a.Primary != NoChange || a.Secondary != NoChange
}

func (a Actions) String() string {
	return fmt.Sprintf("primary=%s secondary=%s", a.Primary, a.Secondary)
}

var stateActions = map[State]Actions{
	Failsafe:              {Primary: NoChange, Secondary: NoChange},
	AllHealthy:            {Primary: directiveFor(true), Secondary: directiveFor(false)},
	LocalUnhealthy:        {Primary: directiveFor(false), Secondary: directiveFor(false)},
	RemoteUnhealthy:       {Primary: directiveFor(true), Secondary: directiveFor(true)},
	BothUnhealthy:         {Primary: directiveFor(true), Secondary: directiveFor(false)},
	BGPDownLocalUnhealthy: {Primary: directiveFor(true), Secondary: directiveFor(false)},
	BGPDownHealthy:        {Primary: directiveFor(true), Secondary: directiveFor(true)},
}

// ActionsFor returns the fixed advertisement plan for a state.
// Codes outside the table get no-change for both prefixes.
func ActionsFor(s State) Actions {
	if actions, ok := stateActions[s]; ok {
		return actions
	}
	return Actions{Primary: NoChange, Secondary: NoChange}
}

// PriorityDirective selects which configured Cloudflare priority to apply.
type PriorityDirective uint8

const (
	PriorityNoChange PriorityDirective = iota
	UsePrimary
	UseSecondary
)

func (p PriorityDirective) String() string {
	switch p {
	case PriorityNoChange:
		return "no_change"
	case UsePrimary:
		return "use_primary"
	case UseSecondary:
		return "use_secondary"
	}
	return fmt.Sprintf("priority_directive(%d)", uint8(p))
}

func (p PriorityDirective) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
