// Package tier enforces per-user quota profiles: how many personal plans a
// user may hold and the smallest interval they may choose.
package tier

import "time"

type Tier int

const (
	Free Tier = iota
	Pro
	Ultra
)

func (t Tier) String() string {
	switch t {
	case Pro:
		return "Pro"
	case Ultra:
		return "Ultra"
	default:
		return "Free"
	}
}

// SubscriptionDuration is the paid period granted per payment.
const SubscriptionDuration = 30 * 24 * time.Hour

// GracePeriod is how long already-created plans may exceed the limits of a
// freshly-downgraded tier before pruning runs.
const GracePeriod = 24 * time.Hour

// Limits bound a tier's personal plans.
type Limits struct {
	MaxPersonalPlans   int
	MinIntervalMinutes int
}

// DefaultLimits is the static tier table.
var DefaultLimits = map[Tier]Limits{
	Free:  {MaxPersonalPlans: 1, MinIntervalMinutes: 5},
	Pro:   {MaxPersonalPlans: 3, MinIntervalMinutes: 1},
	Ultra: {MaxPersonalPlans: 5, MinIntervalMinutes: 1},
}

// LimitsFor returns the limits for t, defaulting to Free for unknown tiers.
func LimitsFor(t Tier) Limits {
	if l, ok := DefaultLimits[t]; ok {
		return l
	}
	return DefaultLimits[Free]
}

// State is a user's current tier. SubscriptionEnd is nil for Free users and
// for non-expiring grants; a paid tier with SubscriptionEnd in the past is
// expired and subject to the grace state machine.
type State struct {
	UserID          int64
	Tier            Tier
	SubscriptionEnd *time.Time
}

// Expired reports whether the paid period has lapsed at now.
func (s State) Expired(now time.Time) bool {
	return s.SubscriptionEnd != nil && s.SubscriptionEnd.Before(now)
}
