package plan

import (
	"fmt"
	"time"
)

// BaseIntervals are the fixed intervals (minutes) offered for base
// subscriptions. Base plans fire when the current UTC minute-of-day is
// divisible by the interval, so every subscriber of the same interval is
// notified in the same tick.
var BaseIntervals = []int{15, 30, 60, 240, 1440}

// IsBaseInterval reports whether m is one of the predefined base intervals.
func IsBaseInterval(m int) bool {
	for _, i := range BaseIntervals {
		if i == m {
			return true
		}
	}
	return false
}

// BaseSubscription is a clock-aligned recurring notification.
// Keyed by (UserID, IntervalMinutes); no expiry.
type BaseSubscription struct {
	UserID          int64
	IntervalMinutes int
}

// PersonalPlan is a recurring notification anchored to a user-chosen first
// fire instant (stored in UTC). FirstFire is immutable once set.
type PersonalPlan struct {
	ID              int64
	UserID          int64
	IntervalMinutes int
	FirstFire       time.Time
	CreatedAt       time.Time
}

// FormatInterval renders an interval for user-facing text
// ("15 minutes", "4 hours", "1 day").
func FormatInterval(minutes int) string {
	switch {
	case minutes%1440 == 0:
		d := minutes / 1440
		if d == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", d)
	case minutes%60 == 0:
		h := minutes / 60
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}
