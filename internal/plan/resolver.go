package plan

import (
	"context"
	"time"

	logx "pricebot/pkg/logx"
)

// Source is the read side of the subscription store used by the resolver.
type Source interface {
	BaseSubscribers(ctx context.Context, intervalMinutes int) ([]int64, error)
	AllPersonalPlans(ctx context.Context) ([]PersonalPlan, error)
}

// Resolver computes, for a given instant, the set of users owed a
// notification. It is invoked once per minute, aligned to :00 seconds by
// the caller's scheduling discipline; there is no catch-up for skipped
// minutes.
type Resolver struct {
	src Source
	log logx.Logger
}

func NewResolver(src Source, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{src: src, log: log}
}

// Due returns the deduplicated set of user ids due at now. A user matched
// by several plans in the same tick appears once. Store errors for one
// plan family are logged and do not suppress matches from the other.
func (r *Resolver) Due(ctx context.Context, now time.Time) map[int64]struct{} {
	now = now.UTC()
	due := make(map[int64]struct{})

	for _, interval := range BaseIntervals {
		if !baseDue(now, interval) {
			continue
		}
		users, err := r.src.BaseSubscribers(ctx, interval)
		if err != nil {
			r.log.Error("listing base subscribers failed", logx.Int("interval", interval), logx.Err(err))
			continue
		}
		for _, uid := range users {
			due[uid] = struct{}{}
		}
	}

	plans, err := r.src.AllPersonalPlans(ctx)
	if err != nil {
		r.log.Error("listing personal plans failed", logx.Err(err))
		return due
	}
	for _, p := range plans {
		if personalDue(now, p.FirstFire, p.IntervalMinutes) {
			due[p.UserID] = struct{}{}
		}
	}
	return due
}

// baseDue: fires when the UTC minute-of-day is divisible by the interval,
// independent of when the user subscribed.
func baseDue(now time.Time, intervalMinutes int) bool {
	if intervalMinutes <= 0 {
		return false
	}
	total := now.Hour()*60 + now.Minute()
	return total%intervalMinutes == 0
}

// personalDue: fires every interval counted from firstFire, never before it.
func personalDue(now, firstFire time.Time, intervalMinutes int) bool {
	if intervalMinutes <= 0 || now.Before(firstFire) {
		return false
	}
	elapsed := int(now.Sub(firstFire).Minutes())
	return elapsed%intervalMinutes == 0
}
