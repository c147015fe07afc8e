package tier

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pricebot/internal/eventbus"
	"pricebot/internal/plan"
	logx "pricebot/pkg/logx"
)

// Store is the slice of the persistence layer the enforcer needs.
type Store interface {
	ListExpiredTiers(ctx context.Context, now time.Time) ([]State, error)
	TierState(ctx context.Context, userID int64) (State, error)
	SetTier(ctx context.Context, userID int64, t Tier, end *time.Time) error
	ClearSubscriptionEnd(ctx context.Context, userID int64) error
	UserPersonalPlans(ctx context.Context, userID int64) ([]plan.PersonalPlan, error)
	DeletePersonalPlan(ctx context.Context, userID, planID int64) error
}

// OnceScheduler schedules a named one-shot action. Scheduling again under
// the same name replaces the pending action instead of stacking a second
// one; the name is the dedup key.
type OnceScheduler interface {
	RunOnceNamed(name string, at time.Time, fn func(ctx context.Context))
}

// UserNotifier delivers a plain service message to one user (best effort).
type UserNotifier interface {
	NotifyUser(ctx context.Context, userID int64, text string)
}

// Enforcer drives the per-user expiry state machine:
//
//	ACTIVE(tier) -> subscription_end passes -> EXPIRED_GRACE -> grace
//	elapses -> PRUNED(FREE)
//
// The sweep downgrades the stored tier immediately so new plan creation is
// quota-checked against FREE, but leaves existing plans alone until the
// grace action fires.
type Enforcer struct {
	store  Store
	sched  OnceScheduler
	notify UserNotifier
	bus    eventbus.Bus
	log    logx.Logger

	grace time.Duration
	now   func() time.Time
}

func NewEnforcer(store Store, sched OnceScheduler, notify UserNotifier, bus eventbus.Bus, log logx.Logger) *Enforcer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Enforcer{
		store:  store,
		sched:  sched,
		notify: notify,
		bus:    bus,
		log:    log,
		grace:  GracePeriod,
		now:    time.Now,
	}
}

// SetGrace overrides the default grace window. Zero or negative keeps the
// current value.
func (e *Enforcer) SetGrace(d time.Duration) {
	if d > 0 {
		e.grace = d
	}
}

// Sweep finds users whose paid period lapsed, downgrades them and schedules
// the grace-expiry pruning. Safe to re-run: a user already in grace gets
// the same named action replaced, never a duplicate.
func (e *Enforcer) Sweep(ctx context.Context) {
	now := e.now().UTC()
	expired, err := e.store.ListExpiredTiers(ctx, now)
	if err != nil {
		e.log.Error("listing expired tiers failed", logx.Err(err))
		return
	}
	for _, st := range expired {
		e.expireUser(ctx, st, now)
	}
	if len(expired) > 0 {
		e.log.Info("tier sweep complete", logx.Int("expired", len(expired)))
	}
}

func (e *Enforcer) expireUser(ctx context.Context, st State, now time.Time) {
	if st.SubscriptionEnd == nil {
		return
	}
	endedAt := st.SubscriptionEnd.UTC()

	// First sweep that sees this expiry: downgrade and tell the user.
	// Later sweeps inside the grace window see Tier already Free and only
	// refresh the pending action.
	if st.Tier != Free {
		if err := e.store.SetTier(ctx, st.UserID, Free, st.SubscriptionEnd); err != nil {
			e.log.Error("tier downgrade failed", logx.Int64("user", st.UserID), logx.Err(err))
			return
		}
		e.log.Info("paid tier expired",
			logx.Int64("user", st.UserID),
			logx.String("was", st.Tier.String()),
			logx.Time("ended_at", endedAt))
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: eventbus.EventTierExpired, Data: st.UserID})
		}
		if e.notify != nil {
			e.notify.NotifyUser(ctx, st.UserID, fmt.Sprintf(
				"⚠️ Your %s subscription has expired. Personal plans beyond the Free limits "+
					"will be removed in %s unless you renew.", st.Tier, formatGrace(e.grace)))
		}
	}

	at := endedAt.Add(e.grace)
	if at.Before(now) {
		at = now
	}
	userID := st.UserID
	e.sched.RunOnceNamed(graceActionName(userID), at, func(ctx context.Context) {
		e.PruneUser(ctx, userID)
	})
}

func graceActionName(userID int64) string {
	return fmt.Sprintf("tier.grace.%d", userID)
}

// PruneUser applies the user's *current* limits; the user may have
// re-upgraded during grace, in which case the higher limits apply and the
// fresh subscription_end is left untouched.
//
// Pruning order: plans below the minimum interval go first regardless of
// count; if the remainder still exceeds the maximum, the earliest-created
// plans are kept and the rest deleted.
func (e *Enforcer) PruneUser(ctx context.Context, userID int64) {
	st, err := e.store.TierState(ctx, userID)
	if err != nil {
		e.log.Error("tier state read failed", logx.Int64("user", userID), logx.Err(err))
		return
	}
	limits := LimitsFor(st.Tier)

	plans, err := e.store.UserPersonalPlans(ctx, userID)
	if err != nil {
		e.log.Error("listing personal plans failed", logx.Int64("user", userID), logx.Err(err))
		return
	}
	sort.Slice(plans, func(i, j int) bool {
		if !plans[i].CreatedAt.Equal(plans[j].CreatedAt) {
			return plans[i].CreatedAt.Before(plans[j].CreatedAt)
		}
		return plans[i].ID < plans[j].ID
	})

	var doomed []plan.PersonalPlan
	kept := plans[:0:0]
	for _, p := range plans {
		if p.IntervalMinutes < limits.MinIntervalMinutes {
			doomed = append(doomed, p)
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) > limits.MaxPersonalPlans {
		doomed = append(doomed, kept[limits.MaxPersonalPlans:]...)
		kept = kept[:limits.MaxPersonalPlans]
	}

	pruned := 0
	for _, p := range doomed {
		if err := e.store.DeletePersonalPlan(ctx, userID, p.ID); err != nil {
			e.log.Error("plan prune failed",
				logx.Int64("user", userID), logx.Int64("plan", p.ID), logx.Err(err))
			continue
		}
		pruned++
	}

	// A fresh upgrade during grace carries its own subscription_end; only a
	// still-Free user gets it cleared.
	if st.Tier == Free {
		if err := e.store.ClearSubscriptionEnd(ctx, userID); err != nil {
			e.log.Error("clearing subscription end failed", logx.Int64("user", userID), logx.Err(err))
		}
	}

	if pruned > 0 {
		e.log.Info("personal plans pruned",
			logx.Int64("user", userID),
			logx.Int("pruned", pruned),
			logx.Int("kept", len(kept)),
			logx.String("tier", st.Tier.String()))
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: eventbus.EventPlansPruned, Data: userID})
		}
		if e.notify != nil {
			e.notify.NotifyUser(ctx, userID, fmt.Sprintf(
				"🗑 %d personal plan(s) exceeding the %s tier limits were removed.", pruned, st.Tier))
		}
	}
}

// OnPaymentConfirmed upgrades the user and starts a fresh 30-day period.
func (e *Enforcer) OnPaymentConfirmed(ctx context.Context, userID int64, t Tier, now time.Time) error {
	end := now.UTC().Add(SubscriptionDuration)
	if err := e.store.SetTier(ctx, userID, t, &end); err != nil {
		return fmt.Errorf("applying paid tier: %w", err)
	}
	e.log.Info("tier upgraded",
		logx.Int64("user", userID),
		logx.String("tier", t.String()),
		logx.Time("until", end))
	return nil
}

func formatGrace(d time.Duration) string {
	if h := int(d.Hours()); h >= 1 {
		return fmt.Sprintf("%d hours", h)
	}
	return d.String()
}
