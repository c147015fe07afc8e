package storage

import (
	"context"
	"time"

	"pricebot/internal/plan"
	"pricebot/internal/tier"
	"pricebot/internal/userclock"
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (2s)
}

// Store is the persistence API for subscriptions, preferences and tiers.
// It satisfies plan.Source, tier.Store and notify.Prefs.
type Store interface {
	// Currency display preferences; empty list means "show everything".
	SaveCurrencies(ctx context.Context, userID int64, currencies []string) error
	LoadCurrencies(ctx context.Context, userID int64) ([]string, error)
	ClearCurrencies(ctx context.Context, userID int64) error

	// Base subscriptions (fixed UTC-aligned intervals).
	AddBaseSubscription(ctx context.Context, userID int64, intervalMinutes int) error
	RemoveBaseSubscription(ctx context.Context, userID int64, intervalMinutes int) error
	BaseSubscribers(ctx context.Context, intervalMinutes int) ([]int64, error)
	UserBaseIntervals(ctx context.Context, userID int64) ([]int, error)

	// Personal plans (per-user anchor time and interval).
	AddPersonalPlan(ctx context.Context, p plan.PersonalPlan) (int64, error)
	DeletePersonalPlan(ctx context.Context, userID, planID int64) error
	UserPersonalPlans(ctx context.Context, userID int64) ([]plan.PersonalPlan, error)
	AllPersonalPlans(ctx context.Context) ([]plan.PersonalPlan, error)
	CountPersonalPlans(ctx context.Context, userID int64) (int, error)

	// User clock settings.
	TimeSetting(ctx context.Context, userID int64) (userclock.Setting, error)
	SetTimeSetting(ctx context.Context, userID int64, s userclock.Setting) error

	// Tier state.
	TierState(ctx context.Context, userID int64) (tier.State, error)
	SetTier(ctx context.Context, userID int64, t tier.Tier, end *time.Time) error
	ClearSubscriptionEnd(ctx context.Context, userID int64) error
	ListExpiredTiers(ctx context.Context, now time.Time) ([]tier.State, error)

	Close() error
}
