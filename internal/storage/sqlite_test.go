package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pricebot/internal/plan"
	"pricebot/internal/tier"
	"pricebot/internal/userclock"
	logx "pricebot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCurrencyPreferences(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	got, err := st.LoadCurrencies(ctx, 1)
	if err != nil || got != nil {
		t.Fatalf("fresh user: got %v, %v", got, err)
	}

	if err := st.SaveCurrencies(ctx, 1, []string{"USD", "EUR"}); err != nil {
		t.Fatal(err)
	}
	got, err = st.LoadCurrencies(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "USD" || got[1] != "EUR" {
		t.Fatalf("got %v", got)
	}

	// Overwrite replaces in full.
	if err := st.SaveCurrencies(ctx, 1, []string{"CAD"}); err != nil {
		t.Fatal(err)
	}
	got, _ = st.LoadCurrencies(ctx, 1)
	if len(got) != 1 || got[0] != "CAD" {
		t.Fatalf("after overwrite: %v", got)
	}

	if err := st.ClearCurrencies(ctx, 1); err != nil {
		t.Fatal(err)
	}
	got, _ = st.LoadCurrencies(ctx, 1)
	if got != nil {
		t.Fatalf("after clear: %v", got)
	}
}

func TestBaseSubscriptions(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, uid := range []int64{10, 11} {
		if err := st.AddBaseSubscription(ctx, uid, 15); err != nil {
			t.Fatal(err)
		}
	}
	// Duplicate add is a no-op.
	if err := st.AddBaseSubscription(ctx, 10, 15); err != nil {
		t.Fatal(err)
	}
	if err := st.AddBaseSubscription(ctx, 10, 60); err != nil {
		t.Fatal(err)
	}

	ids, err := st.BaseSubscribers(ctx, 15)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("subscribers(15) = %v", ids)
	}

	ivs, err := st.UserBaseIntervals(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ivs) != 2 || ivs[0] != 15 || ivs[1] != 60 {
		t.Fatalf("intervals(10) = %v", ivs)
	}

	if err := st.RemoveBaseSubscription(ctx, 10, 15); err != nil {
		t.Fatal(err)
	}
	ids, _ = st.BaseSubscribers(ctx, 15)
	if len(ids) != 1 || ids[0] != 11 {
		t.Fatalf("after remove: %v", ids)
	}
}

func TestPersonalPlansRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	first := time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC)
	id, err := st.AddPersonalPlan(ctx, plan.PersonalPlan{
		UserID: 5, IntervalMinutes: 20, FirstFire: first,
		CreatedAt: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("no id assigned")
	}

	plans, err := st.UserPersonalPlans(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != 1 {
		t.Fatalf("plans = %v", plans)
	}
	p := plans[0]
	if p.ID != id || p.IntervalMinutes != 20 || !p.FirstFire.Equal(first) {
		t.Fatalf("round trip mismatch: %+v", p)
	}

	n, err := st.CountPersonalPlans(ctx, 5)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}

	all, err := st.AllPersonalPlans(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("all = %v, %v", all, err)
	}

	// Delete scoped by owner: wrong user must not remove it.
	if err := st.DeletePersonalPlan(ctx, 6, id); err != nil {
		t.Fatal(err)
	}
	if n, _ := st.CountPersonalPlans(ctx, 5); n != 1 {
		t.Fatal("foreign delete removed the plan")
	}
	if err := st.DeletePersonalPlan(ctx, 5, id); err != nil {
		t.Fatal(err)
	}
	if n, _ := st.CountPersonalPlans(ctx, 5); n != 0 {
		t.Fatal("plan not deleted")
	}
}

func TestTimeSettingUpsert(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	got, err := st.TimeSetting(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsSet() {
		t.Fatalf("fresh user has setting: %+v", got)
	}

	want := userclock.Setting{Timezone: "Europe/Berlin", OffsetMinutes: 120, Method: userclock.MethodLocation}
	if err := st.SetTimeSetting(ctx, 7, want); err != nil {
		t.Fatal(err)
	}
	got, _ = st.TimeSetting(ctx, 7)
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	// Switching to manual clears the zone name.
	want = userclock.Setting{OffsetMinutes: -300, Method: userclock.MethodManual}
	if err := st.SetTimeSetting(ctx, 7, want); err != nil {
		t.Fatal(err)
	}
	got, _ = st.TimeSetting(ctx, 7)
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestTierLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	// Unknown users default to free.
	got, err := st.TierState(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if got.Tier != tier.Free || got.SubscriptionEnd != nil {
		t.Fatalf("fresh state = %+v", got)
	}

	end := now.Add(30 * 24 * time.Hour)
	if err := st.SetTier(ctx, 42, tier.Pro, &end); err != nil {
		t.Fatal(err)
	}
	got, _ = st.TierState(ctx, 42)
	if got.Tier != tier.Pro || got.SubscriptionEnd == nil || !got.SubscriptionEnd.Equal(end) {
		t.Fatalf("state = %+v", got)
	}

	// Not expired yet.
	exp, err := st.ListExpiredTiers(ctx, end.Add(-time.Minute))
	if err != nil || len(exp) != 0 {
		t.Fatalf("expired early: %v, %v", exp, err)
	}
	exp, err = st.ListExpiredTiers(ctx, end.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(exp) != 1 || exp[0].UserID != 42 || exp[0].Tier != tier.Pro {
		t.Fatalf("expired = %+v", exp)
	}

	// Sweep-style downgrade keeps the end marker for the grace window.
	if err := st.SetTier(ctx, 42, tier.Free, &end); err != nil {
		t.Fatal(err)
	}
	got, _ = st.TierState(ctx, 42)
	if got.Tier != tier.Free || got.SubscriptionEnd == nil {
		t.Fatalf("after downgrade: %+v", got)
	}

	if err := st.ClearSubscriptionEnd(ctx, 42); err != nil {
		t.Fatal(err)
	}
	got, _ = st.TierState(ctx, 42)
	if got.SubscriptionEnd != nil {
		t.Fatalf("end not cleared: %+v", got)
	}
	exp, _ = st.ListExpiredTiers(ctx, end.Add(time.Hour))
	if len(exp) != 0 {
		t.Fatalf("cleared user still listed: %+v", exp)
	}
}

func TestTierAndTimeSettingShareRow(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SetTimeSetting(ctx, 9, userclock.Setting{OffsetMinutes: 60, Method: userclock.MethodManual}); err != nil {
		t.Fatal(err)
	}
	end := time.Now().Add(time.Hour)
	if err := st.SetTier(ctx, 9, tier.Ultra, &end); err != nil {
		t.Fatal(err)
	}

	set, _ := st.TimeSetting(ctx, 9)
	if set.OffsetMinutes != 60 || set.Method != userclock.MethodManual {
		t.Fatalf("tier write clobbered time setting: %+v", set)
	}
	got, _ := st.TierState(ctx, 9)
	if got.Tier != tier.Ultra {
		t.Fatalf("state = %+v", got)
	}
}
