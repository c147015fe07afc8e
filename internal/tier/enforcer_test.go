package tier

import (
	"context"
	"sort"
	"testing"
	"time"

	"pricebot/internal/plan"
	logx "pricebot/pkg/logx"
)

type memStore struct {
	states map[int64]State
	plans  map[int64][]plan.PersonalPlan
}

func newMemStore() *memStore {
	return &memStore{states: map[int64]State{}, plans: map[int64][]plan.PersonalPlan{}}
}

func (m *memStore) ListExpiredTiers(_ context.Context, now time.Time) ([]State, error) {
	var out []State
	for _, st := range m.states {
		if st.Expired(now) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memStore) TierState(_ context.Context, userID int64) (State, error) {
	st, ok := m.states[userID]
	if !ok {
		return State{UserID: userID, Tier: Free}, nil
	}
	return st, nil
}

func (m *memStore) SetTier(_ context.Context, userID int64, t Tier, end *time.Time) error {
	m.states[userID] = State{UserID: userID, Tier: t, SubscriptionEnd: end}
	return nil
}

func (m *memStore) ClearSubscriptionEnd(_ context.Context, userID int64) error {
	st := m.states[userID]
	st.UserID = userID
	st.SubscriptionEnd = nil
	m.states[userID] = st
	return nil
}

func (m *memStore) UserPersonalPlans(_ context.Context, userID int64) ([]plan.PersonalPlan, error) {
	return append([]plan.PersonalPlan(nil), m.plans[userID]...), nil
}

func (m *memStore) DeletePersonalPlan(_ context.Context, userID, planID int64) error {
	ps := m.plans[userID]
	for i, p := range ps {
		if p.ID == planID {
			m.plans[userID] = append(ps[:i], ps[i+1:]...)
			return nil
		}
	}
	return nil
}

type fakeOnce struct {
	actions   map[string]func(ctx context.Context)
	schedules int
}

func (f *fakeOnce) RunOnceNamed(name string, _ time.Time, fn func(ctx context.Context)) {
	if f.actions == nil {
		f.actions = map[string]func(ctx context.Context){}
	}
	f.actions[name] = fn
	f.schedules++
}

func (f *fakeOnce) fire(ctx context.Context, name string) {
	if fn := f.actions[name]; fn != nil {
		fn(ctx)
	}
}

type fakeNotifier struct{ msgs map[int64][]string }

func (f *fakeNotifier) NotifyUser(_ context.Context, userID int64, text string) {
	if f.msgs == nil {
		f.msgs = map[int64][]string{}
	}
	f.msgs[userID] = append(f.msgs[userID], text)
}

func testEnforcer(store *memStore, sched *fakeOnce, notify *fakeNotifier, now time.Time) *Enforcer {
	e := NewEnforcer(store, sched, notify, nil, logx.Nop())
	e.now = func() time.Time { return now }
	return e
}

func somePlans(userID int64, base time.Time) []plan.PersonalPlan {
	return []plan.PersonalPlan{
		{ID: 1, UserID: userID, IntervalMinutes: 3, FirstFire: base, CreatedAt: base},
		{ID: 2, UserID: userID, IntervalMinutes: 10, FirstFire: base, CreatedAt: base.Add(time.Hour)},
		{ID: 3, UserID: userID, IntervalMinutes: 20, FirstFire: base, CreatedAt: base.Add(2 * time.Hour)},
	}
}

func TestSweepDowngradesAndSchedulesGrace(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	ended := now.Add(-2 * time.Hour)

	store := newMemStore()
	store.states[7] = State{UserID: 7, Tier: Pro, SubscriptionEnd: &ended}
	sched := &fakeOnce{}
	notify := &fakeNotifier{}
	e := testEnforcer(store, sched, notify, now)

	e.Sweep(context.Background())

	if st := store.states[7]; st.Tier != Free {
		t.Fatalf("tier after sweep = %v, want Free", st.Tier)
	}
	if len(notify.msgs[7]) != 1 {
		t.Fatalf("expiry notifications = %d, want 1", len(notify.msgs[7]))
	}
	if len(sched.actions) != 1 {
		t.Fatalf("scheduled actions = %d, want 1", len(sched.actions))
	}

	// Re-running the sweep must not stack a second action or re-notify.
	e.Sweep(context.Background())
	if len(sched.actions) != 1 {
		t.Fatalf("actions after re-sweep = %d, want 1 (deduped by name)", len(sched.actions))
	}
	if len(notify.msgs[7]) != 1 {
		t.Fatalf("notifications after re-sweep = %d, want 1", len(notify.msgs[7]))
	}
}

func TestPruneKeepsEarliestValidPlan(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	base := now.Add(-48 * time.Hour)

	store := newMemStore()
	store.states[7] = State{UserID: 7, Tier: Free}
	store.plans[7] = somePlans(7, base)
	sched := &fakeOnce{}
	e := testEnforcer(store, sched, &fakeNotifier{}, now)

	e.PruneUser(context.Background(), 7)

	left := store.plans[7]
	if len(left) != 1 {
		t.Fatalf("plans left = %d, want 1", len(left))
	}
	// Plan 1 has interval 3 < Free minimum 5: removed even though it is the
	// earliest. Plan 2 is the earliest remaining valid one.
	if left[0].ID != 2 {
		t.Fatalf("kept plan %d, want 2 (earliest with interval >= min)", left[0].ID)
	}
}

func TestPruneRespectsReupgradeDuringGrace(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)
	base := now.Add(-48 * time.Hour)
	freshEnd := now.Add(29 * 24 * time.Hour)

	store := newMemStore()
	store.states[7] = State{UserID: 7, Tier: Pro, SubscriptionEnd: &freshEnd}
	store.plans[7] = somePlans(7, base)
	sched := &fakeOnce{}
	e := testEnforcer(store, sched, &fakeNotifier{}, now)

	e.PruneUser(context.Background(), 7)

	// Pro allows 3 plans, min interval 1: nothing to prune.
	if got := len(store.plans[7]); got != 3 {
		t.Fatalf("plans left = %d, want 3", got)
	}
	// The fresh upgrade's expiry must not be clobbered.
	if st := store.states[7]; st.SubscriptionEnd == nil || !st.SubscriptionEnd.Equal(freshEnd) {
		t.Fatalf("subscription end clobbered: %+v", st)
	}
}

func TestGraceActionFiresPruning(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 4, 4, 0, 0, 0, 0, time.UTC)
	ended := now.Add(-30 * time.Hour) // past expiry AND past grace
	base := now.Add(-60 * 24 * time.Hour)

	store := newMemStore()
	store.states[9] = State{UserID: 9, Tier: Ultra, SubscriptionEnd: &ended}
	store.plans[9] = somePlans(9, base)
	sched := &fakeOnce{}
	notify := &fakeNotifier{}
	e := testEnforcer(store, sched, notify, now)

	e.Sweep(context.Background())
	sched.fire(context.Background(), "tier.grace.9")

	if got := len(store.plans[9]); got != 1 {
		t.Fatalf("plans left = %d, want 1 after grace pruning", got)
	}
	if st := store.states[9]; st.SubscriptionEnd != nil {
		t.Fatalf("subscription end not cleared for still-Free user: %+v", st)
	}
	// One expiry message, one pruning message.
	if got := len(notify.msgs[9]); got != 2 {
		t.Fatalf("notifications = %d, want 2", got)
	}
}

func TestOnPaymentConfirmed(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 4, 5, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	e := testEnforcer(store, &fakeOnce{}, &fakeNotifier{}, now)

	if err := e.OnPaymentConfirmed(context.Background(), 3, Ultra, now); err != nil {
		t.Fatal(err)
	}
	st := store.states[3]
	if st.Tier != Ultra {
		t.Fatalf("tier = %v, want Ultra", st.Tier)
	}
	want := now.Add(SubscriptionDuration)
	if st.SubscriptionEnd == nil || !st.SubscriptionEnd.Equal(want) {
		t.Fatalf("subscription end = %v, want %v", st.SubscriptionEnd, want)
	}
}
