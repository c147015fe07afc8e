package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "pricebot/pkg/logx"
)

type fakeSource struct {
	base     map[int][]int64
	personal []PersonalPlan
	baseErr  error
	persErr  error
}

func (f *fakeSource) BaseSubscribers(_ context.Context, interval int) ([]int64, error) {
	if f.baseErr != nil {
		return nil, f.baseErr
	}
	return f.base[interval], nil
}

func (f *fakeSource) AllPersonalPlans(_ context.Context) ([]PersonalPlan, error) {
	if f.persErr != nil {
		return nil, f.persErr
	}
	return f.personal, nil
}

func utc(h, m int) time.Time {
	return time.Date(2026, 3, 9, h, m, 0, 0, time.UTC)
}

func TestBaseDue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		now      time.Time
		interval int
		want     bool
	}{
		{name: "30 at noon", now: utc(12, 0), interval: 30, want: true},
		{name: "30 at 12:15", now: utc(12, 15), interval: 30, want: false},
		{name: "15 at 12:15", now: utc(12, 15), interval: 15, want: true},
		{name: "240 at 08:00", now: utc(8, 0), interval: 240, want: true},
		{name: "240 at 09:00", now: utc(9, 0), interval: 240, want: false},
		{name: "1440 at midnight", now: utc(0, 0), interval: 1440, want: true},
		{name: "1440 at 00:01", now: utc(0, 1), interval: 1440, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := baseDue(tt.now, tt.interval); got != tt.want {
				t.Fatalf("baseDue(%v, %d) = %v, want %v", tt.now, tt.interval, got, tt.want)
			}
		})
	}
}

func TestPersonalDue(t *testing.T) {
	t.Parallel()
	first := utc(9, 0)
	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "at first fire", now: utc(9, 0), want: true},
		{name: "one interval later", now: utc(9, 20), want: true},
		{name: "two intervals later", now: utc(9, 40), want: true},
		{name: "off the grid", now: utc(9, 10), want: false},
		{name: "before first fire", now: utc(8, 40), want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := personalDue(tt.now, first, 20); got != tt.want {
				t.Fatalf("personalDue(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestResolverDeduplicates(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		base: map[int][]int64{
			15: {1, 2},
			30: {2, 3},
		},
		personal: []PersonalPlan{
			{ID: 1, UserID: 3, IntervalMinutes: 60, FirstFire: utc(9, 0)},
			{ID: 2, UserID: 4, IntervalMinutes: 7, FirstFire: utc(11, 58)},
		},
	}
	r := NewResolver(src, logx.Nop())

	// 12:00: every base interval matches; plan 1 matches (180 min elapsed),
	// plan 2 does not (2 min elapsed, 7 does not divide 2).
	due := r.Due(context.Background(), utc(12, 0))
	want := []int64{1, 2, 3}
	if len(due) != len(want) {
		t.Fatalf("due set = %v, want users %v", due, want)
	}
	for _, uid := range want {
		if _, ok := due[uid]; !ok {
			t.Fatalf("user %d missing from due set %v", uid, due)
		}
	}
}

func TestResolverFutureFirstFireNeverDue(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		personal: []PersonalPlan{
			{ID: 1, UserID: 9, IntervalMinutes: 15, FirstFire: utc(18, 0)},
		},
	}
	r := NewResolver(src, logx.Nop())
	for _, now := range []time.Time{utc(12, 0), utc(17, 45), utc(17, 59)} {
		if due := r.Due(context.Background(), now); len(due) != 0 {
			t.Fatalf("due at %v = %v, want empty", now, due)
		}
	}
}

func TestResolverTolerateStoreErrors(t *testing.T) {
	t.Parallel()
	src := &fakeSource{
		baseErr: errors.New("locked"),
		personal: []PersonalPlan{
			{ID: 1, UserID: 5, IntervalMinutes: 30, FirstFire: utc(6, 0)},
		},
	}
	r := NewResolver(src, logx.Nop())
	due := r.Due(context.Background(), utc(12, 0))
	if _, ok := due[5]; !ok || len(due) != 1 {
		t.Fatalf("due = %v, want personal-plan user 5 only", due)
	}
}

func TestFormatInterval(t *testing.T) {
	t.Parallel()
	tests := []struct {
		minutes int
		want    string
	}{
		{15, "15 minutes"},
		{60, "1 hour"},
		{240, "4 hours"},
		{1440, "1 day"},
		{2880, "2 days"},
	}
	for _, tt := range tests {
		if got := FormatInterval(tt.minutes); got != tt.want {
			t.Fatalf("FormatInterval(%d) = %q, want %q", tt.minutes, got, tt.want)
		}
	}
}
