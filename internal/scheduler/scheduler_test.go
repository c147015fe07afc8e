package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "pricebot/pkg/logx"
)

func TestRunOnceNamedReplacesByName(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	var first, second atomic.Int32
	s.RunOnceNamed("grace.1", time.Now().Add(50*time.Millisecond), func(context.Context) {
		first.Add(1)
	})
	// Same name again: the first timer must never fire.
	s.RunOnceNamed("grace.1", time.Now().Add(20*time.Millisecond), func(context.Context) {
		second.Add(1)
	})

	time.Sleep(200 * time.Millisecond)
	if got := first.Load(); got != 0 {
		t.Fatalf("replaced timer fired %d times", got)
	}
	if got := second.Load(); got != 1 {
		t.Fatalf("replacement fired %d times, want 1", got)
	}
}

func TestRunOnceNamedPastDeadlineFiresImmediately(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	fired := make(chan struct{})
	s.RunOnceNamed("grace.2", time.Now().Add(-time.Hour), func(context.Context) {
		close(fired)
	})
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("past-deadline action did not fire")
	}
}

func TestRemoveCancelsPendingOnce(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var fired atomic.Int32
	s.RunOnceNamed("grace.3", time.Now().Add(30*time.Millisecond), func(context.Context) {
		fired.Add(1)
	})
	if !s.Remove("grace.3") {
		t.Fatal("Remove reported nothing removed")
	}
	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("removed timer fired %d times", got)
	}
}

func TestAddCronUpsertsByName(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	noop := func(context.Context) error { return nil }
	if err := s.AddCron("tick", "* * * * *", time.Minute, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.AddCron("tick", "*/5 * * * *", time.Minute, noop); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	defs := len(s.defs)
	spec := s.defs[0].spec
	s.mu.Unlock()
	if defs != 1 {
		t.Fatalf("defs = %d, want 1", defs)
	}
	if spec != "*/5 * * * *" {
		t.Fatalf("spec = %q, want replacement", spec)
	}
}

func TestAddEveryRunsJob(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var runs atomic.Int32
	err := s.AddEvery("fast", 20*time.Millisecond, time.Second, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("interval job never ran")
	}
}

func TestAddCronRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	err := s.AddCron("bad", "not a spec", 0, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected parse error")
	}
}
