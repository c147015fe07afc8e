// Package scheduler triggers the bot's recurring work: the minute-aligned
// notify tick, periodic price refreshes and the tier sweep. It also carries
// named one-shot timers used for deferred actions such as grace expiry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "pricebot/pkg/logx"
)

type Config struct {
	Timezone string // IANA TZ; empty means UTC
}

type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	running atomic.Bool
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	baseCtx context.Context
	wg      sync.WaitGroup

	// one-time timers, keyed by name; version guards stale callbacks
	tmu     sync.Mutex
	timers  map[string]*time.Timer
	onceVer map[string]uint64
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers:  map[string]*time.Timer{},
		onceVer: map[string]uint64{},
	}
}

// AddCron registers a cron-triggered job. Registering the same name again
// replaces the previous schedule, so hot-reload re-registration is safe.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	s.removeScheduleLocked(name)
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs = append(s.defs, d)
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed",
				logx.String("name", name), logx.String("spec", spec), logx.Err(err))
			return err
		}
		s.log.Debug("schedule registered",
			logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout))
	}
	return nil
}

// AddEvery registers a fixed-interval job via the cron @every descriptor.
func (s *Service) AddEvery(name string, every, timeout time.Duration, job Job) error {
	if every <= 0 {
		return fmt.Errorf("invalid interval %s", every)
	}
	return s.AddCron(name, fmt.Sprintf("@every %s", every), timeout, job)
}

// RunOnceNamed schedules fn to run once at the given time. A later call with
// the same name replaces the pending timer, which makes the name a natural
// dedup key for retry-prone callers.
func (s *Service) RunOnceNamed(name string, at time.Time, fn func(ctx context.Context)) {
	if strings.TrimSpace(name) == "" || fn == nil {
		return
	}
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	s.tmu.Lock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
	ver := s.onceVer[name] + 1
	s.onceVer[name] = ver

	localName := name
	localVer := ver
	s.timers[name] = time.AfterFunc(delay, func() {
		s.tmu.Lock()
		if s.onceVer[localName] != localVer {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, localName)
		delete(s.onceVer, localName)
		s.tmu.Unlock()

		s.run(localName, 0, func(ctx context.Context) error {
			fn(ctx)
			return nil
		})
	})
	s.tmu.Unlock()

	s.log.Debug("once scheduled",
		logx.String("name", name), logx.Time("at", at.UTC()))
}

// Remove unschedules the named job, recurring or one-shot. It reports whether
// anything was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
		delete(s.onceVer, name)
		removed = true
	}
	s.tmu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Start begins cron triggering. Jobs launched after Start inherit ctx, so
// cancelling it interrupts in-flight runs.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.baseCtx = ctx
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed",
				logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started",
		logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts cron triggering, cancels pending one-shot timers and waits for
// in-flight jobs up to the context deadline.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.onceVer = map[string]uint64{}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	eid, err := s.c.AddJob(d.spec, cron.FuncJob(func() {
		// Skip if the previous run is still in flight; recurring jobs here are
		// cheap and a queued backlog would only pile up duplicates.
		if !d.running.CompareAndSwap(false, true) {
			s.log.Warn("schedule skipped, previous run in flight", logx.String("name", d.name))
			return
		}
		s.run(d.name, d.timeout, func(ctx context.Context) error {
			defer d.running.Store(false)
			return d.job(ctx)
		})
	}))
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) run(name string, timeout time.Duration, job Job) {
	base := s.baseCtx
	if base == nil {
		base = context.Background()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job panic",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		ctx := base
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(base, timeout)
			defer cancel()
		}
		if err := job(ctx); err != nil {
			s.log.Warn("job failed", logx.String("name", name), logx.Err(err))
		}
	}()
}

func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to UTC",
			logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}
