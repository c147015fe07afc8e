// Package app wires the bot together: config manager, logging service,
// Telegram adapter, SQLite store, price cache, schedulers and the command
// router. It owns the process lifecycle and the hot-reload loop.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pricebot/internal/config"
	"pricebot/internal/eventbus"
	"pricebot/internal/notify"
	"pricebot/internal/observability/pprof"
	"pricebot/internal/plan"
	"pricebot/internal/price"
	"pricebot/internal/runtime/supervisor"
	"pricebot/internal/scheduler"
	"pricebot/internal/storage"
	"pricebot/internal/tier"
	kit "pricebot/internal/transport"
	telegram "pricebot/internal/transport/telegram/adapter"
	logx "pricebot/pkg/logx"
)

const (
	defaultPollTimeout  = 10 * time.Second
	defaultFetchTimeout = 5 * time.Second
	defaultFreshness    = 60 * time.Second
	defaultBusyTimeout  = 2 * time.Second
	defaultSweepCron    = "0 */8 * * *"
	// Cache warm-up runs offset from the minute boundary so the notify tick
	// at :00 reads a snapshot refreshed at :30 of the previous minute cycle.
	defaultRefreshOffset = 30 * time.Second
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	source   *price.Source
	cache    *price.Cache
	resolver *plan.Resolver
	fanout   *notify.Fanout
	enforcer *tier.Enforcer
	sched    *scheduler.Service

	router *Router
	pprof  *pprof.Service

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:         cfg.Telegram.Token,
		PaymentsToken: cfg.Telegram.PaymentsToken,
		PollTimeout:   cfg.Telegram.PollTimeoutOr(defaultPollTimeout),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Telegram sink disabled; set the target chat first,
	// then apply the final config so Apply never warns about a missing target.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    false,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))
	if cfg.Logging.Telegram.ChatID != 0 {
		logSvc.SetChatTarget(cfg.Logging.Telegram.ChatID)
	}
	finalLogCfg := baseLogCfg
	finalLogCfg.Telegram.Enabled = cfg.Logging.Telegram.Enabled
	logSvc.Apply(finalLogCfg)

	bus := eventbus.New()

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeoutOr(defaultBusyTimeout),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	currencies := cfg.PriceFeed.CurrencyList()
	source := price.NewSource(price.SourceConfig{
		Currencies:    currencies,
		BlockchainURL: cfg.PriceFeed.BlockchainURL,
		CoinGeckoURL:  cfg.PriceFeed.CoinGeckoURL,
		FetchTimeout:  cfg.PriceFeed.FetchTimeoutOr(defaultFetchTimeout),
	}, log.With(logx.String("comp", "pricefeed")))
	cache := price.NewCache(source, cfg.PriceFeed.FreshnessOr(defaultFreshness),
		log.With(logx.String("comp", "pricecache")))

	resolver := plan.NewResolver(store, log.With(logx.String("comp", "plans")))

	fanout := notify.NewFanout(notify.Config{
		Currencies: currencies,
		RatePerSec: cfg.Notify.RatePerSec,
	}, ad, store, bus, log.With(logx.String("comp", "notify")))

	sched := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone},
		log.With(logx.String("comp", "scheduler")))

	enforcer := tier.NewEnforcer(store, sched, fanout, bus,
		log.With(logx.String("comp", "tier")))
	enforcer.SetGrace(cfg.Tier.GraceOr(tier.GracePeriod))

	router := NewRouter(RouterDeps{
		Adapter:    ad,
		Store:      store,
		Cache:      cache,
		Enforcer:   enforcer,
		Currencies: currencies,
		Payments:   strings.TrimSpace(cfg.Telegram.PaymentsToken) != "",
		Log:        log.With(logx.String("comp", "router")),
	})

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		source:   source,
		cache:    cache,
		resolver: resolver,
		fanout:   fanout,
		enforcer: enforcer,
		sched:    sched,
		router:   router,
		pprof:    pprof.New(log.With(logx.String("comp", "pprof"))),
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is cancelled (fatal error
// or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	cfg := a.cfgm.Get()
	if err := a.registerSchedules(cfg); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())
	// Prime the cache and catch already-lapsed subscriptions without
	// waiting a full period.
	a.sched.RunOnceNamed("price.warmup", time.Now(), func(c context.Context) {
		a.cache.Refresh(c)
	})
	a.sched.RunOnceNamed("tier.sweep.kick", time.Now(), a.enforcer.Sweep)

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.pprof.Reconfigure(a.sup.Context(), pprof.Config{
		Enabled: cfg.Debug.PprofEnabled,
		Addr:    cfg.Debug.PprofAddr,
		Token:   cfg.Debug.PprofToken,
	})

	a.log.Info("app started")
	return nil
}

// registerSchedules installs (or re-installs, on reload) the recurring
// triggers. Names are stable so re-registration upserts.
func (a *App) registerSchedules(cfg *config.Config) error {
	freshness := cfg.PriceFeed.FreshnessOr(defaultFreshness)
	fetchTimeout := cfg.PriceFeed.FetchTimeoutOr(defaultFetchTimeout)

	// Notify tick: runs at :00 of every minute; due math tolerates the
	// cron engine's one-minute granularity.
	if err := a.sched.AddCron("notify.tick", "* * * * *", 55*time.Second, func(c context.Context) error {
		due := a.resolver.Due(c, time.Now().UTC())
		if len(due) == 0 {
			return nil
		}
		prices, err := a.cache.Get(c)
		if err != nil {
			a.log.Warn("skipping notify tick, prices unavailable",
				logx.Int("due", len(due)), logx.Err(err))
			return nil
		}
		a.fanout.Deliver(c, due, prices)
		return nil
	}); err != nil {
		return err
	}

	// Phase-align the recurring refresh to the configured offset past the
	// minute boundary, so the :00 notify tick reads a snapshot at most
	// (freshness - offset) old instead of an arbitrary-phase one.
	offset := cfg.Scheduler.RefreshOffsetOr(defaultRefreshOffset)
	if offset >= freshness {
		offset = 0
	}
	firstRefresh := time.Now().Truncate(time.Minute).Add(time.Minute + offset)
	refresh := func(c context.Context) error {
		a.cache.Refresh(c)
		return nil
	}
	a.sched.RunOnceNamed("price.refresh.align", firstRefresh, func(c context.Context) {
		_ = refresh(c)
		if err := a.sched.AddEvery("price.refresh", freshness, fetchTimeout+5*time.Second, refresh); err != nil {
			a.log.Error("refresh schedule registration failed", logx.Err(err))
		}
	})

	return a.sched.AddCron("tier.sweep", cfg.Scheduler.SweepCronOr(defaultSweepCron), time.Minute,
		func(c context.Context) error {
			a.enforcer.Sweep(c)
			return nil
		})
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the newest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto apply
				}
			}
		apply:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, no effective changes")
				continue
			}

			a.applyReload(newCfg, sections)

			fields := append([]logx.Field{
				logx.String("changed", strings.Join(sections, ",")),
			}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

// applyReload applies what can change live; the rest gets a restart warning.
func (a *App) applyReload(cfg *config.Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "logging":
			if cfg.Logging.Telegram.ChatID != 0 {
				a.logs.SetChatTarget(cfg.Logging.Telegram.ChatID)
			} else {
				a.logs.SetChatTarget(0)
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
				Telegram: logx.TelegramConfig{
					Enabled:    cfg.Logging.Telegram.Enabled,
					MinLevel:   cfg.Logging.Telegram.MinLevel,
					RatePerSec: cfg.Logging.Telegram.RatePerSec,
				},
			})
		case "notify":
			a.fanout.SetRate(cfg.Notify.RatePerSec)
		case "tier":
			a.enforcer.SetGrace(cfg.Tier.GraceOr(tier.GracePeriod))
		case "scheduler", "price_feed":
			// Schedule specs and the refresh period re-register by name.
			if err := a.registerSchedules(cfg); err != nil {
				a.log.Warn("schedule re-registration failed", logx.Err(err))
			}
			if s == "price_feed" {
				a.log.Warn("price_feed provider changes need a restart to take effect")
			}
		case "debug":
			a.pprof.Reconfigure(context.Background(), pprof.Config{
				Enabled: cfg.Debug.PprofEnabled,
				Addr:    cfg.Debug.PprofAddr,
				Token:   cfg.Debug.PprofToken,
			})
		case "telegram", "storage":
			a.log.Warn("section requires restart to take effect", logx.String("section", s))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached, continuing", logx.String("name", name))
		}
	}

	step("pprof", 1*time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
