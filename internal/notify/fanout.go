// Package notify delivers price updates to due subscribers: one rendered
// message per user, all sends issued concurrently, per-send failures
// isolated from the rest of the batch.
package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pricebot/internal/eventbus"
	kit "pricebot/internal/transport"
	"pricebot/internal/userclock"
	logx "pricebot/pkg/logx"
)

// Prefs is the read side of the store the fanout needs for rendering.
type Prefs interface {
	LoadCurrencies(ctx context.Context, userID int64) ([]string, error)
	TimeSetting(ctx context.Context, userID int64) (userclock.Setting, error)
}

// Sender is the outbound slice of the transport adapter.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Config struct {
	Currencies []string // full configured currency list (render fallback)
	RatePerSec int      // outbound send budget shared by the whole batch
}

type Fanout struct {
	cfg     Config
	sender  Sender
	prefs   Prefs
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter
	now     func() time.Time
}

func NewFanout(cfg Config, sender Sender, prefs Prefs, bus eventbus.Bus, log logx.Logger) *Fanout {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fanout{
		cfg:     cfg,
		sender:  sender,
		prefs:   prefs,
		bus:     bus,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		now:     time.Now,
	}
}

// SetRate adjusts the shared send budget at runtime (config reload).
func (f *Fanout) SetRate(perSec int) {
	if perSec <= 0 {
		return
	}
	f.limiter.SetLimit(rate.Limit(perSec))
	f.limiter.SetBurst(perSec)
}

// Deliver renders and sends one message per due user. Sends run
// concurrently behind a shared rate limiter; an individual failure is
// logged and counted, never propagated to sibling sends, and there is no
// retry inside the batch.
func (f *Fanout) Deliver(ctx context.Context, users map[int64]struct{}, prices map[string]float64) {
	if len(users) == 0 || len(prices) == 0 {
		return
	}
	start := f.now()

	ids := make([]int64, 0, len(users))
	for uid := range users {
		ids = append(ids, uid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, uid := range ids {
		uid := uid
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.sendOne(ctx, uid, prices); err != nil {
				f.log.Error("price update send failed", logx.Int64("user", uid), logx.Err(err))
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	f.log.Info("price update batch delivered",
		logx.Int("users", len(ids)),
		logx.Int("failed", failed),
		logx.Duration("took", f.now().Sub(start)))
	if f.bus != nil {
		f.bus.Publish(eventbus.Event{Type: eventbus.EventBatchDelivered, Data: len(ids) - failed})
	}
}

func (f *Fanout) sendOne(ctx context.Context, userID int64, prices map[string]float64) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	text := "📢 *BTC Update* 📢\n\n" + f.renderFor(ctx, userID, prices)
	_, err := f.sender.SendText(ctx, userID, text, &kit.SendOptions{
		ParseMode:      "Markdown",
		DisablePreview: true,
	})
	return err
}

// renderFor builds the user-specific message. Preference lookups are best
// effort: a store hiccup falls back to defaults rather than dropping the
// user from the batch.
func (f *Fanout) renderFor(ctx context.Context, userID int64, prices map[string]float64) string {
	preferred, err := f.prefs.LoadCurrencies(ctx, userID)
	if err != nil {
		f.log.Warn("currency preference read failed", logx.Int64("user", userID), logx.Err(err))
		preferred = nil
	}
	setting, err := f.prefs.TimeSetting(ctx, userID)
	if err != nil {
		f.log.Warn("time setting read failed", logx.Int64("user", userID), logx.Err(err))
		setting = userclock.Setting{}
	}
	return RenderPriceMessage(prices, preferred, f.cfg.Currencies, setting, f.now())
}

// NotifyUser sends a single plain service message (used for tier expiry
// and pruning notices). Best effort: failures are logged only.
func (f *Fanout) NotifyUser(ctx context.Context, userID int64, text string) {
	if err := f.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := f.sender.SendText(ctx, userID, text, nil); err != nil {
		f.log.Warn("service message send failed", logx.Int64("user", userID), logx.Err(err))
	}
}
