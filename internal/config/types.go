package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	PriceFeed PriceFeedConfig `json:"price_feed"`
	Notify    NotifyConfig    `json:"notify"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Tier      TierConfig      `json:"tier,omitempty"`
	Debug     DebugConfig     `json:"debug,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PaymentsToken enables /upgrade invoices; empty disables payments.
	PaymentsToken string `json:"payments_token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors warnings and errors into an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// PriceFeedConfig controls the BTC price providers and the cache.
//
// All durations are Go duration strings.
type PriceFeedConfig struct {
	// Currencies is the supported display set; defaults to
	// USD, RUB, EUR, CAD, GBP, CNY.
	Currencies    []string `json:"currencies,omitempty"`
	BlockchainURL string   `json:"blockchain_url,omitempty"`
	CoinGeckoURL  string   `json:"coingecko_url,omitempty"`
	FetchTimeout  string   `json:"fetch_timeout,omitempty"` // default "5s"
	Freshness     string   `json:"freshness,omitempty"`     // default "60s"
}

type NotifyConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"` // default 25
}

// SchedulerConfig controls trigger behavior. The notify tick is fixed to
// minute boundaries; RefreshOffset shifts the cache warm-up relative to it.
type SchedulerConfig struct {
	Timezone      string `json:"timezone,omitempty"`       // default UTC
	RefreshOffset string `json:"refresh_offset,omitempty"` // default "30s"
	SweepCron     string `json:"sweep_cron,omitempty"`     // default "0 */8 * * *"
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // default "2s"
}

type TierConfig struct {
	// Grace is how long expired users keep excess plans before pruning.
	Grace string `json:"grace,omitempty"` // default "24h"
}

// DebugConfig controls the optional pprof listener.
type DebugConfig struct {
	PprofEnabled bool   `json:"pprof_enabled,omitempty"`
	PprofAddr    string `json:"pprof_addr,omitempty"`  // default "127.0.0.1:6060"
	PprofToken   string `json:"pprof_token,omitempty"` // required off loopback
}

// DefaultCurrencies is the supported display set when price_feed.currencies
// is omitted.
var DefaultCurrencies = []string{"USD", "RUB", "EUR", "CAD", "GBP", "CNY"}

// Validate rejects configs that cannot produce a working bot. Duration
// fields are parsed here so a bad reload is caught before publish.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	for _, c := range cfg.PriceFeed.Currencies {
		if len(strings.TrimSpace(c)) != 3 {
			return fmt.Errorf("price_feed.currencies: invalid code %q", c)
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"price_feed.fetch_timeout", cfg.PriceFeed.FetchTimeout},
		{"price_feed.freshness", cfg.PriceFeed.Freshness},
		{"scheduler.refresh_offset", cfg.Scheduler.RefreshOffset},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"tier.grace", cfg.Tier.Grace},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if cfg.Notify.RatePerSec < 0 {
		return errors.New("notify.rate_per_sec must be >= 0")
	}
	return nil
}

// Currencies returns the configured display set, upper-cased, falling back
// to the defaults.
func (p PriceFeedConfig) CurrencyList() []string {
	if len(p.Currencies) == 0 {
		out := make([]string, len(DefaultCurrencies))
		copy(out, DefaultCurrencies)
		return out
	}
	out := make([]string, 0, len(p.Currencies))
	for _, c := range p.Currencies {
		out = append(out, strings.ToUpper(strings.TrimSpace(c)))
	}
	return out
}

// FreshnessOr and friends resolve duration strings with their defaults.
// Validate has already run, so parse errors only happen for hand-built configs.

func (p PriceFeedConfig) FetchTimeoutOr(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("price_feed.fetch_timeout", p.FetchTimeout, def)
	if err != nil {
		return def
	}
	return d
}

func (p PriceFeedConfig) FreshnessOr(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("price_feed.freshness", p.Freshness, def)
	if err != nil {
		return def
	}
	return d
}

func (s SchedulerConfig) RefreshOffsetOr(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("scheduler.refresh_offset", s.RefreshOffset, def)
	if err != nil {
		return def
	}
	return d
}

func (s SchedulerConfig) SweepCronOr(def string) string {
	if v := strings.TrimSpace(s.SweepCron); v != "" {
		return v
	}
	return def
}

func (s StorageConfig) BusyTimeoutOr(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, def)
	if err != nil {
		return def
	}
	return d
}

func (t TierConfig) GraceOr(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("tier.grace", t.Grace, def)
	if err != nil {
		return def
	}
	return d
}

func (tg TelegramConfig) PollTimeoutOr(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("telegram.poll_timeout", tg.PollTimeout, def)
	if err != nil {
		return def
	}
	return d
}
