package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "bot.json", `{
		"telegram": {"token": "123:abc", "poll_timeout": "10s"},
		"logging": {"level": "debug", "console": true,
			"file": {"enabled": false, "path": ""},
			"telegram": {"enabled": false, "min_level": "warn", "rate_per_sec": 1}},
		"price_feed": {"freshness": "45s"},
		"notify": {"rate_per_sec": 10},
		"scheduler": {},
		"storage": {"path": "./bot.db"}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.PollTimeoutOr(time.Minute) != 10*time.Second {
		t.Fatalf("poll timeout = %v", cfg.Telegram.PollTimeoutOr(time.Minute))
	}
	if cfg.PriceFeed.FreshnessOr(60*time.Second) != 45*time.Second {
		t.Fatalf("freshness = %v", cfg.PriceFeed.FreshnessOr(60*time.Second))
	}
	if got := cfg.PriceFeed.CurrencyList(); len(got) != 6 || got[0] != "USD" {
		t.Fatalf("default currencies = %v", got)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "bot.yaml", `
telegram:
  token: "123:abc"
logging:
  level: info
  console: true
  file: {enabled: false, path: ""}
  telegram: {enabled: false, min_level: warn, rate_per_sec: 1}
price_feed:
  currencies: [usd, eur]
notify: {}
scheduler:
  timezone: UTC
storage:
  path: ./bot.db
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	got := cfg.PriceFeed.CurrencyList()
	if len(got) != 2 || got[0] != "USD" || got[1] != "EUR" {
		t.Fatalf("currencies = %v", got)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "bot.json", `{
		"telegram": {"token": "123:abc", "legacy_owner": 1},
		"storage": {"path": "./bot.db"}
	}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "123:abc"},
			Storage:  StorageConfig{Path: "./bot.db"},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = " " }, "telegram.token"},
		{"missing storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"bad duration", func(c *Config) { c.PriceFeed.Freshness = "fast" }, "price_feed.freshness"},
		{"negative duration", func(c *Config) { c.Tier.Grace = "-1h" }, "tier.grace"},
		{"bad currency", func(c *Config) { c.PriceFeed.Currencies = []string{"DOLLARS"} }, "price_feed.currencies"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Telegram:  TelegramConfig{Token: "123:abc"},
		PriceFeed: PriceFeedConfig{Freshness: "60s"},
		Storage:   StorageConfig{Path: "a.db"},
	}
	newCfg := &Config{
		Telegram:  TelegramConfig{Token: "123:abc"},
		PriceFeed: PriceFeedConfig{Freshness: "30s"},
		Storage:   StorageConfig{Path: "b.db"},
	}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	want := []string{"price_feed", "storage"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}
}

func TestGraceAndSweepDefaults(t *testing.T) {
	t.Parallel()
	var cfg Config
	if got := cfg.Tier.GraceOr(24 * time.Hour); got != 24*time.Hour {
		t.Fatalf("grace = %v", got)
	}
	if got := cfg.Scheduler.SweepCronOr("0 */8 * * *"); got != "0 */8 * * *" {
		t.Fatalf("sweep = %q", got)
	}
	cfg.Tier.Grace = "1h"
	if got := cfg.Tier.GraceOr(24 * time.Hour); got != time.Hour {
		t.Fatalf("grace override = %v", got)
	}
}
