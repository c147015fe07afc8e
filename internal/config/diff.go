package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pricebot/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (tokens) never appear in attrs,
// only whether they are set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		(strings.TrimSpace(oldCfg.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Telegram.Token) != "") ||
		(strings.TrimSpace(oldCfg.Telegram.PaymentsToken) != "") != (strings.TrimSpace(newCfg.Telegram.PaymentsToken) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.payments_set", strings.TrimSpace(newCfg.Telegram.PaymentsToken) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.PriceFeed, newCfg.PriceFeed) {
		changed = append(changed, "price_feed")
		attrs = append(attrs,
			logx.Int("price_feed.currency_count", len(newCfg.PriceFeed.CurrencyList())),
			logx.String("price_feed.freshness", strings.TrimSpace(newCfg.PriceFeed.Freshness)),
			logx.String("price_feed.fetch_timeout", strings.TrimSpace(newCfg.PriceFeed.FetchTimeout)),
		)
	}

	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		attrs = append(attrs, logx.Int("notify.rate_per_sec", newCfg.Notify.RatePerSec))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.sweep_cron", newCfg.Scheduler.SweepCronOr("0 */8 * * *")),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if oldCfg.Tier != newCfg.Tier {
		changed = append(changed, "tier")
		attrs = append(attrs, logx.String("tier.grace", strings.TrimSpace(newCfg.Tier.Grace)))
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.pprof_enabled", newCfg.Debug.PprofEnabled),
			logx.String("debug.pprof_addr", strings.TrimSpace(newCfg.Debug.PprofAddr)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
