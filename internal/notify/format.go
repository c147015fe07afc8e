package notify

import (
	"fmt"
	"math"
	"strings"
	"time"

	"pricebot/internal/userclock"
)

// RenderPriceMessage builds the per-user price text: the user's preferred
// currencies (or every configured one), then a timestamp localized to the
// user's clock when one is set.
func RenderPriceMessage(prices map[string]float64, preferred, all []string, setting userclock.Setting, now time.Time) string {
	currencies := preferred
	if len(currencies) == 0 {
		currencies = all
	}

	var b strings.Builder
	b.WriteString("📊 *Current Bitcoin (BTC) Prices:*\n")
	for _, code := range currencies {
		v, ok := prices[strings.ToLower(code)]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "💰 *%s:* %s\n", strings.ToUpper(code), formatPrice(v))
	}

	if setting.IsSet() {
		local := userclock.ToLocal(now, setting)
		fmt.Fprintf(&b, "\n🕒 Last updated at: `%s`", local.Format("15:04:05"))
	} else {
		fmt.Fprintf(&b, "\n🕒 Last updated at: `%s UTC`", now.UTC().Format("15:04:05"))
	}
	return b.String()
}

// formatPrice renders a price with thousands separators; whole values drop
// the fraction ("64,235"), others keep two digits ("0.95").
func formatPrice(v float64) string {
	if v == math.Trunc(v) {
		return groupDigits(fmt.Sprintf("%.0f", v))
	}
	s := fmt.Sprintf("%.2f", v)
	dot := strings.IndexByte(s, '.')
	return groupDigits(s[:dot]) + s[dot:]
}

func groupDigits(s string) string {
	if len(s) <= 3 {
		return s
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	return strings.Join(parts, ",")
}
