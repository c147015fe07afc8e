package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"pricebot/internal/notify"
	"pricebot/internal/plan"
	"pricebot/internal/price"
	"pricebot/internal/storage"
	"pricebot/internal/tier"
	kit "pricebot/internal/transport"
	"pricebot/internal/userclock"
	logx "pricebot/pkg/logx"
	"pricebot/pkg/tgui"
)

// Wizard steps for the multi-message conversations (/personal add, /timezone).
type wizardStep int

const (
	wizNone wizardStep = iota
	wizPlanInterval
	wizPlanTime
	wizTZManual
	wizTZZone
)

type wizard struct {
	step     wizardStep
	interval int // collected by wizPlanInterval
}

type RouterDeps struct {
	Adapter    kit.Adapter
	Store      storage.Store
	Cache      *price.Cache
	Enforcer   *tier.Enforcer
	Currencies []string
	Payments   bool
	Log        logx.Logger
}

// Router turns transport updates into store/cache/enforcer operations and
// replies. One wizard per user at a time; any command aborts it.
type Router struct {
	d RouterDeps

	mu      sync.Mutex
	wizards map[int64]*wizard

	now func() time.Time
}

func NewRouter(d RouterDeps) *Router {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Router{d: d, wizards: map[int64]*wizard{}, now: time.Now}
}

// DispatchLoop consumes updates until ctx is cancelled. Handling is
// sequential; a panic in one handler is logged and skips only that update.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.handleRecovered(ctx, up)
		}
	}
}

func (r *Router) handleRecovered(ctx context.Context, up kit.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.d.Log.Error("handler panic",
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	case kit.UpdatePayment:
		if up.Payment != nil {
			r.handlePayment(ctx, up.Payment)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	text := strings.TrimSpace(m.Text)
	if strings.HasPrefix(text, "/") {
		r.clearWizard(m.FromID)
		r.handleCommand(ctx, m, text)
		return
	}
	if w := r.wizardFor(m.FromID); w != nil {
		r.handleWizardInput(ctx, m, w, text)
		return
	}
	r.send(ctx, m.ChatID, "Use /help to see what I can do.", nil)
}

func (r *Router) handleCommand(ctx context.Context, m *kit.Message, text string) {
	cmd := text
	if i := strings.IndexAny(cmd, " @"); i > 0 {
		cmd = cmd[:i]
	}
	switch cmd {
	case "/start":
		r.send(ctx, m.ChatID, welcomeText, r.mainMenu())
	case "/help":
		r.send(ctx, m.ChatID, helpText, nil)
	case "/price":
		r.showPrice(ctx, m.FromID, m.ChatID, nil)
	case "/currency":
		r.showCurrencyMenu(ctx, m.FromID, m.ChatID, nil)
	case "/base":
		r.showBaseMenu(ctx, m.FromID, m.ChatID, nil)
	case "/personal":
		r.showPersonalMenu(ctx, m.FromID, m.ChatID, nil)
	case "/timezone":
		r.showTimezoneMenu(ctx, m.FromID, m.ChatID, nil)
	case "/upgrade":
		r.showUpgradeMenu(ctx, m.FromID, m.ChatID, nil)
	case "/cancel":
		r.send(ctx, m.ChatID, "❌ Action cancelled.", r.mainMenu())
	default:
		r.send(ctx, m.ChatID, "Unknown command. Use /help.", nil)
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	_ = r.d.Adapter.AnswerCallback(ctx, cb.ID, "")
	ref := &kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	scope, action, payload := tgui.Parse(cb.Data)
	switch scope {
	case "price":
		// show and refresh both re-render in place
		r.showPrice(ctx, cb.FromID, cb.ChatID, ref)
	case "cur":
		r.handleCurrencyAction(ctx, cb.FromID, cb.ChatID, ref, action, payload)
	case "base":
		r.handleBaseAction(ctx, cb.FromID, cb.ChatID, ref, action, payload)
	case "plan":
		r.handlePlanAction(ctx, cb.FromID, cb.ChatID, ref, action, payload)
	case "tz":
		r.handleTimezoneAction(ctx, cb.FromID, cb.ChatID, ref, action)
	case "tier":
		r.handleTierAction(ctx, cb.FromID, cb.ChatID, ref, action, payload)
	case "menu":
		r.clearWizard(cb.FromID)
		r.reply(ctx, cb.ChatID, ref, welcomeText, r.mainMenu())
	default:
		r.d.Log.Debug("unknown callback", logx.String("data", cb.Data))
	}
}

// --- price ---

func (r *Router) showPrice(ctx context.Context, userID, chatID int64, ref *kit.MessageRef) {
	prices, err := r.d.Cache.Get(ctx)
	if err != nil {
		r.reply(ctx, chatID, ref, "❌ Failed to fetch BTC price. Please try again later.", nil)
		return
	}
	preferred, _ := r.d.Store.LoadCurrencies(ctx, userID)
	setting, _ := r.d.Store.TimeSetting(ctx, userID)
	msg := notify.RenderPriceMessage(prices, preferred, r.d.Currencies, setting, r.now().UTC())

	kb := tgui.NewInline().
		Row(tgui.Btn("🔄 Refresh Price", tgui.Data("price", "refresh", ""))).
		Markup()
	r.reply(ctx, chatID, ref, msg, kb)
}

// --- currencies ---

func (r *Router) showCurrencyMenu(ctx context.Context, userID, chatID int64, ref *kit.MessageRef) {
	selected, _ := r.d.Store.LoadCurrencies(ctx, userID)
	sel := make(map[string]bool, len(selected))
	for _, c := range selected {
		sel[c] = true
	}

	kb := tgui.NewInline()
	for i := 0; i+1 < len(r.d.Currencies); i += 2 {
		kb.Row(r.currencyBtn(r.d.Currencies[i], sel), r.currencyBtn(r.d.Currencies[i+1], sel))
	}
	if len(r.d.Currencies)%2 == 1 {
		kb.Row(r.currencyBtn(r.d.Currencies[len(r.d.Currencies)-1], sel))
	}
	kb.Row(
		tgui.Btn("✅ Done", tgui.Data("cur", "done", "")),
		tgui.Btn("🔁 Reset", tgui.Data("cur", "clear", "")),
	)
	r.reply(ctx, chatID, ref, "💱 Select your preferred currencies (toggle below):", kb.Markup())
}

func (r *Router) currencyBtn(code string, sel map[string]bool) tele.Btn {
	label := code
	if sel[code] {
		label = "✅ " + code
	}
	return tgui.Btn(label, tgui.Data("cur", "toggle", code))
}

func (r *Router) handleCurrencyAction(ctx context.Context, userID, chatID int64, ref *kit.MessageRef, action, payload string) {
	switch action {
	case "toggle":
		code := strings.ToUpper(payload)
		if !r.supportedCurrency(code) {
			return
		}
		selected, _ := r.d.Store.LoadCurrencies(ctx, userID)
		next := selected[:0]
		found := false
		for _, c := range selected {
			if c == code {
				found = true
				continue
			}
			next = append(next, c)
		}
		if !found {
			next = append(next, code)
		}
		if err := r.d.Store.SaveCurrencies(ctx, userID, next); err != nil {
			r.d.Log.Warn("save currencies failed", logx.Int64("user", userID), logx.Err(err))
		}
		r.showCurrencyMenu(ctx, userID, chatID, ref)
	case "clear":
		if err := r.d.Store.ClearCurrencies(ctx, userID); err != nil {
			r.d.Log.Warn("clear currencies failed", logx.Int64("user", userID), logx.Err(err))
		}
		r.showCurrencyMenu(ctx, userID, chatID, ref)
	case "done":
		selected, _ := r.d.Store.LoadCurrencies(ctx, userID)
		var msg string
		if len(selected) == 0 {
			msg = "✅ *No currencies selected.*\nAll configured currencies will be shown."
		} else {
			msg = fmt.Sprintf("✅ *Preferences saved!*\nYou selected: %s", strings.Join(selected, ", "))
		}
		kb := tgui.NewInline().Row(
			tgui.Btn("📊 Check Price", tgui.Data("price", "show", "")),
			tgui.Btn("🌐 Change Currency", tgui.Data("cur", "menu", "")),
		).Markup()
		r.reply(ctx, chatID, ref, msg, kb)
	case "menu":
		r.showCurrencyMenu(ctx, userID, chatID, ref)
	}
}

func (r *Router) supportedCurrency(code string) bool {
	for _, c := range r.d.Currencies {
		if c == code {
			return true
		}
	}
	return false
}

// --- base subscriptions ---

func (r *Router) showBaseMenu(ctx context.Context, userID, chatID int64, ref *kit.MessageRef) {
	subs, _ := r.d.Store.UserBaseIntervals(ctx, userID)
	subbed := make(map[int]bool, len(subs))
	for _, iv := range subs {
		subbed[iv] = true
	}

	kb := tgui.NewInline()
	for _, iv := range plan.BaseIntervals {
		label := "⏰ Every " + plan.FormatInterval(iv)
		if subbed[iv] {
			label = "✅ Every " + plan.FormatInterval(iv)
		}
		kb.Row(tgui.Btn(label, tgui.Data("base", "toggle", strconv.Itoa(iv))))
	}
	kb.Row(tgui.Btn("⬅️ Back", tgui.Data("menu", "main", "")))

	text := "📅 *Manage your base BTC price subscriptions:*\n\n" +
		"🕑 Standard intervals (15 min, 30 min, 1 h, 4 h, 24 h) sent on the *UTC* clock.\n\n" +
		"Tap an interval to subscribe or unsubscribe:"
	r.reply(ctx, chatID, ref, text, kb.Markup())
}

func (r *Router) handleBaseAction(ctx context.Context, userID, chatID int64, ref *kit.MessageRef, action, payload string) {
	switch action {
	case "menu":
		r.showBaseMenu(ctx, userID, chatID, ref)
	case "toggle":
		iv, err := strconv.Atoi(payload)
		if err != nil || !plan.IsBaseInterval(iv) {
			return
		}
		subs, _ := r.d.Store.UserBaseIntervals(ctx, userID)
		have := false
		for _, s := range subs {
			if s == iv {
				have = true
				break
			}
		}
		if have {
			err = r.d.Store.RemoveBaseSubscription(ctx, userID, iv)
		} else {
			err = r.d.Store.AddBaseSubscription(ctx, userID, iv)
		}
		if err != nil {
			r.d.Log.Warn("base toggle failed",
				logx.Int64("user", userID), logx.Int("interval", iv), logx.Err(err))
			return
		}
		r.showBaseMenu(ctx, userID, chatID, ref)
	}
}

// --- personal plans ---

func (r *Router) showPersonalMenu(ctx context.Context, userID, chatID int64, ref *kit.MessageRef) {
	plans, err := r.d.Store.UserPersonalPlans(ctx, userID)
	if err != nil {
		r.d.Log.Warn("list plans failed", logx.Int64("user", userID), logx.Err(err))
	}
	setting, _ := r.d.Store.TimeSetting(ctx, userID)

	var b strings.Builder
	if len(plans) == 0 {
		b.WriteString("ℹ️ You don't have any personal BTC plans yet.\n\nUse ➕ *Add Custom Plan* to create one.")
	} else {
		b.WriteString("📋 *Your Personal BTC Plans:*\n\n")
		for i, p := range plans {
			local := userclock.ToLocal(p.FirstFire, setting)
			fmt.Fprintf(&b, "%d. ⏱ Every %s, start: %s\n",
				i+1, plan.FormatInterval(p.IntervalMinutes), local.Format("15:04 02.01.06"))
		}
	}

	kb := tgui.NewInline().Row(tgui.Btn("➕ Add Custom Plan", tgui.Data("plan", "add", "")))
	for _, p := range plans {
		kb.Row(tgui.Btn(
			fmt.Sprintf("🗑 Cancel plan every %s", plan.FormatInterval(p.IntervalMinutes)),
			tgui.Data("plan", "cancel", strconv.FormatInt(p.ID, 10))))
	}
	kb.Row(tgui.Btn("⬅️ Back", tgui.Data("menu", "main", "")))
	r.reply(ctx, chatID, ref, b.String(), kb.Markup())
}

func (r *Router) handlePlanAction(ctx context.Context, userID, chatID int64, ref *kit.MessageRef, action, payload string) {
	switch action {
	case "menu":
		r.showPersonalMenu(ctx, userID, chatID, ref)
	case "add":
		st, _ := r.d.Store.TierState(ctx, userID)
		limits := tier.LimitsFor(st.Tier)
		n, _ := r.d.Store.CountPersonalPlans(ctx, userID)
		if n >= limits.MaxPersonalPlans {
			r.reply(ctx, chatID, ref, fmt.Sprintf(
				"🚫 Your *%s* tier allows %d personal plan(s).\nUse /upgrade for more.",
				st.Tier, limits.MaxPersonalPlans), nil)
			return
		}
		r.setWizard(userID, &wizard{step: wizPlanInterval})
		r.reply(ctx, chatID, ref, fmt.Sprintf(
			"⌨️ Enter the update interval in *minutes* (min %d, max 1440).\nSend /cancel to abort.",
			limits.MinIntervalMinutes), nil)
	case "cancel":
		id, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			return
		}
		if err := r.d.Store.DeletePersonalPlan(ctx, userID, id); err != nil {
			r.d.Log.Warn("delete plan failed",
				logx.Int64("user", userID), logx.Int64("plan", id), logx.Err(err))
			return
		}
		r.showPersonalMenu(ctx, userID, chatID, ref)
	}
}

// --- timezone ---

func (r *Router) showTimezoneMenu(ctx context.Context, userID, chatID int64, ref *kit.MessageRef) {
	setting, _ := r.d.Store.TimeSetting(ctx, userID)

	var status string
	switch setting.Method {
	case userclock.MethodLocation:
		status = fmt.Sprintf("🌍 Current: `%s` (%s)",
			setting.Timezone, userclock.FormatOffset(setting.OffsetMinutes))
	case userclock.MethodManual:
		status = fmt.Sprintf("🕒 Current offset: %s", userclock.FormatOffset(setting.OffsetMinutes))
	default:
		status = "❌ You haven't set your timezone yet. Personal plans use UTC."
	}

	kb := tgui.NewInline().
		Row(tgui.Btn("⌨️ Enter local time", tgui.Data("tz", "manual", ""))).
		Row(tgui.Btn("🌐 Enter zone name", tgui.Data("tz", "zone", ""))).
		Row(tgui.Btn("🔁 Reset to UTC", tgui.Data("tz", "clear", ""))).
		Row(tgui.Btn("⬅️ Back", tgui.Data("menu", "main", ""))).
		Markup()
	r.reply(ctx, chatID, ref, "🕰 *Time zone settings*\n\n"+status, kb)
}

func (r *Router) handleTimezoneAction(ctx context.Context, userID, chatID int64, ref *kit.MessageRef, action string) {
	switch action {
	case "menu":
		r.showTimezoneMenu(ctx, userID, chatID, ref)
	case "manual":
		r.setWizard(userID, &wizard{step: wizTZManual})
		r.reply(ctx, chatID, ref,
			"⌨️ Enter your *local time* in `HH:MM` (24-hour format).\nSend /cancel to abort.", nil)
	case "zone":
		r.setWizard(userID, &wizard{step: wizTZZone})
		r.reply(ctx, chatID, ref,
			"🌐 Enter your IANA zone name, e.g. `Europe/Berlin`.\nSend /cancel to abort.", nil)
	case "clear":
		if err := r.d.Store.SetTimeSetting(ctx, userID, userclock.Setting{}); err != nil {
			r.d.Log.Warn("clear timezone failed", logx.Int64("user", userID), logx.Err(err))
			return
		}
		r.showTimezoneMenu(ctx, userID, chatID, ref)
	}
}

// --- tiers / payments ---

func (r *Router) showUpgradeMenu(ctx context.Context, userID, chatID int64, ref *kit.MessageRef) {
	st, _ := r.d.Store.TierState(ctx, userID)

	var b strings.Builder
	fmt.Fprintf(&b, "💳 *Upgrade Your Plan*\n\nYou're currently on: *%s Tier*\n\n", st.Tier)
	if st.Tier == tier.Ultra {
		b.WriteString("🚀 *You're already on the highest tier. Thank you!* 🙏\n")
	} else {
		for _, t := range []tier.Tier{tier.Pro, tier.Ultra} {
			if t <= st.Tier {
				continue
			}
			l := tier.LimitsFor(t)
			fmt.Fprintf(&b, "⭐ *%s Tier*\n  • %d personal plans\n  • Min interval: %d min\n\n",
				t, l.MaxPersonalPlans, l.MinIntervalMinutes)
		}
		b.WriteString("⏳ Subscriptions are *manual* and expire after 30 days.\nYou can renew at any time.")
	}

	kb := tgui.NewInline()
	if r.d.Payments && st.Tier < tier.Pro {
		kb.Row(tgui.Btn("⭐ Get Pro", tgui.Data("tier", "buy", "pro")))
	}
	if r.d.Payments && st.Tier < tier.Ultra {
		kb.Row(tgui.Btn("🚀 Get Ultra", tgui.Data("tier", "buy", "ultra")))
	}
	kb.Row(tgui.Btn("⬅️ Back", tgui.Data("menu", "main", "")))
	r.reply(ctx, chatID, ref, b.String(), kb.Markup())
}

func (r *Router) handleTierAction(ctx context.Context, userID, chatID int64, ref *kit.MessageRef, action, payload string) {
	switch action {
	case "menu":
		r.showUpgradeMenu(ctx, userID, chatID, ref)
	case "buy":
		if !r.d.Payments {
			r.reply(ctx, chatID, ref, "🚫 Payments are not enabled on this bot.", nil)
			return
		}
		t, ok := parseTierName(payload)
		if !ok {
			return
		}
		err := r.d.Adapter.SendInvoice(ctx, chatID, kit.Invoice{
			Title:       fmt.Sprintf("%s Tier Subscription", t),
			Description: fmt.Sprintf("%s features will be unlocked for 30 days.", t),
			Payload:     tgui.Data("tier", "paid", strings.ToLower(t.String())),
			Currency:    "USD",
			Amount:      tierPriceCents(t),
		})
		if err != nil {
			r.d.Log.Warn("send invoice failed", logx.Int64("user", userID), logx.Err(err))
			r.reply(ctx, chatID, ref, "❌ Could not create the invoice. Try again later.", nil)
		}
	}
}

func (r *Router) handlePayment(ctx context.Context, p *kit.Payment) {
	scope, action, payload := tgui.Parse(p.Payload)
	if scope != "tier" || action != "paid" {
		r.d.Log.Warn("payment with unknown payload", logx.String("payload", p.Payload))
		return
	}
	t, ok := parseTierName(payload)
	if !ok {
		r.d.Log.Warn("payment with unknown tier", logx.String("payload", p.Payload))
		return
	}
	if err := r.d.Enforcer.OnPaymentConfirmed(ctx, p.FromID, t, r.now().UTC()); err != nil {
		r.d.Log.Error("payment confirmation failed",
			logx.Int64("user", p.FromID), logx.Err(err))
		r.send(ctx, p.ChatID, "⚠️ Payment received but activation failed. Contact support.", nil)
		return
	}
	r.d.Log.Info("tier purchased",
		logx.Int64("user", p.FromID), logx.String("tier", t.String()),
		logx.String("currency", p.Currency), logx.Int("amount", p.TotalAmount))
	r.send(ctx, p.ChatID, fmt.Sprintf(
		"🎉 *%s tier activated!* Valid for 30 days.\nManage plans with /personal.", t), nil)
}

func parseTierName(s string) (tier.Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pro":
		return tier.Pro, true
	case "ultra":
		return tier.Ultra, true
	default:
		return tier.Free, false
	}
}

// tierPriceCents is the monthly USD price in cents.
func tierPriceCents(t tier.Tier) int {
	switch t {
	case tier.Ultra:
		return 499
	default:
		return 199
	}
}

// --- wizards ---

func (r *Router) wizardFor(userID int64) *wizard {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wizards[userID]
}

func (r *Router) setWizard(userID int64, w *wizard) {
	r.mu.Lock()
	r.wizards[userID] = w
	r.mu.Unlock()
}

func (r *Router) clearWizard(userID int64) {
	r.mu.Lock()
	delete(r.wizards, userID)
	r.mu.Unlock()
}

func (r *Router) handleWizardInput(ctx context.Context, m *kit.Message, w *wizard, text string) {
	switch w.step {
	case wizPlanInterval:
		r.wizardPlanInterval(ctx, m, w, text)
	case wizPlanTime:
		r.wizardPlanTime(ctx, m, w, text)
	case wizTZManual:
		r.wizardTZManual(ctx, m, text)
	case wizTZZone:
		r.wizardTZZone(ctx, m, text)
	default:
		r.clearWizard(m.FromID)
	}
}

func (r *Router) wizardPlanInterval(ctx context.Context, m *kit.Message, w *wizard, text string) {
	iv, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || iv <= 0 || iv > 1440 {
		r.send(ctx, m.ChatID, "❌ Enter a whole number of minutes between 1 and 1440.", nil)
		return
	}
	st, _ := r.d.Store.TierState(ctx, m.FromID)
	limits := tier.LimitsFor(st.Tier)
	if iv < limits.MinIntervalMinutes {
		r.send(ctx, m.ChatID, fmt.Sprintf(
			"🚫 Your *%s* tier allows intervals of %d min or more.\nUse /upgrade for shorter intervals.",
			st.Tier, limits.MinIntervalMinutes), nil)
		return
	}
	w.interval = iv
	w.step = wizPlanTime
	r.setWizard(m.FromID, w)
	r.send(ctx, m.ChatID,
		"⌨️ Now enter the *start time* in your local `HH:MM` (24-hour format):", nil)
}

func (r *Router) wizardPlanTime(ctx context.Context, m *kit.Message, w *wizard, text string) {
	hour, minute, err := userclock.ParseHHMM(text)
	if err != nil {
		r.send(ctx, m.ChatID, "❌ Invalid format. Use *HH:MM* (e.g. *14:30*).", nil)
		return
	}

	// Quota could have shrunk while the wizard was open.
	st, _ := r.d.Store.TierState(ctx, m.FromID)
	limits := tier.LimitsFor(st.Tier)
	if n, _ := r.d.Store.CountPersonalPlans(ctx, m.FromID); n >= limits.MaxPersonalPlans {
		r.clearWizard(m.FromID)
		r.send(ctx, m.ChatID, fmt.Sprintf(
			"🚫 Your *%s* tier allows %d personal plan(s). Use /upgrade for more.",
			st.Tier, limits.MaxPersonalPlans), nil)
		return
	}

	setting, _ := r.d.Store.TimeSetting(ctx, m.FromID)
	nowUTC := r.now().UTC()
	localNow := userclock.ToLocal(nowUTC, setting)
	candidate := time.Date(localNow.Year(), localNow.Month(), localNow.Day(),
		hour, minute, 0, 0, localNow.Location())
	if candidate.Before(localNow) {
		candidate = candidate.Add(24 * time.Hour)
	}
	firstFire := userclock.ToUTC(candidate, setting)

	id, err := r.d.Store.AddPersonalPlan(ctx, plan.PersonalPlan{
		UserID:          m.FromID,
		IntervalMinutes: w.interval,
		FirstFire:       firstFire,
		CreatedAt:       nowUTC,
	})
	r.clearWizard(m.FromID)
	if err != nil {
		r.d.Log.Warn("add plan failed", logx.Int64("user", m.FromID), logx.Err(err))
		r.send(ctx, m.ChatID, "❌ Could not save the plan. Try again later.", nil)
		return
	}
	r.d.Log.Info("personal plan created",
		logx.Int64("user", m.FromID), logx.Int64("plan", id),
		logx.Int("interval", w.interval), logx.Time("first_fire", firstFire))
	r.send(ctx, m.ChatID, fmt.Sprintf(
		"✅ Plan created: every %s starting %02d:%02d (your local time).",
		plan.FormatInterval(w.interval), hour, minute), nil)
	r.showPersonalMenu(ctx, m.FromID, m.ChatID, nil)
}

func (r *Router) wizardTZManual(ctx context.Context, m *kit.Message, text string) {
	hour, minute, err := userclock.ParseHHMM(text)
	if err != nil {
		r.send(ctx, m.ChatID, "❌ Invalid format. Use *HH:MM* (e.g. *14:30*).", nil)
		return
	}
	offset := userclock.OffsetFromLocalHHMM(hour, minute, r.now().UTC())
	setting := userclock.Setting{OffsetMinutes: offset, Method: userclock.MethodManual}
	if err := r.d.Store.SetTimeSetting(ctx, m.FromID, setting); err != nil {
		r.d.Log.Warn("set timezone failed", logx.Int64("user", m.FromID), logx.Err(err))
		r.send(ctx, m.ChatID, "❌ Could not save the setting. Try again later.", nil)
		return
	}
	r.clearWizard(m.FromID)
	r.send(ctx, m.ChatID, fmt.Sprintf("✅ Offset set: %s", userclock.FormatOffset(offset)), nil)
	r.showTimezoneMenu(ctx, m.FromID, m.ChatID, nil)
}

func (r *Router) wizardTZZone(ctx context.Context, m *kit.Message, text string) {
	name := strings.TrimSpace(text)
	loc, err := time.LoadLocation(name)
	if err != nil || name == "" || strings.EqualFold(name, "local") {
		r.send(ctx, m.ChatID, "❌ Unknown zone. Use an IANA name like `Europe/Berlin`.", nil)
		return
	}
	_, offsetSec := r.now().In(loc).Zone()
	setting := userclock.Setting{
		Timezone:      name,
		OffsetMinutes: offsetSec / 60,
		Method:        userclock.MethodLocation,
	}
	if err := r.d.Store.SetTimeSetting(ctx, m.FromID, setting); err != nil {
		r.d.Log.Warn("set timezone failed", logx.Int64("user", m.FromID), logx.Err(err))
		r.send(ctx, m.ChatID, "❌ Could not save the setting. Try again later.", nil)
		return
	}
	r.clearWizard(m.FromID)
	r.send(ctx, m.ChatID, fmt.Sprintf("✅ Timezone set to `%s`.", name), nil)
	r.showTimezoneMenu(ctx, m.FromID, m.ChatID, nil)
}

// --- send helpers ---

func (r *Router) mainMenu() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn("📊 Check Price", tgui.Data("price", "show", ""))).
		Row(
			tgui.Btn("📅 Base Plan", tgui.Data("base", "menu", "")),
			tgui.Btn("📆 Personal Plans", tgui.Data("plan", "menu", "")),
		).
		Row(
			tgui.Btn("🌐 Currencies", tgui.Data("cur", "menu", "")),
			tgui.Btn("🕰 Timezone", tgui.Data("tz", "menu", "")),
		).
		Row(tgui.Btn("💳 Upgrade", tgui.Data("tier", "menu", ""))).
		Markup()
}

// reply edits in place when ref is set (callback flows), otherwise sends a
// new message. Edit failures fall back to a fresh send.
func (r *Router) reply(ctx context.Context, chatID int64, ref *kit.MessageRef, text string, markup *tele.ReplyMarkup) {
	if ref != nil {
		opt := &kit.SendOptions{ParseMode: "Markdown"}
		if markup != nil {
			opt.ReplyMarkupAdapter = markup
		}
		if err := r.d.Adapter.EditText(ctx, *ref, text, opt); err == nil {
			return
		}
	}
	r.send(ctx, chatID, text, markup)
}

func (r *Router) send(ctx context.Context, chatID int64, text string, markup *tele.ReplyMarkup) {
	opt := &kit.SendOptions{ParseMode: "Markdown"}
	if markup != nil {
		opt.ReplyMarkupAdapter = markup
	}
	if _, err := r.d.Adapter.SendText(ctx, chatID, text, opt); err != nil {
		r.d.Log.Warn("send failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

const welcomeText = "👋 *Welcome to the Bitcoin Price Bot!*\n\n" +
	"Here's what I can help you with:\n" +
	"🔹 Show real-time BTC prices\n" +
	"🔹 Choose your preferred currencies\n" +
	"🔹 Get automatic price updates\n" +
	"   • Base Plan (UTC-based)\n" +
	"   • Personal Plan (local time)\n\n" +
	"👇 Use the buttons below to explore:"

const helpText = "ℹ️ *Bot Commands:*\n\n" +
	"*📌 Essentials:*\n" +
	"/start – Start the bot and show main menu\n" +
	"/help – Show this help message\n" +
	"/price – Show the current Bitcoin price\n" +
	"/currency – Choose currencies you want to see\n\n" +
	"*🕑 Base Plan (UTC-timed):*\n" +
	"/base – Automatic updates every 15 min, 30 min, 1 h, 4 h, or daily\n\n" +
	"*📆 Personal Plans (local-time):*\n" +
	"/personal – Set, view, or remove custom-interval alerts\n\n" +
	"*💳 Account & Settings:*\n" +
	"/upgrade – Pro/Ultra tiers\n" +
	"/timezone – Set your local time zone\n" +
	"/cancel – Abort the current action"
