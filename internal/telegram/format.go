package telegram

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/confluence/internal/indicator"
	"github.com/rewired-gh/confluence/internal/models"
)

// StartupInfo is announced once when monitoring starts.
type StartupInfo struct {
	Symbols      []string
	Interval     string
	PollInterval time.Duration
	Params       indicator.Params
}

const notAvailable = "n/a"

var strengthEmoji = map[models.Strength][2]string{
	models.Strong:   {"🚀", "🟢"},
	models.Moderate: {"📈", "🟡"},
	models.Weak:     {"⚠️", "🔴"},
}

// FormatSignal renders an alert as a Telegram MarkdownV2 message.
func FormatSignal(alert *models.Alert) string {
	ev := alert.Evaluation
	snap := ev.Snapshot
	trend := ev.Trend
	risk := alert.Risk
	emoji := strengthEmoji[ev.Strength]

	var b strings.Builder
	fmt.Fprintf(&b, "%s *LONG SIGNAL %s* %s\n", emoji[0], ev.Strength, emoji[1])
	fmt.Fprintf(&b, "*%s* · %s\n\n", escapeMarkdownV2(alert.Symbol), escapeMarkdownV2(alert.Interval))

	fmt.Fprintf(&b, "💰 *Price:* %s\n", price(snap.Price))
	fmt.Fprintf(&b, "📊 *Confirmations:* %d/%d\n\n", ev.ConditionsMet, models.ConditionCount)

	b.WriteString("📈 *Indicators*\n")
	fmt.Fprintf(&b, "• RSI: %s\n", number(snap.RSI, snap.HasRSI, 1))
	fmt.Fprintf(&b, "• Stoch K/D: %s/%s\n", number(snap.StochK, snap.HasStoch, 1), number(snap.StochD, snap.HasStoch, 1))
	fmt.Fprintf(&b, "• BB position: %s%%\n", number(snap.BBPosition, snap.HasPosition, 1))
	fmt.Fprintf(&b, "• Volume: %sx average\n", number(snap.VolumeRatio, snap.HasVolume, 1))
	fmt.Fprintf(&b, "• BB width: %s\n\n", number(snap.BBWidth, snap.HasWidth, 3))

	b.WriteString("🎯 *Trend*\n")
	fmt.Fprintf(&b, "• Strength: %s \\(%d/5\\)\n", trend.Label, trend.Score)
	fmt.Fprintf(&b, "• ADX: %s\n", tick(trend.ADXStrong))
	fmt.Fprintf(&b, "• MACD: %s\n", tick(trend.MACDPositive))
	fmt.Fprintf(&b, "• EMAs: %s\n\n", tick(trend.EMABullish))

	b.WriteString("🛡️ *Risk*\n")
	fmt.Fprintf(&b, "• Stop loss: %s\n", price(risk.StopLoss))
	fmt.Fprintf(&b, "• TP1 \\(%s\\): %s\n", percentOf(risk.TakeProfit1, snap.Price), price(risk.TakeProfit1))
	fmt.Fprintf(&b, "• TP2 \\(%s\\): %s\n", percentOf(risk.TakeProfit2, snap.Price), price(risk.TakeProfit2))
	rrMark := "⚠️"
	if risk.MeetsMinimumRatio {
		rrMark = "✅"
	}
	fmt.Fprintf(&b, "• R/R: %s:1 %s\n\n", number(risk.RiskReward1, true, 1), rrMark)

	fmt.Fprintf(&b, "⏰ %s", escapeMarkdownV2(alert.DetectedAt.UTC().Format("15:04:05 MST · 02/01/2006")))
	return b.String()
}

func formatStartup(info StartupInfo, now time.Time) string {
	shown := info.Symbols
	more := ""
	if len(shown) > 3 {
		shown, more = shown[:3], "..."
	}
	p := info.Params

	var b strings.Builder
	b.WriteString("🤖 *Signal monitor started*\n\n")
	b.WriteString("📊 *Configuration*\n")
	fmt.Fprintf(&b, "• Symbols: %d \\(%s%s\\)\n", len(info.Symbols), escapeMarkdownV2(strings.Join(shown, ", ")), escapeMarkdownV2(more))
	fmt.Fprintf(&b, "• Timeframe: %s\n", escapeMarkdownV2(info.Interval))
	fmt.Fprintf(&b, "• Check every: %s\n\n", escapeMarkdownV2(info.PollInterval.String()))
	b.WriteString("⚙️ *Parameters*\n")
	fmt.Fprintf(&b, "• RSI: %d periods\n", p.RSIPeriod)
	fmt.Fprintf(&b, "• EMAs: %d/%d\n", p.EMAFast, p.EMASlow)
	fmt.Fprintf(&b, "• BB: %d periods\n", p.BBPeriod)
	fmt.Fprintf(&b, "• ADX: %d periods\n\n", p.ADXPeriod)
	fmt.Fprintf(&b, "⏰ %s", escapeMarkdownV2(now.UTC().Format("15:04:05 · 02/01/2006")))
	return b.String()
}

func formatFatal(err error, stats models.SessionStats, now time.Time) string {
	var b strings.Builder
	b.WriteString("❌ *Signal monitor stopped*\n\n")
	fmt.Fprintf(&b, "🔍 *Error:* `%s`\n", escapeMarkdownV2(err.Error()))
	fmt.Fprintf(&b, "⏰ *Time:* %s\n\n", escapeMarkdownV2(now.UTC().Format("15:04:05 MST")))
	b.WriteString(statsBlock(stats, now))
	return b.String()
}

// formatStatus lists the session stats and the symbols whose alert still holds.
func formatStatus(stats models.SessionStats, alerted []string, now time.Time) string {
	var b strings.Builder
	b.WriteString("📊 *Status*\n\n")
	b.WriteString(statsBlock(stats, now))
	if len(alerted) == 0 {
		b.WriteString("\n\n🔕 No active alerts")
		return b.String()
	}
	fmt.Fprintf(&b, "\n\n🔔 *Active alerts:* %s", escapeMarkdownV2(strings.Join(alerted, ", ")))
	return b.String()
}

func statsBlock(stats models.SessionStats, now time.Time) string {
	var b strings.Builder
	b.WriteString("📊 *Session stats*\n")
	fmt.Fprintf(&b, "• Signals sent: %d\n", stats.SignalsSent)
	fmt.Fprintf(&b, "• Errors: %d\n", stats.Errors)
	fmt.Fprintf(&b, "• Skipped: %d\n", stats.Skipped)
	fmt.Fprintf(&b, "• Cycles: %d\n", stats.Cycles)
	fmt.Fprintf(&b, "• Uptime: %s", escapeMarkdownV2(stats.Uptime(now).Round(time.Second).String()))
	return b.String()
}

func formatRecent(records []models.SignalRecord) string {
	if len(records) == 0 {
		return escapeMarkdownV2("No signals delivered yet.")
	}

	var b strings.Builder
	b.WriteString("🗂 *Recent signals*\n")
	for _, r := range records {
		fmt.Fprintf(&b, "\n• *%s* %s %s at %s, %d/%d, R/R %s",
			escapeMarkdownV2(r.Symbol),
			r.Strength,
			escapeMarkdownV2(r.Interval),
			price(r.Price),
			r.ConditionsMet, models.ConditionCount,
			number(r.RiskReward1, true, 1))
		fmt.Fprintf(&b, " \\(%s\\)", escapeMarkdownV2(r.SentAt.UTC().Format("02/01 15:04")))
	}
	return b.String()
}

// price renders a dollar amount with four decimals.
func price(v float64) string {
	if !finite(v) {
		return escapeMarkdownV2(notAvailable)
	}
	return escapeMarkdownV2("$" + decimal.NewFromFloat(v).StringFixed(4))
}

func number(v float64, ok bool, places int32) string {
	if !ok || !finite(v) {
		return escapeMarkdownV2(notAvailable)
	}
	return escapeMarkdownV2(decimal.NewFromFloat(v).StringFixed(places))
}

func percentOf(target, base float64) string {
	if base == 0 || !finite(target) || !finite(base) {
		return escapeMarkdownV2(notAvailable)
	}
	return escapeMarkdownV2(decimal.NewFromFloat((target/base - 1) * 100).StringFixed(0) + "%")
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func tick(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
