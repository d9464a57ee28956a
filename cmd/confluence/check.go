package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/confluence/internal/analysis"
	"github.com/rewired-gh/confluence/internal/binance"
	"github.com/rewired-gh/confluence/internal/config"
	"github.com/rewired-gh/confluence/internal/models"
	"github.com/rewired-gh/confluence/internal/monitor"
	"github.com/rewired-gh/confluence/internal/telegram"
)

// check verifies connectivity and evaluates every symbol once without
// touching alert state. It returns the number of failed checks.
func check(cfg *config.Config) int {
	failures := 0
	report := func(name string, err error) {
		if err != nil {
			failures++
			fmt.Printf("✗ %s: %v\n", name, err)
			return
		}
		fmt.Printf("✓ %s\n", name)
	}

	if out, err := cfg.Redacted(); err == nil {
		fmt.Printf("Effective configuration:\n%s\n", out)
	}
	for _, w := range cfg.Warnings() {
		fmt.Printf("! %s\n", w)
	}

	ctx := context.Background()
	market := binance.NewClient(cfg.BinanceConfig())

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Exchange.Timeout)
	report("Binance connectivity", market.Ping(pingCtx))
	cancel()

	if cfg.Telegram.BotToken != "" {
		client, err := telegram.NewClient(cfg.TelegramClientConfig())
		if err == nil {
			fmt.Printf("  bot: @%s\n", client.Self())
			sendCtx, cancel := context.WithTimeout(ctx, noticeTimeout)
			err = client.SendText(sendCtx, fmt.Sprintf("🧪 Connectivity check at %s", time.Now().UTC().Format(time.RFC3339)))
			cancel()
		}
		report("Telegram delivery", err)
	} else {
		fmt.Println("- Telegram: no bot token configured, skipped")
	}

	evaluator, err := analysis.NewEvaluator(cfg.IndicatorParams(), cfg.Thresholds(), cfg.RiskParams())
	if err != nil {
		report("Analysis settings", err)
		return failures
	}
	mon := monitor.New(market, monitor.LogNotifier{}, nil, evaluator, cfg.OrchestratorConfig(), time.Now())

	fmt.Printf("\nEvaluating %d symbols on %s bars:\n", len(cfg.Monitor.Symbols), cfg.Exchange.Interval)
	for _, symbol := range cfg.Monitor.Symbols {
		ev, risk, err := mon.Inspect(ctx, symbol)
		if err != nil {
			report(symbol, err)
			continue
		}
		fmt.Println(describe(ev, risk))
	}
	return failures
}

func describe(ev models.SignalEvaluation, risk models.RiskLevels) string {
	snap := ev.Snapshot
	rsi := "n/a"
	if snap.HasRSI {
		rsi = fmt.Sprintf("%.1f", snap.RSI)
	}
	line := fmt.Sprintf("  %-10s price=%.4f rsi=%s conditions=%d/%d trend=%s(%d)",
		ev.Symbol, snap.Price, rsi, ev.ConditionsMet, models.ConditionCount, ev.Trend.Label, ev.Trend.Score)
	if ev.IsSignal {
		line += fmt.Sprintf(" → %s signal, stop=%.4f tp1=%.4f rr=%.2f", ev.Strength, risk.StopLoss, risk.TakeProfit1, risk.RiskReward1)
	}
	return line
}
