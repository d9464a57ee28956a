// Package monitor runs the per-cycle evaluation of every configured symbol and
// decides which signals are delivered.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/confluence/internal/indicator"
	"github.com/rewired-gh/confluence/internal/logger"
	"github.com/rewired-gh/confluence/internal/models"
)

// ErrCycleFailed is returned by RunCycle when no symbol could be processed.
var ErrCycleFailed = errors.New("every symbol failed")

// MarketData fetches ascending bars for a symbol.
type MarketData interface {
	FetchBars(ctx context.Context, symbol, interval string, limit int) ([]models.Bar, error)
}

// Notifier delivers an alert. A nil error means the alert reached the channel.
type Notifier interface {
	SendSignal(ctx context.Context, alert *models.Alert) error
}

// Journal records delivered alerts.
type Journal interface {
	RecordSignal(alert *models.Alert) error
}

// Evaluator grades a bar series and derives risk levels for a snapshot.
type Evaluator interface {
	Evaluate(symbol string, bars []models.Bar) (models.SignalEvaluation, error)
	Risk(s models.Snapshot) models.RiskLevels
}

type Config struct {
	Interval     string
	BarsLimit    int
	Cooldown     time.Duration
	FetchTimeout time.Duration
	SendTimeout  time.Duration
	Concurrency  int
}

func DefaultConfig() Config {
	return Config{
		Interval:     "5m",
		BarsLimit:    200,
		Cooldown:     30 * time.Minute,
		FetchTimeout: 30 * time.Second,
		SendTimeout:  30 * time.Second,
		Concurrency:  1,
	}
}

type outcome int

const (
	outcomeQuiet outcome = iota
	outcomeSuppressed
	outcomeSent
	outcomeSkipped
	outcomeFailed
)

type Monitor struct {
	data      MarketData
	notifier  Notifier
	journal   Journal
	evaluator Evaluator
	alerts    *AlertManager
	config    Config

	mu    sync.Mutex
	stats models.SessionStats
}

// New builds a Monitor. journal may be nil.
func New(data MarketData, notifier Notifier, journal Journal, evaluator Evaluator, config Config, start time.Time) *Monitor {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Monitor{
		data:      data,
		notifier:  notifier,
		journal:   journal,
		evaluator: evaluator,
		alerts:    NewAlertManager(config.Cooldown),
		config:    config,
		stats:     models.SessionStats{StartTime: start},
	}
}

// Alerts exposes the alert state for status reporting.
func (m *Monitor) Alerts() *AlertManager { return m.alerts }

// Stats returns a copy of the session counters.
func (m *Monitor) Stats() models.SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// RunCycle evaluates every symbol once at now and returns the updated session
// stats. One symbol's failure never stops the others; ErrCycleFailed is
// returned only when all of them failed.
func (m *Monitor) RunCycle(ctx context.Context, now time.Time, symbols []string) (models.SessionStats, error) {
	cycleID := uuid.NewString()[:8]
	started := time.Now()
	logger.Info("Starting cycle %s for %d symbols", cycleID, len(symbols))

	results := make([]outcome, len(symbols))
	var g errgroup.Group
	g.SetLimit(m.config.Concurrency)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			results[i] = m.processSymbol(ctx, now, symbol)
			return nil
		})
	}
	_ = g.Wait()

	var sent, failed, skipped, suppressed int
	for _, r := range results {
		switch r {
		case outcomeSent:
			sent++
		case outcomeFailed:
			failed++
		case outcomeSkipped:
			skipped++
		case outcomeSuppressed:
			suppressed++
		}
	}

	m.mu.Lock()
	m.stats.SignalsSent += sent
	m.stats.Errors += failed
	m.stats.Skipped += skipped
	m.stats.Cycles++
	stats := m.stats
	m.mu.Unlock()

	logger.Info("Cycle %s completed in %v: %d sent, %d suppressed, %d skipped, %d failed",
		cycleID, time.Since(started), sent, suppressed, skipped, failed)

	if len(symbols) > 0 && failed == len(symbols) {
		return stats, fmt.Errorf("cycle %s: %w (%d symbols)", cycleID, ErrCycleFailed, failed)
	}
	return stats, nil
}

// Inspect fetches and evaluates symbol without consulting or changing alert state.
func (m *Monitor) Inspect(ctx context.Context, symbol string) (models.SignalEvaluation, models.RiskLevels, error) {
	ev, err := m.evaluate(ctx, symbol)
	if err != nil {
		return models.SignalEvaluation{}, models.RiskLevels{}, err
	}
	return ev, m.evaluator.Risk(ev.Snapshot), nil
}

func (m *Monitor) evaluate(ctx context.Context, symbol string) (models.SignalEvaluation, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.config.FetchTimeout)
	bars, err := m.data.FetchBars(fetchCtx, symbol, m.config.Interval, m.config.BarsLimit)
	cancel()
	if err != nil {
		return models.SignalEvaluation{}, fmt.Errorf("failed to fetch bars for %s: %w", symbol, err)
	}
	return m.evaluator.Evaluate(symbol, bars)
}

func (m *Monitor) processSymbol(ctx context.Context, now time.Time, symbol string) (result outcome) {
	emitting := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic while processing %s: %v", symbol, r)
			if emitting {
				m.alerts.Abort(symbol)
			}
			result = outcomeFailed
		}
	}()

	ev, err := m.evaluate(ctx, symbol)
	if errors.Is(err, indicator.ErrInsufficientData) {
		logger.Info("Skipping %s: %v", symbol, err)
		return outcomeSkipped
	}
	if err != nil {
		logger.Warn("Evaluation failed for %s: %v", symbol, err)
		return outcomeFailed
	}
	logger.Debug("%s: price=%.4f conditions=%d/%d strength=%s trend=%d",
		symbol, ev.Snapshot.Price, ev.ConditionsMet, models.ConditionCount, ev.Strength, ev.Trend.Score)

	var risk models.RiskLevels
	if ev.IsSignal {
		risk = m.evaluator.Risk(ev.Snapshot)
	}

	switch m.alerts.Decide(symbol, ev, now) {
	case SuppressNone:
		return outcomeQuiet
	case SuppressCooldown:
		logger.Debug("Signal for %s suppressed by cooldown", symbol)
		return outcomeSuppressed
	}
	emitting = true

	alert := &models.Alert{
		Symbol:     symbol,
		Interval:   m.config.Interval,
		Evaluation: ev,
		Risk:       risk,
		DetectedAt: now,
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.config.SendTimeout)
	err = m.notifier.SendSignal(sendCtx, alert)
	cancel()
	if err != nil {
		m.alerts.Abort(symbol)
		emitting = false
		logger.Error("Failed to deliver signal for %s: %v", symbol, err)
		return outcomeFailed
	}
	m.alerts.Confirm(symbol, now)
	emitting = false
	logger.Info("Sent %s signal for %s (%d/%d conditions, R/R %.2f)",
		ev.Strength, symbol, ev.ConditionsMet, models.ConditionCount, risk.RiskReward1)

	if m.journal != nil {
		if err := m.journal.RecordSignal(alert); err != nil {
			logger.Warn("Failed to journal signal for %s: %v", symbol, err)
		}
	}
	return outcomeSent
}

// LogNotifier writes alerts to the log. It stands in for the channel when
// Telegram is disabled.
type LogNotifier struct{}

func (LogNotifier) SendSignal(_ context.Context, alert *models.Alert) error {
	ev := alert.Evaluation
	logger.Info("SIGNAL %s %s: price=%.4f strength=%s conditions=%d/%d stop=%.4f tp1=%.4f tp2=%.4f rr=%.2f",
		alert.Symbol, alert.Interval, ev.Snapshot.Price, ev.Strength, ev.ConditionsMet, models.ConditionCount,
		alert.Risk.StopLoss, alert.Risk.TakeProfit1, alert.Risk.TakeProfit2, alert.Risk.RiskReward1)
	return nil
}
