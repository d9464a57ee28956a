package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/confluence/internal/logger"
	"github.com/rewired-gh/confluence/internal/models"
)

// cycleRunner is the part of the monitor the service loop drives.
type cycleRunner interface {
	RunCycle(ctx context.Context, now time.Time, symbols []string) (models.SessionStats, error)
	Stats() models.SessionStats
}

// serviceNotices delivers notices about the loop itself.
type serviceNotices interface {
	SendError(ctx context.Context, cycleErr error) error
	SendRecovery(ctx context.Context, failureCount int) error
	SendFatal(ctx context.Context, fatalErr error, stats models.SessionStats) error
}

// serviceLoop runs one cycle immediately and another on every tick until
// its context is cancelled. A cycle in progress always runs to completion.
type serviceLoop struct {
	runner  cycleRunner
	notices serviceNotices // nil disables notices
	symbols []string
	now     func() time.Time

	consecutiveFailures int
}

func newServiceLoop(runner cycleRunner, notices serviceNotices, symbols []string) *serviceLoop {
	return &serviceLoop{runner: runner, notices: notices, symbols: symbols, now: time.Now}
}

func (l *serviceLoop) run(ctx context.Context, ticks <-chan time.Time) (err error) {
	// Cycles keep running after a shutdown signal; fetches and sends stay
	// bounded by their own timeouts.
	cycleCtx := context.WithoutCancel(ctx)

	// A panic here is an orchestrator defect: report it with the session
	// stats and stop.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.Error("Unrecoverable error: %v", err)
			l.notify("fatal", func(ctx context.Context) error {
				return l.notices.SendFatal(ctx, err, l.runner.Stats())
			})
		}
	}()

	logger.Debug("Running initial monitoring cycle")
	l.cycle(cycleCtx)

	for {
		select {
		case <-ctx.Done():
			l.stopped()
			return nil

		case <-ticks:
			// select picks at random when a tick was buffered during a cycle
			// that also saw the shutdown.
			if ctx.Err() != nil {
				l.stopped()
				return nil
			}
			logger.Debug("Starting scheduled monitoring cycle")
			l.cycle(cycleCtx)
		}
	}
}

func (l *serviceLoop) cycle(ctx context.Context) {
	stats, err := l.runner.RunCycle(ctx, l.now(), l.symbols)
	logger.Debug("Session totals: %d sent, %d errors, %d skipped over %d cycles",
		stats.SignalsSent, stats.Errors, stats.Skipped, stats.Cycles)

	if err != nil {
		l.consecutiveFailures++
		logger.Error("Monitoring cycle failed: %v", err)
		if l.consecutiveFailures == 1 {
			l.notify("error", func(ctx context.Context) error {
				return l.notices.SendError(ctx, err)
			})
		}
		return
	}

	if failures := l.consecutiveFailures; failures > 0 {
		logger.Info("Monitoring recovered after %d failed cycle(s)", failures)
		l.notify("recovery", func(ctx context.Context) error {
			return l.notices.SendRecovery(ctx, failures)
		})
	}
	l.consecutiveFailures = 0
}

func (l *serviceLoop) notify(kind string, send func(context.Context) error) {
	if l.notices == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), noticeTimeout)
	defer cancel()
	if err := send(ctx); err != nil {
		logger.Warn("Failed to send %s notification to Telegram: %v", kind, err)
	}
}

func (l *serviceLoop) stopped() {
	stats := l.runner.Stats()
	logger.Info("Service stopped after %d cycles (%d signals sent, %d errors, uptime %v)",
		stats.Cycles, stats.SignalsSent, stats.Errors, stats.Uptime(l.now()).Round(time.Second))
}
