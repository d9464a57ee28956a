package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rewired-gh/confluence/internal/analysis"
	"github.com/rewired-gh/confluence/internal/binance"
	"github.com/rewired-gh/confluence/internal/config"
	"github.com/rewired-gh/confluence/internal/logger"
	"github.com/rewired-gh/confluence/internal/models"
	"github.com/rewired-gh/confluence/internal/monitor"
	"github.com/rewired-gh/confluence/internal/storage"
	"github.com/rewired-gh/confluence/internal/telegram"
)

const usage = `Usage: confluence [run|check|chatid] [-config path]

  run     monitor the configured symbols and deliver signals (default)
  check   verify exchange and Telegram connectivity and evaluate each symbol once
  chatid  list the chats that have messaged the bot
`

// noticeTimeout bounds best-effort notifications sent outside a cycle.
const noticeTimeout = 15 * time.Second

func main() {
	command, args := "run", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := flags.String("config", "configs/config.yaml", "Path to configuration file")
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch command {
	case "run":
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
		logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.LogFile())
		defer logger.Sync()
		logger.Info("Configuration loaded from %s", *configPath)
		if err := run(cfg); err != nil {
			logger.Sync()
			logger.Fatal("Service stopped: %v", err)
		}
	case "check":
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}
		logger.Init(cfg.Logging.Level, "text", logger.FileOptions{})
		if failures := check(cfg); failures > 0 {
			fmt.Printf("\n%d check(s) failed\n", failures)
			os.Exit(1)
		}
		fmt.Println("\nAll checks passed")
	case "chatid":
		logger.Init("warn", "text", logger.FileOptions{})
		if err := listChats(cfg); err != nil {
			log.Fatalf("%v", err)
		}
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// statusReporter backs the /status and /recent bot commands.
type statusReporter struct {
	mon     *monitor.Monitor
	journal *storage.Journal
}

func (r statusReporter) Stats() models.SessionStats { return r.mon.Stats() }

func (r statusReporter) Alerted() []string { return r.mon.Alerts().Alerted() }

func (r statusReporter) RecentSignals(k int) ([]models.SignalRecord, error) {
	return r.journal.RecentSignals(k)
}

func run(cfg *config.Config) error {
	for _, w := range cfg.Warnings() {
		logger.Warn("Configuration warning: %s", w)
	}

	journal, err := storage.New(cfg.Storage.MaxSignals, cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize signal journal: %w", err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Error("Failed to close signal journal: %v", err)
		}
	}()

	evaluator, err := analysis.NewEvaluator(cfg.IndicatorParams(), cfg.Thresholds(), cfg.RiskParams())
	if err != nil {
		return fmt.Errorf("invalid analysis settings: %w", err)
	}

	market := binance.NewClient(cfg.BinanceConfig())

	var notifier monitor.Notifier = monitor.LogNotifier{}
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.TelegramClientConfig())
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		notifier = telegramClient
		logger.Info("Telegram client initialized as @%s", telegramClient.Self())
	} else {
		logger.Warn("Telegram notifications disabled; signals will only be logged")
	}

	mon := monitor.New(market, notifier, journal, evaluator, cfg.OrchestratorConfig(), time.Now())

	var notices serviceNotices
	if telegramClient != nil && cfg.Telegram.ErrorNotifications {
		notices = telegramClient
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, finishing current cycle...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, statusReporter{mon: mon, journal: journal})
		if cfg.Telegram.StartupNotification {
			noticeCtx, noticeCancel := context.WithTimeout(ctx, noticeTimeout)
			err := telegramClient.SendStartup(noticeCtx, telegram.StartupInfo{
				Symbols:      cfg.Monitor.Symbols,
				Interval:     cfg.Exchange.Interval,
				PollInterval: cfg.Monitor.PollInterval,
				Params:       cfg.IndicatorParams(),
			})
			noticeCancel()
			if err != nil {
				logger.Warn("Failed to send startup notification to Telegram: %v", err)
			}
		}
	}

	logger.Info("Starting monitoring service (symbols: %v, interval: %s, poll: %v, cooldown: %v, min conditions: %d)",
		cfg.Monitor.Symbols,
		cfg.Exchange.Interval,
		cfg.Monitor.PollInterval,
		cfg.Monitor.Cooldown,
		cfg.Signal.MinConditions,
	)

	ticker := time.NewTicker(cfg.Monitor.PollInterval)
	defer ticker.Stop()

	return newServiceLoop(mon, notices, cfg.Monitor.Symbols).run(ctx, ticker.C)
}
