// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jpillora/backoff"

	"github.com/rewired-gh/confluence/internal/logger"
	"github.com/rewired-gh/confluence/internal/models"
)

// ErrDelivery is returned when a message could not be delivered.
var ErrDelivery = errors.New("telegram delivery failed")

// recentLimit is the number of journal entries shown by /recent.
const recentLimit = 5

// Reporter supplies the data behind the /status and /recent commands.
type Reporter interface {
	Stats() models.SessionStats
	Alerted() []string
	RecentSignals(k int) ([]models.SignalRecord, error)
}

// Config holds the Telegram client settings. APIEndpoint defaults to the
// public Bot API and is overridden in tests.
type Config struct {
	BotToken       string
	ChatID         string
	APIEndpoint    string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// ChatInfo describes a chat seen in the bot's pending updates.
type ChatInfo struct {
	ID        int64
	Type      string
	FirstName string
	UserName  string
	Title     string
}

// NewClient creates a new Telegram client. It verifies the token with getMe.
// An empty chat ID is accepted for discovery use; sending then fails.
func NewClient(cfg Config) (*Client, error) {
	var chatID int64
	if cfg.ChatID != "" {
		id, err := strconv.ParseInt(cfg.ChatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat ID: %w", err)
		}
		chatID = id
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelayBase := cfg.RetryDelayBase
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Self returns the bot's username.
func (c *Client) Self() string {
	return c.bot.Self.UserName
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, reporter Reporter) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, reporter)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, reporter Reporter) {
	var reply tgbotapi.MessageConfig
	switch msg.Command() {
	case "ping":
		reply = tgbotapi.NewMessage(msg.Chat.ID, "Pong")
	case "status", "recent":
		if msg.Chat.ID != c.chatID || reporter == nil {
			return
		}
		reply = tgbotapi.NewMessage(msg.Chat.ID, c.commandText(msg.Command(), reporter))
		reply.ParseMode = tgbotapi.ModeMarkdownV2
	default:
		return
	}
	if _, err := c.bot.Send(reply); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

func (c *Client) commandText(command string, reporter Reporter) string {
	if command == "status" {
		return formatStatus(reporter.Stats(), reporter.Alerted(), time.Now())
	}
	records, err := reporter.RecentSignals(recentLimit)
	if err != nil {
		logger.Warn("Failed to load recent signals: %v", err)
		return escapeMarkdownV2("Recent signals are unavailable.")
	}
	return formatRecent(records)
}

// PendingChats lists the distinct chats found in the bot's pending updates.
func (c *Client) PendingChats() ([]ChatInfo, error) {
	updates, err := c.bot.GetUpdates(tgbotapi.NewUpdate(0))
	if err != nil {
		return nil, fmt.Errorf("failed to get updates: %w", err)
	}

	seen := make(map[int64]bool)
	var chats []ChatInfo
	for _, u := range updates {
		msg := u.Message
		if msg == nil {
			msg = u.ChannelPost
		}
		if msg == nil || msg.Chat == nil || seen[msg.Chat.ID] {
			continue
		}
		seen[msg.Chat.ID] = true
		chats = append(chats, ChatInfo{
			ID:        msg.Chat.ID,
			Type:      msg.Chat.Type,
			FirstName: msg.Chat.FirstName,
			UserName:  msg.Chat.UserName,
			Title:     msg.Chat.Title,
		})
	}
	return chats, nil
}

// sendMarkdownV2 sends a MarkdownV2 message with exponential-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	if c.chatID == 0 {
		return fmt.Errorf("%w: chat ID not configured", ErrDelivery)
	}
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	b := &backoff.Backoff{Min: c.retryDelayBase, Max: 30 * time.Second, Factor: 2}
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrDelivery, err)
		}
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrDelivery, ctx.Err())
		case <-time.After(b.Duration()):
		}
	}
	return fmt.Errorf("%w: failed after %d retries: %w", ErrDelivery, c.maxRetries, lastErr)
}

// SendSignal delivers a formatted signal alert.
func (c *Client) SendSignal(ctx context.Context, alert *models.Alert) error {
	return c.sendMarkdownV2(ctx, FormatSignal(alert))
}

// SendText delivers plain text, escaped for MarkdownV2.
func (c *Client) SendText(ctx context.Context, text string) error {
	return c.sendMarkdownV2(ctx, escapeMarkdownV2(text))
}

// SendStartup announces the running configuration.
func (c *Client) SendStartup(ctx context.Context, info StartupInfo) error {
	return c.sendMarkdownV2(ctx, formatStartup(info, time.Now()))
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(ctx context.Context, cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(ctx, text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(ctx context.Context, failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(ctx, text)
}

// SendFatal reports an unrecoverable error together with the session stats.
func (c *Client) SendFatal(ctx context.Context, fatalErr error, stats models.SessionStats) error {
	return c.sendMarkdownV2(ctx, formatFatal(fatalErr, stats, time.Now()))
}
