package main

import (
	"errors"
	"fmt"

	"github.com/rewired-gh/confluence/internal/config"
	"github.com/rewired-gh/confluence/internal/telegram"
)

// listChats prints the chats found in the bot's pending updates so the
// operator can pick a chat_id.
func listChats(cfg *config.Config) error {
	if cfg.Telegram.BotToken == "" {
		return errors.New("telegram.bot_token (or TELEGRAM_TOKEN) is required")
	}

	tc := cfg.TelegramClientConfig()
	tc.ChatID = ""
	client, err := telegram.NewClient(tc)
	if err != nil {
		return err
	}

	chats, err := client.PendingChats()
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		fmt.Printf("No messages found. Send any message to @%s and run this again.\n", client.Self())
		return nil
	}

	for _, c := range chats {
		fmt.Printf("chat_id=%d type=%s", c.ID, c.Type)
		if c.FirstName != "" {
			fmt.Printf(" name=%q", c.FirstName)
		}
		if c.UserName != "" {
			fmt.Printf(" username=@%s", c.UserName)
		}
		if c.Title != "" {
			fmt.Printf(" title=%q", c.Title)
		}
		fmt.Println()
	}
	return nil
}
