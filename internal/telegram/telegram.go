// Package telegram delivers escalations to a chat and feeds replies back
// into the daemon.
//
// The channel is deliberately thin: it knows nothing about classification,
// auth, or routing. It turns events into messages and messages into
// (principal, text) pairs for the daemon's inbound handler.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// updateTimeout is the long-poll timeout in seconds.
const updateTimeout = 60

// InboundFunc handles one reply from the chat and returns the text to send
// back.
type InboundFunc func(principal, text string) string

// Channel wraps a bot bound to a single chat.
type Channel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	send   func(text string) error
}

// NewChannel authenticates the bot token and binds it to chatID.
func NewChannel(token string, chatID int64) (*Channel, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting telegram bot: %w", err)
	}
	slog.Info("telegram channel ready", "bot", bot.Self.UserName, "chat_id", chatID)
	c := &Channel{bot: bot, chatID: chatID}
	c.send = c.sendMessage
	return c, nil
}

func (c *Channel) sendMessage(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// Deliver sends one escalation message to the chat.
func (c *Channel) Deliver(text string) error {
	return c.send(text)
}

// Run consumes updates until the context is canceled, passing each message
// from the bound chat to handle and sending its response back.
func (c *Channel) Run(ctx context.Context, handle InboundFunc) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		c.bot.StopReceivingUpdates()
	}()

	c.consume(updates, handle)
	slog.Info("telegram channel stopped")
}

// consume drains the update stream. Messages from any chat other than the
// bound one are logged and dropped; an empty handler response suppresses
// the reply entirely.
func (c *Channel) consume(updates <-chan tgbotapi.Update, handle InboundFunc) {
	for update := range updates {
		if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
			continue
		}
		if update.Message.Chat.ID != c.chatID {
			slog.Warn("message from unexpected chat dropped",
				"chat_id", update.Message.Chat.ID,
				"from", update.Message.From.UserName)
			continue
		}

		principal := Principal(update.Message.From.ID)
		response := handle(principal, update.Message.Text)
		if response == "" {
			continue
		}
		if err := c.send(response); err != nil {
			slog.Error("sending reply", "error", err)
		}
	}
}

// Principal derives the stable auth principal for a chat user.
func Principal(userID int64) string {
	return fmt.Sprintf("telegram:%d", userID)
}
