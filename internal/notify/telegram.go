// Package notify delivers operator alerts for connection events the
// external supervisor cannot see on its own (reconnects, fatal exits).
package notify

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/cloudbridge/internal/config"
)

// Notifier sends one operator-facing alert. Implementations must not
// block the bridge loop on delivery problems; an undeliverable alert is
// logged and dropped.
type Notifier interface {
	Notify(message string)
}

// Noop is used when alerting is disabled.
type Noop struct{}

func (Noop) Notify(string) {}

// TelegramSender is the slice of the bot API the notifier needs
// (allows mocking in tests).
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SenderFactory creates TelegramSender instances (allows mocking).
type SenderFactory func(token string) (TelegramSender, error)

var defaultSenderFactory SenderFactory = func(token string) (TelegramSender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return bot, nil
}

type TelegramNotifier struct {
	sender TelegramSender
	chatID int64
}

func NewTelegramNotifier(cfg config.TelegramConfig) (*TelegramNotifier, error) {
	return NewTelegramNotifierWithFactory(cfg, defaultSenderFactory)
}

// NewTelegramNotifierWithFactory creates a TelegramNotifier with a custom
// sender factory (for testing).
func NewTelegramNotifierWithFactory(cfg config.TelegramConfig, factory SenderFactory) (*TelegramNotifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	sender, err := factory(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramNotifier{sender: sender, chatID: cfg.ChatID}, nil
}

func (n *TelegramNotifier) Notify(message string) {
	msg := tgbotapi.NewMessage(n.chatID, message)
	if _, err := n.sender.Send(msg); err != nil {
		log.Printf("[notify] telegram send warning: %v", err)
	}
}

// FromConfig picks the configured notifier, falling back to Noop.
func FromConfig(cfg config.NotifyConfig) Notifier {
	if !cfg.Telegram.Enabled {
		return Noop{}
	}
	n, err := NewTelegramNotifier(cfg.Telegram)
	if err != nil {
		log.Printf("[notify] telegram disabled: %v", err)
		return Noop{}
	}
	return n
}
