// Package messaging delivers outbound notifications to Telegram users.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/aisha-bot/aisha-backend/internal/config"
	"github.com/aisha-bot/aisha-backend/internal/services"
)

// Telegram sends plain text messages through the Bot API.
type Telegram struct {
	bot *tele.Bot
}

// permanent lists Bot API errors after which a chat will never accept a
// message from this bot again.
var permanent = []error{
	tele.ErrBlockedByUser,
	tele.ErrChatNotFound,
	tele.ErrUserIsDeactivated,
	tele.ErrKickedFromGroup,
	tele.ErrKickedFromSuperGroup,
}

// NewTelegram builds an offline bot (no getMe round trip) used only for
// sending. cfg.Timeout bounds each API call.
func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is required")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
		Client:  &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: b}, nil
}

// SendMessage implements services.Messenger. Errors for recipients that can
// never be reached wrap services.ErrUndeliverable.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(tele.ChatID(chatID), text); err != nil {
		for _, p := range permanent {
			if errors.Is(err, p) {
				return fmt.Errorf("telegram send to %d: %w: %w", chatID, services.ErrUndeliverable, err)
			}
		}
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}
