package bot

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v4"

	"github.com/aisha-bot/aisha-backend/internal/config"
)

// NewBot builds a long-polling bot. The poll timeout is kept below the HTTP
// client timeout so a quiet getUpdates call never trips it.
func NewBot(cfg config.TelegramConfig) (*tele.Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is required")
	}
	poll := 10 * time.Second
	return tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		URL:    cfg.APIURL,
		Poller: &tele.LongPoller{Timeout: poll},
		Client: &http.Client{Timeout: poll + cfg.Timeout},
		OnError: func(err error, c tele.Context) {
			ev := log.Error().Err(err)
			if c != nil && c.Chat() != nil {
				ev = ev.Int64("chat_id", c.Chat().ID)
			}
			ev.Msg("telegram handler error")
		},
	})
}

// Register routes the bot's commands, texts and photos through f.
func Register(b *tele.Bot, f *Flow) {
	h := func(c tele.Context) error {
		u, ok := toUpdate(c)
		if !ok {
			return nil
		}
		ctx := log.Logger.WithContext(context.Background())
		return c.Send(f.Handle(ctx, u))
	}
	for _, cmd := range []string{"/start", "/cancel", "/avatar", "/done"} {
		b.Handle(cmd, h)
	}
	b.Handle(tele.OnText, h)
	b.Handle(tele.OnPhoto, h)
}

// toUpdate converts a telebot context; updates without a sender or chat
// (channel posts, service messages) are ignored.
func toUpdate(c tele.Context) (Update, bool) {
	chat, sender, msg := c.Chat(), c.Sender(), c.Message()
	if chat == nil || sender == nil || msg == nil {
		return Update{}, false
	}
	u := Update{
		ChatID:   chat.ID,
		UserID:   sender.ID,
		ThreadID: int64(msg.ThreadID),
		Private:  chat.Type == tele.ChatPrivate,
		Username: sender.Username,
		Lang:     sender.LanguageCode,
		Text:     msg.Text,
	}
	if msg.Photo != nil {
		u.PhotoID = msg.Photo.FileID
	}
	return u, true
}
