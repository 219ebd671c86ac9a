// Package services – UserService
//
// UserService records the chat binding the notifier needs: the bot calls
// BindChat whenever a user talks to it in a private chat.
package services

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aisha-bot/aisha-backend/internal/domain"
)

// UserWriter persists bot users.
type UserWriter interface {
	UpsertUser(ctx context.Context, db *gorm.DB, telegramID int64, chatID *int64, username, lang string) (*domain.User, error)
}

// UserService binds Telegram users to their private chats.
type UserService struct {
	DB    *gorm.DB
	Users UserWriter
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, users UserWriter) *UserService {
	return &UserService{DB: db, Users: users}
}

// BindChat creates or refreshes the user identified by telegramID and points
// its chat binding at chatID. A zero chatID leaves the user unbound.
func (s *UserService) BindChat(ctx context.Context, telegramID, chatID int64, username, lang string) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "BindChat",
		trace.WithAttributes(attribute.Int64("user.telegram_id", telegramID)),
	)
	defer span.End()

	if telegramID <= 0 {
		return nil, ErrUserNotFound
	}
	var chat *int64
	if chatID != 0 {
		chat = &chatID
	}
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) > 16 {
		lang = lang[:16]
	}
	if len(username) > 64 {
		username = username[:64]
	}
	return s.Users.UpsertUser(ctx, s.DB, telegramID, chat, strings.TrimSpace(username), lang)
}
