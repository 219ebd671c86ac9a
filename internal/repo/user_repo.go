// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a user is not found, functions return ErrNotFound.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aisha-bot/aisha-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrNoChatBinding is returned by GetChatBinding when the user exists but has
// never opened a chat with the bot.
var ErrNoChatBinding = errors.New("user has no chat binding")

// UpsertUser inserts the Telegram user or refreshes its chat binding,
// username and language on conflict. The stored row is returned.
func UpsertUser(ctx context.Context, db *gorm.DB, telegramID int64, chatID *int64, username, lang string) (*domain.User, error) {
	now := time.Now().UTC()
	u := &domain.User{
		TelegramID:   telegramID,
		ChatID:       chatID,
		Username:     username,
		LanguageCode: lang,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"chat_id", "username", "language_code", "updated_at"}),
	}).Create(u).Error
	if err != nil {
		return nil, err
	}
	// ON CONFLICT does not reliably return the existing primary key across
	// drivers, so read the row back.
	return GetUserByTelegramID(ctx, db, telegramID)
}

// GetUserByID fetches a user by surrogate id, or ErrNotFound.
func GetUserByID(ctx context.Context, db *gorm.DB, id uint64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByTelegramID fetches a user by Telegram id, or ErrNotFound.
func GetUserByTelegramID(ctx context.Context, db *gorm.DB, telegramID int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetChatBinding resolves the chat id outbound messages for userID go to,
// together with the user's language code. It returns ErrNotFound for an
// unknown user and ErrNoChatBinding when the user has no chat.
func GetChatBinding(ctx context.Context, db *gorm.DB, userID uint64) (chatID int64, lang string, err error) {
	u, err := GetUserByID(ctx, db, userID)
	if err != nil {
		return 0, "", err
	}
	if u.ChatID == nil {
		return 0, u.LanguageCode, ErrNoChatBinding
	}
	return *u.ChatID, u.LanguageCode, nil
}
