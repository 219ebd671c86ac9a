// Package bot implements the conversational surface of the Telegram bot.
//
// Flow is transport-agnostic: it turns an Update into a reply text and keeps
// all per-conversation state in a session.Store, so any number of bot
// replicas can serve the same user. telegram.go adapts it to telebot.
package bot

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/aisha-bot/aisha-backend/internal/domain"
	"github.com/aisha-bot/aisha-backend/internal/events"
	"github.com/aisha-bot/aisha-backend/internal/session"
)

// Conversation states.
const (
	StateAwaitingPhotos = "avatar:awaiting_photos"
	StateAwaitingName   = "avatar:awaiting_name"
)

const (
	// photoFieldPrefix namespaces one data field per uploaded photo. Distinct
	// fields merge without loss when an album arrives as parallel updates.
	photoFieldPrefix = "photo:"
	fieldName        = "name"

	maxPhotos     = 20
	maxNameRunes  = 64
	defaultOpTime = 5 * time.Second
)

// Replies.
const (
	ReplyWelcome     = "Hi! Send /avatar to create a new avatar."
	ReplyCancelled   = "Cancelled."
	ReplySendPhotos  = "Send 1 to 20 photos of yourself, then /done."
	ReplyPhotoSaved  = "Photo saved. Send more or /done."
	ReplyTooMany     = "That is enough photos. Send /done."
	ReplyNeedPhoto   = "Send at least one photo first."
	ReplyAskName     = "How should the avatar be called?"
	ReplyBadName     = "The name must be 1 to 64 characters."
	ReplyQueued      = "Training started. I will message you when the avatar is ready."
	ReplyHelp        = "Send /avatar to start or /cancel to reset."
	ReplyNotNow      = "Nothing to finish. Send /avatar to start."
	ReplyUnavailable = "Something went wrong on our side. Please try again in a minute."
)

// ChatBinder records the chat the notifier should message a user in.
type ChatBinder interface {
	BindChat(ctx context.Context, telegramID, chatID int64, username, lang string) (*domain.User, error)
}

// AvatarRequester hands a completed avatar request to the training pipeline.
type AvatarRequester interface {
	PublishAvatarRequested(ctx context.Context, ev events.AvatarRequested) error
}

// Update is the transport-neutral view of an incoming Telegram message.
type Update struct {
	ChatID   int64
	UserID   int64
	ThreadID int64
	Private  bool

	Username string
	Lang     string

	Text    string
	PhotoID string
}

// Flow drives the avatar conversation.
type Flow struct {
	BotID   int64
	Store   session.Store
	Users   ChatBinder
	Avatars AvatarRequester

	// OpTimeout bounds the work done for one update.
	OpTimeout time.Duration

	now func() time.Time
}

// NewFlow constructs a Flow.
func NewFlow(botID int64, store session.Store, users ChatBinder, avatars AvatarRequester) *Flow {
	return &Flow{
		BotID:     botID,
		Store:     store,
		Users:     users,
		Avatars:   avatars,
		OpTimeout: defaultOpTime,
		now:       time.Now,
	}
}

func (f *Flow) key(u Update) session.Key {
	return session.Key{BotID: f.BotID, ChatID: u.ChatID, UserID: u.UserID, ThreadID: u.ThreadID}
}

// Handle processes one update and returns the reply text. Failures are
// logged and answered with ReplyUnavailable; the session is left as it was,
// so the user can simply retry.
func (f *Flow) Handle(ctx context.Context, u Update) string {
	if f.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.OpTimeout)
		defer cancel()
	}
	lg := zerolog.Ctx(ctx).With().
		Int64("chat_id", u.ChatID).
		Int64("user_id", u.UserID).
		Logger()
	ctx = lg.WithContext(ctx)

	reply, err := f.dispatch(ctx, u)
	if err != nil {
		ev := lg.Error()
		if errors.Is(err, session.ErrUnavailable) {
			ev = lg.Warn()
		}
		ev.Err(err).Msg("bot update failed")
		return ReplyUnavailable
	}
	return reply
}

func (f *Flow) dispatch(ctx context.Context, u Update) (string, error) {
	key := f.key(u)

	switch command(u.Text) {
	case "start":
		return f.start(ctx, key, u)
	case "cancel":
		if err := session.Clear(ctx, f.Store, key); err != nil {
			return "", err
		}
		return ReplyCancelled, nil
	case "avatar":
		if err := f.Store.SetData(ctx, key, nil); err != nil {
			return "", err
		}
		if err := f.Store.SetState(ctx, key, session.StrPtr(StateAwaitingPhotos)); err != nil {
			return "", err
		}
		return ReplySendPhotos, nil
	case "done":
		return f.done(ctx, key)
	}

	state, _, err := f.Store.GetState(ctx, key)
	if err != nil {
		return "", err
	}
	switch {
	case state == StateAwaitingPhotos && u.PhotoID != "":
		return f.addPhoto(ctx, key, u.PhotoID)
	case state == StateAwaitingPhotos:
		return ReplySendPhotos, nil
	case state == StateAwaitingName && u.PhotoID == "":
		return f.name(ctx, key, u)
	case state == StateAwaitingName:
		return ReplyAskName, nil
	}
	return ReplyHelp, nil
}

func (f *Flow) start(ctx context.Context, key session.Key, u Update) (string, error) {
	var chat int64
	if u.Private {
		chat = u.ChatID
	}
	if _, err := f.Users.BindChat(ctx, u.UserID, chat, u.Username, u.Lang); err != nil {
		return "", err
	}
	if err := session.Clear(ctx, f.Store, key); err != nil {
		return "", err
	}
	return ReplyWelcome, nil
}

func (f *Flow) addPhoto(ctx context.Context, key session.Key, photoID string) (string, error) {
	data, err := f.Store.GetData(ctx, key)
	if err != nil {
		return "", err
	}
	if len(photoIDs(data)) >= maxPhotos {
		return ReplyTooMany, nil
	}
	_, err = f.Store.UpdateData(ctx, key, map[string]any{
		photoFieldPrefix + photoID: f.now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	return ReplyPhotoSaved, nil
}

func (f *Flow) done(ctx context.Context, key session.Key) (string, error) {
	state, _, err := f.Store.GetState(ctx, key)
	if err != nil {
		return "", err
	}
	if state != StateAwaitingPhotos {
		return ReplyNotNow, nil
	}
	data, err := f.Store.GetData(ctx, key)
	if err != nil {
		return "", err
	}
	if len(photoIDs(data)) == 0 {
		return ReplyNeedPhoto, nil
	}
	if err := f.Store.SetState(ctx, key, session.StrPtr(StateAwaitingName)); err != nil {
		return "", err
	}
	return ReplyAskName, nil
}

func (f *Flow) name(ctx context.Context, key session.Key, u Update) (string, error) {
	name := strings.TrimSpace(u.Text)
	if name == "" || strings.HasPrefix(name, "/") || utf8.RuneCountInString(name) > maxNameRunes {
		return ReplyBadName, nil
	}
	data, err := f.Store.UpdateData(ctx, key, map[string]any{fieldName: name})
	if err != nil {
		return "", err
	}

	ev := events.AvatarRequested{
		UserID:      u.UserID,
		ChatID:      u.ChatID,
		Name:        name,
		PhotoIDs:    photoIDs(data),
		RequestedAt: f.now().UTC(),
	}
	if err := f.Avatars.PublishAvatarRequested(ctx, ev); err != nil {
		return "", err
	}
	zerolog.Ctx(ctx).Info().Str("avatar", name).Int("photos", len(ev.PhotoIDs)).Msg("avatar requested")

	if err := session.Clear(ctx, f.Store, key); err != nil {
		// The request is queued; a stale session only re-asks for the name.
		zerolog.Ctx(ctx).Warn().Err(err).Msg("clear session after avatar request")
	}
	return ReplyQueued, nil
}

// photoIDs returns the uploaded photo ids in upload order.
func photoIDs(data map[string]any) []string {
	type photo struct {
		id string
		at float64
	}
	var ps []photo
	for k, v := range data {
		id, ok := strings.CutPrefix(k, photoFieldPrefix)
		if !ok {
			continue
		}
		p := photo{id: id}
		switch at := v.(type) {
		case float64: // JSON round trip
			p.at = at
		case int64:
			p.at = float64(at)
		}
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].at != ps[j].at {
			return ps[i].at < ps[j].at
		}
		return ps[i].id < ps[j].id
	})
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.id
	}
	return out
}

// command extracts "start" from "/start@AishaBot payload".
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	head, _, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head)
}
