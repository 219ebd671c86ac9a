package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// AvatarRequested is published by the bot once a user has uploaded photos
// and named a new avatar. The training submitter consumes it, submits the job
// to the provider and registers the provider's request id via POST /jobs.
type AvatarRequested struct {
	UserID      int64     `json:"user_id"`
	ChatID      int64     `json:"chat_id"`
	Name        string    `json:"name"`
	PhotoIDs    []string  `json:"photo_ids"`
	RequestedAt time.Time `json:"requested_at"`
}

// AvatarPublisher emits AvatarRequested events.
type AvatarPublisher struct {
	Publisher message.Publisher
	Topic     string
}

// PublishAvatarRequested publishes ev on the avatar topic.
func (p *AvatarPublisher) PublishAvatarRequested(ctx context.Context, ev AvatarRequested) error {
	return PublishJSON(ctx, p.Publisher, p.Topic, ev)
}
