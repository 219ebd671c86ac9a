package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// NewRedisPublisher returns a Redis Streams publisher on client.
func NewRedisPublisher(client redis.UniversalClient, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create redis stream publisher")
	}
	return pub, nil
}

// NewRedisSubscriber returns a Redis Streams subscriber bound to a consumer
// group, so each message is handled by one worker replica.
func NewRedisSubscriber(client redis.UniversalClient, group, consumer string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create redis stream subscriber")
	}
	return sub, nil
}

// NewInMemory returns a gochannel pub/sub. Messages are only visible inside
// this process.
func NewInMemory(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
}

// EnsureGroupAtTail creates the consumer group for stream at the tail ($)
// if it does not exist, so a fresh group does not replay history.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

// PublishJSON encodes v and publishes it to topic. The message carries the
// JSON content type, the caller's trace context and, when present, its
// correlation id.
func PublishJSON(ctx context.Context, pub message.Publisher, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s event", topic)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("content_type", "application/json")
	if rid, ok := ctx.Value(CorrelationIDKey{}).(string); ok && rid != "" {
		msg.Metadata.Set("correlation_id", rid)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))
	msg.SetContext(ctx)
	if err := pub.Publish(topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s event", topic)
	}
	return nil
}

// CorrelationIDKey is the context key PublishJSON reads the correlation id from.
type CorrelationIDKey struct{}

// WithCorrelationID stores id for PublishJSON.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey{}, id)
}
