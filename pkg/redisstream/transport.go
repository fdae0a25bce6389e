package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/cricket/pkg/helpers"
)

// BuildPublisher returns a Redis Streams publisher suitable as a notifier
// mirror. Callers gate on Settings.Enabled themselves.
func BuildPublisher(s Settings) (message.Publisher, error) {
	if s.Addr == "" {
		return nil, errors.New("redis stream: addr is empty")
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	logger := helpers.NewWatermill(log.With().Str("component", "redisstream").Logger())
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "redis stream: build publisher")
	}
	return pub, nil
}

// BuildSubscriber returns a consumer-group subscriber for mirrored session
// topics.
func BuildSubscriber(s Settings) (message.Subscriber, error) {
	if s.Addr == "" {
		return nil, errors.New("redis stream: addr is empty")
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	logger := helpers.NewWatermill(log.With().Str("component", "redisstream").Logger())
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "redis stream: build subscriber")
	}
	return sub, nil
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail ($) if it doesn't exist.
// This prevents full historical replay on first subscribe.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// Ignore BUSYGROUP errors (group already exists)
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
