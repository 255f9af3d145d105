package redisstream

import (
	"context"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Transport is a Redis Streams publisher/subscriber pair sharing one client.
// Group is private to this process, so every process sees every entry.
type Transport struct {
	Client     *redis.Client
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Group      string

	mu      sync.Mutex
	streams []string
}

// ProcessGroup is the consumer group one process reads with: the configured
// group as a prefix, then the consumer name and a random suffix.
func (s Settings) ProcessGroup() string {
	return s.Group + "-" + s.Consumer + "-" + watermill.NewShortUUID()
}

// Build connects the Redis Streams publisher and group subscriber described by s.
func Build(s Settings, logger watermill.LoggerAdapter) (*Transport, error) {
	group := s.ProcessGroup()
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, err
	}

	return &Transport{Client: client, Publisher: pub, Subscriber: sub, Group: group}, nil
}

// Close drops the groups this transport created, then closes the subscriber, publisher and client.
func (t *Transport) Close() error {
	var first error
	t.mu.Lock()
	streams := t.streams
	t.streams = nil
	t.mu.Unlock()
	for _, stream := range streams {
		if err := t.Client.XGroupDestroy(context.Background(), stream, t.Group).Err(); err != nil {
			log.Warn().Err(err).Str("stream", stream).Str("group", t.Group).Msg("could not drop redis consumer group")
		}
	}
	for _, c := range []interface{ Close() error }{t.Subscriber, t.Publisher, t.Client} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// EnsureGroupAtTail creates the transport's consumer group for stream at the tail ($) if it doesn't exist.
// This prevents full historical replay on first subscribe.
func (t *Transport) EnsureGroupAtTail(ctx context.Context, stream string) error {
	err := t.Client.XGroupCreateMkStream(ctx, stream, t.Group, "$").Err()
	if err != nil {
		// Ignore BUSYGROUP errors (group already exists)
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	t.mu.Lock()
	t.streams = append(t.streams, stream)
	t.mu.Unlock()
	log.Info().Str("stream", stream).Str("group", t.Group).Msg("created redis consumer group at $ (tail)")
	return nil
}
