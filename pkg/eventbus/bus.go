package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/snapdesk/pkg/redisstream"
)

const (
	TopicChatReply       = "chat.reply"
	TopicWorkbenchStatus = "workbench.status"
)

// Handler receives the JSON payload of one event.
type Handler func(ctx context.Context, payload []byte) error

// Publisher is the narrow side of Bus used by services that only emit events.
type Publisher interface {
	Publish(ctx context.Context, topic string, v any) error
}

// Bus carries JSON events over watermill, in-process by default.
type Bus struct {
	pub       message.Publisher
	sub       message.Subscriber
	transport *redisstream.Transport

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ Publisher = &Bus{}

// NewInProcess returns a bus backed by watermill's gochannel pub/sub.
func NewInProcess() *Bus {
	logger := redisstream.NewWatermillLogger(log.Logger)
	gc := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
	return &Bus{pub: gc, sub: gc}
}

// New returns a Redis Streams bus when s is enabled and an in-process bus otherwise.
func New(s redisstream.Settings) (*Bus, error) {
	if !s.Enabled {
		return NewInProcess(), nil
	}
	t, err := redisstream.Build(s, redisstream.NewWatermillLogger(log.Logger))
	if err != nil {
		return nil, errors.Wrap(err, "build redis event bus")
	}
	log.Info().Str("component", "eventbus").Str("addr", s.Addr).Str("group", t.Group).Msg("using redis streams event bus")
	return &Bus{pub: t.Publisher, sub: t.Subscriber, transport: t}, nil
}

func (b *Bus) Publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s event", topic)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.pub.Publish(topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s", topic)
	}
	return nil
}

// Subscribe delivers every message on topic to fn until ctx is done or the bus is closed.
// Handler errors are logged and the message is still acked so one bad event cannot wedge the stream.
func (b *Bus) Subscribe(ctx context.Context, topic string, fn Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("event bus closed")
	}
	if b.transport != nil {
		if err := b.transport.EnsureGroupAtTail(ctx, topic); err != nil {
			return errors.Wrapf(err, "ensure consumer group for %s", topic)
		}
	}
	msgs, err := b.sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", topic)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range msgs {
			if err := fn(msg.Context(), msg.Payload); err != nil {
				log.Warn().Err(err).Str("component", "eventbus").Str("topic", topic).Str("message_id", msg.UUID).Msg("event handler failed")
			}
			msg.Ack()
		}
	}()
	return nil
}

// Close shuts the transport down and waits for subscriber goroutines to drain.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var err error
	if b.transport != nil {
		err = b.transport.Close()
	} else {
		err = b.pub.Close()
	}
	b.wg.Wait()
	return err
}
