package chatstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each history in a Redis list so several web processes can share sessions.
type RedisStore struct {
	client        *redis.Client
	prefix        string
	ttl           time.Duration
	maxPerSession int
}

var _ Store = &RedisStore{}

func NewRedisStore(addr string, ttl time.Duration, maxPerSession int) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: addr}), ttl, maxPerSession)
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration, maxPerSession int) *RedisStore {
	return &RedisStore{client: client, prefix: "snapdesk:chat:", ttl: ttl, maxPerSession: maxPerSession}
}

func (s *RedisStore) redisKey(key Key) string {
	return s.prefix + key.String()
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) Append(ctx context.Context, key Key, msg Message) (Message, error) {
	if s == nil || s.client == nil {
		return Message{}, errors.New("redis chat store: client is nil")
	}
	if err := key.validate(); err != nil {
		return Message{}, err
	}
	msg = normalizeMessage(msg, time.Now())
	b, err := json.Marshal(msg)
	if err != nil {
		return Message{}, errors.Wrap(err, "redis chat store: encode")
	}

	rk := s.redisKey(key)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, rk, b)
		if s.maxPerSession > 0 {
			p.LTrim(ctx, rk, int64(-s.maxPerSession), -1)
		}
		if s.ttl > 0 {
			p.Expire(ctx, rk, s.ttl)
		}
		return nil
	})
	if err != nil {
		return Message{}, errors.Wrap(err, "redis chat store: append")
	}
	return msg, nil
}

func (s *RedisStore) List(ctx context.Context, key Key) ([]Message, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis chat store: client is nil")
	}
	if err := key.validate(); err != nil {
		return nil, err
	}
	items, err := s.client.LRange(ctx, s.redisKey(key), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis chat store: list")
	}
	out := make([]Message, 0, len(items))
	for _, it := range items {
		var msg Message
		if err := json.Unmarshal([]byte(it), &msg); err != nil {
			return nil, errors.Wrap(err, "redis chat store: decode")
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *RedisStore) Clear(ctx context.Context, key Key) error {
	if s == nil || s.client == nil {
		return errors.New("redis chat store: client is nil")
	}
	if err := key.validate(); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return errors.Wrap(err, "redis chat store: clear")
	}
	return nil
}

// Conversations scans the store prefix. Keys are "page/session" so the
// first slash splits them.
func (s *RedisStore) Conversations(ctx context.Context) ([]Conversation, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis chat store: client is nil")
	}
	var out []Conversation
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rk := iter.Val()
		page, session, ok := strings.Cut(strings.TrimPrefix(rk, s.prefix), "/")
		if !ok {
			continue
		}
		n, err := s.client.LLen(ctx, rk).Result()
		if err != nil {
			return nil, errors.Wrap(err, "redis chat store: llen")
		}
		if n == 0 {
			continue
		}
		c := Conversation{Key: Key{Page: page, Session: session}, Messages: int(n)}
		if last, err := s.client.LIndex(ctx, rk, -1).Result(); err == nil {
			var msg Message
			if json.Unmarshal([]byte(last), &msg) == nil {
				c.LastAt = msg.CreatedAt
			}
		}
		out = append(out, c)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "redis chat store: scan")
	}
	sortConversations(out)
	return out, nil
}
