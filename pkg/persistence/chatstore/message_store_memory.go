package chatstore

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// InMemoryStore is a size-limited Store. History is lost when the process exits.
type InMemoryStore struct {
	mu            sync.Mutex
	maxPerSession int
	sessions      map[Key][]Message
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore(maxPerSession int) *InMemoryStore {
	if maxPerSession <= 0 {
		maxPerSession = 500
	}
	return &InMemoryStore{
		maxPerSession: maxPerSession,
		sessions:      map[Key][]Message{},
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) Append(_ context.Context, key Key, msg Message) (Message, error) {
	if s == nil {
		return Message{}, errors.New("in-memory chat store: nil store")
	}
	if err := key.validate(); err != nil {
		return Message{}, err
	}
	msg = normalizeMessage(msg, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.sessions[key], msg)
	// Evict oldest when exceeding limit
	if over := len(msgs) - s.maxPerSession; over > 0 {
		msgs = append([]Message(nil), msgs[over:]...)
	}
	s.sessions[key] = msgs
	return msg, nil
}

func (s *InMemoryStore) List(_ context.Context, key Key) ([]Message, error) {
	if s == nil {
		return nil, errors.New("in-memory chat store: nil store")
	}
	if err := key.validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sessions[key]...), nil
}

func (s *InMemoryStore) Clear(_ context.Context, key Key) error {
	if s == nil {
		return errors.New("in-memory chat store: nil store")
	}
	if err := key.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

func (s *InMemoryStore) Conversations(_ context.Context) ([]Conversation, error) {
	if s == nil {
		return nil, errors.New("in-memory chat store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.sessions))
	for k, msgs := range s.sessions {
		if len(msgs) == 0 {
			continue
		}
		out = append(out, Conversation{Key: k, Messages: len(msgs), LastAt: msgs[len(msgs)-1].CreatedAt})
	}
	sortConversations(out)
	return out, nil
}
