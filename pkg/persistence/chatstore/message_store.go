package chatstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Message is one chat bubble as shown to the user.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Format    string    `json:"format,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Key scopes a history to one page within one browser or terminal session.
type Key struct {
	Page    string
	Session string
}

func (k Key) String() string {
	return k.Page + "/" + k.Session
}

func (k Key) validate() error {
	if strings.TrimSpace(k.Page) == "" {
		return errors.New("chat store: page is empty")
	}
	if strings.TrimSpace(k.Session) == "" {
		return errors.New("chat store: session is empty")
	}
	return nil
}

// Store holds session-scoped chat history. List returns messages in append order.
type Store interface {
	Append(ctx context.Context, key Key, msg Message) (Message, error)
	List(ctx context.Context, key Key) ([]Message, error)
	Clear(ctx context.Context, key Key) error
	// Conversations lists every non-empty history, most recently active first.
	Conversations(ctx context.Context) ([]Conversation, error)
	Close() error
}

// Conversation summarizes one stored history.
type Conversation struct {
	Key      Key
	Messages int
	LastAt   time.Time
}

func sortConversations(out []Conversation) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastAt.Equal(out[j].LastAt) {
			return out[i].LastAt.After(out[j].LastAt)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
}

func normalizeMessage(msg Message, now time.Time) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.Format == "" {
		msg.Format = FormatMarkdown
	}
	return msg
}
