package ui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/snapdesk/pkg/chat"
)

// Submitter is the part of *chat.Service the terminal chat needs.
type Submitter interface {
	Submit(ctx context.Context, slug, session, prompt, idempotencyKey string) (*chat.Result, error)
}

// ReplyMsg carries the outcome of one prompt back into the bubbletea loop.
type ReplyMsg struct {
	Prompt string
	Result *chat.Result
	Err    error
}

// ServiceBackend runs one prompt at a time against a chat page.
type ServiceBackend struct {
	svc     Submitter
	slug    string
	session string

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
}

func NewServiceBackend(svc Submitter, slug, session string) *ServiceBackend {
	return &ServiceBackend{svc: svc, slug: slug, session: session}
}

// Start returns the command that submits prompt. Only one prompt may be in flight.
func (b *ServiceBackend) Start(ctx context.Context, prompt string) (tea.Cmd, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isRunning {
		return nil, errors.New("a prompt is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.isRunning = true

	return func() tea.Msg {
		res, err := b.svc.Submit(ctx, b.slug, b.session, prompt, "")
		b.mu.Lock()
		b.isRunning = false
		b.cancel = nil
		b.mu.Unlock()
		cancel()
		if err != nil {
			log.Debug().Err(err).Str("component", "ui").Str("page", b.slug).Msg("prompt failed")
		}
		return ReplyMsg{Prompt: prompt, Result: res, Err: err}
	}, nil
}

// Interrupt cancels the running prompt, if any.
func (b *ServiceBackend) Interrupt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	} else {
		log.Debug().Str("component", "ui").Msg("no prompt running")
	}
}

func (b *ServiceBackend) IsFinished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.isRunning
}
