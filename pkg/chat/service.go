package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/snapdesk/pkg/config"
	"github.com/go-go-golems/snapdesk/pkg/eventbus"
	"github.com/go-go-golems/snapdesk/pkg/persistence/chatstore"
	"github.com/go-go-golems/snapdesk/pkg/pipeline"
	"github.com/go-go-golems/snapdesk/pkg/render"
)

const (
	RoleUser      = pipeline.RoleUser
	RoleAssistant = pipeline.RoleAssistant

	bulletDepth   = 6
	maxRemembered = 1024
)

// Result is what a successful Submit hands back to the HTTP and terminal front-ends.
type Result struct {
	Message chatstore.Message `json:"message"`
	HTML    string            `json:"html"`
	Frames  []string          `json:"-"`
	Speed   int               `json:"speed"`
}

// Service drives one prompt through a page's pipeline and keeps the session history.
type Service struct {
	pages   []config.PageConfig
	clients map[string]*pipeline.Client
	store   chatstore.Store
	bus     eventbus.Publisher
	limits  *sessionLimiters
	now     func() time.Time

	mu       sync.Mutex
	sessions map[chatstore.Key]*sync.Mutex
	results  map[string]*Result
	order    []string
}

type Option func(*Service)

func WithBus(p eventbus.Publisher) Option {
	return func(s *Service) { s.bus = p }
}

// WithClient overrides the pipeline client for one page.
func WithClient(slug string, c *pipeline.Client) Option {
	return func(s *Service) { s.clients[slug] = c }
}

// WithRateLimit sets the per-session prompt rate. A non-positive rate disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Service) { s.limits = newSessionLimiters(perSecond, burst) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(pages []config.PageConfig, store chatstore.Store, opts ...Option) *Service {
	s := &Service{
		pages:    pages,
		clients:  map[string]*pipeline.Client{},
		store:    store,
		now:      time.Now,
		sessions: map[chatstore.Key]*sync.Mutex{},
		results:  map[string]*Result{},
	}
	for _, p := range pages {
		s.clients[p.Slug] = pipeline.NewClient(p.Pipeline)
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Pages() []config.PageConfig {
	return s.pages
}

func (s *Service) Page(slug string) (config.PageConfig, bool) {
	for _, p := range s.pages {
		if p.Slug == slug {
			return p, true
		}
	}
	return config.PageConfig{}, false
}

// Submit sends prompt to the page's pipeline. Only a successful reply is stored as an
// assistant message. A repeated idempotencyKey returns the stored result without calling the pipeline.
func (s *Service) Submit(ctx context.Context, slug, session, prompt, idempotencyKey string) (*Result, error) {
	page, ok := s.Page(slug)
	if !ok {
		return nil, errors.Wrap(ErrUnknownPage, slug)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	key := chatstore.Key{Page: slug, Session: session}
	memoKey := key.String() + "#" + strings.TrimSpace(idempotencyKey)

	unlock := s.lockSession(key)
	defer unlock()

	if idempotencyKey != "" {
		if r, ok := s.remembered(memoKey); ok {
			log.Debug().Str("component", "chat").Str("page", slug).Str("session_id", session).Str("idempotency_key", idempotencyKey).Msg("returning remembered result")
			return r, nil
		}
	}
	if !s.limits.allow(session, s.now()) {
		return nil, ErrRateLimited
	}

	stored, err := s.store.List(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "load history")
	}
	history := make([]pipeline.Turn, 0, len(stored))
	for _, m := range stored {
		history = append(history, pipeline.Turn{Role: m.Role, Content: m.Content})
	}

	if page.Kind == config.KindChat {
		if _, err := s.store.Append(ctx, key, chatstore.Message{Role: RoleUser, Content: prompt, CreatedAt: s.now()}); err != nil {
			return nil, errors.Wrap(err, "store prompt")
		}
	}

	sessionLog := log.With().Str("component", "chat").Str("page", slug).Str("session_id", session).Logger()
	start := s.now()
	resp, err := s.clients[slug].Send(ctx, pipeline.BuildRequest(page, prompt, history, session))
	if err != nil {
		sessionLog.Warn().Err(err).Msg("pipeline call failed")
		return nil, withPage(page, err)
	}

	content, format, err := formatReply(page, resp)
	if err != nil {
		sessionLog.Warn().Err(err).Msg("pipeline response rejected")
		return nil, withPage(page, err)
	}

	if page.Kind == config.KindQA {
		if _, err := s.store.Append(ctx, key, chatstore.Message{Role: RoleUser, Content: prompt, CreatedAt: s.now()}); err != nil {
			return nil, errors.Wrap(err, "store question")
		}
	}
	msg, err := s.store.Append(ctx, key, chatstore.Message{Role: RoleAssistant, Content: content, Format: format, CreatedAt: s.now()})
	if err != nil {
		return nil, errors.Wrap(err, "store reply")
	}

	html, err := render.MarkdownHTML(content)
	if err != nil {
		return nil, err
	}
	result := &Result{Message: msg, HTML: html, Speed: page.TypewriterSpeed}
	if page.TypewriterSpeed > 0 {
		result.Frames = render.Typewriter(content)
	}
	sessionLog.Info().Str("message_id", msg.ID).Dur("elapsed", s.now().Sub(start)).Msg("reply stored")

	if idempotencyKey != "" {
		s.remember(memoKey, result)
	}
	if s.bus != nil {
		ev := eventbus.ChatReply{
			Page:      slug,
			Session:   session,
			MessageID: msg.ID,
			Content:   content,
			Format:    format,
			Speed:     page.TypewriterSpeed,
			At:        msg.CreatedAt,
		}
		if err := s.bus.Publish(ctx, eventbus.TopicChatReply, ev); err != nil {
			sessionLog.Warn().Err(err).Msg("publish chat reply")
		}
	}
	return result, nil
}

func formatReply(page config.PageConfig, resp *pipeline.Response) (string, string, error) {
	switch page.Render {
	case config.RenderJSON:
		return render.JSONFence(resp.Raw), chatstore.FormatJSON, nil
	case config.RenderBullets:
		return render.Bullets(resp.Raw, bulletDepth), chatstore.FormatMarkdown, nil
	}
	reply, err := resp.Reply(page.NewlineMarker)
	var mc *pipeline.MissingChoicesError
	if errors.As(err, &mc) && page.EmptyReply != "" {
		return page.EmptyReply, chatstore.FormatMarkdown, nil
	}
	if err != nil {
		return "", "", err
	}
	return reply, chatstore.FormatMarkdown, nil
}

func (s *Service) History(ctx context.Context, slug, session string) ([]chatstore.Message, error) {
	if _, ok := s.Page(slug); !ok {
		return nil, errors.Wrap(ErrUnknownPage, slug)
	}
	return s.store.List(ctx, chatstore.Key{Page: slug, Session: session})
}

// Reset clears one session's history and forgets its idempotent results.
func (s *Service) Reset(ctx context.Context, slug, session string) error {
	if _, ok := s.Page(slug); !ok {
		return errors.Wrap(ErrUnknownPage, slug)
	}
	key := chatstore.Key{Page: slug, Session: session}
	unlock := s.lockSession(key)
	defer unlock()
	if err := s.store.Clear(ctx, key); err != nil {
		return err
	}

	prefix := key.String() + "#"
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	for _, k := range s.order {
		if strings.HasPrefix(k, prefix) {
			delete(s.results, k)
			continue
		}
		kept = append(kept, k)
	}
	s.order = kept
	return nil
}

func (s *Service) lockSession(key chatstore.Key) func() {
	s.mu.Lock()
	m, ok := s.sessions[key]
	if !ok {
		m = &sync.Mutex{}
		s.sessions[key] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *Service) remembered(k string) (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[k]
	return r, ok
}

func (s *Service) remember(k string, r *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[k]; !ok {
		s.order = append(s.order, k)
	}
	s.results[k] = r
	for len(s.order) > maxRemembered {
		delete(s.results, s.order[0])
		s.order = s.order[1:]
	}
}
