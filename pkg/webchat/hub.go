package webchat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/snapdesk/pkg/eventbus"
	"github.com/go-go-golems/snapdesk/pkg/render"
)

const workbenchPoolKey = "workbench"

// Frame is one websocket message sent to the browser.
type Frame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text,omitempty"`
	HTML      string `json:"html,omitempty"`

	Status *eventbus.WorkbenchStatus `json:"status,omitempty"`
}

// Hub owns the connection pools and turns bus events into websocket frames.
type Hub struct {
	mu          sync.Mutex
	pools       map[string]*ConnectionPool
	idleTimeout time.Duration
	sleep       func(context.Context, time.Duration) bool
}

func NewHub() *Hub {
	return &Hub{
		pools:       map[string]*ConnectionPool{},
		idleTimeout: time.Minute,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func sessionPoolKey(page, session string) string {
	return page + "/" + session
}

// Pool returns the pool for key, creating it when needed. Idle pools are dropped.
func (h *Hub) Pool(key string) *ConnectionPool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pools[key]; ok {
		return p
	}
	var p *ConnectionPool
	p = NewConnectionPool(key, h.idleTimeout, func() {
		h.mu.Lock()
		if h.pools[key] == p && p.IsEmpty() {
			delete(h.pools, key)
		}
		h.mu.Unlock()
	})
	h.pools[key] = p
	return p
}

func (h *Hub) existing(key string) (*ConnectionPool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pools[key]
	return p, ok
}

func (h *Hub) all() []*ConnectionPool {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*ConnectionPool, 0, len(h.pools))
	for _, p := range h.pools {
		out = append(out, p)
	}
	return out
}

// Attach subscribes the hub to chat replies and workbench status changes.
func (h *Hub) Attach(ctx context.Context, bus *eventbus.Bus) error {
	if err := bus.Subscribe(ctx, eventbus.TopicChatReply, func(_ context.Context, payload []byte) error {
		var ev eventbus.ChatReply
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		// Typewriter pacing must not hold up other sessions' replies.
		go h.StreamReply(ctx, ev)
		return nil
	}); err != nil {
		return err
	}
	return bus.Subscribe(ctx, eventbus.TopicWorkbenchStatus, func(_ context.Context, payload []byte) error {
		var ev eventbus.WorkbenchStatus
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		h.BroadcastStatus(ev)
		return nil
	})
}

// StreamReply sends the typewriter frames of a reply to the sockets of its session,
// then a done frame carrying the rendered HTML.
func (h *Hub) StreamReply(ctx context.Context, ev eventbus.ChatReply) {
	pool, ok := h.existing(sessionPoolKey(ev.Page, ev.Session))
	if !ok || pool.IsEmpty() {
		return
	}
	if ev.Speed > 0 {
		delay := render.Delay(ev.Speed)
		for _, text := range render.Typewriter(ev.Content) {
			h.send(pool, Frame{Type: "frame", MessageID: ev.MessageID, Text: text})
			if !h.sleep(ctx, delay) {
				return
			}
		}
	}
	html, err := render.MarkdownHTML(ev.Content)
	if err != nil {
		log.Warn().Err(err).Str("component", "webchat").Str("page", ev.Page).Msg("render reply html")
	}
	h.send(pool, Frame{Type: "done", MessageID: ev.MessageID, Text: ev.Content, HTML: html})
}

// BroadcastStatus pushes a workbench status change to every open socket.
func (h *Hub) BroadcastStatus(ev eventbus.WorkbenchStatus) {
	f := Frame{Type: "status", Status: &ev}
	for _, p := range h.all() {
		h.send(p, f)
	}
}

func (h *Hub) send(p *ConnectionPool, f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("encode ws frame")
		return
	}
	p.Broadcast(b)
}

func (h *Hub) CloseAll() {
	for _, p := range h.all() {
		p.CloseAll()
	}
}
