package eventbus

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/snapdesk/pkg/redisstream"
)

func TestInProcessPublishSubscribe(t *testing.T) {
	b := NewInProcess()
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan WorkbenchStatus, 4)
	require.NoError(t, b.Subscribe(ctx, TopicWorkbenchStatus, func(_ context.Context, payload []byte) error {
		var ev WorkbenchStatus
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		got <- ev
		return nil
	}))

	require.NoError(t, b.Publish(ctx, TopicWorkbenchStatus, WorkbenchStatus{RecID: "REC-1", Status: "Created", PONumber: "PO-9"}))

	select {
	case ev := <-got:
		require.Equal(t, "REC-1", ev.RecID)
		require.Equal(t, "PO-9", ev.PONumber)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestHandlerErrorDoesNotStopDelivery(t *testing.T) {
	b := NewInProcess()
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	seen := make(chan string, 4)
	require.NoError(t, b.Subscribe(ctx, TopicChatReply, func(_ context.Context, payload []byte) error {
		var ev ChatReply
		_ = json.Unmarshal(payload, &ev)
		seen <- ev.Content
		if ev.Content == "bad" {
			return errors.New("boom")
		}
		return nil
	}))

	require.NoError(t, b.Publish(ctx, TopicChatReply, ChatReply{Content: "bad"}))
	require.NoError(t, b.Publish(ctx, TopicChatReply, ChatReply{Content: "good"}))

	delivered := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case c := <-seen:
			delivered[c] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d events delivered", i)
		}
	}
	require.Equal(t, map[string]bool{"bad": true, "good": true}, delivered)
}

func TestNewDisabledRedisIsInProcess(t *testing.T) {
	b, err := New(redisstream.Settings{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, b.transport)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	require.Error(t, b.Subscribe(context.Background(), TopicChatReply, func(context.Context, []byte) error { return nil }))
}

// Needs a reachable Redis at SNAPDESK_TEST_REDIS_ADDR.
func TestRedisBusBroadcastsToEveryProcess(t *testing.T) {
	addr := os.Getenv("SNAPDESK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SNAPDESK_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	topic := "snapdesk.test." + watermill.NewShortUUID()
	s := redisstream.Settings{Enabled: true, Addr: addr, Group: "snapdesk", Consumer: "web-1"}
	got := make(chan string, 4)
	for _, name := range []string{"a", "b"} {
		b, err := New(s)
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		require.NoError(t, b.Subscribe(ctx, topic, func(_ context.Context, payload []byte) error {
			got <- name
			return nil
		}))
	}

	pub, err := New(s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })
	require.NoError(t, pub.Publish(ctx, topic, ChatReply{Content: "hi"}))

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case n := <-got:
			seen[n] = true
		case <-ctx.Done():
			t.Fatalf("delivered to %v only", seen)
		}
	}
}
