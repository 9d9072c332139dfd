package ws

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bzaromedia/securi-comm-network-sub001/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

type relayStart struct {
	ctx            context.Context
	conversationID uuid.UUID
}

// newTestHub builds a hub whose relay is replaced by a recorder, so the
// attach/detach bookkeeping can be exercised without Redis
func newTestHub() (*Hub, chan relayStart) {
	started := make(chan relayStart, 4)
	h := &Hub{
		conversations: make(map[uuid.UUID]map[*Client]bool),
		relayCancels:  make(map[uuid.UUID]context.CancelFunc),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan *Frame, 16),
	}
	h.relay = func(ctx context.Context, conversationID uuid.UUID) {
		started <- relayStart{ctx: ctx, conversationID: conversationID}
	}

	go h.run()

	return h, started
}

func attach(h *Hub, conversationID uuid.UUID) *Client {
	client := &Client{
		hub:            h,
		send:           make(chan []byte, 16),
		userID:         uuid.New(),
		conversationID: conversationID,
	}
	h.register <- client
	return client
}

func nextRelay(t *testing.T, started chan relayStart) relayStart {
	t.Helper()
	select {
	case r := <-started:
		return r
	case <-time.After(time.Second):
		t.Fatal("no relay started")
		return relayStart{}
	}
}

func TestHub_RelayStopsWhenLastClientDetaches(t *testing.T) {
	h, started := newTestHub()
	conversationID := uuid.New()

	first := attach(h, conversationID)
	relay := nextRelay(t, started)
	assert.Equal(t, conversationID, relay.conversationID)

	// A second client on the same conversation shares the relay
	second := attach(h, conversationID)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, started)

	h.unregister <- first
	select {
	case <-relay.ctx.Done():
		t.Fatal("relay cancelled while a client is still attached")
	case <-time.After(50 * time.Millisecond):
	}

	h.unregister <- second
	select {
	case <-relay.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("relay not cancelled after the last client detached")
	}
}

func TestHub_ReattachStartsFreshRelay(t *testing.T) {
	h, started := newTestHub()
	conversationID := uuid.New()

	client := attach(h, conversationID)
	stale := nextRelay(t, started)

	h.unregister <- client
	select {
	case <-stale.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("relay not cancelled after the last client detached")
	}

	// Re-attaching spawns exactly one live relay; the cancelled one must
	// not linger to double-deliver
	reattached := attach(h, conversationID)
	fresh := nextRelay(t, started)
	assert.Equal(t, conversationID, fresh.conversationID)
	assert.NoError(t, fresh.ctx.Err())

	frame := &Frame{
		Type:           FrameTypeMessage,
		ConversationID: conversationID,
		MessageID:      uuid.New(),
		Timestamp:      time.Now().UTC(),
	}
	h.broadcast <- frame

	select {
	case payload := <-reattached.send:
		require.NotEmpty(t, payload)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered to re-attached client")
	}

	// Exactly one delivery
	select {
	case <-reattached.send:
		t.Fatal("frame delivered twice")
	case <-time.After(50 * time.Millisecond):
	}
}
