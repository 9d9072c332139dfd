package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bzaromedia/securi-comm-network-sub001/internal/domain"
	"github.com/bzaromedia/securi-comm-network-sub001/internal/middleware"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/logger"
	"github.com/bzaromedia/securi-comm-network-sub001/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// ConversationAuthorizer checks that a user may attach to a conversation
type ConversationAuthorizer interface {
	Get(ctx context.Context, conversationID, requester uuid.UUID) (*domain.Conversation, error)
}

// Hub fans conversation events out to attached WebSocket clients. Events
// originate from the HTTP API and arrive over Redis Pub/Sub, one channel per
// conversation; client frames are limited to typing indicators.
type Hub struct {
	conversations map[uuid.UUID]map[*Client]bool
	relayCancels  map[uuid.UUID]context.CancelFunc
	authorizer    ConversationAuthorizer
	redisClient   *redis.Client

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Frame

	// relay is the per-conversation event source, swappable in tests
	relay func(ctx context.Context, conversationID uuid.UUID)
}

// Client represents one attached WebSocket connection
type Client struct {
	hub            *Hub
	conn           *websocket.Conn
	send           chan []byte
	userID         uuid.UUID
	conversationID uuid.UUID
}

// Frame types delivered to clients
const (
	FrameTypeMessage = "message"
	FrameTypeRead    = "read"
	FrameTypeDeleted = "deleted"
	FrameTypeTyping  = "typing"
)

// Frame is the payload exchanged over the WebSocket
type Frame struct {
	Type           string    `json:"type"`
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id,omitempty"`
	ActorID        uuid.UUID `json:"actor_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev, restrict in production
	},
}

// NewHub creates a new hub and starts its event loop
func NewHub(redisClient *redis.Client, authorizer ConversationAuthorizer) *Hub {
	hub := &Hub{
		conversations: make(map[uuid.UUID]map[*Client]bool),
		relayCancels:  make(map[uuid.UUID]context.CancelFunc),
		authorizer:    authorizer,
		redisClient:   redisClient,
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan *Frame, 256),
	}
	hub.relay = hub.subscribeToConversation

	go hub.run()

	return hub
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.conversations[client.conversationID] == nil {
				h.conversations[client.conversationID] = make(map[*Client]bool)

				// First client for this conversation: attach to its channel.
				// The cancel stops the relay when the last client detaches.
				ctx, cancel := context.WithCancel(context.Background())
				h.relayCancels[client.conversationID] = cancel
				go h.relay(ctx, client.conversationID)
			}
			h.conversations[client.conversationID][client] = true
			h.mu.Unlock()

			metrics.WebSocketConnections.Inc()
			metrics.WebSocketConnectionTotal.WithLabelValues("opened").Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.conversations[client.conversationID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					metrics.WebSocketConnections.Dec()
					metrics.WebSocketConnectionTotal.WithLabelValues("closed").Inc()
				}

				if len(clients) == 0 {
					delete(h.conversations, client.conversationID)
					if cancel, exists := h.relayCancels[client.conversationID]; exists {
						cancel()
						delete(h.relayCancels, client.conversationID)
					}
				}
			}
			h.mu.Unlock()

		case frame := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.conversations[frame.ConversationID]; ok {
				payload, _ := json.Marshal(frame)
				for client := range clients {
					select {
					case client.send <- payload:
					default:
						// Slow consumer: drop the connection rather than block
						metrics.ClientMessageDroppedTotal.WithLabelValues("slow_consumer").Inc()
						close(client.send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToConversation relays Redis Pub/Sub events into the broadcast
// loop until ctx is cancelled, which the hub does when the conversation's
// last client detaches
func (h *Hub) subscribeToConversation(ctx context.Context, conversationID uuid.UUID) {
	channel := fmt.Sprintf("chat:%s", conversationID)

	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	events := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-events:
			if !ok {
				return
			}

			var frame Frame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				logger.Warn("failed to unmarshal pubsub event",
					zap.String("channel", channel),
					zap.Error(err),
				)
				continue
			}

			h.broadcast <- &frame
		}
	}
}

// ServeWS authorizes and upgrades a WebSocket request
// GET /v1/ws?conversation_id=...
func (h *Hub) ServeWS(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Query("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation_id"})
		return
	}

	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// Only participants may attach
	if _, err := h.authorizer.Get(c.Request.Context(), conversationID, userID); err != nil {
		metrics.WebSocketConnectionTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this conversation"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:            h,
		conn:           conn,
		send:           make(chan []byte, 256),
		userID:         userID,
		conversationID: conversationID,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump reads client frames; only typing indicators are accepted
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			metrics.ClientMessageDroppedTotal.WithLabelValues("invalid_frame").Inc()
			continue
		}
		if frame.Type != FrameTypeTyping {
			metrics.ClientMessageDroppedTotal.WithLabelValues("unsupported_type").Inc()
			continue
		}

		frame.ActorID = c.userID
		frame.ConversationID = c.conversationID
		frame.Timestamp = time.Now().UTC()

		c.hub.broadcast <- &frame
	}
}

// writePump writes frames to the WebSocket and keeps the connection alive
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(payload)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
