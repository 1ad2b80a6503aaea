package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reelfetch/internal/common"
	"github.com/ternarybob/reelfetch/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the link picker runs on the video site's origin
	},
}

const (
	// writeWait bounds a single write to a client
	writeWait = 10 * time.Second
	// clientSendBuffer is how many messages may wait for a slow client
	// before further ones are dropped
	clientSendBuffer = 64
)

// Message types
const (
	MessageAck       = "ack"
	MessageError     = "error"
	MessageItemState = "item_state"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type ItemStateUpdate struct {
	BatchID  string `json:"batch_id"`
	Position string `json:"position"`
	PageURL  string `json:"page_url"`
	State    string `json:"state"`
}

// client owns the outbound queue of one connection. Only writePump writes
// to the connection, so senders never block on the network.
type client struct {
	sessionID string
	limiter   *rate.Limiter
	send      chan WSMessage
	done      chan struct{}
}

// WebSocketHandler accepts download requests on a socket and pushes item
// progress to every connected client
type WebSocketHandler struct {
	submitter BatchSubmitter
	logger    arbor.ILogger
	config    common.WebSocketConfig

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func NewWebSocketHandler(submitter BatchSubmitter, config common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		submitter: submitter,
		logger:    logger,
		config:    config,
		clients:   make(map[*websocket.Conn]*client),
	}
}

// HandleWebSocket handles /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	c := &client{
		sessionID: uuid.New().String(),
		limiter:   h.newLimiter(),
		send:      make(chan WSMessage, clientSendBuffer),
		done:      make(chan struct{}),
	}
	common.SafeGo(h.logger, "ws-writer-"+c.sessionID, func() {
		h.writePump(conn, c)
	})

	h.mu.Lock()
	h.clients[conn] = c
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Str("session_id", c.sessionID).Msgf("WebSocket client connected (total: %d)", clientCount)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		close(c.done)
		conn.Close()
		h.logger.Debug().Str("session_id", c.sessionID).Msgf("WebSocket client disconnected (remaining: %d)", clientCount)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("session_id", c.sessionID).Msg("WebSocket error")
			}
			return
		}
		h.handleMessage(c, data)
	}
}

func (h *WebSocketHandler) handleMessage(c *client, data []byte) {
	if !c.limiter.Allow() {
		h.send(c, WSMessage{Type: MessageError, Payload: map[string]string{"error": "rate limited"}})
		return
	}

	var req models.DownloadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.send(c, WSMessage{Type: MessageError, Payload: map[string]string{"error": "invalid message: " + err.Error()}})
		return
	}

	ack, err := h.submitter.Submit(req)
	if err != nil {
		h.logger.Warn().Err(err).Str("session_id", c.sessionID).Msg("WebSocket download request rejected")
		h.send(c, WSMessage{Type: MessageError, Payload: map[string]string{"error": err.Error()}})
		return
	}
	h.send(c, WSMessage{Type: MessageAck, Payload: ack})
}

// BroadcastItemState pushes an item state transition to all clients
func (h *WebSocketHandler) BroadcastItemState(item models.WorkItem, state models.ItemState) {
	h.broadcast(WSMessage{
		Type: MessageItemState,
		Payload: ItemStateUpdate{
			BatchID:  item.BatchID,
			Position: item.Position(),
			PageURL:  item.PageURL,
			State:    string(state),
		},
	})
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) broadcast(msg WSMessage) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.send(c, msg)
	}
}

// send queues msg for the client without blocking. Messages for a client
// whose queue is full are dropped.
func (h *WebSocketHandler) send(c *client, msg WSMessage) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		h.logger.Warn().Str("session_id", c.sessionID).Str("type", msg.Type).Msg("WebSocket client too slow, message dropped")
	}
}

// writePump writes queued messages until the client disconnects. A write
// that misses its deadline closes the connection, which ends the read loop.
func (h *WebSocketHandler) writePump(conn *websocket.Conn, c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Warn().Err(err).Str("session_id", c.sessionID).Str("type", msg.Type).Msg("Failed to send WebSocket message")
				conn.Close()
				return
			}
		}
	}
}

func (h *WebSocketHandler) newLimiter() *rate.Limiter {
	if h.config.MessagesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := h.config.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(h.config.MessagesPerSecond), burst)
}
