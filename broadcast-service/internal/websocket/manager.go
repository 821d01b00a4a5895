package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/toivape/nauction/internal/metrics"
	"github.com/toivape/nauction/shared/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Message types sent to clients
const (
	TypeConnected = "connected"
	TypeBidPlaced = "bid_placed"
)

// Envelope is the JSON frame written to clients
type Envelope struct {
	Type     string           `json:"type"`
	ItemID   string           `json:"itemId"`
	ClientID string           `json:"clientId,omitempty"`
	Event    *models.BidEvent `json:"event,omitempty"`
}

// Manager manages all WebSocket connections. Only the Run goroutine
// changes the subscriber sets.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Client]struct{} // itemID -> clients watching it

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	logger *slog.Logger
}

// Client represents a WebSocket client connection
type Client struct {
	ID     string
	ItemID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// BroadcastMessage represents a message to broadcast to all clients watching an item
type BroadcastMessage struct {
	ItemID  string
	Payload []byte
}

// NewManager creates a new WebSocket manager
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		subscribers: make(map[string]map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *BroadcastMessage, sendBufferSize),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run starts the manager's main loop and disconnects every client when
// ctx is done
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case client := <-m.register:
			m.registerClient(client)

		case client := <-m.unregister:
			m.unregisterClient(client)

		case message := <-m.broadcast:
			m.broadcastToItem(message.ItemID, message.Payload)

		case <-ctx.Done():
			m.disconnectAll()
			return
		}
	}
}

// RegisterClient adds a client to the manager. It reports false once the
// manager has stopped.
func (m *Manager) RegisterClient(client *Client) bool {
	select {
	case m.register <- client:
		return true
	case <-m.done:
		return false
	}
}

// UnregisterClient removes a client from the manager
func (m *Manager) UnregisterClient(client *Client) {
	select {
	case m.unregister <- client:
	case <-m.done:
	}
}

// Broadcast sends a message to all clients watching an item
func (m *Manager) Broadcast(itemID string, payload []byte) {
	select {
	case m.broadcast <- &BroadcastMessage{ItemID: itemID, Payload: payload}:
	case <-m.done:
	}
}

// BroadcastBid wraps a bid event in an envelope and broadcasts it
func (m *Manager) BroadcastBid(itemID string, event *models.BidEvent) error {
	payload, err := json.Marshal(Envelope{Type: TypeBidPlaced, ItemID: itemID, Event: event})
	if err != nil {
		return err
	}
	m.Broadcast(itemID, payload)
	return nil
}

// registerClient adds a client to the subscribers map
func (m *Manager) registerClient(client *Client) {
	m.mu.Lock()
	set, ok := m.subscribers[client.ItemID]
	if !ok {
		set = make(map[*Client]struct{})
		m.subscribers[client.ItemID] = set
	}
	set[client] = struct{}{}
	m.mu.Unlock()

	metrics.WebSocketClients.Inc()
	m.logger.Info("client subscribed", "client_id", client.ID, "item_id", client.ItemID)

	// Start goroutine to handle writes for this client
	go client.writePump()
}

// unregisterClient removes a client and closes its send queue. Clients
// already removed are ignored, so a client dropped for being slow can
// still unregister itself from its read pump.
func (m *Manager) unregisterClient(client *Client) {
	m.mu.Lock()
	set, ok := m.subscribers[client.ItemID]
	if ok {
		_, ok = set[client]
		delete(set, client)
		if len(set) == 0 {
			delete(m.subscribers, client.ItemID)
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	// writePump sends a close frame and closes the connection
	close(client.Send)
	metrics.WebSocketClients.Dec()
	m.logger.Info("client unsubscribed", "client_id", client.ID, "item_id", client.ItemID)
}

// broadcastToItem sends a message to all clients watching a specific item
func (m *Manager) broadcastToItem(itemID string, payload []byte) {
	var slow []*Client
	sent := 0

	m.mu.RLock()
	for client := range m.subscribers[itemID] {
		select {
		case client.Send <- payload:
			sent++
		default:
			// Send queue full
			slow = append(slow, client)
		}
	}
	m.mu.RUnlock()

	for _, client := range slow {
		m.logger.Warn("dropping slow client", "client_id", client.ID, "item_id", itemID)
		m.unregisterClient(client)
	}

	metrics.BroadcastMessages.Add(float64(sent))
	m.logger.Debug("broadcast bid event", "item_id", itemID, "clients", sent)
}

func (m *Manager) disconnectAll() {
	m.mu.RLock()
	var all []*Client
	for _, set := range m.subscribers {
		for client := range set {
			all = append(all, client)
		}
	}
	m.mu.RUnlock()

	for _, client := range all {
		m.unregisterClient(client)
	}
}

// GetSubscriberCount returns the number of clients watching an item
func (m *Manager) GetSubscriberCount(itemID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers[itemID])
}

// writePump pumps messages from the Send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes client frames until the connection fails, then
// unregisters the client. Clients only listen; their messages are discarded.
func (c *Client) readPump(m *Manager) {
	defer m.UnregisterClient(c)

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn("websocket read failed", "client_id", c.ID, "error", err)
			}
			return
		}
	}
}
