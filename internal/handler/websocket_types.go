// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one connected event-stream consumer, usually the kiosk UI
// or a back-office dashboard
type Client struct {
	ID            string          `json:"id"`
	Connection    *websocket.Conn `json:"-"`
	Send          chan []byte     `json:"-"`
	UserAgent     string          `json:"user_agent"`
	RemoteAddr    string          `json:"remote_addr"`
	ConnectedAt   time.Time       `json:"connected_at"`
	Subscriptions map[string]bool `json:"subscriptions,omitempty"`
}

// wantsEvent reports whether the client should receive an event type.
// A client with no explicit subscriptions gets everything.
func (c *Client) wantsEvent(eventType string) bool {
	if len(c.Subscriptions) == 0 {
		return true
	}
	return c.Subscriptions[eventType]
}

// WebSocketMessage is the frame format exchanged with clients
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ConnectionManager tracks the live client set. Registration goes
// through channels so the read and write pumps never race on the map.
type ConnectionManager struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
}

// NewConnectionManager creates a connection manager and starts its
// bookkeeping loop
func NewConnectionManager() *ConnectionManager {
	cm := &ConnectionManager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
	go cm.run()
	return cm
}

func (cm *ConnectionManager) run() {
	for {
		select {
		case c := <-cm.register:
			cm.mutex.Lock()
			cm.clients[c.ID] = c
			cm.mutex.Unlock()

		case c := <-cm.unregister:
			cm.mutex.Lock()
			if _, ok := cm.clients[c.ID]; ok {
				delete(cm.clients, c.ID)
				close(c.Send)
			}
			cm.mutex.Unlock()
		}
	}
}

// Register adds a client to the live set
func (cm *ConnectionManager) Register(client *Client) {
	cm.register <- client
}

// Unregister removes a client and closes its send channel
func (cm *ConnectionManager) Unregister(client *Client) {
	cm.unregister <- client
}

// GetClients returns a snapshot of the connected clients
func (cm *ConnectionManager) GetClients() []*Client {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	snapshot := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		snapshot = append(snapshot, c)
	}
	return snapshot
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	clients := cm.GetClients()
	return &ConnectionStats{
		TotalConnections: len(clients),
		Clients:          clients,
	}
}

// ConnectionStats summarizes the live connection set
type ConnectionStats struct {
	TotalConnections int       `json:"total_connections"`
	Clients          []*Client `json:"clients"`
}
