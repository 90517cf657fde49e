// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kiosk-control/internal/utils"
)

const (
	// pongWait is how long a client may stay silent before the read
	// pump gives up on it; pingPeriod must be shorter.
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketHandler streams kiosk events to connected clients
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	eventBus    *EventBus
	logger      *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler and starts its
// broadcast pump
func NewWebSocketHandler(logger *zap.Logger) *WebSocketHandler {
	h := &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The kiosk UI runs on the same cabinet; origin checks add
				// nothing on a closed network.
				return true
			},
		},
		connections: NewConnectionManager(),
		eventBus:    NewEventBus(logger),
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
	}

	go h.eventBus.Start()
	go h.broadcastLoop()

	return h
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
}

// PublishKioskEvent pushes an event onto the bus for broadcast
func (h *WebSocketHandler) PublishKioskEvent(eventType string, data map[string]interface{}) {
	h.eventBus.Publish(Event{
		Type:      eventType,
		Source:    "kiosk-control",
		Data:      data,
		Timestamp: time.Now(),
	})
}

// broadcastLoop fans bus events out to subscribed clients
func (h *WebSocketHandler) broadcastLoop() {
	for event := range h.eventBus.Subscribe("*") {
		frame, err := json.Marshal(&WebSocketMessage{
			Type: "kiosk_event",
			Data: map[string]interface{}{
				"event_type": event.Type,
				"data":       event.Data,
			},
			Timestamp: event.Timestamp,
		})
		if err != nil {
			h.logger.Error("Failed to marshal broadcast frame", zap.Error(err))
			continue
		}

		for _, client := range h.connections.GetClients() {
			if !client.wantsEvent(event.Type) {
				continue
			}
			select {
			case client.Send <- frame:
			default:
				// Slow consumer; drop this frame rather than stall the
				// other clients.
				h.logger.Warn("Dropping event for slow client",
					zap.String("client_id", client.ID),
					zap.String("event_type", event.Type),
				)
			}
		}
	}
}

// HandleEventConnection upgrades and registers an event stream client
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	h.connections.Register(client)
	h.logger.Info("Event stream client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	go h.readPump(client)
	go h.writePump(client)
}

// readPump consumes inbound frames until the client goes away
func (h *WebSocketHandler) readPump(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		return client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Warn("Discarding malformed client frame",
				zap.Error(err),
				zap.String("client_id", client.ID),
			)
			continue
		}

		h.dispatchClientMessage(client, &msg)
	}
}

// writePump drains the client's send channel and keeps the connection
// alive with pings
func (h *WebSocketHandler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case frame, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Connection.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) dispatchClientMessage(client *Client, msg *WebSocketMessage) {
	switch msg.Type {
	case "subscribe":
		h.updateSubscription(client, msg, true)
	case "unsubscribe":
		h.updateSubscription(client, msg, false)
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
		})
	default:
		h.logger.Warn("Unknown client message type",
			zap.String("type", msg.Type),
			zap.String("client_id", client.ID),
		)
	}
}

func (h *WebSocketHandler) updateSubscription(client *Client, msg *WebSocketMessage, subscribe bool) {
	data, ok := msg.Data.(map[string]interface{})
	if !ok {
		return
	}
	topic, ok := data["topic"].(string)
	if !ok || topic == "" {
		return
	}

	if subscribe {
		if client.Subscriptions == nil {
			client.Subscriptions = make(map[string]bool)
		}
		client.Subscriptions[topic] = true
		h.logger.Info("Client subscribed to topic",
			zap.String("client_id", client.ID),
			zap.String("topic", topic),
		)
		h.sendMessage(client, &WebSocketMessage{
			Type:      "subscription_confirmed",
			Data:      map[string]interface{}{"topic": topic},
			Timestamp: time.Now(),
		})
		return
	}

	delete(client.Subscriptions, topic)
	h.logger.Info("Client unsubscribed from topic",
		zap.String("client_id", client.ID),
		zap.String("topic", topic),
	)
}

// sendMessage queues a frame for one client, dropping it if the client
// cannot keep up
func (h *WebSocketHandler) sendMessage(client *Client, msg *WebSocketMessage) {
	frame, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket frame", zap.Error(err))
		return
	}

	select {
	case client.Send <- frame:
	default:
		h.logger.Warn("Client send buffer full, frame dropped",
			zap.String("client_id", client.ID),
		)
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}
