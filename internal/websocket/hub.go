package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeSubscribe     MessageType = "subscribe"
	MessageTypeUnsubscribe   MessageType = "unsubscribe"
	MessageTypeReplyReceived MessageType = "reply_received"
	MessageTypeSendUpdate    MessageType = "send_update"
	MessageTypeError         MessageType = "error"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Message   interface{} `json:"message,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// ReplyPayload is pushed to subscribers when an inbound message lands on
// their request.
type ReplyPayload struct {
	MessageID      string `json:"message_id"`
	Classification string `json:"classification"`
	Subject        string `json:"subject,omitempty"`
	ReceivedAt     string `json:"received_at"`
}

// SendUpdatePayload is pushed when a request's send settles.
type SendUpdatePayload struct {
	Status string `json:"status"`
	SentAt string `json:"sent_at,omitempty"`
}

// Hub maintains the set of active clients and routes request-scoped
// notifications to their subscribers.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Request subscriptions: requestID -> set of clients
	subscriptions map[string]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Subscribe to a request
	subscribe chan *subscriptionRequest

	// Unsubscribe from a request
	unsubscribeRequest chan *subscriptionRequest

	// Broadcast to request subscribers
	broadcast chan *broadcastMessage

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *slog.Logger
}

type subscriptionRequest struct {
	client    *Client
	requestID string
}

type broadcastMessage struct {
	requestID string
	message   []byte
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:            make(map[*Client]bool),
		subscriptions:      make(map[string]map[*Client]bool),
		register:           make(chan *Client),
		unregister:         make(chan *Client),
		subscribe:          make(chan *subscriptionRequest),
		unsubscribeRequest: make(chan *subscriptionRequest),
		broadcast:          make(chan *broadcastMessage, 256),
		logger:             logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client registered")
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				// Remove from all subscriptions
				for requestID, subscribers := range h.subscriptions {
					delete(subscribers, client)
					if len(subscribers) == 0 {
						delete(h.subscriptions, requestID)
					}
				}
			}
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client unregistered")
			}

		case req := <-h.subscribe:
			h.mu.Lock()
			if h.subscriptions[req.requestID] == nil {
				h.subscriptions[req.requestID] = make(map[*Client]bool)
			}
			h.subscriptions[req.requestID][req.client] = true
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client subscribed to request", slog.String("request_id", req.requestID))
			}

		case req := <-h.unsubscribeRequest:
			h.mu.Lock()
			if subscribers, ok := h.subscriptions[req.requestID]; ok {
				delete(subscribers, req.client)
				if len(subscribers) == 0 {
					delete(h.subscriptions, req.requestID)
				}
			}
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client unsubscribed from request", slog.String("request_id", req.requestID))
			}

		case msg := <-h.broadcast:
			h.mu.RLock()
			subscribers := h.subscriptions[msg.requestID]
			for client := range subscribers {
				select {
				case client.send <- msg.message:
				default:
					// Client buffer full, skip
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe subscribes a client to a request's notifications
func (h *Hub) Subscribe(client *Client, requestID string) {
	h.subscribe <- &subscriptionRequest{client: client, requestID: requestID}
}

// Unsubscribe unsubscribes a client from a request's notifications
func (h *Hub) Unsubscribe(client *Client, requestID string) {
	h.unsubscribeRequest <- &subscriptionRequest{client: client, requestID: requestID}
}

// BroadcastReply pushes a reply notification to the request's subscribers.
func (h *Hub) BroadcastReply(requestID string, payload *ReplyPayload) {
	h.send(MessageTypeReplyReceived, requestID, payload)
}

// NotifyReply adapts BroadcastReply to the ingestion service's notifier
// contract.
func (h *Hub) NotifyReply(requestID, messageID, classification, subject string, receivedAt time.Time) {
	h.BroadcastReply(requestID, &ReplyPayload{
		MessageID:      messageID,
		Classification: classification,
		Subject:        subject,
		ReceivedAt:     receivedAt.UTC().Format(time.RFC3339),
	})
}

// BroadcastSendUpdate pushes a send-settled notification to subscribers.
func (h *Hub) BroadcastSendUpdate(requestID string, payload *SendUpdatePayload) {
	h.send(MessageTypeSendUpdate, requestID, payload)
}

func (h *Hub) send(msgType MessageType, requestID string, payload interface{}) {
	msg := WSMessage{
		Type:      msgType,
		RequestID: requestID,
		Message:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("failed to marshal broadcast message", slog.Any("error", err))
		}
		return
	}

	h.broadcast <- &broadcastMessage{
		requestID: requestID,
		message:   data,
	}
}
