// Package realtime pushes live event data, such as the participant count,
// to WebSocket clients. A Redis channel fans events out across server
// instances.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	// EventParticipantCount carries ParticipantCount.
	EventParticipantCount = "participant_count"
)

// ParticipantCount is the payload of EventParticipantCount.
type ParticipantCount struct {
	Participants int `json:"participants"`
}

// Publisher publishes an event to every server instance.
type Publisher interface {
	PublishEvent(ctx context.Context, event string, payload []byte) error
}

// Subscriber delivers events published by any instance.
type Subscriber interface {
	SubscribeEvents(handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub tracks connected clients and broadcasts events to them.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
	pub     Publisher
	sub     Subscriber
	cancel  func()
}

// NewHub creates a hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
		pub:     pub,
		sub:     sub,
	}
}

// Register adds a client. The Redis subscription starts with the first one.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if len(h.clients) == 0 && h.sub != nil {
		cancel, err := h.sub.SubscribeEvents(func(event string, payload []byte) {
			h.Broadcast(event, json.RawMessage(payload))
		})
		if err != nil {
			h.logger.Warn("event subscription failed", zap.Error(err))
		} else {
			h.cancel = cancel
		}
	}
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("live client joined", zap.String("client_id", c.ID))
}

// Unregister removes a client and drops the subscription after the last one.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	if len(h.clients) == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
	h.logger.Debug("live client left", zap.String("client_id", c.ID))
}

// Broadcast sends an event to the clients of this instance only.
func (h *Hub) Broadcast(event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("broadcast encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Publish delivers an event to the clients of every instance. With a
// publisher the subscription performs the local broadcast, so clients here
// get the event exactly once.
func (h *Hub) Publish(ctx context.Context, event string, payload interface{}) {
	if h.pub == nil {
		h.Broadcast(event, payload)
		return
	}
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("publish encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	if err := h.pub.PublishEvent(ctx, event, data); err != nil {
		h.logger.Warn("publish failed, broadcasting locally", zap.String("event", event), zap.Error(err))
		h.Broadcast(event, json.RawMessage(data))
	}
}

// PublishParticipants implements stats.Feed.
func (h *Hub) PublishParticipants(ctx context.Context, n int) {
	h.Publish(ctx, EventParticipantCount, ParticipantCount{Participants: n})
}

// ClientCount returns the number of connected clients on this instance.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encode(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
