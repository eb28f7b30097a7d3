package sse

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/psillyops/psillyops-backend/internal/logger"
)

type Event string

const (
	EventRunCreated      Event = "RunCreated"
	EventRunCompleted    Event = "RunCompleted"
	EventRunStepStarted  Event = "RunStepStarted"
	EventRunStepStopped  Event = "RunStepStopped"
	EventRunStepDone     Event = "RunStepCompleted"
	EventRunStepSkipped  Event = "RunStepSkipped"
	EventRunStepsEdited  Event = "RunStepsEdited"
	EventRunStepAssigned Event = "RunStepAssigned"
)

// RunChannel is the per-run channel name; ChannelRuns carries every run event.
const ChannelRuns = "runs"

func RunChannel(runID uuid.UUID) string {
	return "run:" + runID.String()
}

type Message struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
	Data    any    `json:"data,omitempty"`
}

type Client struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Channels map[string]bool
	Outbound chan Message
	done     chan struct{}
}

func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

type Hub struct {
	mu            sync.RWMutex
	log           *logger.Logger
	subscriptions map[string]map[*Client]bool
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:           log.With("component", "SSEHub"),
		subscriptions: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) NewClient(userID uuid.UUID) *Client {
	return &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Channels: make(map[string]bool),
		Outbound: make(chan Message, 16),
		done:     make(chan struct{}),
	}
}

func (h *Hub) AddChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channel = strings.TrimSpace(channel)
	if channel == "" || client == nil {
		return
	}

	client.Channels[channel] = true

	clients, exists := h.subscriptions[channel]
	if !exists {
		clients = make(map[*Client]bool)
		h.subscriptions[channel] = clients
	}
	clients[client] = true

	h.log.Debug("SSE client subscribed", "clientID", client.ID, "channel", channel)
}

func (h *Hub) RemoveClient(client *Client) {
	if client == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for channel := range client.Channels {
		if clients, exists := h.subscriptions[channel]; exists {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.subscriptions, channel)
			}
		}
	}
	client.Close()
}

// Publish is best-effort: slow clients are skipped, never blocked on.
func (h *Hub) Publish(channel string, event Event, data any) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, exists := h.subscriptions[channel]
	if !exists {
		return
	}
	msg := Message{Channel: channel, Event: event, Data: data}
	for client := range clients {
		select {
		case client.Outbound <- msg:
		default:
			h.log.Debug("SSE client outbound full, dropping message", "clientID", client.ID, "channel", channel)
		}
	}
}
