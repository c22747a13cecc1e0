package ws

import (
	"encoding/json"
	"sync"

	"github.com/comanda-pos/api/internal/events"
	"github.com/sirupsen/logrus"
)

// channelEvent is an internal struct for routing events to channel rooms.
type channelEvent struct {
	Channel string
	Event   events.Event
}

// Hub maintains the set of active clients grouped by channel and broadcasts
// events to them. It implements events.Publisher.
type Hub struct {
	// Registered clients by channel name
	rooms map[string]map[*Client]bool

	// Inbound messages from clients (register/unregister)
	register   chan *Client
	unregister chan *Client

	// Outbound messages to broadcast
	broadcast chan *channelEvent

	log *logrus.Logger

	// Mutex for thread-safe room access
	mu sync.RWMutex
}

// NewHub creates a new Hub instance.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *channelEvent, 256),
		log:        log,
	}
}

// Run starts the hub's main loop.
// This should be called as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.channel] == nil {
				h.rooms[client.channel] = make(map[*Client]bool)
			}
			h.rooms[client.channel][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.channel]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.rooms, client.channel)
					}
				}
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			message, err := json.Marshal(ev.Event)
			if err != nil {
				h.log.WithError(err).Warn("drop unmarshalable event")
				continue
			}

			h.mu.Lock()
			if ev.Channel == events.ChannelAll {
				for channel := range h.rooms {
					h.sendToRoom(channel, message)
				}
			} else {
				h.sendToRoom(ev.Channel, message)
			}
			h.mu.Unlock()
		}
	}
}

// sendToRoom delivers to every client in one room. Callers hold h.mu.
func (h *Hub) sendToRoom(channel string, message []byte) {
	for client := range h.rooms[channel] {
		select {
		case client.send <- message:
		default:
			// Client's send buffer is full, close and unregister
			close(client.send)
			delete(h.rooms[channel], client)
			if len(h.rooms[channel]) == 0 {
				delete(h.rooms, channel)
			}
		}
	}
}

// Publish sends an event to all clients subscribed to a channel.
// Never blocks the caller: if the broadcast queue is full the event is
// dropped and logged, since realtime refreshes are best-effort.
func (h *Hub) Publish(channel string, event events.Event) {
	select {
	case h.broadcast <- &channelEvent{Channel: channel, Event: event}:
	default:
		h.log.WithField("event", event.Type).Warn("broadcast queue full, event dropped")
	}
}
