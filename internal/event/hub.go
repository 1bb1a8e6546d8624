package event

import (
	"context"
	"log"

	"github.com/google/uuid"
)

type Registration struct {
	Client *Client
	Done   chan struct{}
}

// Hub tracks connected watchers and fans events out to them.
type Hub struct {
	clients    map[uuid.UUID]*Client
	Register   chan Registration
	Unregister chan *Client
	Broadcast  chan Event
}

// NewHub returns a new instance of Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		Register:   make(chan Registration),
		Unregister: make(chan *Client),
		Broadcast:  make(chan Event, 1024),
	}
}

// Run manages registrations and fan-out until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case reg := <-h.Register:
			client := reg.Client
			h.clients[client.ID] = client
			client.hub = h
			close(reg.Done)

		case client := <-h.Unregister:
			delete(h.clients, client.ID)
			close(client.EventCh)

		case ev := <-h.Broadcast:
			for _, client := range h.clients {
				select {
				case client.EventCh <- ev:
				default:
					log.Println("skipping event - channel full or watcher slow")
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// Publish queues an event without blocking the operation that produced it.
func (h *Hub) Publish(ev Event) {
	select {
	case h.Broadcast <- ev:
	default:
		log.Println("skipping event - hub backlog full")
	}
}
