package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Greeter builds the first event a client receives after it joins an outlet
// room, typically a full snapshot of the outlet's kitchen board.
type Greeter func(outletID uuid.UUID) (Event, error)

// outletEvent is an internal struct for routing events to specific outlets
type outletEvent struct {
	OutletID uuid.UUID
	Event    Event
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients by outlet ID
	rooms map[uuid.UUID]map[*Client]bool

	// Inbound messages from clients (register/unregister)
	register   chan *Client
	unregister chan *Client

	// Outbound messages to broadcast
	broadcast chan *outletEvent

	// Closed when Run returns
	done chan struct{}

	logger *slog.Logger

	// Mutex for thread-safe room access
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *outletEvent, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop and blocks until ctx is done. On return
// every client's send channel is closed so the write pumps hang up.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for outletID, clients := range h.rooms {
				for client := range clients {
					close(client.send)
				}
				delete(h.rooms, outletID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.outletID] == nil {
				h.rooms[client.outletID] = make(map[*Client]bool)
			}
			h.rooms[client.outletID][client] = true
			h.mu.Unlock()
			h.greet(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.outletID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					// Clean up empty rooms
					if len(clients) == 0 {
						delete(h.rooms, client.outletID)
					}
				}
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			clients := h.rooms[event.OutletID]

			// Marshal event to JSON once
			message, err := json.Marshal(event.Event)
			if err != nil {
				h.mu.Unlock()
				h.logger.Error("marshal websocket event", "type", event.Event.Type, "error", err)
				continue
			}

			// Send to all clients in this outlet's room
			for client := range clients {
				select {
				case client.send <- message:
				default:
					// Client's send buffer is full, close and unregister
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// greet queues the client's greeting. It runs on the hub loop, so no
// broadcast can slip in between the snapshot and the registration.
func (h *Hub) greet(client *Client) {
	if client.greeter == nil {
		return
	}
	event, err := client.greeter(client.outletID)
	if err != nil {
		h.logger.Error("build websocket greeting", "outlet_id", client.outletID, "error", err)
		return
	}
	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal websocket greeting", "outlet_id", client.outletID, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.rooms[client.outletID][client] {
		return
	}
	select {
	case client.send <- message:
	default:
		h.drop(client)
	}
}

// drop removes a client whose buffer is full. Callers hold h.mu.
func (h *Hub) drop(client *Client) {
	close(client.send)
	delete(h.rooms[client.outletID], client)
	if len(h.rooms[client.outletID]) == 0 {
		delete(h.rooms, client.outletID)
	}
}

// BroadcastToOutlet sends an event to all clients subscribed to a specific outlet
// This is the public API for handlers to broadcast events
func (h *Hub) BroadcastToOutlet(outletID uuid.UUID, event Event) {
	select {
	case h.broadcast <- &outletEvent{OutletID: outletID, Event: event}:
	case <-h.done:
	}
}

// ClientCount returns the number of clients connected to an outlet.
func (h *Hub) ClientCount(outletID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[outletID])
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
