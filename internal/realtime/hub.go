// Package realtime pushes gate progress and entity changes to connected back-office clients over
// WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	gatedomain "kallied-admin/backend/internal/gate/domain"
	userdomain "kallied-admin/backend/internal/user/domain"
)

// Message types.
const (
	TypeGate   = "gate"
	TypeEntity = "entity"
)

// Entity events.
const (
	EventUserCreated = "user_created"
	EventUserUpdated = "user_updated"
)

// Message is the JSON frame sent to clients.
type Message struct {
	Type      string    `json:"type"`
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UserPayload is the entity body of user events.
type UserPayload struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

// envelope is one outbound frame; an empty userID reaches every client.
type envelope struct {
	userID string
	data   []byte
}

// Hub keeps the connected clients and fans messages out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	logger *zap.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub returns a hub bound to ctx. Call Run to start it.
func NewHub(ctx context.Context, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		ctx:        hubCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run serves register, unregister and broadcast until Stop or the parent context ends.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case env := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if env.userID != "" && c.userID != env.userID {
					continue
				}
				select {
				case c.send <- env.data:
				default:
					// slow consumer
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop disconnects every client and waits for Run to return.
func (h *Hub) Stop() {
	h.cancel()
	<-h.done
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// Disconnect closes every connection held by userID.
func (h *Hub) Disconnect(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.userID == userID {
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send queues msg for userID's clients, or every client when userID is empty. It never blocks; a
// full queue drops the message.
func (h *Hub) Send(userID string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("realtime: marshal message", zap.String("event", msg.Event), zap.Error(err))
		return
	}
	select {
	case <-h.ctx.Done():
	case h.broadcast <- envelope{userID: userID, data: data}:
	default:
		h.logger.Warn("realtime: broadcast queue full, dropping message", zap.String("event", msg.Event))
	}
}

// Publish sends gate events to the gate owner's clients.
func (h *Hub) Publish(_ context.Context, e gatedomain.Event) {
	h.Send(e.Owner, Message{Type: TypeGate, Event: string(e.Type), Data: e, Timestamp: e.At})
}

// UserCreated announces a new user to every client.
func (h *Hub) UserCreated(_ context.Context, u *userdomain.User) {
	h.Send("", Message{Type: TypeEntity, Event: EventUserCreated, Data: toUserPayload(u)})
}

// UserUpdated announces a changed user to every client.
func (h *Hub) UserUpdated(_ context.Context, u *userdomain.User) {
	h.Send("", Message{Type: TypeEntity, Event: EventUserUpdated, Data: toUserPayload(u)})
}

func toUserPayload(u *userdomain.User) UserPayload {
	return UserPayload{ID: u.ID, Email: u.Email, Name: u.Name, Role: string(u.Role), Status: string(u.Status)}
}
