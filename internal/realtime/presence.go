package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/locolive/socialgraph/internal/domain"
)

// Connection is one live device of a user. It is owned by the Registry: only
// Registry.Deregister closes its send queue.
type Connection struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Channel     string
	ConnectedAt time.Time

	conn *websocket.Conn
	send chan []byte
}

func newConnection(userID uuid.UUID, conn *websocket.Conn, buffer int) *Connection {
	return &Connection{
		ID:          uuid.New(),
		UserID:      userID,
		Channel:     domain.ChannelName(userID),
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, buffer),
	}
}

// Registry tracks the live connections of every user. Multiple connections
// may share a user (multi-device).
type Registry struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[*Connection]struct{}
	count int
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[uuid.UUID]map[*Connection]struct{}),
	}
}

// Register adds c to its user's channel.
func (r *Registry) Register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[c.UserID]
	if !ok {
		conns = make(map[*Connection]struct{})
		r.users[c.UserID] = conns
	}
	if _, dup := conns[c]; !dup {
		conns[c] = struct{}{}
		r.count++
	}
}

// Deregister removes c and closes its send queue. It returns true only for
// the call that actually removed it, so teardown work keyed on the result
// runs exactly once per connection.
func (r *Registry) Deregister(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[c.UserID]
	if !ok {
		return false
	}
	if _, ok := conns[c]; !ok {
		return false
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(r.users, c.UserID)
	}
	r.count--
	close(c.send)
	return true
}

// Lookup returns a snapshot of the user's live connections.
func (r *Registry) Lookup(userID uuid.UUID) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.users[userID]
	out := make([]*Connection, 0, len(conns))
	for c := range conns {
		out = append(out, c)
	}
	return out
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// Count returns the number of live connections across all users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Send queues msg on every live connection of the user without blocking.
// Connections whose queue is full are returned as slow; the caller decides
// whether to evict them. Sending under the read lock keeps it from racing
// with Deregister closing the queue.
func (r *Registry) Send(userID uuid.UUID, msg []byte) (sent int, slow []*Connection) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.users[userID] {
		select {
		case c.send <- msg:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	return sent, slow
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, r.count)
	for _, conns := range r.users {
		for c := range conns {
			out = append(out, c)
		}
	}
	return out
}
