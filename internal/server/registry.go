package server

import (
	"sync"

	"github.com/alxayo/netcore/internal/conn"
)

// firstConnectionID is the registry's starting id, per spec: the server's
// counter begins at 10000 and increments once per gate-accepted connection.
const firstConnectionID uint32 = 10000

// Registry is the server's insertion-ordered, thread-safe set of
// Connections. Grounded on the teacher's internal/rtmp/server/registry.go
// sync.RWMutex-guarded map, extended with an explicit order slice: the
// teacher's map gives unordered iteration, but the spec's registry is
// defined as "an ordered collection ... indexed by insertion order".
type Registry struct {
	mu     sync.RWMutex
	nextID uint32
	order  []uint32
	byID   map[uint32]*conn.Connection
}

func newRegistry() *Registry {
	return &Registry{nextID: firstConnectionID, byID: make(map[uint32]*conn.Connection)}
}

// allocateID returns the next monotonically increasing connection id.
func (r *Registry) allocateID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return id
}

// Add inserts c, keyed by c.ID(). A second Add for the same id is a no-op.
func (r *Registry) Add(c *conn.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := c.ID()
	if _, exists := r.byID[id]; exists {
		return
	}
	r.byID[id] = c
	r.order = append(r.order, id)
}

// Get returns the connection registered under id, if any.
func (r *Registry) Get(id uint32) (*conn.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Remove deletes id from the registry, preserving the order of the
// remaining entries.
func (r *Registry) Remove(id uint32) (*conn.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return c, true
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Snapshot returns a point-in-time, insertion-ordered copy of the
// registered connections. Callers iterate the copy without holding the
// registry lock during socket I/O, mirroring the teacher's
// read-lock-then-copy pattern used for stream subscriber broadcast.
func (r *Registry) Snapshot() []*conn.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*conn.Connection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
