// Package registry tracks live client connections per user and fans
// notifications out to them.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/filecloud/pushgate/internal/metrics"
	"github.com/filecloud/pushgate/internal/user"
)

// ConnectionID identifies one registered connection. IDs are
// process-unique, assigned monotonically, and never reused.
type ConnectionID uint64

// MessageSink accepts queued outbound messages for a single client.
// Send must never block; it reports false once the sink is closed or
// its buffer is full, in which case the message is dropped.
type MessageSink interface {
	Send(message string) bool
}

// Registry is a thread-safe many-to-many map from user to live sinks.
// A connection id appears under exactly one user. Critical sections
// only touch the map; sends happen after the lock is released.
type Registry struct {
	metrics *metrics.Metrics

	nextID atomic.Uint64

	mu    sync.RWMutex
	conns map[user.ID]map[ConnectionID]MessageSink
}

func New(m *metrics.Metrics) *Registry {
	return &Registry{
		metrics: m,
		conns:   make(map[user.ID]map[ConnectionID]MessageSink),
	}
}

// Add registers a sink for the given user and returns its fresh
// connection id. It never blocks on network I/O.
func (r *Registry) Add(u user.ID, sink MessageSink) ConnectionID {
	id := ConnectionID(r.nextID.Add(1))

	r.mu.Lock()
	defer r.mu.Unlock()

	userConns, ok := r.conns[u]
	if !ok {
		userConns = make(map[ConnectionID]MessageSink)
		r.conns[u] = userConns
	}
	userConns[id] = sink

	r.metrics.ConnectionsActive.Inc()
	return id
}

// Remove drops the connection if present. Removing a connection that
// is already gone is a no-op.
func (r *Registry) Remove(u user.ID, id ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userConns, ok := r.conns[u]
	if !ok {
		return
	}
	if _, ok := userConns[id]; !ok {
		return
	}
	delete(userConns, id)
	if len(userConns) == 0 {
		delete(r.conns, u)
	}
	r.metrics.ConnectionsActive.Dec()
}

// SendToUser enqueues message onto every sink registered under u.
// Sends are non-blocking; a closed or full sink drops the message
// without affecting other recipients. Returns after attempting all
// sinks. For a user with no connections this is a no-op.
func (r *Registry) SendToUser(u user.ID, message string) {
	r.mu.RLock()
	sinks := make([]MessageSink, 0, len(r.conns[u]))
	for _, sink := range r.conns[u] {
		sinks = append(sinks, sink)
	}
	r.mu.RUnlock()

	for _, sink := range sinks {
		if sink.Send(message) {
			r.metrics.MessagesSent.Inc()
		} else {
			r.metrics.MessagesDropped.Inc()
		}
	}
}

// ConnectionCount reports the number of live connections for a user.
func (r *Registry) ConnectionCount(u user.ID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[u])
}
