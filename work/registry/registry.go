package registry

import (
	"net"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"lsproxy/work/logger"
	"lsproxy/work/metrics"
)

// Side labels which half of a proxied session a connection belongs to.
const (
	SideClient   = "client"
	SideUpstream = "upstream"
)

type entry struct {
	conn net.Conn
	side string
}

// Registry tracks every live socket the proxy owns so that Stop can cancel
// all of them at once. Entries are inserted by the same goroutine that later
// removes them; the registry never takes ownership of a connection beyond
// being allowed to close it during bulk shutdown.
type Registry struct {
	conns *xsync.MapOf[uint64, entry]
	next  atomic.Uint64
}

// New creates an empty connection registry.
func New() *Registry {
	return &Registry{
		conns: xsync.NewMapOf[uint64, entry](),
	}
}

// Register records a live connection and returns its handle for later removal.
// Connections must be registered before any processing begins on them.
func (r *Registry) Register(conn net.Conn, side string) uint64 {
	id := r.next.Add(1)
	r.conns.Store(id, entry{conn: conn, side: side})
	metrics.ActiveConnections.WithLabelValues(side).Inc()
	return id
}

// Unregister removes a connection from tracking. It is safe to call with an
// id that was already removed (for example after CloseAll raced a handler's
// own cleanup).
func (r *Registry) Unregister(id uint64) {
	if e, ok := r.conns.LoadAndDelete(id); ok {
		metrics.ActiveConnections.WithLabelValues(e.side).Dec()
	}
}

// CloseAll force-closes every registered connection and clears the registry.
// Used only during proxy shutdown.
func (r *Registry) CloseAll() {
	count := 0
	r.conns.Range(func(id uint64, e entry) bool {
		e.conn.Close()
		if _, ok := r.conns.LoadAndDelete(id); ok {
			metrics.ActiveConnections.WithLabelValues(e.side).Dec()
		}
		count++
		return true
	})
	if count > 0 {
		logger.Debug("{registry - CloseAll} Force-closed %d connections", count)
	}
}

// Count returns the number of currently tracked connections.
func (r *Registry) Count() int {
	return r.conns.Size()
}
