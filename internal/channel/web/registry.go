package web

import (
	"context"
	"sync"

	"github.com/coder/websocket"
)

// socketEntry is one user's currently-indexed connection.
type socketEntry struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// registry indexes the single active socket per user id. Opening a second
// socket for a user already indexed replaces the first: the old
// connection is notified and closed, per spec's session-replacement
// behavior (end-to-end scenario 6).
type registry struct {
	mu      sync.Mutex
	sockets map[string]socketEntry
}

func newRegistry() *registry {
	return &registry{sockets: make(map[string]socketEntry)}
}

// replace indexes conn under userID and returns any previous connection
// for that user, without closing it, so the caller can notify it before
// closing it.
func (r *registry) replace(userID string, conn *websocket.Conn, cancel context.CancelFunc) (previous *websocket.Conn, hadPrevious bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.sockets[userID]
	r.sockets[userID] = socketEntry{conn: conn, cancel: cancel}
	if ok {
		return old.conn, true
	}
	return nil, false
}

// get returns the currently indexed connection for userID, if any.
func (r *registry) get(userID string) (*websocket.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sockets[userID]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// remove drops userID's entry, but only if conn is still the one
// indexed — a socket that was already replaced must not remove the new
// one's entry when its own handler goroutine unwinds.
func (r *registry) remove(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sockets[userID]; ok && entry.conn == conn {
		delete(r.sockets, userID)
	}
}

// closeAll closes every indexed socket, used on channel Stop.
func (r *registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.sockets {
		entry.cancel()
		_ = entry.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	r.sockets = make(map[string]socketEntry)
}
