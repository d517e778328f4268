package hub

import "sync"

type Closer interface {
	Close() error
}

// Connection is one bridged realtime socket pair. Key groups connections
// opened with the same credential.
type Connection struct {
	ID     string
	Key    string
	Closer Closer
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{connections: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.Key] == nil {
		h.connections[conn.Key] = make(map[*Connection]struct{})
	}
	h.connections[conn.Key][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.Key]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.Key)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.connections {
		n += len(set)
	}
	return n
}

// CloseAll closes and forgets every connection whose key differs from keep.
// An empty keep closes everything. It returns the number closed.
func (h *Hub) CloseAll(keep string) int {
	h.mu.Lock()
	var victims []*Connection
	for key, set := range h.connections {
		if keep != "" && key == keep {
			continue
		}
		for c := range set {
			victims = append(victims, c)
		}
		delete(h.connections, key)
	}
	h.mu.Unlock()

	for _, c := range victims {
		_ = c.Closer.Close()
	}
	return len(victims)
}
