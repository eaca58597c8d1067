package hub

import (
	"sync"

	"peerdesk-server/internal/model"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

// Membership is the relay's owned record of one connection's place in a room:
// connection identity, claimed role, and the session permission snapshot taken
// at join time. It exists only in memory and dies with the connection.
type Membership struct {
	ConnID      string
	SessionID   string
	RoomID      string
	Role        string
	Permissions model.PermissionSet
	Writer      Writer
}

// Hub tracks room membership for one relay process. Rooms share no state with
// each other; all coordination is this one lock around the membership maps.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Membership // roomID -> connID -> membership
	byConn map[string]*Membership
}

func New() *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]*Membership),
		byConn: make(map[string]*Membership),
	}
}

// Join registers the membership, replacing any previous room the connection
// was in.
func (h *Hub) Join(m *Membership) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.byConn[m.ConnID]; ok {
		h.removeLocked(prev)
	}
	if h.rooms[m.RoomID] == nil {
		h.rooms[m.RoomID] = make(map[string]*Membership)
	}
	h.rooms[m.RoomID][m.ConnID] = m
	h.byConn[m.ConnID] = m
}

// Leave removes the connection's membership and returns it together with the
// members still in the room, so the caller can announce the departure.
func (h *Hub) Leave(connID string) (*Membership, []*Membership) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.byConn[connID]
	if !ok {
		return nil, nil
	}
	h.removeLocked(m)

	remaining := make([]*Membership, 0, len(h.rooms[m.RoomID]))
	for _, other := range h.rooms[m.RoomID] {
		remaining = append(remaining, other)
	}
	return m, remaining
}

func (h *Hub) Get(connID string) (*Membership, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m, ok := h.byConn[connID]
	return m, ok
}

// Broadcast fans the message out to every room member except the sender.
// Delivery is best-effort: members whose writer fails are closed and evicted.
func (h *Hub) Broadcast(roomID, senderConnID string, message []byte) {
	h.mu.RLock()
	members := make([]*Membership, 0, len(h.rooms[roomID]))
	for connID, m := range h.rooms[roomID] {
		if connID == senderConnID {
			continue
		}
		members = append(members, m)
	}
	h.mu.RUnlock()

	var failed []*Membership
	for _, m := range members {
		if err := m.Writer.Write(message); err != nil {
			failed = append(failed, m)
		}
	}
	for _, m := range failed {
		_ = m.Writer.Close()
		h.Leave(m.ConnID)
	}
}

// RoomSize reports current membership of a room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[roomID])
}

func (h *Hub) removeLocked(m *Membership) {
	set := h.rooms[m.RoomID]
	if set != nil {
		delete(set, m.ConnID)
		if len(set) == 0 {
			delete(h.rooms, m.RoomID)
		}
	}
	delete(h.byConn, m.ConnID)
}
