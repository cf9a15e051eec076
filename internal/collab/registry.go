package collab

import (
	"sync"
)

// Registry is the process-wide map from document id to Room
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Join inserts the session into the document's room, creating the room on
// first join.
func (reg *Registry) Join(sess *Session, docID string) *Room {
	reg.mu.Lock()
	room, ok := reg.rooms[docID]
	if !ok {
		room = newRoom(docID)
		reg.rooms[docID] = room
	}
	reg.mu.Unlock()

	room.add(sess)
	sess.Track(docID)
	return room
}

// Leave removes the session from the document's room. The room is destroyed
// when its last session leaves; the second return reports that.
func (reg *Registry) Leave(sess *Session, docID string) (*Room, bool) {
	reg.mu.Lock()
	room, ok := reg.rooms[docID]
	reg.mu.Unlock()
	if !ok {
		return nil, false
	}

	sess.Untrack(docID)
	remaining := room.remove(sess)
	if remaining > 0 {
		return room, false
	}

	reg.mu.Lock()
	// Re-check under the lock; another session may have joined in between.
	if room.SessionCount() == 0 {
		delete(reg.rooms, docID)
		reg.mu.Unlock()
		return room, true
	}
	reg.mu.Unlock()
	return room, false
}

// Get returns the room for a document, or nil
func (reg *Registry) Get(docID string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.rooms[docID]
}

// RoomCount returns the number of live rooms
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// CloseAll closes every session in every room, used at shutdown
func (reg *Registry) CloseAll() {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.rooms = make(map[string]*Room)
	reg.mu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		for _, sess := range room.sessions {
			sess.Close()
		}
		room.mu.Unlock()
	}
}
