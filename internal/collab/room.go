package collab

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/syncpad/backend/internal/models"
)

// Room is the set of sessions currently joined to one document, plus their
// presence records. Created on first join, destroyed on last leave.
type Room struct {
	DocumentID string

	mu       sync.RWMutex
	sessions map[string]*Session
	presence map[string]*models.Presence
}

func newRoom(docID string) *Room {
	return &Room{
		DocumentID: docID,
		sessions:   make(map[string]*Session),
		presence:   make(map[string]*models.Presence),
	}
}

func (r *Room) add(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID] = sess
}

// remove drops a session and its user's presence, returning the number of
// sessions left so the registry can destroy empty rooms.
func (r *Room) remove(sess *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sess.ID]; ok {
		delete(r.sessions, sess.ID)
		delete(r.presence, sess.UserID)
	}
	return len(r.sessions)
}

// SessionCount returns the number of connected sessions
func (r *Room) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Broadcast fans a message out to every member except excludeSessionID.
// The fan-out is best effort: a member whose queue is full is disconnected
// so that one slow peer never blocks the rest of the room.
func (r *Room) Broadcast(data []byte, excludeSessionID string) {
	var slow []*Session

	r.mu.RLock()
	for _, sess := range r.sessions {
		if sess.ID == excludeSessionID {
			continue
		}
		if !sess.TrySend(data) {
			slow = append(slow, sess)
		}
	}
	r.mu.RUnlock()

	for _, sess := range slow {
		slog.Warn("disconnecting slow peer", "doc", r.DocumentID, "user", sess.UserID)
		sess.Close()
	}
}

// UpsertPresence installs or refreshes a user's presence record
func (r *Room) UpsertPresence(p *models.Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.LastActive = time.Now()
	r.presence[p.UserID] = p
}

// Presence returns one user's presence record, or nil
func (r *Room) Presence(userID string) *models.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presence[userID]
}

// ActiveEditors returns the presence roster ordered by user id
func (r *Room) ActiveEditors() []*models.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Presence, 0, len(r.presence))
	for _, p := range r.presence {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
