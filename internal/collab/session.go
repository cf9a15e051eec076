package collab

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syncpad/backend/internal/models"
)

// Size of a session's outbound queue. A session that falls this far behind
// is treated as a slow peer and disconnected.
const sendBufferSize = 256

// Session is one connected, authenticated client. Identity is fixed at the
// handshake; the outbound sink is drained by a single writer goroutine.
type Session struct {
	ID       string
	UserID   string
	Username string

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	conn      io.Closer

	mu         sync.Mutex
	docs       map[string]struct{}
	lastActive time.Time
}

// NewSession creates a session for an authenticated user. conn may be nil
// when the transport handles its own shutdown.
func NewSession(user *models.User, conn io.Closer) *Session {
	return &Session{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		Username:   user.Username,
		send:       make(chan []byte, sendBufferSize),
		closed:     make(chan struct{}),
		conn:       conn,
		docs:       make(map[string]struct{}),
		lastActive: time.Now(),
	}
}

// TrySend enqueues a message without blocking. It reports false when the
// session is closed or its queue is full; callers treat false as a slow
// peer and disconnect the session rather than wait.
func (s *Session) TrySend(data []byte) bool {
	select {
	case <-s.closed:
		return false
	default:
	}

	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Outbound exposes the queue to the writer goroutine
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Closed is closed when the session shuts down
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// Close shuts the session down once. The underlying connection close makes
// the reader goroutine exit, which triggers room cleanup.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// Track records membership in a document's room
func (s *Session) Track(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docID] = struct{}{}
}

// Untrack drops membership in a document's room
func (s *Session) Untrack(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, docID)
}

// Documents returns a snapshot of the rooms this session has joined
func (s *Session) Documents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.docs))
	for id := range s.docs {
		out = append(out, id)
	}
	return out
}

// Touch refreshes the liveness timestamp
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// LastActive returns the liveness timestamp
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}
