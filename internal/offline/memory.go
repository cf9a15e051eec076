package offline

import (
	"context"
	"sync"

	"github.com/syncpad/backend/internal/models"
)

// Memory is an in-process Buffer used by tests and redis-less local runs
type Memory struct {
	mu     sync.Mutex
	queues map[string][]models.OfflineEdit
}

// NewMemory creates an empty in-memory buffer
func NewMemory() *Memory {
	return &Memory{queues: make(map[string][]models.OfflineEdit)}
}

func (m *Memory) Push(_ context.Context, userID, docID string, edit models.OfflineEdit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := editKey(userID, docID)
	m.queues[key] = append(m.queues[key], edit)
	return nil
}

func (m *Memory) Count(_ context.Context, userID, docID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[editKey(userID, docID)]), nil
}

func (m *Memory) Drain(_ context.Context, userID, docID string) ([]models.OfflineEdit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := editKey(userID, docID)
	edits := m.queues[key]
	delete(m.queues, key)
	sortByTimestamp(edits)
	return edits, nil
}
