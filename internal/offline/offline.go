// Package offline buffers patch bundles a client accumulated while
// disconnected, keyed by (user, document), until the client asks for replay.
package offline

import (
	"context"

	"github.com/syncpad/backend/internal/models"
)

// Buffer is a per-(user,document) FIFO of offline edits
type Buffer interface {
	// Push appends an edit to the queue
	Push(ctx context.Context, userID, docID string, edit models.OfflineEdit) error

	// Count returns the number of buffered edits
	Count(ctx context.Context, userID, docID string) (int, error)

	// Drain returns all buffered edits ordered by client timestamp
	// ascending and clears the queue.
	Drain(ctx context.Context, userID, docID string) ([]models.OfflineEdit, error)
}
