package store

import (
	"context"
	"time"

	"github.com/syncpad/backend/internal/models"
)

// Store is the persistence contract the engine and the directory API
// consume. Lookups return (nil, nil) when the row does not exist.
type Store interface {
	// Users
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Documents
	ListDocumentsForUser(ctx context.Context, userID string) ([]*models.Document, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	CreateDocument(ctx context.Context, doc *models.Document) error
	UpdateTitle(ctx context.Context, id, title string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	AddCollaborator(ctx context.Context, docID, userID string) error
	RemoveCollaborator(ctx context.Context, docID, userID string) error

	// Head + version history
	SaveDocumentHead(ctx context.Context, id, content string, modified time.Time) error
	AppendVersion(ctx context.Context, id string, v models.Version) (int, error)
	GetVersions(ctx context.Context, id string) ([]models.Version, error)
}
