package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncpad/backend/internal/models"
)

// Postgres is the production Store backed by a pgx pool
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and verifies the connection
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := p.pool.QueryRow(ctx, `
		SELECT id, email, username, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Email, &user.Username, &user.CreatedAt, &user.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := p.pool.QueryRow(ctx, `
		SELECT id, email, username, created_at, updated_at
		FROM users WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.Username, &user.CreatedAt, &user.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (p *Postgres) ListDocumentsForUser(ctx context.Context, userID string) ([]*models.Document, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT d.id, d.title, d.owner_id, d.current_version, d.last_modified
		FROM documents d
		LEFT JOIN document_collaborators dc ON d.id = dc.doc_id
		WHERE d.owner_id = $1 OR dc.user_id = $1
		ORDER BY d.last_modified DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.OwnerID, &doc.CurrentVersion, &doc.LastModified); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (p *Postgres) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := p.pool.QueryRow(ctx, `
		SELECT id, title, content, owner_id, current_version, last_modified
		FROM documents WHERE id = $1
	`, id).Scan(&doc.ID, &doc.Title, &doc.Content, &doc.OwnerID, &doc.CurrentVersion, &doc.LastModified)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	collabRows, err := p.pool.Query(ctx, `
		SELECT user_id FROM document_collaborators WHERE doc_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer collabRows.Close()
	for collabRows.Next() {
		var uid string
		if err := collabRows.Scan(&uid); err != nil {
			return nil, err
		}
		doc.CollaboratorIDs = append(doc.CollaboratorIDs, uid)
	}
	if err := collabRows.Err(); err != nil {
		return nil, err
	}

	versions, err := p.GetVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Versions = versions

	return &doc, nil
}

func (p *Postgres) CreateDocument(ctx context.Context, doc *models.Document) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, title, content, owner_id, current_version, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, doc.ID, doc.Title, doc.Content, doc.OwnerID, doc.CurrentVersion, doc.LastModified)
	if err != nil {
		return err
	}

	for i, v := range doc.Versions {
		_, err = tx.Exec(ctx, `
			INSERT INTO document_versions (doc_id, idx, content, author_id, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, doc.ID, i, v.Content, v.AuthorID, v.Description, v.Timestamp)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (p *Postgres) UpdateTitle(ctx context.Context, id, title string) (*models.Document, error) {
	var doc models.Document
	err := p.pool.QueryRow(ctx, `
		UPDATE documents SET title = $2, last_modified = NOW()
		WHERE id = $1
		RETURNING id, title, content, owner_id, current_version, last_modified
	`, id, title).Scan(&doc.ID, &doc.Title, &doc.Content, &doc.OwnerID, &doc.CurrentVersion, &doc.LastModified)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (p *Postgres) DeleteDocument(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

func (p *Postgres) AddCollaborator(ctx context.Context, docID, userID string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO document_collaborators (doc_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (doc_id, user_id) DO NOTHING
	`, docID, userID)
	return err
}

func (p *Postgres) RemoveCollaborator(ctx context.Context, docID, userID string) error {
	_, err := p.pool.Exec(ctx, `
		DELETE FROM document_collaborators WHERE doc_id = $1 AND user_id = $2
	`, docID, userID)
	return err
}

func (p *Postgres) SaveDocumentHead(ctx context.Context, id, content string, modified time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE documents SET content = $2, last_modified = $3 WHERE id = $1
	`, id, content, modified)
	return err
}

func (p *Postgres) AppendVersion(ctx context.Context, id string, v models.Version) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var idx int
	err = tx.QueryRow(ctx, `
		INSERT INTO document_versions (doc_id, idx, content, author_id, description, created_at)
		SELECT $1, COALESCE(MAX(idx), -1) + 1, $2, $3, $4, $5
		FROM document_versions WHERE doc_id = $1
		RETURNING idx
	`, id, v.Content, v.AuthorID, v.Description, v.Timestamp).Scan(&idx)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE documents SET current_version = $2 WHERE id = $1
	`, id, idx)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return idx, nil
}

func (p *Postgres) GetVersions(ctx context.Context, id string) ([]models.Version, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT content, author_id, description, created_at
		FROM document_versions
		WHERE doc_id = $1
		ORDER BY idx ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []models.Version
	for rows.Next() {
		var v models.Version
		if err := rows.Scan(&v.Content, &v.AuthorID, &v.Description, &v.Timestamp); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
