package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/syncpad/backend/internal/auth"
	"github.com/syncpad/backend/internal/collab"
	"github.com/syncpad/backend/internal/models"
	"github.com/syncpad/backend/internal/store"
)

// Handler holds the dependencies for API handlers
type Handler struct {
	db     store.Store
	engine *collab.Engine
}

// NewHandler creates a new API handler
func NewHandler(db store.Store, engine *collab.Engine) *Handler {
	return &Handler{db: db, engine: engine}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.HealthCheck)

	r.POST("/api/auth/login", h.Login)
	r.GET("/api/auth/me", auth.Middleware(h.db), h.GetCurrentUser)

	docs := r.Group("/api/documents")
	docs.Use(auth.Middleware(h.db))
	{
		docs.GET("", h.ListDocuments)
		docs.POST("", h.CreateDocument)
		docs.GET("/:id", h.GetDocument)
		docs.PUT("/:id", h.UpdateDocument)
		docs.DELETE("/:id", h.DeleteDocument)

		docs.POST("/:id/collaborators", h.AddCollaborator)
		docs.DELETE("/:id/collaborators/:userId", h.RemoveCollaborator)

		docs.GET("/:id/versions", h.ListVersions)
		docs.POST("/:id/revert/:versionIndex", h.RevertVersion)
	}
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Login issues a token for a known user. Credential checking lives in the
// external auth service; this mirrors its contract for local development.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.db.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	token, err := auth.GenerateToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// GetCurrentUser returns the current authenticated user
func (h *Handler) GetCurrentUser(c *gin.Context) {
	user := auth.UserFromContext(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// ListDocuments returns all documents accessible by the user
func (h *Handler) ListDocuments(c *gin.Context) {
	user := auth.UserFromContext(c)
	docs, err := h.db.ListDocumentsForUser(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list documents"})
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	c.JSON(http.StatusOK, docs)
}

// CreateDocument creates a new document seeded with an initial version
func (h *Handler) CreateDocument(c *gin.Context) {
	user := auth.UserFromContext(c)

	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	doc := &models.Document{
		ID:      uuid.New().String(),
		Title:   req.Title,
		OwnerID: user.ID,
		Versions: []models.Version{{
			AuthorID:    user.ID,
			Description: "Document created",
			Timestamp:   now,
		}},
		CurrentVersion: 0,
		LastModified:   now,
	}
	if err := h.db.CreateDocument(c.Request.Context(), doc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create document"})
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// GetDocument returns a single document
func (h *Handler) GetDocument(c *gin.Context) {
	user := auth.UserFromContext(c)
	doc, ok := h.loadAuthorized(c, user.ID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, doc)
}

// UpdateDocument updates a document's title
func (h *Handler) UpdateDocument(c *gin.Context) {
	user := auth.UserFromContext(c)
	if _, ok := h.loadAuthorized(c, user.ID); !ok {
		return
	}

	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := h.db.UpdateTitle(c.Request.Context(), c.Param("id"), req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update document"})
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// DeleteDocument deletes a document; owner only
func (h *Handler) DeleteDocument(c *gin.Context) {
	user := auth.UserFromContext(c)
	doc, ok := h.loadOwned(c, user.ID)
	if !ok {
		return
	}

	if err := h.db.DeleteDocument(c.Request.Context(), doc.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete document"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Document deleted"})
}

// AddCollaborator grants a user edit access; owner only
func (h *Handler) AddCollaborator(c *gin.Context) {
	user := auth.UserFromContext(c)
	doc, ok := h.loadOwned(c, user.ID)
	if !ok {
		return
	}

	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.AddCollaborator(c.Request.Context(), doc.ID, req.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add collaborator"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Collaborator added"})
}

// RemoveCollaborator revokes a user's access; owner only
func (h *Handler) RemoveCollaborator(c *gin.Context) {
	user := auth.UserFromContext(c)
	doc, ok := h.loadOwned(c, user.ID)
	if !ok {
		return
	}

	if err := h.db.RemoveCollaborator(c.Request.Context(), doc.ID, c.Param("userId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove collaborator"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Collaborator removed"})
}

// ListVersions returns a document's version history
func (h *Handler) ListVersions(c *gin.Context) {
	user := auth.UserFromContext(c)
	doc, ok := h.loadAuthorized(c, user.ID)
	if !ok {
		return
	}

	versions, err := h.db.GetVersions(c.Request.Context(), doc.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list versions"})
		return
	}
	if versions == nil {
		versions = []models.Version{}
	}
	c.JSON(http.StatusOK, versions)
}

// RevertVersion materializes an old snapshot as the new head version and
// notifies the document's room.
func (h *Handler) RevertVersion(c *gin.Context) {
	user := auth.UserFromContext(c)

	index, err := strconv.Atoi(c.Param("versionIndex"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid version index"})
		return
	}

	doc, err := h.engine.Revert(c.Request.Context(), user.ID, user.Username, c.Param("id"), index)
	if err != nil {
		if serr, ok := err.(*models.SyncError); ok {
			c.JSON(statusForKind(serr.Kind), gin.H{"error": serr.Detail})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revert document"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// loadAuthorized fetches the :id document and requires edit access
func (h *Handler) loadAuthorized(c *gin.Context, userID string) (*models.Document, bool) {
	doc, err := h.db.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return nil, false
	}
	if !doc.CanEdit(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "No access to this document"})
		return nil, false
	}
	return doc, true
}

// loadOwned fetches the :id document and requires ownership
func (h *Handler) loadOwned(c *gin.Context, userID string) (*models.Document, bool) {
	doc, err := h.db.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return nil, false
	}
	if doc.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Owner access required"})
		return nil, false
	}
	return doc, true
}

func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindForbidden:
		return http.StatusForbidden
	case models.KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
