package models

import (
	"time"
)

// User represents a user in the system
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Username  string    `json:"username" db:"username"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Version is an immutable content snapshot of a document
type Version struct {
	Content     string    `json:"content"`
	AuthorID    string    `json:"authorId"`
	Description string    `json:"changeDescription"`
	Timestamp   time.Time `json:"timestamp"`
}

// Document represents a collaborative document
type Document struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	OwnerID         string    `json:"ownerId"`
	CollaboratorIDs []string  `json:"collaboratorIds"`
	Versions        []Version `json:"versions"`
	CurrentVersion  int       `json:"currentVersion"`
	LastModified    time.Time `json:"lastModified"`

	// Transient, filled in by the room when served over the socket
	ActiveEditors []*Presence `json:"activeEditors,omitempty"`
}

// CanEdit reports whether the user is the owner or a collaborator
func (d *Document) CanEdit(userID string) bool {
	if d.OwnerID == userID {
		return true
	}
	for _, id := range d.CollaboratorIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// LatestVersion returns the newest snapshot, or nil when none exist
func (d *Document) LatestVersion() *Version {
	if len(d.Versions) == 0 {
		return nil
	}
	return &d.Versions[len(d.Versions)-1]
}

// Selection is a character-offset range in document content
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Presence is a user's ephemeral cursor state within a room
type Presence struct {
	UserID         string    `json:"userId"`
	Username       string    `json:"username"`
	CursorPosition int       `json:"cursorPosition"`
	Selection      Selection `json:"selection"`
	LastActive     time.Time `json:"lastActive"`
}

// OfflineEdit is a patch bundle a client produced while disconnected
type OfflineEdit struct {
	Patches         string `json:"patches"`
	ClientTimestamp int64  `json:"clientTimestamp"`
	UserID          string `json:"userId"`
	Username        string `json:"username"`
}
