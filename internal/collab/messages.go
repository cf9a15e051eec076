package collab

import (
	"encoding/json"
	"time"

	"github.com/syncpad/backend/internal/models"
)

// Client → server events
const (
	MsgJoinDocument     = "join-document"
	MsgLeaveDocument    = "leave-document"
	MsgDocumentChange   = "document-change"
	MsgCursorPosition   = "cursor-position"
	MsgSaveOfflineEdit  = "save-offline-edit"
	MsgSyncOfflineEdits = "sync-offline-edits"
)

// Server → client events
const (
	MsgDocumentData          = "document-data"
	MsgEditorJoined          = "editor-joined"
	MsgEditorLeft            = "editor-left"
	MsgVersionCreated        = "version-created"
	MsgSyncRequired          = "sync-required"
	MsgDocumentUpdated       = "document-updated"
	MsgOfflineEditSaved      = "offline-edit-saved"
	MsgOfflineEditsAvailable = "offline-edits-available"
	MsgOfflineEditsSynced    = "offline-edits-synced"
	MsgError                 = "error"
)

// Envelope is the wire frame for every socket message
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload identifies the document for join/leave/sync requests
type JoinPayload struct {
	DocumentID string `json:"documentId"`
}

// ChangePayload carries one patch bundle from a client
type ChangePayload struct {
	DocumentID string `json:"documentId"`
	Patches    string `json:"patches"`

	// Accepted for wire compatibility; the engine does not consult it.
	ClientShadowVersion int `json:"clientShadowVersion,omitempty"`
}

// CursorPayload is a client cursor update
type CursorPayload struct {
	DocumentID     string           `json:"documentId"`
	CursorPosition int              `json:"cursorPosition"`
	Selection      models.Selection `json:"selection"`
}

// OfflineSavePayload buffers a patch bundle produced while disconnected
type OfflineSavePayload struct {
	DocumentID string `json:"documentId"`
	Patches    string `json:"patches"`
	Timestamp  int64  `json:"timestamp"`
}

// DocumentDataPayload is the full state sent to a joining client
type DocumentDataPayload struct {
	Document      *models.Document   `json:"document"`
	ActiveEditors []*models.Presence `json:"activeEditors"`
}

// ChangeBroadcast relays a committed patch bundle to peers
type ChangeBroadcast struct {
	Patches  string `json:"patches"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// CursorBroadcast relays a cursor update to peers
type CursorBroadcast struct {
	UserID         string           `json:"userId"`
	Username       string           `json:"username"`
	CursorPosition int              `json:"cursorPosition"`
	Selection      models.Selection `json:"selection"`
}

// EditorPayload announces roster changes
type EditorPayload struct {
	UserID        string             `json:"userId"`
	Username      string             `json:"username"`
	ActiveEditors []*models.Presence `json:"activeEditors"`
}

// VersionCreatedPayload announces a new snapshot
type VersionCreatedPayload struct {
	VersionIndex int       `json:"versionIndex"`
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	Timestamp    time.Time `json:"timestamp"`
}

// SyncRequiredPayload tells one client to restart from the full server text
type SyncRequiredPayload struct {
	Content             string `json:"content"`
	ServerShadowVersion int    `json:"serverShadowVersion"`
}

// DocumentUpdatedPayload carries the full text after a batched change
type DocumentUpdatedPayload struct {
	Content  string `json:"content"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// OfflineSavedPayload acknowledges a buffered offline edit
type OfflineSavedPayload struct {
	Success bool `json:"success"`
}

// OfflineAvailablePayload tells a joiner how many edits are buffered
type OfflineAvailablePayload struct {
	Count int `json:"count"`
}

// OfflineSyncedPayload reports a replay result to its initiator
type OfflineSyncedPayload struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// ErrorPayload carries a per-message failure to the offending sender
type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode marshals an envelope for the wire. Payload marshalling of our own
// types cannot fail.
func Encode(msgType string, payload interface{}) []byte {
	raw, _ := json.Marshal(payload)
	data, _ := json.Marshal(Envelope{Type: msgType, Payload: raw})
	return data
}
