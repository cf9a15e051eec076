package collab

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/syncpad/backend/internal/diff"
	"github.com/syncpad/backend/internal/models"
	"github.com/syncpad/backend/internal/offline"
	"github.com/syncpad/backend/internal/store"
)

// How long after the last snapshot an edit triggers a new one
const defaultSnapshotInterval = 60 * time.Second

// Engine is the differential synchronization engine. Every mutation of a
// document runs inside that document's shadow lock, so commit order equals
// broadcast order and concurrent edits on the same document serialize.
type Engine struct {
	store   store.Store
	shadows *ShadowStore
	rooms   *Registry
	offline offline.Buffer
	patcher *diff.Patcher

	snapshotInterval time.Duration
	now              func() time.Time
}

// NewEngine creates an engine over the given persistence and offline buffer
func NewEngine(st store.Store, buf offline.Buffer) *Engine {
	return &Engine{
		store:            st,
		shadows:          NewShadowStore(),
		rooms:            NewRegistry(),
		offline:          buf,
		patcher:          diff.New(),
		snapshotInterval: defaultSnapshotInterval,
		now:              time.Now,
	}
}

// Rooms exposes the room registry
func (e *Engine) Rooms() *Registry { return e.rooms }

// Shadows exposes the shadow store
func (e *Engine) Shadows() *ShadowStore { return e.shadows }

// HandleJoin places the session in the document's room, sends it the full
// document state and announces it to peers.
func (e *Engine) HandleJoin(ctx context.Context, sess *Session, docID string) error {
	doc, serr := e.lookupAuthorized(ctx, sess.UserID, docID)
	if serr != nil {
		e.sendError(sess, serr)
		return serr
	}

	room := e.rooms.Join(sess, docID)
	room.UpsertPresence(&models.Presence{
		UserID:   sess.UserID,
		Username: sess.Username,
	})
	sess.Touch()

	editors := room.ActiveEditors()
	doc.ActiveEditors = editors
	sess.TrySend(Encode(MsgDocumentData, DocumentDataPayload{Document: doc, ActiveEditors: editors}))
	room.Broadcast(Encode(MsgEditorJoined, EditorPayload{
		UserID:        sess.UserID,
		Username:      sess.Username,
		ActiveEditors: editors,
	}), sess.ID)

	if n, err := e.offline.Count(ctx, sess.UserID, docID); err == nil && n > 0 {
		sess.TrySend(Encode(MsgOfflineEditsAvailable, OfflineAvailablePayload{Count: n}))
	}

	slog.Info("editor joined", "doc", docID, "user", sess.UserID, "editors", len(editors))
	return nil
}

// HandleLeave removes the session from the room and tells peers. The last
// leave destroys the room and evicts the document's shadow.
func (e *Engine) HandleLeave(ctx context.Context, sess *Session, docID string) {
	room, empty := e.rooms.Leave(sess, docID)
	if room == nil {
		return
	}

	room.Broadcast(Encode(MsgEditorLeft, EditorPayload{
		UserID:        sess.UserID,
		Username:      sess.Username,
		ActiveEditors: room.ActiveEditors(),
	}), sess.ID)

	if empty {
		e.shadows.Drop(docID)
	}
	slog.Info("editor left", "doc", docID, "user", sess.UserID, "roomEmpty", empty)
}

// Disconnect tears a session down, leaving every room it joined
func (e *Engine) Disconnect(ctx context.Context, sess *Session) {
	for _, docID := range sess.Documents() {
		e.HandleLeave(ctx, sess, docID)
	}
	sess.Close()
}

// ApplyChange runs the synchronization critical section for one incoming
// patch bundle: apply against the shadow, persist the head, relay the patch
// to peers, snapshot when due. A bundle that does not apply cleanly yields
// sync-required to the sender only and mutates nothing.
func (e *Engine) ApplyChange(ctx context.Context, sess *Session, docID, patches string) error {
	if _, serr := e.lookupAuthorized(ctx, sess.UserID, docID); serr != nil {
		e.sendError(sess, serr)
		return serr
	}

	shadow, err := e.shadows.Acquire(ctx, docID, e.hydrate(docID))
	if err != nil {
		serr := models.ErrPersistence("load document shadow", err)
		e.sendError(sess, serr)
		return serr
	}
	defer e.shadows.Release(shadow)

	// Authoritative head, re-read under the lock
	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		serr := models.ErrPersistence("reload document", err)
		e.sendError(sess, serr)
		return serr
	}
	if doc == nil {
		serr := models.ErrNotFound("Document not found")
		e.sendError(sess, serr)
		return serr
	}

	newText, results, perr := e.patcher.Apply(patches, shadow.Text())
	if perr != nil || !diff.Applied(results) {
		// The sender's base has diverged too far; tell it to restart from
		// the full server content. Peers are unaffected.
		sess.TrySend(Encode(MsgSyncRequired, SyncRequiredPayload{
			Content:             doc.Content,
			ServerShadowVersion: shadow.Version(),
		}))
		slog.Debug("patch rejected", "doc", docID, "user", sess.UserID)
		return nil
	}

	now := e.now()
	if err := e.store.SaveDocumentHead(ctx, docID, newText, now); err != nil {
		// Shadow untouched, so peers and the next patch see the pre-apply
		// state; no broadcast goes out.
		serr := models.ErrPersistence("save document", err)
		e.sendError(sess, serr)
		return serr
	}
	shadow.SetText(newText)
	sess.Touch()

	if room := e.rooms.Get(docID); room != nil {
		room.Broadcast(Encode(MsgDocumentChange, ChangeBroadcast{
			Patches:  patches,
			UserID:   sess.UserID,
			Username: sess.Username,
		}), sess.ID)
	}

	e.maybeSnapshot(ctx, doc, sess.UserID, sess.Username, newText, now)
	return nil
}

// UpdateCursor upserts the sender's presence and relays it to peers
func (e *Engine) UpdateCursor(ctx context.Context, sess *Session, docID string, cursor int, sel models.Selection) {
	room := e.rooms.Get(docID)
	if room == nil || room.Presence(sess.UserID) == nil {
		return
	}

	room.UpsertPresence(&models.Presence{
		UserID:         sess.UserID,
		Username:       sess.Username,
		CursorPosition: cursor,
		Selection:      sel,
	})
	sess.Touch()

	room.Broadcast(Encode(MsgCursorPosition, CursorBroadcast{
		UserID:         sess.UserID,
		Username:       sess.Username,
		CursorPosition: cursor,
		Selection:      sel,
	}), sess.ID)
}

// SaveOfflineEdit buffers a patch bundle produced while the client was
// disconnected and acknowledges it.
func (e *Engine) SaveOfflineEdit(ctx context.Context, sess *Session, docID, patches string, clientTimestamp int64) error {
	edit := models.OfflineEdit{
		Patches:         patches,
		ClientTimestamp: clientTimestamp,
		UserID:          sess.UserID,
		Username:        sess.Username,
	}
	if err := e.offline.Push(ctx, sess.UserID, docID, edit); err != nil {
		serr := models.ErrPersistence("buffer offline edit", err)
		e.sendError(sess, serr)
		return serr
	}

	sess.TrySend(Encode(MsgOfflineEditSaved, OfflineSavedPayload{Success: true}))
	return nil
}

// SyncOfflineEdits drains the sender's offline queue and replays it in
// client-timestamp order under the document lock. Bundles that no longer
// apply are skipped; peers receive the final full text because a batched
// replay leaves them no common base to patch against.
func (e *Engine) SyncOfflineEdits(ctx context.Context, sess *Session, docID string) error {
	if _, serr := e.lookupAuthorized(ctx, sess.UserID, docID); serr != nil {
		e.sendError(sess, serr)
		return serr
	}

	shadow, err := e.shadows.Acquire(ctx, docID, e.hydrate(docID))
	if err != nil {
		serr := models.ErrPersistence("load document shadow", err)
		e.sendError(sess, serr)
		return serr
	}
	defer e.shadows.Release(shadow)

	edits, err := e.offline.Drain(ctx, sess.UserID, docID)
	if err != nil {
		serr := models.ErrPersistence("drain offline edits", err)
		e.sendError(sess, serr)
		return serr
	}

	text := shadow.Text()
	applied := 0
	for _, edit := range edits {
		newText, results, perr := e.patcher.Apply(edit.Patches, text)
		if perr != nil || !diff.Applied(results) {
			slog.Warn("skipping offline edit that no longer applies",
				"doc", docID, "user", sess.UserID, "clientTimestamp", edit.ClientTimestamp)
			continue
		}
		text = newText
		applied++
	}

	if applied > 0 {
		now := e.now()
		if err := e.store.SaveDocumentHead(ctx, docID, text, now); err != nil {
			serr := models.ErrPersistence("save document", err)
			e.sendError(sess, serr)
			return serr
		}
		shadow.SetText(text)

		version := models.Version{
			Content:     text,
			AuthorID:    sess.UserID,
			Description: fmt.Sprintf("Synced %d offline edits", applied),
			Timestamp:   now,
		}
		idx, err := e.store.AppendVersion(ctx, docID, version)
		if err != nil {
			serr := models.ErrPersistence("append version", err)
			e.sendError(sess, serr)
			return serr
		}

		if room := e.rooms.Get(docID); room != nil {
			room.Broadcast(Encode(MsgDocumentUpdated, DocumentUpdatedPayload{
				Content:  text,
				UserID:   sess.UserID,
				Username: sess.Username,
			}), "")
			room.Broadcast(Encode(MsgVersionCreated, VersionCreatedPayload{
				VersionIndex: idx,
				UserID:       sess.UserID,
				Username:     sess.Username,
				Timestamp:    now,
			}), "")
		}
	}

	sess.TrySend(Encode(MsgOfflineEditsSynced, OfflineSyncedPayload{Success: true, Count: applied}))
	slog.Info("offline edits replayed", "doc", docID, "user", sess.UserID,
		"applied", applied, "skipped", len(edits)-applied)
	return nil
}

// Revert appends a new version whose content equals the target version's
// content, makes it the document head and refreshes the shadow. History is
// append-only: reverting never rewrites existing entries.
func (e *Engine) Revert(ctx context.Context, userID, username, docID string, index int) (*models.Document, error) {
	if _, serr := e.lookupAuthorized(ctx, userID, docID); serr != nil {
		return nil, serr
	}

	shadow, err := e.shadows.Acquire(ctx, docID, e.hydrate(docID))
	if err != nil {
		return nil, models.ErrPersistence("load document shadow", err)
	}
	defer e.shadows.Release(shadow)

	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, models.ErrPersistence("reload document", err)
	}
	if doc == nil {
		return nil, models.ErrNotFound("Document not found")
	}
	if index < 0 || index >= len(doc.Versions) {
		return nil, models.ErrNotFound("version index out of range")
	}

	target := doc.Versions[index]
	now := e.now()

	version := models.Version{
		Content:     target.Content,
		AuthorID:    userID,
		Description: fmt.Sprintf("Reverted to version %d", index+1),
		Timestamp:   now,
	}
	// Head first: a failure here leaves history and content untouched,
	// and the shadow still mirrors the persisted head either way.
	if err := e.store.SaveDocumentHead(ctx, docID, target.Content, now); err != nil {
		return nil, models.ErrPersistence("save document", err)
	}
	shadow.SetText(target.Content)
	idx, err := e.store.AppendVersion(ctx, docID, version)
	if err != nil {
		return nil, models.ErrPersistence("append version", err)
	}

	doc.Content = target.Content
	doc.Versions = append(doc.Versions, version)
	doc.CurrentVersion = idx
	doc.LastModified = now

	if room := e.rooms.Get(docID); room != nil {
		room.Broadcast(Encode(MsgDocumentUpdated, DocumentUpdatedPayload{
			Content:  target.Content,
			UserID:   userID,
			Username: username,
		}), "")
		room.Broadcast(Encode(MsgVersionCreated, VersionCreatedPayload{
			VersionIndex: idx,
			UserID:       userID,
			Username:     username,
			Timestamp:    now,
		}), "")
	}

	slog.Info("document reverted", "doc", docID, "user", userID, "target", index, "newVersion", idx)
	return doc, nil
}

// maybeSnapshot appends an auto-saved version when none exist yet or the
// newest one is old enough. The version is recorded whether or not anyone
// is in the room; only the announcement needs one.
func (e *Engine) maybeSnapshot(ctx context.Context, doc *models.Document, userID, username, content string, now time.Time) {
	last := doc.LatestVersion()
	if last != nil && now.Sub(last.Timestamp) < e.snapshotInterval {
		return
	}

	version := models.Version{
		Content:     content,
		AuthorID:    userID,
		Description: "Auto-saved version",
		Timestamp:   now,
	}
	idx, err := e.store.AppendVersion(ctx, doc.ID, version)
	if err != nil {
		slog.Error("failed to append version snapshot", "doc", doc.ID, "error", err)
		return
	}

	if room := e.rooms.Get(doc.ID); room != nil {
		room.Broadcast(Encode(MsgVersionCreated, VersionCreatedPayload{
			VersionIndex: idx,
			UserID:       userID,
			Username:     username,
			Timestamp:    now,
		}), "")
	}
}

// lookupAuthorized fetches the document and checks the user may edit it
func (e *Engine) lookupAuthorized(ctx context.Context, userID, docID string) (*models.Document, *models.SyncError) {
	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, models.ErrPersistence("load document", err)
	}
	if doc == nil {
		return nil, models.ErrNotFound("Document not found")
	}
	if !doc.CanEdit(userID) {
		return nil, models.ErrForbidden("Not authorized to edit this document")
	}
	return doc, nil
}

func (e *Engine) hydrate(docID string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		doc, err := e.store.GetDocument(ctx, docID)
		if err != nil {
			return "", err
		}
		if doc == nil {
			return "", fmt.Errorf("document %s not found", docID)
		}
		return doc.Content, nil
	}
}

func (e *Engine) sendError(sess *Session, serr *models.SyncError) {
	sess.TrySend(Encode(MsgError, ErrorPayload{Message: serr.Detail}))
}
