package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncpad/backend/internal/diff"
	"github.com/syncpad/backend/internal/models"
	"github.com/syncpad/backend/internal/offline"
	"github.com/syncpad/backend/internal/store"
)

const testDocID = "doc-1"

func newTestEngine(t *testing.T, content string) (*Engine, *store.Memory, *offline.Memory) {
	t.Helper()
	db := store.NewMemory()
	buf := offline.NewMemory()

	db.PutUser(&models.User{ID: "alice", Username: "Alice", Email: "alice@example.com"})
	db.PutUser(&models.User{ID: "bob", Username: "Bob", Email: "bob@example.com"})
	db.PutUser(&models.User{ID: "eve", Username: "Eve", Email: "eve@example.com"})

	require.NoError(t, db.CreateDocument(context.Background(), &models.Document{
		ID:              testDocID,
		Title:           "Test",
		Content:         content,
		OwnerID:         "alice",
		CollaboratorIDs: []string{"bob"},
		LastModified:    time.Now(),
	}))

	return NewEngine(db, buf), db, buf
}

func newTestSession(id, name string) *Session {
	return NewSession(&models.User{ID: id, Username: name}, nil)
}

// recv pops queued outbound messages until one of the wanted type appears,
// failing the test if the queue empties first.
func recv(t *testing.T, sess *Session, msgType string, payload interface{}) {
	t.Helper()
	for {
		select {
		case data := <-sess.Outbound():
			var env Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			if env.Type != msgType {
				continue
			}
			if payload != nil {
				require.NoError(t, json.Unmarshal(env.Payload, payload))
			}
			return
		default:
			t.Fatalf("no %q message queued", msgType)
		}
	}
}

// expectNone asserts no message of the given type is queued
func expectNone(t *testing.T, sess *Session, msgType string) {
	t.Helper()
	for {
		select {
		case data := <-sess.Outbound():
			var env Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			require.NotEqual(t, msgType, env.Type)
		default:
			return
		}
	}
}

func drain(sess *Session) {
	for {
		select {
		case <-sess.Outbound():
		default:
			return
		}
	}
}

func TestSingleWriter(t *testing.T) {
	engine, db, _ := newTestEngine(t, "")
	ctx := context.Background()
	patcher := diff.New()

	alice := newTestSession("alice", "Alice")
	require.NoError(t, engine.HandleJoin(ctx, alice, testDocID))
	drain(alice)

	require.NoError(t, engine.ApplyChange(ctx, alice, testDocID, patcher.MakePatch("", "hello")))

	doc, err := db.GetDocument(ctx, testDocID)
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Content)

	require.Len(t, doc.Versions, 1)
	assert.Equal(t, "hello", doc.Versions[0].Content)
	assert.Equal(t, "Auto-saved version", doc.Versions[0].Description)
	assert.Equal(t, 0, doc.CurrentVersion)

	// The sender hears about the snapshot but not its own patch
	recv(t, alice, MsgVersionCreated, nil)
	expectNone(t, alice, MsgDocumentChange)
}

func TestTwoWritersDisjointEditsConverge(t *testing.T) {
	engine, db, _ := newTestEngine(t, "AAA BBB")
	ctx := context.Background()
	patcher := diff.New()

	alice := newTestSession("alice", "Alice")
	bob := newTestSession("bob", "Bob")
	require.NoError(t, engine.HandleJoin(ctx, alice, testDocID))
	require.NoError(t, engine.HandleJoin(ctx, bob, testDocID))
	drain(alice)
	drain(bob)

	// Both clients edit the same base before seeing each other's patch
	aliceLocal := "XXX BBB"
	bobLocal := "AAA YYY"
	alicePatch := patcher.MakePatch("AAA BBB", aliceLocal)
	bobPatch := patcher.MakePatch("AAA BBB", bobLocal)

	require.NoError(t, engine.ApplyChange(ctx, alice, testDocID, alicePatch))
	require.NoError(t, engine.ApplyChange(ctx, bob, testDocID, bobPatch))

	doc, err := db.GetDocument(ctx, testDocID)
	require.NoError(t, err)
	assert.Equal(t, "XXX YYY", doc.Content)

	// Each client applies the relayed patch to its own working copy
	var toBob ChangeBroadcast
	recv(t, bob, MsgDocumentChange, &toBob)
	assert.Equal(t, "alice", toBob.UserID)
	bobLocal, results, err := patcher.Apply(toBob.Patches, bobLocal)
	require.NoError(t, err)
	require.True(t, diff.Applied(results))

	var toAlice ChangeBroadcast
	recv(t, alice, MsgDocumentChange, &toAlice)
	assert.Equal(t, "bob", toAlice.UserID)
	aliceLocal, results, err = patcher.Apply(toAlice.Patches, aliceLocal)
	require.NoError(t, err)
	require.True(t, diff.Applied(results))

	assert.Equal(t, "XXX YYY", aliceLocal)
	assert.Equal(t, "XXX YYY", bobLocal)
}

func TestFailedPatchTriggersSyncRequired(t *testing.T) {
	engine, db, _ := newTestEngine(t, "one two three")
	ctx := context.Background()
	patcher := diff.New()

	alice := newTestSession("alice", "Alice")
	bob := newTestSession("bob", "Bob")
	require.NoError(t, engine.HandleJoin(ctx, alice, testDocID))
	require.NoError(t, engine.HandleJoin(ctx, bob, testDocID))
	drain(alice)
	drain(bob)

	// A patch whose context cannot be located in the server shadow
	stale := patcher.MakePatch("zzz qqq xxx", "zzz WWW xxx")
	require.NoError(t, engine.ApplyChange(ctx, alice, testDocID, stale))

	var sync SyncRequiredPayload
	recv(t, alice, MsgSyncRequired, &sync)
	assert.Equal(t, "one two three", sync.Content)

	// Peers receive nothing, content is unchanged
	expectNone(t, bob, MsgDocumentChange)
	doc, err := db.GetDocument(ctx, testDocID)
	require.NoError(t, err)
	assert.Equal(t, "one two three", doc.Content)
	assert.Empty(t, doc.Versions)
}

func TestCursorPresence(t *testing.T) {
	engine, _, _ := newTestEngine(t, "")
	ctx := context.Background()

	alice := newTestSession("alice", "Alice")
	bob := newTestSession("bob", "Bob")
	require.NoError(t, engine.HandleJoin(ctx, alice, testDocID))
	require.NoError(t, engine.HandleJoin(ctx, bob, testDocID))
	drain(alice)
	drain(bob)

	engine.UpdateCursor(ctx, bob, testDocID, 5, models.Selection{Start: 5, End: 7})

	var cursor CursorBroadcast
	recv(t, alice, MsgCursorPosition, &cursor)
	assert.Equal(t, "bob", cursor.UserID)
	assert.Equal(t, "Bob", cursor.Username)
	assert.Equal(t, 5, cursor.CursorPosition)
	assert.Equal(t, models.Selection{Start: 5, End: 7}, cursor.Selection)

	// The sender does not hear its own cursor
	expectNone(t, bob, MsgCursorPosition)

	editors := engine.Rooms().Get(testDocID).ActiveEditors()
	require.Len(t, editors, 2)
	assert.Equal(t, "alice", editors[0].UserID)
	assert.Equal(t, "bob", editors[1].UserID)
}

func TestOfflineReplay(t *testing.T) {
	engine, db, _ := newTestEngine(t, "")
	ctx := context.Background()
	patcher := diff.New()

	alice := newTestSession("alice", "Alice")
	bob := newTestSession("bob", "Bob")
	require.NoError(t, engine.HandleJoin(ctx, alice, testDocID))
	require.NoError(t, engine.HandleJoin(ctx, bob, testDocID))
	drain(alice)
	drain(bob)

	// Bundles produced sequentially offline, pushed out of order
	edits := []struct {
		ts    int64
		patch string
	}{
		{300, patcher.MakePatch("ab", "abc")},
		{100, patcher.MakePatch("", "a")},
		{200, patcher.MakePatch("a", "ab")},
	}
	for _, e := range edits {
		require.NoError(t, engine.SaveOfflineEdit(ctx, alice, testDocID, e.patch, e.ts))
		recv(t, alice, MsgOfflineEditSaved, nil)
	}

	require.NoError(t, engine.SyncOfflineEdits(ctx, alice, testDocID))

	// The initiator gets the room broadcasts first, then its reply
	var updated DocumentUpdatedPayload
	recv(t, alice, MsgDocumentUpdated, &updated)
	assert.Equal(t, "abc", updated.Content)

	var synced OfflineSyncedPayload
	recv(t, alice, MsgOfflineEditsSynced, &synced)
	assert.True(t, synced.Success)
	assert.Equal(t, 3, synced.Count)

	doc, err := db.GetDocument(ctx, testDocID)
	require.NoError(t, err)
	assert.Equal(t, "abc", doc.Content)
	require.Len(t, doc.Versions, 1)
	assert.Equal(t, "Synced 3 offline edits", doc.Versions[0].Description)

	// Peers get the full text too, with no common base left to patch
	recv(t, bob, MsgDocumentUpdated, &updated)
	assert.Equal(t, "abc", updated.Content)
	recv(t, bob, MsgVersionCreated, nil)
}

func TestOfflineEditsAvailableOnJoin(t *testing.T) {
	engine, _, buf := newTestEngine(t, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Push(ctx, "alice", testDocID, models.OfflineEdit{
			Patches:         "",
			ClientTimestamp: int64(i),
			UserID:          "alice",
		}))
	}

	alice := newTestSession("alice", "Alice")
	require.NoError(t, engine.HandleJoin(ctx, alice, testDocID))

	var avail OfflineAvailablePayload
	recv(t, alice, MsgOfflineEditsAvailable, &avail)
	assert.Equal(t, 3, avail.Count)
}

func TestRevert(t *testing.T) {
	engine, db, _ := newTestEngine(t, "abcX")
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, content := range []string{"a", "ab", "abc"} {
		_, err := db.AppendVersion(ctx, testDocID, models.Version{
			Content:   content,
			AuthorID:  "alice",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	alice := newTestSession("alice", "Alice")
	bob := newTestSession("bob", "Bob")
	require.NoError(t, engine.HandleJoin(ctx, alice, testDocID))
	require.NoError(t, engine.HandleJoin(ctx, bob, testDocID))
	drain(alice)
	drain(bob)

	doc, err := engine.Revert(ctx, "alice", "Alice", testDocID, 1)
	require.NoError(t, err)

	assert.Equal(t, "ab", doc.Content)
	require.Len(t, doc.Versions, 4)
	assert.Equal(t, "ab", doc.Versions[3].Content)
	assert.Equal(t, "Reverted to version 2", doc.Versions[3].Description)
	assert.Equal(t, 3, doc.CurrentVersion)

	var updated DocumentUpdatedPayload
	recv(t, bob, MsgDocumentUpdated, &updated)
	assert.Equal(t, "ab", updated.Content)
	var created VersionCreatedPayload
	recv(t, bob, MsgVersionCreated, &created)
	assert.Equal(t, 3, created.VersionIndex)

	// Reverting again is a content no-op but still appends a version
	doc2, err := engine.Revert(ctx, "alice", "Alice", testDocID, 1)
	require.NoError(t, err)
	assert.Equal(t, "ab", doc2.Content)
	assert.Len(t, doc2.Versions, 5)
}

func TestRevertRejectsBadIndex(t *testing.T) {
	engine, _, _ := newTestEngine(t, "x")
	ctx := context.Background()

	_, err := engine.Revert(ctx, "alice", "Alice", testDocID, 5)
	serr, ok := err.(*models.SyncError)
	require.True(t, ok)
	assert.Equal(t, models.KindNotFound, serr.Kind)
}

func TestChangeRejectedForOutsider(t *testing.T) {
	engine, db, _ := newTestEngine(t, "text")
	ctx := context.Background()

	eve := newTestSession("eve", "Eve")
	err := engine.ApplyChange(ctx, eve, testDocID, diff.New().MakePatch("text", "evil"))
	serr, ok := err.(*models.SyncError)
	require.True(t, ok)
	assert.Equal(t, models.KindForbidden, serr.Kind)
	recv(t, eve, MsgError, nil)

	doc, _ := db.GetDocument(ctx, testDocID)
	assert.Equal(t, "text", doc.Content)
}

func TestChangeOnMissingDocument(t *testing.T) {
	engine, _, _ := newTestEngine(t, "")
	ctx := context.Background()

	alice := newTestSession("alice", "Alice")
	err := engine.ApplyChange(ctx, alice, "no-such-doc", "")
	serr, ok := err.(*models.SyncError)
	require.True(t, ok)
	assert.Equal(t, models.KindNotFound, serr.Kind)

	var msg ErrorPayload
	recv(t, alice, MsgError, &msg)
	assert.Equal(t, "Document not found", msg.Message)
}

func TestChangeWithoutJoinStillSnapshots(t *testing.T) {
	engine, db, _ := newTestEngine(t, "hello")
	ctx := context.Background()
	patcher := diff.New()

	// No join-document first: the change still persists and versions
	alice := newTestSession("alice", "Alice")
	require.NoError(t, engine.ApplyChange(ctx, alice, testDocID, patcher.MakePatch("hello", "hello!")))

	doc, err := db.GetDocument(ctx, testDocID)
	require.NoError(t, err)
	assert.Equal(t, "hello!", doc.Content)
	require.Len(t, doc.Versions, 1)
	assert.Equal(t, "Auto-saved version", doc.Versions[0].Description)
	assert.Equal(t, "hello!", doc.Versions[0].Content)
}

// flakyStore fails selected writes to exercise the engine's error branches
type flakyStore struct {
	*store.Memory
	failHead bool
}

func (s *flakyStore) SaveDocumentHead(ctx context.Context, id, content string, modified time.Time) error {
	if s.failHead {
		return errors.New("write failed")
	}
	return s.Memory.SaveDocumentHead(ctx, id, content, modified)
}

func TestRevertHeadSaveFailureLeavesHistoryIntact(t *testing.T) {
	_, db, buf := newTestEngine(t, "abc")
	engine := NewEngine(&flakyStore{Memory: db, failHead: true}, buf)
	ctx := context.Background()

	_, err := db.AppendVersion(ctx, testDocID, models.Version{
		Content:   "a",
		AuthorID:  "alice",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	_, err = engine.Revert(ctx, "alice", "Alice", testDocID, 0)
	serr, ok := err.(*models.SyncError)
	require.True(t, ok)
	assert.Equal(t, models.KindPersistence, serr.Kind)

	// Nothing committed: content and history read as before
	doc, _ := db.GetDocument(ctx, testDocID)
	assert.Equal(t, "abc", doc.Content)
	assert.Len(t, doc.Versions, 1)
}

func TestSnapshotCadence(t *testing.T) {
	engine, db, _ := newTestEngine(t, "")
	ctx := context.Background()
	patcher := diff.New()

	now := time.Now()
	engine.now = func() time.Time { return now }

	alice := newTestSession("alice", "Alice")
	require.NoError(t, engine.HandleJoin(ctx, alice, testDocID))
	drain(alice)

	// First change snapshots because the history is empty
	require.NoError(t, engine.ApplyChange(ctx, alice, testDocID, patcher.MakePatch("", "a")))
	doc, _ := db.GetDocument(ctx, testDocID)
	require.Len(t, doc.Versions, 1)

	// Within the interval: no new snapshot
	now = now.Add(30 * time.Second)
	require.NoError(t, engine.ApplyChange(ctx, alice, testDocID, patcher.MakePatch("a", "ab")))
	doc, _ = db.GetDocument(ctx, testDocID)
	assert.Len(t, doc.Versions, 1)
	assert.Equal(t, "ab", doc.Content)

	// Past the interval: snapshot again
	now = now.Add(60 * time.Second)
	require.NoError(t, engine.ApplyChange(ctx, alice, testDocID, patcher.MakePatch("ab", "abc")))
	doc, _ = db.GetDocument(ctx, testDocID)
	require.Len(t, doc.Versions, 2)
	assert.Equal(t, "abc", doc.Versions[1].Content)
	assert.Equal(t, doc.CurrentVersion, len(doc.Versions)-1)
}

func TestLeaveDestroysRoomAndEvictsShadow(t *testing.T) {
	engine, _, _ := newTestEngine(t, "hello")
	ctx := context.Background()
	patcher := diff.New()

	alice := newTestSession("alice", "Alice")
	bob := newTestSession("bob", "Bob")
	require.NoError(t, engine.HandleJoin(ctx, alice, testDocID))
	require.NoError(t, engine.HandleJoin(ctx, bob, testDocID))
	require.NoError(t, engine.ApplyChange(ctx, alice, testDocID, patcher.MakePatch("hello", "hello!")))
	drain(alice)
	drain(bob)

	assert.Equal(t, 1, engine.Shadows().Len())

	engine.HandleLeave(ctx, alice, testDocID)
	var left EditorPayload
	recv(t, bob, MsgEditorLeft, &left)
	assert.Equal(t, "alice", left.UserID)
	require.Len(t, left.ActiveEditors, 1)
	assert.Equal(t, "bob", left.ActiveEditors[0].UserID)
	assert.Equal(t, 1, engine.Rooms().RoomCount())

	engine.Disconnect(ctx, bob)
	assert.Equal(t, 0, engine.Rooms().RoomCount())
	assert.Equal(t, 0, engine.Shadows().Len())
}

// Concurrent edits on one document must serialize: every acknowledged
// insert shows up in the final content.
func TestConcurrentChangesSerialize(t *testing.T) {
	engine, db, _ := newTestEngine(t, "")
	ctx := context.Background()
	patcher := diff.New()

	const writers = 8
	const editsPerWriter = 10

	// An insert-at-front bundle with no context applies against any text
	insert := patcher.MakePatch("", "x")

	sessions := make([]*Session, writers)
	users := []string{"alice", "bob"}
	for i := range sessions {
		uid := users[i%len(users)]
		sessions[i] = newTestSession(uid, uid)
		require.NoError(t, engine.HandleJoin(ctx, sessions[i], testDocID))
	}

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			for j := 0; j < editsPerWriter; j++ {
				// Sinks fill up under this load; queued events are not
				// consumed, so errors here would only be queue-related.
				engine.ApplyChange(ctx, sess, testDocID, insert)
			}
		}(sess)
	}
	wg.Wait()

	doc, err := db.GetDocument(ctx, testDocID)
	require.NoError(t, err)
	assert.Len(t, doc.Content, writers*editsPerWriter,
		fmt.Sprintf("every committed insert must survive, got %q", doc.Content))
}
