package socket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesarh1094/chotion/internal/access"
	"github.com/cesarh1094/chotion/internal/document/model"
	"github.com/cesarh1094/chotion/internal/document/repository"
	"github.com/cesarh1094/chotion/internal/document/service"
	"github.com/cesarh1094/chotion/middleware"
	"github.com/cesarh1094/chotion/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Setenv("JWT_SECRET", "socket-test-secret")
	os.Exit(m.Run())
}

type testEnv struct {
	mock   sqlmock.Sqlmock
	wsURL  string
	docs   *service.DocumentService
	collab *service.CollabService
}

// newTestEnv wires a mock-backed repository, the hub and the websocket route
// the way main does. Expectations are unordered because heartbeats, presence
// broadcasts and the sync catch-up run concurrently.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	repo := repository.New(db)
	hub := NewHub(repo)
	go hub.Run()

	docs := service.NewDocumentService(repo, hub)
	collab := service.NewCollabService(repo, hub)
	presence := service.NewPresenceService(repo, hub)

	server := httptest.NewServer(middleware.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, docs, collab, presence, w, r)
	})))
	t.Cleanup(server.Close)

	return &testEnv{
		mock:   mock,
		wsURL:  "ws" + strings.TrimPrefix(server.URL, "http"),
		docs:   docs,
		collab: collab,
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	var msg WSMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read frame from WebSocket")
	require.NoError(t, json.Unmarshal(p, &msg), "Failed to unmarshal WSMessage JSON")
	return msg
}

func signTestToken(t *testing.T, userID, name string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID, "name": name})
	signed, err := token.SignedString([]byte("socket-test-secret"))
	require.NoError(t, err)
	return signed
}

func expectPublicDoc(mock sqlmock.Sqlmock, docID, ownerID string, lastSeq int64) {
	mock.ExpectQuery("SELECT id, title, owner_id, visibility, last_seq, updated_at FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "owner_id", "visibility", "last_seq", "updated_at"}).
			AddRow(docID, "Doc", ownerID, "public", lastSeq, time.Now()))
}

func expectNoMembership(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT document_id, user_id, role, added_at FROM memberships").
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "user_id", "role", "added_at"}))
}

func expectEmptyUpdates(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT document_id, seq, payload, author_id, client_id, created_at").
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "seq", "payload", "author_id", "client_id", "created_at"}))
}

func expectEmptyPresence(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT id, document_id, user_id, name, COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "user_id", "name", "image", "updated_at"}))
}

// One anonymous session joining: the pre-upgrade view check, the sync
// catch-up page and the register-time presence broadcast.
func expectAnonymousJoin(mock sqlmock.Sqlmock, docID, ownerID string) {
	expectPublicDoc(mock, docID, ownerID, 0)
	expectPublicDoc(mock, docID, ownerID, 0)
	expectEmptyUpdates(mock)
	expectEmptyPresence(mock)
}

func expectAppendTx(mock sqlmock.Sqlmock, nextSeq int64) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT last_seq FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(nextSeq - 1))
	mock.ExpectExec("INSERT INTO updates").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE documents SET last_seq").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestViewersReceiveCommittedUpdates(t *testing.T) {
	env := newTestEnv(t)
	docID := "doc-1"

	// Register every expectation before the first dial: session goroutines
	// keep querying the mock concurrently once a connection is up.
	expectAnonymousJoin(env.mock, docID, "alice")
	expectAnonymousJoin(env.mock, docID, "alice")
	expectPublicDoc(env.mock, docID, "alice", 0)
	expectNoMembership(env.mock)
	expectAppendTx(env.mock, 1)

	conn1, _, err := websocket.DefaultDialer.Dial(env.wsURL+"/ws?docId="+docID, nil)
	require.NoError(t, err, "Viewer 1 failed to connect")
	defer conn1.Close()
	assert.Equal(t, PresenceUpdateType, readFrame(t, conn1).Type)

	conn2, _, err := websocket.DefaultDialer.Dial(env.wsURL+"/ws?docId="+docID, nil)
	require.NoError(t, err, "Viewer 2 failed to connect")
	defer conn2.Close()
	assert.Equal(t, PresenceUpdateType, readFrame(t, conn2).Type)
	assert.Equal(t, PresenceUpdateType, readFrame(t, conn1).Type)

	// The owner commits an update through the HTTP path; both live viewers
	// should hear about it without polling.
	owner := access.Edit{Caller: access.Identity{UserID: "alice", Name: "Alice"}}
	payload := []byte(`{"insert":"hello"}`)
	seq, err := env.collab.SubmitUpdate(owner, docID, payload, "publisher-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		frame := readFrame(t, conn)
		assert.Equal(t, UpdateType, frame.Type)
		assert.Equal(t, docID, frame.DocID)
		assert.Equal(t, "alice", frame.UserID)

		var update model.Update
		require.NoError(t, json.Unmarshal(frame.Payload, &update))
		assert.Equal(t, int64(1), update.Seq)
		assert.Equal(t, "publisher-1", update.ClientID)
		assert.JSONEq(t, string(payload), string(update.Payload))
	}

	// Cursor frames are relayed to everyone but the sender, with no storage.
	cursor, _ := json.Marshal(WSMessage{Type: CursorType, Payload: json.RawMessage(`{"pos":7}`)})
	require.NoError(t, conn2.WriteMessage(websocket.TextMessage, cursor))
	frame := readFrame(t, conn1)
	assert.Equal(t, CursorType, frame.Type)
	assert.JSONEq(t, `{"pos":7}`, string(frame.Payload))

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestEditorSessionEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	docID := "doc-2"

	// Register every expectation before the first dial: session goroutines
	// keep querying the mock concurrently once a connection is up. The
	// owner's join runs the view check, a heartbeat with the owner-only
	// presence sweep, the sync catch-up and the register broadcast; then an
	// anonymous viewer joins, and the editor's flush commits one update.
	expectPublicDoc(env.mock, docID, "alice", 0)
	expectNoMembership(env.mock)
	expectPublicDoc(env.mock, docID, "alice", 0)
	expectNoMembership(env.mock)
	env.mock.ExpectQuery("INSERT INTO presence").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1"))
	expectPublicDoc(env.mock, docID, "alice", 0)
	env.mock.ExpectExec("DELETE FROM presence").WillReturnResult(sqlmock.NewResult(0, 0))
	expectPublicDoc(env.mock, docID, "alice", 0)
	expectNoMembership(env.mock)
	expectEmptyUpdates(env.mock)
	expectEmptyPresence(env.mock) // register broadcast
	expectEmptyPresence(env.mock) // heartbeat broadcast
	expectAnonymousJoin(env.mock, docID, "alice")
	expectPublicDoc(env.mock, docID, "alice", 0)
	expectNoMembership(env.mock)
	expectAppendTx(env.mock, 1)

	editor, _, err := websocket.DefaultDialer.Dial(
		env.wsURL+"/ws?docId="+docID+"&token="+signTestToken(t, "alice", "Alice"), nil)
	require.NoError(t, err, "Editor failed to connect")
	defer editor.Close()
	assert.Equal(t, PresenceUpdateType, readFrame(t, editor).Type)
	assert.Equal(t, PresenceUpdateType, readFrame(t, editor).Type)

	viewer, _, err := websocket.DefaultDialer.Dial(env.wsURL+"/ws?docId="+docID, nil)
	require.NoError(t, err, "Viewer failed to connect")
	defer viewer.Close()
	assert.Equal(t, PresenceUpdateType, readFrame(t, viewer).Type)
	assert.Equal(t, PresenceUpdateType, readFrame(t, editor).Type)

	// The editor types. The session's sync client debounces, flushes through
	// the guarded append path and the commit fans out to the viewer.
	payload := `{"insert":"hi"}`
	edit, _ := json.Marshal(WSMessage{Type: EditType, Payload: json.RawMessage(payload)})
	require.NoError(t, editor.WriteMessage(websocket.TextMessage, edit))

	frame := readFrame(t, viewer)
	assert.Equal(t, UpdateType, frame.Type)
	assert.Equal(t, "alice", frame.UserID)
	var update model.Update
	require.NoError(t, json.Unmarshal(frame.Payload, &update))
	assert.Equal(t, int64(1), update.Seq)
	assert.JSONEq(t, payload, string(update.Payload))

	// The editor must not get its own write echoed back.
	editor.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err = editor.ReadMessage()
	assert.Error(t, err, "Editor received an echo of its own update")

	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRemovedDocumentEvictsSessions(t *testing.T) {
	env := newTestEnv(t)
	docID := "doc-3"

	// Register every expectation before the dial: the session's goroutines
	// keep querying the mock concurrently once the connection is up.
	expectAnonymousJoin(env.mock, docID, "alice")
	expectPublicDoc(env.mock, docID, "alice", 0)
	env.mock.ExpectBegin()
	env.mock.ExpectExec("DELETE FROM updates").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectExec("DELETE FROM memberships").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectExec("DELETE FROM presence").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectExec("DELETE FROM documents").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL+"/ws?docId="+docID, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, PresenceUpdateType, readFrame(t, conn).Type)

	owner := access.Edit{Caller: access.Identity{UserID: "alice"}}
	require.NoError(t, env.docs.Remove(owner, docID))

	frame := readFrame(t, conn)
	assert.Equal(t, RemovedType, frame.Type)
	assert.Equal(t, docID, frame.DocID)

	// The server closes the connection after the eviction notice.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	assert.NoError(t, env.mock.ExpectationsWereMet())
}
