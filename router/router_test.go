package router

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesarh1094/chotion/internal/document/repository"
	"github.com/cesarh1094/chotion/pkg/logger"
	"github.com/cesarh1094/chotion/socket"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Setenv("JWT_SECRET", "router-test-secret")
	os.Exit(m.Run())
}

func newTestRouter(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := repository.New(db)
	hub := socket.NewHub(repo)
	go hub.Run()
	return Setup(repo, hub), mock
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID})
	signed, err := token.SignedString([]byte("router-test-secret"))
	require.NoError(t, err)
	return "Bearer " + signed
}

func do(handler http.Handler, method, path, auth, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMutationsRequireAuth(t *testing.T) {
	handler, _ := newTestRouter(t)

	for _, path := range []string{
		"/api/documents/create",
		"/api/documents/delete",
		"/api/collab/submit",
		"/api/presence/heartbeat",
		"/api/documents/invite",
	} {
		rec := do(handler, http.MethodPost, path, "", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestGetDocumentDegradesToNull(t *testing.T) {
	handler, mock := newTestRouter(t)

	// Missing document: 200 with a null body, so a rendering pass that races
	// a delete still succeeds.
	mock.ExpectQuery("SELECT id, title, owner_id, visibility, last_seq, updated_at FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "owner_id", "visibility", "last_seq", "updated_at"}))

	rec := do(handler, http.MethodGet, "/api/documents/get?docId=ghost", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestCORSPreflight(t *testing.T) {
	handler, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/documents", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListDocumentsReturnsEmptyArray(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery("SELECT DISTINCT d.id, d.title, d.owner_id, d.visibility, d.updated_at").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "owner_id", "visibility", "updated_at"}))

	rec := do(handler, http.MethodGet, "/api/documents", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestSubmitUpdateStatusMapping(t *testing.T) {
	handler, mock := newTestRouter(t)
	body := `{"document_id":"d1","payload":"ZGVsdGE=","client_id":"c1"}`

	// A viewer member gets 403.
	mock.ExpectQuery("SELECT id, title, owner_id, visibility, last_seq, updated_at FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "owner_id", "visibility", "last_seq", "updated_at"}).
			AddRow("d1", "Doc", "bob", "private", 0, time.Now()))
	mock.ExpectQuery("SELECT document_id, user_id, role, added_at FROM memberships").
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "user_id", "role", "added_at"}).
			AddRow("d1", "carol", "viewer", time.Now()))
	rec := do(handler, http.MethodPost, "/api/collab/submit", bearer(t, "carol"), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A missing document gets 404.
	mock.ExpectQuery("SELECT id, title, owner_id, visibility, last_seq, updated_at FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "owner_id", "visibility", "last_seq", "updated_at"}))
	rec = do(handler, http.MethodPost, "/api/collab/submit", bearer(t, "carol"), body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// An empty payload gets 400 before any query runs.
	rec = do(handler, http.MethodPost, "/api/collab/submit", bearer(t, "carol"),
		`{"document_id":"d1","client_id":"c1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitUpdateCommits(t *testing.T) {
	handler, mock := newTestRouter(t)

	mock.ExpectQuery("SELECT id, title, owner_id, visibility, last_seq, updated_at FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "owner_id", "visibility", "last_seq", "updated_at"}).
			AddRow("d1", "Doc", "alice", "private", 3, time.Now()))
	mock.ExpectQuery("SELECT document_id, user_id, role, added_at FROM memberships").
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "user_id", "role", "added_at"}))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT last_seq FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(3))
	mock.ExpectExec("INSERT INTO updates").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE documents SET last_seq").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := do(handler, http.MethodPost, "/api/collab/submit", bearer(t, "alice"),
		`{"document_id":"d1","payload":"ZGVsdGE=","client_id":"c1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"seq":4}`, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
