package repository

import (
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cesarh1094/chotion/internal/errs"
	"github.com/cesarh1094/chotion/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestAppendUpdateLocksAndBumps(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT last_seq FROM documents").
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(7))
	mock.ExpectExec("INSERT INTO updates").
		WithArgs("d1", int64(8), []byte("delta"), "alice", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE documents SET last_seq").
		WithArgs(int64(8), "d1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	seq, err := repo.AppendUpdate("d1", []byte("delta"), "alice", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendUpdateMissingDocumentRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT last_seq FROM documents").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}))
	mock.ExpectRollback()

	_, err := repo.AppendUpdate("ghost", []byte("delta"), "alice", "c1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadUpdatesClampsLimit(t *testing.T) {
	repo, mock := newMockRepo(t)
	empty := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"document_id", "seq", "payload", "author_id", "client_id", "created_at"})
	}

	// Zero means the default page size.
	mock.ExpectQuery("SELECT document_id, seq, payload").
		WithArgs("d1", int64(0), DefaultReadLimit).
		WillReturnRows(empty())
	_, err := repo.ReadUpdates("d1", 0, 0)
	require.NoError(t, err)

	// Oversized requests are clamped to the cap.
	mock.ExpectQuery("SELECT document_id, seq, payload").
		WithArgs("d1", int64(10), MaxReadLimit).
		WillReturnRows(empty())
	_, err = repo.ReadUpdates("d1", 10, 10000)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMembershipSkipsQueryForAnonymous(t *testing.T) {
	repo, mock := newMockRepo(t)

	m, err := repo.GetMembership("d1", "")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPresenceFiltersByCutoff(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, document_id, user_id, name, COALESCE").
		WithArgs("d1", cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "user_id", "name", "image", "updated_at"}).
			AddRow("p1", "d1", "u1", "User One", "", cutoff.Add(time.Second)))

	present, err := repo.ListPresence("d1", cutoff)
	require.NoError(t, err)
	require.Len(t, present, 1)
	assert.Equal(t, "u1", present[0].UserID)
}
