package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/cesarh1094/chotion/internal/document/model"
	"github.com/cesarh1094/chotion/internal/errs"
	"github.com/cesarh1094/chotion/pkg/logger"
)

const (
	// MaxReadLimit caps one page of the update log.
	MaxReadLimit = 512
	// DefaultReadLimit applies when the caller does not specify a limit.
	DefaultReadLimit = 128
)

// AppendUpdate assigns the next sequence number for the document and inserts
// the update, all in one transaction. The SELECT ... FOR UPDATE on the
// document row serializes concurrent appends, so N racing calls always
// produce the seq values lastSeq+1 .. lastSeq+N with no gap or collision.
func (r *Repository) AppendUpdate(docID string, payload []byte, authorID, clientID string) (int64, error) {
	tx, err := r.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var lastSeq int64
	err = tx.QueryRow(`SELECT last_seq FROM documents WHERE id = $1 FOR UPDATE`, docID).Scan(&lastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errs.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to lock document %s for append: %v", docID, err)
		return 0, err
	}

	next := lastSeq + 1
	if _, err := tx.Exec(`INSERT INTO updates (document_id, seq, payload, author_id, client_id, created_at) VALUES ($1, $2, $3, $4, $5, NOW())`,
		docID, next, payload, authorID, clientID); err != nil {
		logger.Sugar.Errorf("Failed to insert update %d for doc %s: %v", next, docID, err)
		return 0, err
	}
	if _, err := tx.Exec(`UPDATE documents SET last_seq = $1, updated_at = NOW() WHERE id = $2`, next, docID); err != nil {
		logger.Sugar.Errorf("Failed to bump last_seq for doc %s: %v", docID, err)
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

// ReadUpdates returns updates with seq > afterSeq in ascending seq order.
// The page size is clamped to MaxReadLimit; zero means DefaultReadLimit.
func (r *Repository) ReadUpdates(docID string, afterSeq int64, limit int) ([]model.Update, error) {
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	if limit > MaxReadLimit {
		limit = MaxReadLimit
	}

	rows, err := r.DB.Query(`
		SELECT document_id, seq, payload, author_id, client_id, created_at
		FROM updates
		WHERE document_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3`, docID, afterSeq, limit)
	if err != nil {
		logger.Sugar.Errorf("Failed to read updates for doc %s: %v", docID, err)
		return nil, err
	}
	defer rows.Close()

	var updates []model.Update
	for rows.Next() {
		var u model.Update
		if err := rows.Scan(&u.DocID, &u.Seq, &u.Payload, &u.AuthorID, &u.ClientID, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}
