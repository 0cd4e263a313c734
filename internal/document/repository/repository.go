// Package repository owns all SQL. Permission decisions live in the service
// layer; methods here assume the caller has already been authorized.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/cesarh1094/chotion/internal/document/model"
	"github.com/cesarh1094/chotion/internal/errs"
	"github.com/cesarh1094/chotion/pkg/logger"
)

type Repository struct {
	DB *sql.DB
}

func New(db *sql.DB) *Repository {
	return &Repository{DB: db}
}

func (r *Repository) CreateDocument(doc *model.Document) error {
	_, err := r.DB.Exec(`INSERT INTO documents (id, title, owner_id, visibility, last_seq, updated_at) VALUES ($1, $2, $3, $4, 0, NOW())`,
		doc.ID, doc.Title, doc.OwnerID, doc.Visibility)
	if err != nil {
		logger.Sugar.Errorf("Failed to create document: %v", err)
	}
	return err
}

// GetDocument returns errs.ErrNotFound when no row exists.
func (r *Repository) GetDocument(docID string) (*model.Document, error) {
	var doc model.Document
	err := r.DB.QueryRow(`SELECT id, title, owner_id, visibility, last_seq, updated_at FROM documents WHERE id = $1`, docID).
		Scan(&doc.ID, &doc.Title, &doc.OwnerID, &doc.Visibility, &doc.LastSeq, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get document %s: %v", docID, err)
		return nil, err
	}
	return &doc, nil
}

func (r *Repository) UpdateTitle(docID, title string) error {
	_, err := r.DB.Exec(`UPDATE documents SET title = $1, updated_at = NOW() WHERE id = $2`, title, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to update title for doc %s: %v", docID, err)
	}
	return err
}

func (r *Repository) SetVisibility(docID string, visibility model.Visibility) error {
	_, err := r.DB.Exec(`UPDATE documents SET visibility = $1, updated_at = NOW() WHERE id = $2`, visibility, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to set visibility for doc %s: %v", docID, err)
	}
	return err
}

// DeleteDocument removes the document and every row owned by it in one
// transaction, so a half-deleted document is never observable.
func (r *Repository) DeleteDocument(docID string) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM updates WHERE document_id = $1`,
		`DELETE FROM memberships WHERE document_id = $1`,
		`DELETE FROM presence WHERE document_id = $1`,
		`DELETE FROM documents WHERE id = $1`,
	} {
		if _, err := tx.Exec(stmt, docID); err != nil {
			logger.Sugar.Errorf("Failed to delete doc %s: %v", docID, err)
			return err
		}
	}
	return tx.Commit()
}

// ListAccessible returns documents the given user may see: public documents
// always, plus owned and member documents when userID is non-empty. Rows are
// distinct by id and ordered by updated_at descending.
func (r *Repository) ListAccessible(userID string) ([]model.DocumentSummary, error) {
	rows, err := r.DB.Query(`
		SELECT DISTINCT d.id, d.title, d.owner_id, d.visibility, d.updated_at
		FROM documents d
		LEFT JOIN memberships m ON d.id = m.document_id AND m.user_id = $1
		WHERE d.visibility = 'public' OR d.owner_id = $1 OR m.user_id IS NOT NULL
		ORDER BY d.updated_at DESC`, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list documents for user %q: %v", userID, err)
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows, userID)
}

// SearchByTitle is the title-substring search mode of doc.list. Results are
// not access-filtered here; the service re-checks each row through the guard.
func (r *Repository) SearchByTitle(query string) ([]model.DocumentSummary, error) {
	rows, err := r.DB.Query(`
		SELECT id, title, owner_id, visibility, updated_at
		FROM documents
		WHERE title ILIKE '%' || $1 || '%'
		ORDER BY updated_at DESC`, query)
	if err != nil {
		logger.Sugar.Errorf("Failed to search documents for %q: %v", query, err)
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows, "")
}

func scanSummaries(rows *sql.Rows, userID string) ([]model.DocumentSummary, error) {
	var docs []model.DocumentSummary
	for rows.Next() {
		var d model.DocumentSummary
		if err := rows.Scan(&d.ID, &d.Title, &d.OwnerID, &d.Visibility, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document summary: %w", err)
		}
		d.IsOwner = userID != "" && d.OwnerID == userID
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetMembership returns (nil, nil) when the user has no membership row.
func (r *Repository) GetMembership(docID, userID string) (*model.Membership, error) {
	if userID == "" {
		return nil, nil
	}
	var m model.Membership
	err := r.DB.QueryRow(`SELECT document_id, user_id, role, added_at FROM memberships WHERE document_id = $1 AND user_id = $2`, docID, userID).
		Scan(&m.DocID, &m.UserID, &m.Role, &m.AddedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get membership for user %s on doc %s: %v", userID, docID, err)
		return nil, err
	}
	return &m, nil
}

// UpsertMembership adds the member or, when one already exists, updates the
// role in place.
func (r *Repository) UpsertMembership(docID, userID string, role model.Role) error {
	_, err := r.DB.Exec(`INSERT INTO memberships (document_id, user_id, role, added_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (document_id, user_id) DO UPDATE SET role = $3`, docID, userID, role)
	if err != nil {
		logger.Sugar.Errorf("Failed to add member %s to doc %s: %v", userID, docID, err)
	}
	return err
}

func (r *Repository) UpdateMembershipRole(docID, userID string, role model.Role) (int64, error) {
	res, err := r.DB.Exec(`UPDATE memberships SET role = $1 WHERE document_id = $2 AND user_id = $3`, role, docID, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to update role for member %s on doc %s: %v", userID, docID, err)
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) RemoveMembership(docID, userID string) (int64, error) {
	res, err := r.DB.Exec(`DELETE FROM memberships WHERE document_id = $1 AND user_id = $2`, docID, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to remove member %s from doc %s: %v", userID, docID, err)
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) ListMemberships(docID string) ([]model.Membership, error) {
	rows, err := r.DB.Query(`SELECT document_id, user_id, role, added_at FROM memberships WHERE document_id = $1 ORDER BY added_at ASC`, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list members for doc %s: %v", docID, err)
		return nil, err
	}
	defer rows.Close()

	var members []model.Membership
	for rows.Next() {
		var m model.Membership
		if err := rows.Scan(&m.DocID, &m.UserID, &m.Role, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// MembershipDocIDs returns the set of document ids the user is a member of,
// used to access-filter search results without a per-row query.
func (r *Repository) MembershipDocIDs(userID string) (map[string]bool, error) {
	rows, err := r.DB.Query(`SELECT document_id FROM memberships WHERE user_id = $1`, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list membership docs for user %s: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}
