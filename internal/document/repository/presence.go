package repository

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cesarh1094/chotion/internal/document/model"
	"github.com/cesarh1094/chotion/pkg/logger"
)

// UpsertPresence refreshes the liveness row for (docID, userID) and returns
// its id. The id is minted on first insert and stable across heartbeats.
func (r *Repository) UpsertPresence(docID, userID, name, image string) (string, error) {
	var id string
	err := r.DB.QueryRow(`
		INSERT INTO presence (id, document_id, user_id, name, image, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (document_id, user_id)
		DO UPDATE SET name = EXCLUDED.name, image = EXCLUDED.image, updated_at = NOW()
		RETURNING id`,
		uuid.NewString(), docID, userID, name, nullable(image)).Scan(&id)
	if err != nil {
		logger.Sugar.Errorf("Failed to upsert presence for user %s on doc %s: %v", userID, docID, err)
		return "", err
	}
	return id, nil
}

// ListPresence returns rows fresher than cutoff, most recent first.
func (r *Repository) ListPresence(docID string, cutoff time.Time) ([]model.Presence, error) {
	rows, err := r.DB.Query(`
		SELECT id, document_id, user_id, name, COALESCE(image, ''), updated_at
		FROM presence
		WHERE document_id = $1 AND updated_at > $2
		ORDER BY updated_at DESC`, docID, cutoff)
	if err != nil {
		logger.Sugar.Errorf("Failed to list presence for doc %s: %v", docID, err)
		return nil, err
	}
	defer rows.Close()

	var present []model.Presence
	for rows.Next() {
		var p model.Presence
		if err := rows.Scan(&p.ID, &p.DocID, &p.UserID, &p.Name, &p.Image, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		present = append(present, p)
	}
	return present, rows.Err()
}

// DeletePresence is idempotent; deleting an absent row is not an error.
func (r *Repository) DeletePresence(docID, userID string) error {
	_, err := r.DB.Exec(`DELETE FROM presence WHERE document_id = $1 AND user_id = $2`, docID, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete presence for user %s on doc %s: %v", userID, docID, err)
	}
	return err
}

// SweepPresence deletes rows last updated at or before cutoff.
func (r *Repository) SweepPresence(docID string, cutoff time.Time) (int64, error) {
	res, err := r.DB.Exec(`DELETE FROM presence WHERE document_id = $1 AND updated_at <= $2`, docID, cutoff)
	if err != nil {
		logger.Sugar.Errorf("Failed to sweep presence for doc %s: %v", docID, err)
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
