package service

import (
	"errors"
	"time"

	"github.com/cesarh1094/chotion/internal/access"
	"github.com/cesarh1094/chotion/internal/document/model"
	"github.com/cesarh1094/chotion/internal/document/repository"
	"github.com/cesarh1094/chotion/internal/errs"
)

// PresenceTTL is how long a row counts as "present" after its last
// heartbeat. Rows older than twice the TTL are eligible for the sweep.
const PresenceTTL = 30 * time.Second

type PresenceService struct {
	Repo     *repository.Repository
	Notifier Notifier

	// Now is swapped out in tests to pin the TTL boundaries.
	Now func() time.Time
}

func NewPresenceService(repo *repository.Repository, notifier Notifier) *PresenceService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &PresenceService{Repo: repo, Notifier: notifier, Now: time.Now}
}

// Heartbeat refreshes the caller's liveness row and returns its id. Any
// caller who can view the document may announce presence on it.
func (s *PresenceService) Heartbeat(caller access.Edit, docID string) (string, error) {
	doc, err := s.Repo.GetDocument(docID)
	if err != nil {
		return "", err
	}
	member, err := s.Repo.GetMembership(docID, caller.Caller.UserID)
	if err != nil {
		return "", err
	}
	if !access.CanView(doc, member, &caller.Caller) {
		return "", errs.ErrForbidden
	}

	id, err := s.Repo.UpsertPresence(docID, caller.Caller.UserID, caller.Caller.Name, caller.Caller.Image)
	if err != nil {
		return "", err
	}
	s.Notifier.PresenceChanged(docID)
	return id, nil
}

// List returns who is live on the document right now, freshest first.
// Missing documents and callers without access get an empty list.
func (s *PresenceService) List(caller access.View, docID string) ([]model.Presence, error) {
	doc, err := s.Repo.GetDocument(docID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	member, err := s.Repo.GetMembership(docID, caller.UserID())
	if err != nil {
		return nil, err
	}
	if !access.CanView(doc, member, caller.Caller) {
		return nil, nil
	}
	return s.Repo.ListPresence(docID, s.Now().Add(-PresenceTTL))
}

// Leave drops the caller's own row. Idempotent.
func (s *PresenceService) Leave(caller access.Edit, docID string) error {
	if err := s.Repo.DeletePresence(docID, caller.Caller.UserID); err != nil {
		return err
	}
	s.Notifier.PresenceChanged(docID)
	return nil
}

// Cleanup is the owner-only amortized sweep: it deletes rows that have been
// stale for at least twice the TTL. It is triggered opportunistically by
// client activity, not by a background scheduler.
func (s *PresenceService) Cleanup(caller access.Edit, docID string) error {
	doc, err := s.Repo.GetDocument(docID)
	if err != nil {
		return err
	}
	if doc.OwnerID != caller.Caller.UserID {
		return errs.ErrForbidden
	}
	_, err = s.Repo.SweepPresence(docID, s.Now().Add(-2*PresenceTTL))
	return err
}
