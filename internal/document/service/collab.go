package service

import (
	"errors"
	"fmt"

	"github.com/cesarh1094/chotion/internal/access"
	"github.com/cesarh1094/chotion/internal/document/model"
	"github.com/cesarh1094/chotion/internal/document/repository"
	"github.com/cesarh1094/chotion/internal/errs"
)

// CollabService guards the append-only update log.
type CollabService struct {
	Repo     *repository.Repository
	Notifier Notifier
}

func NewCollabService(repo *repository.Repository, notifier Notifier) *CollabService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &CollabService{Repo: repo, Notifier: notifier}
}

// SubmitUpdate appends one payload to the document's log and returns the
// assigned seq. The committed update is handed to the notifier so live
// sessions hear about it without polling.
func (s *CollabService) SubmitUpdate(caller access.Edit, docID string, payload []byte, clientID string) (int64, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("%w: empty payload", errs.ErrInvalidArgument)
	}
	if clientID == "" {
		return 0, fmt.Errorf("%w: missing client id", errs.ErrInvalidArgument)
	}

	doc, err := s.Repo.GetDocument(docID)
	if err != nil {
		return 0, err
	}
	member, err := s.Repo.GetMembership(docID, caller.Caller.UserID)
	if err != nil {
		return 0, err
	}
	if !access.CanEdit(doc, member, &caller.Caller) {
		return 0, errs.ErrForbidden
	}

	seq, err := s.Repo.AppendUpdate(docID, payload, caller.Caller.UserID, clientID)
	if err != nil {
		return 0, err
	}

	s.Notifier.UpdateCommitted(model.Update{
		DocID:    docID,
		Seq:      seq,
		Payload:  payload,
		AuthorID: caller.Caller.UserID,
		ClientID: clientID,
	})
	return seq, nil
}

// ListUpdates returns updates with seq > afterSeq in seq order. Missing
// documents and callers without view access get an empty page, not an error.
func (s *CollabService) ListUpdates(caller access.View, docID string, afterSeq int64, limit int) ([]model.Update, error) {
	if afterSeq < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: afterSeq %d limit %d", errs.ErrInvalidArgument, afterSeq, limit)
	}
	if ok, err := s.viewable(caller, docID); err != nil || !ok {
		return nil, err
	}
	return s.Repo.ReadUpdates(docID, afterSeq, limit)
}

// CurrentSeq returns the document's last assigned seq, or 0 when the
// document is absent or not visible to the caller.
func (s *CollabService) CurrentSeq(caller access.View, docID string) (int64, error) {
	doc, err := s.Repo.GetDocument(docID)
	if errors.Is(err, errs.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	member, err := s.Repo.GetMembership(docID, caller.UserID())
	if err != nil {
		return 0, err
	}
	if !access.CanView(doc, member, caller.Caller) {
		return 0, nil
	}
	return doc.LastSeq, nil
}

func (s *CollabService) viewable(caller access.View, docID string) (bool, error) {
	doc, err := s.Repo.GetDocument(docID)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	member, err := s.Repo.GetMembership(docID, caller.UserID())
	if err != nil {
		return false, err
	}
	return access.CanView(doc, member, caller.Caller), nil
}
