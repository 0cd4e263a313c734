// Package service applies the access guard to every operation and keeps the
// SSR-safety contract: read paths degrade to empty/nil results on missing
// access, mutation paths raise.
package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cesarh1094/chotion/internal/access"
	"github.com/cesarh1094/chotion/internal/document/model"
	"github.com/cesarh1094/chotion/internal/document/repository"
	"github.com/cesarh1094/chotion/internal/errs"
)

// Notifier fans committed changes out to live sessions. The websocket hub
// implements it; tests pass a no-op.
type Notifier interface {
	UpdateCommitted(u model.Update)
	PresenceChanged(docID string)
	DocumentRemoved(docID string)
}

// NopNotifier satisfies Notifier and drops everything.
type NopNotifier struct{}

func (NopNotifier) UpdateCommitted(model.Update) {}
func (NopNotifier) PresenceChanged(string)       {}
func (NopNotifier) DocumentRemoved(string)       {}

type DocumentService struct {
	Repo     *repository.Repository
	Notifier Notifier
}

func NewDocumentService(repo *repository.Repository, notifier Notifier) *DocumentService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &DocumentService{Repo: repo, Notifier: notifier}
}

// Create makes the caller the owner of a new private document.
func (s *DocumentService) Create(caller access.Edit, title string, visibility model.Visibility) (string, error) {
	if title == "" {
		title = "Untitled Document"
	}
	if visibility == "" {
		visibility = model.VisibilityPrivate
	}
	if !visibility.Valid() {
		return "", fmt.Errorf("%w: visibility %q", errs.ErrInvalidArgument, visibility)
	}

	doc := &model.Document{
		ID:         uuid.NewString(),
		Title:      title,
		OwnerID:    caller.Caller.UserID,
		Visibility: visibility,
	}
	if err := s.Repo.CreateDocument(doc); err != nil {
		return "", err
	}
	return doc.ID, nil
}

// Get returns the document plus the caller's effective rights, or (nil, nil)
// when the document is missing or not visible to the caller.
func (s *DocumentService) Get(caller access.View, docID string) (*model.DocumentView, error) {
	doc, member, err := s.fetch(docID, caller.UserID())
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !access.CanView(doc, member, caller.Caller) {
		return nil, nil
	}
	return &model.DocumentView{
		Document: *doc,
		IsOwner:  caller.UserID() != "" && caller.UserID() == doc.OwnerID,
		CanEdit:  access.CanEdit(doc, member, caller.Caller),
	}, nil
}

// List returns the documents visible to the caller, newest first. A
// non-empty query switches to title-substring search, re-filtered through
// the guard so search never widens access.
func (s *DocumentService) List(caller access.View, query string) ([]model.DocumentSummary, error) {
	if query == "" {
		return s.Repo.ListAccessible(caller.UserID())
	}

	results, err := s.Repo.SearchByTitle(query)
	if err != nil {
		return nil, err
	}

	memberOf := map[string]bool{}
	if caller.UserID() != "" {
		if memberOf, err = s.Repo.MembershipDocIDs(caller.UserID()); err != nil {
			return nil, err
		}
	}

	visible := make([]model.DocumentSummary, 0, len(results))
	for _, d := range results {
		doc := &model.Document{ID: d.ID, OwnerID: d.OwnerID, Visibility: d.Visibility}
		var member *model.Membership
		if memberOf[d.ID] {
			member = &model.Membership{DocID: d.ID, UserID: caller.UserID()}
		}
		if access.CanView(doc, member, caller.Caller) {
			d.IsOwner = caller.UserID() != "" && d.OwnerID == caller.UserID()
			visible = append(visible, d)
		}
	}
	return visible, nil
}

func (s *DocumentService) UpdateTitle(caller access.Edit, docID, title string) error {
	if title == "" {
		return fmt.Errorf("%w: empty title", errs.ErrInvalidArgument)
	}
	if _, err := s.ownedDocument(caller, docID); err != nil {
		return err
	}
	return s.Repo.UpdateTitle(docID, title)
}

func (s *DocumentService) SetVisibility(caller access.Edit, docID string, visibility model.Visibility) error {
	if !visibility.Valid() {
		return fmt.Errorf("%w: visibility %q", errs.ErrInvalidArgument, visibility)
	}
	if _, err := s.ownedDocument(caller, docID); err != nil {
		return err
	}
	return s.Repo.SetVisibility(docID, visibility)
}

// Remove cascade-deletes the document with its updates, memberships and
// presence rows, then evicts any live sessions.
func (s *DocumentService) Remove(caller access.Edit, docID string) error {
	if _, err := s.ownedDocument(caller, docID); err != nil {
		return err
	}
	if err := s.Repo.DeleteDocument(docID); err != nil {
		return err
	}
	s.Notifier.DocumentRemoved(docID)
	return nil
}

// ListMembers is owner-only and includes the implicit owner row first.
func (s *DocumentService) ListMembers(caller access.Edit, docID string) ([]model.MemberInfo, error) {
	doc, err := s.ownedDocument(caller, docID)
	if err != nil {
		return nil, err
	}
	members, err := s.Repo.ListMemberships(docID)
	if err != nil {
		return nil, err
	}

	out := make([]model.MemberInfo, 0, len(members)+1)
	out = append(out, model.MemberInfo{UserID: doc.OwnerID, Role: "owner"})
	for _, m := range members {
		out = append(out, model.MemberInfo{UserID: m.UserID, Role: string(m.Role), AddedAt: m.AddedAt})
	}
	return out, nil
}

// AddMember grants userID a role. Adding an existing member updates the role
// instead of erroring; the owner can never be added as a member.
func (s *DocumentService) AddMember(caller access.Edit, docID, userID string, role model.Role) error {
	if userID == "" || !role.Valid() {
		return fmt.Errorf("%w: user %q role %q", errs.ErrInvalidArgument, userID, role)
	}
	doc, err := s.ownedDocument(caller, docID)
	if err != nil {
		return err
	}
	if userID == doc.OwnerID {
		return fmt.Errorf("%w: owner cannot be a member", errs.ErrInvalidArgument)
	}
	return s.Repo.UpsertMembership(docID, userID, role)
}

func (s *DocumentService) RemoveMember(caller access.Edit, docID, userID string) error {
	if _, err := s.ownedDocument(caller, docID); err != nil {
		return err
	}
	affected, err := s.Repo.RemoveMembership(docID, userID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: member %s", errs.ErrNotFound, userID)
	}
	return nil
}

func (s *DocumentService) UpdateMemberRole(caller access.Edit, docID, userID string, role model.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: role %q", errs.ErrInvalidArgument, role)
	}
	if _, err := s.ownedDocument(caller, docID); err != nil {
		return err
	}
	affected, err := s.Repo.UpdateMembershipRole(docID, userID, role)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: member %s", errs.ErrNotFound, userID)
	}
	return nil
}

func (s *DocumentService) fetch(docID, userID string) (*model.Document, *model.Membership, error) {
	doc, err := s.Repo.GetDocument(docID)
	if err != nil {
		return nil, nil, err
	}
	member, err := s.Repo.GetMembership(docID, userID)
	if err != nil {
		return nil, nil, err
	}
	return doc, member, nil
}

// ownedDocument fetches the document and enforces ownership for the
// owner-only mutations.
func (s *DocumentService) ownedDocument(caller access.Edit, docID string) (*model.Document, error) {
	doc, err := s.Repo.GetDocument(docID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != caller.Caller.UserID {
		return nil, errs.ErrForbidden
	}
	return doc, nil
}
