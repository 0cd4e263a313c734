// Package access answers view/edit permission questions and carries the
// caller's capability through service calls. Guard predicates are pure over
// already-fetched rows; they never touch the database.
package access

import "github.com/cesarh1094/chotion/internal/document/model"

// Identity is a caller resolved by the auth layer.
type Identity struct {
	UserID string
	Name   string
	Image  string
}

// View is the read capability. Caller is nil for anonymous requests, which
// may still read public documents.
type View struct {
	Caller *Identity
}

// UserID returns the caller's id, or "" when anonymous.
func (v View) UserID() string {
	if v.Caller == nil {
		return ""
	}
	return v.Caller.UserID
}

// Edit is the write capability. It always carries an identity; the auth
// middleware refuses to construct one for anonymous requests, so mutation
// paths cannot be reached without authentication.
type Edit struct {
	Caller Identity
}

// View downgrades an edit capability for read sub-paths.
func (e Edit) View() View {
	return View{Caller: &e.Caller}
}

// CanView reports whether caller may read doc. member is the caller's
// membership row for doc, or nil when none exists.
func CanView(doc *model.Document, member *model.Membership, caller *Identity) bool {
	if doc == nil {
		return false
	}
	if doc.Visibility == model.VisibilityPublic {
		return true
	}
	if caller == nil {
		return false
	}
	if caller.UserID == doc.OwnerID {
		return true
	}
	return member != nil
}

// CanEdit reports whether caller may write to doc. Any membership grants
// viewing; only the editor role (or ownership) grants writing.
func CanEdit(doc *model.Document, member *model.Membership, caller *Identity) bool {
	if doc == nil || caller == nil {
		return false
	}
	if caller.UserID == doc.OwnerID {
		return true
	}
	return member != nil && member.Role == model.RoleEditor
}
