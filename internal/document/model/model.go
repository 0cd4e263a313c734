package model

import "time"

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is one of the two known visibility values.
func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

type Role string

const (
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleEditor || r == RoleViewer
}

// Document is the root record. LastSeq is the per-document update counter,
// bumped only inside the append transaction.
type Document struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	OwnerID    string     `json:"owner_id"`
	Visibility Visibility `json:"visibility"`
	LastSeq    int64      `json:"last_seq"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Membership grants a non-owner user a role on a document. The owner never
// has a membership row; ownership is implicit via Document.OwnerID.
type Membership struct {
	DocID   string    `json:"document_id"`
	UserID  string    `json:"user_id"`
	Role    Role      `json:"role"`
	AddedAt time.Time `json:"added_at"`
}

// Update is one committed entry of a document's append-only log. Seq starts
// at 1 and is gapless per document. Payload is opaque to the server.
type Update struct {
	DocID     string    `json:"document_id"`
	Seq       int64     `json:"seq"`
	Payload   []byte    `json:"payload"`
	AuthorID  string    `json:"author_id"`
	ClientID  string    `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Presence is an ephemeral liveness row, refreshed by heartbeats and swept
// once stale.
type Presence struct {
	ID        string    `json:"id"`
	DocID     string    `json:"document_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Image     string    `json:"image,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
