package model

import "time"

type CreateDocRequest struct {
	Title      string     `json:"title"`
	Visibility Visibility `json:"visibility"`
}

type CreateDocResponse struct {
	DocID string `json:"document_id"`
}

// DocumentView is what doc.get returns: the record plus the caller's
// effective rights, so the editor chrome can disable what it must.
type DocumentView struct {
	Document
	IsOwner bool `json:"is_owner"`
	CanEdit bool `json:"can_edit"`
}

// DocumentSummary is one row of doc.list.
type DocumentSummary struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	OwnerID    string     `json:"owner_id"`
	Visibility Visibility `json:"visibility"`
	UpdatedAt  time.Time  `json:"updated_at"`
	IsOwner    bool       `json:"is_owner"`
}

type UpdateTitleRequest struct {
	DocID string `json:"document_id"`
	Title string `json:"title"`
}

type SetVisibilityRequest struct {
	DocID      string     `json:"document_id"`
	Visibility Visibility `json:"visibility"`
}

type DocIDRequest struct {
	DocID string `json:"document_id"`
}

type SubmitUpdateRequest struct {
	DocID    string `json:"document_id"`
	Payload  []byte `json:"payload"`
	ClientID string `json:"client_id"`
}

type SubmitUpdateResponse struct {
	Seq int64 `json:"seq"`
}

type SeqResponse struct {
	Seq int64 `json:"seq"`
}

type HeartbeatResponse struct {
	PresenceID string `json:"presence_id"`
}

type MemberRequest struct {
	DocID  string `json:"document_id"`
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

type MemberInfo struct {
	UserID  string    `json:"user_id"`
	Role    string    `json:"role"`
	AddedAt time.Time `json:"added_at,omitzero"`
}
