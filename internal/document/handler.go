package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cesarh1094/chotion/internal/access"
	"github.com/cesarh1094/chotion/internal/document/model"
	"github.com/cesarh1094/chotion/internal/document/service"
	"github.com/cesarh1094/chotion/internal/errs"
	"github.com/cesarh1094/chotion/middleware"
	"github.com/cesarh1094/chotion/pkg/logger"
)

type DocumentHandler struct {
	Docs     *service.DocumentService
	Collab   *service.CollabService
	Presence *service.PresenceService
}

func NewDocumentHandler(docs *service.DocumentService, collab *service.CollabService, presence *service.PresenceService) *DocumentHandler {
	return &DocumentHandler{Docs: docs, Collab: collab, Presence: presence}
}

func (h *DocumentHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	caller, ok := editCaller(w, r)
	if !ok || !requirePost(w, r) {
		return
	}

	var req model.CreateDocRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // Ignore error, default to empty

	docID, err := h.Docs.Create(caller, req.Title, req.Visibility)
	if err != nil {
		fail(w, "Failed to create document", err)
		return
	}
	writeJSON(w, model.CreateDocResponse{DocID: docID})
}

// GetDocument returns null (not an error) when the document is missing or
// the caller cannot view it.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Docs.Get(viewCaller(r), r.URL.Query().Get("docId"))
	if err != nil {
		fail(w, "Failed to get document", err)
		return
	}
	writeJSON(w, doc)
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Docs.List(viewCaller(r), r.URL.Query().Get("q"))
	if err != nil {
		fail(w, "Failed to list documents", err)
		return
	}
	if docs == nil {
		docs = []model.DocumentSummary{}
	}
	writeJSON(w, docs)
}

func (h *DocumentHandler) UpdateTitle(w http.ResponseWriter, r *http.Request) {
	caller, ok := editCaller(w, r)
	if !ok || !requirePost(w, r) {
		return
	}
	var req model.UpdateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.Docs.UpdateTitle(caller, req.DocID, req.Title); err != nil {
		fail(w, "Failed to update title", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	caller, ok := editCaller(w, r)
	if !ok || !requirePost(w, r) {
		return
	}
	var req model.SetVisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.Docs.SetVisibility(caller, req.DocID, req.Visibility); err != nil {
		fail(w, "Failed to set visibility", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	caller, ok := editCaller(w, r)
	if !ok || !requirePost(w, r) {
		return
	}
	var req model.DocIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.Docs.Remove(caller, req.DocID); err != nil {
		fail(w, "Failed to delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) SubmitUpdate(w http.ResponseWriter, r *http.Request) {
	caller, ok := editCaller(w, r)
	if !ok || !requirePost(w, r) {
		return
	}
	var req model.SubmitUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	seq, err := h.Collab.SubmitUpdate(caller, req.DocID, req.Payload, req.ClientID)
	if err != nil {
		fail(w, "Failed to submit update", err)
		return
	}
	writeJSON(w, model.SubmitUpdateResponse{Seq: seq})
}

func (h *DocumentHandler) ListUpdates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	afterSeq, err := parseInt(q.Get("afterSeq"))
	if err != nil {
		http.Error(w, "Invalid afterSeq", http.StatusBadRequest)
		return
	}
	limit, err := parseInt(q.Get("limit"))
	if err != nil {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}

	updates, err := h.Collab.ListUpdates(viewCaller(r), q.Get("docId"), afterSeq, int(limit))
	if err != nil {
		fail(w, "Failed to list updates", err)
		return
	}
	if updates == nil {
		updates = []model.Update{}
	}
	writeJSON(w, updates)
}

func (h *DocumentHandler) GetSeq(w http.ResponseWriter, r *http.Request) {
	seq, err := h.Collab.CurrentSeq(viewCaller(r), r.URL.Query().Get("docId"))
	if err != nil {
		fail(w, "Failed to get seq", err)
		return
	}
	writeJSON(w, model.SeqResponse{Seq: seq})
}

func (h *DocumentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	caller, ok := editCaller(w, r)
	if !ok || !requirePost(w, r) {
		return
	}
	var req model.DocIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	id, err := h.Presence.Heartbeat(caller, req.DocID)
	if err != nil {
		fail(w, "Failed to heartbeat", err)
		return
	}
	writeJSON(w, model.HeartbeatResponse{PresenceID: id})
}

func (h *DocumentHandler) LeavePresence(w http.ResponseWriter, r *http.Request) {
	caller, ok := editCaller(w, r)
	if !ok || !requirePost(w, r) {
		return
	}
	var req model.DocIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.Presence.Leave(caller, req.DocID); err != nil {
		fail(w, "Failed to leave", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) ListPresence(w http.ResponseWriter, r *http.Request) {
	present, err := h.Presence.List(viewCaller(r), r.URL.Query().Get("docId"))
	if err != nil {
		fail(w, "Failed to list presence", err)
		return
	}
	if present == nil {
		present = []model.Presence{}
	}
	writeJSON(w, present)
}

func (h *DocumentHandler) CleanupPresence(w http.ResponseWriter, r *http.Request) {
	caller, ok := editCaller(w, r)
	if !ok || !requirePost(w, r) {
		return
	}
	var req model.DocIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.Presence.Cleanup(caller, req.DocID); err != nil {
		fail(w, "Failed to cleanup presence", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	caller, ok := editCaller(w, r)
	if !ok {
		return
	}
	members, err := h.Docs.ListMembers(caller, r.URL.Query().Get("docId"))
	if err != nil {
		fail(w, "Failed to list members", err)
		return
	}
	writeJSON(w, members)
}

func (h *DocumentHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	h.memberMutation(w, r, func(caller access.Edit, req model.MemberRequest) error {
		return h.Docs.AddMember(caller, req.DocID, req.UserID, req.Role)
	})
}

func (h *DocumentHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	h.memberMutation(w, r, func(caller access.Edit, req model.MemberRequest) error {
		return h.Docs.RemoveMember(caller, req.DocID, req.UserID)
	})
}

func (h *DocumentHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	h.memberMutation(w, r, func(caller access.Edit, req model.MemberRequest) error {
		return h.Docs.UpdateMemberRole(caller, req.DocID, req.UserID, req.Role)
	})
}

func (h *DocumentHandler) memberMutation(w http.ResponseWriter, r *http.Request, op func(access.Edit, model.MemberRequest) error) {
	caller, ok := editCaller(w, r)
	if !ok || !requirePost(w, r) {
		return
	}
	var req model.MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := op(caller, req); err != nil {
		fail(w, "Member operation failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func viewCaller(r *http.Request) access.View {
	return access.View{Caller: middleware.Identity(r)}
}

func editCaller(w http.ResponseWriter, r *http.Request) (access.Edit, bool) {
	id := middleware.Identity(r)
	if id == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return access.Edit{}, false
	}
	return access.Edit{Caller: *id}, true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, errs.ErrUnauthenticated):
		http.Error(w, msg, http.StatusUnauthorized)
	case errors.Is(err, errs.ErrForbidden):
		http.Error(w, msg, http.StatusForbidden)
	case errors.Is(err, errs.ErrNotFound):
		http.Error(w, msg, http.StatusNotFound)
	case errors.Is(err, errs.ErrInvalidArgument):
		http.Error(w, msg+": "+err.Error(), http.StatusBadRequest)
	default:
		logger.Sugar.Errorf("Handler: %s: %v", msg, err)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
