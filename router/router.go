package router

import (
	"net/http"

	docHandler "github.com/cesarh1094/chotion/internal/document"
	"github.com/cesarh1094/chotion/internal/document/repository"
	"github.com/cesarh1094/chotion/internal/document/service"
	"github.com/cesarh1094/chotion/middleware"
	"github.com/cesarh1094/chotion/socket"
)

func Setup(repo *repository.Repository, hub *socket.Hub) http.Handler {
	mux := http.NewServeMux()

	docService := service.NewDocumentService(repo, hub)
	collabService := service.NewCollabService(repo, hub)
	presenceService := service.NewPresenceService(repo, hub)
	h := docHandler.NewDocumentHandler(docService, collabService, presenceService)

	auth := middleware.Auth
	optional := middleware.OptionalAuth

	// WebSocket session surface
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket.ServeWs(hub, docService, collabService, presenceService, w, r)
	})
	mux.Handle("/ws", optional(wsHandler))

	// Documents
	mux.Handle("/api/documents/create", auth(http.HandlerFunc(h.CreateDocument)))
	mux.Handle("/api/documents/get", optional(http.HandlerFunc(h.GetDocument)))
	mux.Handle("/api/documents", optional(http.HandlerFunc(h.ListDocuments)))
	mux.Handle("/api/documents/update", auth(http.HandlerFunc(h.UpdateTitle)))
	mux.Handle("/api/documents/visibility", auth(http.HandlerFunc(h.SetVisibility)))
	mux.Handle("/api/documents/delete", auth(http.HandlerFunc(h.DeleteDocument)))

	// Update log
	mux.Handle("/api/collab/updates", optional(http.HandlerFunc(h.ListUpdates)))
	mux.Handle("/api/collab/submit", auth(http.HandlerFunc(h.SubmitUpdate)))
	mux.Handle("/api/collab/seq", optional(http.HandlerFunc(h.GetSeq)))

	// Presence
	mux.Handle("/api/presence/heartbeat", auth(http.HandlerFunc(h.Heartbeat)))
	mux.Handle("/api/presence/leave", auth(http.HandlerFunc(h.LeavePresence)))
	mux.Handle("/api/presence", optional(http.HandlerFunc(h.ListPresence)))
	mux.Handle("/api/presence/cleanup", auth(http.HandlerFunc(h.CleanupPresence)))

	// Members
	mux.Handle("/api/documents/members", auth(http.HandlerFunc(h.ListMembers)))
	mux.Handle("/api/documents/invite", auth(http.HandlerFunc(h.AddMember)))
	mux.Handle("/api/documents/members/remove", auth(http.HandlerFunc(h.RemoveMember)))
	mux.Handle("/api/documents/members/role", auth(http.HandlerFunc(h.UpdateMemberRole)))

	return middleware.CORS(mux)
}
