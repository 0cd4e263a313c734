package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cesarh1094/chotion/internal/access"
	"github.com/cesarh1094/chotion/internal/document/model"
	"github.com/cesarh1094/chotion/internal/document/service"
	isync "github.com/cesarh1094/chotion/internal/sync"
	"github.com/cesarh1094/chotion/middleware"
	"github.com/cesarh1094/chotion/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CheckOrigin allows us to connect from the editor dev server
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one live websocket session on a document. Its Sync actor owns
// the watermark and the edit buffer; the pumps only move frames.
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	DocID    string
	Identity *access.Identity // nil for anonymous viewers
	CanEdit  bool
	IsOwner  bool
	Send     chan []byte
	Sync     *isync.Client

	presence *service.PresenceService
	cancel   context.CancelFunc
}

func (c *Client) UserID() string {
	if c.Identity == nil {
		return ""
	}
	return c.Identity.UserID
}

// sessionLog binds the update log to one document and one caller, so the
// sync client cannot reach outside its session's capability.
type sessionLog struct {
	collab *service.CollabService
	docID  string
	view   access.View
	edit   access.Edit
}

func (l sessionLog) Append(payload []byte, clientID string) (int64, error) {
	return l.collab.SubmitUpdate(l.edit, l.docID, payload, clientID)
}

func (l sessionLog) ReadAfter(afterSeq int64, limit int) ([]model.Update, error) {
	return l.collab.ListUpdates(l.view, l.docID, afterSeq, limit)
}

// ServeWs upgrades the connection and starts a session. The view check runs
// before the upgrade; documents the caller cannot see are reported as not
// found, whether or not they exist.
func ServeWs(hub *Hub, docs *service.DocumentService, collab *service.CollabService, presence *service.PresenceService, w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId", http.StatusBadRequest)
		return
	}

	identity := middleware.Identity(r)
	view := access.View{Caller: identity}

	docView, err := docs.Get(view, docID)
	if err != nil {
		http.Error(w, "Failed to open document", http.StatusInternalServerError)
		return
	}
	if docView == nil {
		http.Error(w, "Document not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	log := sessionLog{collab: collab, docID: docID, view: view}
	if identity != nil {
		log.edit = access.Edit{Caller: *identity}
	}

	client := &Client{
		Hub:      hub,
		Conn:     conn,
		DocID:    docID,
		Identity: identity,
		CanEdit:  docView.CanEdit,
		IsOwner:  docView.IsOwner,
		Send:     make(chan []byte, 256),
		presence: presence,
	}
	cfg := isync.Config{
		DocID:    docID,
		ReadOnly: !docView.CanEdit,
		Log:      log,
		OnRemote: client.forwardUpdate,
		Logger:   logger.Sugar,
	}
	if identity != nil {
		cfg.Author = *identity
	}
	client.Sync = isync.NewClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	client.cancel = cancel
	go client.Sync.Run(ctx)

	// Register first so the heartbeat's presence broadcast reaches this
	// session too.
	client.Hub.Register <- client
	client.heartbeat()

	go client.writePump()
	go client.readPump()
}

// forwardUpdate runs on the sync loop after a remote update merges; echoes
// of this session's own writes never reach it.
func (c *Client) forwardUpdate(u model.Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling update frame: %v", err)
		return
	}
	frame, _ := json.Marshal(WSMessage{Type: UpdateType, DocID: c.DocID, UserID: u.AuthorID, Payload: payload})
	c.trySend(frame)
}

func (c *Client) trySend(frame []byte) {
	select {
	case c.Send <- frame:
	default:
		logger.Sugar.Warnf("Send buffer full for user %s on doc %s, dropping frame", c.UserID(), c.DocID)
	}
}

// heartbeat refreshes the caller's presence row and opportunistically runs
// the owner-only stale-row sweep.
func (c *Client) heartbeat() {
	if c.Identity == nil {
		return
	}
	caller := access.Edit{Caller: *c.Identity}
	if _, err := c.presence.Heartbeat(caller, c.DocID); err != nil {
		logger.Sugar.Warnf("Heartbeat failed for user %s on doc %s: %v", c.UserID(), c.DocID, err)
	}
	if c.IsOwner {
		if err := c.presence.Cleanup(caller, c.DocID); err != nil {
			logger.Sugar.Debugf("Presence cleanup skipped for doc %s: %v", c.DocID, err)
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.cancel() // stops the sync actor; pending edits get a final flush
		if c.Identity != nil {
			if err := c.presence.Leave(access.Edit{Caller: *c.Identity}, c.DocID); err != nil {
				logger.Sugar.Warnf("Presence leave failed for user %s on doc %s: %v", c.UserID(), c.DocID, err)
			}
		}
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, rawMessage, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(rawMessage, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling message: %v", err)
			continue
		}

		// Server-authoritative fields; never trust the frame's own ids.
		msg.DocID = c.DocID
		msg.UserID = c.UserID()

		switch msg.Type {
		case EditType:
			if !c.CanEdit {
				logger.Sugar.Warnf("Permission denied: user %s tried to edit doc %s", c.UserID(), c.DocID)
				continue
			}
			c.Sync.Edit(msg.Payload)

		case HeartbeatType:
			c.heartbeat()

		case CursorType:
			frame, _ := json.Marshal(msg)
			c.Hub.relayCursor(c.DocID, c, frame)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second) // Send ping every 30s
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				return
			}
			c.Conn.WriteMessage(websocket.TextMessage, message)
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Connection is dead
			}
		}
	}
}
