package socket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cesarh1094/chotion/internal/document/model"
	"github.com/cesarh1094/chotion/internal/document/repository"
	"github.com/cesarh1094/chotion/internal/document/service"
	"github.com/cesarh1094/chotion/pkg/logger"
)

const (
	UpdateType         = "UPDATE"          // committed log entry {seq, client_id, payload}
	EditType           = "EDIT"            // local delta from the editor surface
	CursorType         = "CURSOR"          // ephemeral cursor position, relayed only
	HeartbeatType      = "HEARTBEAT"       // refresh the sender's presence row
	PresenceUpdateType = "PRESENCE_UPDATE" // who is live on the document
	RemovedType        = "REMOVED"         // the document was deleted
)

type WSMessage struct {
	Type    string          `json:"type"`
	DocID   string          `json:"document_id"`
	UserID  string          `json:"user_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type hubEvent struct {
	kind   string
	docID  string
	update model.Update
	sender *Client
	raw    []byte
}

// Hub tracks the per-document rooms of live sessions and fans committed
// updates and presence changes out to them. It satisfies service.Notifier.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client

	events chan hubEvent

	rooms map[string]map[*Client]bool
	mu    sync.Mutex

	repo *repository.Repository
}

func NewHub(repo *repository.Repository) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		events:     make(chan hubEvent, 64),
		rooms:      make(map[string]map[*Client]bool),
		repo:       repo,
	}
}

// UpdateCommitted queues one committed update for room fanout.
func (h *Hub) UpdateCommitted(u model.Update) {
	h.events <- hubEvent{kind: UpdateType, docID: u.DocID, update: u}
}

// PresenceChanged queues a presence re-broadcast for the document.
func (h *Hub) PresenceChanged(docID string) {
	h.events <- hubEvent{kind: PresenceUpdateType, docID: docID}
}

// DocumentRemoved evicts every live session on a deleted document.
func (h *Hub) DocumentRemoved(docID string) {
	h.events <- hubEvent{kind: RemovedType, docID: docID}
}

func (h *Hub) relayCursor(docID string, sender *Client, raw []byte) {
	h.events <- hubEvent{kind: CursorType, docID: docID, sender: sender, raw: raw}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if h.rooms[client.DocID] == nil {
				h.rooms[client.DocID] = make(map[*Client]bool)
			}
			h.rooms[client.DocID][client] = true
			h.mu.Unlock()
			h.broadcastPresence(client.DocID)

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.rooms[client.DocID][client]; ok {
				delete(h.rooms[client.DocID], client)
				close(client.Send)
				if len(h.rooms[client.DocID]) == 0 {
					delete(h.rooms, client.DocID)
					logger.Sugar.Infof("Closed empty room: %s", client.DocID)
				}
			}
			h.mu.Unlock()
			h.broadcastPresence(client.DocID)

		case ev := <-h.events:
			switch ev.kind {
			case UpdateType:
				h.deliverUpdate(ev.update)
			case PresenceUpdateType:
				h.broadcastPresence(ev.docID)
			case CursorType:
				h.relay(ev.docID, ev.sender, ev.raw)
			case RemovedType:
				h.evictRoom(ev.docID)
			}
		}
	}
}

// deliverUpdate hands the committed update to each session's sync client.
// A session whose delivery buffer is full is told to re-poll instead; polls
// read contiguously from the watermark, so nothing is skipped.
func (h *Hub) deliverUpdate(u model.Update) {
	for _, client := range h.roomClients(u.DocID) {
		if !client.Sync.TryDeliver([]model.Update{u}) {
			logger.Sugar.Warnf("Session for user %s lagging on doc %s, scheduling re-poll", client.UserID(), u.DocID)
			go func(c *Client) {
				if err := c.Sync.Poll(); err != nil {
					logger.Sugar.Warnf("Re-poll failed for doc %s: %v", u.DocID, err)
				}
			}(client)
		}
	}
}

func (h *Hub) broadcastPresence(docID string) {
	clients := h.roomClients(docID)
	if len(clients) == 0 {
		return
	}

	present, err := h.repo.ListPresence(docID, time.Now().Add(-service.PresenceTTL))
	if err != nil {
		logger.Sugar.Errorf("Error listing presence for broadcast: %v", err)
		return
	}
	payload, err := json.Marshal(present)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling presence broadcast: %v", err)
		return
	}
	frame, _ := json.Marshal(WSMessage{Type: PresenceUpdateType, DocID: docID, Payload: payload})

	for _, client := range clients {
		client.trySend(frame)
	}
}

// relay forwards an ephemeral frame to everyone in the room but the sender.
func (h *Hub) relay(docID string, sender *Client, frame []byte) {
	for _, client := range h.roomClients(docID) {
		if client != sender {
			client.trySend(frame)
		}
	}
}

func (h *Hub) evictRoom(docID string) {
	h.mu.Lock()
	clients := h.rooms[docID]
	delete(h.rooms, docID)
	h.mu.Unlock()

	frame, _ := json.Marshal(WSMessage{Type: RemovedType, DocID: docID})
	for client := range clients {
		client.trySend(frame)
		// Give the write pump a moment to flush the eviction notice before
		// the close makes readPump exit and unregister.
		go func(c *Client) {
			time.Sleep(100 * time.Millisecond)
			c.Conn.Close()
		}(client)
	}
}

// roomClients snapshots a room so fanout I/O happens outside the lock.
func (h *Hub) roomClients(docID string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := make([]*Client, 0, len(h.rooms[docID]))
	for client := range h.rooms[docID] {
		clients = append(clients, client)
	}
	return clients
}
