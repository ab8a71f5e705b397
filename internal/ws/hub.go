package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"collabcode/internal/room"
	"collabcode/pkg/metrics"
)

// session is one connection's identity as seen by the event handlers. Kept
// separate from Conn so the handlers can be driven by any room.Sink.
type session struct {
	id   string
	sink room.Sink
}

// Hub routes client events to the room core and manages the connection
// lifecycle: unbound -> joined -> active -> disconnected -> unbound.
type Hub struct {
	log  *slog.Logger
	reg  *room.Registry
	disp *room.Dispatcher
}

func NewHub(log *slog.Logger, reg *room.Registry, disp *room.Dispatcher) *Hub {
	return &Hub{log: log, reg: reg, disp: disp}
}

// ServeWS handles one /ws connection for its whole lifetime.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := Accept(w, r)
	if err != nil {
		h.log.Error("ws.accept", "err", err)
		return
	}
	c := NewConn(conn)
	metrics.ConnectedClients.Inc()
	h.log.Debug("ws.connected", "conn", c.ID)

	go c.WriteLoop(ctx)

	sess := &session{id: c.ID, sink: c}
	for {
		raw, ok := c.Read(ctx)
		if !ok {
			break
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			continue // unusable frame, keep the session alive
		}
		h.Handle(ctx, sess, env)
	}

	// A transport drop is handled identically to an explicit leave.
	h.Disconnect(sess)
	metrics.ConnectedClients.Dec()
	h.log.Debug("ws.disconnected", "conn", c.ID)
	_ = c.Close()
}

// Handle dispatches one inbound event. Unknown events and payloads missing
// required fields are dropped; nothing here disconnects the session.
func (h *Hub) Handle(ctx context.Context, sess *session, env Envelope) {
	metrics.EventsTotal.WithLabelValues(env.Event).Inc()

	switch env.Event {
	case evJoinRoom:
		h.handleJoin(ctx, sess, env.Data)
	case evCodeChange:
		h.handleCode(sess, env.Data)
	case evLanguageChange:
		h.handleLanguage(sess, env.Data)
	case evCursorMove:
		h.handleCursor(sess, env.Data)
	case evSendMessage:
		h.handleMessage(sess, env.Data)
	case evTypingStart:
		h.handleTypingStart(sess, env.Data)
	case evTypingStop:
		h.handleTypingStop(sess, env.Data)
	case evMessageRead:
		h.handleRead(sess, env.Data)
	default:
		h.log.Debug("ws.event.unknown", "event", env.Event, "conn", sess.id)
	}
}

func (h *Hub) handleJoin(ctx context.Context, sess *session, data json.RawMessage) {
	var p joinPayload
	_ = json.Unmarshal(data, &p)
	if p.RoomID == "" {
		return
	}

	rm, user, err := h.reg.Join(ctx, p.RoomID, sess.id, p.Username, sess.sink)
	if err != nil {
		// Room-admission failure is visible to the joiner only.
		h.log.Error("room.join", "room", p.RoomID, "err", err)
		sess.sink.Send(room.Event{Name: evError, Data: errorPayload{Message: "Failed to join room"}})
		return
	}

	snap := rm.Snapshot()
	sess.sink.Send(room.Event{Name: evRoomJoined, Data: roomStatePayload{
		Code:     snap.Code,
		Language: snap.Language,
		Users:    rm.Users(),
	}})
	sess.sink.Send(room.Event{Name: evChatHistory, Data: rm.Chat().History()})

	h.disp.ToPeers(rm, sess.id, room.Event{Name: evUserJoined, Data: user})
}

func (h *Hub) handleCode(sess *session, data json.RawMessage) {
	var p codePayload
	_ = json.Unmarshal(data, &p)

	rm, _, ok := h.reg.ApplyCodeChange(p.RoomID, p.Code)
	if !ok {
		return
	}
	rm.Touch(sess.id, time.Now())
	h.disp.ToPeers(rm, sess.id, room.Event{Name: evCodeUpdate, Data: codeUpdatePayload{
		Code:   p.Code,
		UserID: sess.id,
	}})
}

func (h *Hub) handleLanguage(sess *session, data json.RawMessage) {
	var p languagePayload
	_ = json.Unmarshal(data, &p)
	if !room.KnownLanguage(p.Language) {
		return
	}

	rm, ok := h.reg.ApplyLanguageChange(p.RoomID, p.Language)
	if !ok {
		return
	}
	h.disp.ToPeers(rm, sess.id, room.Event{Name: evLanguageUpdate, Data: languageUpdatePayload{
		Language: p.Language,
	}})
}

func (h *Hub) handleCursor(sess *session, data json.RawMessage) {
	var p cursorPayload
	_ = json.Unmarshal(data, &p)

	// Cursor positions are relayed, never stored.
	rm, ok := h.reg.Get(p.RoomID)
	if !ok {
		return
	}
	h.disp.ToPeers(rm, sess.id, room.Event{Name: evCursorUpdate, Data: cursorUpdatePayload{
		UserID:   sess.id,
		Position: p.Position,
	}})
}

func (h *Hub) handleMessage(sess *session, data json.RawMessage) {
	var p messagePayload
	_ = json.Unmarshal(data, &p)

	rm, stored, ok := h.reg.AppendMessage(p.RoomID, room.Message{
		Username: p.Username,
		Body:     p.Message,
		Kind:     p.Type,
		FileData: p.FileData,
		UserID:   sess.id,
	})
	if !ok {
		return
	}
	rm.Touch(sess.id, time.Now())
	metrics.ChatMessagesTotal.Inc()

	// Chat reaches everyone, sender included.
	h.disp.ToAll(rm, room.Event{Name: evReceiveMessage, Data: stored})
	h.log.Debug("chat.message", "room", p.RoomID, "user", p.Username, "kind", stored.Kind)
}

func (h *Hub) handleTypingStart(sess *session, data json.RawMessage) {
	var p typingPayload
	_ = json.Unmarshal(data, &p)

	rm, ok := h.reg.Get(p.RoomID)
	if !ok {
		return
	}
	rm.StartTyping(sess.id, p.Username)
	h.disp.ToPeers(rm, sess.id, room.Event{Name: evUserTyping, Data: typingUpdatePayload{
		Username: p.Username,
		UserID:   sess.id,
	}})
}

func (h *Hub) handleTypingStop(sess *session, data json.RawMessage) {
	var p typingPayload
	_ = json.Unmarshal(data, &p)

	rm, ok := h.reg.Get(p.RoomID)
	if !ok {
		return
	}
	rm.StopTyping(sess.id)
	h.disp.ToPeers(rm, sess.id, room.Event{Name: evUserStoppedTyping, Data: typingUpdatePayload{
		UserID: sess.id,
	}})
}

func (h *Hub) handleRead(sess *session, data json.RawMessage) {
	var p readPayload
	_ = json.Unmarshal(data, &p)

	rm, ok := h.reg.Get(p.RoomID)
	if !ok {
		return
	}
	h.disp.ToPeers(rm, sess.id, room.Event{Name: evMessageReadUpdate, Data: readUpdatePayload{
		MessageID: p.MessageID,
		ReadBy:    sess.id,
	}})
}

// Disconnect removes the connection from every room it joined, announces
// each departure to the remaining participants, and retires rooms left
// empty. Safe to call for a session that never joined anything.
func (h *Hub) Disconnect(sess *session) {
	for _, dep := range h.reg.DisconnectAll(sess.id) {
		if dep.WasTyping {
			h.disp.ToPeers(dep.Room, sess.id, room.Event{Name: evUserStoppedTyping, Data: typingUpdatePayload{
				UserID: sess.id,
			}})
		}
		// Departure goes to everyone still present; roster views depend on it.
		h.disp.ToAll(dep.Room, room.Event{Name: evUserLeft, Data: userLeftPayload{
			UserID:   sess.id,
			Username: dep.User.Username,
		}})
		h.reg.RetireIfEmpty(dep.Room.ID)
		h.log.Info("room.left", "room", dep.Room.ID, "user", dep.User.Username, "conn", sess.id)
	}
}

// Outbound payloads.

type roomStatePayload struct {
	Code     string             `json:"code"`
	Language string             `json:"language"`
	Users    []room.Participant `json:"users"`
}

type codeUpdatePayload struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
}

type languageUpdatePayload struct {
	Language string `json:"language"`
}

type cursorUpdatePayload struct {
	UserID   string          `json:"userId"`
	Position json.RawMessage `json:"position"`
}

type typingUpdatePayload struct {
	Username string `json:"username,omitempty"`
	UserID   string `json:"userId"`
}

type userLeftPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type readUpdatePayload struct {
	MessageID string `json:"messageId"`
	ReadBy    string `json:"readBy"`
}

type errorPayload struct {
	Message string `json:"message"`
}
