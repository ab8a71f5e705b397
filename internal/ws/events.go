package ws

import "encoding/json"

// Envelope is one inbound protocol frame: {"event": ..., "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client->server event names.
const (
	evJoinRoom       = "join-room"
	evCodeChange     = "code-change"
	evLanguageChange = "language-change"
	evCursorMove     = "cursor-move"
	evSendMessage    = "send-message"
	evTypingStart    = "typing-start"
	evTypingStop     = "typing-stop"
	evMessageRead    = "message-read"
)

// Server->client event names.
const (
	evRoomJoined        = "room-joined"
	evChatHistory       = "chat-history"
	evUserJoined        = "user-joined"
	evUserLeft          = "user-left"
	evCodeUpdate        = "code-update"
	evLanguageUpdate    = "language-update"
	evCursorUpdate      = "cursor-update"
	evReceiveMessage    = "receive-message"
	evUserTyping        = "user-typing"
	evUserStoppedTyping = "user-stopped-typing"
	evMessageReadUpdate = "message-read-update"
	evError             = "error"
)

// Inbound payloads. Fields missing from the wire stay zero-valued; handlers
// tolerate that rather than rejecting the frame.

type joinPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type codePayload struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type languagePayload struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type cursorPayload struct {
	RoomID   string          `json:"roomId"`
	Position json.RawMessage `json:"position"`
}

type messagePayload struct {
	RoomID   string          `json:"roomId"`
	Message  string          `json:"message"`
	Username string          `json:"username"`
	Type     string          `json:"type"`
	FileData json.RawMessage `json:"fileData"`
}

type typingPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type readPayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}
