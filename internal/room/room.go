package room

import (
	"sync"
	"time"
)

// Defaults seeded into a room created for a never-seen identifier.
const (
	DefaultCode     = "// Start coding here...\n"
	DefaultLanguage = "javascript"
)

// languages is the closed set of editor language tags.
var languages = map[string]struct{}{
	"javascript": {}, "python": {}, "java": {}, "cpp": {},
	"html": {}, "css": {}, "typescript": {}, "json": {},
}

// KnownLanguage reports whether tag is in the supported set.
func KnownLanguage(tag string) bool {
	_, ok := languages[tag]
	return ok
}

// Snapshot is a read-only view of a room's document state.
type Snapshot struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Version  int64  `json:"version"`
}

// Room is one live editing session. All mutable state sits behind one
// mutex; each operation is a single critical section, so concurrent events
// on the same room serialize without partial writes.
//
// Rooms are owned by the Registry; nothing else holds a long-lived
// reference.
type Room struct {
	ID string

	mu       sync.RWMutex
	code     string
	language string
	version  int64
	users    []*Participant
	typing   map[string]string // connID -> username
	chat     *ChatLog
}

func newRoom(id string, snap Snapshot) *Room {
	return &Room{
		ID:       id,
		code:     snap.Code,
		language: snap.Language,
		version:  snap.Version,
		typing:   make(map[string]string),
		chat:     NewChatLog(),
	}
}

// Snapshot returns the current document state. It never touches the
// persistence collaborator.
func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{Code: r.code, Language: r.language, Version: r.version}
}

// ApplyCode replaces the buffer verbatim and bumps the version. There is no
// merge: with two concurrent writers the later-applied call wins and the
// other edit is gone from the authoritative copy. Returns the new version.
func (r *Room) ApplyCode(code string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code = code
	r.version++
	return r.version
}

// ApplyLanguage replaces the language tag. The version is deliberately not
// bumped; only code mutations count.
func (r *Room) ApplyLanguage(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.language = tag
}

// Chat returns the room's message log.
func (r *Room) Chat() *ChatLog { return r.chat }

// Users returns a copy of the roster in join order.
func (r *Room) Users() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, len(r.users))
	for i, p := range r.users {
		out[i] = *p
	}
	return out
}

// Size reports the roster length.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Touch refreshes a participant's last-active timestamp.
func (r *Room) Touch(connID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.users {
		if p.ID == connID {
			p.LastActive = now
			return
		}
	}
}

// StartTyping records a transient typing marker for connID. There is no
// server-side timeout; a marker with no matching stop is cleared when the
// connection is dismissed.
func (r *Room) StartTyping(connID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing[connID] = username
}

// StopTyping clears the marker and reports whether one was present.
func (r *Room) StopTyping(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.typing[connID]
	delete(r.typing, connID)
	return ok
}

// peers returns the sinks of every participant except exclude.
func (r *Room) peers(exclude string) []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sink, 0, len(r.users))
	for _, p := range r.users {
		if p.ID != exclude && p.sink != nil {
			out = append(out, p.sink)
		}
	}
	return out
}

// everyone returns all sinks, source included.
func (r *Room) everyone() []Sink {
	return r.peers("")
}
