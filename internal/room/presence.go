package room

import "time"

// palette holds the display colors participants are drawn from. Draws are
// pseudo-random; two participants in one room may share a color.
var palette = [...]string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
}

// Participant is one connected user's presence record within a room.
type Participant struct {
	ID         string    `json:"id"` // connection id
	Username   string    `json:"username"`
	Color      string    `json:"color"`
	LastActive time.Time `json:"-"`

	sink Sink
}

// DisplayName falls back to a generated placeholder when username is empty.
func DisplayName(username, connID string) string {
	if username != "" {
		return username
	}
	short := connID
	if len(short) > 4 {
		short = short[:4]
	}
	return "User" + short
}

// admit appends a participant to the roster. Duplicate usernames are
// allowed; the roster is keyed by connection id only. Caller holds r.mu.
func (r *Room) admit(connID, username, color string, now time.Time, sink Sink) Participant {
	p := &Participant{
		ID:         connID,
		Username:   DisplayName(username, connID),
		Color:      color,
		LastActive: now,
		sink:       sink,
	}
	r.users = append(r.users, p)
	return *p
}

// dismiss removes and returns the participant for connID. The second call
// for the same id reports absence; disconnect may race an explicit leave.
// Any transient typing state for the connection is cleared with it.
func (r *Room) dismiss(connID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.users {
		if p.ID == connID {
			r.users = append(r.users[:i], r.users[i+1:]...)
			delete(r.typing, connID)
			return *p, true
		}
	}
	return Participant{}, false
}
