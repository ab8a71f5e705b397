package room

import (
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"
)

// HistoryCap bounds the per-room chat buffer; the oldest message is
// evicted first once the cap is exceeded.
const HistoryCap = 100

// Message kinds accepted from clients. The payload in FileData is opaque
// here; whatever the emitting client attached is stored and fanned out as-is.
const (
	KindText  = "text"
	KindVoice = "voice"
	KindImage = "image"
	KindFile  = "file"
)

// Message is one immutable chat entry. IDs are time-based with a random
// suffix, so uniqueness is probabilistic, never an invariant.
type Message struct {
	ID        string          `json:"id"`
	Username  string          `json:"username"`
	Body      string          `json:"message"`
	Kind      string          `json:"type"`
	FileData  json.RawMessage `json:"fileData,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"userId"`
}

// ChatLog is a capped, insertion-ordered message buffer. Append and the
// eviction it may trigger happen under one lock acquisition.
type ChatLog struct {
	mu   sync.Mutex
	msgs []Message

	now    func() time.Time
	suffix func() string
}

func NewChatLog() *ChatLog {
	return &ChatLog{now: time.Now, suffix: randSuffix}
}

// Append stores m at the tail, filling in id, kind, and timestamp when the
// caller left them empty, and evicts from the head while over cap. The
// stored message is returned for broadcast.
func (l *ChatLog) Append(m Message) Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m.Timestamp.IsZero() {
		m.Timestamp = l.now()
	}
	if m.ID == "" {
		m.ID = strconv.FormatInt(m.Timestamp.UnixMilli(), 10) + "-" + l.suffix()
	}
	if m.Kind == "" {
		m.Kind = KindText
	}

	l.msgs = append(l.msgs, m)
	for len(l.msgs) > HistoryCap {
		l.msgs = l.msgs[1:]
	}
	return m
}

// History returns a copy of the buffer, oldest first. A room with no
// messages yields an empty slice.
func (l *ChatLog) History() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Len reports the current buffer length.
func (l *ChatLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

const suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// randSuffix returns 9 base36 characters.
func randSuffix() string {
	b := make([]byte, 9)
	for i := range b {
		b[i] = suffixAlphabet[rand.IntN(len(suffixAlphabet))]
	}
	return string(b)
}
