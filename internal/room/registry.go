package room

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"collabcode/pkg/metrics"
)

// Store is the persistence collaborator consumed for hydration and
// best-effort mirroring of room state. All methods may fail independently;
// failures are never fatal to the coordinator.
type Store interface {
	// Fetch returns the latest snapshot for roomID; found is false when the
	// room was never persisted, which is not an error.
	Fetch(ctx context.Context, roomID string) (snap Snapshot, found bool, err error)
	// Create persists the initial state for a new room.
	Create(ctx context.Context, roomID string, snap Snapshot) error
	// SaveCode stores the new buffer and bumps the persisted version.
	SaveCode(ctx context.Context, roomID, code string) error
	// SaveLanguage stores the new tag without touching the version.
	SaveLanguage(ctx context.Context, roomID, language string) error
}

// persistTimeout bounds the detached write that follows each accepted
// mutation.
const persistTimeout = 5 * time.Second

// Registry owns every live room. It is the only component allowed to hold
// a long-lived *Room; everything else goes through its operations.
type Registry struct {
	log   *slog.Logger
	store Store // nil means in-memory only

	mu    sync.RWMutex
	rooms map[string]*Room

	// overridable for deterministic tests
	now  func() time.Time
	pick func(n int) int
}

func NewRegistry(log *slog.Logger, store Store) *Registry {
	return &Registry{
		log:   log,
		store: store,
		rooms: make(map[string]*Room),
		now:   time.Now,
		pick:  rand.IntN,
	}
}

// GetOrCreate returns the live room for roomID, constructing it on first
// reference. A new room is seeded from the store's snapshot when one
// exists, else from the built-in default, in which case the initial state
// is also persisted. Store absence is not an error; a store failure is,
// and surfaces only to the joining connection.
func (g *Registry) GetOrCreate(ctx context.Context, roomID string) (*Room, error) {
	g.mu.RLock()
	rm := g.rooms[roomID]
	g.mu.RUnlock()
	if rm != nil {
		return rm, nil
	}

	// The store round-trip happens before the room is registered: a failed
	// admission must not leave a half-created room behind.
	snap := Snapshot{Code: DefaultCode, Language: DefaultLanguage, Version: 1}
	hydrated := false
	if g.store != nil {
		stored, found, err := g.store.Fetch(ctx, roomID)
		if err != nil {
			return nil, fmt.Errorf("fetch room %q: %w", roomID, err)
		}
		if found {
			snap = stored
			hydrated = true
		} else if err := g.store.Create(ctx, roomID, snap); err != nil {
			return nil, fmt.Errorf("create room %q: %w", roomID, err)
		}
	}

	g.mu.Lock()
	if existing := g.rooms[roomID]; existing != nil {
		// lost the creation race
		g.mu.Unlock()
		return existing, nil
	}
	rm = newRoom(roomID, snap)
	g.rooms[roomID] = rm
	g.mu.Unlock()

	metrics.ActiveRooms.Set(float64(g.Len()))
	g.log.Debug("room.created", "room", roomID, "hydrated", hydrated)
	return rm, nil
}

// Get returns the live room for roomID, if any.
func (g *Registry) Get(roomID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rm, ok := g.rooms[roomID]
	return rm, ok
}

// RetireIfEmpty drops the room from the registry iff its roster is empty.
// Idempotent; reports whether a removal happened.
func (g *Registry) RetireIfEmpty(roomID string) bool {
	g.mu.Lock()
	rm, ok := g.rooms[roomID]
	if !ok || rm.Size() > 0 {
		g.mu.Unlock()
		return false
	}
	delete(g.rooms, roomID)
	g.mu.Unlock()

	metrics.ActiveRooms.Set(float64(g.Len()))
	g.log.Debug("room.retired", "room", roomID)
	return true
}

// Join resolves (or creates) the room and admits the connection with a
// color drawn from the palette.
//
// Admission happens under the registry read lock, which holds off
// RetireIfEmpty: a last-occupant disconnect cannot retire the room between
// resolution and admission. If the room was retired before the lock was
// taken, resolution starts over.
func (g *Registry) Join(ctx context.Context, roomID, connID, username string, sink Sink) (*Room, Participant, error) {
	for {
		rm, err := g.GetOrCreate(ctx, roomID)
		if err != nil {
			return nil, Participant{}, err
		}
		color := palette[g.pick(len(palette))]

		g.mu.RLock()
		if g.rooms[roomID] != rm {
			// retired behind our back; resolve again
			g.mu.RUnlock()
			continue
		}
		rm.mu.Lock()
		p := rm.admit(connID, username, color, g.now(), sink)
		rm.mu.Unlock()
		g.mu.RUnlock()

		g.log.Info("room.joined", "room", roomID, "user", p.Username, "conn", connID)
		return rm, p, nil
	}
}

// Leave dismisses the connection from one room. Safe to call for a
// connection that already left.
func (g *Registry) Leave(roomID, connID string) (Participant, bool) {
	rm, ok := g.Get(roomID)
	if !ok {
		return Participant{}, false
	}
	return rm.dismiss(connID)
}

// ApplyCodeChange replaces the room's buffer, returning the room and the
// new version. The persistence write is dispatched detached; the caller
// broadcasts without waiting on it.
func (g *Registry) ApplyCodeChange(roomID, code string) (*Room, int64, bool) {
	rm, ok := g.Get(roomID)
	if !ok {
		return nil, 0, false
	}
	v := rm.ApplyCode(code)
	g.persist(roomID, "code", func(ctx context.Context) error {
		return g.store.SaveCode(ctx, roomID, code)
	})
	return rm, v, true
}

// ApplyLanguageChange replaces the room's language tag. No version bump.
func (g *Registry) ApplyLanguageChange(roomID, tag string) (*Room, bool) {
	rm, ok := g.Get(roomID)
	if !ok {
		return nil, false
	}
	rm.ApplyLanguage(tag)
	g.persist(roomID, "language", func(ctx context.Context) error {
		return g.store.SaveLanguage(ctx, roomID, tag)
	})
	return rm, true
}

// AppendMessage stores a chat message in the room's log.
func (g *Registry) AppendMessage(roomID string, m Message) (*Room, Message, bool) {
	rm, ok := g.Get(roomID)
	if !ok {
		return nil, Message{}, false
	}
	stored := rm.Chat().Append(m)
	return rm, stored, true
}

// persist runs fn on a detached goroutine. A failure is logged and counted,
// never surfaced: the in-memory change already happened and already
// broadcast, and must not be reverted or delayed.
func (g *Registry) persist(roomID, field string, fn func(context.Context) error) {
	if g.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			metrics.PersistFailures.Inc()
			g.log.Error("room.persist", "room", roomID, "field", field, "err", err)
		}
	}()
}

// Departure describes one roster removal produced by a disconnect scan.
type Departure struct {
	Room      *Room
	User      Participant
	WasTyping bool
}

// DisconnectAll removes connID from every room it is present in.
// Membership is not indexed by connection, so this scans the whole
// registry; fine at modest scale. The caller broadcasts each departure and
// then retires emptied rooms.
func (g *Registry) DisconnectAll(connID string) []Departure {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, rm := range g.rooms {
		rooms = append(rooms, rm)
	}
	g.mu.RUnlock()

	var out []Departure
	for _, rm := range rooms {
		wasTyping := rm.StopTyping(connID)
		if p, ok := rm.dismiss(connID); ok {
			out = append(out, Departure{Room: rm, User: p, WasTyping: wasTyping})
		}
	}
	return out
}

// Info is the dashboard view of one live room.
type Info struct {
	RoomID    string `json:"roomId"`
	UserCount int    `json:"userCount"`
	Language  string `json:"language"`
}

// List returns a dashboard summary of every live room.
func (g *Registry) List() []Info {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Info, 0, len(g.rooms))
	for id, rm := range g.rooms {
		out = append(out, Info{
			RoomID:    id,
			UserCount: rm.Size(),
			Language:  rm.Snapshot().Language,
		})
	}
	return out
}

// History returns the chat buffer for roomID, empty for an unknown room.
func (g *Registry) History(roomID string) []Message {
	if rm, ok := g.Get(roomID); ok {
		return rm.Chat().History()
	}
	return []Message{}
}

// Len reports the number of live rooms.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
