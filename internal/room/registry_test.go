package room

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory persistence collaborator with fault injection.
type fakeStore struct {
	mu        sync.Mutex
	snaps     map[string]Snapshot
	created   []string
	saved     chan string // receives "code"/"language" after each write
	fetchErr  error
	createErr error
	saveErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{snaps: map[string]Snapshot{}, saved: make(chan string, 16)}
}

func (s *fakeStore) Fetch(_ context.Context, roomID string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return Snapshot{}, false, s.fetchErr
	}
	snap, ok := s.snaps[roomID]
	return snap, ok, nil
}

func (s *fakeStore) Create(_ context.Context, roomID string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.snaps[roomID] = snap
	s.created = append(s.created, roomID)
	return nil
}

func (s *fakeStore) SaveCode(_ context.Context, roomID, code string) error {
	s.mu.Lock()
	err := s.saveErr
	if err == nil {
		snap := s.snaps[roomID]
		snap.Code = code
		snap.Version++
		s.snaps[roomID] = snap
	}
	s.mu.Unlock()
	s.saved <- "code"
	return err
}

func (s *fakeStore) SaveLanguage(_ context.Context, roomID, language string) error {
	s.mu.Lock()
	err := s.saveErr
	if err == nil {
		snap := s.snaps[roomID]
		snap.Language = language
		s.snaps[roomID] = snap
	}
	s.mu.Unlock()
	s.saved <- "language"
	return err
}

func waitSaved(t *testing.T, s *fakeStore, field string) {
	t.Helper()
	select {
	case got := <-s.saved:
		if got != field {
			t.Fatalf("persisted field %q, want %q", got, field)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s persistence", field)
	}
}

// nullSink discards events.
type nullSink struct{}

func (nullSink) Send(Event) {}

func TestGetOrCreateSeedsDefaults(t *testing.T) {
	g := NewRegistry(testLogger(), nil)

	rm, err := g.GetOrCreate(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}

	snap := rm.Snapshot()
	if snap.Code != DefaultCode {
		t.Errorf("code = %q, want default", snap.Code)
	}
	if snap.Language != DefaultLanguage {
		t.Errorf("language = %q, want %q", snap.Language, DefaultLanguage)
	}
	if snap.Version != 1 {
		t.Errorf("version = %d, want 1", snap.Version)
	}
}

func TestGetOrCreateDoesNotResetExisting(t *testing.T) {
	g := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	rm, _ := g.GetOrCreate(ctx, "r1")
	rm.ApplyCode("x = 1")

	again, err := g.GetOrCreate(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if again != rm {
		t.Fatal("second reference should return the same room")
	}
	snap := again.Snapshot()
	if snap.Code != "x = 1" || snap.Version != 2 {
		t.Errorf("rejoin reset state: code=%q version=%d", snap.Code, snap.Version)
	}
}

func TestGetOrCreateHydratesFromStore(t *testing.T) {
	st := newFakeStore()
	st.snaps["r1"] = Snapshot{Code: "persisted", Language: "python", Version: 7}
	g := NewRegistry(testLogger(), st)

	rm, err := g.GetOrCreate(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	snap := rm.Snapshot()
	if snap.Code != "persisted" || snap.Language != "python" || snap.Version != 7 {
		t.Errorf("hydrated snapshot = %+v", snap)
	}
	if len(st.created) != 0 {
		t.Error("hydrated room should not issue a create")
	}
}

func TestGetOrCreatePersistsInitialState(t *testing.T) {
	st := newFakeStore()
	g := NewRegistry(testLogger(), st)

	if _, err := g.GetOrCreate(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	if len(st.created) != 1 || st.created[0] != "r1" {
		t.Errorf("created = %v, want [r1]", st.created)
	}
	if got := st.snaps["r1"]; got.Version != 1 || got.Code != DefaultCode {
		t.Errorf("persisted initial snapshot = %+v", got)
	}
}

func TestJoinSurfacesStoreFailure(t *testing.T) {
	st := newFakeStore()
	st.fetchErr = errors.New("db down")
	g := NewRegistry(testLogger(), st)

	_, _, err := g.Join(context.Background(), "r1", "c1", "ada", nullSink{})
	if err == nil {
		t.Fatal("expected a room-admission error")
	}
	if g.Len() != 0 {
		t.Error("failed admission should not leave a room behind")
	}
}

func TestCreateFailureLeavesNoRoom(t *testing.T) {
	st := newFakeStore()
	st.createErr = errors.New("db down")
	g := NewRegistry(testLogger(), st)

	if _, err := g.GetOrCreate(context.Background(), "r1"); err == nil {
		t.Fatal("expected create failure to surface")
	}
	if g.Len() != 0 {
		t.Error("failed create must not register a room")
	}
}

func TestJoinAdmitsParticipant(t *testing.T) {
	g := NewRegistry(testLogger(), nil)
	g.pick = func(int) int { return 2 }

	rm, p, err := g.Join(context.Background(), "r1", "conn-1234", "", nullSink{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Username != "Userconn" {
		t.Errorf("placeholder username = %q, want Userconn", p.Username)
	}
	if p.Color != palette[2] {
		t.Errorf("color = %q, want %q", p.Color, palette[2])
	}
	if rm.Size() != 1 {
		t.Errorf("roster size = %d, want 1", rm.Size())
	}
}

func TestJoinAllowsDuplicateUsernames(t *testing.T) {
	g := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	g.Join(ctx, "r1", "c1", "ada", nullSink{})
	rm, _, _ := g.Join(ctx, "r1", "c2", "ada", nullSink{})

	if rm.Size() != 2 {
		t.Errorf("roster size = %d, want 2 (duplicate names allowed)", rm.Size())
	}
}

func TestRetireIfEmpty(t *testing.T) {
	g := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	g.Join(ctx, "r1", "c1", "ada", nullSink{})
	if g.RetireIfEmpty("r1") {
		t.Error("occupied room must not be retired")
	}

	g.Leave("r1", "c1")
	if !g.RetireIfEmpty("r1") {
		t.Error("empty room should be retired")
	}
	if g.RetireIfEmpty("r1") {
		t.Error("second retire should be a no-op")
	}
	if _, ok := g.Get("r1"); ok {
		t.Error("retired room still registered")
	}
}

func TestRejoinAfterRetireIsFresh(t *testing.T) {
	g := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	rm, _, _ := g.Join(ctx, "r1", "c1", "ada", nullSink{})
	rm.ApplyCode("x = 1")
	g.Leave("r1", "c1")
	g.RetireIfEmpty("r1")

	again, _, err := g.Join(ctx, "r1", "c2", "bob", nullSink{})
	if err != nil {
		t.Fatal(err)
	}
	if again == rm {
		t.Fatal("rejoin returned the stale retired room")
	}
	if snap := again.Snapshot(); snap.Code != DefaultCode || snap.Version != 1 {
		t.Errorf("rejoined room not fresh: %+v", snap)
	}
}

func TestApplyCodeChangePersistsAsync(t *testing.T) {
	st := newFakeStore()
	g := NewRegistry(testLogger(), st)
	ctx := context.Background()
	g.Join(ctx, "r1", "c1", "ada", nullSink{})

	rm, v, ok := g.ApplyCodeChange("r1", "x = 1")
	if !ok {
		t.Fatal("room should exist")
	}
	if v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
	if rm.Snapshot().Code != "x = 1" {
		t.Error("in-memory code not applied")
	}

	waitSaved(t, st, "code")
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.snaps["r1"].Code != "x = 1" {
		t.Errorf("persisted code = %q", st.snaps["r1"].Code)
	}
}

func TestPersistFailureIsInvisible(t *testing.T) {
	st := newFakeStore()
	g := NewRegistry(testLogger(), st)
	ctx := context.Background()
	g.Join(ctx, "r1", "c1", "ada", nullSink{})
	st.mu.Lock()
	st.saveErr = errors.New("db down")
	st.mu.Unlock()

	_, v, ok := g.ApplyCodeChange("r1", "x = 1")
	if !ok || v != 2 {
		t.Fatalf("in-memory change must succeed regardless of store: ok=%v v=%d", ok, v)
	}
	waitSaved(t, st, "code")

	rm, _ := g.Get("r1")
	if snap := rm.Snapshot(); snap.Code != "x = 1" || snap.Version != 2 {
		t.Errorf("persist failure reverted state: %+v", snap)
	}
}

func TestApplyLanguageChangePersistsWithoutVersionBump(t *testing.T) {
	st := newFakeStore()
	g := NewRegistry(testLogger(), st)
	ctx := context.Background()
	g.Join(ctx, "r1", "c1", "ada", nullSink{})

	if _, ok := g.ApplyLanguageChange("r1", "python"); !ok {
		t.Fatal("room should exist")
	}
	waitSaved(t, st, "language")

	rm, _ := g.Get("r1")
	if snap := rm.Snapshot(); snap.Language != "python" || snap.Version != 1 {
		t.Errorf("snapshot after language change = %+v", snap)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.snaps["r1"].Version != 1 {
		t.Errorf("persisted version = %d, language change must not bump", st.snaps["r1"].Version)
	}
}

func TestApplyCodeChangeUnknownRoom(t *testing.T) {
	g := NewRegistry(testLogger(), nil)
	if _, _, ok := g.ApplyCodeChange("ghost", "x"); ok {
		t.Error("unknown room should report false")
	}
}

func TestDisconnectAllScansEveryRoom(t *testing.T) {
	g := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	g.Join(ctx, "r1", "c1", "ada", nullSink{})
	g.Join(ctx, "r2", "c1", "ada", nullSink{})
	g.Join(ctx, "r2", "c2", "bob", nullSink{})
	if rm, _ := g.Get("r1"); rm != nil {
		rm.StartTyping("c1", "ada")
	}

	deps := g.DisconnectAll("c1")
	if len(deps) != 2 {
		t.Fatalf("departures = %d, want 2", len(deps))
	}
	var sawTyping bool
	for _, d := range deps {
		if d.User.ID != "c1" {
			t.Errorf("departure user = %q, want c1", d.User.ID)
		}
		if d.Room.ID == "r1" && d.WasTyping {
			sawTyping = true
		}
	}
	if !sawTyping {
		t.Error("expected the r1 departure to carry the typing marker")
	}

	rm2, _ := g.Get("r2")
	if rm2.Size() != 1 {
		t.Errorf("r2 roster = %d, want 1", rm2.Size())
	}
	if again := g.DisconnectAll("c1"); len(again) != 0 {
		t.Errorf("second disconnect produced %d departures, want 0", len(again))
	}
}

func TestListAndHistory(t *testing.T) {
	g := NewRegistry(testLogger(), nil)
	ctx := context.Background()
	g.Join(ctx, "r1", "c1", "ada", nullSink{})
	g.ApplyLanguageChange("r1", "python")
	g.AppendMessage("r1", Message{Body: "hello", UserID: "c1"})

	infos := g.List()
	if len(infos) != 1 {
		t.Fatalf("List = %d rooms, want 1", len(infos))
	}
	if infos[0].RoomID != "r1" || infos[0].UserCount != 1 || infos[0].Language != "python" {
		t.Errorf("info = %+v", infos[0])
	}

	if got := g.History("r1"); len(got) != 1 || got[0].Body != "hello" {
		t.Errorf("history = %+v", got)
	}
	if got := g.History("ghost"); len(got) != 0 {
		t.Errorf("unknown room history = %d messages, want 0", len(got))
	}
}

func TestJoinRacingRetireKeepsRoomRegistered(t *testing.T) {
	g := NewRegistry(testLogger(), nil)
	ctx := context.Background()
	g.Join(ctx, "r1", "c1", "ada", nullSink{})

	// The color pick sits between room resolution and admission; use it to
	// retire the room right inside that window, like a last-occupant
	// disconnect landing mid-join.
	fired := false
	g.pick = func(int) int {
		if !fired {
			fired = true
			g.Leave("r1", "c1")
			if !g.RetireIfEmpty("r1") {
				t.Error("setup: room should have been retirable")
			}
		}
		return 0
	}

	rm, _, err := g.Join(ctx, "r1", "c2", "bob", nullSink{})
	if err != nil {
		t.Fatal(err)
	}

	registered, ok := g.Get("r1")
	if !ok {
		t.Fatal("room absent from registry after racing retire")
	}
	if registered != rm {
		t.Fatal("joiner admitted into an unregistered room instance")
	}
	if rm.Size() != 1 {
		t.Errorf("roster size = %d, want 1", rm.Size())
	}
	// The disconnect scan must still find the participant.
	if deps := g.DisconnectAll("c2"); len(deps) != 1 {
		t.Errorf("disconnect scan found %d departures, want 1", len(deps))
	}
}

func TestConcurrentJoinsSingleRoomInstance(t *testing.T) {
	g := NewRegistry(testLogger(), nil)
	ctx := context.Background()

	const n = 50
	rooms := make(chan *Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rm, _, err := g.Join(ctx, "r1", "conn", "u", nullSink{})
			if err != nil {
				t.Error(err)
				return
			}
			rooms <- rm
		}(i)
	}
	wg.Wait()
	close(rooms)

	var first *Room
	for rm := range rooms {
		if first == nil {
			first = rm
		} else if rm != first {
			t.Fatal("concurrent joins produced distinct room instances")
		}
	}
	if g.Len() != 1 {
		t.Errorf("registry size = %d, want 1", g.Len())
	}
}
