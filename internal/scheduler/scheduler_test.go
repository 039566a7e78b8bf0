package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/go-chatroom-delivery/internal/cache"
	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/events"
)

var errMissing = errors.New("missing")

type mapSource struct {
	mu    sync.Mutex
	rooms map[string]*domain.Chatroom
	all   int
}

func (m *mapSource) set(c *domain.Chatroom) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[c.Name] = c
}

func (m *mapSource) drop(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, name)
}

func (m *mapSource) LoadChatroom(_ context.Context, name string) (*domain.Chatroom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rooms[name]
	if !ok {
		return nil, errMissing
	}
	cp := *c
	return &cp, nil
}

func (m *mapSource) LoadChatrooms(_ context.Context) ([]domain.Chatroom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all++
	out := make([]domain.Chatroom, 0, len(m.rooms))
	for _, c := range m.rooms {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mapSource) refreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.all
}

type chanFeed struct{ ch chan domain.ChatroomChange }

func (f chanFeed) Subscribe(context.Context) (<-chan domain.ChatroomChange, error) { return f.ch, nil }

type failingFeed struct{}

func (failingFeed) Subscribe(context.Context) (<-chan domain.ChatroomChange, error) {
	return nil, errMissing
}

type fakeReconciler struct{ calls, purges atomic.Int32 }

func (f *fakeReconciler) ReconcilePending(context.Context) (int, int, error) {
	f.calls.Add(1)
	return 1, 0, nil
}

func (f *fakeReconciler) PurgeExpired(context.Context) (int64, error) {
	f.purges.Add(1)
	return 0, nil
}

type recorder struct {
	mu     sync.Mutex
	online map[string]bool
	got    map[string][]events.Envelope
}

func newRecorder(online ...string) *recorder {
	r := &recorder{online: map[string]bool{}, got: map[string][]events.Envelope{}}
	for _, id := range online {
		r.online[id] = true
	}
	return r
}

func (r *recorder) Send(identity string, ev events.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got[identity] = append(r.got[identity], ev)
	return true
}

func (r *recorder) IsOnline(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[identity]
}

func (r *recorder) count(identity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got[identity])
}

func room(id, name string, members ...string) *domain.Chatroom {
	c := &domain.Chatroom{ID: id, Name: name}
	for _, m := range members {
		c.Participants = append(c.Participants, domain.Participant{ChatroomID: id, UserID: m})
	}
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScheduler_StartWarmsCacheAndRejectsDoubleStart(t *testing.T) {
	src := &mapSource{rooms: map[string]*domain.Chatroom{}}
	src.set(room("1", "r", "alice"))
	layer := cache.NewLayer(cache.NewMemoryStore(), src, time.Hour, time.Hour)

	s := &Scheduler{Cache: layer, RefreshInterval: time.Hour}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if _, ok := layer.Peek("r"); !ok {
		t.Fatalf("roster should be cached after Start")
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start err = %v", err)
	}
}

func TestScheduler_StartDropsRostersOfDeletedChatrooms(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	src := &mapSource{rooms: map[string]*domain.Chatroom{}}
	src.set(room("1", "kept", "alice"))
	src.set(room("2", "gone", "alice", "bob"))

	store, err := cache.OpenPebbleStore(dir)
	if err != nil {
		t.Fatalf("OpenPebbleStore: %v", err)
	}
	if _, err := cache.NewLayer(store, src, time.Hour, time.Hour).RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	_ = store.Close()

	// "gone" is deleted while the process is down.
	src.drop("gone")
	store, err = cache.OpenPebbleStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	layer := cache.NewLayer(store, src, time.Hour, time.Hour)
	if _, ok := layer.Peek("gone"); !ok {
		t.Fatalf("setup: the persisted roster should still be there before Start")
	}

	s := &Scheduler{Cache: layer, RefreshInterval: time.Hour}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if _, ok := layer.Peek("gone"); ok {
		t.Fatalf("roster of a deleted chatroom survived Start")
	}
	if _, ok := layer.Peek("kept"); !ok {
		t.Fatalf("existing chatroom should be cached after Start")
	}
}

func TestScheduler_StartErrors(t *testing.T) {
	layer := cache.NewLayer(cache.NewMemoryStore(), &mapSource{rooms: map[string]*domain.Chatroom{}}, time.Hour, time.Hour)

	if err := (&Scheduler{Cache: layer, RefreshCron: "not a cron"}).Start(context.Background()); err == nil {
		t.Fatalf("invalid cron should fail Start")
	}
	if err := (&Scheduler{Cache: layer, Feed: failingFeed{}}).Start(context.Background()); err == nil {
		t.Fatalf("feed subscribe failure should fail Start")
	}
}

func TestScheduler_RefreshLoopAndRetryLoopTick(t *testing.T) {
	src := &mapSource{rooms: map[string]*domain.Chatroom{}}
	layer := cache.NewLayer(cache.NewMemoryStore(), src, time.Hour, time.Hour)
	rec := &fakeReconciler{}

	s := &Scheduler{Cache: layer, Router: rec, RefreshInterval: 10 * time.Millisecond, RetryInterval: 10 * time.Millisecond}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, "repeated roster refresh", func() bool { return src.refreshes() >= 3 })
	eventually(t, "offline retry", func() bool { return rec.calls.Load() >= 2 && rec.purges.Load() >= 2 })

	s.Stop()
	calls := rec.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if rec.calls.Load() != calls {
		t.Fatalf("retry loop kept running after Stop")
	}
}

func TestScheduler_NextRefreshFollowsCron(t *testing.T) {
	s := &Scheduler{RefreshCron: "*/5 * * * *", now: func() time.Time {
		return time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	}}
	d, err := s.nextRefresh()
	if err != nil {
		t.Fatalf("nextRefresh: %v", err)
	}
	if d != 4*time.Minute+30*time.Second {
		t.Fatalf("wait = %v, want 4m30s", d)
	}

	s = &Scheduler{RefreshInterval: time.Minute}
	if d, _ := s.nextRefresh(); d != time.Minute {
		t.Fatalf("interval wait = %v", d)
	}
}

func TestScheduler_ChangeLoopNotifiesBeforeAndAfterMembers(t *testing.T) {
	src := &mapSource{rooms: map[string]*domain.Chatroom{}}
	src.set(room("1", "r", "alice", "bob"))
	layer := cache.NewLayer(cache.NewMemoryStore(), src, time.Hour, time.Hour)
	feed := chanFeed{ch: make(chan domain.ChatroomChange, 4)}
	rec := newRecorder("alice", "bob", "carol")

	s := &Scheduler{Cache: layer, Feed: feed, Presence: rec, RefreshInterval: time.Hour}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// bob leaves, carol joins.
	src.set(room("1", "r", "alice", "carol"))
	feed.ch <- domain.ChatroomChange{Seq: 1, ChatroomID: "1", ChatroomName: "r", Kind: domain.ChangeParticipantRemoved, ParticipantID: "bob"}

	eventually(t, "chatroom.updated fan-out", func() bool {
		return rec.count("alice") == 1 && rec.count("bob") == 1 && rec.count("carol") == 1
	})
	ro, ok := layer.Peek("r")
	if !ok || ro.Has("bob") || !ro.Has("carol") {
		t.Fatalf("cached roster = %+v", ro)
	}

	rec.mu.Lock()
	ev := rec.got["bob"][0]
	rec.mu.Unlock()
	if ev.Type != events.TypeChatroomUpdated {
		t.Fatalf("event type = %s", ev.Type)
	}
}

func TestScheduler_ChangeLoopHandlesRenameAndDelete(t *testing.T) {
	src := &mapSource{rooms: map[string]*domain.Chatroom{}}
	src.set(room("1", "old", "alice"))
	layer := cache.NewLayer(cache.NewMemoryStore(), src, time.Hour, time.Hour)
	feed := chanFeed{ch: make(chan domain.ChatroomChange, 4)}
	rec := newRecorder("alice")

	s := &Scheduler{Cache: layer, Feed: feed, Presence: rec, RefreshInterval: time.Hour}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	src.drop("old")
	src.set(room("1", "new", "alice"))
	feed.ch <- domain.ChatroomChange{Seq: 1, ChatroomID: "1", ChatroomName: "new", PreviousName: "old", Kind: domain.ChangeRenamed}
	eventually(t, "rename notification", func() bool { return rec.count("alice") == 1 })
	if _, ok := layer.Peek("old"); ok {
		t.Fatalf("old name should be evicted")
	}
	if _, ok := layer.Peek("new"); !ok {
		t.Fatalf("new name should be cached")
	}

	src.drop("new")
	feed.ch <- domain.ChatroomChange{Seq: 2, ChatroomID: "1", ChatroomName: "new", Kind: domain.ChangeDeleted}
	eventually(t, "delete notification", func() bool { return rec.count("alice") == 2 })
	if _, ok := layer.Peek("new"); ok {
		t.Fatalf("deleted chatroom should be evicted")
	}
}
