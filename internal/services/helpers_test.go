package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-delivery/internal/cache"
	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/events"
	"github.com/tbourn/go-chatroom-delivery/internal/repo"
)

// fakeNotifier records pushed events per identity. Identities not marked
// online refuse pushes, as the presence registry does.
type fakeNotifier struct {
	mu     sync.Mutex
	online map[string]bool
	full   map[string]bool
	got    map[string][]events.Envelope
}

func newNotifier(online ...string) *fakeNotifier {
	n := &fakeNotifier{online: map[string]bool{}, full: map[string]bool{}, got: map[string][]events.Envelope{}}
	for _, id := range online {
		n.online[id] = true
	}
	return n
}

func (n *fakeNotifier) Send(identity string, ev events.Envelope) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.online[identity] || n.full[identity] {
		return false
	}
	n.got[identity] = append(n.got[identity], ev)
	return true
}

func (n *fakeNotifier) IsOnline(identity string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online[identity]
}

func (n *fakeNotifier) setOnline(identity string, on bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.online[identity] = on
}

// of returns the events of type typ pushed to identity.
func (n *fakeNotifier) of(identity, typ string) []events.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []events.Envelope
	for _, ev := range n.got[identity] {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func decode[T any](t *testing.T, ev events.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(ev.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", ev.Type, err)
	}
	return v
}

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

type fixture struct {
	db     *gorm.DB
	layer  *cache.Layer
	notify *fakeNotifier
	router *MessageRouter
}

func newFixture(t *testing.T, opts RouterOptions, online ...string) *fixture {
	t.Helper()
	db := newServiceDB(t)
	layer := cache.NewLayer(cache.NewMemoryStore(), RosterSource{DB: db}, time.Hour, time.Hour)
	n := newNotifier(online...)
	return &fixture{db: db, layer: layer, notify: n, router: NewMessageRouter(db, layer, n, opts)}
}

func (f *fixture) room(t *testing.T, name string, members ...string) *domain.Chatroom {
	t.Helper()
	ps := make([]domain.Participant, 0, len(members))
	for _, m := range members {
		ps = append(ps, domain.Participant{UserID: m, FirstName: m, Role: "member"})
	}
	c, err := repo.CreateChatroom(context.Background(), f.db, name, "", ps)
	if err != nil {
		t.Fatalf("CreateChatroom(%q): %v", name, err)
	}
	return c
}

func (f *fixture) send(t *testing.T, room, sender, body string) *domain.ChatMessage {
	t.Helper()
	res, err := f.router.Send(context.Background(), SendCommand{ChatroomName: room, SenderID: sender, Body: body})
	if err != nil {
		t.Fatalf("Send(%s by %s): %v", room, sender, err)
	}
	return res.Message
}

func (f *fixture) ack(t *testing.T, room, msgID, recipient string, kind domain.AckKind) AckResult {
	t.Helper()
	res, err := f.router.Ack(context.Background(), AckCommand{ChatroomName: room, MessageID: msgID, RecipientID: recipient, Kind: kind})
	if err != nil {
		t.Fatalf("Ack(%s by %s): %v", kind, recipient, err)
	}
	return res
}

func (f *fixture) status(t *testing.T, msgID string) domain.Status {
	t.Helper()
	m, err := repo.GetMessage(context.Background(), f.db, "", msgID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	return m.Status
}

func receiptIDs(t *testing.T, db *gorm.DB, msgID string, kind domain.AckKind) []string {
	t.Helper()
	rs, err := repo.ListReceipts(context.Background(), db, msgID, kind)
	if err != nil {
		t.Fatalf("ListReceipts: %v", err)
	}
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.RecipientID)
	}
	return out
}
