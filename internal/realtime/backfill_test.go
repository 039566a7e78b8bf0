package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tbourn/go-chatroom-delivery/internal/cache"
	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/events"
	"github.com/tbourn/go-chatroom-delivery/internal/presence"
	"github.com/tbourn/go-chatroom-delivery/internal/repo"
	"github.com/tbourn/go-chatroom-delivery/internal/services"
)

// newRoutedGateway serves a gateway backed by a real MessageRouter over a
// temp SQLite database. The router and the gateway share one registry.
func newRoutedGateway(t *testing.T, opts services.RouterOptions) (*services.MessageRouter, string) {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "gw.db"))
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
	if _, err := repo.CreateChatroom(context.Background(), db, "cohort", "", []domain.Participant{
		{UserID: "alice", FirstName: "Alice", Role: "member"},
		{UserID: "bob", FirstName: "Bob", Role: "member"},
	}); err != nil {
		t.Fatalf("CreateChatroom: %v", err)
	}

	reg := presence.NewRegistry()
	layer := cache.NewLayer(cache.NewMemoryStore(), services.RosterSource{DB: db}, time.Hour, time.Hour)
	router := services.NewMessageRouter(db, layer, reg, opts)

	g := NewGateway(router, reg, Options{})
	srv := httptest.NewServer(g)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = g.Shutdown(ctx)
		srv.Close()
	})
	return router, "ws" + strings.TrimPrefix(srv.URL, "http")
}

// readBackfill collects backfilled message.received events until the
// backfill.complete carrying id arrives.
func readBackfill(t *testing.T, ctx context.Context, conn *websocket.Conn, id string) ([]events.MessageView, events.BackfillComplete) {
	t.Helper()
	var got []events.MessageView
	for {
		var env events.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			t.Fatalf("waiting for backfill.complete: %v", err)
		}
		switch env.Type {
		case events.TypeMessageReceived:
			var p events.MessageEvent
			if err := json.Unmarshal(env.Data, &p); err != nil {
				t.Fatalf("decode message.received: %v", err)
			}
			if !p.Backfill {
				t.Fatalf("live message %s arrived during backfill", p.Message.ID)
			}
			got = append(got, p.Message)
		case events.TypeBackfillComplete:
			if env.ID != id {
				t.Fatalf("backfill.complete id = %q, want %q", env.ID, id)
			}
			var done events.BackfillComplete
			if err := json.Unmarshal(env.Data, &done); err != nil {
				t.Fatalf("decode backfill.complete: %v", err)
			}
			return got, done
		}
	}
}

func TestGateway_ReconnectBackfillStreamsThenCompletes(t *testing.T) {
	router, url := newRoutedGateway(t, services.RouterOptions{BackfillLimit: 2})
	ctx := context.Background()

	var sent []string
	for _, body := range []string{"one", "two", "three"} {
		res, err := router.Send(ctx, services.SendCommand{ChatroomName: "cohort", SenderID: "alice", Body: body})
		if err != nil {
			t.Fatalf("Send(%s): %v", body, err)
		}
		sent = append(sent, res.Message.ID)
	}

	c := dial(t, url)
	connect(t, c, "bob")

	rctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	write(t, c, events.TypeBackfill, "bf-1", events.Backfill{ChatroomNames: []string{"cohort", "elsewhere"}})
	got, done := readBackfill(t, rctx, c, "bf-1")
	if len(got) != len(sent) || done.Count != len(sent) {
		t.Fatalf("backfill streamed %d, complete.count=%d, want %d", len(got), done.Count, len(sent))
	}
	for i, m := range got {
		if m.ID != sent[i] || m.ChatroomName != "cohort" || m.Sender.ID != "alice" {
			t.Fatalf("backfill[%d] = %+v, want message %s", i, m, sent[i])
		}
	}

	// Once bob acknowledges delivery the message is no longer owed.
	write(t, c, events.TypeAck, "a1", events.Ack{ChatroomName: "cohort", MessageID: sent[0], Kind: "delivered"})
	write(t, c, events.TypeBackfill, "bf-2", events.Backfill{ChatroomNames: []string{"cohort"}})
	got, done = readBackfill(t, rctx, c, "bf-2")
	if len(got) != 2 || done.Count != 2 || got[0].ID != sent[1] || got[1].ID != sent[2] {
		t.Fatalf("second backfill = %+v (count %d)", got, done.Count)
	}
}

func TestGateway_BackfillForNonMemberCompletesEmpty(t *testing.T) {
	router, url := newRoutedGateway(t, services.RouterOptions{})
	if _, err := router.Send(context.Background(), services.SendCommand{ChatroomName: "cohort", SenderID: "alice", Body: "members only"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	c := dial(t, url)
	connect(t, c, "mallory")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	write(t, c, events.TypeBackfill, "bf", events.Backfill{ChatroomNames: []string{"cohort"}})
	got, done := readBackfill(t, ctx, c, "bf")
	if len(got) != 0 || done.Count != 0 {
		t.Fatalf("non-member backfill = %+v (count %d)", got, done.Count)
	}
}
