package changefeed

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/repo"
)

func newFeedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "feed.db"))
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

func next(t *testing.T, ch <-chan domain.ChatroomChange) domain.ChatroomChange {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatalf("feed closed")
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a change")
	}
	return domain.ChatroomChange{}
}

func TestPollingFeed_DeliversChangesAfterSubscribe(t *testing.T) {
	db := newFeedDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Written before subscribing, so not delivered.
	c, err := repo.CreateChatroom(ctx, db, "before", "", nil)
	if err != nil {
		t.Fatalf("CreateChatroom: %v", err)
	}

	f := &PollingFeed{DB: db, Interval: 10 * time.Millisecond, BatchSize: 1}
	ch, err := f.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := repo.AddParticipant(ctx, db, c.ID, domain.Participant{UserID: "bob"}); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if err := repo.RenameChatroom(ctx, db, c.ID, "after"); err != nil {
		t.Fatalf("RenameChatroom: %v", err)
	}

	first := next(t, ch)
	if first.Kind != domain.ChangeParticipantAdded || first.ParticipantID != "bob" || first.ChatroomName != "before" {
		t.Fatalf("first change = %+v", first)
	}
	second := next(t, ch)
	if second.Kind != domain.ChangeRenamed || second.ChatroomName != "after" || second.PreviousName != "before" {
		t.Fatalf("second change = %+v", second)
	}
	if second.Seq <= first.Seq {
		t.Fatalf("changes out of order: %d then %d", first.Seq, second.Seq)
	}
}

func TestPollingFeed_ClosesOnCancel(t *testing.T) {
	db := newFeedDB(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := NewPollingFeed(db, 5*time.Millisecond).Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("no changes were written")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("feed did not close after cancel")
	}
}

func TestPollingFeed_SubscribeFailsOnClosedStore(t *testing.T) {
	db := newFeedDB(t)
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	if _, err := NewPollingFeed(db, time.Second).Subscribe(context.Background()); err == nil {
		t.Fatalf("expected an error reading the initial position")
	}
}
