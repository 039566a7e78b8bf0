package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
)

func TestMessagesStats_CountError_NoTable(t *testing.T) {
	db := newBareDB(t /* no migrations */)
	if _, _, err := MessagesStats(context.Background(), db, "r1"); err == nil {
		t.Fatalf("expected error due to missing chat_messages table")
	}
}

func TestMessagesStats_ZeroRows(t *testing.T) {
	db := newRepoDB(t)
	n, max, err := MessagesStats(context.Background(), db, "r1")
	if err != nil || n != 0 || max != nil {
		t.Fatalf("expected (0, nil, nil), got (%d, %v, %v)", n, max, err)
	}
}

func TestMessagesStats_TracksStatusAdvance(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	room := seedRoom(t, db, "a", "alice", "bob")
	seedMessage(t, db, room.ID, "alice", "one")
	m := seedMessage(t, db, room.ID, "alice", "two")

	n, before, err := MessagesStats(ctx, db, room.ID)
	if err != nil || n != 2 || before == nil {
		t.Fatalf("stats = %d, %v, %v", n, before, err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := AdvanceStatus(ctx, db, m.ID, domain.StatusDelivered); err != nil {
		t.Fatalf("AdvanceStatus: %v", err)
	}
	_, after, _ := MessagesStats(ctx, db, room.ID)
	if after == nil || !after.After(*before) {
		t.Fatalf("max updated_at should move forward: before=%v after=%v", before, after)
	}
}
