package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
)

func TestGetIdempotency_BlankInputs_ReturnNotFound(t *testing.T) {
	db := newBareDB(t, &domain.Idempotency{})
	now := time.Now().UTC()

	if rec, err := GetIdempotency(context.Background(), db, "u1", "   ", "k1", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank chatroom, got (%v, %v)", rec, err)
	}
	if rec, err := GetIdempotency(context.Background(), db, "u1", "r1", "", now); rec != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for blank key, got (%v, %v)", rec, err)
	}
}

func TestIdempotency_CreateGetExpireAndPurge(t *testing.T) {
	db := newBareDB(t, &domain.Idempotency{})
	ctx := context.Background()

	rec, err := CreateIdempotency(ctx, db, "alice", "r1", "k1", "m1", time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.ID == "" || rec.MessageID != "m1" || !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, err := CreateIdempotency(ctx, db, "alice", "r1", "k1", "m2", time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := GetIdempotency(ctx, db, "alice", "r1", "k1", time.Now().UTC())
	if err != nil || got.MessageID != "m1" {
		t.Fatalf("GetIdempotency = %+v, %v", got, err)
	}

	later := time.Now().UTC().Add(2 * time.Hour)
	if _, err := GetIdempotency(ctx, db, "alice", "r1", "k1", later); err != ErrNotFound {
		t.Fatalf("expired record should be invisible, got %v", err)
	}
	n, err := PurgeExpiredIdempotency(ctx, db, later)
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpiredIdempotency = %d, %v", n, err)
	}
}
