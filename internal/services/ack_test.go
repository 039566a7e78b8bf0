package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/tbourn/go-chatroom-delivery/internal/cache"
	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/events"
	"github.com/tbourn/go-chatroom-delivery/internal/repo"
)

func sorted(ids []string) string {
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// alice sends "hi" to cohort-A {alice, bob, carol}; bob then carol
// acknowledge delivery.
func TestAck_CohortScenario(t *testing.T) {
	f := newFixture(t, RouterOptions{}, "alice", "bob", "carol")
	c := f.room(t, "cohort-A", "alice", "bob", "carol")
	m := f.send(t, "cohort-A", "alice", "hi")
	key := cache.AckKey{ChatroomID: c.ID, SenderID: "alice", MessageID: m.ID, Kind: domain.AckDelivered}

	if n := len(f.notify.of("bob", events.TypeMessageReceived)) + len(f.notify.of("carol", events.TypeMessageReceived)); n != 2 {
		t.Fatalf("recipients got %d messages, want 2", n)
	}

	res := f.ack(t, "cohort-A", m.ID, "bob", domain.AckDelivered)
	if !res.Applied || res.Flushed || res.Status != domain.StatusSent || res.Pending {
		t.Fatalf("bob ack = %+v", res)
	}
	if acc, _ := f.layer.ListAcks(key); len(acc) != 1 || acc[0].UserID != "bob" {
		t.Fatalf("accumulator = %+v", acc)
	}
	if got := receiptIDs(t, f.db, m.ID, domain.AckDelivered); len(got) != 0 {
		t.Fatalf("nothing should be durable before the flush, got %v", got)
	}
	if s := f.status(t, m.ID); s != domain.StatusSent {
		t.Fatalf("status = %s, want sent", s)
	}

	res = f.ack(t, "cohort-A", m.ID, "carol", domain.AckDelivered)
	if !res.Applied || !res.Flushed || res.Status != domain.StatusDelivered {
		t.Fatalf("carol ack = %+v", res)
	}
	if got := sorted(receiptIDs(t, f.db, m.ID, domain.AckDelivered)); got != "bob,carol" {
		t.Fatalf("durable delivered = %s", got)
	}
	if s := f.status(t, m.ID); s != domain.StatusDelivered {
		t.Fatalf("status = %s, want delivered", s)
	}
	if acc, _ := f.layer.ListAcks(key); len(acc) != 0 {
		t.Fatalf("accumulator should be cleared, got %+v", acc)
	}

	b := f.notify.of("alice", events.TypeAckBroadcast)
	if len(b) != 2 {
		t.Fatalf("alice saw %d ack broadcasts, want 2", len(b))
	}
	last := decode[events.AckBroadcast](t, b[1])
	if last.Recipient.UserID != "carol" || last.Status != string(domain.StatusDelivered) || last.ChatroomName != "cohort-A" {
		t.Fatalf("broadcast = %+v", last)
	}
}

func TestAck_RepeatIsSilentNoOp(t *testing.T) {
	f := newFixture(t, RouterOptions{}, "alice", "bob", "carol")
	f.room(t, "r", "alice", "bob", "carol")
	m := f.send(t, "r", "alice", "hi")

	f.ack(t, "r", m.ID, "bob", domain.AckDelivered)
	res := f.ack(t, "r", m.ID, "bob", domain.AckDelivered)
	if res.Applied {
		t.Fatalf("second ack should not apply")
	}
	if n := len(f.notify.of("alice", events.TypeAckBroadcast)); n != 1 {
		t.Fatalf("broadcasts = %d, want 1", n)
	}

	// After the flush the durable set is the one checked.
	f.ack(t, "r", m.ID, "carol", domain.AckDelivered)
	res = f.ack(t, "r", m.ID, "carol", domain.AckDelivered)
	if res.Applied {
		t.Fatalf("ack after flush should not apply")
	}
	if got := receiptIDs(t, f.db, m.ID, domain.AckDelivered); len(got) != 2 {
		t.Fatalf("durable set size = %d, want 2", len(got))
	}
}

func TestAck_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	f := newFixture(t, RouterOptions{}, "alice", "bob")
	f.room(t, "r", "alice", "bob", "carol")
	m := f.send(t, "r", "alice", "hi")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.router.Ack(context.Background(), AckCommand{ChatroomName: "r", MessageID: m.ID, RecipientID: "bob", Kind: domain.AckDelivered})
			if err != nil {
				t.Errorf("Ack: %v", err)
				return
			}
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if applied != 1 {
		t.Fatalf("applied %d times, want 1", applied)
	}
}

func TestAck_ReadImpliesDelivered(t *testing.T) {
	f := newFixture(t, RouterOptions{}, "alice", "bob", "carol")
	f.room(t, "r", "alice", "bob", "carol")
	m := f.send(t, "r", "alice", "hi")

	res := f.ack(t, "r", m.ID, "bob", domain.AckRead)
	if !res.Applied || res.Flushed {
		t.Fatalf("bob read = %+v", res)
	}
	delivered, err := f.router.Acknowledgements(context.Background(), "alice", "r", m.ID, domain.AckDelivered)
	if err != nil || len(delivered) != 1 || delivered[0].UserID != "bob" {
		t.Fatalf("delivered after read = %+v (%v)", delivered, err)
	}

	res = f.ack(t, "r", m.ID, "carol", domain.AckRead)
	if !res.Flushed || res.Status != domain.StatusRead {
		t.Fatalf("carol read = %+v", res)
	}
	if s := f.status(t, m.ID); s != domain.StatusRead {
		t.Fatalf("status = %s, want read", s)
	}
	if got := sorted(receiptIDs(t, f.db, m.ID, domain.AckDelivered)); got != "bob,carol" {
		t.Fatalf("delivered = %s", got)
	}
	if got := sorted(receiptIDs(t, f.db, m.ID, domain.AckRead)); got != "bob,carol" {
		t.Fatalf("read = %s", got)
	}

	// A late delivered ack cannot move the status backwards.
	f.ack(t, "r", m.ID, "bob", domain.AckDelivered)
	if s := f.status(t, m.ID); s != domain.StatusRead {
		t.Fatalf("status regressed to %s", s)
	}
}

func TestAck_SenderPolicy(t *testing.T) {
	t.Run("sender excluded", func(t *testing.T) {
		f := newFixture(t, RouterOptions{}, "alice", "bob")
		f.room(t, "r", "alice", "bob")
		m := f.send(t, "r", "alice", "hi")

		if res := f.ack(t, "r", m.ID, "alice", domain.AckDelivered); res.Applied {
			t.Fatalf("self ack should be ignored")
		}
		if res := f.ack(t, "r", m.ID, "bob", domain.AckDelivered); !res.Flushed {
			t.Fatalf("bob alone completes the set: %+v", res)
		}
	})
	t.Run("sender included", func(t *testing.T) {
		f := newFixture(t, RouterOptions{IncludeSender: true}, "alice", "bob")
		f.room(t, "r", "alice", "bob")
		m := f.send(t, "r", "alice", "hi")

		if res := f.ack(t, "r", m.ID, "bob", domain.AckDelivered); res.Flushed {
			t.Fatalf("sender still missing: %+v", res)
		}
		if res := f.ack(t, "r", m.ID, "alice", domain.AckDelivered); !res.Applied || !res.Flushed {
			t.Fatalf("sender ack should complete the set: %+v", res)
		}
	})
}

func TestAck_Rejections(t *testing.T) {
	f := newFixture(t, RouterOptions{}, "alice")
	f.room(t, "r", "alice", "bob")
	f.room(t, "other", "alice", "bob")
	m := f.send(t, "r", "alice", "hi")
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  AckCommand
		want error
	}{
		{"bad kind", AckCommand{ChatroomName: "r", MessageID: m.ID, RecipientID: "bob", Kind: "seen"}, ErrValidation},
		{"no message id", AckCommand{ChatroomName: "r", RecipientID: "bob", Kind: domain.AckRead}, ErrValidation},
		{"unknown message", AckCommand{ChatroomName: "r", MessageID: "nope", RecipientID: "bob", Kind: domain.AckRead}, ErrMessageNotFound},
		{"wrong chatroom", AckCommand{ChatroomName: "other", MessageID: m.ID, RecipientID: "bob", Kind: domain.AckRead}, ErrMessageNotFound},
		{"not a member", AckCommand{ChatroomName: "r", MessageID: m.ID, RecipientID: "mallory", Kind: domain.AckRead}, ErrNotParticipant},
		{"sender mismatch", AckCommand{ChatroomName: "r", MessageID: m.ID, RecipientID: "bob", SenderID: "bob", Kind: domain.AckRead}, ErrValidation},
		{"unknown chatroom", AckCommand{ChatroomName: "gone", MessageID: m.ID, RecipientID: "bob", Kind: domain.AckRead}, ErrChatroomNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.router.Ack(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAck_OfflineMemberQueuesPendingThenReconciles(t *testing.T) {
	f := newFixture(t, RouterOptions{}, "bob")
	c := f.room(t, "r", "alice", "bob", "carol")
	m := f.send(t, "r", "alice", "hi")
	ctx := context.Background()

	res := f.ack(t, "r", m.ID, "bob", domain.AckDelivered)
	if !res.Pending {
		t.Fatalf("alice and carol are offline, ack should be queued: %+v", res)
	}
	p, err := repo.GetPendingAck(ctx, f.db, m.ID, domain.AckDelivered)
	if err != nil || !p.Has("bob") || p.ChatroomID != c.ID || p.SenderID != "alice" {
		t.Fatalf("pending = %+v (%v)", p, err)
	}

	merged, failed, err := f.router.ReconcilePending(ctx)
	if err != nil || merged != 1 || failed != 0 {
		t.Fatalf("ReconcilePending = %d/%d (%v)", merged, failed, err)
	}
	if got := receiptIDs(t, f.db, m.ID, domain.AckDelivered); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("durable after reconcile = %v", got)
	}
	if n, _ := repo.CountPendingAcks(ctx, f.db); n != 0 {
		t.Fatalf("pending rows = %d, want 0", n)
	}
	if s := f.status(t, m.ID); s != domain.StatusSent {
		t.Fatalf("carol is still missing, status = %s", s)
	}

	// Bob's durable receipt still counts as a duplicate.
	if res := f.ack(t, "r", m.ID, "bob", domain.AckDelivered); res.Applied {
		t.Fatalf("bob is durable, repeat must be a no-op")
	}

	f.notify.setOnline("alice", true)
	f.notify.setOnline("carol", true)
	res = f.ack(t, "r", m.ID, "carol", domain.AckDelivered)
	if !res.Flushed || res.Pending || res.Status != domain.StatusDelivered {
		t.Fatalf("carol ack = %+v", res)
	}
	if got := sorted(receiptIDs(t, f.db, m.ID, domain.AckDelivered)); got != "bob,carol" {
		t.Fatalf("durable delivered = %s", got)
	}
}

func TestReconcilePending_CompletesWhenAllQueued(t *testing.T) {
	f := newFixture(t, RouterOptions{})
	f.room(t, "r", "alice", "bob", "carol")
	m := f.send(t, "r", "alice", "hi")
	ctx := context.Background()

	f.ack(t, "r", m.ID, "bob", domain.AckDelivered)
	res := f.ack(t, "r", m.ID, "carol", domain.AckDelivered)
	if !res.Flushed {
		t.Fatalf("set complete on the live path: %+v", res)
	}
	if merged, _, err := f.router.ReconcilePending(ctx); err != nil || merged != 1 {
		t.Fatalf("ReconcilePending merged=%d err=%v", merged, err)
	}
	if got := sorted(receiptIDs(t, f.db, m.ID, domain.AckDelivered)); got != "bob,carol" {
		t.Fatalf("merge must stay idempotent, got %s", got)
	}
	if s := f.status(t, m.ID); s != domain.StatusDelivered {
		t.Fatalf("status = %s", s)
	}
}

func TestReconcilePending_DropsRowsOfDeletedMessages(t *testing.T) {
	f := newFixture(t, RouterOptions{})
	c := f.room(t, "r", "alice", "bob")
	m := f.send(t, "r", "alice", "hi")
	ctx := context.Background()

	if err := repo.UpsertPendingAck(ctx, f.db, "r", m, domain.AckDelivered, domain.AckRecord{UserID: "bob"}); err != nil {
		t.Fatalf("UpsertPendingAck: %v", err)
	}
	if err := repo.DeleteChatroom(ctx, f.db, c.ID); err != nil {
		t.Fatalf("DeleteChatroom: %v", err)
	}
	merged, failed, err := f.router.ReconcilePending(ctx)
	if err != nil || failed != 0 {
		t.Fatalf("ReconcilePending = %d/%d (%v)", merged, failed, err)
	}
	if n, _ := repo.CountPendingAcks(ctx, f.db); n != 0 {
		t.Fatalf("pending rows = %d, want 0", n)
	}
}

func TestAcknowledgements_MergesDurableAndAccumulated(t *testing.T) {
	f := newFixture(t, RouterOptions{})
	f.room(t, "r", "alice", "bob", "carol", "dave")
	m := f.send(t, "r", "alice", "hi")
	ctx := context.Background()

	f.ack(t, "r", m.ID, "bob", domain.AckRead)
	if _, _, err := f.router.ReconcilePending(ctx); err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}
	f.ack(t, "r", m.ID, "carol", domain.AckRead)

	got, err := f.router.Acknowledgements(ctx, "alice", "r", m.ID, domain.AckRead)
	if err != nil {
		t.Fatalf("Acknowledgements: %v", err)
	}
	ids := make([]string, 0, len(got))
	for _, a := range got {
		ids = append(ids, a.UserID)
	}
	if strings.Join(ids, ",") != "bob,carol" {
		t.Fatalf("acks = %v, want durable bob then accumulated carol", ids)
	}
	if _, err := f.router.Acknowledgements(ctx, "alice", "r", m.ID, "seen"); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad kind err = %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	f := newFixture(t, RouterOptions{})
	c := f.room(t, "r", "alice", "bob")
	ctx := context.Background()
	if _, err := repo.CreateIdempotency(ctx, f.db, "alice", c.ID, "k", "m", -1); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	n, err := f.router.PurgeExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpired = %d (%v)", n, err)
	}
}
