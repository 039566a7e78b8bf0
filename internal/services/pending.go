package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chatroom-delivery/internal/cache"
	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/observability"
	"github.com/tbourn/go-chatroom-delivery/internal/repo"
)

// ReconcilePending drains up to PendingBatch queued acknowledgements into
// the durable receipts. Each item is handled on its own: a failing item is
// marked and left for the next call, the rest of the batch still runs.
// The returned error is only set when the queue itself cannot be read.
func (r *MessageRouter) ReconcilePending(ctx context.Context) (merged, failed int, err error) {
	ctx, span := tracer().Start(ctx, "ReconcilePending")
	defer span.End()

	items, err := repo.ListPendingAcks(ctx, r.DB, r.Opts.PendingBatch)
	if err != nil {
		return 0, 0, transient("list pending acks", err)
	}
	span.SetAttributes(attribute.Int("pending.batch", len(items)))

	for i := range items {
		if ctx.Err() != nil {
			break
		}
		p := &items[i]
		if err := r.reconcileOne(ctx, p); err != nil {
			failed++
			observability.ReconcileItemsTotal.WithLabelValues("offline_retry", "failed").Inc()
			log.Warn().Err(err).Str("message_id", p.MessageID).Str("kind", string(p.Kind)).Int("attempts", p.Attempts+1).Msg("pending acknowledgement merge failed")
			if merr := repo.MarkPendingAckFailed(ctx, r.DB, p.ID, err.Error()); merr != nil {
				log.Warn().Err(merr).Str("pending_id", p.ID).Msg("pending acknowledgement not marked")
			}
			continue
		}
		merged++
		observability.ReconcileItemsTotal.WithLabelValues("offline_retry", "merged").Inc()
	}
	return merged, failed, nil
}

// reconcileOne merges p's recipients, re-evaluates the flush condition
// against the current roster and removes p. It holds the accumulator lock
// so it cannot interleave with a live acknowledgement of the same key.
func (r *MessageRouter) reconcileOne(ctx context.Context, p *domain.PendingAck) error {
	ctx, span := tracer().Start(ctx, "ReconcilePendingItem",
		trace.WithAttributes(
			attribute.String("message.id", p.MessageID),
			attribute.String("ack.kind", string(p.Kind)),
		),
	)
	defer span.End()

	key := cache.AckKey{ChatroomID: p.ChatroomID, SenderID: p.SenderID, MessageID: p.MessageID, Kind: p.Kind}
	unlock := r.Cache.Lock(key.String())
	defer unlock()

	if _, err := repo.UpdateMessageAckSet(ctx, r.DB, p.MessageID, p.Kind, p.Recipients); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.DeletePendingAck(ctx, r.DB, p.ID)
		}
		return err
	}

	room, err := repo.GetChatroomByID(ctx, r.DB, p.ChatroomID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.DeletePendingAck(ctx, r.DB, p.ID)
		}
		return err
	}
	roster := cache.RosterFrom(room)

	durable, err := repo.ListReceipts(ctx, r.DB, p.MessageID, p.Kind)
	if err != nil {
		return err
	}
	acc, err := r.Cache.ListAcks(key)
	if err != nil {
		return err
	}
	if r.flushReady(roster, p.SenderID, receiptUsers(durable), acc) {
		if len(acc) > 0 {
			if _, err := repo.UpdateMessageAckSet(ctx, r.DB, p.MessageID, p.Kind, acc); err != nil {
				return err
			}
		}
		if _, err := repo.AdvanceStatus(ctx, r.DB, p.MessageID, p.Kind.Status()); err != nil {
			return err
		}
		if err := r.Cache.ClearAcks(key); err != nil {
			log.Warn().Err(err).Str("key", key.String()).Msg("accumulator not cleared")
		}
		observability.AckFlushesTotal.WithLabelValues(string(p.Kind)).Inc()
	}
	return repo.DeletePendingAck(ctx, r.DB, p.ID)
}

// PurgeExpired removes send idempotency records past their TTL.
func (r *MessageRouter) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := repo.PurgeExpiredIdempotency(ctx, r.DB, r.now().UTC())
	if err != nil {
		return 0, transient("purge idempotency", err)
	}
	return n, nil
}
