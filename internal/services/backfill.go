package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chatroom-delivery/internal/cache"
	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/events"
	"github.com/tbourn/go-chatroom-delivery/internal/observability"
	"github.com/tbourn/go-chatroom-delivery/internal/repo"
)

// BackfillItem is one message owed to a reconnecting participant.
type BackfillItem struct {
	Message      domain.ChatMessage
	ChatroomName string
}

// Backfill lists the messages in chatroomNames that identity has not
// acknowledged as delivered, durably or in the accumulator. Unknown
// chatrooms and chatrooms identity does not belong to are skipped.
// The store is read in pages of BackfillLimit until exhausted, so the
// result is complete. Nothing is written, so calling it twice yields the
// same set.
func (r *MessageRouter) Backfill(ctx context.Context, identity string, chatroomNames []string) ([]BackfillItem, error) {
	ctx, span := tracer().Start(ctx, "Backfill",
		trace.WithAttributes(
			attribute.String("identity", identity),
			attribute.Int("chatrooms", len(chatroomNames)),
		),
	)
	defer span.End()

	names := make(map[string]string)
	var ids []string
	for _, raw := range chatroomNames {
		name := normalizeName(raw)
		if name == "" {
			continue
		}
		ro, _, err := r.resolveMember(ctx, name, identity)
		switch {
		case errors.Is(err, ErrChatroomNotFound), errors.Is(err, ErrNotParticipant):
			log.Debug().Str("identity", identity).Str("chatroom", name).Msg("backfill skips chatroom")
			continue
		case err != nil:
			return nil, err
		}
		if _, dup := names[ro.ChatroomID]; dup {
			continue
		}
		names[ro.ChatroomID] = ro.Name
		ids = append(ids, ro.ChatroomID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var (
		out    []BackfillItem
		cursor repo.UnackedCursor
		pages  int
	)
	for {
		msgs, err := repo.FindUnacknowledgedAfter(ctx, r.DB, ids, identity, cursor, r.Opts.BackfillLimit)
		if err != nil {
			return nil, transient("find unacknowledged", err)
		}
		pages++
		for _, m := range msgs {
			cursor = cursor.Next(m)
			key := cache.AckKey{ChatroomID: m.ChatroomID, SenderID: m.SenderID, MessageID: m.ID, Kind: domain.AckDelivered}
			acc, err := r.Cache.ListAcks(key)
			if err != nil {
				// Replaying too much is harmless; acks are idempotent.
				log.Warn().Err(err).Str("message_id", m.ID).Msg("accumulator unreadable during backfill")
			}
			if containsUser(acc, identity) {
				continue
			}
			out = append(out, BackfillItem{Message: m, ChatroomName: names[m.ChatroomID]})
		}
		if r.Opts.BackfillLimit <= 0 || len(msgs) < r.Opts.BackfillLimit {
			break
		}
	}
	span.SetAttributes(attribute.Int("backfill.pages", pages), attribute.Int("backfill.messages", len(out)))
	return out, nil
}

// ReplayBackfill pushes the Backfill set to identity as message.received
// events flagged as backfill, then a backfill.complete carrying
// correlationID. Other participants are not notified.
func (r *MessageRouter) ReplayBackfill(ctx context.Context, identity string, chatroomNames []string, correlationID string) (int, error) {
	items, err := r.Backfill(ctx, identity, chatroomNames)
	if err != nil {
		return 0, err
	}
	sent := 0
	for i := range items {
		ev := events.New(events.TypeMessageReceived, "", events.MessageEvent{
			Message:  events.MessageFrom(&items[i].Message, items[i].ChatroomName),
			Backfill: true,
		})
		if !r.Presence.Send(identity, ev) {
			log.Warn().Str("identity", identity).Str("message_id", items[i].Message.ID).Msg("backfill push dropped")
			continue
		}
		sent++
	}
	observability.BackfillMessagesTotal.Add(float64(sent))
	r.Presence.Send(identity, events.New(events.TypeBackfillComplete, correlationID, events.BackfillComplete{Count: sent}))
	return sent, nil
}

func containsUser(recs []domain.AckRecord, userID string) bool {
	for _, r := range recs {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
