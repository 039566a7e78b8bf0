package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chatroom-delivery/internal/cache"
	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/events"
	"github.com/tbourn/go-chatroom-delivery/internal/observability"
	"github.com/tbourn/go-chatroom-delivery/internal/repo"
)

// AckCommand is one delivered/read acknowledgement from a recipient.
type AckCommand struct {
	ChatroomName string
	MessageID    string
	RecipientID  string
	// SenderID is optional; when set it must match the message's sender.
	SenderID string
	Kind     domain.AckKind
}

// AckResult reports the effect of an acknowledgement.
type AckResult struct {
	// Applied is false when the recipient had already acknowledged.
	Applied bool
	// Flushed is true when this acknowledgement completed the set and the
	// accumulator was merged into the durable store.
	Flushed bool
	// Status is the message status as known after the acknowledgement.
	Status domain.Status
	// Pending is true when some roster member was offline and the
	// acknowledgement was queued for reconciliation.
	Pending bool
}

// Ack records cmd. A read acknowledgement first records the matching
// delivered acknowledgement. Re-acknowledging is a silent no-op.
func (r *MessageRouter) Ack(ctx context.Context, cmd AckCommand) (AckResult, error) {
	ctx, span := tracer().Start(ctx, "Ack",
		trace.WithAttributes(
			attribute.String("chatroom.name", cmd.ChatroomName),
			attribute.String("message.id", cmd.MessageID),
			attribute.String("ack.kind", string(cmd.Kind)),
		),
	)
	defer span.End()

	res, result, err := r.ack(ctx, cmd)
	if err != nil {
		result = "rejected"
		if errors.Is(err, ErrTransientStore) {
			result = "failed"
			log.Error().Err(err).Str("message_id", cmd.MessageID).Str("kind", string(cmd.Kind)).Msg("acknowledgement failed")
		}
	}
	observability.AcksTotal.WithLabelValues(string(cmd.Kind), result).Inc()
	return res, err
}

func (r *MessageRouter) ack(ctx context.Context, cmd AckCommand) (AckResult, string, error) {
	if !cmd.Kind.Valid() {
		return AckResult{}, "", invalid("kind", "must be delivered or read")
	}
	name := normalizeName(cmd.ChatroomName)
	if name == "" {
		return AckResult{}, "", invalid("chatroomName", "is required")
	}
	if strings.TrimSpace(cmd.MessageID) == "" {
		return AckResult{}, "", invalid("messageId", "is required")
	}
	if strings.TrimSpace(cmd.RecipientID) == "" {
		return AckResult{}, "", invalid("recipient", "is required")
	}

	roster, recipient, err := r.resolveMember(ctx, name, cmd.RecipientID)
	if err != nil {
		return AckResult{}, "", err
	}
	msg, err := repo.GetMessage(ctx, r.DB, roster.ChatroomID, cmd.MessageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return AckResult{}, "", ErrMessageNotFound
		}
		return AckResult{}, "", transient("load message", err)
	}
	if cmd.SenderID != "" && cmd.SenderID != msg.SenderID {
		return AckResult{}, "", invalid("senderId", "does not match the message sender")
	}
	if recipient.UserID == msg.SenderID && !r.Opts.IncludeSender {
		return AckResult{Status: msg.Status}, "self", nil
	}

	res := AckResult{Status: msg.Status}
	kinds := []domain.AckKind{cmd.Kind}
	if cmd.Kind == domain.AckRead {
		kinds = []domain.AckKind{domain.AckDelivered, domain.AckRead}
	}
	for _, kind := range kinds {
		out, err := r.applyAck(ctx, roster, msg, recipient, kind)
		if errors.Is(err, errDuplicateAck) {
			continue
		}
		if err != nil {
			return res, "", err
		}
		if out.flushed && kind.Status().Rank() > res.Status.Rank() {
			res.Status = kind.Status()
		}
		if kind == cmd.Kind {
			res.Applied = true
			res.Flushed = out.flushed
			res.Pending = out.pending
		}
		r.broadcastAck(roster, msg, kind, out.rec, res.Status)
	}
	if !res.Applied {
		return res, "duplicate", nil
	}
	return res, "applied", nil
}

type ackOutcome struct {
	rec     domain.AckRecord
	flushed bool
	pending bool
}

// applyAck runs the membership check, accumulator append and flush for one
// (message, recipient, kind) under the accumulator's lock. It returns
// errDuplicateAck when the recipient is already recorded, durably or in
// the accumulator.
func (r *MessageRouter) applyAck(ctx context.Context, roster cache.Roster, msg *domain.ChatMessage, p domain.Participant, kind domain.AckKind) (ackOutcome, error) {
	key := cache.AckKey{ChatroomID: roster.ChatroomID, SenderID: msg.SenderID, MessageID: msg.ID, Kind: kind}
	unlock := r.Cache.Lock(key.String())
	defer unlock()

	durable, err := repo.ListReceipts(ctx, r.DB, msg.ID, kind)
	if err != nil {
		return ackOutcome{}, transient("list receipts", err)
	}
	for _, d := range durable {
		if d.RecipientID == p.UserID {
			return ackOutcome{}, errDuplicateAck
		}
	}

	out := ackOutcome{rec: p.Record(r.now().UTC())}
	added, err := r.Cache.AppendAck(key, out.rec)
	if err != nil {
		return ackOutcome{}, transient("append ack", err)
	}
	if !added {
		return ackOutcome{}, errDuplicateAck
	}

	acc, err := r.Cache.ListAcks(key)
	if err != nil {
		return ackOutcome{}, transient("list acks", err)
	}
	if r.flushReady(roster, msg.SenderID, receiptUsers(durable), acc) {
		out.flushed = r.flush(ctx, key, acc)
	}

	for _, member := range roster.Participants {
		if member.UserID != p.UserID && !r.Presence.IsOnline(member.UserID) {
			out.pending = true
			break
		}
	}
	if out.pending {
		if err := repo.UpsertPendingAck(ctx, r.DB, roster.Name, msg, kind, out.rec); err != nil {
			// The accumulator still holds the record; only the offline
			// members' eventual view is delayed.
			log.Warn().Err(err).Str("message_id", msg.ID).Str("kind", string(kind)).Msg("pending acknowledgement not queued")
			out.pending = false
		}
	}
	return out, nil
}

// flush merges acc into the durable receipts, advances the status and
// clears the accumulator. On failure the accumulator is kept so a later
// acknowledgement or the retry loop can complete it.
func (r *MessageRouter) flush(ctx context.Context, key cache.AckKey, acc []domain.AckRecord) bool {
	if _, err := repo.UpdateMessageAckSet(ctx, r.DB, key.MessageID, key.Kind, acc); err != nil {
		log.Error().Err(err).Str("message_id", key.MessageID).Str("kind", string(key.Kind)).Msg("acknowledgement flush failed")
		return false
	}
	if _, err := repo.AdvanceStatus(ctx, r.DB, key.MessageID, key.Kind.Status()); err != nil {
		log.Error().Err(err).Str("message_id", key.MessageID).Msg("status advance failed")
		return false
	}
	if err := r.Cache.ClearAcks(key); err != nil {
		log.Warn().Err(err).Str("key", key.String()).Msg("accumulator not cleared")
	}
	observability.AckFlushesTotal.WithLabelValues(string(key.Kind)).Inc()
	return true
}

// flushReady reports whether every required participant appears in the
// durable set or the accumulator. The sender is required only when
// IncludeSender is set.
func (r *MessageRouter) flushReady(roster cache.Roster, senderID string, durable map[string]struct{}, acc []domain.AckRecord) bool {
	seen := make(map[string]struct{}, len(durable)+len(acc))
	for u := range durable {
		seen[u] = struct{}{}
	}
	for _, a := range acc {
		seen[a.UserID] = struct{}{}
	}
	required := 0
	for _, p := range roster.Participants {
		if p.UserID == senderID && !r.Opts.IncludeSender {
			continue
		}
		required++
		if _, ok := seen[p.UserID]; !ok {
			return false
		}
	}
	return required > 0
}

func receiptUsers(rs []domain.MessageReceipt) map[string]struct{} {
	out := make(map[string]struct{}, len(rs))
	for _, r := range rs {
		out[r.RecipientID] = struct{}{}
	}
	return out
}

func (r *MessageRouter) broadcastAck(roster cache.Roster, msg *domain.ChatMessage, kind domain.AckKind, rec domain.AckRecord, status domain.Status) {
	ev := events.New(events.TypeAckBroadcast, "", events.AckBroadcast{
		ChatroomName: roster.Name,
		MessageID:    msg.ID,
		SenderID:     msg.SenderID,
		Kind:         string(kind),
		Recipient:    events.AckViews([]domain.AckRecord{rec})[0],
		Status:       string(status),
	})
	for _, p := range roster.Participants {
		if r.Presence.IsOnline(p.UserID) && !r.Presence.Send(p.UserID, ev) {
			log.Warn().Str("identity", p.UserID).Str("message_id", msg.ID).Msg("ack broadcast dropped")
		}
	}
}

// Acknowledgements returns who has acknowledged a message with kind: the
// durable receipts followed by records still in the accumulator.
func (r *MessageRouter) Acknowledgements(ctx context.Context, identity, chatroomName, messageID string, kind domain.AckKind) ([]domain.AckRecord, error) {
	ctx, span := tracer().Start(ctx, "Acknowledgements",
		trace.WithAttributes(
			attribute.String("chatroom.name", chatroomName),
			attribute.String("message.id", messageID),
		),
	)
	defer span.End()

	if !kind.Valid() {
		return nil, invalid("kind", "must be delivered or read")
	}
	roster, _, err := r.resolveMember(ctx, normalizeName(chatroomName), identity)
	if err != nil {
		return nil, err
	}
	msg, err := repo.GetMessage(ctx, r.DB, roster.ChatroomID, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, transient("load message", err)
	}

	out := msg.Acks(kind)
	seen := make(map[string]struct{}, len(out))
	for _, a := range out {
		seen[a.UserID] = struct{}{}
	}
	acc, err := r.Cache.ListAcks(cache.AckKey{ChatroomID: roster.ChatroomID, SenderID: msg.SenderID, MessageID: msg.ID, Kind: kind})
	if err != nil {
		return nil, transient("list acks", err)
	}
	for _, a := range acc {
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}
