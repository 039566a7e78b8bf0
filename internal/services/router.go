// Package services – MessageRouter
//
// MessageRouter owns the realtime delivery path. Send appends a message to
// its chatroom's log and fans it out to online participants; Ack records
// delivered/read acknowledgements in the cache accumulator and flushes them
// to the durable store once every required participant has acknowledged.
// Backfill and ReconcilePending (pending.go) cover participants who were
// offline at the time.
//
// Observability: public methods are OpenTelemetry-instrumented and feed the
// chat_* Prometheus collectors.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-chatroom-delivery/internal/cache"
	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/events"
	"github.com/tbourn/go-chatroom-delivery/internal/observability"
	"github.com/tbourn/go-chatroom-delivery/internal/repo"
)

// Notifier pushes events to connected identities. *presence.Registry
// satisfies it.
type Notifier interface {
	Send(identity string, ev events.Envelope) bool
	IsOnline(identity string) bool
}

// RouterOptions tunes delivery policy.
type RouterOptions struct {
	// IncludeSender counts the sender among the participants that must
	// acknowledge before a message flips to delivered/read. When false the
	// sender is excluded and its own acknowledgements are ignored.
	IncludeSender bool

	// BackfillLimit is the page size used when reading a reconnect
	// backlog; every page is read.
	BackfillLimit int

	MaxBodyRunes   int
	PendingBatch   int
	IdempotencyTTL time.Duration
}

// MessageRouter coordinates send, acknowledgement and replay.
type MessageRouter struct {
	DB       *gorm.DB
	Cache    *cache.Layer
	Presence Notifier
	Opts     RouterOptions

	now func() time.Time
}

// NewMessageRouter wires a router with defaults for unset options.
func NewMessageRouter(db *gorm.DB, c *cache.Layer, p Notifier, opts RouterOptions) *MessageRouter {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.PendingBatch <= 0 {
		opts.PendingBatch = 200
	}
	return &MessageRouter{DB: db, Cache: c, Presence: p, Opts: opts, now: time.Now}
}

func tracer() trace.Tracer { return otel.Tracer("services/MessageRouter") }

// ReplyInput is the caller-supplied reply reference.
type ReplyInput struct {
	ID   string
	Body string
}

// SendCommand is one message send request.
type SendCommand struct {
	ChatroomName string
	SenderID     string
	Body         string
	Type         domain.MessageType
	ReplyTo      *ReplyInput
	Mentions     []string

	// ClientMsgID deduplicates retries of the same send.
	ClientMsgID string
	// CorrelationID is echoed on message.sent / message.failed.
	CorrelationID string
}

// SendResult reports what a send did.
type SendResult struct {
	Message      *domain.ChatMessage
	ChatroomName string
	Replayed     bool
	Queued       int
	Dropped      int
	Offline      int
}

// Send validates cmd, appends the message and fans it out. Once the append
// succeeds the send is durable; fan-out problems are logged, never returned.
// When the append fails the sender is told with a message.failed event.
func (r *MessageRouter) Send(ctx context.Context, cmd SendCommand) (*SendResult, error) {
	ctx, span := tracer().Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("chatroom.name", cmd.ChatroomName),
			attribute.String("sender.id", cmd.SenderID),
		),
	)
	defer span.End()

	res, err := r.send(ctx, cmd)
	switch {
	case err == nil && res.Replayed:
		observability.MessagesTotal.WithLabelValues("replayed").Inc()
	case err == nil:
		observability.MessagesTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrTransientStore):
		observability.MessagesTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("chatroom", cmd.ChatroomName).Str("identity", cmd.SenderID).Msg("message send failed")
		r.Presence.Send(cmd.SenderID, events.New(events.TypeMessageFailed, cmd.CorrelationID, events.MessageFailed{
			ChatroomName: cmd.ChatroomName,
			Code:         events.CodeUnavailable,
			Error:        ErrTransientStore.Error(),
		}))
	default:
		observability.MessagesTotal.WithLabelValues("rejected").Inc()
	}
	return res, err
}

func (r *MessageRouter) send(ctx context.Context, cmd SendCommand) (*SendResult, error) {
	name := normalizeName(cmd.ChatroomName)
	if name == "" {
		return nil, invalid("chatroomName", "is required")
	}
	if strings.TrimSpace(cmd.SenderID) == "" {
		return nil, invalid("sender", "is required")
	}
	body := sanitizeBody(cmd.Body)
	if body == "" {
		return nil, invalid("body", "is required")
	}
	if r.Opts.MaxBodyRunes > 0 && utf8.RuneCountInString(body) > r.Opts.MaxBodyRunes {
		return nil, invalid("body", "is too long")
	}
	typ := cmd.Type
	if typ == "" {
		typ = domain.TypeText
	}
	if !typ.Valid() {
		return nil, invalid("messageType", "is not supported")
	}

	roster, sender, err := r.resolveMember(ctx, name, cmd.SenderID)
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(cmd.ClientMsgID)
	if key != "" {
		// Hold the key so concurrent retries cannot both append.
		unlock := r.Cache.Lock("idem:" + roster.ChatroomID + ":" + cmd.SenderID + ":" + key)
		defer unlock()

		rec, err := repo.GetIdempotency(ctx, r.DB, cmd.SenderID, roster.ChatroomID, key, r.now().UTC())
		switch {
		case err == nil:
			m, gerr := repo.GetMessage(ctx, r.DB, roster.ChatroomID, rec.MessageID)
			if gerr == nil {
				if m.Body != body || m.Type != typ {
					return nil, ErrIdempotencyConflict
				}
				r.confirm(cmd, m, roster.Name)
				return &SendResult{Message: m, ChatroomName: roster.Name, Replayed: true}, nil
			}
			if !errors.Is(gerr, repo.ErrNotFound) {
				return nil, transient("load replayed message", gerr)
			}
		case !errors.Is(err, repo.ErrNotFound):
			return nil, transient("idempotency lookup", err)
		}
	}

	m := &domain.ChatMessage{
		ChatroomID:   roster.ChatroomID,
		SenderID:     sender.UserID,
		SenderName:   sender.DisplayName(),
		SenderAvatar: sender.AvatarURL,
		SenderRole:   sender.Role,
		Body:         body,
		Type:         typ,
		Status:       domain.StatusSent,
		Reply:        r.resolveReply(ctx, roster.ChatroomID, cmd.ReplyTo),
		Mentions:     cleanMentions(cmd.Mentions),
		ClientMsgID:  key,
		CreatedAt:    r.now().UTC(),
	}

	unlock := r.Cache.Lock("append:" + roster.ChatroomID)
	err = repo.AppendMessage(ctx, r.DB, m)
	unlock()
	if err != nil {
		return nil, transient("append message", err)
	}

	if key != "" {
		if _, err := repo.CreateIdempotency(ctx, r.DB, cmd.SenderID, roster.ChatroomID, key, m.ID, r.Opts.IdempotencyTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			log.Warn().Err(err).Str("message_id", m.ID).Msg("idempotency record not stored")
		}
	}

	r.confirm(cmd, m, roster.Name)
	res := &SendResult{Message: m, ChatroomName: roster.Name}
	r.fanOut(roster, m, res)
	return res, nil
}

func (r *MessageRouter) confirm(cmd SendCommand, m *domain.ChatMessage, chatroomName string) {
	ev := events.New(events.TypeMessageSent, cmd.CorrelationID, events.MessageEvent{Message: events.MessageFrom(m, chatroomName)})
	if !r.Presence.Send(cmd.SenderID, ev) && r.Presence.IsOnline(cmd.SenderID) {
		log.Warn().Str("identity", cmd.SenderID).Str("message_id", m.ID).Msg("send confirmation dropped")
	}
}

func (r *MessageRouter) fanOut(roster cache.Roster, m *domain.ChatMessage, res *SendResult) {
	ev := events.New(events.TypeMessageReceived, "", events.MessageEvent{Message: events.MessageFrom(m, roster.Name)})
	for _, p := range roster.Participants {
		if p.UserID == m.SenderID {
			continue
		}
		switch {
		case !r.Presence.IsOnline(p.UserID):
			res.Offline++
			observability.FanoutTotal.WithLabelValues("offline").Inc()
		case r.Presence.Send(p.UserID, ev):
			res.Queued++
			observability.FanoutTotal.WithLabelValues("queued").Inc()
		default:
			res.Dropped++
			observability.FanoutTotal.WithLabelValues("dropped").Inc()
			log.Warn().Str("identity", p.UserID).Str("message_id", m.ID).Msg("fan-out dropped, outbound queue full")
		}
	}
}

// resolveReply snapshots the referenced message. A reference that cannot
// be resolved keeps only the caller's text and never fails the send.
func (r *MessageRouter) resolveReply(ctx context.Context, chatroomID string, in *ReplyInput) domain.ReplyRef {
	if in == nil {
		return domain.ReplyRef{}
	}
	id := strings.TrimSpace(in.ID)
	text := sanitizeBody(in.Body)
	if id == "" {
		return domain.ReplyRef{Body: text}
	}
	orig, err := repo.GetMessage(ctx, r.DB, chatroomID, id)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Warn().Err(err).Str("message_id", id).Msg("reply lookup failed")
		}
		return domain.ReplyRef{Body: text}
	}
	return domain.ReplyRef{ID: orig.ID, Body: orig.Body, Resolved: true}
}

// roster resolves a chatroom through the cache layer.
func (r *MessageRouter) roster(ctx context.Context, name string) (cache.Roster, error) {
	ro, err := r.Cache.GetRoster(ctx, name)
	if err != nil {
		if errors.Is(err, ErrChatroomNotFound) {
			return cache.Roster{}, ErrChatroomNotFound
		}
		return cache.Roster{}, transient("load roster", err)
	}
	return ro, nil
}

// resolveMember returns the roster and identity's participant entry. A
// miss on a cached roster forces one reload, so a member added since the
// last refresh is not rejected.
func (r *MessageRouter) resolveMember(ctx context.Context, name, identity string) (cache.Roster, domain.Participant, error) {
	ro, err := r.roster(ctx, name)
	if err != nil {
		return cache.Roster{}, domain.Participant{}, err
	}
	if p, ok := ro.Participant(identity); ok {
		return ro, p, nil
	}
	ro, err = r.Cache.RefreshRoster(ctx, name)
	if err != nil {
		if errors.Is(err, ErrChatroomNotFound) {
			return cache.Roster{}, domain.Participant{}, ErrChatroomNotFound
		}
		return cache.Roster{}, domain.Participant{}, transient("reload roster", err)
	}
	p, ok := ro.Participant(identity)
	if !ok {
		return cache.Roster{}, domain.Participant{}, ErrNotParticipant
	}
	return ro, p, nil
}

// History returns a page of a chatroom's log for one of its participants.
func (r *MessageRouter) History(ctx context.Context, identity, chatroomName string, page, pageSize int) ([]domain.ChatMessage, int64, error) {
	ctx, span := tracer().Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("chatroom.name", chatroomName),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	ro, _, err := r.resolveMember(ctx, normalizeName(chatroomName), identity)
	if err != nil {
		return nil, 0, err
	}
	total, err := repo.CountMessages(ctx, r.DB, ro.ChatroomID)
	if err != nil {
		return nil, 0, transient("count messages", err)
	}
	if total == 0 {
		return []domain.ChatMessage{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, r.DB, ro.ChatroomID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, transient("list messages", err)
	}
	return items, total, nil
}

// HistoryStats returns the message count and latest UpdatedAt of a
// chatroom, used to build ETags.
func (r *MessageRouter) HistoryStats(ctx context.Context, chatroomName string) (int64, *time.Time, error) {
	ro, err := r.roster(ctx, normalizeName(chatroomName))
	if err != nil {
		return 0, nil, err
	}
	return repo.MessagesStats(ctx, r.DB, ro.ChatroomID)
}
