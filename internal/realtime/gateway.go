// Package realtime is the websocket connection gateway.
//
// Each accepted connection gets a read loop (this goroutine) and a writer
// goroutine draining a bounded outbox. A connection must identify itself
// with presence.connect before any other event is processed; everything
// else is decoded, rate limited and dispatched to the message router.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/events"
	"github.com/tbourn/go-chatroom-delivery/internal/observability"
	"github.com/tbourn/go-chatroom-delivery/internal/presence"
	"github.com/tbourn/go-chatroom-delivery/internal/services"
)

// Router is the subset of services.MessageRouter the gateway dispatches to.
type Router interface {
	Send(ctx context.Context, cmd services.SendCommand) (*services.SendResult, error)
	Ack(ctx context.Context, cmd services.AckCommand) (services.AckResult, error)
	ReplayBackfill(ctx context.Context, identity string, chatroomNames []string, correlationID string) (int, error)
	Acknowledgements(ctx context.Context, identity, chatroomName, messageID string, kind domain.AckKind) ([]domain.AckRecord, error)
}

// Options tunes the gateway.
type Options struct {
	// OriginPatterns authorizes cross-origin browsers. Empty allows any origin.
	OriginPatterns []string

	WriteTimeout    time.Duration
	OutboxSize      int
	MaxMessageBytes int64

	// EventRPS and EventBurst rate limit inbound events per connection.
	// EventRPS <= 0 disables the limiter.
	EventRPS   float64
	EventBurst int
}

// Gateway accepts websocket connections. It implements http.Handler.
type Gateway struct {
	Router   Router
	Presence *presence.Registry
	Opts     Options

	mu      sync.Mutex
	clients map[*client]struct{}
	done    chan struct{}
	closing sync.Once
	wg      sync.WaitGroup
}

// NewGateway returns a Gateway with defaults for unset options.
func NewGateway(r Router, reg *presence.Registry, opts Options) *Gateway {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 256
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 << 10
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = 1
	}
	return &Gateway{
		Router:   r,
		Presence: reg,
		Opts:     opts,
		clients:  make(map[*client]struct{}),
		done:     make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-g.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.Opts.OriginPatterns,
		InsecureSkipVerify: len(g.Opts.OriginPatterns) == 0,
	})
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept failed")
		return
	}
	conn.SetReadLimit(g.Opts.MaxMessageBytes)

	c := newClient(conn, g.Opts)
	if !g.track(c) {
		c.close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer g.untrack(c)

	observability.ConnectionsActive.Inc()
	defer observability.ConnectionsActive.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go c.writeLoop(ctx, g.Opts.WriteTimeout)
	log.Debug().Str("conn_id", c.id).Str("remote", r.RemoteAddr).Msg("websocket connected")

	g.readLoop(ctx, c)

	if c.identity != "" && g.Presence.Unregister(c.identity, c) {
		g.Presence.Broadcast(events.New(events.TypePresenceChanged, "", events.PresenceEntry{
			Identity: c.identity,
			Role:     c.role,
			Online:   false,
		}), c.identity)
	}
	c.close(websocket.StatusNormalClosure, "")
	log.Debug().Str("conn_id", c.id).Str("identity", c.identity).Msg("websocket disconnected")
}

func (g *Gateway) readLoop(ctx context.Context, c *client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket read ended")
			}
			return
		}
		if typ != websocket.MessageText {
			g.reject(c, "", "", events.CodeValidation, "only text frames are accepted")
			continue
		}
		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.reject(c, "", "", events.CodeValidation, "malformed envelope")
			continue
		}
		if !c.allow() {
			g.reject(c, env.ID, env.Type, events.CodeRateLimited, "too many events")
			continue
		}
		g.dispatch(ctx, c, env)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *client, env events.Envelope) {
	if env.Type != events.TypeConnect && c.identity == "" {
		g.reject(c, env.ID, env.Type, events.CodeNotIdentified, "send presence.connect first")
		return
	}
	p, err := events.Decode(env)
	if err != nil {
		g.reject(c, env.ID, env.Type, events.CodeValidation, err.Error())
		return
	}

	switch v := p.(type) {
	case *events.Connect:
		g.connect(c, env.ID, v)

	case *events.Send:
		if v.Sender != nil && v.Sender.ID != "" && v.Sender.ID != c.identity {
			g.reject(c, env.ID, env.Type, events.CodeForbidden, "sender does not match the connected identity")
			return
		}
		cmd := services.SendCommand{
			ChatroomName:  v.ChatroomName,
			SenderID:      c.identity,
			Body:          v.Body,
			Type:          domain.MessageType(v.MessageType),
			Mentions:      v.Mentions,
			ClientMsgID:   v.ClientMsgID,
			CorrelationID: env.ID,
		}
		if v.ReplyTo != nil {
			cmd.ReplyTo = &services.ReplyInput{ID: v.ReplyTo.ID, Body: v.ReplyTo.Body}
		}
		if _, err := g.Router.Send(ctx, cmd); err != nil && !errors.Is(err, services.ErrTransientStore) {
			// Store failures were already reported as message.failed.
			g.fail(c, env, err)
		}

	case *events.Ack:
		if v.Recipient != "" && v.Recipient != c.identity {
			g.reject(c, env.ID, env.Type, events.CodeForbidden, "recipient does not match the connected identity")
			return
		}
		_, err := g.Router.Ack(ctx, services.AckCommand{
			ChatroomName: v.ChatroomName,
			MessageID:    v.MessageID,
			RecipientID:  c.identity,
			SenderID:     v.SenderID,
			Kind:         domain.AckKind(v.Kind),
		})
		if err != nil {
			g.fail(c, env, err)
		}

	case *events.Backfill:
		if _, err := g.Router.ReplayBackfill(ctx, c.identity, v.ChatroomNames, env.ID); err != nil {
			g.fail(c, env, err)
		}

	case *events.AckFetch:
		recs, err := g.Router.Acknowledgements(ctx, c.identity, v.ChatroomName, v.MessageID, domain.AckKind(v.Kind))
		if err != nil {
			g.fail(c, env, err)
			return
		}
		c.Send(events.New(events.TypeAckList, env.ID, events.AckList{
			ChatroomName: v.ChatroomName,
			MessageID:    v.MessageID,
			Kind:         v.Kind,
			Recipients:   events.AckViews(recs),
		}))
	}
}

// connect binds the connection to an identity, announces it and replies
// with the presence snapshot. Reconnecting elsewhere closes the older
// connection of the same identity.
func (g *Gateway) connect(c *client, id string, v *events.Connect) {
	if c.identity != "" && c.identity != v.Identity {
		g.reject(c, id, events.TypeConnect, events.CodeValidation, "connection is already identified as another identity")
		return
	}
	fresh := c.identity == ""
	c.identity, c.role = v.Identity, v.Role

	if prev := g.Presence.Register(v.Identity, v.Role, c); prev != nil {
		if old, ok := prev.(*client); ok {
			// Close blocks on the peer's handshake; keep this read loop moving.
			go old.close(websocket.StatusPolicyViolation, "replaced by a newer connection")
		}
	}
	if fresh {
		g.Presence.Broadcast(events.New(events.TypePresenceChanged, "", events.PresenceEntry{
			Identity: v.Identity,
			Role:     v.Role,
			Online:   true,
		}), v.Identity)
		log.Info().Str("conn_id", c.id).Str("identity", v.Identity).Str("role", v.Role).Msg("identity connected")
	}
	c.Send(events.New(events.TypePresenceSnapshot, id, events.PresenceSnapshot{
		Online: presence.Entries(g.Presence.Snapshot()),
	}))
}

func (g *Gateway) fail(c *client, env events.Envelope, err error) {
	code := codeFor(err)
	msg := err.Error()
	if code == events.CodeInternal {
		log.Error().Err(err).Str("conn_id", c.id).Str("identity", c.identity).Str("event", env.Type).Msg("event handling failed")
		msg = "internal error"
	}
	g.reject(c, env.ID, env.Type, code, msg)
}

func (g *Gateway) reject(c *client, id, requestType, code, msg string) {
	c.Send(events.New(events.TypeError, id, events.Error{Code: code, Message: msg, RequestType: requestType}))
}

// codeFor maps service errors to wire error codes.
func codeFor(err error) string {
	switch {
	case errors.Is(err, services.ErrValidation):
		return events.CodeValidation
	case errors.Is(err, services.ErrChatroomNotFound), errors.Is(err, services.ErrMessageNotFound):
		return events.CodeNotFound
	case errors.Is(err, services.ErrNotParticipant):
		return events.CodeForbidden
	case errors.Is(err, services.ErrIdempotencyConflict):
		return events.CodeConflict
	case errors.Is(err, services.ErrTransientStore):
		return events.CodeUnavailable
	default:
		return events.CodeInternal
	}
}

func (g *Gateway) track(c *client) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.done:
		return false
	default:
	}
	g.clients[c] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(c *client) {
	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()
	g.wg.Done()
}

// Shutdown stops accepting connections, closes the open ones with
// StatusGoingAway and waits for their handlers to return or ctx to end.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.closing.Do(func() {
		g.mu.Lock()
		close(g.done)
		open := make([]*client, 0, len(g.clients))
		for c := range g.clients {
			open = append(open, c)
		}
		g.mu.Unlock()
		for _, c := range open {
			go c.close(websocket.StatusGoingAway, "server shutting down")
		}
	})

	waited := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
