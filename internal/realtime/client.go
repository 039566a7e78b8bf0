package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tbourn/go-chatroom-delivery/internal/events"
)

// client is one accepted websocket. The read loop owns identity and role;
// Send may be called from any goroutine.
type client struct {
	id      string
	conn    *websocket.Conn
	out     chan events.Envelope
	closed  chan struct{}
	once    sync.Once
	limiter *rate.Limiter

	identity string
	role     string
}

func newClient(conn *websocket.Conn, opts Options) *client {
	var lim *rate.Limiter
	if opts.EventRPS > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.EventRPS), opts.EventBurst)
	}
	return &client{
		id:      uuid.NewString(),
		conn:    conn,
		out:     make(chan events.Envelope, opts.OutboxSize),
		closed:  make(chan struct{}),
		limiter: lim,
	}
}

// ID implements presence.Conn.
func (c *client) ID() string { return c.id }

// Send implements presence.Conn. It never blocks: a full outbox or a
// closed client drops the event.
func (c *client) Send(ev events.Envelope) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.out <- ev:
		return true
	default:
		return false
	}
}

func (c *client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// close stops the writer and closes the socket with code. Safe to call
// more than once.
func (c *client) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close(code, reason)
	})
}

// writeLoop drains the outbox until the client closes or ctx ends. A write
// error or timeout closes the connection, which ends the read loop too.
func (c *client) writeLoop(ctx context.Context, timeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case ev := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, timeout)
			err := wsjson.Write(wctx, c.conn, ev)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("conn_id", c.id).Str("event", ev.Type).Msg("websocket write failed")
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}
