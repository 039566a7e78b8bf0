// Package presence tracks which identities currently hold a live realtime
// connection. It is process-local: each identity maps to at most one
// connection and the most recent connect wins.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/tbourn/go-chatroom-delivery/internal/events"
)

// Conn is the outbound side of a live connection. Send must not block: it
// reports false when the event could not be queued.
type Conn interface {
	ID() string
	Send(ev events.Envelope) bool
}

// Entry is one online identity.
type Entry struct {
	Identity    string
	Role        string
	Conn        Conn
	ConnectedAt time.Time
}

// Registry maps identities to their live connection.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry), now: time.Now}
}

// Register binds identity to c, replacing any previous connection, which
// is returned (nil when there was none).
func (r *Registry) Register(identity, role string, c Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.entries[identity]
	r.entries[identity] = Entry{Identity: identity, Role: role, Conn: c, ConnectedAt: r.now().UTC()}
	if ok && prev.Conn.ID() != c.ID() {
		return prev.Conn
	}
	return nil
}

// Unregister removes identity only if it is still bound to c, so a stale
// connection closing late cannot evict its replacement.
func (r *Registry) Unregister(identity string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[identity]
	if !ok || cur.Conn.ID() != c.ID() {
		return false
	}
	delete(r.entries, identity)
	return true
}

// Lookup returns the entry for identity.
func (r *Registry) Lookup(identity string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[identity]
	return e, ok
}

// IsOnline reports whether identity has a live connection.
func (r *Registry) IsOnline(identity string) bool {
	_, ok := r.Lookup(identity)
	return ok
}

// Send queues ev on identity's connection. It returns false when the
// identity is offline or its outbound queue is full.
func (r *Registry) Send(identity string, ev events.Envelope) bool {
	e, ok := r.Lookup(identity)
	if !ok {
		return false
	}
	return e.Conn.Send(ev)
}

// Broadcast queues ev on every connection except the one bound to except
// and returns how many accepted it.
func (r *Registry) Broadcast(ev events.Envelope, except string) int {
	// Snapshot first so slow Send implementations never hold the lock.
	targets := r.Snapshot()
	n := 0
	for _, e := range targets {
		if e.Identity == except {
			continue
		}
		if e.Conn.Send(ev) {
			n++
		}
	}
	return n
}

// Snapshot returns every online entry ordered by identity.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Len returns the number of online identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries converts a snapshot into its wire form.
func Entries(snap []Entry) []events.PresenceEntry {
	out := make([]events.PresenceEntry, 0, len(snap))
	for _, e := range snap {
		out = append(out, events.PresenceEntry{Identity: e.Identity, Role: e.Role, Online: true, ConnectedAt: e.ConnectedAt})
	}
	return out
}
