package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
)

// Source loads chatrooms from the durable store on a cache miss.
type Source interface {
	LoadChatroom(ctx context.Context, name string) (*domain.Chatroom, error)
	LoadChatrooms(ctx context.Context) ([]domain.Chatroom, error)
}

// Roster is the cached view of a chatroom and its participants.
type Roster struct {
	ChatroomID   string               `json:"chatroom_id"`
	Name         string               `json:"name"`
	AvatarURL    string               `json:"avatar_url,omitempty"`
	Participants []domain.Participant `json:"participants"`
	LoadedAt     time.Time            `json:"loaded_at"`
}

// RosterFrom snapshots c into a Roster.
func RosterFrom(c *domain.Chatroom) Roster {
	ps := make([]domain.Participant, len(c.Participants))
	copy(ps, c.Participants)
	return Roster{
		ChatroomID:   c.ID,
		Name:         c.Name,
		AvatarURL:    c.AvatarURL,
		Participants: ps,
		LoadedAt:     time.Now().UTC(),
	}
}

// Participant returns the roster entry for userID, if any.
func (r Roster) Participant(userID string) (domain.Participant, bool) {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return domain.Participant{}, false
}

// Has reports whether userID is on the roster.
func (r Roster) Has(userID string) bool {
	_, ok := r.Participant(userID)
	return ok
}

// UserIDs lists the participant ids in roster order.
func (r Roster) UserIDs() []string {
	out := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		out = append(out, p.UserID)
	}
	return out
}

// AckKey identifies one acknowledgement accumulator.
type AckKey struct {
	ChatroomID string
	SenderID   string
	MessageID  string
	Kind       domain.AckKind
}

func (k AckKey) String() string {
	return fmt.Sprintf("ack:%s:sender:%s:message:%s:%s", k.ChatroomID, k.SenderID, k.MessageID, k.Kind)
}

const rosterPrefix = "roster:"

func rosterKey(name string) string { return rosterPrefix + name }

// Layer combines a Store with roster loading and accumulator bookkeeping.
type Layer struct {
	store     Store
	src       Source
	rosterTTL time.Duration
	ackTTL    time.Duration
	locks     KeyedMutex
}

// NewLayer wires a Store to a Source. rosterTTL bounds how stale a cached
// roster may get; ackTTL bounds how long an unflushed accumulator lives.
func NewLayer(store Store, src Source, rosterTTL, ackTTL time.Duration) *Layer {
	return &Layer{store: store, src: src, rosterTTL: rosterTTL, ackTTL: ackTTL}
}

// Sweep drops expired rosters and accumulators when the store supports it.
func (l *Layer) Sweep() (int, error) {
	if sw, ok := l.store.(Sweeper); ok {
		return sw.Sweep()
	}
	return 0, nil
}

// GetRoster returns the cached roster for name, loading it from the Source
// on a miss. Source errors (including not-found) are returned unchanged.
func (l *Layer) GetRoster(ctx context.Context, name string) (Roster, error) {
	if r, ok := l.Peek(name); ok {
		return r, nil
	}
	return l.RefreshRoster(ctx, name)
}

// Peek returns the cached roster for name without touching the Source.
func (l *Layer) Peek(name string) (Roster, bool) {
	raw, ok, err := l.store.Get(rosterKey(name))
	if err != nil {
		log.Warn().Err(err).Str("chatroom", name).Msg("roster cache read failed")
		return Roster{}, false
	}
	if !ok {
		return Roster{}, false
	}
	var r Roster
	if err := json.Unmarshal(raw, &r); err != nil {
		log.Warn().Err(err).Str("chatroom", name).Msg("roster cache entry undecodable, dropping")
		_ = l.store.Delete(rosterKey(name))
		return Roster{}, false
	}
	return r, true
}

// RefreshRoster reloads name from the Source and replaces the cached entry.
// When the Source reports an error the cached entry is dropped.
func (l *Layer) RefreshRoster(ctx context.Context, name string) (Roster, error) {
	c, err := l.src.LoadChatroom(ctx, name)
	if err != nil {
		_ = l.store.Delete(rosterKey(name))
		return Roster{}, err
	}
	r := RosterFrom(c)
	l.put(r)
	return r, nil
}

// InvalidateRoster drops the cached roster for name.
func (l *Layer) InvalidateRoster(name string) error {
	return l.store.Delete(rosterKey(name))
}

// ResetRosters drops every cached roster, including ones for chatrooms
// that no longer exist. Stores without prefix deletion report 0.
func (l *Layer) ResetRosters() (int, error) {
	pd, ok := l.store.(PrefixDeleter)
	if !ok {
		return 0, nil
	}
	return pd.DeletePrefix(rosterPrefix)
}

// RefreshAll reloads every chatroom from the Source and returns how many
// rosters were cached.
func (l *Layer) RefreshAll(ctx context.Context) (int, error) {
	rooms, err := l.src.LoadChatrooms(ctx)
	if err != nil {
		return 0, err
	}
	for i := range rooms {
		l.put(RosterFrom(&rooms[i]))
	}
	return len(rooms), nil
}

func (l *Layer) put(r Roster) {
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := l.store.Set(rosterKey(r.Name), raw, l.rosterTTL); err != nil {
		log.Warn().Err(err).Str("chatroom", r.Name).Msg("roster cache write failed")
	}
}

// AppendAck adds rec to the accumulator for key. It reports false when the
// recipient is already present.
func (l *Layer) AppendAck(key AckKey, rec domain.AckRecord) (bool, error) {
	unlock := l.locks.Lock(key.String())
	defer unlock()

	list, err := l.listAcks(key)
	if err != nil {
		return false, err
	}
	for _, r := range list {
		if r.UserID == rec.UserID {
			return false, nil
		}
	}
	list = append(list, rec)
	raw, err := json.Marshal(list)
	if err != nil {
		return false, err
	}
	if err := l.store.Set(key.String(), raw, l.ackTTL); err != nil {
		return false, err
	}
	return true, nil
}

// ListAcks returns the accumulated records for key in insertion order.
func (l *Layer) ListAcks(key AckKey) ([]domain.AckRecord, error) {
	unlock := l.locks.Lock(key.String())
	defer unlock()
	return l.listAcks(key)
}

func (l *Layer) listAcks(key AckKey) ([]domain.AckRecord, error) {
	raw, ok, err := l.store.Get(key.String())
	if err != nil || !ok {
		return nil, err
	}
	var list []domain.AckRecord
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode accumulator %s: %w", key, err)
	}
	return list, nil
}

// Lock serializes a caller's multi-step sequence on key (for example a
// check, append and flush of one accumulator). It uses its own key space,
// so AppendAck, ListAcks and ClearAcks may be called while it is held.
func (l *Layer) Lock(key string) (unlock func()) {
	return l.locks.Lock("op:" + key)
}

// ClearAcks drops the accumulator for key.
func (l *Layer) ClearAcks(key AckKey) error {
	unlock := l.locks.Lock(key.String())
	defer unlock()
	return l.store.Delete(key.String())
}
