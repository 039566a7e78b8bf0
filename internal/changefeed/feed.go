// Package changefeed publishes chatroom mutations to subscribers.
//
// The durable store writes a chatroom_changes row in the same transaction
// as every chatroom mutation. PollingFeed tails that table, so delivery is
// at-least-once: a subscriber may see an entry again after a restart, never
// miss one written after it subscribed.
package changefeed

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/repo"
)

// Feed streams chatroom changes. The channel closes when ctx is done.
type Feed interface {
	Subscribe(ctx context.Context) (<-chan domain.ChatroomChange, error)
}

// PollingFeed polls the change table every Interval.
type PollingFeed struct {
	DB        *gorm.DB
	Interval  time.Duration
	BatchSize int
	// Buffer is the channel capacity handed to the subscriber.
	Buffer int
}

// NewPollingFeed returns a feed with defaults for unset fields.
func NewPollingFeed(db *gorm.DB, interval time.Duration) *PollingFeed {
	return &PollingFeed{DB: db, Interval: interval, BatchSize: 100, Buffer: 64}
}

// Subscribe starts from the newest change at call time and delivers every
// later change in Seq order. The initial position read is the only error
// returned; later poll failures are logged and retried on the next tick.
func (f *PollingFeed) Subscribe(ctx context.Context) (<-chan domain.ChatroomChange, error) {
	cursor, err := repo.LatestChangeSeq(ctx, f.DB)
	if err != nil {
		return nil, err
	}
	interval := f.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	batch := f.BatchSize
	if batch <= 0 {
		batch = 100
	}

	out := make(chan domain.ChatroomChange, f.Buffer)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			// Drain everything available before waiting for the next tick.
			for {
				changes, err := repo.ChangesSince(ctx, f.DB, cursor, batch)
				if err != nil {
					if ctx.Err() == nil {
						log.Warn().Err(err).Uint64("cursor", cursor).Msg("change feed poll failed")
					}
					break
				}
				for _, ch := range changes {
					select {
					case out <- ch:
						cursor = ch.Seq
					case <-ctx.Done():
						return
					}
				}
				if len(changes) < batch {
					break
				}
			}
		}
	}()
	return out, nil
}
