// Package scheduler runs the background reconciliation loops that keep the
// realtime path eventually consistent:
//
//   - roster refresh reloads every chatroom into the cache on an interval
//     or a cron schedule;
//   - the change loop applies chatroom mutations from the change feed and
//     tells connected participants about them;
//   - the retry loop merges acknowledgements queued while participants
//     were offline.
//
// The loops never block the router and log-and-continue on failure.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-chatroom-delivery/internal/cache"
	"github.com/tbourn/go-chatroom-delivery/internal/changefeed"
	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/events"
	"github.com/tbourn/go-chatroom-delivery/internal/observability"
)

// Reconciler is the part of the message router the retry loop drives.
type Reconciler interface {
	ReconcilePending(ctx context.Context) (merged, failed int, err error)
	PurgeExpired(ctx context.Context) (int64, error)
}

// Notifier pushes events to connected identities.
type Notifier interface {
	Send(identity string, ev events.Envelope) bool
	IsOnline(identity string) bool
}

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Scheduler owns the three reconciliation loops.
type Scheduler struct {
	Cache    *cache.Layer
	Router   Reconciler
	Feed     changefeed.Feed
	Presence Notifier

	// RefreshCron, when set, schedules roster refreshes and overrides
	// RefreshInterval.
	RefreshInterval time.Duration
	RefreshCron     string
	RetryInterval   time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
	started bool
}

// Start warms the roster cache, subscribes to the change feed and launches
// the loops. They run until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if s.RefreshCron != "" && !gronx.IsValid(s.RefreshCron) {
		return fmt.Errorf("invalid roster refresh cron %q", s.RefreshCron)
	}
	if s.now == nil {
		s.now = time.Now
	}

	ctx, cancel := context.WithCancel(ctx)
	var changes <-chan domain.ChatroomChange
	if s.Feed != nil {
		ch, err := s.Feed.Subscribe(ctx)
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe change feed: %w", err)
		}
		changes = ch
	}
	s.cancel = cancel
	s.started = true

	// A persistent cache may still hold rosters of chatrooms deleted while
	// the process was down; RefreshAll only rewrites the ones that exist.
	if s.Cache != nil {
		if n, err := s.Cache.ResetRosters(); err != nil {
			log.Warn().Err(err).Msg("stale rosters not cleared")
		} else if n > 0 {
			log.Info().Int("rosters", n).Msg("cached rosters cleared before refresh")
		}
	}
	s.refreshAll(ctx)

	s.wg.Add(1)
	go s.refreshLoop(ctx)
	if changes != nil {
		s.wg.Add(1)
		go s.changeLoop(ctx, changes)
	}
	if s.Router != nil && s.RetryInterval > 0 {
		s.wg.Add(1)
		go s.retryLoop(ctx)
	}
	log.Info().
		Dur("refresh_interval", s.RefreshInterval).
		Str("refresh_cron", s.RefreshCron).
		Dur("retry_interval", s.RetryInterval).
		Msg("reconciliation scheduler started")
	return nil
}

// Stop cancels the loops and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	log.Info().Msg("reconciliation scheduler stopped")
}

func (s *Scheduler) refreshLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		wait, err := s.nextRefresh()
		if err != nil {
			log.Error().Err(err).Str("cron", s.RefreshCron).Msg("roster refresh schedule failed")
			wait = time.Minute
		}
		if wait <= 0 {
			// Nothing to schedule.
			<-ctx.Done()
			return
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			s.refreshAll(ctx)
		}
	}
}

// nextRefresh returns how long to wait for the next roster refresh.
func (s *Scheduler) nextRefresh() (time.Duration, error) {
	if s.RefreshCron == "" {
		return s.RefreshInterval, nil
	}
	now := s.now()
	next, err := gronx.NextTickAfter(s.RefreshCron, now, false)
	if err != nil {
		return 0, err
	}
	if d := next.Sub(now); d > 0 {
		return d, nil
	}
	return time.Second, nil
}

func (s *Scheduler) refreshAll(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	n, err := s.Cache.RefreshAll(ctx)
	if err != nil {
		observability.ReconcileItemsTotal.WithLabelValues("roster_refresh", "failed").Inc()
		log.Error().Err(err).Msg("roster refresh failed")
		return
	}
	observability.ReconcileItemsTotal.WithLabelValues("roster_refresh", "ok").Add(float64(n))
	log.Debug().Int("chatrooms", n).Msg("rosters refreshed")
}

func (s *Scheduler) retryLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.retryOnce(ctx)
		}
	}
}

func (s *Scheduler) retryOnce(ctx context.Context) {
	merged, failed, err := s.Router.ReconcilePending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("offline retry failed")
	} else if merged+failed > 0 {
		log.Info().Int("merged", merged).Int("failed", failed).Msg("offline acknowledgements reconciled")
	}
	if n, err := s.Router.PurgeExpired(ctx); err != nil {
		log.Warn().Err(err).Msg("idempotency purge failed")
	} else if n > 0 {
		log.Debug().Int64("purged", n).Msg("expired idempotency records purged")
	}
	if s.Cache == nil {
		return
	}
	if n, err := s.Cache.Sweep(); err != nil {
		log.Warn().Err(err).Msg("cache sweep failed")
	} else if n > 0 {
		log.Debug().Int("swept", n).Msg("expired cache entries removed")
	}
}

func (s *Scheduler) changeLoop(ctx context.Context, changes <-chan domain.ChatroomChange) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			s.applyChange(ctx, ch)
		}
	}
}

// applyChange refreshes the affected roster and sends chatroom.updated to
// every connected member before or after the change. On removal the
// removed participant is told too.
func (s *Scheduler) applyChange(ctx context.Context, ch domain.ChatroomChange) {
	lookup := ch.ChatroomName
	if ch.Kind == domain.ChangeRenamed && ch.PreviousName != "" {
		lookup = ch.PreviousName
	}
	prior, _ := s.Cache.Peek(lookup)

	var current cache.Roster
	switch ch.Kind {
	case domain.ChangeDeleted:
		_ = s.Cache.InvalidateRoster(ch.ChatroomName)
	default:
		if ch.Kind == domain.ChangeRenamed {
			_ = s.Cache.InvalidateRoster(ch.PreviousName)
		}
		r, err := s.Cache.RefreshRoster(ctx, ch.ChatroomName)
		if err != nil {
			// Already renamed again or deleted; a later change covers it.
			observability.ReconcileItemsTotal.WithLabelValues("change_feed", "skipped").Inc()
			log.Debug().Err(err).Str("chatroom", ch.ChatroomName).Str("change", string(ch.Kind)).Msg("change not applied")
		} else {
			current = r
		}
	}

	recipients := make(map[string]struct{})
	for _, id := range prior.UserIDs() {
		recipients[id] = struct{}{}
	}
	for _, id := range current.UserIDs() {
		recipients[id] = struct{}{}
	}
	if ch.ParticipantID != "" {
		recipients[ch.ParticipantID] = struct{}{}
	}

	if s.Presence != nil {
		ev := events.New(events.TypeChatroomUpdated, "", events.ChatroomUpdated{
			ChatroomID:    ch.ChatroomID,
			ChatroomName:  ch.ChatroomName,
			Change:        string(ch.Kind),
			PreviousName:  ch.PreviousName,
			ParticipantID: ch.ParticipantID,
			AvatarURL:     current.AvatarURL,
			Participants:  current.UserIDs(),
		})
		for id := range recipients {
			if s.Presence.IsOnline(id) && !s.Presence.Send(id, ev) {
				log.Warn().Str("identity", id).Str("chatroom", ch.ChatroomName).Msg("chatroom update dropped")
			}
		}
	}
	observability.ReconcileItemsTotal.WithLabelValues("change_feed", "applied").Inc()
}
