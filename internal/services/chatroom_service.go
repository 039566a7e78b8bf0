// Package services – ChatroomService
//
// ChatroomService administers chatrooms and their rosters. Names are
// normalized the same way the router normalizes lookups, and every
// mutation drops the cached roster so the next send or acknowledgement
// sees it. The repository writes a change-feed row with each mutation; the
// scheduler turns those into chatroom.updated notifications.
package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-delivery/internal/cache"
	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/repo"
)

// ChatroomRepo defines the repository contract required by ChatroomService.
type ChatroomRepo interface {
	CreateChatroom(ctx context.Context, db *gorm.DB, name, avatarURL string, participants []domain.Participant) (*domain.Chatroom, error)
	GetChatroomByName(ctx context.Context, db *gorm.DB, name string) (*domain.Chatroom, error)
	CountChatrooms(ctx context.Context, db *gorm.DB) (int64, error)
	ListChatroomsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Chatroom, error)
	RenameChatroom(ctx context.Context, db *gorm.DB, id, newName string) error
	UpdateChatroomAvatar(ctx context.Context, db *gorm.DB, id, avatarURL string) error
	DeleteChatroom(ctx context.Context, db *gorm.DB, id string) error
	AddParticipant(ctx context.Context, db *gorm.DB, id string, p domain.Participant) error
	RemoveParticipant(ctx context.Context, db *gorm.DB, id, userID string) error
}

// ChatroomService manages chatrooms and rosters.
type ChatroomService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the chatroom repository used by this service.
	Repo ChatroomRepo
	// Cache is invalidated after each successful mutation. May be nil.
	Cache *cache.Layer

	// NameMaxLen caps chatroom names by rune length.
	NameMaxLen int
}

// NewChatroomService constructs a ChatroomService with default limits.
func NewChatroomService(db *gorm.DB, r ChatroomRepo, c *cache.Layer) *ChatroomService {
	return &ChatroomService{DB: db, Repo: r, Cache: c, NameMaxLen: 120}
}

// Create inserts a chatroom with its initial roster.
func (s *ChatroomService) Create(ctx context.Context, name, avatarURL string, participants []domain.Participant) (*domain.Chatroom, error) {
	name, err := s.validName(name)
	if err != nil {
		return nil, err
	}
	ps := make([]domain.Participant, 0, len(participants))
	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		p.UserID = strings.TrimSpace(p.UserID)
		if p.UserID == "" {
			return nil, invalid("participants", "user_id is required")
		}
		if _, dup := seen[p.UserID]; dup {
			return nil, invalid("participants", "duplicate user_id "+p.UserID)
		}
		seen[p.UserID] = struct{}{}
		ps = append(ps, p)
	}

	c, err := s.Repo.CreateChatroom(ctx, s.DB, name, strings.TrimSpace(avatarURL), ps)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrChatroomExists
		}
		return nil, err
	}
	s.invalidate(name)
	return c, nil
}

// Get returns a chatroom and its roster by name.
func (s *ChatroomService) Get(ctx context.Context, name string) (*domain.Chatroom, error) {
	c, err := s.Repo.GetChatroomByName(ctx, s.DB, normalizeName(name))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatroomNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListPage returns a page of chatrooms and the total count.
func (s *ChatroomService) ListPage(ctx context.Context, page, pageSize int) ([]domain.Chatroom, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountChatrooms(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Chatroom{}, 0, nil
	}
	items, err := s.Repo.ListChatroomsPage(ctx, s.DB, offset, pageSize)
	return items, total, err
}

// Rename changes a chatroom's name. Its message log is keyed by id and
// stays attached.
func (s *ChatroomService) Rename(ctx context.Context, name, newName string) (*domain.Chatroom, error) {
	newName, err := s.validName(newName)
	if err != nil {
		return nil, err
	}
	c, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.RenameChatroom(ctx, s.DB, c.ID, newName); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrChatroomExists
		}
		return nil, err
	}
	s.invalidate(c.Name)
	s.invalidate(newName)
	c.Name = newName
	return c, nil
}

// SetAvatar replaces a chatroom's avatar URL.
func (s *ChatroomService) SetAvatar(ctx context.Context, name, avatarURL string) error {
	c, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := s.Repo.UpdateChatroomAvatar(ctx, s.DB, c.ID, strings.TrimSpace(avatarURL)); err != nil {
		return err
	}
	s.invalidate(c.Name)
	return nil
}

// Delete removes a chatroom together with its log.
func (s *ChatroomService) Delete(ctx context.Context, name string) error {
	c, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := s.Repo.DeleteChatroom(ctx, s.DB, c.ID); err != nil {
		return err
	}
	s.invalidate(c.Name)
	return nil
}

// AddParticipant adds p to the roster of the named chatroom.
func (s *ChatroomService) AddParticipant(ctx context.Context, name string, p domain.Participant) error {
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return invalid("user_id", "is required")
	}
	c, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := s.Repo.AddParticipant(ctx, s.DB, c.ID, p); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return ErrParticipantExists
		}
		return err
	}
	s.invalidate(c.Name)
	return nil
}

// RemoveParticipant drops userID from the roster of the named chatroom.
func (s *ChatroomService) RemoveParticipant(ctx context.Context, name, userID string) error {
	c, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := s.Repo.RemoveParticipant(ctx, s.DB, c.ID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrParticipantNotFound
		}
		return err
	}
	s.invalidate(c.Name)
	return nil
}

func (s *ChatroomService) validName(name string) (string, error) {
	name = normalizeName(name)
	if name == "" {
		return "", invalid("name", "is required")
	}
	if s.NameMaxLen > 0 && utf8.RuneCountInString(name) > s.NameMaxLen {
		return "", invalid("name", "is too long")
	}
	return name, nil
}

func (s *ChatroomService) invalidate(name string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.InvalidateRoster(name); err != nil {
		log.Warn().Err(err).Str("chatroom", name).Msg("roster cache invalidation failed")
	}
}
