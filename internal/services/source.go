package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
	"github.com/tbourn/go-chatroom-delivery/internal/repo"
)

// RosterSource loads rosters for the cache layer from the durable store,
// translating repository not-found into ErrChatroomNotFound.
type RosterSource struct {
	DB *gorm.DB
}

// LoadChatroom implements cache.Source.
func (s RosterSource) LoadChatroom(ctx context.Context, name string) (*domain.Chatroom, error) {
	c, err := repo.GetChatroomByName(ctx, s.DB, name)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChatroomNotFound
	}
	return c, err
}

// LoadChatrooms implements cache.Source.
func (s RosterSource) LoadChatrooms(ctx context.Context) ([]domain.Chatroom, error) {
	return repo.ListChatrooms(ctx, s.DB)
}
