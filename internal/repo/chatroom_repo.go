// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for chatrooms and
// their rosters.
//
// All functions are context-aware and accept a *gorm.DB handle. They follow
// the "thin repository" approach: no business logic, only persistence and
// query composition. Every mutation also appends a ChatroomChange row in the
// same transaction so the change feed never misses or invents an update.
//
// Error semantics:
//   - Missing rows surface as ErrNotFound (gorm.ErrRecordNotFound).
//   - UNIQUE violations (duplicate chatroom name or participant) surface as
//     ErrDuplicate.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
)

func withParticipants(db *gorm.DB) *gorm.DB {
	return db.Preload("Participants", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("user_id ASC")
	})
}

// CreateChatroom inserts a chatroom together with its initial roster.
func CreateChatroom(ctx context.Context, db *gorm.DB, name, avatarURL string, participants []domain.Participant) (*domain.Chatroom, error) {
	now := time.Now().UTC()
	c := &domain.Chatroom{
		ID:        uuid.NewString(),
		Name:      name,
		AvatarURL: avatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, p := range participants {
		p.ChatroomID = c.ID
		p.CreatedAt = now
		c.Participants = append(c.Participants, p)
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(c).Error; err != nil {
			return err
		}
		if len(c.Participants) > 0 {
			if err := tx.Create(&c.Participants).Error; err != nil {
				return err
			}
		}
		return recordChange(tx, domain.ChatroomChange{ChatroomID: c.ID, ChatroomName: c.Name, Kind: domain.ChangeCreated})
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return c, nil
}

// GetChatroomByName fetches a chatroom and its roster by its current name.
func GetChatroomByName(ctx context.Context, db *gorm.DB, name string) (*domain.Chatroom, error) {
	var c domain.Chatroom
	if err := withParticipants(db.WithContext(ctx)).Where("name = ?", name).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChatroomByID fetches a chatroom and its roster by its stable id.
func GetChatroomByID(ctx context.Context, db *gorm.DB, id string) (*domain.Chatroom, error) {
	var c domain.Chatroom
	if err := withParticipants(db.WithContext(ctx)).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChatrooms returns every chatroom with its roster, ordered by name.
func ListChatrooms(ctx context.Context, db *gorm.DB) ([]domain.Chatroom, error) {
	var out []domain.Chatroom
	err := withParticipants(db.WithContext(ctx)).Order("name ASC").Find(&out).Error
	return out, err
}

// CountChatrooms returns the total number of chatrooms.
func CountChatrooms(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Chatroom{}).Count(&total).Error
	return total, err
}

// ListChatroomsPage returns a paginated slice of chatrooms ordered by name.
// The caller is responsible for computing offset and limit.
func ListChatroomsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Chatroom, error) {
	var out []domain.Chatroom
	err := withParticipants(db.WithContext(ctx)).
		Order("name ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RenameChatroom changes the name of chatroom id. Messages keep pointing at
// the stable id so nothing else moves.
func RenameChatroom(ctx context.Context, db *gorm.DB, id, newName string) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c domain.Chatroom
		if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
			return err
		}
		if c.Name == newName {
			return nil
		}
		if err := tx.Model(&domain.Chatroom{}).Where("id = ?", id).
			Updates(map[string]any{"name": newName, "updated_at": time.Now().UTC()}).Error; err != nil {
			return err
		}
		return recordChange(tx, domain.ChatroomChange{ChatroomID: id, ChatroomName: newName, PreviousName: c.Name, Kind: domain.ChangeRenamed})
	})
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// UpdateChatroomAvatar sets the avatar URL of chatroom id.
func UpdateChatroomAvatar(ctx context.Context, db *gorm.DB, id, avatarURL string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c domain.Chatroom
		if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.Chatroom{}).Where("id = ?", id).
			Updates(map[string]any{"avatar_url": avatarURL, "updated_at": time.Now().UTC()}).Error; err != nil {
			return err
		}
		return recordChange(tx, domain.ChatroomChange{ChatroomID: id, ChatroomName: c.Name, Kind: domain.ChangeAvatarChanged})
	})
}

// DeleteChatroom removes chatroom id. Participants, messages and receipts
// cascade with it.
func DeleteChatroom(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c domain.Chatroom
		if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
			return err
		}
		if err := tx.Delete(&domain.Chatroom{}, "id = ?", id).Error; err != nil {
			return err
		}
		return recordChange(tx, domain.ChatroomChange{ChatroomID: id, ChatroomName: c.Name, Kind: domain.ChangeDeleted})
	})
}

// AddParticipant adds p to the roster of chatroom id. ErrDuplicate is
// returned when the user is already a member.
func AddParticipant(ctx context.Context, db *gorm.DB, id string, p domain.Participant) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c domain.Chatroom
		if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
			return err
		}
		p.ChatroomID = id
		p.CreatedAt = time.Now().UTC()
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.Chatroom{}).Where("id = ?", id).Update("updated_at", time.Now().UTC()).Error; err != nil {
			return err
		}
		return recordChange(tx, domain.ChatroomChange{ChatroomID: id, ChatroomName: c.Name, ParticipantID: p.UserID, Kind: domain.ChangeParticipantAdded})
	})
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// RemoveParticipant drops userID from the roster of chatroom id. It returns
// ErrNotFound if the chatroom or the membership does not exist.
func RemoveParticipant(ctx context.Context, db *gorm.DB, id, userID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c domain.Chatroom
		if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
			return err
		}
		res := tx.Where("chatroom_id = ? AND user_id = ?", id, userID).Delete(&domain.Participant{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Model(&domain.Chatroom{}).Where("id = ?", id).Update("updated_at", time.Now().UTC()).Error; err != nil {
			return err
		}
		return recordChange(tx, domain.ChatroomChange{ChatroomID: id, ChatroomName: c.Name, ParticipantID: userID, Kind: domain.ChangeParticipantRemoved})
	})
}
