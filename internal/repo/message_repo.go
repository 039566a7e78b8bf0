// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ChatMessage log.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
)

func withReceipts(db *gorm.DB) *gorm.DB {
	return db.Preload("Receipts", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("acked_at ASC, id ASC")
	})
}

// AppendMessage assigns m the next sequence number of its chatroom and
// inserts it. ID, CreatedAt and Status are defaulted when empty. Callers that
// append concurrently to the same chatroom must serialize, otherwise the
// second insert fails on ux_chatroom_seq.
func AppendMessage(ctx context.Context, db *gorm.DB, m *domain.ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = domain.StatusSent
	}
	if m.Type == "" {
		m.Type = domain.TypeText
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&domain.ChatMessage{}).
			Where("chatroom_id = ?", m.ChatroomID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		m.Seq = maxSeq + 1
		return tx.Omit(clause.Associations).Create(m).Error
	})
}

// GetMessage fetches a message and its durable receipts. When chatroomID is
// non-empty the message must also belong to that chatroom.
func GetMessage(ctx context.Context, db *gorm.DB, chatroomID, id string) (*domain.ChatMessage, error) {
	q := withReceipts(db.WithContext(ctx)).Where("id = ?", id)
	if chatroomID != "" {
		q = q.Where("chatroom_id = ?", chatroomID)
	}
	var m domain.ChatMessage
	if err := q.First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, chatroomID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM chat_messages WHERE chatroom_id = ?", chatroomID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice of a chatroom's log in
// sequence order, receipts included.
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatroomID string, offset, limit int) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	err := withReceipts(db.WithContext(ctx)).
		Where("chatroom_id = ?", chatroomID).
		Order("seq ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UnackedCursor marks the last (chatroom, seq) returned by a
// FindUnacknowledgedAfter page. The zero value starts from the beginning.
type UnackedCursor struct {
	ChatroomID string
	Seq        int64
}

// Next returns the cursor positioned after m.
func (UnackedCursor) Next(m domain.ChatMessage) UnackedCursor {
	return UnackedCursor{ChatroomID: m.ChatroomID, Seq: m.Seq}
}

// FindUnacknowledged returns messages in the given chatrooms that
// recipientID did not send and has no durable delivered receipt for,
// ordered by chatroom then sequence. limit <= 0 means no limit.
func FindUnacknowledged(ctx context.Context, db *gorm.DB, chatroomIDs []string, recipientID string, limit int) ([]domain.ChatMessage, error) {
	return FindUnacknowledgedAfter(ctx, db, chatroomIDs, recipientID, UnackedCursor{}, limit)
}

// FindUnacknowledgedAfter is FindUnacknowledged restricted to messages
// strictly after cursor in (chatroom_id, seq) order.
func FindUnacknowledgedAfter(ctx context.Context, db *gorm.DB, chatroomIDs []string, recipientID string, after UnackedCursor, limit int) ([]domain.ChatMessage, error) {
	if len(chatroomIDs) == 0 {
		return nil, nil
	}
	q := withReceipts(db.WithContext(ctx)).
		Where("chatroom_id IN ?", chatroomIDs).
		Where("sender_id <> ?", recipientID).
		Where("NOT EXISTS (SELECT 1 FROM message_receipts r WHERE r.message_id = chat_messages.id AND r.kind = ? AND r.recipient_id = ?)",
			domain.AckDelivered, recipientID)
	if after.ChatroomID != "" {
		q = q.Where("(chatroom_id > ? OR (chatroom_id = ? AND seq > ?))", after.ChatroomID, after.ChatroomID, after.Seq)
	}
	q = q.Order("chatroom_id ASC, seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.ChatMessage
	err := q.Find(&out).Error
	return out, err
}

// AdvanceStatus moves message id to status to, but only from a strictly
// lower status. It reports whether a row changed.
func AdvanceStatus(ctx context.Context, db *gorm.DB, id string, to domain.Status) (bool, error) {
	lower := to.Below()
	if len(lower) == 0 {
		return false, nil
	}
	res := db.WithContext(ctx).Model(&domain.ChatMessage{}).
		Where("id = ? AND status IN ?", id, lower).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	return res.RowsAffected > 0, res.Error
}
