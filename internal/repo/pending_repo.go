package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
)

// UpsertPendingAck queues rec on the pending record for (msg, kind),
// creating the record when none exists. A recipient already queued is not
// added twice.
func UpsertPendingAck(ctx context.Context, db *gorm.DB, chatroomName string, msg *domain.ChatMessage, kind domain.AckKind, rec domain.AckRecord) error {
	upsert := func() error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var p domain.PendingAck
			err := tx.Where("message_id = ? AND kind = ?", msg.ID, kind).First(&p).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				now := time.Now().UTC()
				p = domain.PendingAck{
					ID:           uuid.NewString(),
					ChatroomID:   msg.ChatroomID,
					ChatroomName: chatroomName,
					SenderID:     msg.SenderID,
					MessageID:    msg.ID,
					Kind:         kind,
					Recipients:   []domain.AckRecord{rec},
					CreatedAt:    now,
					UpdatedAt:    now,
				}
				return tx.Omit("Message").Create(&p).Error
			case err != nil:
				return err
			}
			if p.Has(rec.UserID) {
				return nil
			}
			// Struct updates run the JSON serializer; map updates would not.
			return tx.Model(&p).Select("Recipients", "UpdatedAt").Updates(&domain.PendingAck{
				Recipients: append(p.Recipients, rec),
				UpdatedAt:  time.Now().UTC(),
			}).Error
		})
	}
	err := upsert()
	if isUniqueViolation(err) {
		// Lost a create race; the row exists now, so append to it.
		err = upsert()
	}
	return err
}

// GetPendingAck returns the pending record for (messageID, kind).
func GetPendingAck(ctx context.Context, db *gorm.DB, messageID string, kind domain.AckKind) (*domain.PendingAck, error) {
	var p domain.PendingAck
	if err := db.WithContext(ctx).Where("message_id = ? AND kind = ?", messageID, kind).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPendingAcks returns up to limit pending records, fewest attempts
// first and oldest first within the same attempt count. Records that keep
// failing sink behind fresh ones instead of filling every batch.
func ListPendingAcks(ctx context.Context, db *gorm.DB, limit int) ([]domain.PendingAck, error) {
	var out []domain.PendingAck
	q := db.WithContext(ctx).Order("attempts ASC, created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountPendingAcks returns the number of queued pending records.
func CountPendingAcks(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.PendingAck{}).Count(&n).Error
	return n, err
}

// DeletePendingAck removes a pending record once it has been merged.
func DeletePendingAck(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.PendingAck{}).Error
}

// MarkPendingAckFailed records a failed merge attempt on the pending record.
func MarkPendingAckFailed(ctx context.Context, db *gorm.DB, id, reason string) error {
	return db.WithContext(ctx).Model(&domain.PendingAck{}).Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
			"updated_at": time.Now().UTC(),
		}).Error
}
