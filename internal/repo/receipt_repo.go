package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
)

// ListReceipts returns the durable receipts of the given kind for a message.
func ListReceipts(ctx context.Context, db *gorm.DB, messageID string, kind domain.AckKind) ([]domain.MessageReceipt, error) {
	var out []domain.MessageReceipt
	err := db.WithContext(ctx).
		Where("message_id = ? AND kind = ?", messageID, kind).
		Order("acked_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// UpdateMessageAckSet merges records into the durable receipts of a
// message. Recipients that already have a receipt of this kind are left
// untouched, so repeated merges are harmless. It returns the size of the
// receipt set after the merge, or ErrNotFound if the message is gone.
func UpdateMessageAckSet(ctx context.Context, db *gorm.DB, messageID string, kind domain.AckKind, records []domain.AckRecord) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.ChatMessage{}).Where("id = ?", messageID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		if len(records) > 0 {
			rows := make([]domain.MessageReceipt, 0, len(records))
			for _, r := range records {
				rows = append(rows, domain.ReceiptFrom(messageID, kind, r))
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
				return err
			}
		}
		return tx.Model(&domain.MessageReceipt{}).
			Where("message_id = ? AND kind = ?", messageID, kind).
			Count(&total).Error
	})
	return total, err
}
