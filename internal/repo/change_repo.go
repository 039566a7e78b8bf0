package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
)

// recordChange appends a change-feed row. It must run inside the same
// transaction as the mutation it describes.
func recordChange(tx *gorm.DB, ch domain.ChatroomChange) error {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	return tx.Create(&ch).Error
}

// ChangesSince returns up to limit change rows with Seq greater than after,
// in ascending order.
func ChangesSince(ctx context.Context, db *gorm.DB, after uint64, limit int) ([]domain.ChatroomChange, error) {
	var out []domain.ChatroomChange
	q := db.WithContext(ctx).Where("seq > ?", after).Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// LatestChangeSeq returns the highest Seq in the change feed, or 0 when empty.
func LatestChangeSeq(ctx context.Context, db *gorm.DB) (uint64, error) {
	var seq uint64
	err := db.WithContext(ctx).Model(&domain.ChatroomChange{}).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&seq).Error
	return seq, err
}
