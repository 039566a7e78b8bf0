package domain

import "time"

// Idempotency maps a sender's client correlation id to the message the
// first attempt produced, keyed by (sender_id, chatroom_id, key). Replays of
// the same key return that message without appending or fanning out again.
type Idempotency struct {
	ID         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	SenderID   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_sender_room_key,priority:1"`
	ChatroomID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_sender_room_key,priority:2"`
	Key        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_sender_room_key,priority:3"`
	MessageID  string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt  time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "send_idempotency" }
