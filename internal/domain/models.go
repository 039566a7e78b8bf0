// Package domain defines the persistence models for chatrooms, their
// rosters, message logs and delivery receipts. These types are mapped with
// GORM and shared across the repository, cache and service layers.
package domain

import (
	"strings"
	"time"
)

// MessageType is the closed set of payload kinds a chat message can carry.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVideo MessageType = "video"
	TypeAudio MessageType = "audio"
	TypeFile  MessageType = "file"
)

// Valid reports whether t is one of the supported message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeFile:
		return true
	}
	return false
}

// Status is the aggregate delivery state of a message. It only ever moves
// forward: sent -> delivered -> read.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank orders statuses so callers can compare progress. Unknown values rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Below returns every status ranked strictly lower than s.
func (s Status) Below() []Status {
	var out []Status
	for _, st := range []Status{StatusSent, StatusDelivered, StatusRead} {
		if st.Rank() < s.Rank() {
			out = append(out, st)
		}
	}
	return out
}

// AckKind distinguishes delivery acknowledgements from read acknowledgements.
type AckKind string

const (
	AckDelivered AckKind = "delivered"
	AckRead      AckKind = "read"
)

// Valid reports whether k is a known acknowledgement kind.
func (k AckKind) Valid() bool { return k == AckDelivered || k == AckRead }

// Status is the message status reached once every required participant has
// acknowledged with this kind.
func (k AckKind) Status() Status {
	if k == AckRead {
		return StatusRead
	}
	return StatusDelivered
}

// Chatroom is a named group conversation. Name is unique and may change over
// time; ID is the stable key messages hang off.
type Chatroom struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null;uniqueIndex:ux_chatroom_name"`
	AvatarURL string    `json:"avatar_url" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Participants is the roster. Rows are cascade-deleted with the chatroom.
	Participants []Participant `json:"participants" gorm:"foreignKey:ChatroomID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Chatroom.
func (Chatroom) TableName() string { return "chatrooms" }

// Participant returns the roster entry for userID, if any.
func (c *Chatroom) Participant(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// Participant is a chatroom member together with the display snapshot
// (names, role, avatar) used when stamping messages and receipts.
type Participant struct {
	ChatroomID string    `json:"-"          gorm:"type:char(36);primaryKey"`
	UserID     string    `json:"user_id"    gorm:"type:varchar(64);primaryKey"`
	FirstName  string    `json:"first_name" gorm:"type:varchar(100)"`
	LastName   string    `json:"last_name"  gorm:"type:varchar(100)"`
	Role       string    `json:"role"       gorm:"type:varchar(32)"`
	AvatarURL  string    `json:"avatar_url" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for Participant.
func (Participant) TableName() string { return "chatroom_participants" }

// DisplayName joins first and last name, falling back to the user id.
func (p Participant) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.UserID
	}
	return name
}

// Record builds an acknowledgement record stamped with at.
func (p Participant) Record(at time.Time) AckRecord {
	return AckRecord{
		UserID:    p.UserID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		AvatarURL: p.AvatarURL,
		At:        at,
	}
}

// ReplyRef points at the message being replied to. When the referenced
// message could not be found the reference keeps only the caller's text and
// Resolved is false.
type ReplyRef struct {
	ID       string `json:"id,omitempty"   gorm:"column:reply_id;type:char(36)"`
	Body     string `json:"body,omitempty" gorm:"column:reply_body;type:text"`
	Resolved bool   `json:"resolved"       gorm:"column:reply_resolved;not null;default:false"`
}

// Empty reports whether the message carries no reply at all.
func (r ReplyRef) Empty() bool { return r.ID == "" && r.Body == "" }

// ChatMessage is one entry in a chatroom's append-only log. Seq gives the
// total order within a chatroom; the sender fields are a snapshot taken at
// send time.
type ChatMessage struct {
	ID           string      `json:"id"            gorm:"type:char(36);primaryKey"`
	ChatroomID   string      `json:"chatroom_id"   gorm:"type:char(36);not null;uniqueIndex:ux_chatroom_seq,priority:1"`
	Seq          int64       `json:"seq"           gorm:"not null;uniqueIndex:ux_chatroom_seq,priority:2"`
	SenderID     string      `json:"sender_id"     gorm:"type:varchar(64);not null;index"`
	SenderName   string      `json:"sender_name"   gorm:"type:varchar(200)"`
	SenderAvatar string      `json:"sender_avatar" gorm:"type:text"`
	SenderRole   string      `json:"sender_role"   gorm:"type:varchar(32)"`
	Body         string      `json:"body"          gorm:"type:text;not null"`
	Type         MessageType `json:"message_type"  gorm:"column:message_type;type:varchar(16);not null;default:'text';check:message_type IN ('text','image','video','audio','file')"`
	Status       Status      `json:"status"        gorm:"type:varchar(16);not null;default:'sent';check:status IN ('sent','delivered','read')"`
	Reply        ReplyRef    `json:"reply_to"      gorm:"embedded"`
	Mentions     []string    `json:"mentions"      gorm:"type:text;serializer:json"`
	ClientMsgID  string      `json:"client_msg_id" gorm:"type:varchar(200)"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`

	// Receipts are the durable acknowledgements flushed for this message.
	Receipts []MessageReceipt `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Chatroom Chatroom         `json:"-" gorm:"foreignKey:ChatroomID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ChatMessage.
func (ChatMessage) TableName() string { return "chat_messages" }

// Acks returns the durable acknowledgement records of the given kind.
func (m *ChatMessage) Acks(kind AckKind) []AckRecord {
	out := make([]AckRecord, 0, len(m.Receipts))
	for _, r := range m.Receipts {
		if r.Kind == kind {
			out = append(out, r.Record())
		}
	}
	return out
}

// AckRecord is the wire and cache form of one acknowledgement.
type AckRecord struct {
	UserID    string    `json:"user_id"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	At        time.Time `json:"at"`
}

// MessageReceipt is a durable acknowledgement. At most one receipt exists per
// (message, kind, recipient).
type MessageReceipt struct {
	ID          uint      `json:"-"          gorm:"primaryKey;autoIncrement"`
	MessageID   string    `json:"message_id" gorm:"type:char(36);not null;uniqueIndex:ux_receipt,priority:1"`
	Kind        AckKind   `json:"kind"       gorm:"type:varchar(16);not null;uniqueIndex:ux_receipt,priority:2;check:kind IN ('delivered','read')"`
	RecipientID string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_receipt,priority:3"`
	FirstName   string    `json:"first_name" gorm:"type:varchar(100)"`
	LastName    string    `json:"last_name"  gorm:"type:varchar(100)"`
	AvatarURL   string    `json:"avatar_url" gorm:"type:text"`
	AckedAt     time.Time `json:"at"`
}

// TableName returns the database table name for MessageReceipt.
func (MessageReceipt) TableName() string { return "message_receipts" }

// Record converts the receipt into its wire form.
func (r MessageReceipt) Record() AckRecord {
	return AckRecord{
		UserID:    r.RecipientID,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		AvatarURL: r.AvatarURL,
		At:        r.AckedAt,
	}
}

// ReceiptFrom builds a receipt row for messageID from an acknowledgement record.
func ReceiptFrom(messageID string, kind AckKind, rec AckRecord) MessageReceipt {
	return MessageReceipt{
		MessageID:   messageID,
		Kind:        kind,
		RecipientID: rec.UserID,
		FirstName:   rec.FirstName,
		LastName:    rec.LastName,
		AvatarURL:   rec.AvatarURL,
		AckedAt:     rec.At,
	}
}

// PendingAck holds acknowledgements observed while some roster participant
// was offline. The retry loop merges Recipients into the durable receipts
// and then removes the row.
type PendingAck struct {
	ID           string      `json:"id"            gorm:"type:char(36);primaryKey"`
	ChatroomID   string      `json:"chatroom_id"   gorm:"type:char(36);not null;index"`
	ChatroomName string      `json:"chatroom_name" gorm:"type:varchar(255)"`
	SenderID     string      `json:"sender_id"     gorm:"type:varchar(64);not null"`
	MessageID    string      `json:"message_id"    gorm:"type:char(36);not null;uniqueIndex:ux_pending_ack,priority:1"`
	Kind         AckKind     `json:"kind"          gorm:"type:varchar(16);not null;uniqueIndex:ux_pending_ack,priority:2"`
	Recipients   []AckRecord `json:"recipients"    gorm:"type:text;serializer:json"`
	Attempts     int         `json:"attempts"      gorm:"not null;default:0"`
	LastError    string      `json:"last_error"    gorm:"type:text"`
	CreatedAt    time.Time   `json:"created_at"    gorm:"index"`
	UpdatedAt    time.Time   `json:"updated_at"`

	Message ChatMessage `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for PendingAck.
func (PendingAck) TableName() string { return "pending_acks" }

// Has reports whether userID is already queued on this record.
func (p *PendingAck) Has(userID string) bool {
	for _, r := range p.Recipients {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// ChangeKind names the chatroom mutation a change-feed entry describes.
type ChangeKind string

const (
	ChangeCreated            ChangeKind = "created"
	ChangeRenamed            ChangeKind = "renamed"
	ChangeAvatarChanged      ChangeKind = "avatar_changed"
	ChangeDeleted            ChangeKind = "deleted"
	ChangeParticipantAdded   ChangeKind = "participant_added"
	ChangeParticipantRemoved ChangeKind = "participant_removed"
)

// ChatroomChange is one entry of the chatroom change feed. Rows are written
// in the same transaction as the mutation they describe.
type ChatroomChange struct {
	Seq           uint64     `json:"seq"            gorm:"primaryKey;autoIncrement"`
	ChatroomID    string     `json:"chatroom_id"    gorm:"type:char(36);not null;index"`
	ChatroomName  string     `json:"chatroom_name"  gorm:"type:varchar(255);not null"`
	Kind          ChangeKind `json:"kind"           gorm:"type:varchar(32);not null"`
	PreviousName  string     `json:"previous_name"  gorm:"type:varchar(255)"`
	ParticipantID string     `json:"participant_id" gorm:"type:varchar(64)"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TableName returns the database table name for ChatroomChange.
func (ChatroomChange) TableName() string { return "chatroom_changes" }
