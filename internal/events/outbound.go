package events

import (
	"time"

	"github.com/tbourn/go-chatroom-delivery/internal/domain"
)

// PresenceEntry describes one connected identity.
type PresenceEntry struct {
	Identity    string    `json:"identity"`
	Role        string    `json:"role"`
	Online      bool      `json:"online"`
	ConnectedAt time.Time `json:"connectedAt,omitempty"`
}

// PresenceSnapshot lists everyone online when a connection identifies.
type PresenceSnapshot struct {
	Online []PresenceEntry `json:"online"`
}

// SenderView is the sender snapshot stamped on a message.
type SenderView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Role      string `json:"role,omitempty"`
}

// ReplyView is the reply reference carried on a message.
type ReplyView struct {
	ID       string `json:"id,omitempty"`
	Body     string `json:"body,omitempty"`
	Resolved bool   `json:"resolved"`
}

// AckView is one recipient on a delivered or read list.
type AckView struct {
	UserID    string    `json:"userId"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	At        time.Time `json:"at"`
}

// AckViews converts acknowledgement records to their wire form.
func AckViews(recs []domain.AckRecord) []AckView {
	out := make([]AckView, 0, len(recs))
	for _, r := range recs {
		out = append(out, AckView{UserID: r.UserID, FirstName: r.FirstName, LastName: r.LastName, AvatarURL: r.AvatarURL, At: r.At})
	}
	return out
}

// MessageView is the wire form of a chat message.
type MessageView struct {
	ID           string     `json:"id"`
	ChatroomID   string     `json:"chatroomId"`
	ChatroomName string     `json:"chatroomName"`
	Seq          int64      `json:"seq"`
	Sender       SenderView `json:"sender"`
	Body         string     `json:"body"`
	MessageType  string     `json:"messageType"`
	Status       string     `json:"status"`
	DeliveredTo  []AckView  `json:"deliveredTo"`
	ReadBy       []AckView  `json:"readBy"`
	ReplyTo      *ReplyView `json:"replyTo,omitempty"`
	Mentions     []string   `json:"mentions,omitempty"`
	ClientMsgID  string     `json:"clientMsgId,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// MessageFrom builds the wire view of m, published under chatroomName.
func MessageFrom(m *domain.ChatMessage, chatroomName string) MessageView {
	v := MessageView{
		ID:           m.ID,
		ChatroomID:   m.ChatroomID,
		ChatroomName: chatroomName,
		Seq:          m.Seq,
		Sender: SenderView{
			ID:        m.SenderID,
			Name:      m.SenderName,
			AvatarURL: m.SenderAvatar,
			Role:      m.SenderRole,
		},
		Body:        m.Body,
		MessageType: string(m.Type),
		Status:      string(m.Status),
		DeliveredTo: AckViews(m.Acks(domain.AckDelivered)),
		ReadBy:      AckViews(m.Acks(domain.AckRead)),
		Mentions:    m.Mentions,
		ClientMsgID: m.ClientMsgID,
		Timestamp:   m.CreatedAt,
	}
	if !m.Reply.Empty() {
		v.ReplyTo = &ReplyView{ID: m.Reply.ID, Body: m.Reply.Body, Resolved: m.Reply.Resolved}
	}
	return v
}

// MessageEvent wraps a message for message.sent and message.received.
// Backfill marks messages replayed after a reconnect.
type MessageEvent struct {
	Message  MessageView `json:"message"`
	Backfill bool        `json:"backfill,omitempty"`
}

// MessageFailed tells a sender its message was not persisted.
type MessageFailed struct {
	ChatroomName string `json:"chatroomName"`
	Code         string `json:"code"`
	Error        string `json:"error"`
}

// AckBroadcast announces one new acknowledgement to the roster.
type AckBroadcast struct {
	ChatroomName string  `json:"chatroomName"`
	MessageID    string  `json:"messageId"`
	SenderID     string  `json:"senderId"`
	Kind         string  `json:"kind"`
	Recipient    AckView `json:"recipient"`
	Status       string  `json:"status"`
}

// AckList answers an ack.fetch request.
type AckList struct {
	ChatroomName string    `json:"chatroomName"`
	MessageID    string    `json:"messageId"`
	Kind         string    `json:"kind"`
	Recipients   []AckView `json:"recipients"`
}

// ChatroomUpdated notifies roster members of a chatroom mutation.
type ChatroomUpdated struct {
	ChatroomID    string   `json:"chatroomId"`
	ChatroomName  string   `json:"chatroomName"`
	Change        string   `json:"change"`
	PreviousName  string   `json:"previousName,omitempty"`
	ParticipantID string   `json:"participantId,omitempty"`
	AvatarURL     string   `json:"avatarUrl,omitempty"`
	Participants  []string `json:"participants,omitempty"`
}

// BackfillComplete closes a backfill replay.
type BackfillComplete struct {
	Count int `json:"count"`
}

// Error reports a rejected inbound event.
type Error struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestType string `json:"requestType,omitempty"`
}
