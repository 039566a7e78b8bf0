package events

// Connect announces the identity behind a connection.
type Connect struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

func (p *Connect) Validate() error {
	if err := required("identity", p.Identity); err != nil {
		return err
	}
	return required("role", p.Role)
}

// SenderClaim is the optional sender block of a send request. When present
// it must name the connection's own identity.
type SenderClaim struct {
	ID string `json:"id"`
}

// ReplyTo references an earlier message. Body is the text the client saw,
// kept when the referenced message cannot be resolved.
type ReplyTo struct {
	ID   string `json:"id"`
	Body string `json:"body,omitempty"`
}

// Send asks the router to append and fan out a message. ClientMsgID is the
// client's retry key for this message; it is unrelated to the envelope id.
type Send struct {
	ChatroomName string       `json:"chatroomName"`
	ClientMsgID  string       `json:"clientMsgId,omitempty"`
	Sender       *SenderClaim `json:"sender,omitempty"`
	Body         string       `json:"body"`
	MessageType  string       `json:"messageType,omitempty"`
	ReplyTo      *ReplyTo     `json:"replyTo,omitempty"`
	Mentions     []string     `json:"mentions,omitempty"`
}

func (p *Send) Validate() error {
	if err := required("chatroomName", p.ChatroomName); err != nil {
		return err
	}
	return required("body", p.Body)
}

// Ack acknowledges delivery or reading of a message.
type Ack struct {
	ChatroomName string `json:"chatroomName"`
	MessageID    string `json:"messageId"`
	Kind         string `json:"kind"`
	SenderID     string `json:"senderId,omitempty"`
	Recipient    string `json:"recipient,omitempty"`
}

func (p *Ack) Validate() error {
	if err := required("chatroomName", p.ChatroomName); err != nil {
		return err
	}
	if err := required("messageId", p.MessageID); err != nil {
		return err
	}
	if p.Kind != "delivered" && p.Kind != "read" {
		return &FieldError{Field: "kind", Reason: "must be delivered or read"}
	}
	return nil
}

// Backfill requests replay of unacknowledged messages after a reconnect.
type Backfill struct {
	ChatroomNames []string `json:"chatroomNames"`
}

func (p *Backfill) Validate() error {
	if len(p.ChatroomNames) == 0 {
		return &FieldError{Field: "chatroomNames", Reason: "is required"}
	}
	return nil
}

// AckFetch asks for the recipients recorded for a message.
type AckFetch struct {
	ChatroomName string `json:"chatroomName"`
	MessageID    string `json:"messageId"`
	Kind         string `json:"kind"`
}

func (p *AckFetch) Validate() error {
	if err := required("chatroomName", p.ChatroomName); err != nil {
		return err
	}
	if err := required("messageId", p.MessageID); err != nil {
		return err
	}
	if p.Kind != "delivered" && p.Kind != "read" {
		return &FieldError{Field: "kind", Reason: "must be delivered or read"}
	}
	return nil
}
