// Package events defines the JSON envelope exchanged over the realtime
// connection and the typed payloads carried inside it.
//
// Every frame is {"type": ..., "id": ..., "data": {...}}. The optional id is
// a client correlation id echoed back on the matching confirmation or error.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound event types.
const (
	TypeConnect  = "presence.connect"
	TypeSend     = "message.send"
	TypeAck      = "message.ack"
	TypeBackfill = "reconnect.backfill"
	TypeAckFetch = "ack.fetch"
)

// Outbound event types.
const (
	TypePresenceSnapshot = "presence.snapshot"
	TypePresenceChanged  = "presence.changed"
	TypeMessageSent      = "message.sent"
	TypeMessageFailed    = "message.failed"
	TypeMessageReceived  = "message.received"
	TypeAckBroadcast     = "message.ackBroadcast"
	TypeAckList          = "ack.list"
	TypeChatroomUpdated  = "chatroom.updated"
	TypeBackfillComplete = "backfill.complete"
	TypeError            = "error"
)

// Error codes carried by TypeError and TypeMessageFailed payloads.
const (
	CodeValidation    = "validation_failed"
	CodeNotFound      = "not_found"
	CodeForbidden     = "forbidden"
	CodeUnavailable   = "store_unavailable"
	CodeConflict      = "idempotency_conflict"
	CodeNotIdentified = "not_identified"
	CodeRateLimited   = "rate_limited"
	CodeInternal      = "internal_error"
)

// Envelope is one frame on the wire.
type Envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New builds an envelope around payload. Payloads are plain structs, so a
// marshal failure only happens on programmer error; it yields an envelope
// with no data.
func New(typ, id string, payload any) Envelope {
	env := Envelope{Type: typ, ID: id}
	if payload == nil {
		return env
	}
	if raw, err := json.Marshal(payload); err == nil {
		env.Data = raw
	}
	return env
}

// ErrUnknownType is returned by Decode for unsupported inbound types.
var ErrUnknownType = errors.New("unknown event type")

// FieldError reports an invalid or missing inbound field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return &FieldError{Field: field, Reason: "is required"}
	}
	return nil
}

// Decode unmarshals and validates the payload of an inbound envelope. It
// returns one of *Connect, *Send, *Ack, *Backfill or *AckFetch.
func Decode(env Envelope) (any, error) {
	var p interface{ Validate() error }
	switch env.Type {
	case TypeConnect:
		p = &Connect{}
	case TypeSend:
		p = &Send{}
	case TypeAck:
		p = &Ack{}
	case TypeBackfill:
		p = &Backfill{}
	case TypeAckFetch:
		p = &AckFetch{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if len(env.Data) == 0 {
		return nil, &FieldError{Field: "data", Reason: "is required"}
	}
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, &FieldError{Field: "data", Reason: "malformed: " + err.Error()}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
