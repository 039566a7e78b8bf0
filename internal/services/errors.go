// Package services holds the delivery subsystem's business logic: the
// message router (send, acknowledge, backfill, offline reconciliation) and
// chatroom administration. This file centralizes service-level errors so
// handlers and the realtime gateway can map them consistently.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrChatroomNotFound indicates the named chatroom does not exist.
	ErrChatroomNotFound = errors.New("chatroom not found")

	// ErrMessageNotFound indicates the message does not exist in the chatroom.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotParticipant is returned when an identity acts on a chatroom
	// whose roster does not include it.
	ErrNotParticipant = errors.New("identity is not a participant of the chatroom")

	// ErrTransientStore wraps durable-store or cache failures that a retry
	// may resolve.
	ErrTransientStore = errors.New("store temporarily unavailable")

	// ErrIdempotencyConflict is returned when a client message id is reused
	// for a message with a different body or type.
	ErrIdempotencyConflict = errors.New("client message id already used for a different message")

	// ErrChatroomExists is returned when creating or renaming onto a taken name.
	ErrChatroomExists = errors.New("chatroom already exists")

	// ErrParticipantExists is returned when adding a member twice.
	ErrParticipantExists = errors.New("participant already in chatroom")

	// ErrParticipantNotFound is returned when removing a non-member.
	ErrParticipantNotFound = errors.New("participant not in chatroom")

	// errDuplicateAck marks an acknowledgement that was already recorded.
	// It never leaves the package; duplicates are silent no-ops.
	errDuplicateAck = errors.New("acknowledgement already recorded")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// transient wraps a store failure so callers can match ErrTransientStore
// while keeping the cause.
func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStore, err)
}
