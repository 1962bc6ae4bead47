package domain

import "errors"

var (
	// ErrNotFound indicates that a queued message does not exist.
	ErrNotFound = errors.New("queued message not found")
	// ErrInvalidMessage indicates a message that cannot be enqueued as built.
	ErrInvalidMessage = errors.New("invalid queued message")
	// ErrUnknownKind indicates a payload kind the dispatcher has no handler for.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrTerminalState indicates an attempted transition out of Sent or Failed.
	ErrTerminalState = errors.New("message is in a terminal state")
	// ErrNotClaimed indicates the attempt counter could not be incremented,
	// because the row is no longer pending or has no attempts left.
	ErrNotClaimed = errors.New("message could not be claimed for delivery")
	// ErrUndeliverable marks failures no retry can fix (corrupt payload, template error).
	ErrUndeliverable = errors.New("message is undeliverable")
)
