package core_domain

import (
	"errors"
	"fmt"
)

// Boundary errors. These are surfaced synchronously to the caller and never enqueued.
var (
	// ErrAuthentication indicates a bad or missing webhook signature or admin credential.
	ErrAuthentication = errors.New("authentication failed")
	// ErrValidation indicates missing required headers or fields.
	ErrValidation = errors.New("validation failed")
	// ErrNotReady indicates the subsystem has not finished initializing; callers should retry.
	ErrNotReady = errors.New("subsystem not ready")
)

// DeliveryError is a transient failure sending to a destination (unreachable,
// rate limited, unknown channel). It counts against the retry budget.
type DeliveryError struct {
	Destination string
	StatusCode  int // 0 when the request never completed
	Err         error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery to %s failed (status %d): %v", e.Destination, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery to %s failed: %v", e.Destination, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// PermanentRecipientError means the recipient can never be reached (for example
// DMs closed). Retrying cannot succeed, so the message fails immediately.
type PermanentRecipientError struct {
	Recipient string
	Reason    string
}

func (e *PermanentRecipientError) Error() string {
	return fmt.Sprintf("recipient %s permanently unreachable: %s", e.Recipient, e.Reason)
}

// UpstreamAPIError is a failed call to the storefront API. It aborts the sync run
// that made it.
type UpstreamAPIError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamAPIError) Unwrap() error { return e.Err }

// IsPermanentRecipient reports whether err is, or wraps, a PermanentRecipientError.
func IsPermanentRecipient(err error) bool {
	var perm *PermanentRecipientError
	return errors.As(err, &perm)
}
