package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopbridge/golang_services/internal/core_domain"
)

// Outcome is the result of applying one delivery attempt to a message.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeRetry  Outcome = "retry"
	OutcomeFailed Outcome = "failed"
)

// Transition is the state change the dispatcher must persist after an attempt.
type Transition struct {
	Outcome       Outcome
	Attempts      int
	NextAttemptAt time.Time // set for OutcomeRetry
	Reason        string    // set for OutcomeRetry and OutcomeFailed
}

// BackoffFunc returns the delay before the given retry (1-based attempt just failed).
type BackoffFunc func(attempt int) time.Duration

// Decide is the only place queue state transitions are computed.
//
// msg.Attempts must already count the attempt whose result is deliveryErr. The
// returned transition never leaves Attempts above MaxAttempts and never moves a
// terminal message.
func Decide(msg *QueuedMessage, deliveryErr error, now time.Time, backoff BackoffFunc) (Transition, error) {
	if msg.Status.IsTerminal() {
		return Transition{}, fmt.Errorf("%w: message %d is %s", ErrTerminalState, msg.ID, msg.Status)
	}
	if msg.Attempts < 1 || msg.Attempts > msg.MaxAttempts {
		return Transition{}, fmt.Errorf("%w: message %d has attempts %d of %d", ErrInvalidMessage, msg.ID, msg.Attempts, msg.MaxAttempts)
	}

	t := Transition{Attempts: msg.Attempts}
	switch {
	case deliveryErr == nil:
		t.Outcome = OutcomeSent
	case core_domain.IsPermanentRecipient(deliveryErr), errors.Is(deliveryErr, ErrUndeliverable):
		t.Outcome = OutcomeFailed
		t.Reason = deliveryErr.Error()
	case msg.Attempts >= msg.MaxAttempts:
		t.Outcome = OutcomeFailed
		t.Reason = fmt.Sprintf("failed after %d attempts: %v", msg.Attempts, deliveryErr)
	default:
		t.Outcome = OutcomeRetry
		t.Reason = deliveryErr.Error()
		t.NextAttemptAt = now.UTC().Add(backoff(msg.Attempts))
	}
	return t, nil
}

// Apply mutates msg to reflect t. Repositories persist the same change.
func (m *QueuedMessage) Apply(t Transition, now time.Time) {
	m.Attempts = t.Attempts
	switch t.Outcome {
	case OutcomeSent:
		m.Status = StatusSent
		m.SentAt.Time, m.SentAt.Valid = now.UTC(), true
	case OutcomeFailed:
		m.Status = StatusFailed
		m.LastError.String, m.LastError.Valid = t.Reason, true
	case OutcomeRetry:
		m.ScheduledFor = t.NextAttemptAt
		m.LastError.String, m.LastError.Valid = t.Reason, true
	}
}
