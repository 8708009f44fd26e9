package reconcile

import (
	"fmt"
	"time"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/pkg/errors"
)

var (
	ErrPivotNotFound      = errors.New("pivot message not found")
	ErrNoPrecedingMessage = errors.New("no preceding message")
	ErrInvalidPivotRole   = errors.New("invalid pivot role")
	ErrTruncationFailure  = errors.New("truncation failure")
	// ErrReconcileInFlight is returned when an edit or reload is started while
	// another one has not returned yet.
	ErrReconcileInFlight = errors.New("a reconciliation operation is already in flight")
	ErrUnknownStrategy   = errors.New("unknown reconciliation strategy")
)

type PivotNotFoundError struct {
	MessageID string
}

func (e *PivotNotFoundError) Error() string {
	return fmt.Sprintf("%s: %q", ErrPivotNotFound, e.MessageID)
}

func (e *PivotNotFoundError) Is(target error) bool { return target == ErrPivotNotFound }

// NoPrecedingMessageError is returned by ReloadFrom when the follower is the
// first message of the log or not in it at all (Index is -1).
type NoPrecedingMessageError struct {
	MessageID string
	Index     int
}

func (e *NoPrecedingMessageError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: message %q not in log", ErrNoPrecedingMessage, e.MessageID)
	}
	return fmt.Sprintf("%s: message %q is at index %d", ErrNoPrecedingMessage, e.MessageID, e.Index)
}

func (e *NoPrecedingMessageError) Is(target error) bool { return target == ErrNoPrecedingMessage }

type InvalidPivotRoleError struct {
	MessageID string
	Role      conversation.Role
	Expected  conversation.Role
}

func (e *InvalidPivotRoleError) Error() string {
	return fmt.Sprintf("%s: message %q has role %s, expected %s", ErrInvalidPivotRole, e.MessageID, e.Role, e.Expected)
}

func (e *InvalidPivotRoleError) Is(target error) bool { return target == ErrInvalidPivotRole }

// TruncationError wraps a failed durable truncation. The local edit that
// preceded it is kept.
type TruncationError struct {
	ConversationID string
	Pivot          time.Time
	Err            error
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("%s: conversation %s after %s: %v",
		ErrTruncationFailure, e.ConversationID, e.Pivot.Format(time.RFC3339Nano), e.Err)
}

func (e *TruncationError) Is(target error) bool { return target == ErrTruncationFailure }

func (e *TruncationError) Unwrap() error { return e.Err }

// IsStructural reports whether err rejected an operation before anything was
// mutated.
func IsStructural(err error) bool {
	return errors.Is(err, ErrPivotNotFound) ||
		errors.Is(err, ErrNoPrecedingMessage) ||
		errors.Is(err, ErrInvalidPivotRole)
}

func notificationKind(err error) string {
	switch {
	case errors.Is(err, ErrPivotNotFound):
		return "pivot_not_found"
	case errors.Is(err, ErrNoPrecedingMessage):
		return "no_preceding_message"
	case errors.Is(err, ErrInvalidPivotRole):
		return "invalid_pivot_role"
	case errors.Is(err, ErrTruncationFailure):
		return "truncation_failure"
	case errors.Is(err, conversation.ErrMalformedPart):
		return "malformed_part"
	default:
		return "reconcile_failure"
	}
}
