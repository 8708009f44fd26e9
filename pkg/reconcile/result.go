package reconcile

import (
	"time"

	"github.com/go-go-golems/chatstate/pkg/transport"
	"github.com/rs/zerolog"
)

type Operation string

const (
	OperationEditAndRegenerate Operation = "edit-and-regenerate"
	OperationReloadFrom        Operation = "reload-from"
)

// EpochPivot is used as pivot when the pivot message carries no timestamp.
// Truncating after it discards every record of the conversation.
var EpochPivot = time.Unix(0, 0).UTC()

// Result describes how far an operation got. An operation runs in two phases:
// the local edit, then the remote confirmation (durable truncation and the
// regenerate exchange). A Result with LocalApplied set and an error in the
// second phase is a partial success; the local edit stays in place.
type Result struct {
	Operation Operation
	Strategy  string
	// SourceID is the message the caller pointed at.
	SourceID string
	// MessageID is the user message the exchange regenerates from.
	MessageID string
	Pivot     time.Time

	LocalApplied        bool
	Truncated           bool
	TruncationDelegated bool
	TruncationErr       error

	Regenerated  bool
	TransportErr error
	Handle       *transport.ExecutionHandle
}

func newResult(op Operation, strategy string, sourceID string) *Result {
	return &Result{
		Operation: op,
		Strategy:  strategy,
		SourceID:  sourceID,
	}
}

// Partial is true when the local edit was applied but a later phase failed.
func (r *Result) Partial() bool {
	if r == nil {
		return false
	}
	return r.LocalApplied && r.Err() != nil
}

// Err returns the first failure of the remote phase.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	if r.TruncationErr != nil {
		return r.TruncationErr
	}
	return r.TransportErr
}

// Wait waits for the regenerate exchange, if one was started.
func (r *Result) Wait() (transport.Outcome, error) {
	if r == nil || r.Handle == nil {
		return transport.Outcome{}, transport.ErrExecutionHandleNil
	}
	return r.Handle.Wait()
}

func (r *Result) MarshalZerologObject(e *zerolog.Event) {
	e.Str("operation", string(r.Operation)).
		Str("strategy", r.Strategy).
		Str("source_id", r.SourceID).
		Str("message_id", r.MessageID).
		Time("pivot", r.Pivot).
		Bool("local_applied", r.LocalApplied).
		Bool("truncated", r.Truncated).
		Bool("truncation_delegated", r.TruncationDelegated).
		Bool("regenerated", r.Regenerated)
}

// Stats counts the accepted inconsistencies of a controller.
type Stats struct {
	Operations int64
	// Divergences counts local edits kept after the durable truncation failed.
	Divergences int64
	// TransportFailures counts regenerate exchanges that failed after the
	// local edit.
	TransportFailures int64
}
