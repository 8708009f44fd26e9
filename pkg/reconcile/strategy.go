package reconcile

import (
	"context"
	"time"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/go-go-golems/chatstate/pkg/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Truncater discards durable records. store.Writer satisfies it.
type Truncater interface {
	DeleteTrailingRecords(ctx context.Context, conversationID string, after time.Time) error
}

// Transport is the part of transport.Adapter the strategies drive.
type Transport interface {
	IsLoading() bool
	Reload(ctx context.Context) (*transport.ExecutionHandle, error)
	Regenerate(ctx context.Context, messageID string) (*transport.ExecutionHandle, error)
}

var _ Transport = (*transport.Adapter)(nil)

// Env is what a strategy operates on.
type Env struct {
	ConversationID string
	State          *conversation.State
	Transport      Transport
	// Store may be nil, in which case durable truncation is skipped.
	Store Truncater

	Now   func() time.Time
	NewID func() string
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e *Env) truncate(ctx context.Context, res *Result) error {
	if e.Store == nil {
		log.Debug().Str("conversation_id", e.ConversationID).Msg("no durable store, skipping truncation")
		return nil
	}
	if err := e.Store.DeleteTrailingRecords(ctx, e.ConversationID, res.Pivot); err != nil {
		res.TruncationErr = &TruncationError{ConversationID: e.ConversationID, Pivot: res.Pivot, Err: err}
		return res.TruncationErr
	}
	res.Truncated = true
	return nil
}

// Strategy decides where truncation authority lives. Implementations report
// structural errors before touching the log.
type Strategy interface {
	Name() string
	EditAndRegenerate(ctx context.Context, env *Env, messageID string, newText string) (*Result, error)
	ReloadFrom(ctx context.Context, env *Env, followerID string) (*Result, error)
}

const (
	StrategyManual    = "manual"
	StrategyDelegated = "delegated"
)

// StrategyFromName returns the strategy registered under name.
func StrategyFromName(name string) (Strategy, error) {
	switch name {
	case StrategyManual:
		return &ManualStrategy{}, nil
	case StrategyDelegated, "":
		return &DelegatedStrategy{}, nil
	default:
		return nil, &unknownStrategyError{name: name}
	}
}

type unknownStrategyError struct {
	name string
}

func (e *unknownStrategyError) Error() string {
	return ErrUnknownStrategy.Error() + ": " + e.name
}

func (e *unknownStrategyError) Is(target error) bool { return target == ErrUnknownStrategy }

func pivotOf(msg *conversation.Message) time.Time {
	if msg == nil || msg.CreatedAt.IsZero() {
		return EpochPivot
	}
	return msg.CreatedAt
}

// editTarget finds the user message to edit.
func editTarget(env *Env, messageID string) (*conversation.Message, error) {
	target, _, ok := env.State.Get(messageID)
	if !ok {
		return nil, &PivotNotFoundError{MessageID: messageID}
	}
	if target.Role != conversation.RoleUser {
		return nil, &InvalidPivotRoleError{MessageID: messageID, Role: target.Role, Expected: conversation.RoleUser}
	}
	return target, nil
}

// reloadAnchor finds the follower and the user message preceding it.
func reloadAnchor(env *Env, followerID string) (follower, preceding *conversation.Message, err error) {
	follower, idx, ok := env.State.Get(followerID)
	if !ok {
		return nil, nil, &NoPrecedingMessageError{MessageID: followerID, Index: -1}
	}
	if idx < 1 {
		return nil, nil, &NoPrecedingMessageError{MessageID: followerID, Index: idx}
	}
	preceding, ok = env.State.At(idx - 1)
	if !ok {
		return nil, nil, &NoPrecedingMessageError{MessageID: followerID, Index: idx}
	}
	if preceding.Role != conversation.RoleUser {
		return nil, nil, &InvalidPivotRoleError{MessageID: preceding.ID, Role: preceding.Role, Expected: conversation.RoleUser}
	}
	return follower, preceding, nil
}

func startExchange(res *Result, start func() (*transport.ExecutionHandle, error)) error {
	h, err := start()
	if err != nil {
		res.TransportErr = err
		return err
	}
	res.Handle = h
	res.Regenerated = true
	return nil
}
