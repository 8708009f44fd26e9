package reconcile

import (
	"context"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/go-go-golems/chatstate/pkg/transport"
)

// DelegatedStrategy leaves truncation to the server. The client only edits
// its log and issues one regenerate call carrying the target id; message ids
// are preserved so tool results keep routing to the same message.
type DelegatedStrategy struct{}

var _ Strategy = (*DelegatedStrategy)(nil)

func (s *DelegatedStrategy) Name() string { return StrategyDelegated }

func (s *DelegatedStrategy) EditAndRegenerate(ctx context.Context, env *Env, messageID string, newText string) (*Result, error) {
	res := newResult(OperationEditAndRegenerate, s.Name(), messageID)
	target, err := editTarget(env, messageID)
	if err != nil {
		return res, err
	}
	res.Pivot = pivotOf(target)

	// same id and timestamp, text replaced, followers dropped in one mutation
	edited := target.Clone()
	edited.Parts = nil
	edited.Content = ""
	edited.AppendPart(conversation.NewTextPart(newText))
	if err := env.State.Apply(conversation.MutateReplaceFrom(target.ID, edited)); err != nil {
		return res, err
	}
	res.LocalApplied = true
	res.MessageID = target.ID
	res.TruncationDelegated = true

	if err := startExchange(res, func() (*transport.ExecutionHandle, error) {
		return env.Transport.Regenerate(ctx, target.ID)
	}); err != nil {
		return res, err
	}
	return res, nil
}

func (s *DelegatedStrategy) ReloadFrom(ctx context.Context, env *Env, followerID string) (*Result, error) {
	res := newResult(OperationReloadFrom, s.Name(), followerID)
	follower, preceding, err := reloadAnchor(env, followerID)
	if err != nil {
		return res, err
	}
	res.Pivot = pivotOf(follower)
	res.MessageID = preceding.ID
	res.TruncationDelegated = true

	// a user follower would be kept and resent by the server; anchor on the
	// preceding message instead so the follower is dropped
	target := follower.ID
	if follower.Role == conversation.RoleUser {
		target = preceding.ID
	}
	err = startExchange(res, func() (*transport.ExecutionHandle, error) {
		return env.Transport.Regenerate(ctx, target)
	})
	// the transport trims the log itself before it sends the request
	_, _, stillThere := env.State.Get(follower.ID)
	res.LocalApplied = !stillThere
	if err != nil {
		return res, err
	}
	return res, nil
}
