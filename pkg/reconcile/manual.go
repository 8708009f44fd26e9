package reconcile

import (
	"context"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/go-go-golems/chatstate/pkg/transport"
	"github.com/rs/zerolog/log"
)

// ManualStrategy keeps truncation authority on the client. It splices the log
// locally, truncates the durable store at the pivot and replays the whole
// remaining log to the transport.
type ManualStrategy struct{}

var _ Strategy = (*ManualStrategy)(nil)

func (s *ManualStrategy) Name() string { return StrategyManual }

func (s *ManualStrategy) EditAndRegenerate(ctx context.Context, env *Env, messageID string, newText string) (*Result, error) {
	res := newResult(OperationEditAndRegenerate, s.Name(), messageID)
	target, err := editTarget(env, messageID)
	if err != nil {
		return res, err
	}
	res.Pivot = pivotOf(target)

	edited := conversation.NewUserTextMessage(newText,
		conversation.WithID(env.newID()),
		conversation.WithTime(env.now()))
	return s.replay(ctx, env, res, target.ID, edited)
}

func (s *ManualStrategy) ReloadFrom(ctx context.Context, env *Env, followerID string) (*Result, error) {
	res := newResult(OperationReloadFrom, s.Name(), followerID)
	follower, preceding, err := reloadAnchor(env, followerID)
	if err != nil {
		return res, err
	}
	res.Pivot = pivotOf(follower)

	rebuilt := conversation.NewUserTextMessage(preceding.Text(),
		conversation.WithID(env.newID()),
		conversation.WithTime(env.now()))
	return s.replay(ctx, env, res, preceding.ID, rebuilt)
}

// replay replaces the log from fromID on with msg, truncates the store and
// reloads. The regenerate exchange is only started once truncation succeeded.
func (s *ManualStrategy) replay(ctx context.Context, env *Env, res *Result, fromID string, msg *conversation.Message) (*Result, error) {
	if err := env.State.Apply(conversation.MutateReplaceFrom(fromID, msg)); err != nil {
		return res, err
	}
	res.LocalApplied = true
	res.MessageID = msg.ID

	log.Debug().
		Str("conversation_id", env.ConversationID).
		Str("message_id", msg.ID).
		Time("pivot", res.Pivot).
		Msg("truncating durable records")
	if err := env.truncate(ctx, res); err != nil {
		return res, err
	}

	if err := startExchange(res, func() (*transport.ExecutionHandle, error) {
		return env.Transport.Reload(ctx)
	}); err != nil {
		return res, err
	}
	return res, nil
}
