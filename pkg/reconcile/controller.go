package reconcile

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-go-golems/chatstate/pkg/events"
	"github.com/go-go-golems/chatstate/pkg/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Controller runs edit and reload operations on one conversation with a
// configured Strategy.
//
// Only one operation runs at a time; a second one started before the first
// returned fails with ErrReconcileInFlight. Operations are also rejected while
// the transport is loading. Structural errors are reported with a single
// notification before anything is mutated. Failures after the local edit are
// reported, counted in Stats and never rolled back.
type Controller struct {
	env      Env
	strategy Strategy
	sink     events.EventSink

	inFlight atomic.Bool

	mu    sync.Mutex
	stats Stats
}

type ControllerOption func(*Controller)

func WithSink(sink events.EventSink) ControllerOption {
	return func(c *Controller) {
		c.sink = sink
	}
}

func NewController(env Env, strategy Strategy, options ...ControllerOption) (*Controller, error) {
	if env.State == nil {
		return nil, errors.New("reconcile controller needs a conversation state")
	}
	if env.Transport == nil {
		return nil, errors.New("reconcile controller needs a transport")
	}
	if strategy == nil {
		strategy = &DelegatedStrategy{}
	}
	if env.ConversationID == "" {
		env.ConversationID = env.State.ID
	}
	ret := &Controller{
		env:      env,
		strategy: strategy,
		sink:     events.NewNullSink(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret, nil
}

func (c *Controller) Strategy() Strategy {
	return c.strategy
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// EditAndRegenerate replaces the user message messageID with newText and
// regenerates the conversation from there.
func (c *Controller) EditAndRegenerate(ctx context.Context, messageID string, newText string) (*Result, error) {
	return c.run(OperationEditAndRegenerate, messageID, func(env *Env) (*Result, error) {
		return c.strategy.EditAndRegenerate(ctx, env, messageID, newText)
	})
}

// ReloadFrom regenerates followerID by resending the user message before it.
func (c *Controller) ReloadFrom(ctx context.Context, followerID string) (*Result, error) {
	return c.run(OperationReloadFrom, followerID, func(env *Env) (*Result, error) {
		return c.strategy.ReloadFrom(ctx, env, followerID)
	})
}

func (c *Controller) run(op Operation, messageID string, fn func(env *Env) (*Result, error)) (*Result, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.report(op, messageID, nil, ErrReconcileInFlight)
		return nil, ErrReconcileInFlight
	}
	defer c.inFlight.Store(false)

	if c.env.Transport.IsLoading() {
		c.report(op, messageID, nil, transport.ErrBusy)
		return nil, transport.ErrBusy
	}

	c.mu.Lock()
	c.stats.Operations++
	c.mu.Unlock()

	res, err := fn(&c.env)
	if err != nil {
		c.report(op, messageID, res, err)
		return res, err
	}

	log.Debug().
		Str("conversation_id", c.env.ConversationID).
		Object("result", res).
		Msg("reconciliation operation issued")
	c.watch(res)
	return res, nil
}

// report logs a failed operation and publishes at most one notification for
// it. Exchange failures that went through the transport were notified there.
func (c *Controller) report(op Operation, messageID string, res *Result, err error) {
	ev := log.Error().Err(err).
		Str("conversation_id", c.env.ConversationID).
		Str("operation", string(op)).
		Str("message_id", messageID)
	if res != nil {
		ev = ev.Object("result", res)
	}

	switch {
	case res != nil && res.TruncationErr != nil:
		c.mu.Lock()
		c.stats.Divergences++
		c.mu.Unlock()
		ev.Msg("durable truncation failed, keeping local edit")
	case res != nil && res.TransportErr != nil:
		c.mu.Lock()
		c.stats.TransportFailures++
		c.mu.Unlock()
		ev.Msg("regenerate failed after local edit")
		if errors.Is(err, transport.ErrTransportFailure) {
			return
		}
	default:
		ev.Msg("reconciliation operation rejected")
	}

	events.PublishBlind(c.sink, events.NewErrorNotification(
		events.NewMetadata(c.env.ConversationID, messageID), notificationKind(err), err))
}

// watch counts a failure of the exchange once it completes.
func (c *Controller) watch(res *Result) {
	if res == nil || res.Handle == nil {
		return
	}
	h := res.Handle
	go func() {
		if _, err := h.Wait(); err != nil {
			c.mu.Lock()
			c.stats.TransportFailures++
			c.mu.Unlock()
		}
	}()
}
