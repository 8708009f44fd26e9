package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/go-go-golems/chatstate/pkg/events"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
)

// Recorder persists transcript entries. store.Writer satisfies it.
type Recorder interface {
	AppendTranscript(ctx context.Context, conversationID string, msg *conversation.Message) error
}

// Adapter turns send and regenerate intents into exchanges with a Client and
// folds the responses into the conversation log.
//
// Status moves idle → submitted on a new exchange, submitted → streaming on
// the first delta and back to idle on completion, failure or Stop. Deltas of
// an exchange that is no longer active are dropped.
type Adapter struct {
	conversationID string
	state          *conversation.State
	client         Client

	sink      events.EventSink
	recorder  Recorder
	validator ToolValidator
	isNew     bool

	// logMu serialises log writes of the active exchange with Stop.
	logMu        sync.Mutex
	mu           sync.Mutex
	status       Status
	err          error
	active       *ExecutionHandle
	locationSent bool
}

type AdapterOption func(*Adapter)

func WithSink(sink events.EventSink) AdapterOption {
	return func(a *Adapter) {
		a.sink = sink
	}
}

func WithRecorder(recorder Recorder) AdapterOption {
	return func(a *Adapter) {
		a.recorder = recorder
	}
}

func WithToolValidator(validator ToolValidator) AdapterOption {
	return func(a *Adapter) {
		a.validator = validator
	}
}

// WithNewConversation marks the conversation as brand-new: the first
// successful exchange publishes its location once.
func WithNewConversation(isNew bool) AdapterOption {
	return func(a *Adapter) {
		a.isNew = isNew
	}
}

func NewAdapter(state *conversation.State, client Client, options ...AdapterOption) *Adapter {
	ret := &Adapter{
		conversationID: state.ID,
		state:          state,
		client:         client,
		sink:           events.NewNullSink(),
		status:         StatusIdle,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// IsLoading is true while an exchange is submitted or streaming.
func (a *Adapter) IsLoading() bool {
	return a.Status() != StatusIdle
}

// Err returns the error recorded by the last exchange, ErrStopped if it was
// stopped, nil if it succeeded.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Submit appends msg to the log, persists it and sends it with the
// submit-user-message trigger.
func (a *Adapter) Submit(ctx context.Context, msg *conversation.Message) (*ExecutionHandle, error) {
	if msg == nil || msg.Role != conversation.RoleUser {
		return nil, errors.New("submit requires a user message")
	}
	if a.IsLoading() {
		return nil, ErrBusy
	}
	if err := a.state.Apply(conversation.MutateAppendMessage(msg)); err != nil {
		return nil, err
	}
	a.record(ctx, msg)
	return a.start(ctx, NewSubmitRequest(a.conversationID, msg))
}

// Reload resends the whole log, whose last message must be a user message.
func (a *Adapter) Reload(ctx context.Context) (*ExecutionHandle, error) {
	if a.IsLoading() {
		return nil, ErrBusy
	}
	history := a.state.Messages()
	if len(history) == 0 || history[len(history)-1].Role != conversation.RoleUser {
		return nil, errors.New("reload requires the log to end with a user message")
	}
	a.record(ctx, history[len(history)-1])
	return a.start(ctx, NewReplayRequest(a.conversationID, history))
}

// Regenerate asks the server to regenerate everything causally after
// messageID. The local log is trimmed the way the server will trim: a user
// target is kept and sent along, an assistant target is dropped.
func (a *Adapter) Regenerate(ctx context.Context, messageID string) (*ExecutionHandle, error) {
	if a.IsLoading() {
		return nil, ErrBusy
	}
	target, _, ok := a.state.Get(messageID)
	if !ok {
		return nil, errors.Wrapf(conversation.ErrMessageNotFound, "message %q", messageID)
	}

	var req *Request
	switch target.Role {
	case conversation.RoleUser:
		if err := a.state.Apply(conversation.MutateTruncateAfter(messageID)); err != nil {
			return nil, err
		}
		a.record(ctx, target)
		req = NewRegenerateRequest(a.conversationID, messageID, target)
	default:
		if err := a.state.Apply(conversation.MutateTruncateBefore(messageID)); err != nil {
			return nil, err
		}
		req = NewRegenerateRequest(a.conversationID, messageID, nil)
	}
	return a.start(ctx, req)
}

// Stop abandons the active exchange. It is idempotent and a no-op when idle.
func (a *Adapter) Stop() {
	a.logMu.Lock()
	a.mu.Lock()
	h := a.active
	if h == nil {
		a.mu.Unlock()
		a.logMu.Unlock()
		return
	}
	a.active = nil
	a.err = ErrStopped
	prev := a.setStatusLocked(StatusIdle)
	a.mu.Unlock()
	a.logMu.Unlock()

	log.Debug().Str("conversation_id", a.conversationID).Str("exchange_id", h.ExchangeID).Msg("stopping exchange")
	h.markStopped()
	h.Cancel()
	a.publishStatus(prev, StatusIdle, nil)
}

func (a *Adapter) start(ctx context.Context, req *Request) (*ExecutionHandle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	a.mu.Lock()
	if a.status != StatusIdle {
		a.mu.Unlock()
		return nil, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	h := newExecutionHandle(a.conversationID, uuid.NewString(), req, cancel)
	a.active = h
	a.err = nil
	prev := a.setStatusLocked(StatusSubmitted)
	a.mu.Unlock()

	a.publishStatus(prev, StatusSubmitted, nil)
	log.Debug().
		Str("conversation_id", a.conversationID).
		Str("exchange_id", h.ExchangeID).
		Str("trigger", string(req.Trigger)).
		Str("message_id", req.MessageID).
		Msg("starting exchange")

	ch, err := a.client.Exchange(runCtx, req)
	if err != nil {
		err = asTransportError(err)
		a.finish(h, Outcome{}, err)
		return nil, err
	}

	go func() {
		out, err := a.consume(runCtx, h, ch)
		a.finish(h, out, err)
	}()
	return h, nil
}

func (a *Adapter) isActive(h *ExecutionHandle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active == h
}

// applyActive applies m only while h is the active exchange. Stop waits for
// an apply in progress, so nothing of a stopped exchange reaches the log.
func (a *Adapter) applyActive(h *ExecutionHandle, m conversation.Mutation) error {
	a.logMu.Lock()
	defer a.logMu.Unlock()
	if !a.isActive(h) {
		return ErrStopped
	}
	return a.state.Apply(m)
}

func (a *Adapter) consume(ctx context.Context, h *ExecutionHandle, ch <-chan Chunk) (Outcome, error) {
	var acc *accumulator
	for {
		var chunk Chunk
		var ok bool
		select {
		case <-ctx.Done():
			return a.outcome(acc), ctx.Err()
		case chunk, ok = <-ch:
		}
		if !ok {
			break
		}
		if !a.isActive(h) {
			return a.outcome(acc), ErrStopped
		}
		if chunk.Err != nil {
			return a.outcome(acc), asTransportError(chunk.Err)
		}
		d := chunk.Delta
		if d == nil {
			continue
		}
		if d.Type == DeltaTypeError {
			return a.outcome(acc), &TransportError{Reason: d.ErrorText}
		}

		if acc == nil {
			var err error
			acc, err = a.openAssistantMessage(h, d)
			if err != nil {
				return Outcome{}, err
			}
		}

		if err := acc.tryApply(d); err != nil {
			log.Warn().Err(err).Object("delta", *d).Str("conversation_id", a.conversationID).Msg("skipping malformed delta")
			continue
		}

		snapshot := acc.msg.Clone()
		if err := a.applyActive(h, conversation.MutateUpdateMessage(snapshot.ID, func(m *conversation.Message) error {
			*m = *snapshot
			return nil
		})); err != nil {
			return a.outcome(acc), err
		}
	}

	if acc == nil {
		return Outcome{}, &TransportError{Reason: "response ended without output"}
	}
	if !acc.finished {
		return a.outcome(acc), &TransportError{Reason: "stream ended before finish"}
	}
	return a.outcome(acc), nil
}

// openAssistantMessage creates the assistant message on the first delta and
// moves the exchange to streaming. A start delta naming a message already in
// the log continues that message.
func (a *Adapter) openAssistantMessage(h *ExecutionHandle, d *Delta) (*accumulator, error) {
	id := ""
	switch {
	case d.Type == DeltaTypeStart:
		id = d.MessageID
	case d.Type == DeltaTypeMessage && d.Message != nil:
		id = d.Message.ID
	}

	var msg *conversation.Message
	if id != "" {
		if existing, _, ok := a.state.Get(id); ok && existing.Role == conversation.RoleAssistant {
			msg = existing
		}
	}
	if msg == nil {
		var options []conversation.MessageOption
		if id != "" {
			options = append(options, conversation.WithID(id))
		}
		msg = conversation.NewMessage(conversation.RoleAssistant, nil, options...)
		if err := a.applyActive(h, conversation.MutateAppendMessage(msg)); err != nil {
			return nil, err
		}
	}

	a.mu.Lock()
	if a.active != h {
		a.mu.Unlock()
		return nil, ErrStopped
	}
	prev := a.setStatusLocked(StatusStreaming)
	a.mu.Unlock()
	a.publishStatus(prev, StatusStreaming, nil)

	return newAccumulator(msg, a.validator), nil
}

func (a *Adapter) outcome(acc *accumulator) Outcome {
	if acc == nil {
		return Outcome{}
	}
	return Outcome{Message: acc.msg.Clone()}
}

func (a *Adapter) finish(h *ExecutionHandle, out Outcome, err error) {
	a.mu.Lock()
	if a.active != h {
		// stopped or superseded, Stop already moved the status
		a.mu.Unlock()
		h.setResult(out, err)
		return
	}
	a.active = nil
	a.err = err
	prev := a.setStatusLocked(StatusIdle)
	sendLocation := err == nil && a.isNew && !a.locationSent
	if sendLocation {
		a.locationSent = true
	}
	a.mu.Unlock()

	a.publishStatus(prev, StatusIdle, err)

	if err != nil {
		log.Error().Err(err).
			Str("conversation_id", a.conversationID).
			Str("exchange_id", h.ExchangeID).
			Str("trigger", string(h.Request.Trigger)).
			Msg("exchange failed")
		events.PublishBlind(a.sink, events.NewErrorNotification(
			events.NewMetadata(a.conversationID, h.Request.MessageID), "transport_failure", err))
		h.setResult(out, err)
		return
	}

	if out.Message != nil {
		a.record(context.Background(), out.Message)
	}
	events.PublishBlind(a.sink, events.NewHistoryStaleEvent(events.NewMetadata(a.conversationID, "")))
	if sendLocation {
		events.PublishBlind(a.sink, events.NewLocationEvent(
			events.NewMetadata(a.conversationID, ""), fmt.Sprintf("/chat/%s", a.conversationID)))
	}
	log.Debug().Str("conversation_id", a.conversationID).Str("exchange_id", h.ExchangeID).Msg("exchange finished")
	h.setResult(out, nil)
}

func (a *Adapter) record(ctx context.Context, msg *conversation.Message) {
	if a.recorder == nil || msg == nil {
		return
	}
	if err := a.recorder.AppendTranscript(ctx, a.conversationID, msg); err != nil {
		log.Error().Err(err).Str("conversation_id", a.conversationID).Str("message_id", msg.ID).Msg("could not persist message")
		events.PublishBlind(a.sink, events.NewNotificationEvent(
			events.NewMetadata(a.conversationID, msg.ID), events.NotificationLevelWarning, "persist_failure", err.Error()))
	}
}

func (a *Adapter) setStatusLocked(s Status) Status {
	prev := a.status
	a.status = s
	return prev
}

func (a *Adapter) publishStatus(prev, next Status, err error) {
	if prev == next {
		return
	}
	log.Trace().Str("conversation_id", a.conversationID).Str("status", string(next)).Str("previous", string(prev)).Msg("status changed")
	events.PublishBlind(a.sink, events.NewStatusEvent(events.NewMetadata(a.conversationID, ""), string(prev), string(next), err))
}
