package chat

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/go-go-golems/chatstate/pkg/events"
	"github.com/go-go-golems/chatstate/pkg/reconcile"
	"github.com/go-go-golems/chatstate/pkg/sections"
	"github.com/go-go-golems/chatstate/pkg/store"
	"github.com/go-go-golems/chatstate/pkg/tools"
	"github.com/go-go-golems/chatstate/pkg/transport"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyMessage     = errors.New("message has neither text nor attachments")
	ErrToolCallNotFound = errors.New("tool call not found")
	ErrNoUploader       = errors.New("attachments given but no uploader configured")
)

// Session is the view-facing side of one conversation. It owns the
// conversation log and wires the transport adapter, the reconciliation
// controller, the durable store and the tool registry around it.
type Session struct {
	id    string
	isNew bool

	state      *conversation.State
	adapter    *transport.Adapter
	controller *reconcile.Controller

	store    store.TranscriptStore
	registry *tools.Registry
	uploader Uploader
	sink     events.EventSink
}

type options struct {
	snapshot    conversation.Conversation
	hasSnapshot bool
	store       store.TranscriptStore
	strategy    reconcile.Strategy
	registry    *tools.Registry
	uploader    Uploader
	sink        events.EventSink
}

type Option func(*options)

// WithSnapshot hydrates the log from msgs instead of loading it from the store.
func WithSnapshot(msgs conversation.Conversation) Option {
	return func(o *options) {
		o.snapshot = msgs
		o.hasSnapshot = true
	}
}

func WithStore(s store.TranscriptStore) Option {
	return func(o *options) {
		o.store = s
	}
}

func WithStrategy(s reconcile.Strategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}

func WithRegistry(r *tools.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

func WithUploader(u Uploader) Option {
	return func(o *options) {
		o.uploader = u
	}
}

func WithSink(sink events.EventSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// New opens the conversation id, or a new conversation if id is empty.
func New(ctx context.Context, id string, client transport.Client, opts ...Option) (*Session, error) {
	o := &options{sink: events.NewNullSink()}
	for _, opt := range opts {
		opt(o)
	}
	if client == nil {
		return nil, errors.New("chat session needs a transport client")
	}

	isNew := id == ""
	if isNew {
		id = uuid.NewString()
	}

	snapshot := o.snapshot
	if !o.hasSnapshot && !isNew && o.store != nil {
		loaded, err := o.store.LoadTranscript(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "could not load conversation %s", id)
		}
		snapshot = loaded
	}
	if len(snapshot) == 0 {
		isNew = true
	}

	ret := &Session{
		id:       id,
		isNew:    isNew,
		state:    conversation.NewState(id, snapshot),
		store:    o.store,
		registry: o.registry,
		uploader: o.uploader,
		sink:     o.sink,
	}
	ret.state.AddObserver(func(c conversation.Change) {
		events.PublishBlind(ret.sink, events.NewMessagesChangedEvent(
			events.NewMetadata(c.ConversationID, ""), c.Mutation, c.Version))
	})

	adapterOptions := []transport.AdapterOption{
		transport.WithSink(o.sink),
		transport.WithNewConversation(isNew),
		transport.WithToolValidator(o.registry),
	}
	if o.store != nil {
		adapterOptions = append(adapterOptions, transport.WithRecorder(o.store))
	}
	ret.adapter = transport.NewAdapter(ret.state, client, adapterOptions...)

	env := reconcile.Env{
		ConversationID: id,
		State:          ret.state,
		Transport:      ret.adapter,
	}
	if o.store != nil {
		env.Store = o.store
	}
	controller, err := reconcile.NewController(env, o.strategy, reconcile.WithSink(o.sink))
	if err != nil {
		return nil, err
	}
	ret.controller = controller

	log.Debug().
		Str("conversation_id", id).
		Bool("new", isNew).
		Int("messages", len(snapshot)).
		Str("strategy", controller.Strategy().Name()).
		Msg("opened chat session")
	return ret, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Messages() conversation.Conversation {
	return s.state.Messages()
}

// Sections returns the turns of the conversation, derived from the current log.
func (s *Session) Sections() []sections.Section {
	return sections.BuildSections(s.state.Messages())
}

func (s *Session) Status() transport.Status {
	return s.adapter.Status()
}

func (s *Session) IsLoading() bool {
	return s.adapter.IsLoading()
}

// Err returns the error of the last exchange.
func (s *Session) Err() error {
	return s.adapter.Err()
}

func (s *Session) Stats() reconcile.Stats {
	return s.controller.Stats()
}

func (s *Session) State() *conversation.State {
	return s.state
}

// Submit sends a new user message made of the uploaded attachments followed
// by text.
func (s *Session) Submit(ctx context.Context, text string, attachments []Attachment) (*transport.ExecutionHandle, error) {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}
	if s.adapter.IsLoading() {
		return nil, transport.ErrBusy
	}

	parts, err := s.upload(ctx, attachments)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", s.id).Msg("could not upload attachments")
		events.PublishBlind(s.sink, events.NewErrorNotification(events.NewMetadata(s.id, ""), "upload_failure", err))
		return nil, err
	}
	if text != "" {
		parts = append(parts, conversation.NewTextPart(text))
	}

	msg := conversation.NewMessage(conversation.RoleUser, parts)
	return s.adapter.Submit(ctx, msg)
}

// SelectSuggestedQuery submits a suggested query as if the user typed it.
func (s *Session) SelectSuggestedQuery(ctx context.Context, text string) (*transport.ExecutionHandle, error) {
	return s.Submit(ctx, text, nil)
}

func (s *Session) EditAndRegenerate(ctx context.Context, messageID string, newText string) (*reconcile.Result, error) {
	return s.controller.EditAndRegenerate(ctx, messageID, newText)
}

func (s *Session) ReloadFrom(ctx context.Context, messageID string) (*reconcile.Result, error) {
	return s.controller.ReloadFrom(ctx, messageID)
}

// Stop abandons the active exchange, if any.
func (s *Session) Stop() {
	s.adapter.Stop()
}

// ProvideToolResult completes the tool invocation toolCallID with output. The
// output is validated against the tool's registered schema first.
func (s *Session) ProvideToolResult(ctx context.Context, toolCallID string, output json.RawMessage) error {
	msg, idx, ok := s.state.FindToolInvocation(toolCallID)
	if !ok {
		return errors.Wrapf(ErrToolCallNotFound, "tool call %q", toolCallID)
	}
	toolName := msg.Parts[idx].ToolName

	if err := s.registry.ValidateOutput(toolName, output); err != nil {
		log.Warn().Err(err).
			Str("conversation_id", s.id).
			Str("tool_call_id", toolCallID).
			Str("tool", toolName).
			Msg("rejecting tool result")
		events.PublishBlind(s.sink, events.NewErrorNotification(events.NewMetadata(s.id, msg.ID), "invalid_tool_output", err))
		return err
	}

	if err := s.state.Apply(conversation.MutateUpdateMessage(msg.ID, func(m *conversation.Message) error {
		i := m.FindToolInvocation(toolCallID)
		if i < 0 {
			return errors.Wrapf(ErrToolCallNotFound, "tool call %q", toolCallID)
		}
		m.Parts[i].Output = append(json.RawMessage(nil), output...)
		m.Parts[i].ErrorText = ""
		m.Parts[i].SetToolState(conversation.ToolStateOutputAvailable)
		return nil
	})); err != nil {
		return err
	}

	if s.store == nil {
		return nil
	}
	updated, _, _ := s.state.Get(msg.ID)
	if err := s.store.AppendTranscript(ctx, s.id, updated); err != nil {
		log.Error().Err(err).Str("conversation_id", s.id).Str("message_id", msg.ID).Msg("could not persist tool result")
		events.PublishBlind(s.sink, events.NewNotificationEvent(
			events.NewMetadata(s.id, msg.ID), events.NotificationLevelWarning, "persist_failure", err.Error()))
	}
	return nil
}
